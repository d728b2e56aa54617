package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayMirror/app/models"
)

// ResolveCustomer returns the gateway customer for userID, creating it on
// first use. Two concurrent first calls may both create a customer upstream;
// the later one simply stays unused.
func (s *Service) ResolveCustomer(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}

	if id, ok, err := s.customers.GetCustomerID(ctx, userID); err != nil {
		log.Warnf("[Billing] Customer cache lookup failed for user %s: %v", userID, err)
	} else if ok && id != "" {
		return id, nil
	}

	var customerID string
	err := s.callGateway(ctx, "find_customer", func(ctx context.Context) error {
		var err error
		customerID, err = s.gateway.FindCustomer(ctx, userID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: find customer: %w", ErrUpstreamUnavailable, err)
	}

	if customerID == "" {
		err = s.callGateway(ctx, "create_customer", func(ctx context.Context) error {
			var err error
			customerID, err = s.gateway.CreateCustomer(ctx, userID)
			return err
		})
		if err != nil {
			return "", fmt.Errorf("%w: create customer: %w", ErrUpstreamUnavailable, err)
		}
		log.Infof("[Billing] Created gateway customer %s for user %s", customerID, userID)
	}

	if err := s.customers.SetCustomerID(ctx, userID, customerID); err != nil {
		log.Warnf("[Billing] Failed to cache customer for user %s: %v", userID, err)
	}
	return customerID, nil
}

// AttachPaymentMethod stores masked card details of a gateway payment method
// for the user. The user's first method becomes the default.
func (s *Service) AttachPaymentMethod(ctx context.Context, userID, externalMethodID string) (*models.PaymentMethod, error) {
	userID = strings.TrimSpace(userID)
	externalMethodID = strings.TrimSpace(externalMethodID)
	if userID == "" || externalMethodID == "" {
		return nil, fmt.Errorf("%w: user_id and payment_method_id are required", ErrInvalidInput)
	}

	var card *CardDetails
	err := s.callGateway(ctx, "retrieve_payment_method", func(ctx context.Context) error {
		var err error
		card, err = s.gateway.RetrievePaymentMethod(ctx, externalMethodID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: retrieve payment method: %w", ErrUpstreamUnavailable, err)
	}
	if card == nil {
		return nil, ErrUnsupportedPaymentMethod
	}

	method := &models.PaymentMethod{
		UserID:       userID,
		ExternalID:   externalMethodID,
		CardBrand:    card.Brand,
		CardLast4:    card.Last4,
		CardExpMonth: card.ExpMonth,
		CardExpYear:  card.ExpYear,
	}
	var created bool
	err = s.repo.Transaction(ctx, func(tx Repository) error {
		existing, err := tx.ListPaymentMethods(ctx, userID)
		if err != nil {
			return err
		}
		method.IsDefault = len(existing) == 0

		created, err = tx.CreatePaymentMethodIfNotExists(ctx, method)
		if err != nil {
			return err
		}
		if method.UserID != userID {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		log.Infof("[Billing] Attached payment method %s (%s) for user %s", method.ExternalID, method.Label(), userID)
	}
	return method, nil
}

func (s *Service) ListPaymentMethods(ctx context.Context, userID string) ([]models.PaymentMethod, error) {
	methods, err := s.repo.ListPaymentMethods(ctx, userID)
	if err != nil {
		return nil, err
	}
	if methods == nil {
		methods = []models.PaymentMethod{}
	}
	return methods, nil
}

// DefaultPaymentMethod returns ErrNotFound when the user has no default.
func (s *Service) DefaultPaymentMethod(ctx context.Context, userID string) (*models.PaymentMethod, error) {
	methods, err := s.repo.ListPaymentMethods(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range methods {
		if methods[i].IsDefault {
			return &methods[i], nil
		}
	}
	return nil, ErrNotFound
}

func (s *Service) SetDefaultPaymentMethod(ctx context.Context, userID, methodID string) error {
	return s.repo.Transaction(ctx, func(tx Repository) error {
		ok, err := tx.SetDefaultPaymentMethod(ctx, userID, methodID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		return nil
	})
}
