package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayMirror/app/models"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	defaultHistoryPerPage = 10
	maxHistoryPerPage     = 100
)

// Service reconciles gateway payment state with the local store and drives
// subscription activation. It keeps no state between calls.
type Service struct {
	repo           Repository
	gateway        Gateway
	customers      CustomerCache
	publisher      EventPublisher
	gatewayTimeout time.Duration
	now            func() time.Time
}

type Option func(*Service)

func WithCustomerCache(cache CustomerCache) Option {
	return func(s *Service) {
		if cache != nil {
			s.customers = cache
		}
	}
}

func WithPublisher(publisher EventPublisher) Option {
	return func(s *Service) {
		if publisher != nil {
			s.publisher = publisher
		}
	}
}

func WithGatewayTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.gatewayTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a billing service from an injected repository and gateway.
func NewService(repo Repository, gateway Gateway, opts ...Option) *Service {
	s := &Service{
		repo:           repo,
		gateway:        gateway,
		customers:      noopCustomerCache{},
		publisher:      noopPublisher{},
		gatewayTimeout: defaultGatewayTimeout,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, gateway Gateway, opts ...Option) *Service {
	return NewService(NewRepository(db), gateway, opts...)
}

// Initiate creates the attempt upstream and then stores it locally as pending.
// Nothing is stored when the gateway call fails.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (*models.PaymentIntent, error) {
	userID := strings.TrimSpace(in.UserID)
	subscriptionID := strings.TrimSpace(in.SubscriptionID)
	if userID == "" || subscriptionID == "" {
		return nil, fmt.Errorf("%w: user_id and subscription_id are required", ErrInvalidInput)
	}
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	currency := normalizeCurrency(in.Currency)

	customerID, err := s.ResolveCustomer(ctx, userID)
	if err != nil {
		return nil, err
	}

	localID := uuid.NewString()
	var attempt *Attempt
	err = s.callGateway(ctx, "create_attempt", func(ctx context.Context) error {
		var err error
		attempt, err = s.gateway.CreateAttempt(ctx, AttemptParams{
			Amount:         in.Amount,
			Currency:       currency,
			CustomerID:     customerID,
			IdempotencyKey: localID,
			Metadata: map[string]string{
				"user_id":           userID,
				"subscription_id":   subscriptionID,
				"payment_intent_id": localID,
			},
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create attempt: %w", ErrUpstreamUnavailable, err)
	}
	if attempt == nil || attempt.ExternalID == "" {
		return nil, fmt.Errorf("%w: gateway returned no attempt id", ErrUpstreamUnavailable)
	}

	intent := &models.PaymentIntent{
		ID:             localID,
		ExternalID:     attempt.ExternalID,
		UserID:         userID,
		SubscriptionID: subscriptionID,
		Amount:         in.Amount,
		Currency:       currency,
		Status:         models.PaymentStatusPending,
		ClientSecret:   attempt.ClientSecret,
	}
	if err := intent.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := s.repo.CreatePaymentIntent(ctx, intent); err != nil {
		return nil, err
	}

	log.Infof("[Billing] Created payment intent %s (%s %s) for user %s", intent.ExternalID, intent.Amount.StringFixed(2), currency, userID)
	return intent, nil
}

// CreatePaymentForPlan prices the plan for the billing interval and initiates a payment.
func (s *Service) CreatePaymentForPlan(ctx context.Context, userID, planID, interval string) (*models.PaymentIntent, error) {
	plan, err := s.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, fmt.Errorf("%w: %s is not offered", ErrPlanNotFound, planID)
	}

	return s.Initiate(ctx, InitiateInput{
		UserID:         userID,
		SubscriptionID: plan.ID,
		Amount:         plan.PriceFor(normalizeInterval(interval)),
		Currency:       plan.Currency,
	})
}

// GetPayment returns the user's attempt with the given gateway id.
func (s *Service) GetPayment(ctx context.Context, userID, externalID string) (*models.PaymentIntent, error) {
	intent, err := s.repo.GetPaymentIntentByExternalID(ctx, strings.TrimSpace(externalID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if intent.UserID != userID {
		return nil, ErrNotFound
	}
	return intent, nil
}

// ListPaymentHistory returns one page of the user's ledger, newest first.
func (s *Service) ListPaymentHistory(ctx context.Context, userID string, page, perPage int) (*HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultHistoryPerPage
	}
	if perPage > maxHistoryPerPage {
		perPage = maxHistoryPerPage
	}

	entries, total, err := s.repo.ListPaymentHistory(ctx, userID, (page-1)*perPage, perPage)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.PaymentHistory{}
	}
	return &HistoryPage{Entries: entries, Page: page, PerPage: perPage, Total: total}, nil
}

func (s *Service) callGateway(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	timer := prometheus.NewTimer(gatewayRequestDuration.WithLabelValues(operation))
	defer timer.ObserveDuration()

	return fn(ctx)
}

func (s *Service) publishOutcome(ctx context.Context, intent *models.PaymentIntent) {
	event := PaymentOutcomeEvent{
		EventType:       "payment." + intent.Status,
		PaymentIntentID: intent.ID,
		ExternalID:      intent.ExternalID,
		UserID:          intent.UserID,
		SubscriptionID:  intent.SubscriptionID,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
		Status:          intent.Status,
		OccurredAt:      intent.UpdatedAt,
	}
	if err := s.publisher.PublishPaymentOutcome(ctx, event); err != nil {
		log.Warnf("[Billing] Failed to publish %s for %s: %v", event.EventType, intent.ExternalID, err)
	}
}
