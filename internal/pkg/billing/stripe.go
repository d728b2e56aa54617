package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/customer"
	"github.com/stripe/stripe-go/v83/paymentintent"
	"github.com/stripe/stripe-go/v83/paymentmethod"

	"github.com/ManuelReschke/PayMirror/internal/pkg/env"
)

const stripeUserIDMetadataKey = "user_id"

// StripeClient implements Gateway on top of stripe-go. It keeps its own
// backend and key instead of the package-level stripe.Key.
type StripeClient struct {
	paymentIntents paymentintent.Client
	customers      customer.Client
	paymentMethods paymentmethod.Client
}

func NewStripeClient(secretKey string, backend stripe.Backend) *StripeClient {
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	return &StripeClient{
		paymentIntents: paymentintent.Client{B: backend, Key: secretKey},
		customers:      customer.Client{B: backend, Key: secretKey},
		paymentMethods: paymentmethod.Client{B: backend, Key: secretKey},
	}
}

func NewStripeClientFromEnv() *StripeClient {
	return NewStripeClient(strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")), nil)
}

func (c *StripeClient) CreateAttempt(ctx context.Context, in AttemptParams) (*Attempt, error) {
	params := &stripe.PaymentIntentParams{
		Amount:           stripe.Int64(toMinorUnits(in.Amount, in.Currency)),
		Currency:         stripe.String(normalizeCurrency(in.Currency)),
		SetupFutureUsage: stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession)),
	}
	if in.CustomerID != "" {
		params.Customer = stripe.String(in.CustomerID)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}
	params.Context = ctx

	pi, err := c.paymentIntents.New(params)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return &Attempt{
		ExternalID:   pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
	}, nil
}

func (c *StripeClient) GetAttempt(ctx context.Context, externalID string) (*Attempt, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := c.paymentIntents.Get(externalID, params)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	attempt := &Attempt{
		ExternalID:   pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
	}
	if pe := pi.LastPaymentError; pe != nil {
		attempt.LastPaymentError = pe.Msg
		if attempt.LastPaymentError == "" {
			attempt.LastPaymentError = string(pe.Code)
		}
		if attempt.LastPaymentError == "" {
			attempt.LastPaymentError = "payment_failed"
		}
	}
	return attempt, nil
}

func (c *StripeClient) FindCustomer(ctx context.Context, userID string) (string, error) {
	params := &stripe.CustomerSearchParams{}
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", stripeUserIDMetadataKey, escapeSearchValue(userID))
	params.Limit = stripe.Int64(1)
	params.Context = ctx

	iter := c.customers.Search(params)
	if iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", wrapStripeError(err)
	}
	return "", nil
}

func (c *StripeClient) CreateCustomer(ctx context.Context, userID string) (string, error) {
	params := &stripe.CustomerParams{}
	params.AddMetadata(stripeUserIDMetadataKey, userID)
	params.Context = ctx

	cust, err := c.customers.New(params)
	if err != nil {
		return "", wrapStripeError(err)
	}
	return cust.ID, nil
}

func (c *StripeClient) RetrievePaymentMethod(ctx context.Context, externalMethodID string) (*CardDetails, error) {
	params := &stripe.PaymentMethodParams{}
	params.Context = ctx

	pm, err := c.paymentMethods.Get(externalMethodID, params)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	if pm.Card == nil {
		return nil, nil
	}
	return &CardDetails{
		Brand:    string(pm.Card.Brand),
		Last4:    pm.Card.Last4,
		ExpMonth: int(pm.Card.ExpMonth),
		ExpYear:  int(pm.Card.ExpYear),
	}, nil
}

func escapeSearchValue(v string) string {
	return strings.ReplaceAll(v, "'", "\\'")
}

func wrapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return fmt.Errorf("%w: %s", ErrNotFound, stripeErr.Msg)
		}
		return fmt.Errorf("stripe %s (status %d): %s", stripeErr.Type, stripeErr.HTTPStatusCode, stripeErr.Msg)
	}
	return fmt.Errorf("stripe: %w", err)
}
