package billing

import "context"

// Gateway is the narrow view of the external payment provider.
type Gateway interface {
	CreateAttempt(ctx context.Context, params AttemptParams) (*Attempt, error)
	GetAttempt(ctx context.Context, externalID string) (*Attempt, error)
	// FindCustomer returns "" when no customer carries the user id.
	FindCustomer(ctx context.Context, userID string) (string, error)
	CreateCustomer(ctx context.Context, userID string) (string, error)
	RetrievePaymentMethod(ctx context.Context, externalMethodID string) (*CardDetails, error)
}

// CustomerCache remembers user -> gateway customer ids between requests.
type CustomerCache interface {
	GetCustomerID(ctx context.Context, userID string) (string, bool, error)
	SetCustomerID(ctx context.Context, userID, customerID string) error
}

// EventPublisher receives committed payment outcomes.
type EventPublisher interface {
	PublishPaymentOutcome(ctx context.Context, event PaymentOutcomeEvent) error
}

type noopCustomerCache struct{}

func (noopCustomerCache) GetCustomerID(context.Context, string) (string, bool, error) {
	return "", false, nil
}

func (noopCustomerCache) SetCustomerID(context.Context, string, string) error { return nil }

type noopPublisher struct{}

func (noopPublisher) PublishPaymentOutcome(context.Context, PaymentOutcomeEvent) error { return nil }
