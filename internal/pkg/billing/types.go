package billing

import (
	"time"

	"github.com/ManuelReschke/PayMirror/app/models"
	"github.com/shopspring/decimal"
)

// Outcome is a terminal result reported by the gateway for one attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = models.PaymentStatusSucceeded
	OutcomeFailed    Outcome = models.PaymentStatusFailed
)

func (o Outcome) Valid() bool {
	return o == OutcomeSucceeded || o == OutcomeFailed
}

// EventKind tags the decoded webhook event.
type EventKind int

const (
	EventUnhandled EventKind = iota
	EventSucceeded
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventSucceeded:
		return "succeeded"
	case EventFailed:
		return "failed"
	default:
		return "unhandled"
	}
}

// Event is a verified gateway notification. For EventSucceeded and
// EventFailed ExternalID names the payment attempt; for EventUnhandled only
// Type is meaningful.
type Event struct {
	ID         string
	Kind       EventKind
	Type       string
	ExternalID string
	CreatedAt  time.Time
}

// InitiateInput describes a new payment attempt.
type InitiateInput struct {
	UserID         string
	SubscriptionID string
	Amount         decimal.Decimal
	Currency       string
}

// AttemptParams is what the gateway needs to create an attempt upstream.
type AttemptParams struct {
	Amount         decimal.Decimal
	Currency       string
	CustomerID     string
	IdempotencyKey string
	Metadata       map[string]string
}

// Attempt is the gateway's view of a payment attempt.
type Attempt struct {
	ExternalID   string
	ClientSecret string
	Status       string

	// LastPaymentError is the decline message of the latest confirmation.
	LastPaymentError string
}

// CardDetails is masked card metadata of a gateway payment method.
type CardDetails struct {
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
}

// PaymentOutcomeEvent is published after a committed terminal transition.
type PaymentOutcomeEvent struct {
	EventType       string          `json:"event_type"`
	PaymentIntentID string          `json:"payment_intent_id"`
	ExternalID      string          `json:"stripe_payment_intent_id"`
	UserID          string          `json:"user_id"`
	SubscriptionID  string          `json:"subscription_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// HistoryPage is one page of a user's payment ledger.
type HistoryPage struct {
	Entries []models.PaymentHistory `json:"payments"`
	Page    int                     `json:"page"`
	PerPage int                     `json:"per_page"`
	Total   int64                   `json:"total"`
}
