package billingtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ManuelReschke/PayMirror/internal/pkg/billing"
)

// Gateway records calls and returns canned answers. Error fields are read on
// every call and may be changed between calls.
type Gateway struct {
	mu sync.Mutex

	CreateAttemptErr  error
	FindCustomerErr   error
	CreateCustomerErr error
	GetAttemptErr     error
	PaymentMethodErr  error

	// Customers maps user ids to customer ids known upstream.
	Customers map[string]string
	// Cards maps payment method ids to card details; a missing id is a
	// method without a card.
	Cards map[string]*billing.CardDetails
	// Created holds the params of every successful CreateAttempt.
	Created          []billing.AttemptParams
	CustomersCreated int

	attemptSeq int
	statuses   map[string]string
	declines   map[string]string
}

func NewGateway() *Gateway {
	return &Gateway{
		Customers: map[string]string{},
		Cards:     map[string]*billing.CardDetails{},
		statuses:  map[string]string{},
		declines:  map[string]string{},
	}
}

func (g *Gateway) CreateAttempt(ctx context.Context, params billing.AttemptParams) (*billing.Attempt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CreateAttemptErr != nil {
		return nil, g.CreateAttemptErr
	}
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("gateway call without deadline")
	}
	g.attemptSeq++
	id := fmt.Sprintf("pi_test_%d", g.attemptSeq)
	g.Created = append(g.Created, params)
	g.statuses[id] = "requires_payment_method"
	return &billing.Attempt{ExternalID: id, ClientSecret: id + "_secret", Status: "requires_payment_method"}, nil
}

func (g *Gateway) GetAttempt(ctx context.Context, externalID string) (*billing.Attempt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.GetAttemptErr != nil {
		return nil, g.GetAttemptErr
	}
	status, ok := g.statuses[externalID]
	if !ok {
		return nil, billing.ErrNotFound
	}
	return &billing.Attempt{ExternalID: externalID, Status: status, LastPaymentError: g.declines[externalID]}, nil
}

func (g *Gateway) FindCustomer(ctx context.Context, userID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FindCustomerErr != nil {
		return "", g.FindCustomerErr
	}
	return g.Customers[userID], nil
}

func (g *Gateway) CreateCustomer(ctx context.Context, userID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CreateCustomerErr != nil {
		return "", g.CreateCustomerErr
	}
	g.CustomersCreated++
	id := fmt.Sprintf("cus_%d", g.CustomersCreated)
	g.Customers[userID] = id
	return id, nil
}

func (g *Gateway) RetrievePaymentMethod(ctx context.Context, externalMethodID string) (*billing.CardDetails, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.PaymentMethodErr != nil {
		return nil, g.PaymentMethodErr
	}
	return g.Cards[externalMethodID], nil
}

// SetStatus sets the upstream status GetAttempt reports for externalID.
func (g *Gateway) SetStatus(externalID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[externalID] = status
}

// SetPaymentError marks externalID as declined the way Stripe reports it:
// back in requires_payment_method with a last payment error.
func (g *Gateway) SetPaymentError(externalID, message string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[externalID] = "requires_payment_method"
	g.declines[externalID] = message
}

func (g *Gateway) AttemptParams() []billing.AttemptParams {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]billing.AttemptParams(nil), g.Created...)
}
