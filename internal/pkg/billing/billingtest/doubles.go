package billingtest

import (
	"context"
	"sync"
	"time"

	"github.com/ManuelReschke/PayMirror/internal/pkg/billing"
)

// CustomerCache is a map backed billing.CustomerCache.
type CustomerCache struct {
	mu  sync.Mutex
	ids map[string]string
}

func NewCustomerCache() *CustomerCache {
	return &CustomerCache{ids: map[string]string{}}
}

func (c *CustomerCache) GetCustomerID(ctx context.Context, userID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.ids[userID]
	return id, ok, nil
}

func (c *CustomerCache) SetCustomerID(ctx context.Context, userID, customerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[userID] = customerID
	return nil
}

func (c *CustomerCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

// Publisher records published outcome events and returns Err.
type Publisher struct {
	mu     sync.Mutex
	events []billing.PaymentOutcomeEvent
	Err    error
}

func (p *Publisher) PublishPaymentOutcome(ctx context.Context, event billing.PaymentOutcomeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.Err
}

func (p *Publisher) Published() []billing.PaymentOutcomeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]billing.PaymentOutcomeEvent(nil), p.events...)
}

// Verifier returns Event and Err for every payload.
type Verifier struct {
	Event billing.Event
	Err   error
}

func (v *Verifier) VerifyAndDecode(payload []byte, signatureHeader string) (billing.Event, error) {
	return v.Event, v.Err
}

// Env bundles a service with its in-memory collaborators.
type Env struct {
	Repo      *MemRepository
	Gateway   *Gateway
	Cache     *CustomerCache
	Publisher *Publisher
	Service   *billing.Service
}

// NewEnv builds a service over fresh doubles. Extra options are applied after
// the defaults.
func NewEnv(opts ...billing.Option) *Env {
	e := &Env{
		Repo:      NewMemRepository(),
		Gateway:   NewGateway(),
		Cache:     NewCustomerCache(),
		Publisher: &Publisher{},
	}
	all := append([]billing.Option{
		billing.WithCustomerCache(e.Cache),
		billing.WithPublisher(e.Publisher),
		billing.WithGatewayTimeout(time.Second),
	}, opts...)
	e.Service = billing.NewService(e.Repo, e.Gateway, all...)
	return e
}
