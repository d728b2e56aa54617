// Package billingtest provides in-memory collaborators for testing code that
// drives a billing.Service.
package billingtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayMirror/app/models"
	"github.com/ManuelReschke/PayMirror/internal/pkg/billing"
)

type state struct {
	plans         map[string]models.SubscriptionPlan
	intents       map[string]models.PaymentIntent // keyed by external id
	history       []models.PaymentHistory
	subscriptions map[string]models.UserSubscription
	methods       map[string]models.PaymentMethod
}

func (s *state) clone() *state {
	c := &state{
		plans:         make(map[string]models.SubscriptionPlan, len(s.plans)),
		intents:       make(map[string]models.PaymentIntent, len(s.intents)),
		history:       append([]models.PaymentHistory(nil), s.history...),
		subscriptions: make(map[string]models.UserSubscription, len(s.subscriptions)),
		methods:       make(map[string]models.PaymentMethod, len(s.methods)),
	}
	for k, v := range s.plans {
		c.plans[k] = v
	}
	for k, v := range s.intents {
		c.intents[k] = v
	}
	for k, v := range s.subscriptions {
		c.subscriptions[k] = v
	}
	for k, v := range s.methods {
		c.methods[k] = v
	}
	return c
}

type shared struct {
	mu    sync.Mutex
	state *state

	// failures keyed by method name
	failures map[string]error
	// lostTransitionTo makes the next TransitionPaymentIntent lose against a
	// concurrent writer that stores this status.
	lostTransitionTo string
	// concurrent is committed after the current transaction ends.
	concurrent func(*state)
}

// MemRepository is a billing.Repository with serializable transactions and
// snapshot rollback. The zero value is not usable; call NewMemRepository.
type MemRepository struct {
	shared *shared
	inTx   bool
}

func NewMemRepository() *MemRepository {
	return &MemRepository{shared: &shared{
		state: &state{
			plans:         map[string]models.SubscriptionPlan{},
			intents:       map[string]models.PaymentIntent{},
			subscriptions: map[string]models.UserSubscription{},
			methods:       map[string]models.PaymentMethod{},
		},
		failures: map[string]error{},
	}}
}

func (r *MemRepository) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.shared.mu.Lock()
	return r.shared.mu.Unlock
}

func (r *MemRepository) fail(name string) error {
	return r.shared.failures[name]
}

// FailOn makes the named method return err until called again with nil.
// Supported: Transaction, CreatePaymentIntent, GetPaymentIntentByExternalID,
// AppendPaymentHistory, SaveUserSubscription, ListPaymentHistory.
func (r *MemRepository) FailOn(method string, err error) {
	r.shared.mu.Lock()
	defer r.shared.mu.Unlock()
	if err == nil {
		delete(r.shared.failures, method)
		return
	}
	r.shared.failures[method] = err
}

// SimulateLostTransition makes the next pending-only update report no match,
// as if another delivery had just committed status.
func (r *MemRepository) SimulateLostTransition(status string) {
	r.shared.mu.Lock()
	defer r.shared.mu.Unlock()
	r.shared.lostTransitionTo = status
}

func (r *MemRepository) Transaction(ctx context.Context, fn func(tx billing.Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	r.shared.mu.Lock()
	defer r.shared.mu.Unlock()

	if err := r.fail("Transaction"); err != nil {
		return err
	}
	snapshot := r.shared.state.clone()
	err := fn(&MemRepository{shared: r.shared, inTx: true})
	if err != nil {
		r.shared.state = snapshot
	}
	if r.shared.concurrent != nil {
		r.shared.concurrent(r.shared.state)
		r.shared.concurrent = nil
	}
	return err
}

func (r *MemRepository) FindPlan(ctx context.Context, planID string) (*models.SubscriptionPlan, error) {
	defer r.lock()()
	p, ok := r.shared.state.plans[planID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &p, nil
}

func (r *MemRepository) ListActivePlans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	defer r.lock()()
	var out []models.SubscriptionPlan
	for _, p := range r.shared.state.plans {
		if p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceMonthly.LessThan(out[j].PriceMonthly) })
	return out, nil
}

func (r *MemRepository) CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error {
	defer r.lock()()
	if err := r.fail("CreatePaymentIntent"); err != nil {
		return err
	}
	if _, ok := r.shared.state.intents[intent.ExternalID]; ok {
		return gorm.ErrDuplicatedKey
	}
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	intent.CreatedAt, intent.UpdatedAt = now, now
	r.shared.state.intents[intent.ExternalID] = *intent
	return nil
}

func (r *MemRepository) GetPaymentIntentByExternalID(ctx context.Context, externalID string) (*models.PaymentIntent, error) {
	defer r.lock()()
	if err := r.fail("GetPaymentIntentByExternalID"); err != nil {
		return nil, err
	}
	p, ok := r.shared.state.intents[externalID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &p, nil
}

func (r *MemRepository) TransitionPaymentIntent(ctx context.Context, externalID, status string, at time.Time) (bool, error) {
	defer r.lock()()
	p, ok := r.shared.state.intents[externalID]
	if !ok {
		return false, nil
	}
	if to := r.shared.lostTransitionTo; to != "" {
		r.shared.lostTransitionTo = ""
		r.shared.concurrent = func(s *state) {
			winner := s.intents[externalID]
			winner.Status = to
			s.intents[externalID] = winner
		}
		return false, nil
	}
	if p.Status != models.PaymentStatusPending {
		return false, nil
	}
	p.Status = status
	p.UpdatedAt = at
	r.shared.state.intents[externalID] = p
	return true, nil
}

func (r *MemRepository) TouchPaymentIntent(ctx context.Context, externalID string, at time.Time) error {
	defer r.lock()()
	p, ok := r.shared.state.intents[externalID]
	if !ok {
		return nil
	}
	p.UpdatedAt = at
	r.shared.state.intents[externalID] = p
	return nil
}

func (r *MemRepository) ListStalePendingIntents(ctx context.Context, updatedBefore, createdAfter time.Time, limit int) ([]models.PaymentIntent, error) {
	defer r.lock()()
	var out []models.PaymentIntent
	for _, p := range r.shared.state.intents {
		if p.Status == models.PaymentStatusPending && p.UpdatedAt.Before(updatedBefore) && p.CreatedAt.After(createdAfter) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemRepository) AppendPaymentHistory(ctx context.Context, entry *models.PaymentHistory) error {
	defer r.lock()()
	if err := r.fail("AppendPaymentHistory"); err != nil {
		return err
	}
	for _, h := range r.shared.state.history {
		if h.PaymentIntentID == entry.PaymentIntentID && h.Status == entry.Status {
			return billing.ErrDuplicateEntry
		}
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = time.Now().UTC()
	r.shared.state.history = append(r.shared.state.history, *entry)
	return nil
}

func (r *MemRepository) ListPaymentHistory(ctx context.Context, userID string, offset, limit int) ([]models.PaymentHistory, int64, error) {
	defer r.lock()()
	if err := r.fail("ListPaymentHistory"); err != nil {
		return nil, 0, err
	}
	var all []models.PaymentHistory
	for i := len(r.shared.state.history) - 1; i >= 0; i-- {
		if h := r.shared.state.history[i]; h.UserID == userID {
			all = append(all, h)
		}
	}
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *MemRepository) GetActiveUserSubscription(ctx context.Context, userID string) (*models.UserSubscription, error) {
	defer r.lock()()
	for _, s := range r.shared.state.subscriptions {
		if s.UserID == userID && s.IsActive {
			return &s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *MemRepository) FindPendingUserSubscription(ctx context.Context, userID, planID string) (*models.UserSubscription, error) {
	defer r.lock()()
	var found *models.UserSubscription
	for _, s := range r.shared.state.subscriptions {
		s := s
		if s.UserID == userID && s.SubscriptionID == planID && !s.IsActive && s.EndsAt == nil &&
			s.PaymentStatus == models.PaymentStatusPending {
			if found == nil || s.CreatedAt.After(found.CreatedAt) {
				found = &s
			}
		}
	}
	if found == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return found, nil
}

func (r *MemRepository) CloseActiveUserSubscriptions(ctx context.Context, userID string, at time.Time, paymentStatus string) (int64, error) {
	defer r.lock()()
	var n int64
	for id, s := range r.shared.state.subscriptions {
		if s.UserID == userID && s.IsActive {
			s.Close(at, paymentStatus)
			r.shared.state.subscriptions[id] = s
			n++
		}
	}
	return n, nil
}

func (r *MemRepository) SaveUserSubscription(ctx context.Context, sub *models.UserSubscription) error {
	defer r.lock()()
	if err := r.fail("SaveUserSubscription"); err != nil {
		return err
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
		sub.CreatedAt = time.Now().UTC()
	}
	if sub.ActiveUserID != nil {
		for id, s := range r.shared.state.subscriptions {
			if id != sub.ID && s.ActiveUserID != nil && *s.ActiveUserID == *sub.ActiveUserID {
				return fmt.Errorf("unique constraint ux_user_subscriptions_active_user violated for %s", *sub.ActiveUserID)
			}
		}
	}
	r.shared.state.subscriptions[sub.ID] = *sub
	return nil
}

func (r *MemRepository) CreatePaymentMethodIfNotExists(ctx context.Context, method *models.PaymentMethod) (bool, error) {
	defer r.lock()()
	for _, m := range r.shared.state.methods {
		if m.ExternalID == method.ExternalID {
			*method = m
			return false, nil
		}
	}
	if method.ID == "" {
		method.ID = uuid.NewString()
	}
	method.CreatedAt = time.Now().UTC().Add(time.Duration(len(r.shared.state.methods)) * time.Millisecond)
	r.shared.state.methods[method.ID] = *method
	return true, nil
}

func (r *MemRepository) ListPaymentMethods(ctx context.Context, userID string) ([]models.PaymentMethod, error) {
	defer r.lock()()
	var out []models.PaymentMethod
	for _, m := range r.shared.state.methods {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemRepository) SetDefaultPaymentMethod(ctx context.Context, userID, methodID string) (bool, error) {
	defer r.lock()()
	target, ok := r.shared.state.methods[methodID]
	for id, m := range r.shared.state.methods {
		if m.UserID == userID {
			m.IsDefault = false
			r.shared.state.methods[id] = m
		}
	}
	if !ok || target.UserID != userID {
		return false, nil
	}
	target.IsDefault = true
	r.shared.state.methods[methodID] = target
	return true, nil
}

// AddPlan stores an active plan priced monthly; the yearly price is ten months.
func (r *MemRepository) AddPlan(name, monthly string) models.SubscriptionPlan {
	r.shared.mu.Lock()
	defer r.shared.mu.Unlock()
	p := models.SubscriptionPlan{
		ID:           uuid.NewString(),
		Name:         name,
		Tier:         models.PlanTierPro,
		PriceMonthly: decimal.RequireFromString(monthly),
		PriceYearly:  decimal.RequireFromString(monthly).Mul(decimal.NewFromInt(10)),
		Currency:     "usd",
		IsActive:     true,
	}
	r.shared.state.plans[p.ID] = p
	return p
}

func (r *MemRepository) SetPlanActive(id string, active bool) {
	r.shared.mu.Lock()
	defer r.shared.mu.Unlock()
	p := r.shared.state.plans[id]
	p.IsActive = active
	r.shared.state.plans[id] = p
}

// SetPlanFeatures stores raw JSON as the plan's features column.
func (r *MemRepository) SetPlanFeatures(id, raw string) {
	r.shared.mu.Lock()
	defer r.shared.mu.Unlock()
	p := r.shared.state.plans[id]
	p.Features = datatypes.JSON(raw)
	r.shared.state.plans[id] = p
}

func (r *MemRepository) DeletePlan(id string) {
	r.shared.mu.Lock()
	defer r.shared.mu.Unlock()
	delete(r.shared.state.plans, id)
}

func (r *MemRepository) Intent(externalID string) models.PaymentIntent {
	r.shared.mu.Lock()
	defer r.shared.mu.Unlock()
	return r.shared.state.intents[externalID]
}

func (r *MemRepository) IntentCount() int {
	r.shared.mu.Lock()
	defer r.shared.mu.Unlock()
	return len(r.shared.state.intents)
}

func (r *MemRepository) Ledger() []models.PaymentHistory {
	r.shared.mu.Lock()
	defer r.shared.mu.Unlock()
	return append([]models.PaymentHistory(nil), r.shared.state.history...)
}

func (r *MemRepository) ActiveSubscriptions(userID string) []models.UserSubscription {
	r.shared.mu.Lock()
	defer r.shared.mu.Unlock()
	var out []models.UserSubscription
	for _, s := range r.shared.state.subscriptions {
		if s.UserID == userID && s.IsActive {
			out = append(out, s)
		}
	}
	return out
}

func (r *MemRepository) SubscriptionsFor(userID string) []models.UserSubscription {
	r.shared.mu.Lock()
	defer r.shared.mu.Unlock()
	var out []models.UserSubscription
	for _, s := range r.shared.state.subscriptions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out
}
