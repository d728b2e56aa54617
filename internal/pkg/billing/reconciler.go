package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v83"

	"github.com/ManuelReschke/PayMirror/app/models"
)

const (
	defaultReconcileStaleAfter = 15 * time.Minute
	defaultReconcileBatch      = 50
	defaultReconcileMaxAge     = 72 * time.Hour
)

// Reconciler polls the gateway for attempts whose webhook never arrived.
// Attempts older than maxAge are left pending and no longer polled.
type Reconciler struct {
	svc        *Service
	staleAfter time.Duration
	maxAge     time.Duration
	batchSize  int
}

func NewReconciler(svc *Service, staleAfter, maxAge time.Duration, batchSize int) *Reconciler {
	if staleAfter <= 0 {
		staleAfter = defaultReconcileStaleAfter
	}
	if maxAge <= 0 {
		maxAge = defaultReconcileMaxAge
	}
	if batchSize <= 0 {
		batchSize = defaultReconcileBatch
	}
	return &Reconciler{svc: svc, staleAfter: staleAfter, maxAge: maxAge, batchSize: batchSize}
}

// RunIteration reconciles one batch of stale pending attempts and returns how
// many reached a terminal state.
func (r *Reconciler) RunIteration(ctx context.Context) (int, error) {
	now := r.svc.now()
	intents, err := r.svc.repo.ListStalePendingIntents(ctx, now.Add(-r.staleAfter), now.Add(-r.maxAge), r.batchSize)
	if err != nil {
		reconcilerRunsTotal.WithLabelValues("error").Inc()
		return 0, err
	}

	settled := 0
	for i := range intents {
		if err := ctx.Err(); err != nil {
			reconcilerRunsTotal.WithLabelValues("canceled").Inc()
			return settled, err
		}
		ok, err := r.reconcile(ctx, &intents[i])
		if err != nil {
			log.Warnf("[Reconciler] Payment intent %s: %v", intents[i].ExternalID, err)
			continue
		}
		if ok {
			settled++
		}
	}

	reconcilerRunsTotal.WithLabelValues("ok").Inc()
	if len(intents) > 0 {
		log.Infof("[Reconciler] Checked %d stale payment intents, settled %d", len(intents), settled)
	}
	return settled, nil
}

func (r *Reconciler) reconcile(ctx context.Context, intent *models.PaymentIntent) (bool, error) {
	var attempt *Attempt
	err := r.svc.callGateway(ctx, "get_attempt", func(ctx context.Context) error {
		var err error
		attempt, err = r.svc.gateway.GetAttempt(ctx, intent.ExternalID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	outcome, ok := outcomeFromAttempt(attempt)
	if !ok {
		return false, r.svc.repo.TouchPaymentIntent(ctx, intent.ExternalID, r.svc.now())
	}
	if _, err := r.svc.ApplyOutcome(ctx, intent.ExternalID, outcome); err != nil {
		return false, err
	}
	return true, nil
}

// outcomeFromAttempt also treats a declined attempt as failed: Stripe moves it
// back to requires_payment_method with last_payment_error set.
func outcomeFromAttempt(attempt *Attempt) (Outcome, bool) {
	if stripe.PaymentIntentStatus(attempt.Status) == stripe.PaymentIntentStatusRequiresPaymentMethod && attempt.LastPaymentError != "" {
		return OutcomeFailed, true
	}
	return outcomeFromGatewayStatus(attempt.Status)
}

func outcomeFromGatewayStatus(status string) (Outcome, bool) {
	switch stripe.PaymentIntentStatus(status) {
	case stripe.PaymentIntentStatusSucceeded:
		return OutcomeSucceeded, true
	case stripe.PaymentIntentStatusCanceled:
		return OutcomeFailed, true
	default:
		return "", false
	}
}
