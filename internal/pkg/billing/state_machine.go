package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayMirror/app/models"
)

// errTransitionLost means the pending-only update matched no row because
// another delivery finished the attempt first.
var errTransitionLost = errors.New("payment intent left pending concurrently")

// ApplyOutcome reconciles a gateway-reported outcome with the local attempt.
//
// A pending attempt is moved to the outcome, its ledger entry is appended and,
// on success, the entitlement is activated, all in one transaction. Repeating
// the same outcome only touches updated_at. The opposite outcome on a terminal
// attempt returns ErrConflictingOutcome and changes nothing.
func (s *Service) ApplyOutcome(ctx context.Context, externalID string, outcome Outcome) (*models.PaymentIntent, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, fmt.Errorf("%w: external attempt id is required", ErrInvalidInput)
	}
	if !outcome.Valid() {
		return nil, fmt.Errorf("%w: payment outcome %q", ErrInvalidInput, outcome)
	}

	now := s.now()
	var (
		intent       *models.PaymentIntent
		transitioned bool
	)
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		current, err := tx.GetPaymentIntentByExternalID(ctx, externalID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownAttempt, externalID)
			}
			return err
		}
		intent = current

		if current.IsTerminal() {
			return settleTerminal(ctx, tx, current, outcome, now)
		}

		ok, err := tx.TransitionPaymentIntent(ctx, externalID, string(outcome), now)
		if err != nil {
			return err
		}
		if !ok {
			return errTransitionLost
		}
		current.Status = string(outcome)
		current.UpdatedAt = now

		if err := tx.AppendPaymentHistory(ctx, models.NewPaymentHistory(current, string(outcome))); err != nil {
			if !errors.Is(err, ErrDuplicateEntry) {
				return err
			}
			log.Infof("[Billing] Ledger entry for %s/%s already present", externalID, outcome)
		}

		if outcome == OutcomeSucceeded {
			if _, err := s.activate(ctx, tx, current.UserID, current.SubscriptionID, now); err != nil {
				return err
			}
		}
		transitioned = true
		return nil
	})
	if errors.Is(err, errTransitionLost) {
		intent, err = s.settleAfterLostTransition(ctx, externalID, outcome, now)
	}
	if err != nil {
		s.reportConflict(err)
		return nil, err
	}

	if transitioned {
		paymentTransitionsTotal.WithLabelValues(string(outcome)).Inc()
		log.Infof("[Billing] Payment intent %s is now %s", externalID, outcome)
		s.publishOutcome(ctx, intent)
	}
	return intent, nil
}

func (s *Service) settleAfterLostTransition(ctx context.Context, externalID string, outcome Outcome, now time.Time) (*models.PaymentIntent, error) {
	var intent *models.PaymentIntent
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		current, err := tx.GetPaymentIntentByExternalID(ctx, externalID)
		if err != nil {
			return err
		}
		if !current.IsTerminal() {
			return fmt.Errorf("payment intent %s still pending after concurrent transition", externalID)
		}
		intent = current
		return settleTerminal(ctx, tx, current, outcome, now)
	})
	if err != nil {
		return nil, err
	}
	return intent, nil
}

// settleTerminal handles an outcome for an attempt that is already terminal.
func settleTerminal(ctx context.Context, tx Repository, intent *models.PaymentIntent, outcome Outcome, now time.Time) error {
	if intent.Status != string(outcome) {
		return fmt.Errorf("%w: %s is %s, received %s", ErrConflictingOutcome, intent.ExternalID, intent.Status, outcome)
	}
	if err := tx.TouchPaymentIntent(ctx, intent.ExternalID, now); err != nil {
		return err
	}
	intent.UpdatedAt = now
	return nil
}

func (s *Service) reportConflict(err error) {
	if errors.Is(err, ErrConflictingOutcome) {
		conflictingOutcomesTotal.Inc()
		log.Errorf("[Billing] Operator attention required: %v", err)
	}
}
