package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
)

// WebhookResult describes how a verified event was handled.
type WebhookResult string

const (
	WebhookApplied        WebhookResult = "applied"
	WebhookIgnored        WebhookResult = "ignored"
	WebhookUnknownAttempt WebhookResult = "unknown_attempt"
)

// HandleEvent applies a verified event. Unhandled kinds and unknown attempts
// are acknowledged; conflicts and storage failures are returned.
func (s *Service) HandleEvent(ctx context.Context, ev Event) (WebhookResult, error) {
	var outcome Outcome
	switch ev.Kind {
	case EventSucceeded:
		outcome = OutcomeSucceeded
	case EventFailed:
		outcome = OutcomeFailed
	case EventUnhandled:
		webhookEventsTotal.WithLabelValues(ev.Kind.String(), string(WebhookIgnored)).Inc()
		log.Debugf("[Webhook] Ignoring unhandled event %s (%s)", ev.ID, ev.Type)
		return WebhookIgnored, nil
	default:
		return "", fmt.Errorf("unexpected event kind %d", ev.Kind)
	}

	_, err := s.ApplyOutcome(ctx, ev.ExternalID, outcome)
	switch {
	case err == nil:
		webhookEventsTotal.WithLabelValues(ev.Kind.String(), string(WebhookApplied)).Inc()
		return WebhookApplied, nil
	case errors.Is(err, ErrUnknownAttempt):
		webhookEventsTotal.WithLabelValues(ev.Kind.String(), string(WebhookUnknownAttempt)).Inc()
		log.Warnf("[Webhook] Event %s references unknown payment intent %s, acknowledging", ev.ID, ev.ExternalID)
		return WebhookUnknownAttempt, nil
	case errors.Is(err, ErrConflictingOutcome):
		webhookEventsTotal.WithLabelValues(ev.Kind.String(), "conflict").Inc()
		return "", err
	default:
		webhookEventsTotal.WithLabelValues(ev.Kind.String(), "error").Inc()
		return "", err
	}
}
