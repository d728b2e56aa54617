package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/ManuelReschke/PayMirror/internal/pkg/env"
)

// Verifier authenticates a raw gateway notification and decodes it.
type Verifier interface {
	VerifyAndDecode(payload []byte, signatureHeader string) (Event, error)
}

// StripeVerifier checks the Stripe-Signature header (HMAC-SHA256, compared
// with hmac.Equal) before decoding the event body.
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{
		secret:    strings.TrimSpace(secret),
		tolerance: webhook.DefaultTolerance,
	}
}

func NewStripeVerifierFromEnv() *StripeVerifier {
	return NewStripeVerifier(env.GetEnv("STRIPE_WEBHOOK_SECRET", ""))
}

func (v *StripeVerifier) VerifyAndDecode(payload []byte, signatureHeader string) (Event, error) {
	if v.secret == "" {
		return Event{}, fmt.Errorf("%w: webhook secret is not configured", ErrAuthenticationFailed)
	}

	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return Event{}, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
		}
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return decodeStripeEvent(ev)
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func decodeStripeEvent(ev stripe.Event) (Event, error) {
	out := Event{
		ID:        ev.ID,
		Type:      string(ev.Type),
		CreatedAt: time.Unix(ev.Created, 0).UTC(),
	}

	switch ev.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		out.Kind = EventSucceeded
	case stripe.EventTypePaymentIntentPaymentFailed, stripe.EventTypePaymentIntentCanceled:
		out.Kind = EventFailed
	default:
		out.Kind = EventUnhandled
		return out, nil
	}

	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return Event{}, fmt.Errorf("%w: event %s has no data object", ErrMalformedPayload, ev.ID)
	}
	var obj struct {
		ID     string `json:"id"`
		Object string `json:"object"`
	}
	if err := json.Unmarshal(ev.Data.Raw, &obj); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if obj.ID == "" || (obj.Object != "" && obj.Object != "payment_intent") {
		return Event{}, fmt.Errorf("%w: event %s does not reference a payment intent", ErrMalformedPayload, ev.ID)
	}
	out.ExternalID = obj.ID
	return out, nil
}
