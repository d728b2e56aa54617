package billing_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/ManuelReschke/PayMirror/internal/pkg/billing"
)

const testWebhookSecret = "whsec_test_secret"

func stripeEventPayload(eventType, objectJSON string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_test_1","object":"event","type":%q,"created":1700000000,"api_version":"2025-09-30.clover","data":{"object":%s}}`,
		eventType, objectJSON))
}

func signPayload(payload []byte, secret string, at time.Time) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
		Scheme:    "v1",
	})
	return signed.Header
}

func TestVerifyAndDecodeKnownEvents(t *testing.T) {
	tests := []struct {
		eventType string
		kind      billing.EventKind
	}{
		{eventType: "payment_intent.succeeded", kind: billing.EventSucceeded},
		{eventType: "payment_intent.payment_failed", kind: billing.EventFailed},
		{eventType: "payment_intent.canceled", kind: billing.EventFailed},
	}

	v := billing.NewStripeVerifier(testWebhookSecret)
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			payload := stripeEventPayload(tt.eventType, `{"id":"pi_123","object":"payment_intent","status":"succeeded"}`)
			ev, err := v.VerifyAndDecode(payload, signPayload(payload, testWebhookSecret, time.Now()))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, ev.Kind)
			assert.Equal(t, "pi_123", ev.ExternalID)
			assert.Equal(t, "evt_test_1", ev.ID)
			assert.Equal(t, tt.eventType, ev.Type)
			assert.Equal(t, int64(1700000000), ev.CreatedAt.Unix())
		})
	}
}

func TestVerifyAndDecodeUnhandledType(t *testing.T) {
	v := billing.NewStripeVerifier(testWebhookSecret)
	payload := stripeEventPayload("customer.created", `{"id":"cus_1","object":"customer"}`)

	ev, err := v.VerifyAndDecode(payload, signPayload(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, billing.EventUnhandled, ev.Kind)
	assert.Equal(t, "customer.created", ev.Type)
	assert.Empty(t, ev.ExternalID)
}

func TestVerifyAndDecodeRejectsTamperedPayload(t *testing.T) {
	v := billing.NewStripeVerifier(testWebhookSecret)
	payload := stripeEventPayload("payment_intent.succeeded", `{"id":"pi_123","object":"payment_intent"}`)
	header := signPayload(payload, testWebhookSecret, time.Now())

	for i := range payload {
		tampered := append([]byte(nil), payload...)
		tampered[i] ^= 0x01
		_, err := v.VerifyAndDecode(tampered, header)
		if !errors.Is(err, billing.ErrAuthenticationFailed) {
			t.Fatalf("payload byte %d flipped: expected ErrAuthenticationFailed, got %v", i, err)
		}
	}
}

func TestVerifyAndDecodeRejectsTamperedSignature(t *testing.T) {
	v := billing.NewStripeVerifier(testWebhookSecret)
	payload := stripeEventPayload("payment_intent.succeeded", `{"id":"pi_123","object":"payment_intent"}`)
	header := signPayload(payload, testWebhookSecret, time.Now())

	for i := range header {
		tampered := []byte(header)
		tampered[i] ^= 0x01
		_, err := v.VerifyAndDecode(payload, string(tampered))
		if !errors.Is(err, billing.ErrAuthenticationFailed) {
			t.Fatalf("header byte %d flipped: expected ErrAuthenticationFailed, got %v", i, err)
		}
	}
}

func TestVerifyAndDecodeAuthenticationFailures(t *testing.T) {
	payload := stripeEventPayload("payment_intent.succeeded", `{"id":"pi_123","object":"payment_intent"}`)

	tests := []struct {
		name     string
		verifier *billing.StripeVerifier
		header   string
	}{
		{name: "missing header", verifier: billing.NewStripeVerifier(testWebhookSecret), header: ""},
		{name: "wrong secret", verifier: billing.NewStripeVerifier(testWebhookSecret), header: signPayload(payload, "whsec_other", time.Now())},
		{name: "too old", verifier: billing.NewStripeVerifier(testWebhookSecret), header: signPayload(payload, testWebhookSecret, time.Now().Add(-time.Hour))},
		{name: "secret not configured", verifier: billing.NewStripeVerifier(" "), header: signPayload(payload, testWebhookSecret, time.Now())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.verifier.VerifyAndDecode(payload, tt.header)
			assert.True(t, errors.Is(err, billing.ErrAuthenticationFailed), "got %v", err)
		})
	}
}

func TestVerifyAndDecodeMalformedButSigned(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "not json", payload: []byte(`not json at all`)},
		{name: "missing object id", payload: stripeEventPayload("payment_intent.succeeded", `{"object":"payment_intent"}`)},
		{name: "wrong object", payload: stripeEventPayload("payment_intent.succeeded", `{"id":"ch_1","object":"charge"}`)},
	}

	v := billing.NewStripeVerifier(testWebhookSecret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.VerifyAndDecode(tt.payload, signPayload(tt.payload, testWebhookSecret, time.Now()))
			assert.True(t, errors.Is(err, billing.ErrMalformedPayload), "got %v", err)
			assert.False(t, errors.Is(err, billing.ErrAuthenticationFailed))
		})
	}
}
