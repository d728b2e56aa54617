package billing

import "errors"

var (
	// ErrAuthenticationFailed is returned when a webhook signature is missing,
	// malformed or does not match the shared secret.
	ErrAuthenticationFailed = errors.New("webhook authentication failed")
	// ErrMalformedPayload is returned when a correctly signed webhook body
	// cannot be decoded.
	ErrMalformedPayload = errors.New("malformed webhook payload")
	// ErrUpstreamUnavailable is returned when a gateway call failed. No local
	// state was written.
	ErrUpstreamUnavailable = errors.New("payment gateway unavailable")
	// ErrUnknownAttempt is returned when an outcome references an attempt
	// that is not stored locally (yet).
	ErrUnknownAttempt = errors.New("unknown payment attempt")
	// ErrConflictingOutcome is returned when a terminal attempt receives the
	// opposite terminal outcome. It needs operator attention.
	ErrConflictingOutcome = errors.New("conflicting payment outcome")
	// ErrPlanNotFound is returned when a plan id is unknown or no longer offered.
	ErrPlanNotFound = errors.New("subscription plan not found")
	// ErrDuplicateEntry is returned by the ledger when the (attempt, outcome)
	// pair already exists.
	ErrDuplicateEntry = errors.New("duplicate ledger entry")

	// ErrInvalidInput marks caller mistakes such as missing ids or a
	// non-positive amount.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned for attempts and payment methods that do not
	// exist or belong to another user.
	ErrNotFound = errors.New("not found")
	// ErrNoActiveSubscription is returned when the user holds no active
	// entitlement.
	ErrNoActiveSubscription = errors.New("no active subscription")
	// ErrUnsupportedPaymentMethod is returned when a payment method carries no
	// card details.
	ErrUnsupportedPaymentMethod = errors.New("payment method has no card details")
)
