package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAPIKey is returned when Stripe API key is invalid or missing.
	ErrInvalidAPIKey = errors.New("billing: invalid or missing API key")

	// ErrMissingPaymentMethod is returned when Capture is called without a
	// payment method. Callers must reject this earlier.
	ErrMissingPaymentMethod = errors.New("billing: payment method required")

	// ErrRemotePaymentMethodMissing is returned when the stored payment
	// method has no gateway-side id.
	ErrRemotePaymentMethodMissing = errors.New("billing: payment method has no remote id")

	// ErrAmountTooSmall is returned when the amount is zero or negative.
	ErrAmountTooSmall = errors.New("billing: amount must be positive")
)

// DeclineError is a gateway decline. Hard declines (expired or stolen card)
// are not expected to succeed on the same card; soft declines
// (insufficient funds) may.
type DeclineError struct {
	Reason      string // Human-readable reason
	Hard        bool   // Seemingly permanent failure
	Code        string // Gateway error code (e.g., "card_declined")
	DeclineCode string // Card decline reason (e.g., "insufficient_funds")
}

func (e *DeclineError) Error() string {
	kind := "soft"
	if e.Hard {
		kind = "hard"
	}
	if e.DeclineCode != "" {
		return fmt.Sprintf("payment declined (%s, %s): %s", kind, e.DeclineCode, e.Reason)
	}
	return fmt.Sprintf("payment declined (%s): %s", kind, e.Reason)
}

// AsDecline returns the DeclineError in err's chain, if any.
func AsDecline(err error) (*DeclineError, bool) {
	var de *DeclineError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// StripeError wraps a non-decline Stripe API error with additional context.
type StripeError struct {
	Message       string // Human-readable error message
	Code          string // Stripe error code (e.g., "rate_limit")
	Type          string // Stripe error type (e.g., "api_error")
	HTTPStatus    int    // HTTP status code from Stripe
	RequestID     string // Stripe request ID for debugging
	OriginalError error  // Original error from Stripe SDK
}

func (e *StripeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe: %s (code: %s)", e.Message, e.Code)
	}
	return fmt.Sprintf("stripe: %s", e.Message)
}

func (e *StripeError) Unwrap() error {
	return e.OriginalError
}

// IsTemporary returns true if error is likely transient and retryable.
func (e *StripeError) IsTemporary() bool {
	return e.Code == "rate_limit" || e.Type == "api_connection_error" || e.HTTPStatus >= 500
}

// hardDeclineCodes are card decline codes that will not succeed on retry
// with the same card.
var hardDeclineCodes = map[string]bool{
	"expired_card":                      true,
	"incorrect_number":                  true,
	"invalid_account":                   true,
	"lost_card":                         true,
	"stolen_card":                       true,
	"pickup_card":                       true,
	"restricted_card":                   true,
	"fraudulent":                        true,
	"card_not_supported":                true,
	"currency_not_supported":            true,
	"new_account_information_available": true,
	"revocation_of_authorization":       true,
	"revocation_of_all_authorizations":  true,
}

// isHardDecline classifies a decline by its error and decline codes.
func isHardDecline(code, declineCode string) bool {
	if hardDeclineCodes[declineCode] {
		return true
	}
	switch code {
	case "expired_card", "incorrect_number", "invalid_number", "invalid_expiry_month", "invalid_expiry_year":
		return true
	}
	return false
}
