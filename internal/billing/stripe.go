package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
)

// GatewayIDStripe identifies payments captured through Stripe.
const GatewayIDStripe = "stripe"

// StripeGateway implements Gateway with off-session Stripe PaymentIntents.
type StripeGateway struct {
	config StripeConfig

	// newIntent creates and confirms a PaymentIntent. Replaced in tests.
	newIntent func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// Compile-time check that StripeGateway implements Gateway.
var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway configures the Stripe SDK and returns a gateway.
// The backend is configured without network retries: each Capture is a
// single attempt and retries belong to dunning.
func NewStripeGateway(config StripeConfig) (*StripeGateway, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	stripe.Key = config.APIKey
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: time.Duration(config.timeoutSeconds()) * time.Second},
		MaxNetworkRetries: stripe.Int64(0),
	})
	stripe.SetBackend(stripe.APIBackend, backend)

	return &StripeGateway{
		config:    config,
		newIntent: paymentintent.New,
	}, nil
}

func (g *StripeGateway) ID() string { return GatewayIDStripe }

// Capture creates a confirmed, off-session PaymentIntent for the order total.
func (g *StripeGateway) Capture(ctx context.Context, params CaptureParams) (*CaptureResult, error) {
	if params.PaymentMethod == nil {
		return nil, ErrMissingPaymentMethod
	}
	if params.PaymentMethod.RemoteID == "" {
		return nil, ErrRemotePaymentMethodMissing
	}

	amount := params.Amount.MinorUnits()
	if amount <= 0 {
		return nil, ErrAmountTooSmall
	}

	piParams := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(strings.ToLower(params.Amount.Currency)),
		PaymentMethod: stripe.String(params.PaymentMethod.RemoteID),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	if params.PaymentMethod.RemoteCustomerID != "" {
		piParams.Customer = stripe.String(params.PaymentMethod.RemoteCustomerID)
	}
	if params.Description != "" {
		piParams.Description = stripe.String(params.Description)
	}
	if g.config.StatementDescriptorSuffix != "" {
		piParams.StatementDescriptorSuffix = stripe.String(g.config.StatementDescriptorSuffix)
	}
	piParams.Context = ctx
	piParams.AddMetadata("order_id", params.OrderID.String())
	for k, v := range params.Metadata {
		piParams.AddMetadata(k, v)
	}
	if params.IdempotencyKey != "" {
		piParams.SetIdempotencyKey(params.IdempotencyKey)
	}

	pi, err := g.newIntent(piParams)
	if err != nil {
		return nil, mapStripeError(err)
	}

	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, &DeclineError{
			Reason: fmt.Sprintf("payment intent %s is %s", pi.ID, pi.Status),
			Code:   string(pi.Status),
		}
	}

	return &CaptureResult{
		RemoteID:    pi.ID,
		Status:      string(pi.Status),
		AmountMinor: pi.Amount,
		Currency:    strings.ToUpper(string(pi.Currency)),
		CapturedAt:  time.Unix(pi.Created, 0).UTC(),
	}, nil
}

// mapStripeError converts card errors to *DeclineError and everything else
// to *StripeError.
func mapStripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("stripe: %w", err)
	}

	if se.Type == stripe.ErrorTypeCard || se.Code == stripe.ErrorCodeCardDeclined || se.DeclineCode != "" {
		return &DeclineError{
			Reason:      se.Msg,
			Hard:        isHardDecline(string(se.Code), string(se.DeclineCode)),
			Code:        string(se.Code),
			DeclineCode: string(se.DeclineCode),
		}
	}

	return &StripeError{
		Message:       se.Msg,
		Code:          string(se.Code),
		Type:          string(se.Type),
		HTTPStatus:    se.HTTPStatusCode,
		RequestID:     se.RequestID,
		OriginalError: err,
	}
}
