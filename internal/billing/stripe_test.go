package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/recurring/internal/domain"
)

func testGateway(t *testing.T, fn func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)) *StripeGateway {
	t.Helper()
	return &StripeGateway{
		config:    StripeConfig{APIKey: "sk_test_123"},
		newIntent: fn,
	}
}

func testCaptureParams() CaptureParams {
	return CaptureParams{
		OrderID: uuid.New(),
		Amount:  domain.MustMoney("12.345", "USD"),
		PaymentMethod: &domain.PaymentMethod{
			ID:               uuid.New(),
			GatewayID:        GatewayIDStripe,
			RemoteID:         "pm_card_visa",
			RemoteCustomerID: "cus_123",
			Reusable:         true,
		},
		Description:    "Recurring order",
		IdempotencyKey: "recurring-order-x-attempt-0",
		Metadata:       map[string]string{"store_id": "store_1"},
	}
}

func TestStripeGateway_Capture(t *testing.T) {
	tests := []struct {
		name       string
		params     func() CaptureParams
		intent     func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
		wantErr    error
		wantHard   *bool
		wantResult bool
	}{
		{
			name:   "succeeds with rounded minor units",
			params: testCaptureParams,
			intent: func(p *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
				return &stripe.PaymentIntent{
					ID:       "pi_123",
					Amount:   *p.Amount,
					Currency: stripe.Currency(*p.Currency),
					Status:   stripe.PaymentIntentStatusSucceeded,
					Created:  1700000000,
				}, nil
			},
			wantResult: true,
		},
		{
			name: "rejects missing payment method",
			params: func() CaptureParams {
				p := testCaptureParams()
				p.PaymentMethod = nil
				return p
			},
			wantErr: ErrMissingPaymentMethod,
		},
		{
			name: "rejects payment method without remote id",
			params: func() CaptureParams {
				p := testCaptureParams()
				p.PaymentMethod.RemoteID = ""
				return p
			},
			wantErr: ErrRemotePaymentMethodMissing,
		},
		{
			name: "rejects zero amount",
			params: func() CaptureParams {
				p := testCaptureParams()
				p.Amount = domain.ZeroMoney("USD")
				return p
			},
			wantErr: ErrAmountTooSmall,
		},
		{
			name:   "maps insufficient funds to soft decline",
			params: testCaptureParams,
			intent: func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
				return nil, &stripe.Error{
					Type:        stripe.ErrorTypeCard,
					Code:        stripe.ErrorCodeCardDeclined,
					DeclineCode: stripe.DeclineCodeInsufficientFunds,
					Msg:         "Your card has insufficient funds.",
				}
			},
			wantHard: boolPtr(false),
		},
		{
			name:   "maps stolen card to hard decline",
			params: testCaptureParams,
			intent: func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
				return nil, &stripe.Error{
					Type:        stripe.ErrorTypeCard,
					Code:        stripe.ErrorCodeCardDeclined,
					DeclineCode: stripe.DeclineCodeStolenCard,
					Msg:         "Your card was declined.",
				}
			},
			wantHard: boolPtr(true),
		},
		{
			name:   "treats requires_action as soft decline",
			params: testCaptureParams,
			intent: func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
				return &stripe.PaymentIntent{ID: "pi_456", Status: stripe.PaymentIntentStatusRequiresAction}, nil
			},
			wantHard: boolPtr(false),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sent *stripe.PaymentIntentParams
			gw := testGateway(t, func(p *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
				sent = p
				if tt.intent == nil {
					t.Fatal("gateway should not be called")
				}
				return tt.intent(p)
			})

			params := tt.params()
			result, err := gw.Capture(context.Background(), params)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, sent)
				return
			}

			if tt.wantHard != nil {
				decline, ok := AsDecline(err)
				require.True(t, ok, "expected decline, got %v", err)
				assert.Equal(t, *tt.wantHard, decline.Hard)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, result)
			assert.Equal(t, "pi_123", result.RemoteID)
			assert.Equal(t, int64(1235), result.AmountMinor)
			assert.Equal(t, "USD", result.Currency)

			require.NotNil(t, sent)
			assert.Equal(t, "usd", *sent.Currency)
			assert.True(t, *sent.Confirm)
			assert.True(t, *sent.OffSession)
			assert.Equal(t, "cus_123", *sent.Customer)
			assert.Equal(t, params.IdempotencyKey, *sent.IdempotencyKey)
			assert.Equal(t, params.OrderID.String(), sent.Metadata["order_id"])
			assert.Equal(t, "store_1", sent.Metadata["store_id"])
		})
	}
}

func TestMapStripeError(t *testing.T) {
	t.Run("api errors become StripeError", func(t *testing.T) {
		err := mapStripeError(&stripe.Error{
			Type:           stripe.ErrorTypeAPI,
			Msg:            "boom",
			HTTPStatusCode: 502,
			RequestID:      "req_1",
		})

		var se *StripeError
		require.True(t, errors.As(err, &se))
		assert.True(t, se.IsTemporary())
		assert.Equal(t, "req_1", se.RequestID)
		_, isDecline := AsDecline(err)
		assert.False(t, isDecline)
	})

	t.Run("non stripe errors are wrapped", func(t *testing.T) {
		cause := errors.New("dial tcp: timeout")
		err := mapStripeError(cause)
		assert.ErrorIs(t, err, cause)
	})
}

func TestStripeConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		wantErr  bool
		testMode bool
	}{
		{name: "test key", key: "sk_test_abc", testMode: true},
		{name: "live key", key: "sk_live_abc"},
		{name: "restricted test key", key: "rk_test_abc", testMode: true},
		{name: "missing key", key: "", wantErr: true},
		{name: "publishable key", key: "pk_test_abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := StripeConfig{APIKey: tt.key}
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.testMode, cfg.IsTestMode())
		})
	}
}

func TestCaptureIdempotencyKey(t *testing.T) {
	id := uuid.MustParse("6f1c2c3e-0000-4000-8000-000000000001")
	assert.Equal(t, "recurring-order-6f1c2c3e-0000-4000-8000-000000000001-attempt-2", CaptureIdempotencyKey(id, 2))
	assert.NotEqual(t, CaptureIdempotencyKey(id, 0), CaptureIdempotencyKey(id, 1))
}

func TestMockGateway_RecordsCalls(t *testing.T) {
	m := NewMockGateway()
	params := testCaptureParams()

	res, err := m.Capture(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, int64(1235), res.AmountMinor)
	assert.Equal(t, 1, m.Calls())
	assert.Len(t, m.CallLog, 1)

	m.CaptureFunc = func(context.Context, CaptureParams) (*CaptureResult, error) {
		return nil, &DeclineError{Reason: "no funds"}
	}
	_, err = m.Capture(context.Background(), params)
	_, ok := AsDecline(err)
	assert.True(t, ok)

	m.Reset()
	assert.Equal(t, 0, m.Calls())
}

func boolPtr(b bool) *bool { return &b }
