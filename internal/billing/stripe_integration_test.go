//go:build integration

package billing

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/recurring/internal/domain"
)

// newTestGateway builds a gateway from STRIPE_SECRET_KEY, read from the
// environment or ../../.env.test. Only test-mode keys are accepted.
func newTestGateway(t *testing.T) *StripeGateway {
	t.Helper()

	_ = godotenv.Load("../../.env.test")
	key := os.Getenv("STRIPE_SECRET_KEY")
	if key == "" {
		t.Skip("STRIPE_SECRET_KEY not set")
	}

	config := StripeConfig{APIKey: key, TimeoutSeconds: 30}
	if !config.IsTestMode() {
		t.Fatal("refusing to run against a live Stripe key")
	}

	gw, err := NewStripeGateway(config)
	require.NoError(t, err)
	return gw
}

func capture(t *testing.T, gw *StripeGateway, orderID uuid.UUID, attempt int, remotePM string) (*CaptureResult, error) {
	t.Helper()
	return gw.Capture(context.Background(), CaptureParams{
		OrderID:        orderID,
		Amount:         domain.MustMoney("5.00", "USD"),
		PaymentMethod:  &domain.PaymentMethod{ID: uuid.New(), GatewayID: GatewayIDStripe, RemoteID: remotePM},
		Description:    "Recurring order integration test",
		IdempotencyKey: CaptureIdempotencyKey(orderID, attempt),
	})
}

func TestStripeGateway_CaptureOutcomes(t *testing.T) {
	gw := newTestGateway(t)

	tests := []struct {
		name        string
		remotePM    string
		wantDecline bool
		wantHard    bool
	}{
		{name: "succeeds", remotePM: "pm_card_visa"},
		{name: "soft decline", remotePM: "pm_card_visa_chargeDeclinedInsufficientFunds", wantDecline: true},
		{name: "hard decline", remotePM: "pm_card_visa_chargeDeclinedStolenCard", wantDecline: true, wantHard: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := capture(t, gw, uuid.New(), 0, tt.remotePM)

			if tt.wantDecline {
				decline, ok := AsDecline(err)
				require.True(t, ok, "expected decline, got %v", err)
				assert.Equal(t, tt.wantHard, decline.Hard, "decline code %q", decline.DeclineCode)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, int64(500), res.AmountMinor)
			assert.Equal(t, "USD", res.Currency)
		})
	}
}

func TestStripeGateway_IdempotentAttempts(t *testing.T) {
	gw := newTestGateway(t)
	orderID := uuid.New()

	first, err := capture(t, gw, orderID, 0, "pm_card_visa")
	require.NoError(t, err)

	replay, err := capture(t, gw, orderID, 0, "pm_card_visa")
	require.NoError(t, err)
	assert.Equal(t, first.RemoteID, replay.RemoteID, "same attempt replays the same intent")

	next, err := capture(t, gw, orderID, 1, "pm_card_visa")
	require.NoError(t, err)
	assert.NotEqual(t, first.RemoteID, next.RemoteID, "a new attempt creates a new intent")
}
