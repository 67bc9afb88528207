package billing

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/recurring/internal/domain"
)

// Gateway defines the payment capture contract used to close recurring orders.
// Implementations can use Stripe, a test double, etc.
type Gateway interface {
	// ID identifies the gateway on payment records (e.g. "stripe").
	ID() string

	// Capture charges the order total against a stored payment method
	// without the customer present. It makes exactly one attempt.
	// A decline is returned as *DeclineError; any other error is
	// infrastructure failure.
	Capture(ctx context.Context, params CaptureParams) (*CaptureResult, error)
}

// CaptureParams contains parameters for capturing a recurring order payment.
type CaptureParams struct {
	// OrderID is the recurring order being paid.
	OrderID uuid.UUID

	// Amount is the order total. It is rounded to minor units before sending.
	Amount domain.Money

	// PaymentMethod is the stored instrument to charge. Required.
	PaymentMethod *domain.PaymentMethod

	// Description appears on the gateway dashboard.
	Description string

	// IdempotencyKey prevents double charges when a job is replayed.
	IdempotencyKey string

	// Metadata is attached to the remote payment.
	Metadata map[string]string
}

// CaptureResult describes a successful capture.
type CaptureResult struct {
	RemoteID    string
	Status      string
	AmountMinor int64
	Currency    string
	CapturedAt  time.Time
}

// CaptureIdempotencyKey derives the key for one capture attempt of an order.
// Each dunning attempt uses a distinct key so retries reach the gateway.
func CaptureIdempotencyKey(orderID uuid.UUID, attempt int) string {
	return "recurring-order-" + orderID.String() + "-attempt-" + strconv.Itoa(attempt)
}
