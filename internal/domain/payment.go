package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PaymentMethod is a stored, reusable payment instrument.
type PaymentMethod struct {
	ID               uuid.UUID
	CustomerID       uuid.UUID
	GatewayID        string // e.g. "stripe"
	RemoteID         string // gateway-side id, e.g. "pm_..."
	RemoteCustomerID string // gateway-side customer, e.g. "cus_..."
	BillingProfileID *uuid.UUID
	Reusable         bool
	ExpiresAt        *time.Time
}

// IsExpired reports whether the method expired before now.
func (pm *PaymentMethod) IsExpired(now time.Time) bool {
	return pm.ExpiresAt != nil && !pm.ExpiresAt.After(now)
}

// PaymentState is the state of a captured payment.
type PaymentState string

const (
	PaymentStateCompleted PaymentState = "completed"
	PaymentStateRefunded  PaymentState = "refunded"
)

// Payment records a successful capture against a recurring order.
type Payment struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	PaymentMethodID uuid.UUID
	GatewayID       string
	RemoteID        string
	Amount          Money
	State           PaymentState
	CompletedAt     time.Time
}

// PaymentMethodRepository loads stored payment methods.
type PaymentMethodRepository interface {
	// Get returns ErrPaymentMethodNotFound when the id does not resolve.
	Get(ctx context.Context, id uuid.UUID) (*PaymentMethod, error)
}

// PaymentRepository records payments.
type PaymentRepository interface {
	Create(ctx context.Context, payment *Payment) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]Payment, error)
}

// Payment-related errors.
var (
	ErrPaymentMethodNotFound = &Error{Code: ENOTFOUND, Message: "Payment method not found."}
)
