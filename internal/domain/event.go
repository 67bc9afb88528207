package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event names published by the billing engine.
const (
	EventPaymentDeclined = "recurring.payment_declined"
	EventOrderClosed     = "recurring.order_closed"
	EventOrderRenewed    = "recurring.order_renewed"
)

// Event is anything the engine publishes to listeners.
type Event interface {
	EventName() string
}

// PaymentDeclinedEvent is emitted on every decline handled by dunning.
// DelayDays is 0 when dunning gave up.
type PaymentDeclinedEvent struct {
	Order      *Order    `json:"order"`
	Reason     string    `json:"reason"`
	DelayDays  int       `json:"delay_days"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (PaymentDeclinedEvent) EventName() string { return EventPaymentDeclined }

// Final reports whether no further attempts will be made.
func (e PaymentDeclinedEvent) Final() bool {
	return e.DelayDays == 0
}

// OrderClosedEvent is emitted when a recurring order is paid and completed.
type OrderClosedEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	PaymentID  uuid.UUID `json:"payment_id,omitempty"`
	Total      Money     `json:"total"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (OrderClosedEvent) EventName() string { return EventOrderClosed }

// OrderRenewedEvent is emitted when the next recurring order is created.
type OrderRenewedEvent struct {
	OrderID     uuid.UUID     `json:"order_id"`
	NextOrderID uuid.UUID     `json:"next_order_id"`
	NextPeriod  BillingPeriod `json:"next_period"`
	OccurredAt  time.Time     `json:"occurred_at"`
}

func (OrderRenewedEvent) EventName() string { return EventOrderRenewed }

// EventPublisher fans events out to listeners. Publishing never fails the caller.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}
