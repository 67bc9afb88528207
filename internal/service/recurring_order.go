package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukerupert/recurring/internal/billing"
	"github.com/dukerupert/recurring/internal/domain"
	"github.com/dukerupert/recurring/internal/schedule"
	"github.com/dukerupert/recurring/internal/telemetry"
)

// RecurringOrderService drives the lifecycle of recurring orders.
//
// Operations on distinct orders may run concurrently. Operations on the
// same order must be serialized by the caller (the job queue runs at most
// one job per order).
type RecurringOrderService interface {
	// EnsureOrder returns the draft order covering the subscription's
	// current billing period, creating it when missing.
	//
	// Orders are shared by subscriptions with the same store, schedule,
	// customer, payment method and currency. A subscription's first order
	// is anchored to its start time; later orders to now.
	EnsureOrder(ctx context.Context, sub *domain.Subscription) (*domain.Order, error)

	// StartRecurring activates a pending subscription and creates its
	// first recurring order.
	//
	// Returns ErrSubscriptionInactive for canceled or expired subscriptions.
	StartRecurring(ctx context.Context, sub *domain.Subscription) (*domain.Order, error)

	// RefreshOrder reconciles the order's items with the charges of its
	// subscriptions.
	//
	// Items are matched by subscription and keep their ids. An order left
	// without items is canceled with its payment fields cleared. Refreshing
	// twice without subscription changes does not write. Non-draft orders
	// are left untouched.
	RefreshOrder(ctx context.Context, order *domain.Order) error

	// CloseOrder captures payment for the order total and completes it.
	//
	// Completed and canceled orders are a no-op. A zero total completes
	// without calling the gateway. Returns ErrNoPaymentMethod, before any
	// gateway call, when the payment method is missing. A decline is
	// returned as an error wrapping *billing.DeclineError; retry policy
	// belongs to the caller.
	CloseOrder(ctx context.Context, order *domain.Order, opts ...CloseOption) error

	// RenewOrder creates the order for the period following order.
	//
	// Subscriptions are re-read from the store; when none of them is still
	// active it returns nil without writing. When the next order already
	// exists it is returned unchanged.
	RenewOrder(ctx context.Context, order *domain.Order) (*domain.Order, error)

	// CollectSubscriptions returns the subscriptions linked to the order.
	CollectSubscriptions(ctx context.Context, order *domain.Order) ([]*domain.Subscription, error)
}

// RecurringOrderDeps are the collaborators of the recurring order service.
type RecurringOrderDeps struct {
	Orders         domain.OrderRepository
	Subscriptions  domain.SubscriptionRepository
	Schedules      schedule.Repository
	PaymentMethods domain.PaymentMethodRepository
	Payments       domain.PaymentRepository
	Gateway        billing.Gateway
	Types          *Registry
	Events         domain.EventPublisher
	Metrics        *telemetry.BusinessMetrics // optional
	Logger         *slog.Logger               // optional

	// Now returns the current time. Defaults to time.Now in UTC.
	Now func() time.Time
}

// CloseOption configures a CloseOrder call.
type CloseOption func(*closeOptions)

type closeOptions struct {
	attempt int
}

// WithAttempt sets the dunning attempt number, which selects the capture
// idempotency key. Attempt 0 is the first capture.
func WithAttempt(n int) CloseOption {
	return func(o *closeOptions) {
		o.attempt = n
	}
}
