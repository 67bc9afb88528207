package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/recurring/internal/domain"
	"github.com/dukerupert/recurring/internal/schedule"
	"github.com/dukerupert/recurring/internal/telemetry"
)

// DunningOutcome is the decision taken after a failed capture.
type DunningOutcome string

const (
	DunningRetry  DunningOutcome = "retry"
	DunningGiveUp DunningOutcome = "give_up"
)

// DunningDecision is the result of evaluating a schedule's retry policy.
type DunningDecision struct {
	Outcome    DunningOutcome
	DelayDays  int // 0 when giving up
	RetryCount int
	MaxRetries int
}

// Delay returns the wait before the next attempt.
func (d DunningDecision) Delay() time.Duration {
	return time.Duration(d.DelayDays) * 24 * time.Hour
}

// Decide applies the retry policy of sched to an attempt that has already
// been retried retryCount times.
func Decide(sched *schedule.Schedule, retryCount int) DunningDecision {
	delays := sched.RetryDelays()
	d := DunningDecision{
		Outcome:    DunningGiveUp,
		RetryCount: retryCount,
		MaxRetries: len(delays),
	}
	if retryCount >= 0 && retryCount < len(delays) {
		d.Outcome = DunningRetry
		d.DelayDays = delays[retryCount]
	}
	return d
}

// DunningCoordinator handles declined recurring payments. It computes the
// retry decision and applies its side effects; scheduling the retry is
// left to the job queue.
type DunningCoordinator struct {
	orders        domain.OrderRepository
	subscriptions domain.SubscriptionRepository
	schedules     schedule.Repository
	events        domain.EventPublisher
	metrics       *telemetry.BusinessMetrics
	logger        *slog.Logger
	now           func() time.Time
}

// NewDunningCoordinator creates a coordinator from the shared dependencies.
func NewDunningCoordinator(deps RecurringOrderDeps) *DunningCoordinator {
	c := &DunningCoordinator{
		orders:        deps.Orders,
		subscriptions: deps.Subscriptions,
		schedules:     deps.Schedules,
		events:        deps.Events,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
		now:           deps.Now,
	}
	if c.events == nil {
		c.events = discardEvents{}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// HandleDecline evaluates the retry policy after a decline and applies it.
//
// On retry the order stays in draft and is saved unchanged. When retries
// are exhausted the order is marked failed and the schedule's unpaid state
// is applied to subscriptions that are still exactly active. Both outcomes
// publish a PaymentDeclinedEvent.
//
// Cascade failures do not stop the cascade; they are returned joined with
// ErrCascadeIncomplete after the order has been saved.
func (c *DunningCoordinator) HandleDecline(ctx context.Context, order *domain.Order, retryCount int, reason string) (DunningDecision, error) {
	sched, err := c.schedules.Get(ctx, order.ScheduleID)
	if err != nil {
		return DunningDecision{}, fmt.Errorf("failed to get billing schedule: %w", err)
	}

	decision := Decide(sched, retryCount)
	if decision.Outcome == DunningRetry {
		if err := c.orders.Save(ctx, order); err != nil {
			return decision, fmt.Errorf("failed to save recurring order: %w", err)
		}
		c.metrics.Declined(string(DunningRetry))
		c.logger.Info("recurring payment will be retried",
			"order_id", order.ID,
			"retry_count", retryCount,
			"delay_days", decision.DelayDays,
		)
		c.publish(ctx, order, reason, decision)
		return decision, nil
	}

	return decision, c.giveUp(ctx, sched, order, reason, decision)
}

// HandleTerminal gives up immediately, for failures that cannot succeed on
// retry such as a missing payment method.
func (c *DunningCoordinator) HandleTerminal(ctx context.Context, order *domain.Order, retryCount int, reason string) (DunningDecision, error) {
	sched, err := c.schedules.Get(ctx, order.ScheduleID)
	if err != nil {
		return DunningDecision{}, fmt.Errorf("failed to get billing schedule: %w", err)
	}

	decision := DunningDecision{
		Outcome:    DunningGiveUp,
		RetryCount: retryCount,
		MaxRetries: sched.MaxRetries(),
	}
	return decision, c.giveUp(ctx, sched, order, reason, decision)
}

func (c *DunningCoordinator) giveUp(ctx context.Context, sched *schedule.Schedule, order *domain.Order, reason string, decision DunningDecision) error {
	if err := order.ApplyTransition(domain.OrderTransitionMarkFailed, c.now()); err != nil {
		return err
	}
	order.UpdatedAt = c.now()
	if err := c.orders.Save(ctx, order); err != nil {
		return fmt.Errorf("failed to save recurring order: %w", err)
	}

	unpaid := sched.UnpaidState()
	c.metrics.Declined(string(DunningGiveUp))
	c.metrics.DunningExhausted(string(unpaid))
	c.logger.Warn("recurring payment dunning exhausted",
		"order_id", order.ID,
		"retry_count", decision.RetryCount,
		"unpaid_state", unpaid,
	)

	cascadeErr := c.cascadeUnpaid(ctx, order, unpaid)
	c.publish(ctx, order, reason, decision)
	return cascadeErr
}

// cascadeUnpaid moves exactly-active subscriptions of order to unpaid.
// Subscriptions in any other state were changed independently and are kept.
func (c *DunningCoordinator) cascadeUnpaid(ctx context.Context, order *domain.Order, unpaid domain.SubscriptionState) error {
	if unpaid == domain.SubscriptionStateActive {
		return nil
	}

	subs, err := c.subscriptions.ListByOrder(ctx, order.ID)
	if err != nil {
		return errors.Join(ErrCascadeIncomplete, fmt.Errorf("failed to list subscriptions for order: %w", err))
	}

	var errs []error
	for _, sub := range subs {
		if sub.State != domain.SubscriptionStateActive {
			continue
		}
		if err := sub.TransitionTo(unpaid); err != nil {
			c.logger.Error("failed to apply unpaid state", "subscription_id", sub.ID, "order_id", order.ID, "error", err)
			errs = append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
			continue
		}
		if err := c.subscriptions.Save(ctx, sub); err != nil {
			c.logger.Error("failed to save unpaid subscription", "subscription_id", sub.ID, "order_id", order.ID, "error", err)
			errs = append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
			continue
		}
		c.metrics.SubscriptionStateChanged(string(unpaid))
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{ErrCascadeIncomplete}, errs...)...)
	}
	return nil
}

func (c *DunningCoordinator) publish(ctx context.Context, order *domain.Order, reason string, d DunningDecision) {
	c.events.Publish(ctx, domain.PaymentDeclinedEvent{
		Order:      order.Clone(),
		Reason:     reason,
		DelayDays:  d.DelayDays,
		RetryCount: d.RetryCount,
		MaxRetries: d.MaxRetries,
		OccurredAt: c.now(),
	})
}
