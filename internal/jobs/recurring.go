package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/recurring/internal/billing"
	"github.com/dukerupert/recurring/internal/domain"
	"github.com/dukerupert/recurring/internal/schedule"
	"github.com/dukerupert/recurring/internal/service"
	"github.com/dukerupert/recurring/internal/telemetry"
)

// Job type constants for recurring order jobs
const (
	JobTypeCloseOrder = "recurring:close_order"
	JobTypeRenewOrder = "recurring:renew_order"

	QueueRecurring = "recurring"
)

// transient failures (store or gateway outages) are retried on this cadence
const (
	transientMaxRetries = 3
	transientDelay      = 5 * time.Minute
)

var labels = map[string]string{
	JobTypeCloseOrder: "Close recurring order",
	JobTypeRenewOrder: "Renew recurring order",
}

// Label returns a human readable name for a job type.
func Label(jobType string) string {
	if l, ok := labels[jobType]; ok {
		return l
	}
	return jobType
}

// OrderPayload is the payload of close and renew jobs.
type OrderPayload struct {
	OrderID uuid.UUID `json:"order_id"`

	// Attempt counts declined collections of the order. It selects the
	// dunning delay and the gateway idempotency key.
	Attempt int `json:"attempt,omitempty"`

	// TransientFailures counts consecutive failures of the current attempt
	// that were not declines.
	TransientFailures int `json:"transient_failures,omitempty"`
}

// EnqueueCloseOrder schedules payment collection for an order at runAt.
// An order already waiting to be closed is not enqueued twice. A close
// that follows a failed one continues from its attempt.
func EnqueueCloseOrder(ctx context.Context, q Queue, orderID uuid.UUID, runAt time.Time) (*Job, error) {
	key := "close:" + orderID.String()
	attempt, err := lastAttempt(ctx, q, key)
	if err != nil {
		return nil, err
	}
	payload, err := marshalPayload(OrderPayload{OrderID: orderID, Attempt: attempt})
	if err != nil {
		return nil, err
	}
	return q.Enqueue(ctx, EnqueueParams{
		JobType:        JobTypeCloseOrder,
		Queue:          QueueRecurring,
		Payload:        payload,
		Priority:       50,
		ScheduledAt:    runAt,
		TimeoutSeconds: 120, // gateway calls
		UniqueKey:      key,
	})
}

func lastAttempt(ctx context.Context, q Queue, key string) (int, error) {
	prev, err := q.Latest(ctx, key)
	if errors.Is(err, ErrJobNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up previous close job: %w", err)
	}
	var p OrderPayload
	if err := json.Unmarshal(prev.Payload, &p); err != nil {
		return 0, nil
	}
	return p.Attempt, nil
}

// EnqueueRenewOrder schedules creation of the order following orderID.
func EnqueueRenewOrder(ctx context.Context, q Queue, orderID uuid.UUID) (*Job, error) {
	payload, err := marshalPayload(OrderPayload{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	return q.Enqueue(ctx, EnqueueParams{
		JobType:        JobTypeRenewOrder,
		Queue:          QueueRecurring,
		Payload:        payload,
		Priority:       40,
		TimeoutSeconds: 60,
		UniqueKey:      "renew:" + orderID.String(),
	})
}

// RecurringDeps are the collaborators of the recurring job handlers.
type RecurringDeps struct {
	Orders    domain.OrderRepository
	Schedules schedule.Repository
	Service   service.RecurringOrderService
	Dunning   *service.DunningCoordinator
	Queue     Queue
	Metrics   *telemetry.BusinessMetrics
	Logger    *slog.Logger
}

func (d RecurringDeps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return d.Logger
}

// CloseOrderHandler collects payment for a recurring order.
//
// Every decline hands the order to dunning: a retry decision reschedules
// the job with the next attempt after the decision's delay, and exhausted
// retries complete the job. Failures that are not declines retry the same
// attempt a few times before failing the job. A paid order is followed by
// a renew job.
func CloseOrderHandler(deps RecurringDeps) Handler {
	log := deps.logger()
	return HandlerFunc(func(ctx context.Context, job *Job) Result {
		payload, order, res, ok := loadOrder(ctx, deps.Orders, job)
		if !ok {
			return res
		}

		err := deps.Service.CloseOrder(ctx, order, service.WithAttempt(payload.Attempt))
		switch {
		case err == nil:
			if order.State == domain.OrderStateCompleted {
				if _, err := EnqueueRenewOrder(ctx, deps.Queue, order.ID); err != nil && !errors.Is(err, ErrDuplicateJob) {
					log.Error("failed to enqueue renew job", "order_id", order.ID, "error", err)
					return retryTransient(payload, fmt.Sprintf("Failed to enqueue renewal: %v", err))
				}
				deps.Metrics.JobEnqueued(JobTypeRenewOrder)
			}
			return Success("Recurring order closed.")

		case errors.Is(err, service.ErrOrderNotDraft):
			return Failure(domain.ErrorMessage(err), 0, 0)

		case errors.Is(err, service.ErrNoPaymentMethod):
			return giveUp(ctx, deps, log, order, payload, domain.ErrorMessage(err))
		}

		decline, isDecline := billing.AsDecline(err)
		if !isDecline {
			log.Error("failed to close recurring order", "order_id", order.ID, "attempt", payload.Attempt, "error", err)
			return retryTransient(payload, domain.ErrorMessage(err))
		}

		decision, err := deps.Dunning.HandleDecline(ctx, order, payload.Attempt, decline.Reason)
		if err != nil && !errors.Is(err, service.ErrCascadeIncomplete) {
			log.Error("failed to apply dunning decision", "order_id", order.ID, "error", err)
			return retryTransient(payload, domain.ErrorMessage(err))
		}
		if err != nil {
			log.Warn("unpaid state cascade incomplete", "order_id", order.ID, "error", err)
		}
		if decision.Outcome == service.DunningRetry {
			next := OrderPayload{OrderID: order.ID, Attempt: payload.Attempt + 1}
			return withPayload(Failure(decline.Reason, decision.MaxRetries, decision.Delay()), next)
		}
		return Success("Dunning complete, recurring order not paid.")
	})
}

// retryTransient retries the job with the same attempt until
// transientMaxRetries consecutive failures, then fails it.
func retryTransient(p OrderPayload, message string) Result {
	if p.TransientFailures >= transientMaxRetries {
		return Failure(message, 0, 0)
	}
	p.TransientFailures++
	return withPayload(Failure(message, transientMaxRetries, transientDelay), p)
}

func withPayload(res Result, p OrderPayload) Result {
	data, err := marshalPayload(p)
	if err != nil {
		return Failure(err.Error(), 0, 0)
	}
	return res.WithPayload(data)
}

func giveUp(ctx context.Context, deps RecurringDeps, log *slog.Logger, order *domain.Order, p OrderPayload, reason string) Result {
	_, err := deps.Dunning.HandleTerminal(ctx, order, p.Attempt, reason)
	if err != nil && !errors.Is(err, service.ErrCascadeIncomplete) {
		log.Error("failed to fail recurring order", "order_id", order.ID, "error", err)
		return retryTransient(p, domain.ErrorMessage(err))
	}
	if err != nil {
		log.Warn("unpaid state cascade incomplete", "order_id", order.ID, "error", err)
	}
	return Success("Dunning complete, recurring order not paid.")
}

// RenewOrderHandler creates the next recurring order and schedules its
// close for when it becomes due.
func RenewOrderHandler(deps RecurringDeps) Handler {
	log := deps.logger()
	return HandlerFunc(func(ctx context.Context, job *Job) Result {
		payload, order, res, ok := loadOrder(ctx, deps.Orders, job)
		if !ok {
			return res
		}

		next, err := deps.Service.RenewOrder(ctx, order)
		if err != nil {
			log.Error("failed to renew recurring order", "order_id", order.ID, "error", err)
			return retryTransient(payload, domain.ErrorMessage(err))
		}
		if next == nil {
			return Success("No active subscriptions, nothing to renew.")
		}

		sched, err := deps.Schedules.Get(ctx, next.ScheduleID)
		if err != nil {
			return retryTransient(payload, domain.ErrorMessage(err))
		}
		if _, err := EnqueueCloseOrder(ctx, deps.Queue, next.ID, sched.DueAt(next.BillingPeriod)); err != nil && !errors.Is(err, ErrDuplicateJob) {
			log.Error("failed to enqueue close job", "order_id", next.ID, "error", err)
			return retryTransient(payload, fmt.Sprintf("Failed to enqueue close: %v", err))
		}
		deps.Metrics.JobEnqueued(JobTypeCloseOrder)

		return Success(fmt.Sprintf("Renewed as order %s.", next.ID))
	})
}

func loadOrder(ctx context.Context, orders domain.OrderRepository, job *Job) (OrderPayload, *domain.Order, Result, bool) {
	var payload OrderPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return payload, nil, Failure(fmt.Sprintf("Invalid payload: %v", err), 0, 0), false
	}

	order, err := orders.Get(ctx, payload.OrderID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return payload, nil, Failure("Order not found.", 0, 0), false
		}
		return payload, nil, retryTransient(payload, domain.ErrorMessage(err)), false
	}
	return payload, order, Result{}, true
}
