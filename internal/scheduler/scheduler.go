// Package scheduler drives the billing cycle on a cron schedule: it opens
// orders for active subscriptions, keeps drafts refreshed and enqueues
// close jobs once an order is due.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/dukerupert/recurring/internal/domain"
	"github.com/dukerupert/recurring/internal/jobs"
	"github.com/dukerupert/recurring/internal/schedule"
	"github.com/dukerupert/recurring/internal/service"
	"github.com/dukerupert/recurring/internal/telemetry"
)

// Config holds the cron expressions of the periodic tasks.
type Config struct {
	// TickSpec triggers the billing tick. Defaults to every minute.
	TickSpec string

	// CleanupSpec triggers the finished job purge. Defaults to 03:00 UTC daily.
	CleanupSpec string
}

// Deps are the collaborators of the scheduler.
type Deps struct {
	Orders        domain.OrderRepository
	Subscriptions domain.SubscriptionRepository
	Schedules     schedule.Repository
	Service       service.RecurringOrderService
	Queue         jobs.Queue
	Metrics       *telemetry.BusinessMetrics
	Logger        *slog.Logger
	Now           func() time.Time
}

// TickResult summarizes one billing tick.
type TickResult struct {
	Ensured   int
	Refreshed int
	Enqueued  int
	Failed    int
}

// Scheduler runs the billing tick periodically.
type Scheduler struct {
	config Config
	deps   Deps
	cron   *cron.Cron
	logger *slog.Logger
}

// New creates a scheduler. Call Start to register and run the cron jobs.
func New(deps Deps, config Config) *Scheduler {
	if config.TickSpec == "" {
		config.TickSpec = "* * * * *"
	}
	if config.CleanupSpec == "" {
		config.CleanupSpec = "0 3 * * *"
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Scheduler{
		config: config,
		deps:   deps,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger: deps.Logger.With("component", "scheduler"),
	}
}

// Start registers the periodic tasks and starts the cron runner. The
// context bounds every task run.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.config.TickSpec, func() {
		res, err := s.Tick(ctx)
		if err != nil {
			s.logger.Error("billing tick failed", "error", err)
			return
		}
		s.logger.Info("billing tick complete",
			"ensured", res.Ensured,
			"refreshed", res.Refreshed,
			"enqueued", res.Enqueued,
			"failed", res.Failed,
		)
	}); err != nil {
		return fmt.Errorf("failed to schedule billing tick: %w", err)
	}

	if _, err := s.cron.AddFunc(s.config.CleanupSpec, func() {
		if _, err := jobs.EnqueueCleanupFinishedJobs(ctx, s.deps.Queue, s.deps.Now()); err != nil && !errors.Is(err, jobs.ErrDuplicateJob) {
			s.logger.Error("failed to enqueue job cleanup", "error", err)
			return
		}
		s.deps.Metrics.JobEnqueued(jobs.JobTypeCleanupFinishedJobs)
	}); err != nil {
		return fmt.Errorf("failed to schedule job cleanup: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "tick", s.config.TickSpec, "cleanup", s.config.CleanupSpec)
	return nil
}

// Stop stops the cron runner. The returned context is done once running
// tasks have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Tick runs one pass of the billing cycle.
//
// Drafts that are due get a close job; the others are refreshed. Active
// subscriptions not covered by any draft get an order for their current
// period. Per-order failures are logged and counted, not returned.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult
	now := s.deps.Now()
	schedules := make(map[uuid.UUID]*schedule.Schedule)

	drafts, err := s.deps.Orders.ListDrafts(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list draft orders: %w", err)
	}

	covered := make(map[uuid.UUID]bool)
	for _, order := range drafts {
		for _, item := range order.Items {
			covered[item.SubscriptionID] = true
		}
		if err := s.advance(ctx, order, now, schedules, &res); err != nil {
			res.Failed++
			s.logger.Error("failed to process draft order", "order_id", order.ID, "error", err)
		}
	}

	subs, err := s.deps.Subscriptions.ListActive(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list active subscriptions: %w", err)
	}
	for _, sub := range subs {
		if covered[sub.ID] {
			continue
		}
		order, err := s.deps.Service.EnsureOrder(ctx, sub)
		if err != nil {
			res.Failed++
			s.logger.Error("failed to ensure recurring order", "subscription_id", sub.ID, "error", err)
			continue
		}
		res.Ensured++
		for _, item := range order.Items {
			covered[item.SubscriptionID] = true
		}
		if order.State != domain.OrderStateDraft {
			continue
		}
		if err := s.enqueueIfDue(ctx, order, now, schedules, &res); err != nil {
			res.Failed++
			s.logger.Error("failed to enqueue close job", "order_id", order.ID, "error", err)
		}
	}
	return res, nil
}

func (s *Scheduler) advance(ctx context.Context, order *domain.Order, now time.Time, cache map[uuid.UUID]*schedule.Schedule, res *TickResult) error {
	sched, err := s.schedule(ctx, order.ScheduleID, cache)
	if err != nil {
		return err
	}
	if sched.IsDue(order.BillingPeriod, now) {
		return s.enqueue(ctx, order, now, res)
	}
	if err := s.deps.Service.RefreshOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to refresh order: %w", err)
	}
	res.Refreshed++
	return nil
}

func (s *Scheduler) enqueueIfDue(ctx context.Context, order *domain.Order, now time.Time, cache map[uuid.UUID]*schedule.Schedule, res *TickResult) error {
	sched, err := s.schedule(ctx, order.ScheduleID, cache)
	if err != nil {
		return err
	}
	if !sched.IsDue(order.BillingPeriod, now) {
		return nil
	}
	return s.enqueue(ctx, order, now, res)
}

func (s *Scheduler) enqueue(ctx context.Context, order *domain.Order, now time.Time, res *TickResult) error {
	_, err := jobs.EnqueueCloseOrder(ctx, s.deps.Queue, order.ID, now)
	if errors.Is(err, jobs.ErrDuplicateJob) {
		return nil
	}
	if err != nil {
		return err
	}
	res.Enqueued++
	s.deps.Metrics.JobEnqueued(jobs.JobTypeCloseOrder)
	return nil
}

func (s *Scheduler) schedule(ctx context.Context, id uuid.UUID, cache map[uuid.UUID]*schedule.Schedule) (*schedule.Schedule, error) {
	if sched, ok := cache[id]; ok {
		return sched, nil
	}
	sched, err := s.deps.Schedules.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get billing schedule: %w", err)
	}
	cache[id] = sched
	return sched, nil
}
