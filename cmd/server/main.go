package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dukerupert/recurring/internal"
	"github.com/dukerupert/recurring/internal/billing"
	"github.com/dukerupert/recurring/internal/events"
	"github.com/dukerupert/recurring/internal/handler"
	"github.com/dukerupert/recurring/internal/handler/api"
	"github.com/dukerupert/recurring/internal/jobs"
	"github.com/dukerupert/recurring/internal/middleware"
	"github.com/dukerupert/recurring/internal/postgres"
	"github.com/dukerupert/recurring/internal/router"
	"github.com/dukerupert/recurring/internal/routes"
	"github.com/dukerupert/recurring/internal/scheduler"
	"github.com/dukerupert/recurring/internal/service"
	"github.com/dukerupert/recurring/internal/telemetry"
	"github.com/dukerupert/recurring/internal/worker"
)

const metricsNamespace = "recurring"

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize pgx connection pool
	logger.Info("Connecting to database...")
	db, err := postgres.Open(ctx, postgres.Config{
		URL:             cfg.DatabaseUrl,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Run migrations over a database/sql handle on the same pool
	logger.Info("Running database migrations...")
	sqlDB := stdlib.OpenDBFromPool(db.Pool())
	if err := internal.RunMigrations(ctx, sqlDB, logger); err != nil {
		sqlDB.Close()
		return fmt.Errorf("migration failed: %w", err)
	}
	sqlDB.Close()
	logger.Info("Database migrations completed successfully")

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	httpMetrics := middleware.NewMetrics(metricsNamespace, registry)
	businessMetrics := telemetry.NewBusinessMetrics(metricsNamespace, registry)

	// Payment gateway
	var gateway billing.Gateway
	if cfg.Stripe.SecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY not set, captures use the mock gateway")
		gateway = billing.NewMockGateway()
	} else {
		stripeConfig := billing.StripeConfig{
			APIKey:                    cfg.Stripe.SecretKey,
			TimeoutSeconds:            cfg.Stripe.TimeoutSeconds,
			StatementDescriptorSuffix: cfg.Stripe.StatementDescriptorSuffix,
		}
		stripeGateway, err := billing.NewStripeGateway(stripeConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize Stripe gateway: %w", err)
		}
		gateway = stripeGateway
		logger.Info("Stripe gateway initialized", "test_mode", stripeConfig.IsTestMode())
	}

	// Events
	dispatcher := events.NewDispatcher(logger)
	if cfg.NATS.URL != "" {
		conn, err := events.Connect(cfg.NATS.URL, "recurring-billing", logger)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer conn.Drain()
		dispatcher.Subscribe(events.AllEvents, events.NewNATSPublisher(conn, cfg.NATS.SubjectPrefix, logger))
		logger.Info("Publishing events to NATS", "subject_prefix", cfg.NATS.SubjectPrefix)
	}

	// Services
	orders := db.Orders()
	subscriptions := db.Subscriptions()
	schedules := db.Schedules()
	queue := db.Jobs()
	types := service.DefaultRegistry()

	serviceDeps := service.RecurringOrderDeps{
		Orders:         orders,
		Subscriptions:  subscriptions,
		Schedules:      schedules,
		PaymentMethods: db.PaymentMethods(),
		Payments:       db.Payments(),
		Gateway:        gateway,
		Types:          types,
		Events:         dispatcher,
		Metrics:        businessMetrics,
		Logger:         logger,
	}
	recurringService := service.NewRecurringOrderService(serviceDeps)
	dunning := service.NewDunningCoordinator(serviceDeps)

	// Background worker
	w := worker.NewWorker(queue, worker.Config{
		WorkerID:       cfg.Worker.ID,
		PollInterval:   cfg.Worker.PollInterval,
		MaxConcurrency: cfg.Worker.MaxConcurrency,
		DefaultTimeout: cfg.Worker.JobTimeout,
	}, businessMetrics, logger)

	jobDeps := jobs.RecurringDeps{
		Orders:    orders,
		Schedules: schedules,
		Service:   recurringService,
		Dunning:   dunning,
		Queue:     queue,
		Metrics:   businessMetrics,
		Logger:    logger,
	}
	w.Register(jobs.JobTypeCloseOrder, jobs.CloseOrderHandler(jobDeps))
	w.Register(jobs.JobTypeRenewOrder, jobs.RenewOrderHandler(jobDeps))
	w.Register(jobs.JobTypeCleanupFinishedJobs, jobs.CleanupHandler(queue, cfg.Worker.JobRetention, func() time.Time {
		return time.Now().UTC()
	}))

	// Scheduler
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(scheduler.Deps{
			Orders:        orders,
			Subscriptions: subscriptions,
			Schedules:     schedules,
			Service:       recurringService,
			Queue:         queue,
			Metrics:       businessMetrics,
			Logger:        logger,
		}, scheduler.Config{
			TickSpec:    cfg.Scheduler.TickSpec,
			CleanupSpec: cfg.Scheduler.CleanupSpec,
		})
	}

	// HTTP
	e := router.New(logger, httpMetrics)
	routes.RegisterOpsRoutes(e, routes.OpsDeps{
		HealthHandler:  handler.NewHealthHandler(map[string]handler.Pinger{"database": db}),
		MetricsHandler: httpMetrics.Handler(),
	})
	routes.RegisterAPIRoutes(e, routes.APIDeps{
		RecurringHandler: api.NewRecurringHandler(api.RecurringDeps{
			Orders:         orders,
			Subscriptions:  subscriptions,
			Schedules:      schedules,
			PaymentMethods: db.PaymentMethods(),
			Payments:       db.Payments(),
			Types:          types,
			Service:        recurringService,
			Queue:          queue,
		}),
	})

	// ==========================================================================
	// Start
	// ==========================================================================

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("worker stopped", "error", err)
		}
	}()

	if sched != nil {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			stop()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Graceful shutdown: stop accepting requests, then let running work finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	if sched != nil {
		select {
		case <-sched.Stop().Done():
		case <-shutdownCtx.Done():
			logger.Warn("scheduler tasks still running at shutdown")
		}
	}
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("worker jobs still running at shutdown")
	}

	logger.Info("Shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
