// Package worker runs background jobs claimed from a jobs.Queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/recurring/internal/jobs"
	"github.com/dukerupert/recurring/internal/telemetry"
)

// Config holds worker configuration
type Config struct {
	// WorkerID uniquely identifies this worker instance
	WorkerID string

	// PollInterval is how often to check for new jobs
	PollInterval time.Duration

	// MaxConcurrency is the maximum number of jobs to process concurrently
	MaxConcurrency int

	// Queue name to process (empty string = all queues)
	Queue string

	// DefaultTimeout applies to jobs enqueued without a timeout
	DefaultTimeout time.Duration
}

// Worker processes background jobs
type Worker struct {
	config   Config
	queue    jobs.Queue
	handlers map[string]jobs.Handler
	metrics  *telemetry.BusinessMetrics
	logger   *slog.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

// NewWorker creates a new background job worker
func NewWorker(queue jobs.Queue, config Config, metrics *telemetry.BusinessMetrics, logger *slog.Logger) *Worker {
	// Set defaults
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 5
	}
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Worker{
		config:   config,
		queue:    queue,
		handlers: make(map[string]jobs.Handler),
		metrics:  metrics,
		logger:   logger.With("worker_id", config.WorkerID),
		now:      time.Now,
	}
}

// Register routes jobs of jobType to h. It must be called before Start.
func (w *Worker) Register(jobType string, h jobs.Handler) {
	w.handlers[jobType] = h
}

// Start begins processing jobs until the context is cancelled.
// In-flight jobs are waited for before it returns.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker starting",
		"queue", w.config.Queue,
		"poll_interval", w.config.PollInterval,
		"max_concurrency", w.config.MaxConcurrency,
	)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Semaphore for concurrency control
	sem := make(chan struct{}, w.config.MaxConcurrency)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down")
			w.wg.Wait()
			return ctx.Err()

		case <-ticker.C:
			select {
			case sem <- struct{}{}:
				w.wg.Add(1)
				go func() {
					defer w.wg.Done()
					defer func() { <-sem }()
					w.claimAndProcess(ctx)
				}()
			default:
				// At max concurrency, skip this poll
			}
		}
	}
}

// RunOnce processes due jobs sequentially until none is left and returns
// how many were processed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	n := 0
	for {
		processed, err := w.claimAndProcess(ctx)
		if err != nil {
			return n, err
		}
		if !processed {
			return n, nil
		}
		n++
	}
}

// claimAndProcess claims and processes a single job. It reports false when
// no job was due.
func (w *Worker) claimAndProcess(ctx context.Context) (bool, error) {
	job, err := w.queue.Claim(ctx, w.config.WorkerID, w.config.Queue)
	if err != nil {
		w.logger.Error("failed to claim job", "error", err)
		return false, err
	}
	if job == nil {
		return false, nil
	}

	log := w.logger.With("job_id", job.ID, "job_type", job.JobType, "retry_count", job.RetryCount)
	log.Info("processing job", "label", jobs.Label(job.JobType))

	start := w.now()
	result := w.processJob(ctx, job)
	elapsed := w.now().Sub(start)

	switch {
	case result.Success:
		log.Info("job completed", "message", result.Message, "elapsed", elapsed)
		w.metrics.JobFinished(job.JobType, elapsed, false, false)
		err = w.queue.Complete(ctx, job.ID, result.Message)

	case result.Reschedule || job.RetryCount < result.MaxRetries:
		at := w.now().Add(result.Delay)
		log.Warn("job failed, will retry", "message", result.Message, "retry_at", at)
		w.metrics.JobFinished(job.JobType, elapsed, true, false)
		err = w.queue.Retry(ctx, job.ID, result.Message, at, result.Payload)

	default:
		log.Error("job failed", "message", result.Message)
		w.metrics.JobFinished(job.JobType, elapsed, true, true)
		err = w.queue.Fail(ctx, job.ID, result.Message)
	}
	if err != nil {
		log.Error("failed to record job result", "error", err)
		return true, err
	}
	return true, nil
}

// processJob runs the registered handler under the job timeout. A panic in
// the handler fails the job without retries.
func (w *Worker) processJob(ctx context.Context, job *jobs.Job) (result jobs.Result) {
	h, ok := w.handlers[job.JobType]
	if !ok {
		return jobs.Failure(fmt.Sprintf("unknown job type: %s", job.JobType), 0, 0)
	}

	timeout := w.config.DefaultTimeout
	if job.TimeoutSeconds > 0 {
		timeout = time.Duration(job.TimeoutSeconds) * time.Second
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			result = jobs.Failure(fmt.Sprintf("panic: %v", r), 0, 0)
		}
	}()
	return h.Process(jobCtx, job)
}
