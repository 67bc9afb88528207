package jobs

import (
	"context"
	"fmt"
	"time"
)

// Job type constants for cleanup jobs
const (
	JobTypeCleanupFinishedJobs = "cleanup:finished_jobs"

	QueueCleanup = "cleanup"
)

func init() {
	labels[JobTypeCleanupFinishedJobs] = "Purge finished jobs"
}

// EnqueueCleanupFinishedJobs enqueues a purge of finished jobs.
// This should be called on a schedule (e.g., daily).
func EnqueueCleanupFinishedJobs(ctx context.Context, q Queue, now time.Time) (*Job, error) {
	return q.Enqueue(ctx, EnqueueParams{
		JobType:        JobTypeCleanupFinishedJobs,
		Queue:          QueueCleanup,
		Payload:        []byte("{}"),
		Priority:       10, // Low priority - maintenance task
		ScheduledAt:    now,
		TimeoutSeconds: 60,
		UniqueKey:      "cleanup:finished_jobs",
	})
}

// CleanupHandler deletes completed and failed jobs older than retention.
// It does not retry; the next scheduled run picks up what was missed.
func CleanupHandler(q Queue, retention time.Duration, now func() time.Time) Handler {
	return HandlerFunc(func(ctx context.Context, _ *Job) Result {
		n, err := q.Purge(ctx, now().Add(-retention))
		if err != nil {
			return Failure(fmt.Sprintf("Failed to purge jobs: %v", err), 0, 0)
		}
		return Success(fmt.Sprintf("Purged %d finished jobs.", n))
	})
}
