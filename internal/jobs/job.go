package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job status values
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Job is a unit of background work.
type Job struct {
	ID             uuid.UUID
	JobType        string
	Queue          string
	Payload        []byte
	Priority       int
	Status         string
	RetryCount     int
	MaxRetries     int
	ScheduledAt    time.Time
	TimeoutSeconds int
	UniqueKey      string
	Message        string
	WorkerID       string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// EnqueueParams describes a job to enqueue.
type EnqueueParams struct {
	JobType        string
	Queue          string
	Payload        []byte
	Priority       int
	MaxRetries     int
	ScheduledAt    time.Time
	TimeoutSeconds int

	// UniqueKey prevents enqueueing a second pending or processing job
	// with the same key.
	UniqueKey string
}

var (
	// ErrDuplicateJob is returned by Enqueue when an unfinished job holds the same unique key.
	ErrDuplicateJob = errors.New("jobs: duplicate unique key")

	// ErrJobNotFound is returned when a job id does not resolve.
	ErrJobNotFound = errors.New("jobs: job not found")
)

// Queue persists jobs and hands them to workers.
type Queue interface {
	// Enqueue adds a job. Returns ErrDuplicateJob when the unique key is taken.
	Enqueue(ctx context.Context, params EnqueueParams) (*Job, error)

	// Claim locks the next due job of queue ("" for any queue) for workerID.
	// Returns nil when no job is due.
	Claim(ctx context.Context, workerID, queue string) (*Job, error)

	// Complete marks a job completed.
	Complete(ctx context.Context, id uuid.UUID, message string) error

	// Retry increments the retry count and makes the job due again at at.
	// A non-nil payload replaces the job's payload.
	Retry(ctx context.Context, id uuid.UUID, message string, at time.Time, payload []byte) error

	// Latest returns the most recently enqueued job holding uniqueKey in any
	// status. Returns ErrJobNotFound when there is none.
	Latest(ctx context.Context, uniqueKey string) (*Job, error)

	// Fail marks a job failed for good.
	Fail(ctx context.Context, id uuid.UUID, message string) error

	// Purge deletes completed and failed jobs finished before cutoff.
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// Result is the outcome of processing a job.
type Result struct {
	Success    bool
	Message    string
	MaxRetries int
	Delay      time.Duration

	// Reschedule retries the job regardless of its retry count. The
	// handler tracks its own attempts in Payload.
	Reschedule bool
	Payload    []byte
}

// Success means the job needs no further attempts.
func Success(message string) Result {
	return Result{Success: true, Message: message}
}

// Failure asks the worker to retry after delay while the job's retry count
// is below maxRetries. Failure(msg, 0, 0) is terminal.
func Failure(message string, maxRetries int, delay time.Duration) Result {
	return Result{Message: message, MaxRetries: maxRetries, Delay: delay}
}

// WithPayload retries the job with payload after the result's delay,
// whatever its retry count.
func (r Result) WithPayload(payload []byte) Result {
	r.Reschedule = true
	r.Payload = payload
	return r
}

// Handler processes jobs of one type.
type Handler interface {
	Process(ctx context.Context, job *Job) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *Job) Result

func (f HandlerFunc) Process(ctx context.Context, job *Job) Result {
	return f(ctx, job)
}

func marshalPayload(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}
