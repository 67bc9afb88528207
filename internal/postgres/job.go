package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dukerupert/recurring/internal/jobs"
)

// JobQueue is a jobs.Queue backed by the jobs table.
type JobQueue struct {
	pool *pgxpool.Pool
}

// Compile-time check that JobQueue implements jobs.Queue.
var _ jobs.Queue = (*JobQueue)(nil)

const jobColumns = `id, job_type, queue, payload, priority, status, retry_count, max_retries, scheduled_at,
	timeout_seconds, COALESCE(unique_key, ''), message, COALESCE(worker_id, ''), created_at, started_at, completed_at`

func scanJob(row pgx.Row) (*jobs.Job, error) {
	var j jobs.Job
	err := row.Scan(&j.ID, &j.JobType, &j.Queue, &j.Payload, &j.Priority, &j.Status, &j.RetryCount, &j.MaxRetries,
		&j.ScheduledAt, &j.TimeoutSeconds, &j.UniqueKey, &j.Message, &j.WorkerID, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (q *JobQueue) Enqueue(ctx context.Context, p jobs.EnqueueParams) (*jobs.Job, error) {
	var uniqueKey *string
	if p.UniqueKey != "" {
		uniqueKey = &p.UniqueKey
	}
	payload := p.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	scheduledAt := p.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = time.Now()
	}

	job, err := scanJob(q.pool.QueryRow(ctx,
		`INSERT INTO jobs (id, job_type, queue, payload, priority, max_retries, scheduled_at, timeout_seconds, unique_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+jobColumns,
		uuid.New(), p.JobType, p.Queue, payload, p.Priority, p.MaxRetries, scheduledAt, p.TimeoutSeconds, uniqueKey,
	))
	if isDuplicateError(err) {
		return nil, jobs.ErrDuplicateJob
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Claim locks the next due job with FOR UPDATE SKIP LOCKED so concurrent
// workers never receive the same job.
func (q *JobQueue) Claim(ctx context.Context, workerID, queue string) (*jobs.Job, error) {
	job, err := scanJob(q.pool.QueryRow(ctx,
		`UPDATE jobs SET status = 'processing', worker_id = $1, started_at = NOW()
		 WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending' AND scheduled_at <= NOW() AND ($2 = '' OR queue = $2)
			ORDER BY priority DESC, scheduled_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		workerID, queue,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

func (q *JobQueue) Complete(ctx context.Context, id uuid.UUID, message string) error {
	return q.exec(ctx,
		`UPDATE jobs SET status = 'completed', message = $2, completed_at = NOW() WHERE id = $1`, id, message)
}

func (q *JobQueue) Fail(ctx context.Context, id uuid.UUID, message string) error {
	return q.exec(ctx,
		`UPDATE jobs SET status = 'failed', message = $2, completed_at = NOW() WHERE id = $1`, id, message)
}

func (q *JobQueue) Retry(ctx context.Context, id uuid.UUID, message string, at time.Time, payload []byte) error {
	return q.exec(ctx,
		`UPDATE jobs SET status = 'pending', retry_count = retry_count + 1, message = $2,
			scheduled_at = $3, worker_id = NULL, started_at = NULL, payload = COALESCE($4::jsonb, payload)
		 WHERE id = $1`, id, message, at, payload)
}

func (q *JobQueue) Latest(ctx context.Context, uniqueKey string) (*jobs.Job, error) {
	job, err := scanJob(q.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE unique_key = $1 ORDER BY created_at DESC LIMIT 1`, uniqueKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, jobs.ErrJobNotFound
	}
	return job, err
}

func (q *JobQueue) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := q.pool.Exec(ctx,
		`DELETE FROM jobs WHERE status IN ('completed', 'failed') AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *JobQueue) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := q.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrJobNotFound
	}
	return nil
}
