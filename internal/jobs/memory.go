package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue for tests and local runs.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
	seq  map[uuid.UUID]int
	next int

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{jobs: make(map[uuid.UUID]*Job), seq: make(map[uuid.UUID]int), Now: time.Now}
}

func (q *MemoryQueue) Enqueue(_ context.Context, params EnqueueParams) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if params.UniqueKey != "" {
		for _, j := range q.jobs {
			if j.UniqueKey == params.UniqueKey && (j.Status == StatusPending || j.Status == StatusProcessing) {
				return nil, ErrDuplicateJob
			}
		}
	}

	now := q.Now()
	job := &Job{
		ID:             uuid.New(),
		JobType:        params.JobType,
		Queue:          params.Queue,
		Payload:        params.Payload,
		Priority:       params.Priority,
		Status:         StatusPending,
		MaxRetries:     params.MaxRetries,
		ScheduledAt:    params.ScheduledAt,
		TimeoutSeconds: params.TimeoutSeconds,
		UniqueKey:      params.UniqueKey,
		CreatedAt:      now,
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = now
	}
	q.jobs[job.ID] = job
	q.next++
	q.seq[job.ID] = q.next
	c := *job
	return &c, nil
}

func (q *MemoryQueue) Claim(_ context.Context, workerID, queue string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.Now()
	var due []*Job
	for _, j := range q.jobs {
		if j.Status == StatusPending && !j.ScheduledAt.After(now) && (queue == "" || j.Queue == queue) {
			due = append(due, j)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}
	sort.Slice(due, func(i, k int) bool {
		if due[i].Priority != due[k].Priority {
			return due[i].Priority > due[k].Priority
		}
		return due[i].ScheduledAt.Before(due[k].ScheduledAt)
	})

	job := due[0]
	job.Status = StatusProcessing
	job.WorkerID = workerID
	job.StartedAt = &now
	c := *job
	return &c, nil
}

func (q *MemoryQueue) Complete(_ context.Context, id uuid.UUID, message string) error {
	return q.finish(id, StatusCompleted, message)
}

func (q *MemoryQueue) Fail(_ context.Context, id uuid.UUID, message string) error {
	return q.finish(id, StatusFailed, message)
}

func (q *MemoryQueue) finish(id uuid.UUID, status, message string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	now := q.Now()
	job.Status = status
	job.Message = message
	job.CompletedAt = &now
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, id uuid.UUID, message string, at time.Time, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusPending
	job.RetryCount++
	job.Message = message
	job.ScheduledAt = at
	job.WorkerID = ""
	if payload != nil {
		job.Payload = payload
	}
	return nil
}

func (q *MemoryQueue) Latest(_ context.Context, uniqueKey string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var latest *Job
	for id, j := range q.jobs {
		if j.UniqueKey != uniqueKey {
			continue
		}
		if latest == nil || q.seq[id] > q.seq[latest.ID] {
			latest = j
		}
	}
	if latest == nil {
		return nil, ErrJobNotFound
	}
	c := *latest
	return &c, nil
}

func (q *MemoryQueue) Purge(_ context.Context, cutoff time.Time) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for id, j := range q.jobs {
		if (j.Status == StatusCompleted || j.Status == StatusFailed) && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(q.jobs, id)
			delete(q.seq, id)
			n++
		}
	}
	return n, nil
}

// Jobs returns a snapshot of all jobs ordered by creation.
func (q *MemoryQueue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return q.seq[out[i].ID] < q.seq[out[k].ID] })
	return out
}

// Get returns a job snapshot.
func (q *MemoryQueue) Get(id uuid.UUID) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}
