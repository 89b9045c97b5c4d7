package backup

import (
	"context"
	"sync"
	"time"

	errs "github.com/lueurxax/telegram-backup-bot/internal/core/errors"
	"github.com/lueurxax/telegram-backup-bot/internal/platform/observability"
)

// Queue is an unbounded FIFO of jobs with a single consumer. Producers never
// block.
type Queue struct {
	mu     sync.Mutex
	jobs   []Job
	closed bool
	signal chan struct{}
}

func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Enqueue appends job and returns the number of jobs now waiting.
func (q *Queue) Enqueue(job Job) (int, error) {
	if len(job.IDs) == 0 {
		return 0, errs.ErrEmptyJob
	}

	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return 0, errs.ErrQueueClosed
	}

	q.jobs = append(q.jobs, job)
	depth := len(q.jobs)
	q.mu.Unlock()

	observability.BackupQueueDepth.Set(float64(depth))

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return depth, nil
}

// Next pops the oldest job, waiting at most wait for one to arrive.
func (q *Queue) Next(ctx context.Context, wait time.Duration) (Job, bool) {
	if job, ok := q.pop(); ok {
		return job, true
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Job{}, false
	case <-timer.C:
		return Job{}, false
	case <-q.signal:
		return q.pop()
	}
}

func (q *Queue) pop() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return Job{}, false
	}

	job := q.jobs[0]
	q.jobs[0] = Job{}
	q.jobs = q.jobs[1:]

	observability.BackupQueueDepth.Set(float64(len(q.jobs)))

	return job, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.jobs)
}

// Close rejects further jobs. Waiting jobs can still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
}
