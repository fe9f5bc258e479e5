package queue

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"zira/internal/core/jobs"
)

var (
	// ErrClosed is returned by Push after Close.
	ErrClosed = errors.New("job queue closed")
	// ErrJobCancelled is the cancel cause of an explicitly cancelled job.
	ErrJobCancelled = errors.New("job cancelled")
)

type CancelResult string

const (
	CancelRemoved   CancelResult = "removed"
	CancelSignalled CancelResult = "signalled"
	CancelNoop      CancelResult = "noop"
)

// JobQueue keeps pending jobs in submission order and hands them out one at
// a time. A job is active from Claim until Finish; no other job can be
// claimed meanwhile.
type JobQueue struct {
	mu      sync.Mutex
	pending []jobs.Job
	active  *activeJob
	seq     uint64
	ready   chan struct{}
	closed  bool
}

type activeJob struct {
	job    jobs.Job
	cancel context.CancelCauseFunc
}

func NewJobQueue() *JobQueue {
	return &JobQueue{ready: make(chan struct{}, 1)}
}

// Push appends job with the next sequence number. When job.Replace is set,
// unclaimed jobs with the same kind and owner are removed and returned.
func (q *JobQueue) Push(job jobs.Job) (jobs.Job, []jobs.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return jobs.Job{}, nil, ErrClosed
	}

	var superseded []jobs.Job
	if job.Replace && len(q.pending) > 0 {
		kept := q.pending[:0]
		for _, queued := range q.pending {
			if jobs.SameTarget(queued, job) {
				superseded = append(superseded, queued)
				continue
			}
			kept = append(kept, queued)
		}
		clear(q.pending[len(kept):])
		q.pending = kept
	}

	q.seq++
	job.Seq = q.seq
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	q.pending = append(q.pending, job)
	q.signal()
	return job, superseded, nil
}

// Claim blocks until a job is pending and none is active, then marks the
// oldest pending job active. The returned context is the job's cancellation
// token; it derives from ctx. Claim returns io.EOF once the queue is closed.
func (q *JobQueue) Claim(ctx context.Context) (jobs.Job, context.Context, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return jobs.Job{}, nil, io.EOF
		}
		if q.active == nil && len(q.pending) > 0 {
			job := q.pending[0]
			q.pending[0] = jobs.Job{}
			q.pending = q.pending[1:]
			jobCtx, cancel := context.WithCancelCause(ctx)
			q.active = &activeJob{job: job, cancel: cancel}
			q.mu.Unlock()
			return job, jobCtx, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return jobs.Job{}, nil, ctx.Err()
		case <-q.ready:
		}
	}
}

// Finish releases the active job so the next one can be claimed.
func (q *JobQueue) Finish(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active == nil || q.active.job.ID != id {
		return
	}
	q.active.cancel(nil)
	q.active = nil
	q.signal()
}

// Cancel removes a pending job or signals the active one. Finished and
// unknown ids are a no-op.
func (q *JobQueue) Cancel(id string) CancelResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, queued := range q.pending {
		if queued.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return CancelRemoved
		}
	}
	if q.active != nil && q.active.job.ID == id {
		q.active.cancel(ErrJobCancelled)
		return CancelSignalled
	}
	return CancelNoop
}

// CancelActive signals the active job, if any.
func (q *JobQueue) CancelActive() (jobs.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active == nil {
		return jobs.Job{}, false
	}
	q.active.cancel(ErrJobCancelled)
	return q.active.job, true
}

func (q *JobQueue) Active() (jobs.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active == nil {
		return jobs.Job{}, false
	}
	return q.active.job, true
}

// Pending returns a copy of the waiting jobs in claim order.
func (q *JobQueue) Pending() []jobs.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]jobs.Job, len(q.pending))
	copy(out, q.pending)
	return out
}

func (q *JobQueue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops the queue, cancels the active job and returns the pending
// jobs that will never run.
func (q *JobQueue) Close() []jobs.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	dropped := q.pending
	q.pending = nil
	if q.active != nil {
		q.active.cancel(ErrClosed)
	}
	close(q.ready)
	return dropped
}

// signal wakes a waiting Claim. Caller must hold q.mu.
func (q *JobQueue) signal() {
	if q.closed {
		return
	}
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
