package coordinator

import (
	"context"
	"sync"

	"zira/internal/core/jobs"
)

// Handle tracks one submitted job. Done closes when the result is
// delivered, or without a result when the job is superseded, removed or
// dropped at shutdown.
type Handle struct {
	ID    string
	Kind  jobs.Kind
	Owner jobs.Owner

	c      *Coordinator
	done   chan struct{}
	once   sync.Once
	result *jobs.JobResult
}

func newHandle(c *Coordinator, job jobs.Job) *Handle {
	return &Handle{
		ID:    job.ID,
		Kind:  job.Kind,
		Owner: job.Owner,
		c:     c,
		done:  make(chan struct{}),
	}
}

func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the delivered result. ok is false before Done closes and
// for jobs that never ran.
func (h *Handle) Result() (res jobs.JobResult, ok bool) {
	select {
	case <-h.done:
	default:
		return jobs.JobResult{}, false
	}
	if h.result == nil {
		return jobs.JobResult{}, false
	}
	return *h.result, true
}

// Wait blocks until Done or ctx ends.
func (h *Handle) Wait(ctx context.Context) (jobs.JobResult, bool, error) {
	select {
	case <-h.done:
		res, ok := h.Result()
		return res, ok, nil
	case <-ctx.Done():
		return jobs.JobResult{}, false, ctx.Err()
	}
}

// Cancel removes the job if it is still pending or cancels it if active.
// It reports false for finished jobs.
func (h *Handle) Cancel() bool {
	select {
	case <-h.done:
		return false
	default:
	}
	return h.c.cancel(h.ID)
}

func (h *Handle) complete(res *jobs.JobResult) {
	h.once.Do(func() {
		h.result = res
		close(h.done)
	})
}
