// Package coordinator runs background jobs one at a time and routes their
// progress and results back to the interactive surface.
//
// A Coordinator owns exactly two goroutines: the worker, which claims jobs
// from the queue and executes them, and the dispatcher, which delivers
// progress and results to handlers. Both communicate over a single ordered
// event channel, so progress for a job is always delivered before its
// result and results arrive in claim order.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"zira/internal/core/errors"
	"zira/internal/core/jobs"
	"zira/internal/data/queue"
	"zira/internal/shared/observability"
	"zira/internal/shared/util"

	"github.com/google/uuid"
)

// ErrWorkerUnavailable is returned by Submit while the coordinator is not
// running.
var ErrWorkerUnavailable = errors.New(errors.CodeUnavailable, "background worker unavailable")

type State string

const (
	StateStopped     State = "stopped"
	StateRunning     State = "running"
	StateUnavailable State = "unavailable"
	StateClosed      State = "closed"
)

// Executor runs the jobs of one kind. Implementations must return promptly
// once ctx is cancelled.
type Executor interface {
	Execute(ctx context.Context, job jobs.Job, report jobs.Reporter) (jobs.Output, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job jobs.Job, report jobs.Reporter) (jobs.Output, error)

func (f ExecutorFunc) Execute(ctx context.Context, job jobs.Job, report jobs.Reporter) (jobs.Output, error) {
	return f(ctx, job, report)
}

// OwnerChecker reports whether results for an owner are still wanted.
type OwnerChecker interface {
	IsCurrent(owner jobs.Owner) bool
}

type Options struct {
	// EventBuffer sizes the worker to dispatcher channel.
	EventBuffer int
	// ProgressRate limits percent-only progress updates per second; zero
	// disables the limit.
	ProgressRate  float64
	ProgressBurst int
	// OnStart runs before the goroutines start; a failure leaves the
	// coordinator unavailable.
	OnStart func(ctx context.Context) error
	Logger  *slog.Logger
}

type event struct {
	progress *jobs.Progress
	result   *jobs.JobResult
}

type Coordinator struct {
	owners OwnerChecker
	opts   Options
	logger *slog.Logger

	mu           sync.Mutex
	state        State
	executors    map[jobs.Kind]Executor
	queue        *queue.JobQueue
	handles      map[string]*Handle
	workerDone   chan struct{}
	dispatchDone chan struct{}
	stop         context.CancelFunc

	hmu                 sync.RWMutex
	resultHandlers      []func(jobs.JobResult)
	progressHandlers    []func(jobs.Progress)
	unavailableHandlers []func(error)
}

// New returns a stopped coordinator. owners may be nil, in which case no
// result is ever stale. Results of jobs without an owner are never stale.
func New(owners OwnerChecker, opts Options) *Coordinator {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	if opts.ProgressBurst <= 0 {
		opts.ProgressBurst = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		owners:    owners,
		opts:      opts,
		logger:    logger,
		state:     StateStopped,
		executors: make(map[jobs.Kind]Executor),
		handles:   make(map[string]*Handle),
	}
}

// Register binds an executor to a job kind.
func (c *Coordinator) Register(kind jobs.Kind, exec Executor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executors[kind] = exec
}

// OnResult adds a handler invoked on the dispatcher goroutine exactly once
// per claimed job, in claim order.
func (c *Coordinator) OnResult(fn func(jobs.JobResult)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.resultHandlers = append(c.resultHandlers, fn)
}

// OnProgress adds a handler invoked on the dispatcher goroutine for every
// forwarded progress update.
func (c *Coordinator) OnProgress(fn func(jobs.Progress)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.progressHandlers = append(c.progressHandlers, fn)
}

// OnUnavailable adds a handler told when the coordinator faults.
func (c *Coordinator) OnUnavailable(fn func(error)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.unavailableHandlers = append(c.unavailableHandlers, fn)
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active returns the job the worker is running, if any.
func (c *Coordinator) Active() (jobs.Job, bool) {
	c.mu.Lock()
	q := c.queue
	c.mu.Unlock()
	if q == nil {
		return jobs.Job{}, false
	}
	return q.Active()
}

// Pending returns the number of queued jobs not yet claimed.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	q := c.queue
	c.mu.Unlock()
	if q == nil {
		return 0
	}
	return q.Len()
}

// Start launches the worker and dispatcher.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateStopped {
		st := c.state
		c.mu.Unlock()
		return errors.New(errors.CodeConflict, fmt.Sprintf("coordinator is %s", st))
	}
	c.mu.Unlock()
	return c.launch(ctx)
}

// Restart re-initializes an unavailable coordinator. The previous
// goroutines are joined first, bounded by ctx.
func (c *Coordinator) Restart(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUnavailable {
		st := c.state
		c.mu.Unlock()
		return errors.New(errors.CodeConflict, fmt.Sprintf("coordinator is %s", st))
	}
	workerDone, dispatchDone := c.workerDone, c.dispatchDone
	c.mu.Unlock()

	if err := join(ctx, workerDone, dispatchDone); err != nil {
		return err
	}
	c.logger.Info("restarting background worker")
	return c.launch(ctx)
}

func (c *Coordinator) launch(ctx context.Context) error {
	if c.opts.OnStart != nil {
		if err := c.opts.OnStart(ctx); err != nil {
			c.mu.Lock()
			c.state = StateUnavailable
			c.workerDone, c.dispatchDone = nil, nil
			c.mu.Unlock()
			c.notifyUnavailable(fmt.Errorf("start hook: %w", err))
			return errors.Wrap(err, errors.CodeUnavailable, "start background worker")
		}
	}

	runCtx, stop := context.WithCancel(context.Background())
	q := queue.NewJobQueue()
	events := make(chan event, c.opts.EventBuffer)
	workerDone := make(chan struct{})
	dispatchDone := make(chan struct{})

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		stop()
		return ErrWorkerUnavailable
	}
	c.queue = q
	c.stop = stop
	c.workerDone, c.dispatchDone = workerDone, dispatchDone
	c.state = StateRunning
	c.mu.Unlock()

	observability.WorkerUnavailable.Set(0)
	go c.dispatch(events, dispatchDone)
	go c.work(runCtx, q, events, workerDone)
	return nil
}

// Submit enqueues job without blocking. Kind and Owner must be set; ID is
// assigned when empty. A waiting job with the same kind and owner is
// superseded when the kind's policy is replace-latest.
func (c *Coordinator) Submit(job jobs.Job) (*Handle, error) {
	if !job.Kind.Valid() {
		return nil, errors.New(errors.CodeValidationError, fmt.Sprintf("unknown job kind %q", job.Kind))
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Replace = jobs.ReplaceLatest(job.Kind, job.Payload, job.Replace)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return nil, ErrWorkerUnavailable
	}
	if _, ok := c.executors[job.Kind]; !ok {
		return nil, errors.AddContext(errors.New(errors.CodeNotSupported, "no executor for job kind"), errors.CtxKind, string(job.Kind))
	}

	queued, superseded, err := c.queue.Push(job)
	if err != nil {
		return nil, ErrWorkerUnavailable
	}
	h := newHandle(c, queued)
	c.handles[queued.ID] = h
	for _, old := range superseded {
		observability.JobsSupersededTotal.WithLabelValues(string(old.Kind)).Inc()
		c.logger.Debug("job superseded", "job", old.ID, "by", queued.ID, "kind", old.Kind, "owner", old.Owner.String())
		c.releaseLocked(old.ID, nil)
	}
	observability.JobsSubmittedTotal.WithLabelValues(string(job.Kind)).Inc()
	observability.QueueDepth.Set(float64(c.queue.Len()))
	return h, nil
}

// CancelCurrent cancels the active job's token. It reports false when no
// job is active.
func (c *Coordinator) CancelCurrent() bool {
	c.mu.Lock()
	q := c.queue
	c.mu.Unlock()
	if q == nil {
		return false
	}
	job, ok := q.CancelActive()
	if ok {
		c.logger.Debug("active job cancelled", "job", job.ID, "kind", job.Kind)
	}
	return ok
}

// cancel removes a pending job, or signals it when active.
func (c *Coordinator) cancel(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue == nil {
		return false
	}
	switch c.queue.Cancel(id) {
	case queue.CancelRemoved:
		c.logger.Debug("pending job removed", "job", id)
		c.releaseLocked(id, nil)
		observability.QueueDepth.Set(float64(c.queue.Len()))
		return true
	case queue.CancelSignalled:
		c.logger.Debug("active job cancelled", "job", id)
		return true
	}
	return false
}

// Shutdown rejects new submissions, drops pending jobs, cancels the active
// job and joins both goroutines, bounded by ctx.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	workerDone, dispatchDone := c.workerDone, c.dispatchDone
	if c.queue != nil {
		for _, dropped := range c.queue.Close() {
			c.releaseLocked(dropped.ID, nil)
		}
	}
	c.mu.Unlock()

	err := join(ctx, workerDone, dispatchDone)

	c.mu.Lock()
	if c.stop != nil {
		c.stop()
	}
	if err == nil {
		for id := range c.handles {
			c.releaseLocked(id, nil)
		}
	}
	c.mu.Unlock()
	observability.QueueDepth.Set(0)
	return err
}

// fault moves a running coordinator to StateUnavailable.
func (c *Coordinator) fault(cause error) {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.state = StateUnavailable
	for _, dropped := range c.queue.Close() {
		c.releaseLocked(dropped.ID, nil)
	}
	c.mu.Unlock()

	observability.WorkerUnavailable.Set(1)
	c.logger.Error("background worker unavailable", "error", cause)
	c.notifyUnavailable(cause)
}

func (c *Coordinator) notifyUnavailable(cause error) {
	c.hmu.RLock()
	handlers := append([]func(error){}, c.unavailableHandlers...)
	c.hmu.RUnlock()
	for _, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("unavailable handler panicked", "panic", r)
				}
			}()
			fn(cause)
		}()
	}
}

// releaseLocked completes the handle for id. Caller must hold c.mu.
func (c *Coordinator) releaseLocked(id string, res *jobs.JobResult) {
	h, ok := c.handles[id]
	if !ok {
		return
	}
	delete(c.handles, id)
	h.complete(res)
}

func (c *Coordinator) executor(kind jobs.Kind) Executor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executors[kind]
}

func (c *Coordinator) newLimiter() *util.Limiter {
	if c.opts.ProgressRate <= 0 {
		return util.NewUnlimited()
	}
	return util.NewLimiter(c.opts.ProgressRate, c.opts.ProgressBurst)
}

func join(ctx context.Context, chans ...chan struct{}) error {
	for _, ch := range chans {
		if ch == nil {
			continue
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Coordinator) work(ctx context.Context, q *queue.JobQueue, events chan<- event, done chan struct{}) {
	defer close(done)
	defer close(events)
	defer func() {
		if r := recover(); r != nil {
			c.fault(fmt.Errorf("worker panic: %v\n%s", r, debug.Stack()))
		}
	}()

	for {
		job, jobCtx, err := q.Claim(ctx)
		if err != nil {
			return
		}
		observability.QueueDepth.Set(float64(q.Len()))

		res := c.run(jobCtx, job, events)
		q.Finish(job.ID)
		events <- event{result: &res}
	}
}

func (c *Coordinator) dispatch(events <-chan event, done chan struct{}) {
	defer close(done)
	for ev := range events {
		c.deliver(ev)
	}
}

// deliver hands one event to the handlers. A handler panic is a loop fault.
func (c *Coordinator) deliver(ev event) {
	defer func() {
		if r := recover(); r != nil {
			c.fault(fmt.Errorf("dispatcher panic: %v\n%s", r, debug.Stack()))
			if ev.result != nil {
				c.mu.Lock()
				c.releaseLocked(ev.result.JobID, ev.result)
				c.mu.Unlock()
			}
		}
	}()

	c.hmu.RLock()
	progress := c.progressHandlers
	results := c.resultHandlers
	c.hmu.RUnlock()

	if ev.progress != nil {
		for _, fn := range progress {
			fn(*ev.progress)
		}
		return
	}

	res := *ev.result
	res.Timestamp = time.Now()
	if c.owners != nil && !res.Owner.IsZero() && !c.owners.IsCurrent(res.Owner) {
		res.Stale = true
		observability.JobsStaleTotal.WithLabelValues(string(res.Kind)).Inc()
	}
	for _, fn := range results {
		fn(res)
	}
	c.mu.Lock()
	c.releaseLocked(res.JobID, &res)
	c.mu.Unlock()
}
