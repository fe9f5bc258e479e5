package coordinator

import (
	"context"
	stdErrors "errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"zira/internal/core/errors"
	"zira/internal/core/jobs"
	"zira/internal/core/ports"
	"zira/internal/shared/observability"
	"zira/internal/shared/util"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// run executes one claimed job and builds its result. It never panics.
func (c *Coordinator) run(ctx context.Context, job jobs.Job, events chan<- event) jobs.JobResult {
	ctx, span := observability.Tracer.Start(ctx, "job."+string(job.Kind),
		trace.WithAttributes(observability.JobAttributes(job.ID, string(job.Kind), job.Owner.String())...))
	defer span.End()

	rep := &reporter{job: job, events: events, limiter: c.newLimiter()}
	started := time.Now()
	out, err := c.invoke(ctx, job, rep)
	rep.close()
	finished := time.Now()

	res := jobs.JobResult{
		JobID:    job.ID,
		Owner:    job.Owner,
		Kind:     job.Kind,
		Started:  started,
		Finished: finished,
	}
	switch {
	case err == nil:
		res.Outcome = jobs.OutcomeSuccess
		res.Payload = out.Payload
		res.Diagnostics = out.Diagnostics
	case ctx.Err() != nil:
		res.Outcome = jobs.OutcomeCancelled
		res.Payload = out.Payload
		c.logger.Debug("job cancelled", "job", job.ID, "kind", job.Kind, "cause", context.Cause(ctx))
	default:
		res.Outcome = jobs.OutcomeErrors
		res.Payload = out.Payload
		res.Errors = []ports.Diagnostic{{
			Message:  message(err),
			Severity: "error",
			Source:   string(errors.CodeOf(err)),
		}}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug("job failed", "job", job.ID, "kind", job.Kind, "error", err)
	}

	observability.JobsCompletedTotal.WithLabelValues(string(job.Kind), string(res.Outcome)).Inc()
	observability.JobDuration.WithLabelValues(string(job.Kind)).Observe(finished.Sub(started).Seconds())
	return res
}

// invoke calls the executor, turning a panic into an error.
func (c *Coordinator) invoke(ctx context.Context, job jobs.Job, rep jobs.Reporter) (out jobs.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			observability.JobPanicsTotal.Inc()
			c.logger.Warn("job panicked", "job", job.ID, "kind", job.Kind, "panic", r, "stack", string(debug.Stack()))
			out = jobs.Output{}
			err = errors.AddContext(errors.New(errors.CodeInternal, fmt.Sprintf("job panicked: %v", r)), errors.CtxJob, job.ID)
		}
	}()

	exec := c.executor(job.Kind)
	if exec == nil {
		return jobs.Output{}, errors.AddContext(errors.New(errors.CodeNotSupported, "no executor for job kind"), errors.CtxKind, string(job.Kind))
	}
	return exec.Execute(ctx, job, rep)
}

// message drops the code prefix of domain errors; the code is carried in
// the diagnostic's Source.
func message(err error) string {
	var de *errors.DomainError
	if !stdErrors.As(err, &de) {
		return err.Error()
	}
	if de.Err != nil {
		return de.Message + ": " + de.Err.Error()
	}
	return de.Message
}

// reporter forwards progress from a running job to the dispatcher. Percent
// never decreases; percent-only updates below 100 may be dropped by the
// limiter, items never are. Calls after the job returns are ignored.
type reporter struct {
	mu      sync.Mutex
	job     jobs.Job
	events  chan<- event
	limiter *util.Limiter
	percent int
	closed  bool
}

var _ jobs.Reporter = (*reporter)(nil)

func (r *reporter) Progress(percent int, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	percent = min(max(percent, r.percent), 100)
	if percent < 100 && !r.limiter.Allow(1) {
		r.percent = percent
		return
	}
	if percent == 100 && r.percent == 100 {
		return
	}
	r.percent = percent
	r.send(jobs.Progress{Percent: percent, Status: status})
}

func (r *reporter) Item(v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.send(jobs.Progress{Percent: r.percent, Item: v})
}

// send must be called with r.mu held.
func (r *reporter) send(p jobs.Progress) {
	p.JobID = r.job.ID
	p.Owner = r.job.Owner
	p.Kind = r.job.Kind
	r.events <- event{progress: &p}
}

func (r *reporter) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
