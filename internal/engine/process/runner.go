// Package process runs external programs on behalf of jobs.
package process

import (
	"bytes"
	"context"
	stdErrors "errors"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"time"

	"zira/internal/core/errors"
	"zira/internal/core/ports"
)

// DefaultWaitDelay is how long a cancelled child gets between the interrupt
// and the kill.
const DefaultWaitDelay = 3 * time.Second

// Output is the captured result of one run.
type Output = ports.ProcessOutput

// Runner starts one process per Run call and waits for it.
type Runner struct {
	waitDelay time.Duration
	logger    *slog.Logger
}

var _ ports.ProcessRunner = (*Runner)(nil)

func NewRunner(waitDelay time.Duration, logger *slog.Logger) *Runner {
	if waitDelay <= 0 {
		waitDelay = DefaultWaitDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{waitDelay: waitDelay, logger: logger}
}

// Run executes c and returns its output. A non-zero exit status is reported
// through Output.ExitCode with a nil error. Errors are returned for spawn
// failures and for cancellation, in which case the partial output is
// returned alongside.
func (r *Runner) Run(ctx context.Context, c ports.Command) (Output, error) {
	if c.Name == "" {
		return Output{}, errors.New(errors.CodeValidationError, "command name is empty")
	}
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error {
		if runtime.GOOS == "windows" {
			return cmd.Process.Kill()
		}
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = r.waitDelay

	started := time.Now()
	err := cmd.Run()
	out := Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: -1,
		Duration: time.Since(started),
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctx.Err() != nil {
		r.logger.Debug("process cancelled", "name", c.Name, "duration", out.Duration)
		return out, context.Cause(ctx)
	}
	if err == nil {
		return out, nil
	}

	var exitErr *exec.ExitError
	if stdErrors.As(err, &exitErr) {
		return out, nil
	}
	if stdErrors.Is(err, exec.ErrNotFound) || stdErrors.Is(err, os.ErrNotExist) {
		return out, errors.AddContext(errors.Wrap(err, errors.CodeNotFound, "program not found"), errors.CtxOperation, c.Name)
	}
	if stdErrors.Is(err, exec.ErrWaitDelay) {
		// Output pipes held open by a grandchild; the process itself exited.
		return out, nil
	}
	return out, errors.AddContext(errors.Wrap(err, errors.CodeInternal, "run process"), errors.CtxOperation, c.Name)
}
