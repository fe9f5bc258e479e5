package cli

import (
	"context"
	"fmt"

	coreapp "zira/internal/core/app"
	"zira/internal/core/errors"
	"zira/internal/core/jobs"
	"zira/internal/engine/scan"

	tea "github.com/charmbracelet/bubbletea"
)

type appActions struct {
	app *coreapp.App
}

func (a appActions) CancelCurrent() bool { return a.app.Coordinator.CancelCurrent() }

func (a appActions) Rescan() error {
	root := a.app.Paths.ProjectRoot
	_, err := a.app.Submit(jobs.KindProjectScan, a.app.Owners.OpenProject(root),
		coreapp.ScanRequest{Root: root, Mode: scan.ModeRefresh})
	return err
}

// newProgram routes coordinator events into a program running m.
func newProgram(ctx context.Context, a *coreapp.App, m model) *tea.Program {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	a.Coordinator.OnProgress(func(pr jobs.Progress) { p.Send(progressMsg{pr}) })
	a.Coordinator.OnResult(func(r jobs.JobResult) { p.Send(resultMsg{r}) })
	return p
}

// runJobUI shows one job until it finishes. Scans close the view when done;
// other kinds stay open for browsing until the user quits. Quitting early
// cancels the job.
func runJobUI(ctx context.Context, a *coreapp.App, title string, kind jobs.Kind, payload any) (jobs.JobResult, error) {
	m := initialModel(title, a.Paths.ProjectRoot, appActions{app: a})
	m.waitKind = kind
	m.quitOnDone = kind == jobs.KindProjectScan
	m.running = true
	p := newProgram(ctx, a, m)

	h, err := a.Submit(kind, jobs.NoOwner, payload)
	if err != nil {
		return jobs.JobResult{}, err
	}
	final, err := p.Run()
	if err != nil {
		h.Cancel()
		return jobs.JobResult{}, err
	}
	if fm, ok := final.(model); ok && fm.final != nil {
		return *fm.final, nil
	}
	h.Cancel()
	return jobs.JobResult{}, errors.New(errors.CodeCancelled, fmt.Sprintf("%s interrupted", kind))
}

// runWatchUI shows every job until the user quits or ctx ends.
func runWatchUI(ctx context.Context, a *coreapp.App, title string) error {
	p := newProgram(ctx, a, initialModel(title, a.Paths.ProjectRoot, appActions{app: a}))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
