// Package app wires the analyzers, the project indexes and the process
// runner into one coordinator and exposes the operations the command line
// and the terminal UI drive.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"zira/internal/core/config"
	"zira/internal/core/coordinator"
	"zira/internal/core/errors"
	"zira/internal/core/jobs"
	"zira/internal/core/owners"
	"zira/internal/core/watcher"
	"zira/internal/data/journal"
	"zira/internal/engine/analyzer"
	"zira/internal/engine/index"
	"zira/internal/engine/process"
	"zira/internal/engine/scan"
)

type App struct {
	Config      *config.Config
	Paths       config.ResolvedPaths
	Analyzers   *analyzer.Registry
	Indexes     *index.Registry
	Scanner     *scan.Scanner
	Runner      *process.Runner
	Owners      *owners.Registry
	Coordinator *coordinator.Coordinator
	// Journal is nil when journal.enabled is false or before Start.
	Journal *journal.Journal

	logger *slog.Logger

	mu      sync.RWMutex
	current settings
	watcher *watcher.Watcher
}

// settings is the hot-reloadable part of the configuration.
type settings struct {
	lintCommands   map[string]string
	styleCommand   string
	styleWidth     int
	safeGit        []string
	autosave       bool
	searchExcludes []string
	searchWidth    int
	quickFindLimit int
	debounce       time.Duration
}

func settingsFrom(cfg *config.Config) settings {
	return settings{
		lintCommands:   cfg.Lint.Commands,
		styleCommand:   cfg.Style.Command,
		styleWidth:     cfg.Style.MaxLineWidth,
		safeGit:        cfg.VCS.SafeCommands,
		autosave:       cfg.Index.AutosaveEnabled(),
		searchExcludes: cfg.Search.ExcludeDirs,
		searchWidth:    cfg.Search.MaxLineWidth,
		quickFindLimit: cfg.Search.QuickFindLimit,
		debounce:       cfg.Watch.Debounce,
	}
}

func New(cfg *config.Config, paths config.ResolvedPaths, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New(errors.CodeValidationError, "config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	analyzers, err := analyzer.NewRegistry(cfg.Analyzer.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("analyzers: %w", err)
	}
	scanner, err := scan.New(analyzers, scan.Options{
		Extensions:   cfg.Scan.Extensions,
		ExcludeDirs:  cfg.Scan.ExcludeDirs,
		MaxFileBytes: cfg.Scan.MaxFileBytes,
		PublishEvery: cfg.Index.PublishEvery,
	}, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:    cfg,
		Paths:     paths,
		Analyzers: analyzers,
		Indexes:   index.NewRegistry(paths.StateDir, logger),
		Scanner:   scanner,
		Runner:    process.NewRunner(cfg.Process.WaitDelay, logger),
		Owners:    owners.NewRegistry(),
		logger:    logger,
		current:   settingsFrom(cfg),
	}
	a.Coordinator = coordinator.New(a.Owners, coordinator.Options{
		EventBuffer:   cfg.Coordinator.EventBuffer,
		ProgressRate:  cfg.Coordinator.ProgressRate,
		ProgressBurst: cfg.Coordinator.ProgressBurst,
		OnStart:       a.prepare,
		Logger:        logger,
	})
	a.registerExecutors(a.Coordinator)
	a.Coordinator.OnUnavailable(func(err error) {
		logger.Error("background worker unavailable", "error", err)
	})
	return a, nil
}

// prepare runs before the worker starts. A state directory that cannot be
// created leaves the coordinator unavailable.
func (a *App) prepare(context.Context) error {
	if err := os.MkdirAll(a.Paths.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if !a.Config.Journal.IsEnabled() || a.Journal != nil {
		return nil
	}
	j, err := journal.Open(a.Paths.JournalPath, a.Config.Journal.MaxEntries)
	if err != nil {
		a.logger.Warn("result journal disabled", "path", a.Paths.JournalPath, "error", err)
		return nil
	}
	a.Journal = j
	a.Coordinator.OnResult(j.Handler(a.logger))
	return nil
}

// Start launches the background worker.
func (a *App) Start(ctx context.Context) error {
	return a.Coordinator.Start(ctx)
}

// Close stops the watcher, shuts the coordinator down within
// coordinator.shutdown_timeout and flushes dirty indexes.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	w := a.watcher
	a.watcher = nil
	a.mu.Unlock()
	if w != nil {
		if err := w.Close(); err != nil {
			a.logger.Warn("watcher close failed", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, a.Config.Coordinator.ShutdownTimeout)
	defer cancel()
	var firstErr error
	if err := a.Coordinator.Shutdown(ctx); err != nil {
		firstErr = errors.Wrap(err, errors.CodeUnavailable, "coordinator shutdown timed out")
	}
	if err := a.Indexes.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.Journal != nil {
		if err := a.Journal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Submit enqueues a job of kind for owner.
func (a *App) Submit(kind jobs.Kind, owner jobs.Owner, payload any) (*coordinator.Handle, error) {
	return a.Coordinator.Submit(jobs.Job{Kind: kind, Owner: owner, Payload: payload})
}

// Run submits a job and waits for its result. A job that was superseded
// or dropped before it ran reports CANCELLED.
func (a *App) Run(ctx context.Context, kind jobs.Kind, owner jobs.Owner, payload any) (jobs.JobResult, error) {
	h, err := a.Submit(kind, owner, payload)
	if err != nil {
		return jobs.JobResult{}, err
	}
	res, ok, err := h.Wait(ctx)
	if err != nil {
		h.Cancel()
		return jobs.JobResult{}, err
	}
	if !ok {
		return jobs.JobResult{}, errors.AddContext(
			errors.New(errors.CodeCancelled, "job did not run"), errors.CtxJob, h.ID)
	}
	return res, nil
}

// ApplyConfig swaps in the hot-reloadable settings of cfg. Analyzer, scan
// and coordinator settings are fixed for the life of the App.
func (a *App) ApplyConfig(cfg *config.Config) {
	next := settingsFrom(cfg)
	a.mu.Lock()
	a.current = next
	w := a.watcher
	a.mu.Unlock()
	if w != nil && next.debounce > 0 {
		w.SetDebounce(next.debounce)
	}
	a.logger.Info("settings reloaded")
}

func (a *App) settings() settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}
