package app

import (
	"path/filepath"

	"zira/internal/core/jobs"
	"zira/internal/core/watcher"
	"zira/internal/engine/scan"
)

// StartWatcher watches root and submits a targeted ProjectScan for every
// debounced batch of changes. Only one watcher runs per App.
func (a *App) StartWatcher(root string) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	owner := a.Owners.OpenProject(root)
	w, err := watcher.NewWatcher(
		a.settings().debounce,
		a.Config.Scan.ExcludeDirs,
		nil,
		func(b watcher.Batch) { a.HandleChanges(root, owner, b) },
	)
	if err != nil {
		return err
	}
	w.SetLogger(a.logger)
	exts := a.Config.Scan.Extensions
	if len(exts) == 0 {
		exts = a.Analyzers.SupportedExtensions()
	}
	w.SetExtensions(exts)

	a.mu.Lock()
	if a.watcher != nil {
		a.mu.Unlock()
		_ = w.Close()
		return nil
	}
	a.watcher = w
	a.mu.Unlock()
	return w.Watch([]string{root})
}

// HandleChanges turns one watcher batch into a paths-mode scan.
func (a *App) HandleChanges(root string, owner jobs.Owner, b watcher.Batch) {
	if b.Empty() {
		return
	}
	req := ScanRequest{Root: root, Mode: scan.ModePaths, Paths: b.Paths}
	for _, r := range b.Renames {
		req.Renames = append(req.Renames, scan.Rename{From: r.From, To: r.To})
	}
	if _, err := a.Submit(jobs.KindProjectScan, owner, req); err != nil {
		a.logger.Warn("change scan not submitted", "root", root, "paths", len(b.Paths), "error", err)
		return
	}
	a.logger.Debug("change scan submitted", "root", root, "paths", len(b.Paths), "renames", len(b.Renames))
}
