// Package watcher turns file system notifications under a project root into
// debounced change batches. Renames seen within one debounce window are
// paired so the index can move declarations instead of rescanning.
package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"zira/internal/shared/observability"
	"zira/internal/shared/util"

	"github.com/fsnotify/fsnotify"
)

type Rename struct {
	From string
	To   string
}

// Batch is one debounced set of changes. Paths holds files that were
// written, created or removed, and directories that vanished; Renames holds
// paired moves of files or directories.
type Batch struct {
	Paths   []string
	Renames []Rename
}

func (b Batch) Empty() bool { return len(b.Paths) == 0 && len(b.Renames) == 0 }

type Watcher struct {
	fsWatcher    *fsnotify.Watcher
	debounce     time.Duration
	excludeDirs  util.GlobSet
	excludeFiles util.GlobSet
	extensions   map[string]bool
	onChange     func(Batch)
	callbackMu   sync.Mutex
	logger       *slog.Logger

	dirsMu sync.Mutex
	dirs   map[string]bool

	pendingMu   sync.Mutex
	changed     map[string]struct{}
	renamedFrom []string
	created     []string
	renamedDirs []string
	createdDirs []string
	timer       *time.Timer
	closed      bool
}

func NewWatcher(debounce time.Duration, excludeDirs, excludeFiles []string, onChange func(Batch)) (*Watcher, error) {
	if onChange == nil {
		return nil, os.ErrInvalid
	}
	dirs, err := util.CompileGlobs(excludeDirs)
	if err != nil {
		return nil, err
	}
	files, err := util.CompileGlobs(excludeFiles)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsWatcher:    fsw,
		debounce:     debounce,
		excludeDirs:  dirs,
		excludeFiles: files,
		onChange:     onChange,
		logger:       slog.Default(),
		dirs:         make(map[string]bool),
		changed:      make(map[string]struct{}),
	}, nil
}

// SetExtensions limits notifications to files with these extensions. An
// empty list admits every file.
func (w *Watcher) SetExtensions(exts []string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	w.extensions = util.NormalizeExtensions(exts)
}

func (w *Watcher) SetDebounce(debounce time.Duration) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	w.debounce = debounce
}

func (w *Watcher) SetLogger(logger *slog.Logger) {
	if logger != nil {
		w.logger = logger
	}
}

// Watch adds every non-excluded directory under roots and starts the event
// loop.
func (w *Watcher) Watch(roots []string) error {
	for _, root := range roots {
		if err := w.watchRecursive(root); err != nil {
			return err
		}
	}
	go w.run()
	return nil
}

func (w *Watcher) watchRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.excludeDirs.MatchBase(path) {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(path); err != nil {
			return err
		}
		w.dirsMu.Lock()
		w.dirs[path] = true
		w.dirsMu.Unlock()
		return nil
	})
}

// forgetDir reports whether path was a watched directory and drops it and
// every directory below it.
func (w *Watcher) forgetDir(path string) bool {
	w.dirsMu.Lock()
	defer w.dirsMu.Unlock()
	if !w.dirs[path] {
		return false
	}
	for d := range w.dirs {
		if util.HasPathPrefix(filepath.ToSlash(d), filepath.ToSlash(path)) {
			delete(w.dirs, d)
		}
	}
	return true
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			observability.WatcherEventsTotal.Inc()
			w.handle(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.excludeDirs.MatchBase(event.Name) {
				return
			}
			if err := w.watchRecursive(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
				return
			}
			w.enqueueExistingFiles(event.Name)
			w.schedule(func() { w.createdDirs = append(w.createdDirs, event.Name) })
			return
		}
	}
	// A vanished directory has no extension to filter on; its indexed
	// files still need repair.
	if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
		if w.forgetDir(event.Name) {
			w.schedule(func() {
				if event.Has(fsnotify.Rename) && !slices.Contains(w.renamedDirs, event.Name) {
					w.renamedDirs = append(w.renamedDirs, event.Name)
				} else {
					w.changed[event.Name] = struct{}{}
				}
			})
			return
		}
	}
	if w.shouldExcludeFile(event.Name) {
		return
	}

	switch {
	case event.Has(fsnotify.Rename):
		w.schedule(func() { w.renamedFrom = append(w.renamedFrom, event.Name) })
	case event.Has(fsnotify.Create):
		w.schedule(func() {
			w.created = append(w.created, event.Name)
			w.changed[event.Name] = struct{}{}
		})
	case event.Has(fsnotify.Write), event.Has(fsnotify.Remove):
		w.schedule(func() { w.changed[event.Name] = struct{}{} })
	}
}

// schedule applies record under the pending lock and restarts the debounce
// timer.
func (w *Watcher) schedule(record func()) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	if w.closed {
		return
	}
	record()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.pendingMu.Lock()
	batch := pairRenames(w.changed, w.renamedFrom, w.created, w.renamedDirs, w.createdDirs, fileExists)
	w.changed = make(map[string]struct{})
	w.renamedFrom = nil
	w.created = nil
	w.renamedDirs = nil
	w.createdDirs = nil
	w.pendingMu.Unlock()

	if batch.Empty() {
		return
	}
	w.callbackMu.Lock()
	defer w.callbackMu.Unlock()
	w.onChange(batch)
}

// pairRenames matches each vanished rename source with the oldest unpaired
// created file of the same extension, and each vanished directory with the
// oldest unpaired created directory. Whatever stays unpaired is reported as
// a plain path change; unpaired created directories are already covered by
// their files.
func pairRenames(changed map[string]struct{}, renamedFrom, created, renamedDirs, createdDirs []string, exists func(string) bool) Batch {
	var batch Batch
	sameExt := func(a, b string) bool { return strings.EqualFold(filepath.Ext(a), filepath.Ext(b)) }
	batch.Renames = append(batch.Renames, pair(changed, renamedFrom, created, exists, sameExt)...)
	batch.Renames = append(batch.Renames, pair(changed, renamedDirs, createdDirs, exists, func(string, string) bool { return true })...)
	batch.Paths = util.SortedStringKeys(changed)
	return batch
}

func pair(changed map[string]struct{}, froms, tos []string, exists func(string) bool, match func(from, to string) bool) []Rename {
	var out []Rename
	used := make(map[string]bool, len(tos))
	for _, from := range froms {
		if exists(from) {
			changed[from] = struct{}{}
			continue
		}
		paired := false
		for _, to := range tos {
			if used[to] || to == from || !exists(to) || !match(from, to) {
				continue
			}
			used[to] = true
			paired = true
			out = append(out, Rename{From: from, To: to})
			delete(changed, to)
			break
		}
		if !paired {
			changed[from] = struct{}{}
		}
	}
	return out
}

func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func (w *Watcher) shouldExcludeFile(path string) bool {
	w.pendingMu.Lock()
	exts := w.extensions
	w.pendingMu.Unlock()
	if len(exts) > 0 && !exts[strings.ToLower(filepath.Ext(path))] {
		return true
	}
	return w.excludeFiles.MatchBase(path)
}

func (w *Watcher) enqueueExistingFiles(root string) {
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if w.shouldExcludeFile(path) {
			return nil
		}
		w.schedule(func() { w.changed[path] = struct{}{} })
		return nil
	})
}

func (w *Watcher) Close() error {
	w.pendingMu.Lock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pendingMu.Unlock()
	return w.fsWatcher.Close()
}
