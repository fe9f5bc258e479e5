// Package scan keeps a project index in sync with the files on disk.
package scan

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"zira/internal/core/jobs"
	"zira/internal/core/ports"
	"zira/internal/engine/index"
	"zira/internal/shared/observability"
	"zira/internal/shared/util"
)

type Mode string

const (
	// ModeFull re-analyzes every matching file.
	ModeFull Mode = "full"
	// ModeRefresh re-analyzes files whose mtime or size changed.
	ModeRefresh Mode = "refresh"
	// ModePaths updates only the listed paths.
	ModePaths Mode = "paths"
)

func (m Mode) Valid() bool {
	return m == ModeFull || m == ModeRefresh || m == ModePaths
}

// DefaultMaxFileBytes skips generated or vendored blobs.
const DefaultMaxFileBytes = 2 << 20

const defaultPublishEvery = 50

type Options struct {
	// Extensions limits the scan; empty means every analyzable extension.
	Extensions []string
	// ExcludeDirs are globs matched against directory names.
	ExcludeDirs  []string
	MaxFileBytes int64
	// PublishEvery publishes the working copy after this many files.
	PublishEvery int
}

// Rename moves an indexed file without re-analysis.
type Rename struct {
	From string
	To   string
}

// Request selects what one Run touches. Paths and Renames are used only
// in ModePaths.
type Request struct {
	Mode    Mode
	Paths   []string
	Renames []Rename
}

// Result summarizes one run. Modified is set when the published index
// differs from the one before the run.
type Result struct {
	Scanned  int  `json:"scanned"`
	Skipped  int  `json:"skipped"`
	Removed  int  `json:"removed"`
	Failed   int  `json:"failed"`
	Modified bool `json:"modified"`
}

// Scanner analyzes project files into an index.
type Scanner struct {
	analyzers ports.AnalyzerRegistry
	opts      Options
	exts      map[string]bool
	excludes  util.GlobSet
	logger    *slog.Logger
}

func New(analyzers ports.AnalyzerRegistry, opts Options, logger *slog.Logger) (*Scanner, error) {
	if analyzers == nil {
		return nil, fmt.Errorf("scan: analyzer registry is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = DefaultMaxFileBytes
	}
	if opts.PublishEvery <= 0 {
		opts.PublishEvery = defaultPublishEvery
	}
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = analyzers.SupportedExtensions()
	}
	excludes, err := util.CompileGlobs(opts.ExcludeDirs)
	if err != nil {
		return nil, fmt.Errorf("scan exclude_dirs: %w", err)
	}
	return &Scanner{
		analyzers: analyzers,
		opts:      opts,
		exts:      util.NormalizeExtensions(exts),
		excludes:  excludes,
		logger:    logger,
	}, nil
}

// Run applies req to x. The index is published every PublishEvery files,
// at the end and on cancellation, so files finished before a cancel stay
// queryable. On cancellation the partial Result is returned with the
// context's cause.
func (s *Scanner) Run(ctx context.Context, x *index.ProjectIndex, req Request, report jobs.Reporter) (Result, error) {
	if report == nil {
		report = nopReporter{}
	}
	run := &run{Scanner: s, x: x, report: report}
	var err error
	switch req.Mode {
	case ModeFull, ModeRefresh:
		err = run.tree(ctx, req.Mode == ModeRefresh)
	case ModePaths:
		err = run.paths(ctx, req.Paths, req.Renames)
	default:
		return Result{}, fmt.Errorf("unknown scan mode %q", req.Mode)
	}
	x.Publish()
	if err != nil {
		return run.res, err
	}
	if req.Mode != ModePaths {
		x.MarkComplete()
	}
	report.Progress(100, "done")
	return run.res, nil
}

type run struct {
	*Scanner
	x       *index.ProjectIndex
	report  jobs.Reporter
	res     Result
	pending int
}

func (r *run) tree(ctx context.Context, refresh bool) error {
	r.report.Progress(0, "listing files")
	files, err := r.list(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(files))
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}
		key := r.x.Rel(path)
		seen[key] = true
		if err := r.file(ctx, path, key, refresh); err != nil {
			return err
		}
		r.report.Progress(i*100/len(files), key)
	}

	for _, key := range r.x.Keys() {
		if !seen[key] && r.x.Remove(key) {
			r.res.Removed++
			r.res.Modified = true
		}
	}
	return nil
}

func (r *run) paths(ctx context.Context, paths []string, renames []Rename) error {
	for _, mv := range renames {
		from, to := r.x.Rel(mv.From), r.x.Rel(mv.To)
		if r.x.Rename(from, to) {
			r.res.Modified = true
			r.logger.Debug("index entry renamed", "from", from, "to", to)
			continue
		}
		// A renamed directory moves every entry below it.
		for _, key := range r.x.Keys() {
			if key != from && util.HasPathPrefix(key, from) && r.x.Rename(key, to+strings.TrimPrefix(key, from)) {
				r.res.Modified = true
			}
		}
	}

	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}
		if !filepath.IsAbs(path) {
			path = r.x.Abs(path)
		}
		key := r.x.Rel(path)

		st, err := os.Stat(path)
		switch {
		case stdErrors.Is(err, fs.ErrNotExist):
			r.removeUnder(key)
		case err != nil:
			r.res.Failed++
			observability.ScanFilesTotal.WithLabelValues("failed").Inc()
			r.logger.Warn("stat failed during scan", "path", path, "error", err)
		case st.IsDir():
			if err := r.dir(ctx, path); err != nil {
				return err
			}
		default:
			if err := r.file(ctx, path, key, false); err != nil {
				return err
			}
		}
		r.report.Progress(i*100/len(paths), key)
	}
	return nil
}

// removeUnder drops key and, for a deleted directory, every entry below it.
func (r *run) removeUnder(key string) {
	for _, k := range r.x.Keys() {
		if util.HasPathPrefix(k, key) && r.x.Remove(k) {
			r.res.Removed++
			r.res.Modified = true
		}
	}
}

// dir indexes a directory that appeared after the last full scan.
func (r *run) dir(ctx context.Context, path string) error {
	var files []string
	err := r.walk(ctx, path, func(p string) { files = append(files, p) })
	if err != nil {
		return err
	}
	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}
		if err := r.file(ctx, p, r.x.Rel(p), false); err != nil {
			return err
		}
	}
	return nil
}

// file indexes one path. Only cancellation is returned as an error; per
// file failures are counted and logged.
func (r *run) file(ctx context.Context, path, key string, refresh bool) error {
	if !r.wanted(key) {
		if r.x.Remove(key) {
			r.res.Removed++
			r.res.Modified = true
		}
		return nil
	}

	st, err := os.Stat(path)
	if err != nil {
		r.fail(path, err)
		return nil
	}
	info := index.FileInfo{ModTime: st.ModTime().UTC(), Size: st.Size()}
	if st.Size() > r.opts.MaxFileBytes {
		r.skip()
		return nil
	}
	if refresh {
		if prev, ok := r.x.Entry(key); ok && prev.Size == info.Size && prev.ModTime.Equal(info.ModTime) {
			r.skip()
			return nil
		}
	}

	analyzer, ok := r.analyzers.ForPath(path)
	if !ok {
		r.skip()
		return nil
	}
	text, err := os.ReadFile(path)
	if err != nil {
		r.fail(path, err)
		return nil
	}
	analysis, err := analyzer.Analyze(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		r.fail(path, err)
		return nil
	}

	_, existed := r.x.Entry(key)
	delta := r.x.Apply(key, info, analysis.Declarations)
	if !existed || !delta.Empty() {
		r.res.Modified = true
	}
	r.res.Scanned++
	observability.ScanFilesTotal.WithLabelValues("scanned").Inc()

	r.pending++
	if r.pending >= r.opts.PublishEvery {
		r.pending = 0
		r.x.Publish()
	}
	return nil
}

func (r *run) skip() {
	r.res.Skipped++
	observability.ScanFilesTotal.WithLabelValues("skipped").Inc()
}

func (r *run) fail(path string, err error) {
	r.res.Failed++
	observability.ScanFilesTotal.WithLabelValues("failed").Inc()
	r.logger.Warn("file skipped during scan", "path", path, "error", err)
}

func (s *Scanner) wanted(key string) bool {
	if s.excludes.MatchAnyDir(key) {
		return false
	}
	return s.exts[strings.ToLower(filepath.Ext(key))]
}

// list returns every candidate file under the root in sorted order.
func (r *run) list(ctx context.Context) ([]string, error) {
	var files []string
	if err := r.walk(ctx, r.x.Root(), func(p string) { files = append(files, p) }); err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}

func (r *run) walk(ctx context.Context, root string, visit func(string)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return context.Cause(ctx)
		}
		if err != nil {
			if path == root {
				return err
			}
			r.logger.Warn("walk error", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && r.excludes.MatchBase(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if r.wanted(r.x.Rel(path)) {
			visit(path)
		}
		return nil
	})
}

type nopReporter struct{}

func (nopReporter) Progress(int, string) {}
func (nopReporter) Item(any)             {}
