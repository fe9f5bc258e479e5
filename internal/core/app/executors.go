package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"zira/internal/core/coordinator"
	"zira/internal/core/errors"
	"zira/internal/core/jobs"
	"zira/internal/core/ports"
	"zira/internal/engine/analyzer"
	"zira/internal/engine/process"
	"zira/internal/engine/scan"
	"zira/internal/engine/search"
)

// registerExecutors binds one executor per job kind.
func (a *App) registerExecutors(c *coordinator.Coordinator) {
	c.Register(jobs.KindLint, coordinator.ExecutorFunc(a.lint))
	c.Register(jobs.KindParseMixed, a.parser("php"))
	c.Register(jobs.KindParseJS, a.parser("javascript"))
	c.Register(jobs.KindParseCSS, a.parser("css"))
	c.Register(jobs.KindStyleCheck, coordinator.ExecutorFunc(a.styleCheck))
	c.Register(jobs.KindProjectScan, coordinator.ExecutorFunc(a.projectScan))
	c.Register(jobs.KindSearch, coordinator.ExecutorFunc(a.search))
	c.Register(jobs.KindQuickFind, coordinator.ExecutorFunc(a.quickFind))
	c.Register(jobs.KindVcsCommand, coordinator.ExecutorFunc(a.vcs))
	c.Register(jobs.KindExternalCommand, coordinator.ExecutorFunc(a.external))
	c.Register(jobs.KindCustom, coordinator.ExecutorFunc(custom))
}

func payloadAs[T any](job jobs.Job) (T, error) {
	switch p := job.Payload.(type) {
	case T:
		return p, nil
	case *T:
		if p != nil {
			return *p, nil
		}
	}
	var zero T
	return zero, errors.AddContext(
		errors.New(errors.CodeValidationError, fmt.Sprintf("unexpected payload %T", job.Payload)),
		errors.CtxKind, string(job.Kind))
}

// documentText returns text, or the file at path when text is empty.
func documentText(path string, text []byte) ([]byte, error) {
	if len(text) > 0 {
		return text, nil
	}
	if path == "" {
		return nil, errors.New(errors.CodeValidationError, "document has neither text nor path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		code := errors.CodeInternal
		if os.IsNotExist(err) {
			code = errors.CodeNotFound
		}
		return nil, errors.AddContext(errors.Wrap(err, code, "read document"), errors.CtxPath, path)
	}
	return data, nil
}

func (a *App) lint(ctx context.Context, job jobs.Job, report jobs.Reporter) (jobs.Output, error) {
	req, err := payloadAs[LintRequest](job)
	if err != nil {
		return jobs.Output{}, err
	}
	text, err := documentText(req.Path, req.Text)
	if err != nil {
		return jobs.Output{}, err
	}

	lang := req.Language
	if lang == "" {
		lang, _ = a.Analyzers.LanguageForPath(req.Path)
	}
	az, ok := a.Analyzers.ForLanguage(lang)
	if !ok {
		return jobs.Output{}, errors.AddContext(
			errors.New(errors.CodeNotSupported, "no analyzer for document"), errors.CtxPath, req.Path)
	}
	analysis, err := az.Analyze(ctx, text)
	if err != nil {
		return jobs.Output{}, err
	}
	report.Progress(50, "analyzed")

	diags := append([]ports.Diagnostic(nil), analysis.Errors...)
	if cmdline := a.settings().lintCommands[analysis.Language]; cmdline != "" {
		out, err := a.runTool(ctx, cmdline, nil, req.Path, req.Text)
		if err != nil {
			return jobs.Output{Payload: analysis}, err
		}
		diags = append(diags, parseToolOutput(out.Stdout+"\n"+out.Stderr, toolName(cmdline), "error")...)
	}
	return jobs.Output{Payload: analysis, Diagnostics: diags}, nil
}

func (a *App) parser(lang string) coordinator.Executor {
	return coordinator.ExecutorFunc(func(ctx context.Context, job jobs.Job, _ jobs.Reporter) (jobs.Output, error) {
		req, err := payloadAs[ParseRequest](job)
		if err != nil {
			return jobs.Output{}, err
		}
		text, err := documentText(req.Path, req.Text)
		if err != nil {
			return jobs.Output{}, err
		}
		az, ok := a.Analyzers.ForLanguage(lang)
		if !ok {
			return jobs.Output{}, errors.AddContext(errors.New(errors.CodeNotSupported, "analyzer not registered"), errors.CtxLanguage, lang)
		}
		analysis, err := az.Analyze(ctx, text)
		if err != nil {
			return jobs.Output{}, err
		}
		return jobs.Output{Payload: analysis, Diagnostics: analysis.Errors}, nil
	})
}

func (a *App) styleCheck(ctx context.Context, job jobs.Job, _ jobs.Reporter) (jobs.Output, error) {
	req, err := payloadAs[StyleRequest](job)
	if err != nil {
		return jobs.Output{}, err
	}
	s := a.settings()
	if s.styleCommand == "" {
		text, err := documentText(req.Path, req.Text)
		if err != nil {
			return jobs.Output{}, err
		}
		diags := analyzer.CheckStyle(text, analyzer.StyleOptions{MaxLineWidth: s.styleWidth})
		return jobs.Output{Payload: diags, Diagnostics: diags}, nil
	}

	var extra []string
	if req.Standard != "" {
		extra = append(extra, "--standard="+req.Standard)
	}
	out, err := a.runTool(ctx, s.styleCommand, extra, req.Path, req.Text)
	if err != nil {
		return jobs.Output{}, err
	}
	diags := parseToolOutput(out.Stdout, toolName(s.styleCommand), "warning")
	return jobs.Output{Payload: diags, Diagnostics: diags}, nil
}

func toolName(cmdline string) string {
	return filepath.Base(strings.Fields(cmdline)[0])
}

// runTool runs a configured checker. Saved documents are passed by path,
// unsaved text on stdin.
func (a *App) runTool(ctx context.Context, cmdline string, extra []string, path string, text []byte) (process.Output, error) {
	fields := strings.Fields(cmdline)
	cmd := ports.Command{Name: fields[0], Args: append(fields[1:len(fields):len(fields)], extra...)}
	if len(text) > 0 {
		cmd.Stdin = text
	} else {
		cmd.Args = append(cmd.Args, path)
	}
	if path != "" {
		cmd.Dir = filepath.Dir(path)
	}
	return a.Runner.Run(ctx, cmd)
}

func (a *App) projectScan(ctx context.Context, job jobs.Job, report jobs.Reporter) (jobs.Output, error) {
	req, err := payloadAs[ScanRequest](job)
	if err != nil {
		return jobs.Output{}, err
	}
	if req.Mode == "" {
		req.Mode = scan.ModeRefresh
	}
	x, err := a.Indexes.Open(ctx, req.Root)
	if err != nil {
		return jobs.Output{}, err
	}
	// Targeted scans on an index that was never completed would leave it
	// partial; fall back to a full scan.
	if req.Mode == scan.ModePaths && x.LoadStatus().NeedsRescan {
		a.logger.Info("index incomplete, scanning whole project", "root", x.Root(), "reason", x.LoadStatus().Reason)
		req.Mode = scan.ModeFull
	}

	paths := make([]string, 0, len(req.Paths))
	for _, p := range req.Paths {
		paths = append(paths, absUnder(x.Root(), p))
	}
	renames := make([]scan.Rename, 0, len(req.Renames))
	for _, r := range req.Renames {
		renames = append(renames, scan.Rename{From: absUnder(x.Root(), r.From), To: absUnder(x.Root(), r.To)})
	}

	res, err := a.Scanner.Run(ctx, x, scan.Request{Mode: req.Mode, Paths: paths, Renames: renames}, report)
	if err != nil {
		return jobs.Output{Payload: res}, err
	}

	var diags []ports.Diagnostic
	if a.settings().autosave && x.Dirty() {
		if err := a.Indexes.Save(x.Root()); err != nil {
			a.logger.Warn("index save failed", "root", x.Root(), "error", err)
			diags = append(diags, ports.Diagnostic{Message: "index not saved: " + err.Error(), Severity: "warning", Source: "index"})
		}
	}
	return jobs.Output{Payload: res, Diagnostics: diags}, nil
}

func absUnder(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, filepath.FromSlash(p))
}

func (a *App) search(ctx context.Context, job jobs.Job, report jobs.Reporter) (jobs.Output, error) {
	req, err := payloadAs[SearchRequest](job)
	if err != nil {
		return jobs.Output{}, err
	}
	s := a.settings()
	opts := req.Options
	if opts.ExcludeDirs == nil {
		opts.ExcludeDirs = s.searchExcludes
	}
	if opts.MaxLineWidth <= 0 {
		opts.MaxLineWidth = s.searchWidth
	}
	events, err := search.Stream(ctx, opts)
	if err != nil {
		return jobs.Output{}, err
	}
	for ev := range events {
		switch ev.Kind {
		case search.EventMatch:
			report.Item(ev.Match)
		case search.EventCancelled:
			return jobs.Output{Payload: ev.Summary}, errors.Wrap(context.Cause(ctx), errors.CodeCancelled, "search cancelled")
		case search.EventFinished:
			return jobs.Output{Payload: ev.Summary}, nil
		}
	}
	return jobs.Output{}, errors.New(errors.CodeInternal, "search ended without a terminal event")
}

func (a *App) quickFind(ctx context.Context, job jobs.Job, report jobs.Reporter) (jobs.Output, error) {
	req, err := payloadAs[QuickFindRequest](job)
	if err != nil {
		return jobs.Output{}, err
	}
	x, err := a.Indexes.Open(ctx, req.Root)
	if err != nil {
		return jobs.Output{}, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = a.settings().quickFindLimit
	}
	hits, err := search.QuickFind(ctx, x.Snapshot(), req.Text, limit, func(h search.Hit) { report.Item(h) })
	return jobs.Output{Payload: hits}, err
}

func (a *App) vcs(ctx context.Context, job jobs.Job, _ jobs.Reporter) (jobs.Output, error) {
	req, err := payloadAs[VcsRequest](job)
	if err != nil {
		return jobs.Output{}, err
	}
	confirmed := req.Confirmed || process.IsSafeGitCommand(req.Args, a.settings().safeGit...)
	cmd, err := process.GitCommand(req.Dir, req.Args, confirmed)
	if err != nil {
		return jobs.Output{}, err
	}
	out, err := a.Runner.Run(ctx, cmd)
	return jobs.Output{Payload: out}, err
}

func (a *App) external(ctx context.Context, job jobs.Job, _ jobs.Reporter) (jobs.Output, error) {
	req, err := payloadAs[CommandRequest](job)
	if err != nil {
		return jobs.Output{}, err
	}
	out, err := a.Runner.Run(ctx, ports.Command{Name: req.Name, Args: req.Args, Dir: req.Dir, Env: req.Env, Stdin: req.Stdin})
	return jobs.Output{Payload: out}, err
}

func custom(ctx context.Context, job jobs.Job, report jobs.Reporter) (jobs.Output, error) {
	fn, err := payloadAs[CustomFunc](job)
	if err != nil {
		return jobs.Output{}, err
	}
	if fn == nil {
		return jobs.Output{}, errors.New(errors.CodeValidationError, "custom job without a function")
	}
	v, err := fn(ctx, report)
	return jobs.Output{Payload: v}, err
}
