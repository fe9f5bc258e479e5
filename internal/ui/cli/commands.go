package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	coreapp "zira/internal/core/app"
	"zira/internal/core/config"
	"zira/internal/core/jobs"
	"zira/internal/engine/index"
	"zira/internal/engine/process"
	"zira/internal/engine/scan"
	"zira/internal/engine/search"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

const exitCancelled = 130

// exitCode reports a finished job. Errors are printed to errOut.
func (s *session) exitCode(res jobs.JobResult) int {
	switch res.Outcome {
	case jobs.OutcomeSuccess:
		return 0
	case jobs.OutcomeCancelled:
		fmt.Fprintf(s.errOut, "%s cancelled\n", res.Kind)
		return exitCancelled
	}
	for _, e := range res.Errors {
		fmt.Fprintf(s.errOut, "%s failed: %s (%s)\n", res.Kind, e.Message, e.Source)
	}
	return 1
}

func (s *session) run(ctx context.Context, kind jobs.Kind, payload any) (jobs.JobResult, bool) {
	res, err := s.app.Run(ctx, kind, jobs.NoOwner, payload)
	if err != nil {
		fmt.Fprintf(s.errOut, "%s: %v\n", kind, err)
		return jobs.JobResult{}, false
	}
	return res, true
}

// ensureIndex opens the project index and runs a full scan first when the
// stored snapshot could not be used.
func (s *session) ensureIndex(ctx context.Context) (*index.ProjectIndex, int) {
	x, err := s.app.Indexes.Open(ctx, s.root())
	if err != nil {
		fmt.Fprintf(s.errOut, "open index: %v\n", err)
		return nil, 1
	}
	st := x.LoadStatus()
	if !st.NeedsRescan {
		return x, 0
	}
	fmt.Fprintf(s.errOut, "index incomplete (%s), scanning %s\n", st.Reason, s.root())
	res, ok := s.run(ctx, jobs.KindProjectScan, coreapp.ScanRequest{Root: s.root(), Mode: scan.ModeFull})
	if !ok {
		return nil, 1
	}
	if code := s.exitCode(res); code != 0 {
		return nil, code
	}
	return x, 0
}

func runScan(ctx context.Context, s *session) int {
	mode := scan.Mode(s.opts.mode)
	if mode == "" {
		mode = scan.ModeRefresh
		if len(s.opts.args) > 0 {
			mode = scan.ModePaths
		}
	}
	if !mode.Valid() {
		fmt.Fprintf(s.errOut, "unknown scan mode %q\n", mode)
		return 2
	}
	req := coreapp.ScanRequest{Root: s.root(), Mode: mode, Paths: s.opts.args}

	var res jobs.JobResult
	if s.opts.ui {
		r, err := runJobUI(ctx, s.app, "Scanning "+s.root(), jobs.KindProjectScan, req)
		if err != nil {
			fmt.Fprintf(s.errOut, "scan: %v\n", err)
			return 1
		}
		res = r
	} else {
		r, ok := s.run(ctx, jobs.KindProjectScan, req)
		if !ok {
			return 1
		}
		res = r
	}
	if s.opts.json {
		return s.writeJSONResult(res)
	}
	if code := s.exitCode(res); code != 0 {
		return code
	}
	sum, _ := res.Payload.(scan.Result)
	fmt.Fprintf(s.out, "scanned %s files (%d skipped, %d removed, %d failed) in %s\n",
		humanize.Comma(int64(sum.Scanned)), sum.Skipped, sum.Removed, sum.Failed, res.Duration().Round(time.Millisecond))
	for _, d := range res.Diagnostics {
		fmt.Fprintf(s.errOut, "warning: %s\n", d.Message)
	}
	if x, ok := s.app.Indexes.Get(s.root()); ok {
		snap := x.Snapshot()
		line := fmt.Sprintf("index: %s files, %s declarations",
			humanize.Comma(int64(snap.FileCount())), humanize.Comma(int64(snap.DeclarationCount())))
		if st, err := os.Stat(s.app.Indexes.SnapshotPath(s.root())); err == nil {
			line += fmt.Sprintf(" (%s on disk)", humanize.Bytes(uint64(st.Size())))
		}
		fmt.Fprintln(s.out, line)
	}
	return 0
}

func runFind(ctx context.Context, s *session) int {
	if len(s.opts.args) != 1 {
		fmt.Fprintln(s.errOut, "usage: zira find <name>")
		return 2
	}
	x, code := s.ensureIndex(ctx)
	if code != 0 {
		return code
	}
	loc, ok := x.Snapshot().FindDeclaration(s.opts.args[0])
	if !ok {
		fmt.Fprintf(s.errOut, "%s: not declared\n", s.opts.args[0])
		return 1
	}
	if s.opts.json {
		return s.writeJSON(loc)
	}
	fmt.Fprintf(s.out, "%s:%d:%d: %s %s\n", loc.Path, loc.Line, loc.Column, loc.Kind, loc.FullName)
	return 0
}

func runPrefix(ctx context.Context, s *session) int {
	if len(s.opts.args) != 1 {
		fmt.Fprintln(s.errOut, "usage: zira prefix <text>")
		return 2
	}
	x, code := s.ensureIndex(ctx)
	if code != 0 {
		return code
	}
	var out []index.Location
	for d := range x.Snapshot().FindAllByPrefix(s.opts.args[0]) {
		out = append(out, d.Location())
		if s.opts.limit > 0 && len(out) >= s.opts.limit {
			break
		}
	}
	if s.opts.json {
		return s.writeJSON(out)
	}
	for _, loc := range out {
		fmt.Fprintf(s.out, "%s:%d:%d: %s %s\n", loc.Path, loc.Line, loc.Column, loc.Kind, loc.FullName)
	}
	if len(out) == 0 {
		return 1
	}
	return 0
}

func runSearch(ctx context.Context, s *session) int {
	if len(s.opts.args) != 1 {
		fmt.Fprintln(s.errOut, "usage: zira search <pattern>")
		return 2
	}
	opts := search.Options{
		Root:          s.root(),
		Pattern:       s.opts.args[0],
		Mode:          search.MatchLiteral,
		CaseSensitive: s.opts.caseSensitive,
		Extensions:    splitList(s.opts.exts),
	}
	switch {
	case s.opts.regex:
		opts.Mode = search.MatchRegex
	case s.opts.word:
		opts.Mode = search.MatchWord
	}
	// Reject a bad pattern before queueing.
	if _, err := search.Compile(opts); err != nil {
		fmt.Fprintf(s.errOut, "search: %v\n", err)
		return 2
	}
	req := coreapp.SearchRequest{Options: opts}

	if s.opts.ui {
		res, err := runJobUI(ctx, s.app, "Searching for "+opts.Pattern, jobs.KindSearch, req)
		if err != nil {
			fmt.Fprintf(s.errOut, "search: %v\n", err)
			return 1
		}
		return s.exitCode(res)
	}

	var matches []search.Match
	s.app.Coordinator.OnProgress(func(p jobs.Progress) {
		m, ok := p.Item.(search.Match)
		if !ok || p.Kind != jobs.KindSearch {
			return
		}
		if s.opts.json {
			matches = append(matches, m)
			return
		}
		fmt.Fprintf(s.out, "%s:%d:%d: %s\n", m.File, m.Line, m.Column, m.Text)
	})
	res, ok := s.run(ctx, jobs.KindSearch, req)
	if !ok {
		return 1
	}
	if s.opts.json {
		return s.writeJSON(matches)
	}
	if code := s.exitCode(res); code != 0 {
		return code
	}
	if sum, _ := res.Payload.(search.Summary); sum.Matches == 0 {
		return 1
	}
	return 0
}

func runQuickFind(ctx context.Context, s *session) int {
	if len(s.opts.args) != 1 {
		fmt.Fprintln(s.errOut, "usage: zira quickfind <text>")
		return 2
	}
	if _, code := s.ensureIndex(ctx); code != 0 {
		return code
	}
	res, ok := s.run(ctx, jobs.KindQuickFind, coreapp.QuickFindRequest{Root: s.root(), Text: s.opts.args[0], Limit: s.opts.limit})
	if !ok {
		return 1
	}
	if code := s.exitCode(res); code != 0 {
		return code
	}
	hits, _ := res.Payload.([]search.Hit)
	if s.opts.json {
		return s.writeJSON(hits)
	}
	for _, h := range hits {
		if h.Line > 0 {
			fmt.Fprintf(s.out, "%s\t%s:%d\n", h.Label, h.Path, h.Line)
		} else {
			fmt.Fprintf(s.out, "%s\n", h.Path)
		}
	}
	if len(hits) == 0 {
		return 1
	}
	return 0
}

// checkFiles runs one document job per file and prints its diagnostics.
// The exit code is 1 when any file has an error diagnostic.
func checkFiles(ctx context.Context, s *session, kind jobs.Kind, payload func(path string) any) int {
	if len(s.opts.args) == 0 {
		fmt.Fprintf(s.errOut, "usage: zira %s <file>...\n", s.opts.command)
		return 2
	}
	exit := 0
	var all []jobs.JobResult
	for _, arg := range s.opts.args {
		path := config.ResolveRelative(mustGetwd(), arg)
		res, ok := s.run(ctx, kind, payload(path))
		if !ok {
			return 1
		}
		if code := s.exitCode(res); code != 0 {
			if code == exitCancelled {
				return code
			}
			exit = code
			continue
		}
		if s.opts.json {
			all = append(all, res)
			continue
		}
		for _, d := range res.Diagnostics {
			fmt.Fprintf(s.out, "%s:%d:%d: %s: %s", arg, d.Line, d.Column, d.Severity, d.Message)
			if d.Source != "" {
				fmt.Fprintf(s.out, " [%s]", d.Source)
			}
			fmt.Fprintln(s.out)
			if d.Severity == "error" {
				exit = 1
			}
		}
	}
	if s.opts.json {
		if code := s.writeJSON(all); code != 0 {
			return code
		}
	}
	return exit
}

func runLint(ctx context.Context, s *session) int {
	return checkFiles(ctx, s, jobs.KindLint, func(path string) any {
		return coreapp.LintRequest{Path: path, Language: s.opts.language}
	})
}

func runStyle(ctx context.Context, s *session) int {
	return checkFiles(ctx, s, jobs.KindStyleCheck, func(path string) any {
		return coreapp.StyleRequest{Path: path, Standard: s.opts.standard}
	})
}

func runGit(ctx context.Context, s *session) int {
	if len(s.opts.args) == 0 {
		fmt.Fprintln(s.errOut, "usage: zira git <args>...")
		return 2
	}
	res, ok := s.run(ctx, jobs.KindVcsCommand, coreapp.VcsRequest{Dir: s.root(), Args: s.opts.args, Confirmed: s.opts.confirm})
	if !ok {
		return 1
	}
	return s.printProcess(res)
}

func runExternal(ctx context.Context, s *session) int {
	if len(s.opts.args) == 0 {
		fmt.Fprintln(s.errOut, "usage: zira run <program> [args]...")
		return 2
	}
	res, ok := s.run(ctx, jobs.KindExternalCommand, coreapp.CommandRequest{
		Name: s.opts.args[0],
		Args: s.opts.args[1:],
		Dir:  s.root(),
	})
	if !ok {
		return 1
	}
	return s.printProcess(res)
}

func (s *session) printProcess(res jobs.JobResult) int {
	if code := s.exitCode(res); code != 0 {
		if res.Outcome == jobs.OutcomeErrors && strings.Contains(res.Errors[0].Message, "confirmation") {
			fmt.Fprintln(s.errOut, "rerun with --confirm to allow it")
		}
		return code
	}
	out, _ := res.Payload.(process.Output)
	if s.opts.json {
		return s.writeJSON(out)
	}
	fmt.Fprint(s.out, out.Stdout)
	fmt.Fprint(s.errOut, out.Stderr)
	return out.ExitCode
}

func runWatch(ctx context.Context, s *session) int {
	if _, code := s.ensureIndex(ctx); code != 0 {
		return code
	}
	res, ok := s.run(ctx, jobs.KindProjectScan, coreapp.ScanRequest{Root: s.root(), Mode: scan.ModeRefresh})
	if !ok {
		return 1
	}
	if code := s.exitCode(res); code != 0 {
		return code
	}
	if s.app.Config.Watch.IsEnabled() {
		if err := s.app.StartWatcher(s.root()); err != nil {
			fmt.Fprintf(s.errOut, "watch: %v\n", err)
			return 1
		}
	} else {
		fmt.Fprintln(s.errOut, "file watching is disabled by watch.enabled")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if s.cfgPath != "" {
		cw := config.NewWatcher(s.cfgPath, s.app.ApplyConfig)
		if err := cw.Start(gctx); err != nil {
			fmt.Fprintf(s.errOut, "config reload disabled: %v\n", err)
		} else {
			defer cw.Stop()
		}
	}
	if addr := s.app.Config.Observability.MetricsAddr; addr != "" {
		srv := NewObservabilityServer(addr, coreapp.NewHealthService(s.app))
		g.Go(func() error { return srv.Serve(gctx) })
	}

	if s.opts.ui {
		g.Go(func() error {
			defer cancel()
			return runWatchUI(gctx, s.app, "Watching "+s.root())
		})
	} else {
		s.app.Coordinator.OnResult(func(r jobs.JobResult) {
			if r.Kind != jobs.KindProjectScan {
				return
			}
			sum, _ := r.Payload.(scan.Result)
			fmt.Fprintf(s.out, "%s reindexed %d files (%d removed) in %s\n",
				r.Finished.Format("15:04:05"), sum.Scanned, sum.Removed, r.Duration().Round(time.Millisecond))
		})
		fmt.Fprintf(s.out, "watching %s; press Ctrl+C to stop\n", s.root())
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintf(s.errOut, "watch: %v\n", err)
		return 1
	}
	return 0
}

func runJournal(ctx context.Context, s *session) int {
	j := s.app.Journal
	if j == nil {
		fmt.Fprintln(s.errOut, "journal is disabled")
		return 1
	}
	if s.opts.clear {
		if err := j.Clear(ctx); err != nil {
			fmt.Fprintf(s.errOut, "journal: %v\n", err)
			return 1
		}
		return 0
	}
	limit := s.opts.limit
	if limit <= 0 {
		limit = 20
	}
	entries, err := j.Recent(ctx, jobs.Kind(s.opts.kind), limit)
	if err != nil {
		fmt.Fprintf(s.errOut, "journal: %v\n", err)
		return 1
	}
	if s.opts.json {
		return s.writeJSON(entries)
	}
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tKIND\tOUTCOME\tDURATION\tDIAGNOSTICS\tOWNER")
	for _, e := range entries {
		outcome := string(e.Outcome)
		if e.Stale {
			outcome += " (stale)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			humanize.Time(e.Delivered), e.Kind, outcome, e.Duration().Round(time.Millisecond), len(e.Diagnostics), e.Owner)
	}
	if err := tw.Flush(); err != nil {
		return 1
	}
	return 0
}

func runHealth(ctx context.Context, s *session) int {
	status := coreapp.NewHealthService(s.app).Check(ctx)
	if code := s.writeJSON(status); code != 0 {
		return code
	}
	if status.Status != "up" {
		return 1
	}
	return 0
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func mustGetwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}
