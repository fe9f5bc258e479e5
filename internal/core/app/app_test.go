package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"zira/internal/core/config"
	"zira/internal/core/jobs"
	"zira/internal/core/ports"
	"zira/internal/core/watcher"
	"zira/internal/engine/process"
	"zira/internal/engine/scan"
	"zira/internal/engine/search"
)

func newTestApp(t *testing.T, mutate func(*config.Config)) (*App, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	off := false
	cfg.Journal.Enabled = &off
	if mutate != nil {
		mutate(cfg)
	}
	state := filepath.Join(root, ".zira")
	paths := config.ResolvedPaths{
		ProjectRoot: root,
		StateDir:    state,
		JournalPath: filepath.Join(state, "journal.db"),
	}
	a, err := New(cfg, paths, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		if err := a.Close(context.Background()); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return a, root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func run(t *testing.T, a *App, kind jobs.Kind, owner jobs.Owner, payload any) jobs.JobResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := a.Run(ctx, kind, owner, payload)
	if err != nil {
		t.Fatalf("Run(%s): %v", kind, err)
	}
	return res
}

func focusedTab(a *App, path string) jobs.Owner {
	owner := a.Owners.Open(path)
	a.Owners.Focus(owner)
	return owner
}

func TestParseCSS_ValidRule(t *testing.T) {
	a, _ := newTestApp(t, nil)
	owner := focusedTab(a, "style.css")

	res := run(t, a, jobs.KindParseCSS, owner, ParseRequest{Text: []byte(".a{color:red}")})
	if res.Outcome != jobs.OutcomeSuccess {
		t.Fatalf("outcome = %s, errors %v", res.Outcome, res.Errors)
	}
	if res.Stale {
		t.Fatal("result for a focused tab must not be stale")
	}
	analysis, ok := res.Payload.(ports.Analysis)
	if !ok {
		t.Fatalf("payload is %T", res.Payload)
	}
	if len(analysis.Declarations) != 0 || len(analysis.Errors) != 0 {
		t.Fatalf("expected no findings, got %+v", analysis)
	}
}

func TestLint_InvalidSyntaxHasLine(t *testing.T) {
	a, root := newTestApp(t, nil)
	path := filepath.Join(root, "bad.php")
	writeFile(t, path, "<?php\n$a = [1, 2]];\n")

	res := run(t, a, jobs.KindLint, focusedTab(a, path), LintRequest{Path: path})
	if res.Outcome != jobs.OutcomeSuccess {
		t.Fatalf("outcome = %s, errors %v", res.Outcome, res.Errors)
	}
	if len(res.Diagnostics) == 0 {
		t.Fatal("expected a diagnostic")
	}
	if res.Diagnostics[0].Line <= 0 {
		t.Fatalf("diagnostic without a line: %+v", res.Diagnostics[0])
	}
}

func TestLint_MissingFileIsError(t *testing.T) {
	a, root := newTestApp(t, nil)
	res := run(t, a, jobs.KindLint, jobs.NoOwner, LintRequest{Path: filepath.Join(root, "gone.php")})
	if res.Outcome != jobs.OutcomeErrors {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if got := res.Errors[0].Source; got != "NOT_FOUND" {
		t.Fatalf("error source = %q", got)
	}
}

func TestLint_ExternalChecker(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script checker")
	}
	dir := t.TempDir()
	checker := filepath.Join(dir, "phpcheck")
	writeFile(t, checker, "#!/bin/sh\necho \"PHP Parse error: syntax error in $1 on line 3\"\nexit 255\n")
	if err := os.Chmod(checker, 0o755); err != nil {
		t.Fatal(err)
	}
	a, root := newTestApp(t, func(cfg *config.Config) {
		cfg.Lint.Commands = map[string]string{"php": checker}
	})
	path := filepath.Join(root, "ok.php")
	writeFile(t, path, "<?php\nfunction f() {}\n")

	res := run(t, a, jobs.KindLint, jobs.NoOwner, LintRequest{Path: path})
	if res.Outcome != jobs.OutcomeSuccess {
		t.Fatalf("outcome = %s, errors %v", res.Outcome, res.Errors)
	}
	if len(res.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %+v", res.Diagnostics)
	}
	if d := res.Diagnostics[0]; d.Line != 3 || d.Source != "phpcheck" {
		t.Fatalf("diagnostic = %+v", d)
	}
}

func TestStyleCheck_BuiltIn(t *testing.T) {
	a, _ := newTestApp(t, func(cfg *config.Config) { cfg.Style.MaxLineWidth = 20 })
	text := "<?php \n$long = 'aaaaaaaaaaaaaaaaaaaaaaa';"
	res := run(t, a, jobs.KindStyleCheck, jobs.NoOwner, StyleRequest{Text: []byte(text)})
	if res.Outcome != jobs.OutcomeSuccess {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	lines := map[int]bool{}
	for _, d := range res.Diagnostics {
		lines[d.Line] = true
	}
	if !lines[1] || !lines[2] {
		t.Fatalf("expected findings on lines 1 and 2, got %+v", res.Diagnostics)
	}
}

func TestVcs_UnconfirmedMutationDenied(t *testing.T) {
	a, root := newTestApp(t, nil)
	res := run(t, a, jobs.KindVcsCommand, jobs.NoOwner, VcsRequest{Dir: root, Args: []string{"push", "--force"}})
	if res.Outcome != jobs.OutcomeErrors {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if got := res.Errors[0].Source; got != "PERMISSION_DENIED" {
		t.Fatalf("error source = %q", got)
	}
}

func TestVcs_ConfiguredSafeCommandStillChecksArgs(t *testing.T) {
	a, root := newTestApp(t, func(cfg *config.Config) { cfg.VCS.SafeCommands = []string{"stash"} })
	res := run(t, a, jobs.KindVcsCommand, jobs.NoOwner, VcsRequest{Dir: root, Args: []string{"stash", "clear"}})
	if res.Outcome != jobs.OutcomeErrors {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if got := res.Errors[0].Source; got != "PERMISSION_DENIED" {
		t.Fatalf("error source = %q", got)
	}
}

func TestExternalCommand_NonZeroExitIsSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	a, root := newTestApp(t, nil)
	res := run(t, a, jobs.KindExternalCommand, jobs.NoOwner, CommandRequest{
		Name: "sh",
		Args: []string{"-c", "echo out; exit 3"},
		Dir:  root,
	})
	if res.Outcome != jobs.OutcomeSuccess {
		t.Fatalf("outcome = %s, errors %v", res.Outcome, res.Errors)
	}
	out := res.Payload.(process.Output)
	if out.ExitCode != 3 || out.Stdout != "out\n" {
		t.Fatalf("output = %+v", out)
	}

	res = run(t, a, jobs.KindExternalCommand, jobs.NoOwner, CommandRequest{Name: "zira-no-such-program"})
	if res.Outcome != jobs.OutcomeErrors {
		t.Fatalf("spawn failure outcome = %s", res.Outcome)
	}
}

func TestProjectScan_SavesAndQuickFinds(t *testing.T) {
	a, root := newTestApp(t, nil)
	writeFile(t, filepath.Join(root, "src", "repo.php"), "<?php\nclass Repo {\n  function find() {}\n}\n")
	writeFile(t, filepath.Join(root, "web", "app.js"), "function render() {}\n")
	owner := a.Owners.OpenProject(root)

	res := run(t, a, jobs.KindProjectScan, owner, ScanRequest{Root: root, Mode: scan.ModeFull})
	if res.Outcome != jobs.OutcomeSuccess {
		t.Fatalf("scan outcome = %s, errors %v", res.Outcome, res.Errors)
	}
	summary := res.Payload.(scan.Result)
	if summary.Scanned != 2 || !summary.Modified {
		t.Fatalf("scan result = %+v", summary)
	}
	if _, err := os.Stat(a.Indexes.SnapshotPath(root)); err != nil {
		t.Fatalf("snapshot not saved: %v", err)
	}

	res = run(t, a, jobs.KindQuickFind, owner, QuickFindRequest{Root: root, Text: "re"})
	hits := res.Payload.([]search.Hit)
	labels := map[string]bool{}
	for _, h := range hits {
		labels[h.Label] = true
	}
	if !labels["class: Repo"] || !labels["function: render"] {
		t.Fatalf("hits = %+v", hits)
	}

	// A targeted scan removes a deleted file.
	if err := os.Remove(filepath.Join(root, "web", "app.js")); err != nil {
		t.Fatal(err)
	}
	run(t, a, jobs.KindProjectScan, owner, ScanRequest{Root: root, Mode: scan.ModePaths, Paths: []string{"web/app.js"}})
	x, _ := a.Indexes.Get(root)
	if _, ok := x.Snapshot().FindDeclaration("render"); ok {
		t.Fatal("declaration of a deleted file is still indexed")
	}
}

func TestSearch_CancelAfterSecondFile(t *testing.T) {
	a, root := newTestApp(t, func(cfg *config.Config) { cfg.Coordinator.EventBuffer = 1 })
	writeFile(t, filepath.Join(root, "1.txt"), "TODO one\n")
	writeFile(t, filepath.Join(root, "2.txt"), "TODO two\nTODO two again\n")
	writeFile(t, filepath.Join(root, "3.txt"), "TODO three\n")

	var (
		mu    sync.Mutex
		files []string
	)
	a.Coordinator.OnProgress(func(p jobs.Progress) {
		if p.Kind != jobs.KindSearch || p.Item == nil {
			return
		}
		m := p.Item.(search.Match)
		mu.Lock()
		files = append(files, m.File)
		first := len(files) == 1
		mu.Unlock()
		if first {
			// Hold the dispatcher until the worker is blocked inside 2.txt.
			time.Sleep(100 * time.Millisecond)
			a.Coordinator.CancelCurrent()
		}
	})

	res := run(t, a, jobs.KindSearch, jobs.NoOwner, SearchRequest{search.Options{Root: root, Pattern: "TODO"}})
	if res.Outcome != jobs.OutcomeCancelled {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if got := res.Payload.(search.Summary); got.Files != 2 || got.Matches != 3 {
		t.Fatalf("summary = %+v", got)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{"1.txt", "2.txt", "2.txt"}
	if len(files) != len(want) {
		t.Fatalf("delivered %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("delivered %v, want %v", files, want)
		}
	}
}

func TestStaleLint_TabClosedWhileQueued(t *testing.T) {
	a, root := newTestApp(t, nil)
	path := filepath.Join(root, "a.php")
	writeFile(t, path, "<?php\n")

	release := make(chan struct{})
	blocker, err := a.Submit(jobs.KindCustom, jobs.NoOwner, CustomFunc(func(ctx context.Context, _ jobs.Reporter) (any, error) {
		<-release
		return nil, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	owner := focusedTab(a, path)
	h, err := a.Submit(jobs.KindLint, owner, LintRequest{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	a.Owners.Close(owner)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, _, err := blocker.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	res, ok, err := h.Wait(ctx)
	if err != nil || !ok {
		t.Fatalf("lint result not delivered: ok=%v err=%v", ok, err)
	}
	if !res.Stale {
		t.Fatal("result for a closed tab must be stale")
	}
}

func TestHandleChanges_SubmitsTargetedScan(t *testing.T) {
	a, root := newTestApp(t, nil)
	owner := a.Owners.OpenProject(root)
	writeFile(t, filepath.Join(root, "old.js"), "function moved() {}\n")
	run(t, a, jobs.KindProjectScan, owner, ScanRequest{Root: root, Mode: scan.ModeFull})

	if err := os.Rename(filepath.Join(root, "old.js"), filepath.Join(root, "new.js")); err != nil {
		t.Fatal(err)
	}
	done := make(chan jobs.JobResult, 1)
	a.Coordinator.OnResult(func(r jobs.JobResult) {
		if r.Kind == jobs.KindProjectScan {
			done <- r
		}
	})
	a.HandleChanges(root, owner, watcher.Batch{Renames: []watcher.Rename{{
		From: filepath.Join(root, "old.js"),
		To:   filepath.Join(root, "new.js"),
	}}})

	select {
	case r := <-done:
		if r.Outcome != jobs.OutcomeSuccess {
			t.Fatalf("outcome = %s", r.Outcome)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no scan result")
	}
	x, _ := a.Indexes.Get(root)
	loc, ok := x.Snapshot().FindDeclaration("moved")
	if !ok || loc.Path != "new.js" {
		t.Fatalf("moved declaration at %+v (found %v)", loc, ok)
	}
}

func TestHandleChanges_DirectoryMovedAndDeleted(t *testing.T) {
	a, root := newTestApp(t, nil)
	owner := a.Owners.OpenProject(root)
	writeFile(t, filepath.Join(root, "lib", "repo.php"), "<?php\nclass Repo {}\n")
	writeFile(t, filepath.Join(root, "old", "util.js"), "function helper() {}\n")
	run(t, a, jobs.KindProjectScan, owner, ScanRequest{Root: root, Mode: scan.ModeFull})

	done := make(chan jobs.JobResult, 2)
	a.Coordinator.OnResult(func(r jobs.JobResult) {
		if r.Kind == jobs.KindProjectScan {
			done <- r
		}
	})
	waitScan := func() {
		t.Helper()
		select {
		case r := <-done:
			if r.Outcome != jobs.OutcomeSuccess {
				t.Fatalf("outcome = %s, errors %v", r.Outcome, r.Errors)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("no scan result")
		}
	}

	if err := os.Rename(filepath.Join(root, "lib"), filepath.Join(root, "src")); err != nil {
		t.Fatal(err)
	}
	a.HandleChanges(root, owner, watcher.Batch{Renames: []watcher.Rename{{
		From: filepath.Join(root, "lib"),
		To:   filepath.Join(root, "src"),
	}}})
	waitScan()
	x, _ := a.Indexes.Get(root)
	loc, ok := x.Snapshot().FindDeclaration("Repo")
	if !ok || loc.Path != "src/repo.php" {
		t.Fatalf("Repo declaration at %+v (found %v)", loc, ok)
	}

	if err := os.RemoveAll(filepath.Join(root, "old")); err != nil {
		t.Fatal(err)
	}
	a.HandleChanges(root, owner, watcher.Batch{Paths: []string{filepath.Join(root, "old")}})
	waitScan()
	if _, ok := x.Snapshot().FindDeclaration("helper"); ok {
		t.Fatal("declarations under a deleted directory are still indexed")
	}
}

func TestHealth_ReportsComponents(t *testing.T) {
	a, _ := newTestApp(t, nil)
	st := NewHealthService(a).Check(context.Background())
	if st.Status != "up" {
		t.Fatalf("status = %s", st.Status)
	}
	if st.Components["coordinator"] != "running" || st.Components["journal"] != "disabled" || st.Components["queue"] != "0 pending" {
		t.Fatalf("components = %v", st.Components)
	}
}

func TestRun_BeforeStartIsUnavailable(t *testing.T) {
	cfg := config.Default()
	a, err := New(cfg, config.ResolvedPaths{StateDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Run(context.Background(), jobs.KindParseCSS, jobs.NoOwner, ParseRequest{Text: []byte("a{}")}); err == nil {
		t.Fatal("expected an error before Start")
	}
}

func TestParseToolOutput(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want []ports.Diagnostic
	}{
		{
			name: "emacs report",
			out:  "/x/a.php:12:5: error - Missing semicolon\n",
			want: []ports.Diagnostic{{Line: 12, Column: 5, Message: "Missing semicolon", Severity: "error", Source: "phpcs"}},
		},
		{
			name: "line only",
			out:  "a.scss:4: undefined variable",
			want: []ports.Diagnostic{{Line: 4, Message: "undefined variable", Severity: "warning", Source: "phpcs"}},
		},
		{
			name: "prose",
			out:  "PHP Parse error:  syntax error in a.php on line 9\nErrors parsing a.php",
			want: []ports.Diagnostic{{Line: 9, Message: "PHP Parse error:  syntax error in a.php on line 9", Severity: "warning", Source: "phpcs"}},
		},
		{name: "clean", out: "No syntax errors detected in a.php\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseToolOutput(tt.out, "phpcs", "warning")
			if len(got) != len(tt.want) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %+v, want %+v", got[i], tt.want[i])
				}
			}
		})
	}
}
