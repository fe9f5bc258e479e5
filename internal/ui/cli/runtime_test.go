package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	coreapp "zira/internal/core/app"
	"zira/internal/core/config"
)

func TestParseOptions_FlagsAfterCommand(t *testing.T) {
	opts, err := parseOptions([]string{"--verbose", "search", "--regex", "--ext", "php,js", "fo+"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if opts.command != "search" || !opts.verbose || !opts.regex {
		t.Fatalf("unexpected options %+v", opts)
	}
	if len(opts.args) != 1 || opts.args[0] != "fo+" {
		t.Fatalf("args = %v", opts.args)
	}
	if got := splitList(opts.exts); len(got) != 2 || got[1] != "js" {
		t.Fatalf("exts = %v", got)
	}
}

func TestParseOptions_PassthroughKeepsProgramFlags(t *testing.T) {
	opts, err := parseOptions([]string{"--confirm", "git", "reset", "--hard"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if !opts.confirm || opts.command != "git" {
		t.Fatalf("unexpected options %+v", opts)
	}
	if strings.Join(opts.args, " ") != "reset --hard" {
		t.Fatalf("args = %v", opts.args)
	}
}

func TestLoadConfig_DefaultDiscoveryOrder(t *testing.T) {
	dir := t.TempDir()
	example := filepath.Join(dir, "zira.example.toml")
	if err := os.WriteFile(example, []byte("[search]\nmax_line_width = 80\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, path, err := loadConfig(defaultConfigPath, dir)
	if err != nil {
		t.Fatal(err)
	}
	if path != example || cfg.Search.MaxLineWidth != 80 {
		t.Fatalf("loaded %s with width %d", path, cfg.Search.MaxLineWidth)
	}

	primary := filepath.Join(dir, "zira.toml")
	if err := os.WriteFile(primary, []byte("[search]\nmax_line_width = 90\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, path, _ := loadConfig(defaultConfigPath, dir); path != primary {
		t.Fatalf("expected %s to win, got %s", primary, path)
	}
}

func TestLoadConfig_FallsBackToDefaults(t *testing.T) {
	cfg, path, err := loadConfig(defaultConfigPath, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if path != "" || cfg.Search.MaxLineWidth != config.DefaultMaxLineWidth {
		t.Fatalf("expected built-in defaults, got path %q", path)
	}
}

func TestLoadConfig_CustomPathNoFallback(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "custom.toml"), t.TempDir()); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var errOut bytes.Buffer
	if code := run(context.Background(), []string{"frobnicate"}, io.Discard, &errOut); code != 2 {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(errOut.String(), "unknown command") {
		t.Fatalf("stderr = %q", errOut.String())
	}
}

func project(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"go.mod":         "module example\n",
		"src/repo.php":   "<?php\nclass Repo {\n  function find() {}\n}\n// TODO: paginate\n",
		"web/app.js":     "function render() {}\n",
		"web/broken.php": "<?php\n$a = [1, 2]];\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	t.Chdir(dir)
	return dir
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRun_ScanThenLookups(t *testing.T) {
	project(t)

	code, out, errOut := runCLI(t, "scan", "--mode", "full")
	if code != 0 {
		t.Fatalf("scan exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "scanned 3 files") {
		t.Fatalf("scan output = %q", out)
	}

	code, out, _ = runCLI(t, "find", "Repo")
	if code != 0 || !strings.HasPrefix(out, "src/repo.php:2:") {
		t.Fatalf("find exit %d output %q", code, out)
	}

	code, out, _ = runCLI(t, "prefix", "re")
	if code != 0 || !strings.Contains(out, "render") {
		t.Fatalf("prefix exit %d output %q", code, out)
	}

	code, out, _ = runCLI(t, "search", "todo")
	if code != 0 || !strings.Contains(out, "src/repo.php:5:") {
		t.Fatalf("search exit %d output %q", code, out)
	}

	code, out, _ = runCLI(t, "quickfind", "rend")
	if code != 0 || !strings.Contains(out, "function: render") {
		t.Fatalf("quickfind exit %d output %q", code, out)
	}

	code, out, _ = runCLI(t, "journal", "--kind", "project_scan")
	if code != 0 || !strings.Contains(out, "project_scan") {
		t.Fatalf("journal exit %d output %q", code, out)
	}
}

func TestRun_LintReportsErrors(t *testing.T) {
	project(t)
	code, out, errOut := runCLI(t, "lint", "web/broken.php", "src/repo.php")
	if code != 1 {
		t.Fatalf("lint exit %d, stderr %s", code, errOut)
	}
	if !strings.HasPrefix(out, "web/broken.php:") || strings.Contains(out, "src/repo.php") {
		t.Fatalf("lint output = %q", out)
	}
}

func TestRun_GitRequiresConfirmation(t *testing.T) {
	project(t)
	code, _, errOut := runCLI(t, "git", "reset", "--hard")
	if code != 1 || !strings.Contains(errOut, "--confirm") {
		t.Fatalf("git exit %d, stderr %q", code, errOut)
	}
}

func TestObservabilityServer_Handler(t *testing.T) {
	cfg := config.Default()
	a, err := coreapp.New(cfg, config.ResolvedPaths{ProjectRoot: t.TempDir(), StateDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(NewObservabilityServer("", coreapp.NewHealthService(a)).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(string(body), `"coordinator":"stopped"`) {
		t.Fatalf("health %d %s", resp.StatusCode, body)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "zira_") {
		t.Fatalf("metrics %d", resp.StatusCode)
	}
}
