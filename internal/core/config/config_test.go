package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zira.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
[paths]
state_dir = "var/zira"

[index]
autosave = false
publish_every = 10

[scan]
extensions = [".PHP", "js"]
exclude_dirs = ["node_modules", "build*"]

[search]
max_line_width = 120

[coordinator]
progress_rate = -1.0
shutdown_timeout = "2s"

[process]
wait_delay = "250ms"

[lint.commands]
PHP = " php -l "

[style]
max_line_width = 100
command = "phpcs --report=emacs"

[vcs]
safe_commands = ["Stash"]

[watch]
enabled = true
debounce = "1s"

[journal]
enabled = false

[observability]
metrics_addr = "127.0.0.1:9464"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Paths.StateDir != "var/zira" {
		t.Errorf("expected state_dir var/zira, got %q", cfg.Paths.StateDir)
	}
	if cfg.Index.AutosaveEnabled() {
		t.Error("expected autosave disabled")
	}
	if cfg.Index.PublishEvery != 10 {
		t.Errorf("expected publish_every 10, got %d", cfg.Index.PublishEvery)
	}
	if strings.Join(cfg.Scan.Extensions, ",") != ".php,js" {
		t.Errorf("unexpected extensions %v", cfg.Scan.Extensions)
	}
	if cfg.Coordinator.ShutdownTimeout != 2*time.Second {
		t.Errorf("expected shutdown_timeout 2s, got %v", cfg.Coordinator.ShutdownTimeout)
	}
	if cfg.Coordinator.ProgressRate != -1 {
		t.Errorf("negative progress_rate must be kept, got %v", cfg.Coordinator.ProgressRate)
	}
	if cfg.Process.WaitDelay != 250*time.Millisecond {
		t.Errorf("expected wait_delay 250ms, got %v", cfg.Process.WaitDelay)
	}
	if cfg.Lint.Commands["php"] != "php -l" {
		t.Errorf("expected normalized php lint command, got %q", cfg.Lint.Commands["php"])
	}
	if cfg.VCS.SafeCommands[0] != "stash" {
		t.Errorf("expected lowercased safe command, got %v", cfg.VCS.SafeCommands)
	}
	if !cfg.Watch.IsEnabled() || cfg.Watch.Debounce != time.Second {
		t.Errorf("unexpected watch section %+v", cfg.Watch)
	}
	if cfg.Journal.IsEnabled() {
		t.Error("expected journal disabled")
	}
	// Untouched sections keep their defaults.
	if cfg.Search.QuickFindLimit != DefaultQuickFindLimit {
		t.Errorf("expected default quick_find_limit, got %d", cfg.Search.QuickFindLimit)
	}
	if cfg.Observability.ServiceName != DefaultServiceName {
		t.Errorf("expected default service name, got %q", cfg.Observability.ServiceName)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if errs := Validate(cfg); len(errs) > 0 {
		t.Fatalf("default config must validate: %v", errs)
	}
	if !cfg.Index.AutosaveEnabled() || !cfg.Journal.IsEnabled() {
		t.Fatal("autosave and journal default to enabled")
	}
	if cfg.Scan.MaxFileBytes != DefaultMaxFileBytes {
		t.Fatalf("unexpected max_file_bytes %d", cfg.Scan.MaxFileBytes)
	}
	found := false
	for _, d := range cfg.Scan.ExcludeDirs {
		found = found || d == "node_modules"
	}
	if !found {
		t.Fatalf("expected node_modules excluded by default, got %v", cfg.Scan.ExcludeDirs)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "[scan\n", "decode"},
		{"unknown key", "[scan]\nbogus = 1\n", "unknown config keys"},
		{"bad version", "version = 3\n", "unsupported config version"},
		{"bad duration", "[watch]\ndebounce = \"soon\"\n", "decode"},
		{"narrow search", "[search]\nmax_line_width = 1\n", "search.max_line_width"},
		{"empty lint", "[lint.commands]\nphp = \"  \"\n", "lint.commands.php"},
		{"unsafe vcs", "[vcs]\nsafe_commands = [\"push\"]\n", "cannot be marked safe"},
		{"bad metrics addr", "[observability]\nmetrics_addr = \"localhost\"\n", "observability.metrics_addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("ZIRA_PATHS_STATE_DIR", "/tmp/zira-state")
	t.Setenv("ZIRA_WATCH_ENABLED", "false")
	t.Setenv("ZIRA_PROCESS_WAIT_DELAY", "1s")
	t.Setenv("ZIRA_SCAN_MAX_FILE_BYTES", "not-a-number")

	cfg := Default()
	ApplyEnvOverrides(cfg)
	if cfg.Paths.StateDir != "/tmp/zira-state" {
		t.Errorf("state dir override not applied: %q", cfg.Paths.StateDir)
	}
	if cfg.Watch.IsEnabled() {
		t.Error("watch override not applied")
	}
	if cfg.Process.WaitDelay != time.Second {
		t.Errorf("wait delay override not applied: %v", cfg.Process.WaitDelay)
	}
	if cfg.Scan.MaxFileBytes != DefaultMaxFileBytes {
		t.Errorf("invalid override must be ignored, got %d", cfg.Scan.MaxFileBytes)
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "[style]\nmax_line_width = 100\n")
	reloaded := make(chan *Config, 4)
	w := NewWatcher(path, func(cfg *Config) { reloaded <- cfg })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("[style]\nmax_line_width = 90\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-reloaded:
		if cfg.Style.MaxLineWidth != 90 {
			t.Fatalf("expected reloaded width 90, got %d", cfg.Style.MaxLineWidth)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
