package config

import (
	"time"
)

type Config struct {
	Version       int           `toml:"version"`
	Paths         Paths         `toml:"paths"`
	Analyzer      Analyzer      `toml:"analyzer"`
	Index         Index         `toml:"index"`
	Scan          Scan          `toml:"scan"`
	Search        Search        `toml:"search"`
	Coordinator   Coordinator   `toml:"coordinator"`
	Process       Process       `toml:"process"`
	Lint          Lint          `toml:"lint"`
	Style         Style         `toml:"style"`
	VCS           VCS           `toml:"vcs"`
	Watch         Watch         `toml:"watch"`
	Journal       Journal       `toml:"journal"`
	Observability Observability `toml:"observability"`
}

type Paths struct {
	ProjectRoot string `toml:"project_root"`
	StateDir    string `toml:"state_dir"`
}

type Analyzer struct {
	CacheSize int `toml:"cache_size"`
}

type Index struct {
	Autosave     *bool `toml:"autosave"`
	PublishEvery int   `toml:"publish_every"`
}

func (i Index) AutosaveEnabled() bool {
	if i.Autosave == nil {
		return true
	}
	return *i.Autosave
}

type Scan struct {
	// Extensions limits scanning; empty means every extension an analyzer
	// is registered for.
	Extensions   []string `toml:"extensions"`
	ExcludeDirs  []string `toml:"exclude_dirs"`
	MaxFileBytes int64    `toml:"max_file_bytes"`
}

type Search struct {
	MaxLineWidth   int      `toml:"max_line_width"`
	ExcludeDirs    []string `toml:"exclude_dirs"`
	QuickFindLimit int      `toml:"quick_find_limit"`
}

type Coordinator struct {
	EventBuffer     int           `toml:"event_buffer"`
	ProgressRate    float64       `toml:"progress_rate"`
	ProgressBurst   int           `toml:"progress_burst"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

type Process struct {
	WaitDelay time.Duration `toml:"wait_delay"`
}

type Lint struct {
	// Commands maps a language to an external checker, e.g. php = "php -l".
	// The file path is appended as the last argument.
	Commands map[string]string `toml:"commands"`
}

type Style struct {
	MaxLineWidth int    `toml:"max_line_width"`
	Command      string `toml:"command"`
}

type VCS struct {
	// SafeCommands extends the built-in read-only git subcommands. They run
	// unconfirmed only in forms that cannot write, so "stash" allows
	// "stash list" but not "stash clear".
	SafeCommands []string `toml:"safe_commands"`
}

type Watch struct {
	// Enabled turns file watching on for the watch command. Config reload
	// and the metrics server run either way.
	Enabled  *bool         `toml:"enabled"`
	Debounce time.Duration `toml:"debounce"`
}

func (w Watch) IsEnabled() bool {
	if w.Enabled == nil {
		return true
	}
	return *w.Enabled
}

type Journal struct {
	Enabled    *bool  `toml:"enabled"`
	Path       string `toml:"path"`
	MaxEntries int    `toml:"max_entries"`
}

func (j Journal) IsEnabled() bool {
	if j.Enabled == nil {
		return true
	}
	return *j.Enabled
}

type Observability struct {
	MetricsAddr  string `toml:"metrics_addr"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
	ServiceName  string `toml:"service_name"`
}

// Default returns the built-in configuration used when no file is found.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}
