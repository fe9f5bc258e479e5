package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultStateDir        = ".zira"
	DefaultPublishEvery    = 50
	DefaultMaxFileBytes    = 2 << 20
	DefaultMaxLineWidth    = 200
	DefaultStyleWidth      = 120
	DefaultQuickFindLimit  = 50
	DefaultAnalyzerCache   = 256
	DefaultEventBuffer     = 64
	DefaultProgressRate    = 20
	DefaultShutdownTimeout = 5 * time.Second
	DefaultWaitDelay       = 3 * time.Second
	DefaultDebounce        = 250 * time.Millisecond
	DefaultJournalFile     = "journal.db"
	DefaultJournalEntries  = 1000
	DefaultServiceName     = "zira"
)

var defaultExcludeDirs = []string{".git", ".svn", ".hg", "node_modules", "vendor", ".zira"}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}

	applyDefaults(&cfg)
	normalize(&cfg)

	if errs := Validate(&cfg); len(errs) > 0 {
		return nil, errs[0]
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if strings.TrimSpace(cfg.Paths.StateDir) == "" {
		cfg.Paths.StateDir = DefaultStateDir
	}
	if cfg.Analyzer.CacheSize == 0 {
		cfg.Analyzer.CacheSize = DefaultAnalyzerCache
	}
	if cfg.Index.PublishEvery <= 0 {
		cfg.Index.PublishEvery = DefaultPublishEvery
	}

	if cfg.Scan.ExcludeDirs == nil {
		cfg.Scan.ExcludeDirs = append([]string(nil), defaultExcludeDirs...)
	}
	if cfg.Scan.MaxFileBytes <= 0 {
		cfg.Scan.MaxFileBytes = DefaultMaxFileBytes
	}

	if cfg.Search.MaxLineWidth <= 0 {
		cfg.Search.MaxLineWidth = DefaultMaxLineWidth
	}
	if cfg.Search.ExcludeDirs == nil {
		cfg.Search.ExcludeDirs = append([]string(nil), defaultExcludeDirs...)
	}
	if cfg.Search.QuickFindLimit <= 0 {
		cfg.Search.QuickFindLimit = DefaultQuickFindLimit
	}

	if cfg.Coordinator.EventBuffer <= 0 {
		cfg.Coordinator.EventBuffer = DefaultEventBuffer
	}
	if cfg.Coordinator.ProgressRate == 0 {
		cfg.Coordinator.ProgressRate = DefaultProgressRate
	}
	if cfg.Coordinator.ProgressBurst <= 0 {
		cfg.Coordinator.ProgressBurst = 1
	}
	if cfg.Coordinator.ShutdownTimeout <= 0 {
		cfg.Coordinator.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Process.WaitDelay <= 0 {
		cfg.Process.WaitDelay = DefaultWaitDelay
	}
	if cfg.Style.MaxLineWidth <= 0 {
		cfg.Style.MaxLineWidth = DefaultStyleWidth
	}
	if cfg.Watch.Debounce <= 0 {
		cfg.Watch.Debounce = DefaultDebounce
	}

	if strings.TrimSpace(cfg.Journal.Path) == "" {
		cfg.Journal.Path = DefaultJournalFile
	}
	if cfg.Journal.MaxEntries <= 0 {
		cfg.Journal.MaxEntries = DefaultJournalEntries
	}
	if strings.TrimSpace(cfg.Observability.ServiceName) == "" {
		cfg.Observability.ServiceName = DefaultServiceName
	}
}

func normalize(cfg *Config) {
	cfg.Paths.ProjectRoot = strings.TrimSpace(cfg.Paths.ProjectRoot)
	cfg.Paths.StateDir = strings.TrimSpace(cfg.Paths.StateDir)
	cfg.Scan.Extensions = normalizeList(cfg.Scan.Extensions, true)
	cfg.Scan.ExcludeDirs = normalizeList(cfg.Scan.ExcludeDirs, false)
	cfg.Search.ExcludeDirs = normalizeList(cfg.Search.ExcludeDirs, false)
	cfg.VCS.SafeCommands = normalizeList(cfg.VCS.SafeCommands, true)
	cfg.Style.Command = strings.TrimSpace(cfg.Style.Command)
	cfg.Observability.MetricsAddr = strings.TrimSpace(cfg.Observability.MetricsAddr)
	cfg.Observability.OTLPEndpoint = strings.TrimSpace(cfg.Observability.OTLPEndpoint)

	if len(cfg.Lint.Commands) > 0 {
		commands := make(map[string]string, len(cfg.Lint.Commands))
		for lang, cmd := range cfg.Lint.Commands {
			commands[strings.ToLower(strings.TrimSpace(lang))] = strings.TrimSpace(cmd)
		}
		cfg.Lint.Commands = commands
	}
}

func normalizeList(in []string, lower bool) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
