package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

var gitSubcommandPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

func validateVersion(cfg *Config) error {
	if cfg.Version < 1 {
		return fmt.Errorf("version must be >= 1, got %d", cfg.Version)
	}
	if cfg.Version > 1 {
		return fmt.Errorf("unsupported config version %d; supported version is 1", cfg.Version)
	}
	return nil
}

func validatePaths(cfg *Config) error {
	if cfg.Paths.StateDir == "" {
		return fmt.Errorf("paths.state_dir must not be empty")
	}
	if cfg.Paths.ProjectRoot != "" {
		info, err := os.Stat(cfg.Paths.ProjectRoot)
		if err != nil {
			return fmt.Errorf("paths.project_root %q: %w", cfg.Paths.ProjectRoot, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("paths.project_root %q is not a directory", cfg.Paths.ProjectRoot)
		}
	}
	return nil
}

func validateScan(cfg *Config) error {
	for i, ext := range cfg.Scan.Extensions {
		if strings.ContainsAny(ext, `/\ `) {
			return fmt.Errorf("scan.extensions[%d] %q is not a file extension", i, ext)
		}
	}
	if err := validateGlobs("scan.exclude_dirs", cfg.Scan.ExcludeDirs); err != nil {
		return err
	}
	if cfg.Analyzer.CacheSize < 0 {
		return fmt.Errorf("analyzer.cache_size must be >= 0, got %d", cfg.Analyzer.CacheSize)
	}
	return nil
}

func validateSearch(cfg *Config) error {
	if cfg.Search.MaxLineWidth < 2 {
		return fmt.Errorf("search.max_line_width must be >= 2, got %d", cfg.Search.MaxLineWidth)
	}
	return validateGlobs("search.exclude_dirs", cfg.Search.ExcludeDirs)
}

func validateCoordinator(cfg *Config) error {
	c := cfg.Coordinator
	if c.EventBuffer > 1<<16 {
		return fmt.Errorf("coordinator.event_buffer must be <= %d, got %d", 1<<16, c.EventBuffer)
	}
	if c.ProgressBurst > 1000 {
		return fmt.Errorf("coordinator.progress_burst must be <= 1000, got %d", c.ProgressBurst)
	}
	return nil
}

func validateLint(cfg *Config) error {
	for lang, cmd := range cfg.Lint.Commands {
		if lang == "" {
			return fmt.Errorf("lint.commands key must not be empty")
		}
		if len(strings.Fields(cmd)) == 0 {
			return fmt.Errorf("lint.commands.%s must not be empty", lang)
		}
	}
	return nil
}

func validateStyle(cfg *Config) error {
	if cfg.Style.MaxLineWidth < 20 {
		return fmt.Errorf("style.max_line_width must be >= 20, got %d", cfg.Style.MaxLineWidth)
	}
	return nil
}

func validateVCS(cfg *Config) error {
	for i, sub := range cfg.VCS.SafeCommands {
		if !gitSubcommandPattern.MatchString(sub) {
			return fmt.Errorf("vcs.safe_commands[%d] %q is not a git subcommand", i, sub)
		}
		switch sub {
		case "push", "reset", "clean", "rebase", "checkout", "gc", "filter-branch":
			return fmt.Errorf("vcs.safe_commands[%d] %q rewrites history or the work tree and cannot be marked safe", i, sub)
		}
	}
	return nil
}

func validateObservability(cfg *Config) error {
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("observability.metrics_addr %q: %w", addr, err)
		}
	}
	return nil
}

func validateGlobs(field string, patterns []string) error {
	for i, p := range patterns {
		if _, err := glob.Compile(p); err != nil {
			return fmt.Errorf("%s[%d] %q: %w", field, i, p, err)
		}
	}
	return nil
}

// Validate runs every check and returns all failures.
func Validate(cfg *Config) []error {
	var errs []error
	for _, check := range []func(*Config) error{
		validateVersion,
		validatePaths,
		validateScan,
		validateSearch,
		validateCoordinator,
		validateLint,
		validateStyle,
		validateVCS,
		validateObservability,
	} {
		if err := check(cfg); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
