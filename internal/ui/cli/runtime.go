package cli

import (
	"context"
	stdErrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	coreapp "zira/internal/core/app"
	"zira/internal/core/config"
	"zira/internal/shared/observability"
)

// Run executes the command line and returns the process exit code.
func Run(args []string) int {
	return run(context.Background(), args, os.Stdout, os.Stderr)
}

type session struct {
	app     *coreapp.App
	opts    cliOptions
	cfgPath string
	out     io.Writer
	errOut  io.Writer
}

func (s *session) root() string { return s.app.Paths.ProjectRoot }

type commandFunc func(ctx context.Context, s *session) int

var commands = map[string]commandFunc{
	"scan":      runScan,
	"find":      runFind,
	"prefix":    runPrefix,
	"search":    runSearch,
	"quickfind": runQuickFind,
	"lint":      runLint,
	"style":     runStyle,
	"git":       runGit,
	"run":       runExternal,
	"watch":     runWatch,
	"journal":   runJournal,
	"health":    runHealth,
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseOptions(args, stderr)
	if err != nil {
		if stdErrors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if opts.version {
		fmt.Fprintf(stdout, "zira v%s\n", versionString)
		return 0
	}
	cmd, ok := commands[opts.command]
	if !ok {
		if opts.command == "" {
			fmt.Fprintln(stderr, "missing command; see zira -h")
		} else {
			fmt.Fprintf(stderr, "unknown command %q; see zira -h\n", opts.command)
		}
		return 2
	}

	cleanupLogs := configureLogging(opts.ui, opts.verbose, stderr)
	defer cleanupLogs()

	cwd, err := os.Getwd()
	if err != nil {
		slog.Error("failed to detect working directory", "error", err)
		return 1
	}
	cfg, cfgPath, err := loadConfig(opts.configPath, cwd)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}
	config.ApplyEnvOverrides(cfg)
	if errs := config.Validate(cfg); len(errs) > 0 {
		slog.Error("invalid config", "error", errs[0])
		return 1
	}
	paths, err := config.ResolvePaths(cfg, cwd)
	if err != nil {
		slog.Error("failed to resolve runtime paths", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: cfg.Observability.ServiceName,
		Endpoint:    cfg.Observability.OTLPEndpoint,
		Insecure:    true,
	})
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	} else {
		defer func() { _ = shutdownTracing(context.Background()) }()
	}

	a, err := coreapp.New(cfg, paths, slog.Default())
	if err != nil {
		slog.Error("failed to initialize app", "error", err)
		return 1
	}
	if err := a.Start(ctx); err != nil {
		slog.Error("failed to start background worker", "error", err)
		return 1
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			slog.Warn("shutdown incomplete", "error", err)
		}
	}()

	return cmd(ctx, &session{app: a, opts: opts, cfgPath: cfgPath, out: stdout, errOut: stderr})
}

// loadConfig reads path. With the default path it falls back to
// zira.example.toml and then to the built-in defaults.
func loadConfig(path, cwd string) (*config.Config, string, error) {
	if path != defaultConfigPath {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, "", err
		}
		return cfg, path, nil
	}

	for _, candidate := range discoverDefaultConfig(cwd) {
		cfg, err := config.Load(candidate)
		if err == nil {
			return cfg, candidate, nil
		}
		if !os.IsNotExist(err) {
			return nil, "", err
		}
	}
	return config.Default(), "", nil
}

func discoverDefaultConfig(cwd string) []string {
	return []string{
		filepath.Clean(filepath.Join(cwd, "zira.toml")),
		filepath.Clean(filepath.Join(cwd, "zira.example.toml")),
	}
}

// configureLogging installs the default slog logger. In UI mode logs go to
// a private file so they do not corrupt the terminal.
func configureLogging(uiMode, verbose bool, stderr io.Writer) func() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	output := stderr
	closeFn := func() {}
	if uiMode {
		logPath := resolveLogPath()
		if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
			fmt.Fprintf(stderr, "warning: failed to create log dir for %s: %v\n", logPath, err)
		} else if fi, err := os.Lstat(logPath); err == nil && (fi.Mode()&os.ModeSymlink) != 0 {
			fmt.Fprintf(stderr, "warning: refusing to write logs to symlink path %s\n", logPath)
		} else {
			f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
			if err == nil {
				output = f
				closeFn = func() { _ = f.Close() }
			} else {
				fmt.Fprintf(stderr, "warning: failed to open log file %s: %v\n", logPath, err)
			}
		}
	}

	logger := slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return closeFn
}

func resolveLogPath() string {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return filepath.Join(xdg, "zira", "zira.log")
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		return filepath.Join(home, ".local", "state", "zira", "zira.log")
	}
	return "zira.log"
}
