package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: ZIRA_[SECTION]_[KEY] (e.g., ZIRA_OBSERVABILITY_METRICS_ADDR).
func ApplyEnvOverrides(cfg *Config) {
	setEnvString(&cfg.Paths.ProjectRoot, "ZIRA_PATHS_PROJECT_ROOT")
	setEnvString(&cfg.Paths.StateDir, "ZIRA_PATHS_STATE_DIR")

	setEnvInt(&cfg.Index.PublishEvery, "ZIRA_INDEX_PUBLISH_EVERY")
	setEnvInt64(&cfg.Scan.MaxFileBytes, "ZIRA_SCAN_MAX_FILE_BYTES")
	setEnvInt(&cfg.Search.MaxLineWidth, "ZIRA_SEARCH_MAX_LINE_WIDTH")

	setEnvFloat64(&cfg.Coordinator.ProgressRate, "ZIRA_COORDINATOR_PROGRESS_RATE")
	setEnvDuration(&cfg.Coordinator.ShutdownTimeout, "ZIRA_COORDINATOR_SHUTDOWN_TIMEOUT")
	setEnvDuration(&cfg.Process.WaitDelay, "ZIRA_PROCESS_WAIT_DELAY")

	setEnvBoolPtr(&cfg.Watch.Enabled, "ZIRA_WATCH_ENABLED")
	setEnvDuration(&cfg.Watch.Debounce, "ZIRA_WATCH_DEBOUNCE")
	setEnvString(&cfg.Journal.Path, "ZIRA_JOURNAL_PATH")

	setEnvString(&cfg.Observability.MetricsAddr, "ZIRA_OBSERVABILITY_METRICS_ADDR")
	setEnvString(&cfg.Observability.OTLPEndpoint, "ZIRA_OBSERVABILITY_OTLP_ENDPOINT")
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		*target = val
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = i
		}
	}
}

func setEnvInt64(target *int64, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = i
		}
	}
}

func setEnvBoolPtr(target **bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.ToLower(val)); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = &b
		}
	}
}

func setEnvFloat64(target *float64, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = f
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = d
		}
	}
}
