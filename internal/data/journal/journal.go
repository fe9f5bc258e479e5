// Package journal keeps a SQLite record of delivered job results so a
// results panel can show recent outcomes across restarts.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"zira/internal/core/jobs"
	"zira/internal/core/ports"
	"zira/internal/shared/observability"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"
)

const (
	sqliteDriverName = "sqlite"
	// DefaultMaxEntries bounds the journal when no limit is configured.
	DefaultMaxEntries = 1000
)

// Entry is one recorded result. Payload is kept in its JSON form.
type Entry struct {
	ID          int64              `json:"id"`
	JobID       string             `json:"job_id"`
	Kind        jobs.Kind          `json:"kind"`
	Owner       string             `json:"owner,omitempty"`
	Outcome     jobs.Outcome       `json:"outcome"`
	Stale       bool               `json:"stale"`
	Diagnostics []ports.Diagnostic `json:"diagnostics,omitempty"`
	Errors      []ports.Diagnostic `json:"errors,omitempty"`
	Payload     json.RawMessage    `json:"payload,omitempty"`
	Started     time.Time          `json:"started"`
	Finished    time.Time          `json:"finished"`
	Delivered   time.Time          `json:"delivered"`
}

func (e Entry) Duration() time.Duration { return e.Finished.Sub(e.Started) }

type record struct {
	Version     int                `json:"version"`
	Diagnostics []ports.Diagnostic `json:"diagnostics,omitempty"`
	Errors      []ports.Diagnostic `json:"errors,omitempty"`
	Payload     any                `json:"payload,omitempty"`
}

type storedRecord struct {
	Version     int                `json:"version"`
	Diagnostics []ports.Diagnostic `json:"diagnostics,omitempty"`
	Errors      []ports.Diagnostic `json:"errors,omitempty"`
	Payload     json.RawMessage    `json:"payload,omitempty"`
}

type Journal struct {
	db         *sql.DB
	maxEntries int
}

// Open creates or reopens the journal at path. maxEntries <= 0 selects
// DefaultMaxEntries.
func Open(path string, maxEntries int) (*Journal, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("journal path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("journal path %q is a directory", cleanPath)
	}
	if dir := filepath.Dir(cleanPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cleanPath)
	db, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal sqlite %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal sqlite %q: %w", cleanPath, err)
	}
	if err := migrateSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Journal{db: db, maxEntries: maxEntries}, nil
}

// Record appends res and trims the journal to its entry limit.
func (j *Journal) Record(ctx context.Context, res jobs.JobResult) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("journal not initialized")
	}
	raw, err := json.Marshal(record{
		Version:     schemaVersion,
		Diagnostics: res.Diagnostics,
		Errors:      res.Errors,
		Payload:     res.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal journal record: %w", err)
	}
	delivered := res.Timestamp
	if delivered.IsZero() {
		delivered = time.Now()
	}
	owner := ""
	if !res.Owner.IsZero() {
		owner = res.Owner.String()
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO job_results (job_id, kind, owner, outcome, stale, diagnostics, payload, started_at, finished_at, delivered_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, res.JobID, string(res.Kind), owner, string(res.Outcome), boolInt(res.Stale), len(res.Diagnostics)+len(res.Errors), raw,
		res.Started.UTC().UnixMilli(), res.Finished.UTC().UnixMilli(), delivered.UTC().UnixMilli())
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert journal record: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
DELETE FROM job_results
WHERE id <= (SELECT id FROM job_results ORDER BY id DESC LIMIT 1 OFFSET ?)
`, j.maxEntries)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("trim journal: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit journal tx: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. A non-empty kind
// restricts the result to that kind.
func (j *Journal) Recent(ctx context.Context, kind jobs.Kind, limit int) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, job_id, kind, owner, outcome, stale, payload, started_at, finished_at, delivered_at
FROM job_results
WHERE (? = '' OR kind = ?)
ORDER BY id DESC
LIMIT ?
`, string(kind), string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                            Entry
			kindText, outcome            string
			stale                        int
			raw                          []byte
			started, finished, delivered int64
		)
		if err := rows.Scan(&e.ID, &e.JobID, &kindText, &e.Owner, &outcome, &stale, &raw, &started, &finished, &delivered); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		var rec storedRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode journal record id=%d: %w", e.ID, err)
		}
		e.Kind = jobs.Kind(kindText)
		e.Outcome = jobs.Outcome(outcome)
		e.Stale = stale != 0
		e.Diagnostics = rec.Diagnostics
		e.Errors = rec.Errors
		e.Payload = rec.Payload
		e.Started = time.UnixMilli(started)
		e.Finished = time.UnixMilli(finished)
		e.Delivered = time.UnixMilli(delivered)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal rows: %w", err)
	}
	return out, nil
}

func (j *Journal) Count(ctx context.Context) (int, error) {
	if j == nil || j.db == nil {
		return 0, fmt.Errorf("journal not initialized")
	}
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM job_results`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count journal rows: %w", err)
	}
	return n, nil
}

// Clear removes every entry.
func (j *Journal) Clear(ctx context.Context) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("journal not initialized")
	}
	if _, err := j.db.ExecContext(ctx, `DELETE FROM job_results`); err != nil {
		return fmt.Errorf("clear journal: %w", err)
	}
	return nil
}

// Handler returns a result handler that records every delivered result.
// Write failures are logged and counted, never propagated.
func (j *Journal) Handler(logger *slog.Logger) func(jobs.JobResult) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(res jobs.JobResult) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := j.Record(ctx, res); err != nil {
			observability.JournalWriteErrorsTotal.Inc()
			logger.Warn("journal write failed", "job", res.JobID, "kind", res.Kind, "error", err)
		}
	}
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
