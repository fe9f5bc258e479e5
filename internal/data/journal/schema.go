package journal

import (
	"database/sql"
	"fmt"
)

const schemaVersion = 1

func migrateSchema(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("journal db is nil")
	}
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS job_results (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  job_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  owner TEXT NOT NULL DEFAULT '',
  outcome TEXT NOT NULL,
  stale INTEGER NOT NULL DEFAULT 0,
  diagnostics INTEGER NOT NULL DEFAULT 0,
  payload BLOB NOT NULL,
  started_at INTEGER NOT NULL,
  finished_at INTEGER NOT NULL,
  delivered_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_results_kind ON job_results(kind, id);
CREATE TABLE IF NOT EXISTS journal_meta (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("migrate journal schema: %w", err)
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO journal_meta (key, value) VALUES ('schema_version', ?)`, fmt.Sprint(schemaVersion)); err != nil {
		return fmt.Errorf("record journal schema version: %w", err)
	}
	return nil
}
