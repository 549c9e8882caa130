// Package sqlite provides SQLite-backed implementations of the outbound
// store ports using the modernc.org/sqlite driver.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB with schema management.
type DB struct {
	*sql.DB
	path string
}

// dsnParams configures every connection. The modernc driver takes one
// _pragma per setting; _txlock=immediate makes write transactions take
// the write lock up front, so racing writers wait on busy_timeout
// instead of failing when a deferred snapshot tries to upgrade.
const dsnParams = "?_txlock=immediate" +
	"&_pragma=journal_mode(WAL)" +
	"&_pragma=busy_timeout(5000)" +
	"&_pragma=foreign_keys(1)"

// Open creates or opens a SQLite database at the given path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	d := &DB{DB: sqlDB, path: path}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return d, nil
}

// OpenMemory creates an in-memory SQLite database (useful for testing).
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:?_txlock=immediate&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}

	// A single connection keeps the in-memory database alive.
	sqlDB.SetMaxOpenConns(1)

	d := &DB{DB: sqlDB, path: ":memory:"}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return d, nil
}

// migrate runs all schema migrations.
func (d *DB) migrate() error {
	_, err := d.Exec(schema)
	return err
}

// schema contains the full database schema. New tables are added here.
const schema = `
CREATE TABLE IF NOT EXISTS action_types (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    category TEXT NOT NULL CHECK(category IN ('calendar','email','task','notification')),
    risk_level TEXT NOT NULL CHECK(risk_level IN ('low','medium','high')),
    default_authority_level TEXT NOT NULL CHECK(default_authority_level IN ('full_auto','draft_approve','ask_first','disabled')),
    reversible INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS authority_settings (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    action_type_id TEXT NOT NULL REFERENCES action_types(id),
    authority_level TEXT NOT NULL CHECK(authority_level IN ('full_auto','draft_approve','ask_first','disabled')),
    conditions TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    UNIQUE(user_id, action_type_id)
);

CREATE INDEX IF NOT EXISTS idx_settings_user ON authority_settings(user_id);

CREATE TABLE IF NOT EXISTS action_logs (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    action_type_id TEXT NOT NULL REFERENCES action_types(id),
    action_type_name TEXT NOT NULL,
    authority_level TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('pending_approval','approved','rejected','executed','failed','reversed')),
    target_type TEXT NOT NULL CHECK(target_type IN ('email','calendar_event','commitment','person')),
    target_id TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    payload TEXT,
    confidence_score REAL,
    user_feedback TEXT,
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL,
    approved_at TEXT,
    rejected_at TEXT,
    executed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_logs_user ON action_logs(user_id);
CREATE INDEX IF NOT EXISTS idx_logs_user_status ON action_logs(user_id, status);
CREATE INDEX IF NOT EXISTS idx_logs_created ON action_logs(created_at);
`
