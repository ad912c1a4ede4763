package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed width so lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `CREATE TABLE IF NOT EXISTS transfers (
	id INTEGER PRIMARY KEY,
	job_id TEXT UNIQUE NOT NULL,
	chat_id INTEGER NOT NULL,
	source_url TEXT NOT NULL,
	filename TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'running',
	stage TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL DEFAULT '',
	link TEXT NOT NULL DEFAULT '',
	size_bytes INTEGER NOT NULL DEFAULT -1,
	error TEXT NOT NULL DEFAULT '',
	locked_by TEXT,
	started_at TEXT NOT NULL,
	finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_transfers_chat ON transfers (chat_id, started_at);
CREATE INDEX IF NOT EXISTS idx_transfers_status ON transfers (status);`

// InitDB opens the SQLite ledger at path and creates the transfers table if
// it doesn't exist.
func InitDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single writer avoids SQLITE_BUSY under concurrent jobs.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}
