// Package index maintains a secondary, non-authoritative SQLite index over
// the entries the log sink appends, so a future query surface can filter
// by correlation ID, event type, or time range without a full reverse
// scan of the JSONL files. The daily JSONL files remain the sole durable
// store; this index is rebuildable from them and best-effort only.
package index

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	_ "modernc.org/sqlite"

	"github.com/anthropics/local-logger/internal/schema"
)

// Index wraps a single-writer SQLite connection mirroring entry metadata.
type Index struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the index database at dbPath, running the schema
// migration if needed.
func Open(dbPath string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: connect %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if runtime.GOOS != "windows" {
		_ = os.Chmod(dbPath, 0o600)
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: migrate: %w", err)
	}

	return &Index{db: db, logger: logger}, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS entries (
	rowid_seq      INTEGER PRIMARY KEY AUTOINCREMENT,
	schema_version INTEGER NOT NULL,
	timestamp      TEXT NOT NULL,
	date           TEXT NOT NULL,
	session_id     TEXT NOT NULL,
	correlation_id TEXT NOT NULL,
	event_type     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_date ON entries(date);
CREATE INDEX IF NOT EXISTS idx_entries_correlation ON entries(correlation_id);
`

// Record mirrors one entry's metadata into the index. Failures are logged
// and swallowed — the index is an accelerator, never a write-path
// dependency of the log sink.
func (idx *Index) Record(entry schema.Entry) {
	_, err := idx.db.Exec(
		`INSERT INTO entries (schema_version, timestamp, date, session_id, correlation_id, event_type)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.SchemaVersion, entry.Timestamp, entry.Date, entry.SessionID, entry.CorrelationID, string(entry.Event.Type),
	)
	if err != nil {
		idx.logger.Debug("index: record failed", "error", err)
	}
}

// CorrelationIDsForDate returns the distinct correlation IDs observed for
// a given date, newest-insert-first — a cheap filter the reverse tail
// reader can't provide without a full scan.
func (idx *Index) CorrelationIDsForDate(date string) ([]string, error) {
	rows, err := idx.db.Query(
		`SELECT DISTINCT correlation_id FROM entries WHERE date = ? ORDER BY rowid_seq DESC`, date)
	if err != nil {
		return nil, fmt.Errorf("index: query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("index: scan: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Close closes the underlying database connection.
func (idx *Index) Close() error {
	return idx.db.Close()
}
