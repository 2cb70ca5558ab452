package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"enmap/internal/logging"
	"enmap/internal/types"
)

// SQLiteRepository persists patterns in a local SQLite database. Uniqueness
// is enforced at the storage layer: one row per
// (device_type, source_ngram, target_suffix), collisions merge counts.
type SQLiteRepository struct {
	db   *sql.DB
	path string
}

const patternsSchema = `
CREATE TABLE IF NOT EXISTS patterns (
	id            TEXT PRIMARY KEY,
	device_type   TEXT NOT NULL,
	source_ngram  TEXT NOT NULL,
	target_suffix TEXT NOT NULL,
	confidence    REAL NOT NULL DEFAULT 0,
	usage_count   INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	last_updated  TIMESTAMP NOT NULL,
	UNIQUE(device_type, source_ngram, target_suffix)
);
CREATE INDEX IF NOT EXISTS idx_patterns_device ON patterns(device_type);
`

// OpenSQLiteRepository opens (creating if needed) the pattern database at
// path and ensures the schema exists.
func OpenSQLiteRepository(path string) (*SQLiteRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("pattern database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open pattern database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// churn under concurrent flushes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping pattern database: %w", err)
	}
	if _, err := db.Exec(patternsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create patterns schema: %w", err)
	}

	logging.Store("pattern database opened: %s", path)
	return &SQLiteRepository{db: db, path: path}, nil
}

// LoadPatterns returns all stored patterns for a device type
// ("" loads every device type).
func (r *SQLiteRepository) LoadPatterns(deviceType string) ([]types.Pattern, error) {
	query := `SELECT id, device_type, source_ngram, target_suffix, confidence,
	                 usage_count, success_count, last_updated
	          FROM patterns`
	var args []any
	if deviceType != "" {
		query += ` WHERE device_type = ?`
		args = append(args, strings.ToUpper(deviceType))
	}
	query += ` ORDER BY device_type, source_ngram, target_suffix`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	var out []types.Pattern
	for rows.Next() {
		var p types.Pattern
		if err := rows.Scan(&p.ID, &p.DeviceType, &p.SourceNgram, &p.TargetSuffix,
			&p.Confidence, &p.UsageCount, &p.SuccessCount, &p.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan pattern row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pattern rows: %w", err)
	}
	return out, nil
}

// SavePatterns upserts patterns. A row that already exists for the same
// (device_type, source_ngram, target_suffix) takes the incoming counters
// and confidence: the in-process memory already holds the merged totals,
// so the write replaces rather than re-adds.
func (r *SQLiteRepository) SavePatterns(patterns []types.Pattern) error {
	if len(patterns) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin pattern transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO patterns (id, device_type, source_ngram, target_suffix,
		                      confidence, usage_count, success_count, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_type, source_ngram, target_suffix) DO UPDATE SET
			confidence    = excluded.confidence,
			usage_count   = excluded.usage_count,
			success_count = excluded.success_count,
			last_updated  = excluded.last_updated`)
	if err != nil {
		return fmt.Errorf("failed to prepare pattern upsert: %w", err)
	}
	defer stmt.Close()

	for i := range patterns {
		p := patterns[i]
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.LastUpdated.IsZero() {
			p.LastUpdated = time.Now()
		}
		if _, err := stmt.Exec(p.ID, strings.ToUpper(p.DeviceType), p.SourceNgram,
			p.TargetSuffix, p.Confidence, p.UsageCount, p.SuccessCount, p.LastUpdated); err != nil {
			return fmt.Errorf("failed to upsert pattern %s: %w", p.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pattern transaction: %w", err)
	}
	logging.StoreDebug("saved %d patterns", len(patterns))
	return nil
}

// Close closes the underlying database.
func (r *SQLiteRepository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}
