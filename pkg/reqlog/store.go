package reqlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists request records.
type Store interface {
	// Insert writes one record.
	Insert(ctx context.Context, rec Record) error

	// List returns records matching the query, newest first.
	List(ctx context.Context, q Query) ([]Record, error)

	// Prune deletes records older than the cutoff and returns how many
	// were removed.
	Prune(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases the store.
	Close() error
}

const requestLogSchema = `
CREATE TABLE IF NOT EXISTS request_log (
	id                TEXT PRIMARY KEY,
	time              INTEGER NOT NULL,
	remote_addr       TEXT NOT NULL,
	method            TEXT NOT NULL,
	path              TEXT NOT NULL,
	model             TEXT NOT NULL DEFAULT '',
	status_code       INTEGER NOT NULL,
	attempts          INTEGER NOT NULL DEFAULT 0,
	credential_suffix TEXT NOT NULL DEFAULT '',
	duration_ms       INTEGER NOT NULL,
	error             TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_request_log_time ON request_log(time);
CREATE INDEX IF NOT EXISTS idx_request_log_model ON request_log(model);
`

// SQLiteStore implements Store on a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the request log database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open request log database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(requestLogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize request log schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Insert writes one record.
func (s *SQLiteStore) Insert(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_log
			(id, time, remote_addr, method, path, model, status_code, attempts, credential_suffix, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Time.UnixMilli(),
		rec.RemoteAddr,
		rec.Method,
		rec.Path,
		rec.Model,
		rec.StatusCode,
		rec.Attempts,
		rec.CredentialSuffix,
		rec.Duration.Milliseconds(),
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert request record: %w", err)
	}
	return nil
}

// List returns records matching the query, newest first.
func (s *SQLiteStore) List(ctx context.Context, q Query) ([]Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var (
		where []string
		args  []any
	)
	if q.Model != "" {
		where = append(where, "model = ?")
		args = append(args, q.Model)
	}
	if !q.Since.IsZero() {
		where = append(where, "time >= ?")
		args = append(args, q.Since.UnixMilli())
	}

	query := `
		SELECT id, time, remote_addr, method, path, model, status_code, attempts, credential_suffix, duration_ms, error
		FROM request_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY time DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query request log: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec        Record
			timeMillis int64
			durMillis  int64
		)
		if err := rows.Scan(
			&rec.ID,
			&timeMillis,
			&rec.RemoteAddr,
			&rec.Method,
			&rec.Path,
			&rec.Model,
			&rec.StatusCode,
			&rec.Attempts,
			&rec.CredentialSuffix,
			&durMillis,
			&rec.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan request record: %w", err)
		}
		rec.Time = time.UnixMilli(timeMillis).UTC()
		rec.Duration = time.Duration(durMillis) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes records older than the cutoff.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM request_log WHERE time < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune request log: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MemoryStore is an in-memory Store for tests and persistence-free runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryStore creates an empty in-memory request log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Insert appends one record.
func (s *MemoryStore) Insert(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// List returns matching records, newest first.
func (s *MemoryStore) List(ctx context.Context, q Query) ([]Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		rec := s.records[i]
		if q.Model != "" && rec.Model != q.Model {
			continue
		}
		if !q.Since.IsZero() && rec.Time.Before(q.Since) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Prune removes records older than the cutoff.
func (s *MemoryStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	removed := 0
	for _, rec := range s.records {
		if rec.Time.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return removed, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
