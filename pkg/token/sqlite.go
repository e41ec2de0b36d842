package token

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tanranv5/grok2api/pkg/config"
)

// schemaVersion is the current credential schema version.
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    cooldown_until INTEGER NOT NULL DEFAULT 0,
    remaining_queries INTEGER NOT NULL DEFAULT -1,
    remaining_elevated INTEGER NOT NULL DEFAULT -1,
    tags TEXT NOT NULL DEFAULT '',
    note TEXT NOT NULL DEFAULT '',
    last_used_at INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_credentials_status ON credentials(status);

-- Singleton bulk-refresh record; the single row has id = 1.
CREATE TABLE IF NOT EXISTS refresh_progress (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    running INTEGER NOT NULL DEFAULT 0,
    current INTEGER NOT NULL DEFAULT 0,
    total INTEGER NOT NULL DEFAULT 0,
    success INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL DEFAULT 0
);

INSERT OR IGNORE INTO refresh_progress (id) VALUES (1);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);
`

// SQLiteStore is the SQLite-backed credential table.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the credential database.
func NewSQLiteStore(cfg config.StorageConfig) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	s := &SQLiteStore{
		db:     db,
		logger: slog.Default().With("component", "token.store"),
	}

	if err := s.initialize(cfg); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("credential store initialized", "path", cfg.Path, "wal_mode", cfg.WALMode)
	return s, nil
}

func (s *SQLiteStore) initialize(cfg config.StorageConfig) error {
	if cfg.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", cfg.BusyTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := s.db.Exec("INSERT OR IGNORE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const credentialColumns = "id, kind, status, cooldown_until, remaining_queries, remaining_elevated, tags, note, last_used_at"

func scanCredential(row interface{ Scan(...any) error }) (Credential, error) {
	var c Credential
	var cooldown, lastUsed int64
	var tags string
	err := row.Scan(&c.ID, &c.Kind, &c.Status, &cooldown, &c.RemainingQueries, &c.RemainingElevated, &tags, &c.Note, &lastUsed)
	if err != nil {
		return Credential{}, err
	}
	if cooldown > 0 {
		c.CooldownUntil = time.Unix(cooldown, 0)
	}
	if lastUsed > 0 {
		c.LastUsedAt = time.Unix(lastUsed, 0)
	}
	if tags != "" {
		c.Tags = strings.Split(tags, ",")
	}
	return c, nil
}

// List returns all credentials, expired ones included.
func (s *SQLiteStore) List(ctx context.Context) ([]Credential, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+credentialColumns+" FROM credentials ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Get returns one credential by secret value.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Credential, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+credentialColumns+" FROM credentials WHERE id = ?", id)
	c, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("failed to load credential: %w", err)
	}
	return c, nil
}

// Insert adds credentials, ignoring duplicates, and returns the number added.
func (s *SQLiteStore) Insert(ctx context.Context, creds []Credential) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO credentials
		(id, kind, status, remaining_queries, remaining_elevated, tags, note)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	added := 0
	for _, c := range creds {
		if c.Kind == "" {
			c.Kind = KindStandard
		}
		if c.Status == "" {
			c.Status = StatusActive
		}
		if c.RemainingQueries == 0 {
			c.RemainingQueries = QuotaUnknown
		}
		if c.RemainingElevated == 0 {
			c.RemainingElevated = QuotaUnknown
		}
		res, err := stmt.ExecContext(ctx, c.ID, c.Kind, c.Status, c.RemainingQueries, c.RemainingElevated, strings.Join(c.Tags, ","), c.Note)
		if err != nil {
			return 0, fmt.Errorf("failed to insert credential: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit insert: %w", err)
	}
	return added, nil
}

// Delete removes credentials by id.
func (s *SQLiteStore) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM credentials WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete credentials: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) update(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus updates the lifecycle status.
func (s *SQLiteStore) SetStatus(ctx context.Context, id string, status Status) error {
	return s.update(ctx, "UPDATE credentials SET status = ? WHERE id = ?", status, id)
}

// SetCooldown sets or clears the cooldown instant.
func (s *SQLiteStore) SetCooldown(ctx context.Context, id string, until time.Time) error {
	var ts int64
	if !until.IsZero() {
		ts = until.Unix()
	}
	return s.update(ctx, "UPDATE credentials SET cooldown_until = ? WHERE id = ?", ts, id)
}

// SetQuota updates the remaining query counters.
func (s *SQLiteStore) SetQuota(ctx context.Context, id string, q Quotas) error {
	return s.update(ctx, "UPDATE credentials SET remaining_queries = ?, remaining_elevated = ? WHERE id = ?", q.Remaining, q.RemainingElevated, id)
}

// Touch records a selection instant.
func (s *SQLiteStore) Touch(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, "UPDATE credentials SET last_used_at = ? WHERE id = ?", at.Unix(), id)
}

// SetNote updates the operator note.
func (s *SQLiteStore) SetNote(ctx context.Context, id string, note string) error {
	return s.update(ctx, "UPDATE credentials SET note = ? WHERE id = ?", note, id)
}

// RefreshProgress returns the singleton refresh record.
func (s *SQLiteStore) RefreshProgress(ctx context.Context) (RefreshProgress, error) {
	row := s.db.QueryRowContext(ctx, "SELECT running, current, total, success, failed, updated_at FROM refresh_progress WHERE id = 1")
	var p RefreshProgress
	var running int
	var updated int64
	if err := row.Scan(&running, &p.Current, &p.Total, &p.Success, &p.Failed, &updated); err != nil {
		return RefreshProgress{}, fmt.Errorf("failed to load refresh progress: %w", err)
	}
	p.Running = running != 0
	if updated > 0 {
		p.UpdatedAt = time.Unix(updated, 0)
	}
	return p, nil
}

// TryStartRefresh atomically claims the refresh record. The WHERE clause
// carries the compare-and-set: the update only lands when no refresh is
// running, or when force is set and the caller has decided the running
// record is stale.
func (s *SQLiteStore) TryStartRefresh(ctx context.Context, total int, force bool) (bool, RefreshProgress, error) {
	now := time.Now().Unix()
	query := `UPDATE refresh_progress
		SET running = 1, current = 0, total = ?, success = 0, failed = 0, updated_at = ?
		WHERE id = 1 AND running = 0`
	if force {
		query = `UPDATE refresh_progress
			SET running = 1, current = 0, total = ?, success = 0, failed = 0, updated_at = ?
			WHERE id = 1`
	}

	res, err := s.db.ExecContext(ctx, query, total, now)
	if err != nil {
		return false, RefreshProgress{}, fmt.Errorf("failed to claim refresh record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		p, err := s.RefreshProgress(ctx)
		if err != nil {
			return false, RefreshProgress{}, err
		}
		return false, p, nil
	}
	return true, RefreshProgress{Running: true, Total: total, UpdatedAt: time.Unix(now, 0)}, nil
}

// UpdateRefresh overwrites the progress counters of the running record.
func (s *SQLiteStore) UpdateRefresh(ctx context.Context, p RefreshProgress) error {
	running := 0
	if p.Running {
		running = 1
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE refresh_progress SET running = ?, current = ?, total = ?, success = ?, failed = ?, updated_at = ? WHERE id = 1",
		running, p.Current, p.Total, p.Success, p.Failed, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to update refresh progress: %w", err)
	}
	return nil
}
