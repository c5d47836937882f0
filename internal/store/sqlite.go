// ABOUTME: SQLite implementation of the KV interface using modernc.org/sqlite
// ABOUTME: Single-host backend for locks and history with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements KV using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store", "backend", "sqlite")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer keeps SetIfAbsent and list sequencing serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			expires_at INTEGER
		);

		CREATE TABLE IF NOT EXISTS list_items (
			key   TEXT NOT NULL,
			seq   INTEGER NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (key, seq)
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) expiry(ttl time.Duration) sql.NullInt64 {
	if ttl <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: s.now().Add(ttl).UnixMilli(), Valid: true}
}

func (s *SQLiteStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	// An expired row counts as absent and is overwritten in place.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
		WHERE kv.expires_at IS NOT NULL AND kv.expires_at <= ?
	`, key, value, s.expiry(ttl), s.now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("set if absent %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set if absent %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, s.expiry(ttl))
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM kv WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)
	`, key, s.now().UnixMilli()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM kv WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)) +
			(SELECT COUNT(*) FROM list_items WHERE key = ?)
	`, key, s.now().UnixMilli(), key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE key IN ("+placeholders+")", args...); err != nil {
		return fmt.Errorf("deleting keys: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM list_items WHERE key IN ("+placeholders+")", args...); err != nil {
		return fmt.Errorf("deleting lists: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteIfEqual(ctx context.Context, key, value string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM kv WHERE key = ? AND value = ? AND (expires_at IS NULL OR expires_at > ?)
	`, key, value, s.now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("delete if equal %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete if equal %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ExpireIfEqual(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE kv SET expires_at = ?
		WHERE key = ? AND value = ? AND (expires_at IS NULL OR expires_at > ?)
	`, s.expiry(ttl), key, value, s.now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("expire if equal %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("expire if equal %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Append(ctx context.Context, key, value string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO list_items (key, seq, value)
		SELECT ?, COALESCE(MAX(seq), 0) + 1, ? FROM list_items WHERE key = ?
	`, key, value, key)
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", key, err)
	}

	var n int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM list_items WHERE key = ?", key).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append %s: %w", key, err)
	}
	return n, nil
}

func (s *SQLiteStore) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT value FROM list_items WHERE key = ? ORDER BY seq", key)
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", key, err)
	}
	defer rows.Close()

	var all []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", key, err)
		}
		all = append(all, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("range %s: %w", key, err)
	}

	lo, hi, ok := normalizeRange(int64(len(all)), start, stop)
	if !ok {
		return []string{}, nil
	}
	return all[lo:hi], nil
}

func (s *SQLiteStore) Trim(ctx context.Context, key string, start, stop int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, "SELECT seq FROM list_items WHERE key = ? ORDER BY seq", key)
	if err != nil {
		return fmt.Errorf("trim %s: %w", key, err)
	}
	var seqs []int64
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			rows.Close()
			return fmt.Errorf("scanning %s: %w", key, err)
		}
		seqs = append(seqs, seq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("trim %s: %w", key, err)
	}

	lo, hi, ok := normalizeRange(int64(len(seqs)), start, stop)
	if !ok {
		_, err = tx.ExecContext(ctx, "DELETE FROM list_items WHERE key = ?", key)
	} else {
		_, err = tx.ExecContext(ctx, "DELETE FROM list_items WHERE key = ? AND (seq < ? OR seq > ?)",
			key, seqs[lo], seqs[hi-1])
	}
	if err != nil {
		return fmt.Errorf("trim %s: %w", key, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
