package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLite is the durable blob adapter. Writes are versioned overwrites;
// the version column increments on every Set so operators can spot
// clobbered keys. SQLite has no native TTL, so expiry deadlines are
// stored per row and enforced lazily on read.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	expires_at INTEGER,
	updated_at INTEGER NOT NULL
);
`

// NewSQLite opens (creating if needed) the blob store at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite handles one writer at a time; serialize on the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// NewSQLiteFromDB wraps an existing handle, applying the schema.
func NewSQLiteFromDB(db *sql.DB) (*SQLite, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Get returns the live value for key, lazily deleting expired rows.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite get %s: %w", key, err)
	}
	if expiresAt.Valid && time.Now().Unix() > expiresAt.Int64 {
		// Expired; delete on access.
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
			return nil, false, fmt.Errorf("sqlite expire %s: %w", key, err)
		}
		return nil, false, nil
	}
	return value, true, nil
}

// Set stores value under key as a versioned overwrite.
func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: time.Now().Add(ttl).Unix(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, version, expires_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			version    = kv.version + 1,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		key, value, expiresAt, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite delete %s: %w", key, err)
	}
	return nil
}

// Scan streams live entries with the given key prefix in key order.
func (s *SQLite) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value FROM kv
		WHERE key >= ? AND key < ?
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY key`,
		prefix, prefix+"\xff", time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite scan %s: %w", prefix, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("sqlite scan row: %w", err)
		}
		if !fn(key, value) {
			return nil
		}
	}
	return rows.Err()
}

// Version returns the current write version for key, or 0 when absent.
func (s *SQLite) Version(ctx context.Context, key string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM kv WHERE key = ?`, key,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite version %s: %w", key, err)
	}
	return version, nil
}

// Close closes the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}
