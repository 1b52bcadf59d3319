// Package sqlite provides a storage medium backed by an embedded
// SQLite database via the pure-Go modernc.org/sqlite driver. It is the
// default primary medium: durable across restarts and safe for
// concurrent readers within a single process.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pulsemetrics/pulse-go/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS pulse_state (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
)`

// Store implements storage.Store on a SQLite database file.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path. When path is
// empty, "pulse/state.db" under os.UserCacheDir is used. The schema is
// applied by the availability probe, not here, so that a misconfigured
// path degrades to fallback instead of failing construction.
func New(path string) (*Store, error) {
	if path == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve state dir: %w", err)
		}
		path = filepath.Join(base, "pulse", "state.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// Single writer; avoids SQLITE_BUSY under concurrent Set calls.
	db.SetMaxOpenConns(1)

	return &Store{db: db}, nil
}

// Get returns the value for key, deleting the row lazily when its
// expiry has passed.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM pulse_state WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	if expiresAt > 0 && expiresAt < time.Now().UnixMilli() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM pulse_state WHERE key = ?`, key)
		return "", nil
	}
	return value, nil
}

// Set upserts the value for key.
func (s *Store) Set(ctx context.Context, key, value string, opts ...storage.Option) error {
	o := storage.ApplyOptions(opts...)
	ttl := storage.DefaultTTL
	if o.TTL != nil {
		ttl = *o.TTL
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pulse_state (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, time.Now().Add(ttl).UnixMilli())
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Remove deletes the row for key.
func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pulse_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Available pings the database and applies the schema.
func (s *Store) Available(ctx context.Context) bool {
	if err := s.db.PingContext(ctx); err != nil {
		return false
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return false
	}
	return true
}

// Method identifies the medium.
func (s *Store) Method() storage.Method { return storage.MethodSQLite }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Compile-time interface check
var _ storage.Store = (*Store)(nil)
