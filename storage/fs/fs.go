// Package fs provides a storage medium backed by flat JSON files in a
// state directory, one file per key. It is cheap and dependency-free
// but fails when the directory cannot be created or written (read-only
// installs, sandboxed environments), which is why it participates in a
// fallback chain rather than being trusted outright.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pulsemetrics/pulse-go/storage"
)

type record struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store implements storage.Store on a directory of JSON files.
type Store struct {
	dir string
}

// New creates a file store rooted at dir. When dir is empty, a
// "pulse" directory under os.UserCacheDir is used. The directory is
// not created until the availability probe or the first write.
func New(dir string) (*Store, error) {
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve state dir: %w", err)
		}
		dir = filepath.Join(base, "pulse")
	}
	return &Store{dir: dir}, nil
}

// Get reads the record for key, deleting and reporting absent when it
// has expired.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	b, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read %s: %w", key, err)
	}

	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		// A torn or corrupt file is treated as absent; the next write
		// replaces it.
		_ = os.Remove(s.path(key))
		return "", nil
	}
	if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
		_ = os.Remove(s.path(key))
		return "", nil
	}
	return rec.Value, nil
}

// Set writes the record for key atomically (temp file + rename).
func (s *Store) Set(ctx context.Context, key, value string, opts ...storage.Option) error {
	o := storage.ApplyOptions(opts...)
	ttl := storage.DefaultTTL
	if o.TTL != nil {
		ttl = *o.TTL
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	b, err := json.Marshal(record{Value: value, ExpiresAt: time.Now().Add(ttl)})
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".pulse-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Remove deletes the record file for key.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Available probes the directory with a throwaway write.
func (s *Store) Available(ctx context.Context) bool {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return false
	}
	probe, err := os.CreateTemp(s.dir, ".probe-*")
	if err != nil {
		return false
	}
	probe.Close()
	_ = os.Remove(probe.Name())
	return true
}

// Method identifies the medium.
func (s *Store) Method() storage.Method { return storage.MethodFile }

// Close is a no-op; the store holds no open handles.
func (s *Store) Close() error { return nil }

// path maps a storage key to a filename. Hostile bytes (separators,
// control characters) are escaped as _XX hex pairs; the underscore is
// escaped too so that distinct keys never collide on one file.
func (s *Store) path(key string) string {
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '.', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "_%02x", c)
		}
	}
	return filepath.Join(s.dir, b.String()+".json")
}

// Compile-time interface check
var _ storage.Store = (*Store)(nil)
