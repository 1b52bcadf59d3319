// Package storage provides ranked-fallback key/value persistence for
// analytics client state. A Chain is built from an ordered list of
// backing media; reads return the first value found, writes stop at the
// first medium that accepts them, and removals are attempted everywhere.
//
// Any single medium may be unavailable or may reject writes (missing
// state directory, unreachable redis, full disk). The chain exists so
// that session and attribution state survives without the caller
// knowing which medium ended up holding it.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Method identifies a backing medium.
type Method string

const (
	MethodSQLite Method = "sqlite"
	MethodFile   Method = "file"
	MethodRedis  Method = "redis"
	MethodMemory Method = "memory"
)

// DefaultTTL is applied by media that require an expiry when the caller
// did not provide one.
const DefaultTTL = 24 * time.Hour

// Store is a single backing medium. Implementations live in the
// subpackages (memory, fs, sqlite, redis) and are selected via the
// ranked method list, never composed directly by callers.
type Store interface {
	// Get returns the stored value for key, or "" when the key is
	// absent or expired. Errors indicate a medium-level failure, not
	// absence.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key.
	Set(ctx context.Context, key, value string, opts ...Option) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Available reports whether the medium can currently be used. The
	// chain probes this once at construction time.
	Available(ctx context.Context) bool

	// Method identifies the backing medium.
	Method() Method

	// Close releases resources held by the medium.
	Close() error
}

// Option configures a Set operation.
type Option func(*Options)

// Options carries per-operation configuration.
type Options struct {
	// TTL is the time-to-live for the written value. Nil means the
	// medium's default applies.
	TTL *time.Duration
}

// WithTTL sets a time-to-live for the stored value.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.TTL = &ttl
	}
}

// ApplyOptions folds opts into an Options value. Used by Store
// implementations.
func ApplyOptions(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StoredItem is the envelope used by the session and attribution stores
// for values that carry their own expiry. A decoded item whose expiry
// lies in the past is treated as absent; nothing sweeps expired items.
type StoredItem struct {
	Value  string `json:"value"`
	Expiry int64  `json:"expiry"` // absolute epoch milliseconds
}

// Expired reports whether the item's expiry has passed.
func (si *StoredItem) Expired(now time.Time) bool {
	return si.Expiry > 0 && si.Expiry < now.UnixMilli()
}

// EncodeItem serializes value with an absolute expiry ttl from now.
func EncodeItem(value string, ttl time.Duration, now time.Time) string {
	b, _ := json.Marshal(StoredItem{
		Value:  value,
		Expiry: now.Add(ttl).UnixMilli(),
	})
	return string(b)
}

// DecodeItem parses a StoredItem envelope.
func DecodeItem(raw string) (*StoredItem, error) {
	var si StoredItem
	if err := json.Unmarshal([]byte(raw), &si); err != nil {
		return nil, err
	}
	return &si, nil
}

// ErrUnavailable is returned by Store constructors and operations when
// the backing medium cannot be used at all.
var ErrUnavailable = errors.New("storage: medium unavailable")
