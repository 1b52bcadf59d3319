// Package session maintains the time-boxed session identifier used to
// group events. The identifier lives in the storage fallback chain
// under a single key, wrapped in the StoredItem envelope so that it
// carries its own absolute expiry.
//
// Expiry is deliberately non-sliding: reads return the stored value
// untouched, and only an explicit SetID resets the 30-minute window.
// There is no deletion path; a session ends by expiring.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pulsemetrics/pulse-go/storage"
)

// Key under which the session record is stored.
const Key = "pulse:session_id"

// TTL is the session window applied on every explicit set.
const TTL = 30 * time.Minute

// Store reads and writes the session identifier through a storage
// chain it does not own.
type Store struct {
	chain *storage.Chain
	log   *slog.Logger
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for persistence warnings.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New creates a session store on top of chain.
func New(chain *storage.Chain, opts ...Option) *Store {
	s := &Store{chain: chain, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the current session identifier, creating one when the
// stored record is absent or expired. Reading an unexpired record does
// not refresh its expiry. A freshly generated identifier is returned
// even when no medium accepts the write.
func (s *Store) ID(ctx context.Context) string {
	if raw, ok := s.chain.Get(ctx, Key); ok {
		item, err := storage.DecodeItem(raw)
		if err == nil && !item.Expired(s.now()) && item.Value != "" {
			return item.Value
		}
	}

	id := uuid.NewString()
	s.SetID(ctx, id)
	return id
}

// SetID unconditionally persists id with a fresh 30-minute expiry,
// regardless of any prior record. Returns false, after logging, when
// every medium in the chain rejected the write.
func (s *Store) SetID(ctx context.Context, id string) bool {
	raw := storage.EncodeItem(id, TTL, s.now())
	if !s.chain.Set(ctx, Key, raw, storage.WithTTL(TTL)) {
		s.log.Warn("session.persist.fail", slog.String("session_id", id))
		return false
	}
	return true
}
