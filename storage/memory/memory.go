// Package memory provides the in-process storage medium using
// github.com/hashicorp/golang-lru/v2. It is always available and never
// rejects writes, which makes it the terminal fallback in a chain.
// Entries carry their own expiry and are dropped lazily on read.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pulsemetrics/pulse-go/storage"
)

// DefaultMaxItems bounds the cache when no size is configured.
const DefaultMaxItems = 1024

type entry struct {
	value     string
	expiresAt time.Time
}

// Store implements storage.Store in process memory.
type Store struct {
	mu    sync.Mutex
	cache *lru.Cache[string, entry]
}

// New creates an in-memory store holding at most maxItems entries.
// maxItems <= 0 selects DefaultMaxItems.
func New(maxItems int) (*Store, error) {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	cache, err := lru.New[string, entry](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &Store{cache: cache}, nil
}

// Get returns the value for key, dropping it when its expiry has
// passed. No background sweep exists; expiry is read-time only.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.cache.Get(key)
	if !ok {
		return "", nil
	}
	if time.Now().After(e.expiresAt) {
		s.cache.Remove(key)
		return "", nil
	}
	return e.value, nil
}

// Set stores value under key. The default 24h TTL applies when the
// caller provides none.
func (s *Store) Set(ctx context.Context, key, value string, opts ...storage.Option) error {
	o := storage.ApplyOptions(opts...)
	ttl := storage.DefaultTTL
	if o.TTL != nil {
		ttl = *o.TTL
	}

	s.mu.Lock()
	s.cache.Add(key, entry{value: value, expiresAt: time.Now().Add(ttl)})
	s.mu.Unlock()
	return nil
}

// Remove deletes key.
func (s *Store) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	s.cache.Remove(key)
	s.mu.Unlock()
	return nil
}

// Available always reports true.
func (s *Store) Available(ctx context.Context) bool { return true }

// Method identifies the medium.
func (s *Store) Method() storage.Method { return storage.MethodMemory }

// Close purges all entries.
func (s *Store) Close() error {
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

// Compile-time interface check
var _ storage.Store = (*Store)(nil)
