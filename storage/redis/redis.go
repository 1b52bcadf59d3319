// Package redis provides a Redis-backed storage medium using
// github.com/redis/go-redis/v9. In multi-process deployments it lets
// session and attribution state survive process restarts and be shared
// across replicas; when the server is unreachable the availability
// probe fails and the chain falls through to local media.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/pulsemetrics/pulse-go/storage"
)

// Config contains configuration options for the Redis medium. Defaults
// can be loaded via envdecode.
type Config struct {
	// Addr like "localhost:6379". ENV: PULSE_REDIS_ADDR
	Addr string `env:"PULSE_REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: PULSE_REDIS_KEY_PREFIX
	KeyPrefix string `env:"PULSE_REDIS_KEY_PREFIX,default=pulse:state:"`

	// Client overrides Addr with an existing client instance.
	Client *redis.Client
}

// Store implements storage.Store on a Redis server.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

// New creates a Redis-backed store. Connectivity is not checked here;
// the chain's availability probe does that.
func New(cfg Config) (*Store, error) {
	client := cfg.Client
	if client == nil {
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{Addr: addr})
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "pulse:state:"
	}
	return &Store{client: client, keyPrefix: prefix}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	// Use envdecode; defaults are provided via struct tags.
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

// Get returns the value for key. Redis owns expiry natively, so an
// expired key is simply absent.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return val, nil
}

// Set stores the value for key with the TTL enforced server-side.
func (s *Store) Set(ctx context.Context, key, value string, opts ...storage.Option) error {
	o := storage.ApplyOptions(opts...)
	ttl := storage.DefaultTTL
	if o.TTL != nil {
		ttl = *o.TTL
	}
	if err := s.client.Set(ctx, s.keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Remove deletes the key.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Available pings the server once.
func (s *Store) Available(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}

// Method identifies the medium.
func (s *Store) Method() storage.Method { return storage.MethodRedis }

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

// Compile-time interface check
var _ storage.Store = (*Store)(nil)
