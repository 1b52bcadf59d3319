package storage

import (
	"context"
	"log/slog"
)

// Chain iterates an ordered list of Stores with first-success write and
// first-present read semantics. Availability is probed once at
// construction; media that fail the probe never participate.
type Chain struct {
	stores []Store
	log    *slog.Logger
}

// ChainOption configures a Chain.
type ChainOption func(*chainConfig)

type chainConfig struct {
	log *slog.Logger
}

// WithLogger sets the slog logger used for fallback warnings. If not
// provided, slog.Default() is used.
func WithLogger(log *slog.Logger) ChainOption {
	return func(c *chainConfig) {
		c.log = log
	}
}

// NewChain probes each candidate store in order and keeps the available
// ones. Candidates that fail the probe are closed immediately. The
// caller controls ordering: primary first, then fallbacks, then (by
// convention) an always-available memory store.
func NewChain(ctx context.Context, candidates []Store, opts ...ChainOption) *Chain {
	cfg := &chainConfig{log: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	var active []Store
	for _, s := range candidates {
		if s == nil {
			continue
		}
		if !s.Available(ctx) {
			cfg.log.Debug("storage.probe.unavailable", slog.String("method", string(s.Method())))
			_ = s.Close()
			continue
		}
		active = append(active, s)
	}

	return &Chain{stores: active, log: cfg.log}
}

// Get returns the first non-empty value found in chain order. Values
// are never merged across media. ok is false when no medium holds the
// key.
func (c *Chain) Get(ctx context.Context, key string) (value string, ok bool) {
	for _, s := range c.stores {
		v, err := s.Get(ctx, key)
		if err != nil {
			c.log.Debug("storage.get.fail",
				slog.String("method", string(s.Method())),
				slog.String("key", key),
				slog.String("err", err.Error()))
			continue
		}
		if v != "" {
			return v, true
		}
	}
	return "", false
}

// Set writes to the first medium that accepts the value and stops.
// Failing media are skipped, not retried. Returns false, with a
// warning, only when every medium rejected the write.
func (c *Chain) Set(ctx context.Context, key, value string, opts ...Option) bool {
	for _, s := range c.stores {
		if err := s.Set(ctx, key, value, opts...); err != nil {
			c.log.Debug("storage.set.fail",
				slog.String("method", string(s.Method())),
				slog.String("key", key),
				slog.String("err", err.Error()))
			continue
		}
		return true
	}
	c.log.Warn("storage.set.exhausted", slog.String("key", key), slog.Int("media", len(c.stores)))
	return false
}

// Remove attempts removal on every medium in the chain. Best-effort:
// returns true if any medium succeeded.
func (c *Chain) Remove(ctx context.Context, key string) bool {
	removed := false
	for _, s := range c.stores {
		if err := s.Remove(ctx, key); err != nil {
			c.log.Debug("storage.remove.fail",
				slog.String("method", string(s.Method())),
				slog.String("key", key),
				slog.String("err", err.Error()))
			continue
		}
		removed = true
	}
	return removed
}

// IsAvailable reports whether method is part of the active chain.
func (c *Chain) IsAvailable(method Method) bool {
	for _, s := range c.stores {
		if s.Method() == method {
			return true
		}
	}
	return false
}

// Methods returns the active chain order. Primarily useful for
// diagnostics and tests.
func (c *Chain) Methods() []Method {
	out := make([]Method, 0, len(c.stores))
	for _, s := range c.stores {
		out = append(out, s.Method())
	}
	return out
}

// Close closes every active medium, returning the first error seen.
func (c *Chain) Close() error {
	var first error
	for _, s := range c.stores {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
