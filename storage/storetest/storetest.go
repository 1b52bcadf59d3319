// Package storetest provides a conformance suite run against every
// storage.Store implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/pulsemetrics/pulse-go/storage"
)

// StoreFactory creates a new Store instance for testing.
type StoreFactory func(t *testing.T) storage.Store

// RunStoreTests runs the complete Store test suite against the
// provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, factory) })
	t.Run("GetAbsent", func(t *testing.T) { testGetAbsent(t, factory) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, factory) })
	t.Run("TTLExpiry", func(t *testing.T) { testTTLExpiry(t, factory) })
	t.Run("Remove", func(t *testing.T) { testRemove(t, factory) })
	t.Run("RemoveAbsent", func(t *testing.T) { testRemoveAbsent(t, factory) })
	t.Run("Available", func(t *testing.T) { testAvailable(t, factory) })
}

func testSetAndGet(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != "v" {
		t.Fatalf("Get() = %q, want %q", got, "v")
	}
}

func testGetAbsent(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()

	got, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get() should not fail for an absent key: %v", err)
	}
	if got != "" {
		t.Fatalf("Get() = %q, want empty for absent key", got)
	}
}

func testOverwrite(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "k", "first"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set(ctx, "k", "second"); err != nil {
		t.Fatalf("Set() overwrite failed: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != "second" {
		t.Fatalf("Get() = %q, want %q", got, "second")
	}
}

func testTTLExpiry(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()

	ttl := 100 * time.Millisecond
	if err := s.Set(ctx, "ttl-key", "ttl-value", storage.WithTTL(ttl)); err != nil {
		t.Fatalf("Set() with TTL failed: %v", err)
	}

	got, err := s.Get(ctx, "ttl-key")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != "ttl-value" {
		t.Fatalf("Get() = %q before expiry, want %q", got, "ttl-value")
	}

	time.Sleep(ttl + 50*time.Millisecond)

	got, err = s.Get(ctx, "ttl-key")
	if err != nil {
		t.Fatalf("Get() failed after expiry: %v", err)
	}
	if got != "" {
		t.Fatalf("Get() = %q after expiry, want empty", got)
	}
}

func testRemove(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() failed after removal: %v", err)
	}
	if got != "" {
		t.Fatalf("Get() = %q after removal, want empty", got)
	}
}

func testRemoveAbsent(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()

	if err := s.Remove(context.Background(), "never-set"); err != nil {
		t.Fatalf("Remove() of absent key should not fail: %v", err)
	}
}

func testAvailable(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()

	if !s.Available(context.Background()) {
		t.Fatal("Available() = false for a freshly constructed store")
	}
	if s.Method() == "" {
		t.Fatal("Method() returned empty method")
	}
}
