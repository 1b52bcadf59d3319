package memory

import (
	"context"
	"testing"

	"github.com/pulsemetrics/pulse-go/storage"
	"github.com/pulsemetrics/pulse-go/storage/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunStoreTests(t, func(t *testing.T) storage.Store {
		s, err := New(100)
		if err != nil {
			t.Fatalf("New() failed: %v", err)
		}
		return s
	})
}

func TestNewDefaultSize(t *testing.T) {
	s, err := New(0)
	if err != nil {
		t.Fatalf("New(0) failed: %v", err)
	}
	defer s.Close()
}

func TestEvictionBound(t *testing.T) {
	s, err := New(2)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, k, "v-"+k); err != nil {
			t.Fatalf("Set(%q) failed: %v", k, err)
		}
	}

	// Oldest entry is evicted once the bound is exceeded.
	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != "" {
		t.Fatalf("Get(a) = %q, want empty after eviction", got)
	}
	got, err = s.Get(ctx, "c")
	if err != nil || got != "v-c" {
		t.Fatalf("Get(c) = (%q, %v), want (v-c, nil)", got, err)
	}
}

func TestCloseDropsEntries(t *testing.T) {
	s, err := New(100)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx := context.Background()
	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != "" {
		t.Fatalf("Get() = %q after Close(), want empty", got)
	}
}
