package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pulsemetrics/pulse-go/storage"
	"github.com/pulsemetrics/pulse-go/storage/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if !s.Available(context.Background()) {
		t.Fatal("Available() = false for a fresh database")
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.RunStoreTests(t, func(t *testing.T) storage.Store {
		return newTestStore(t)
	})
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if !s.Available(ctx) {
		t.Fatal("Available() = false")
	}
	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	s2, err := New(path)
	if err != nil {
		t.Fatalf("New() reopen failed: %v", err)
	}
	defer s2.Close()
	if !s2.Available(ctx) {
		t.Fatal("Available() = false after reopen")
	}

	got, err := s2.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != "v" {
		t.Fatalf("Get() = %q after reopen, want %q", got, "v")
	}
}
