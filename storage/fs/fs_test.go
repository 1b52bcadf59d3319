package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pulsemetrics/pulse-go/storage"
	"github.com/pulsemetrics/pulse-go/storage/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunStoreTests(t, func(t *testing.T) storage.Store {
		s, err := New(t.TempDir())
		if err != nil {
			t.Fatalf("New() failed: %v", err)
		}
		return s
	})
}

func TestCorruptFileTreatedAsAbsent(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "k.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("corrupting file failed: %v", err)
	}

	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() failed on corrupt file: %v", err)
	}
	if got != "" {
		t.Fatalf("Get() = %q on corrupt file, want empty", got)
	}

	// The corrupt file is deleted, not left to fail every read.
	if _, err := os.Stat(filepath.Join(dir, "k.json")); !os.IsNotExist(err) {
		t.Fatal("corrupt file should be removed on read")
	}
}

func TestKeySanitization(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	key := "pulse:session/id"
	if err := s.Set(ctx, key, "v"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	got, err := s.Get(ctx, key)
	if err != nil || got != "v" {
		t.Fatalf("Get() = (%q, %v), want (v, nil)", got, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if filepath.Base(e.Name()) != e.Name() {
			t.Fatalf("key escaped the state dir: %q", e.Name())
		}
	}
}

func TestDistinctKeysDoNotCollide(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	// Keys differing only in an escaped rune must map to distinct files.
	if err := s.Set(ctx, "pulse:session_id", "colon"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set(ctx, "pulse_session_id", "underscore"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	got, err := s.Get(ctx, "pulse:session_id")
	if err != nil || got != "colon" {
		t.Fatalf("Get(colon key) = (%q, %v), want (colon, nil)", got, err)
	}
	got, err = s.Get(ctx, "pulse_session_id")
	if err != nil || got != "underscore" {
		t.Fatalf("Get(underscore key) = (%q, %v), want (underscore, nil)", got, err)
	}
}

func TestUnwritableDirUnavailable(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root; permission bits are not enforced")
	}

	dir := t.TempDir()
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}
	defer os.Chmod(dir, 0o700)

	s, err := New(filepath.Join(dir, "nested"))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	if s.Available(context.Background()) {
		t.Fatal("Available() = true for an unwritable directory")
	}
}
