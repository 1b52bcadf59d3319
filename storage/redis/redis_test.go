package redis

import (
	"context"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pulsemetrics/pulse-go/storage"
	"github.com/pulsemetrics/pulse-go/storage/storetest"
)

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()

	// Skip test if Redis is not available
	client := goredis.NewClient(&goredis.Options{
		Addr: "127.0.0.1:6379",
		DB:   2, // Use separate DB for storage tests
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestConformance(t *testing.T) {
	client := newTestClient(t)

	storetest.RunStoreTests(t, func(t *testing.T) storage.Store {
		s, err := New(Config{Client: client, KeyPrefix: "pulse:test:" + t.Name() + ":"})
		if err != nil {
			t.Fatalf("New() failed: %v", err)
		}
		return nopCloseStore{s}
	})
}

func TestUnreachableServerUnavailable(t *testing.T) {
	s, err := New(Config{Addr: "127.0.0.1:1"})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	if s.Available(context.Background()) {
		t.Fatal("Available() = true for an unreachable server")
	}
}

// nopCloseStore keeps the shared test client open across conformance
// subtests.
type nopCloseStore struct {
	*Store
}

func (nopCloseStore) Close() error { return nil }
