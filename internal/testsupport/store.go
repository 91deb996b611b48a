package testsupport

import (
	"testing"

	"visitsync/internal/cache"
	"visitsync/internal/config"
	"visitsync/internal/queue"
)

// MustOpenStore opens a queue store for the given config and closes it when
// the test ends.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open queue store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// MustOpenCache opens a response cache for the given config and closes it
// when the test ends.
func MustOpenCache(t testing.TB, cfg *config.Config) *cache.Store {
	t.Helper()

	store, err := cache.Open(cfg)
	if err != nil {
		t.Fatalf("open cache store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
