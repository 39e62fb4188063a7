// Package testutil provides shared test helpers for setting up stores and managers.
package testutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/muninn/internal/kvstore"
	"github.com/starford/muninn/internal/persist"
	"github.com/starford/muninn/internal/registry"
	"github.com/starford/muninn/internal/search"
)

// Logger returns a quiet logger for tests.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestStore creates a temporary SQLite key-value store that is automatically
// cleaned up.
func TestStore(t *testing.T) *kvstore.SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	store, err := kvstore.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestWriter creates a debounced writer over a temporary store with a short
// window so debounce behavior is observable without slowing the suite down.
func TestWriter(t *testing.T) (*persist.Writer, *kvstore.SQLite) {
	t.Helper()
	store := TestStore(t)
	return persist.NewWriter(store, 20*time.Millisecond, Logger()), store
}

// TestManager creates an initialized vault manager over a temporary store.
func TestManager(t *testing.T, opts ...registry.Option) (*registry.Manager, *kvstore.SQLite) {
	t.Helper()
	writer, store := TestWriter(t)
	m := registry.NewManager(writer, Logger(), opts...)
	if err := m.Init(); err != nil {
		t.Fatal(err)
	}
	return m, store
}

// TestIndex creates a temporary search index that is automatically cleaned up.
func TestIndex(t *testing.T) *search.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	db, err := search.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
