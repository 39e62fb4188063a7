package inbox

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/muninn/internal/testutil"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestWatchImportsDroppedFile(t *testing.T) {
	m, _ := testutil.TestManager(t)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var imported []string

	go Watch(ctx, m, dir, testutil.Logger(), func(name string) {
		mu.Lock()
		imported = append(imported, name)
		mu.Unlock()
	})

	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "drop.md"), []byte("dropped note"), 0o644); err != nil {
		t.Fatal(err)
	}

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		for _, n := range m.Snapshot().Files {
			if n.Name == "drop.md" && n.Content == "dropped note" {
				return true
			}
		}
		return false
	}, "dropped file not imported")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, n := range imported {
			if n == "drop.md" {
				return true
			}
		}
		return false
	}, "expected drop.md callback")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		_, err := os.Stat(filepath.Join(dir, doneDir, "drop.md"))
		return err == nil
	}, "processed file not moved to done/")
}

func TestWatchIgnoresUnsupportedFiles(t *testing.T) {
	m, _ := testutil.TestManager(t)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, m, dir, testutil.Logger(), nil)
	time.Sleep(100 * time.Millisecond)

	before := len(m.Snapshot().Files)
	if err := os.WriteFile(filepath.Join(dir, "photo.png"), []byte{0x89}, 0o644); err != nil {
		t.Fatal(err)
	}

	// Give the watcher ample time to (wrongly) pick it up.
	time.Sleep(settleWindow + 500*time.Millisecond)

	if got := len(m.Snapshot().Files); got != before {
		t.Errorf("files = %d, want unchanged %d", got, before)
	}
	if _, err := os.Stat(filepath.Join(dir, "photo.png")); err != nil {
		t.Error("ignored file was moved or removed")
	}
}

func TestWatchLeavesRejectedFileInPlace(t *testing.T) {
	m, _ := testutil.TestManager(t)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, m, dir, testutil.Logger(), nil)
	time.Sleep(100 * time.Millisecond)

	// A .zip that is not an archive is rejected by the reconciler.
	if err := os.WriteFile(filepath.Join(dir, "broken.zip"), []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(settleWindow + 500*time.Millisecond)

	if _, err := os.Stat(filepath.Join(dir, "broken.zip")); err != nil {
		t.Error("rejected file should stay in the inbox")
	}
	if _, err := os.Stat(filepath.Join(dir, doneDir, "broken.zip")); err == nil {
		t.Error("rejected file must not be archived")
	}
}
