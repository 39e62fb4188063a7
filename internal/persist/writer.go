// Package persist implements debounced durable writes on top of a kvstore
// provider. Each key gets its own trailing debounce window; only the most
// recently scheduled snapshot for a key is ever written.
package persist

import (
	"log/slog"
	"sync"
	"time"

	"github.com/starford/muninn/internal/kvstore"
)

// DefaultWindow is the trailing debounce window used when none is configured.
const DefaultWindow = 500 * time.Millisecond

type pendingWrite struct {
	timer   *time.Timer
	payload []byte
}

// Writer coalesces bursts of snapshots into single durable writes. Timer
// handles are owned per Writer instance, so independent writers (one per
// store under test) never clobber each other.
type Writer struct {
	store  kvstore.Provider
	window time.Duration
	logger *slog.Logger

	// mu guards pending and serializes every store write. A deferred
	// timer write must not land after a newer Flush or Write for the
	// same key, so the Put itself happens under the lock.
	mu      sync.Mutex
	pending map[string]*pendingWrite
}

// NewWriter creates a Writer over store with the given debounce window.
func NewWriter(store kvstore.Provider, window time.Duration, logger *slog.Logger) *Writer {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		store:   store,
		window:  window,
		logger:  logger,
		pending: make(map[string]*pendingWrite),
	}
}

// Schedule registers payload for a durable write after the debounce window.
// A pending write for the same key is superseded: its timer restarts and its
// snapshot is dropped, never queued.
func (w *Writer) Schedule(key string, payload []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[key]; ok {
		p.timer.Stop()
		p.payload = payload
		p.timer.Reset(w.window)
		return
	}
	p := &pendingWrite{payload: payload}
	p.timer = time.AfterFunc(w.window, func() { w.fire(key) })
	w.pending[key] = p
}

// fire performs the deferred write when a debounce timer expires.
func (w *Writer) fire(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.pending[key]
	if !ok {
		return
	}
	delete(w.pending, key)
	if err := w.store.Put(key, p.payload); err != nil {
		w.logger.Warn("persist: deferred write failed",
			slog.String("key", key), slog.String("error", err.Error()))
	}
}

// Flush writes the pending snapshot for key immediately, synchronously with
// respect to the caller. It is a no-op when nothing is pending. Required
// before any operation that swaps out the in-memory state behind the key.
func (w *Writer) Flush(key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.pending[key]
	if !ok {
		return nil
	}
	p.timer.Stop()
	delete(w.pending, key)
	return w.store.Put(key, p.payload)
}

// FlushAll flushes every pending key. The first write error is returned
// after all keys have been attempted.
func (w *Writer) FlushAll() error {
	w.mu.Lock()
	keys := make([]string, 0, len(w.pending))
	for k := range w.pending {
		keys = append(keys, k)
	}
	w.mu.Unlock()

	var firstErr error
	for _, k := range keys {
		if err := w.Flush(k); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Cancel drops the pending snapshot for key without writing it. Used when
// the record behind the key is being deleted.
func (w *Writer) Cancel(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelLocked(key)
}

func (w *Writer) cancelLocked(key string) {
	if p, ok := w.pending[key]; ok {
		p.timer.Stop()
		delete(w.pending, key)
	}
}

// Delete cancels any pending snapshot for key and removes the durable
// record.
func (w *Writer) Delete(key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelLocked(key)
	return w.store.Delete(key)
}

// Write stores payload under key immediately, bypassing the debounce window.
// Any pending snapshot for the key is superseded and dropped.
func (w *Writer) Write(key string, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelLocked(key)
	return w.store.Put(key, payload)
}

// Load reads the raw record under key. ok is false on absence or any read
// failure, so the caller can decide to re-seed.
func (w *Writer) Load(key string) ([]byte, bool) {
	raw, err := w.store.Get(key)
	if err != nil {
		return nil, false
	}
	return raw, true
}
