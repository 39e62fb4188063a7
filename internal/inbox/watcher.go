// Package inbox watches a drop directory and imports documents that appear
// there into the current vault. Processed files are moved to a done/
// subdirectory so the inbox never re-imports them.
package inbox

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/muninn/internal/reconcile"
	"github.com/starford/muninn/internal/registry"
)

// settleWindow is how long a file must stay quiet after its last write
// event before it is imported. Editors and browsers write downloads in
// bursts; the per-path timer coalesces them.
const settleWindow = 500 * time.Millisecond

// doneDir is the subdirectory processed files are moved into.
const doneDir = "done"

var acceptedExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
	".json":     true,
	".zip":      true,
}

// Watch starts an fsnotify watcher on dir and imports dropped files until
// ctx is cancelled. cb (if non-nil) is called after each successful import
// with the imported file's name.
func Watch(ctx context.Context, m *registry.Manager, dir string, logger *slog.Logger, cb func(name string)) error {
	if err := os.MkdirAll(filepath.Join(dir, doneDir), 0o755); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}

	logger.Info("inbox: started", slog.String("dir", dir))

	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
	)
	stopTimers := func() {
		mu.Lock()
		defer mu.Unlock()
		for _, t := range timers {
			t.Stop()
		}
	}
	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[path]; ok {
			t.Reset(settleWindow)
			return
		}
		timers[path] = time.AfterFunc(settleWindow, func() {
			mu.Lock()
			delete(timers, path)
			mu.Unlock()
			importFile(m, dir, path, logger, cb)
		})
	}

	for {
		select {
		case <-ctx.Done():
			stopTimers()
			logger.Info("inbox: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !acceptedExtensions[strings.ToLower(filepath.Ext(ev.Name))] {
				continue
			}
			if info, statErr := os.Stat(ev.Name); statErr != nil || info.IsDir() {
				continue
			}
			schedule(ev.Name)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("inbox: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// importFile reconciles one dropped file into the current vault and moves
// it to done/. Failures are logged and the file is left in place so the
// user can see it was not picked up.
func importFile(m *registry.Manager, dir, path string, logger *slog.Logger, cb func(string)) {
	name := filepath.Base(path)

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("inbox: read failed", slog.String("file", name), slog.String("error", err.Error()))
		return
	}

	res, err := reconcile.Import(data, name)
	if err != nil {
		logger.Warn("inbox: import rejected", slog.String("file", name), slog.String("error", err.Error()))
		return
	}
	if err := m.ImportIntoCurrent(res); err != nil {
		logger.Warn("inbox: merge failed", slog.String("file", name), slog.String("error", err.Error()))
		return
	}

	if err := os.Rename(path, filepath.Join(dir, doneDir, name)); err != nil {
		logger.Warn("inbox: archive failed", slog.String("file", name), slog.String("error", err.Error()))
	}

	logger.Info("inbox: imported", slog.String("file", name))
	if cb != nil {
		cb(name)
	}
}
