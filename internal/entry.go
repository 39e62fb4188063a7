// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/muninn/internal/api"
	"github.com/starford/muninn/internal/inbox"
	"github.com/starford/muninn/internal/kvstore"
	"github.com/starford/muninn/internal/mcpserver"
	"github.com/starford/muninn/internal/persist"
	"github.com/starford/muninn/internal/registry"
	"github.com/starford/muninn/internal/search"
	"github.com/starford/muninn/internal/sse"
)

// changeBuffer bounds the queue between the vault manager and the
// background consumer that feeds SSE and the search index. The hook runs
// under the manager lock, so it must never block on a slow consumer.
const changeBuffer = 64

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_path", cfg.Store.Path),
		slog.Int("debounce_ms", cfg.Store.DebounceMS),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Initialize the durable key-value store.
	store, err := kvstore.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	// Deferred writer in front of the store.
	window := time.Duration(cfg.Store.DebounceMS) * time.Millisecond
	if cfg.Store.DebounceMS == 0 {
		window = persist.DefaultWindow
	}
	writer := persist.NewWriter(store, window, logger)

	// Full-text search index shares the SQLite file with the store.
	idx, err := search.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("init search index: %w", err)
	}
	defer idx.Close()

	// Change events flow out of the manager through a buffered channel so
	// SSE publication and index sync happen off the manager lock.
	changes := make(chan registry.ChangeEvent, changeBuffer)

	m := registry.NewManager(writer, logger,
		registry.WithChangeHook(func(ev registry.ChangeEvent) {
			select {
			case changes <- ev:
			default:
				logger.Warn("change event dropped", slog.String("vault_id", ev.VaultID))
			}
		}),
	)
	if err := m.Init(); err != nil {
		return fmt.Errorf("init vault registry: %w", err)
	}

	// Seed the index with the current vault before serving.
	snap := m.Snapshot()
	if err := idx.Sync(snap.CurrentVaultID, snap.Files); err != nil {
		logger.Warn("initial index sync failed", slog.String("error", err.Error()))
	}

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)

	// Build API router.
	apiRouter := api.NewRouter(m, idx, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Consume change events: publish over SSE and keep the index in sync.
	g.Go(func() error {
		consumeChanges(gCtx, changes, m, idx, broker, logger)
		return nil
	})

	// Start the drop-folder importer when enabled.
	if cfg.Inbox.Enabled {
		if err := os.MkdirAll(cfg.Inbox.Path, 0o755); err != nil {
			return fmt.Errorf("create inbox dir: %w", err)
		}
		g.Go(func() error {
			return inbox.Watch(gCtx, m, cfg.Inbox.Path, logger, nil)
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Flush every deferred write before the store closes.
		writer.FlushAll()
		broker.Close()

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// consumeChanges drains manager change events until the context ends. Vault
// events re-index the changed file set; registry events additionally drop
// index rows for vaults that no longer exist.
func consumeChanges(ctx context.Context, changes <-chan registry.ChangeEvent, m *registry.Manager, idx search.Indexer, broker *sse.Broker, logger *slog.Logger) {
	known := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-changes:
			broker.PublishChange(ev.Kind, ev.VaultID)

			if ev.Files != nil {
				known[ev.VaultID] = true
				if err := idx.Sync(ev.VaultID, ev.Files); err != nil {
					logger.Warn("index sync failed",
						slog.String("vault_id", ev.VaultID),
						slog.String("error", err.Error()))
				}
			}

			if ev.Kind == registry.ChangeRegistry {
				alive := make(map[string]bool)
				for _, v := range m.List() {
					alive[v.ID] = true
				}
				for id := range known {
					if alive[id] {
						continue
					}
					if err := idx.DropVault(id); err != nil {
						logger.Warn("index cleanup failed",
							slog.String("vault_id", id),
							slog.String("error", err.Error()))
					}
					delete(known, id)
				}
			}
		}
	}
}

// RunMCP starts the stdio MCP server against the same durable store, without
// the HTTP surface. Writes are flushed synchronously on exit.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// MCP speaks JSON-RPC over stdout, so logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	store, err := kvstore.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	window := time.Duration(cfg.Store.DebounceMS) * time.Millisecond
	if cfg.Store.DebounceMS == 0 {
		window = persist.DefaultWindow
	}
	writer := persist.NewWriter(store, window, logger)
	defer writer.FlushAll()

	idx, err := search.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("init search index: %w", err)
	}
	defer idx.Close()

	m := registry.NewManager(writer, logger)
	if err := m.Init(); err != nil {
		return fmt.Errorf("init vault registry: %w", err)
	}

	snap := m.Snapshot()
	if err := idx.Sync(snap.CurrentVaultID, snap.Files); err != nil {
		logger.Warn("initial index sync failed", slog.String("error", err.Error()))
	}

	srv := mcpserver.New(m, idx)

	done := make(chan error, 1)
	go func() { done <- srv.ServeStdio() }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-done:
		return err
	}
}
