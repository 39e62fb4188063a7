package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/muninn/internal/registry"
	"github.com/starford/muninn/internal/search"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(m *registry.Manager, idx search.Indexer, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(m, idx)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Reactive snapshot for rendering and pure consumers.
	r.Get("/snapshot", h.Snapshot)

	// Vault lifecycle.
	r.Get("/vaults", h.ListVaults)
	r.Post("/vaults", h.CreateVault)
	r.Post("/vaults/{id}/switch", h.SwitchVault)
	r.Delete("/vaults/{id}", h.DeleteVault)
	r.Get("/vaults/{id}/export", h.ExportVault)
	r.Post("/import", h.Import)

	// Tree operations.
	r.Post("/files", h.CreateFile)
	r.Post("/folders", h.CreateFolder)
	r.Put("/files/{id}/content", h.UpdateContent)
	r.Put("/files/{id}/name", h.RenameItem)
	r.Post("/files/{id}/restore", h.RestoreHistory)
	r.Delete("/files/{id}", h.DeleteItem)

	// Workspace pointers.
	r.Put("/workspace/active", h.SetActiveFile)
	r.Post("/workspace/close", h.CloseFile)
	r.Put("/workspace/folder", h.SetFolderFocus)

	// Search (delegated to the index collaborator).
	r.Get("/search", h.Search)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
