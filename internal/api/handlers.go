package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/muninn/internal/apperr"
	"github.com/starford/muninn/internal/models"
	"github.com/starford/muninn/internal/reconcile"
	"github.com/starford/muninn/internal/registry"
	"github.com/starford/muninn/internal/search"
)

// Handler holds API route handlers.
type Handler struct {
	m   *registry.Manager
	idx search.Indexer
}

// NewHandler creates a new Handler.
func NewHandler(m *registry.Manager, idx search.Indexer) *Handler {
	return &Handler{m: m, idx: idx}
}

// parentRef converts a request's parentId field ("", "root", or a folder
// id) into the optional parent argument for create operations.
func parentRef(parentID string) []models.ParentRef {
	if parentID == "" {
		return nil // use the selected folder
	}
	return []models.ParentRef{models.FolderRef(parentID)}
}

func (h *Handler) writeOpError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrVaultNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("vault not found"))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// Snapshot handles GET /api/snapshot.
func (h *Handler) Snapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.m.Snapshot())
}

// ListVaults handles GET /api/vaults.
func (h *Handler) ListVaults(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"vaults":         h.m.List(),
		"currentVaultId": h.m.CurrentVaultID(),
	})
}

// CreateVault handles POST /api/vaults.
func (h *Handler) CreateVault(w http.ResponseWriter, r *http.Request) {
	var req CreateVaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	id, err := h.m.CreateVault(req.Name, nil)
	if err != nil {
		h.writeOpError(w, "create vault", err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

// SwitchVault handles POST /api/vaults/{id}/switch.
func (h *Handler) SwitchVault(w http.ResponseWriter, r *http.Request) {
	if err := h.m.SwitchVault(chi.URLParam(r, "id")); err != nil {
		h.writeOpError(w, "switch vault", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteVault handles DELETE /api/vaults/{id}.
func (h *Handler) DeleteVault(w http.ResponseWriter, r *http.Request) {
	if err := h.m.DeleteVault(chi.URLParam(r, "id")); err != nil {
		h.writeOpError(w, "delete vault", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportVault handles GET /api/vaults/{id}/export. The response is a zip
// archive holding the manifest plus one flattened document per file.
func (h *Handler) ExportVault(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name, files, err := h.m.ExportVault(id)
	if err != nil {
		h.writeOpError(w, "export vault", err)
		return
	}
	if name == "" {
		name = "vault"
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".zip"))
	if err := reconcile.WriteZip(w, name, files); err != nil {
		slog.Error("export vault failed", slog.String("vault_id", id), slog.String("error", err.Error()))
	}
}

// Import handles POST /api/import. The payload is a multipart upload
// (field "file"); ?as=vault imports into a fresh vault instead of merging
// into the current one. Import failures are the one error class surfaced
// with a descriptive reason, because the caller must show the user why
// nothing changed.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("multipart field 'file' is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read upload"))
		return
	}

	res, err := reconcile.Import(data, header.Filename)
	if err != nil {
		if errors.Is(err, apperr.ErrImportFormat) {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		} else {
			slog.Error("import failed", slog.String("file", header.Filename), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}

	if r.URL.Query().Get("as") == "vault" {
		id, err := h.m.ImportAsNewVault(res, trimImportExt(header.Filename))
		if err != nil {
			h.writeOpError(w, "import as vault", err)
			return
		}
		writeJSON(w, http.StatusOK, ImportResponse{VaultID: id, FileCount: models.CountFiles(res.Files)})
		return
	}

	if err := h.m.ImportIntoCurrent(res); err != nil {
		h.writeOpError(w, "import", err)
		return
	}
	writeJSON(w, http.StatusOK, ImportResponse{
		VaultID:   h.m.CurrentVaultID(),
		FileCount: models.CountFiles(res.Files),
	})
}

// trimImportExt strips the upload extension to infer a vault name.
func trimImportExt(filename string) string {
	for _, ext := range []string{".zip", ".json"} {
		if strings.HasSuffix(strings.ToLower(filename), ext) {
			return filename[:len(filename)-len(ext)]
		}
	}
	return filename
}

// CreateFile handles POST /api/files.
func (h *Handler) CreateFile(w http.ResponseWriter, r *http.Request) {
	var req CreateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	id, err := h.m.CreateFile(req.Name, parentRef(req.ParentID)...)
	if err != nil {
		h.writeOpError(w, "create file", err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

// CreateFolder handles POST /api/folders.
func (h *Handler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req CreateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	id, err := h.m.CreateFolder(req.Name, parentRef(req.ParentID)...)
	if err != nil {
		h.writeOpError(w, "create folder", err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

// UpdateContent handles PUT /api/files/{id}/content.
func (h *Handler) UpdateContent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req UpdateContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.m.UpdateContent(chi.URLParam(r, "id"), req.Content); err != nil {
		h.writeOpError(w, "update content", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenameItem handles PUT /api/files/{id}/name.
func (h *Handler) RenameItem(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	if err := h.m.RenameItem(chi.URLParam(r, "id"), req.Name); err != nil {
		h.writeOpError(w, "rename item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteItem handles DELETE /api/files/{id}.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.m.DeleteItem(chi.URLParam(r, "id")); err != nil {
		h.writeOpError(w, "delete item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RestoreHistory handles POST /api/files/{id}/restore.
func (h *Handler) RestoreHistory(w http.ResponseWriter, r *http.Request) {
	var req RestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.m.RestoreHistory(chi.URLParam(r, "id"), req.Content); err != nil {
		h.writeOpError(w, "restore history", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetActiveFile handles PUT /api/workspace/active.
func (h *Handler) SetActiveFile(w http.ResponseWriter, r *http.Request) {
	var req NodeIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.m.SetActiveFile(req.ID); err != nil {
		h.writeOpError(w, "set active file", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CloseFile handles POST /api/workspace/close.
func (h *Handler) CloseFile(w http.ResponseWriter, r *http.Request) {
	var req NodeIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("id is required"))
		return
	}
	if err := h.m.CloseFile(req.ID); err != nil {
		h.writeOpError(w, "close file", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetFolderFocus handles PUT /api/workspace/folder.
func (h *Handler) SetFolderFocus(w http.ResponseWriter, r *http.Request) {
	var req NodeIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.m.SetFolderFocus(models.FolderRef(req.ID)); err != nil {
		h.writeOpError(w, "set folder focus", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.idx.Search(h.m.CurrentVaultID(), q, limit)
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if results == nil {
		results = []search.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
