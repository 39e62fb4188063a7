package reconcile

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/muninn/internal/apperr"
	"github.com/starford/muninn/internal/models"
)

// maxDocumentSize bounds a single imported document.
const maxDocumentSize = 10 << 20

// flatExtensions are the plain-document extensions accepted for a single
// flat import.
var flatExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
}

// Result is a reconciled import: a sanitized node map plus the vault name
// carried by the payload (empty when the payload has none).
type Result struct {
	Files     map[string]models.FileNode
	VaultName string
}

// Import converts a foreign payload into a structurally valid node map.
// The three accepted shapes are tried in order of specificity: a structured
// manifest (bare JSON, or vault.json inside a zip), a path-bearing zip
// without a manifest, and a single flat document. Unparseable input, an
// unrecognized extension, or a result with zero file nodes is an
// apperr.ErrImportFormat; the caller's vault state is left untouched.
func Import(data []byte, filename string) (*Result, error) {
	var (
		res *Result
		err error
	)
	switch ext := strings.ToLower(path.Ext(filename)); {
	case ext == ".zip":
		res, err = importZip(data)
	case ext == ".json":
		res, err = importManifest(data)
	case flatExtensions[ext]:
		res, err = importFlat(data, path.Base(filename))
	default:
		return nil, fmt.Errorf("%w: unsupported extension %q", apperr.ErrImportFormat, path.Ext(filename))
	}
	if err != nil {
		return nil, err
	}

	res.Files = Sanitize(res.Files, nil, time.Now().UnixMilli())
	if models.CountFiles(res.Files) == 0 {
		return nil, fmt.Errorf("%w: no file nodes resolved", apperr.ErrImportFormat)
	}
	return res, nil
}

// EncodeManifest serializes a manifest at the current version.
func EncodeManifest(m Manifest) ([]byte, error) {
	m.Version = ManifestVersion
	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("reconcile: encode manifest: %w", err)
	}
	return out, nil
}

// importManifest parses a structured manifest, falling back to a bare node
// map (the shape older exports used).
func importManifest(data []byte) (*Result, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err == nil && m.Files != nil {
		return &Result{Files: m.Files, VaultName: m.VaultName}, nil
	}
	var files map[string]models.FileNode
	if err := json.Unmarshal(data, &files); err == nil && len(files) > 0 {
		return &Result{Files: files}, nil
	}
	return nil, fmt.Errorf("%w: not a vault manifest", apperr.ErrImportFormat)
}

// importFlat wraps a single document in a top-level file node.
func importFlat(data []byte, name string) (*Result, error) {
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", apperr.ErrImportFormat, maxDocumentSize)
	}
	id := uuid.NewString()
	return &Result{
		Files: map[string]models.FileNode{
			id: {
				ID:      id,
				Name:    name,
				Kind:    models.KindFile,
				Content: string(data),
				Parent:  models.Root(),
			},
		},
	}, nil
}

// importZip reads a vault archive. An archive carrying a manifest is
// reconstructed from it; otherwise folder nodes are synthesized from the
// directory path segments and one file node is created per leaf document.
func importZip(data []byte) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrImportFormat, err)
	}

	for _, f := range zr.File {
		if f.Name == manifestFilename {
			raw, err := readZipEntry(f)
			if err != nil {
				return nil, err
			}
			return importManifest(raw)
		}
	}

	files := make(map[string]models.FileNode)
	dirs := make(map[string]string) // path -> synthesized folder id

	// folderFor returns the folder node for dir, synthesizing the chain of
	// ancestors on first sight. Memoized by path, so repeated segments
	// reuse the same node.
	var folderFor func(dir string) models.ParentRef
	folderFor = func(dir string) models.ParentRef {
		if dir == "" || dir == "." {
			return models.Root()
		}
		if id, ok := dirs[dir]; ok {
			return models.FolderRef(id)
		}
		parent := folderFor(path.Dir(dir))
		id := uuid.NewString()
		files[id] = models.FileNode{
			ID:     id,
			Name:   path.Base(dir),
			Kind:   models.KindFolder,
			Parent: parent,
		}
		dirs[dir] = id
		return models.FolderRef(id)
	}

	for _, f := range zr.File {
		name := path.Clean(strings.TrimSuffix(f.Name, "/"))
		if name == "." || path.IsAbs(name) || strings.HasPrefix(name, "..") {
			continue
		}
		if f.FileInfo().IsDir() {
			folderFor(name)
			continue
		}
		raw, err := readZipEntry(f)
		if err != nil {
			return nil, err
		}
		id := uuid.NewString()
		files[id] = models.FileNode{
			ID:      id,
			Name:    path.Base(name),
			Kind:    models.KindFile,
			Content: string(raw),
			Parent:  folderFor(path.Dir(name)),
		}
	}

	return &Result{Files: files}, nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", apperr.ErrImportFormat, f.Name, err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(io.LimitReader(rc, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", apperr.ErrImportFormat, f.Name, err)
	}
	if len(raw) > maxDocumentSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", apperr.ErrImportFormat, f.Name, maxDocumentSize)
	}
	return raw, nil
}
