package reconcile

import (
	"archive/zip"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/starford/muninn/internal/models"
	"github.com/starford/muninn/internal/vault"
)

// ManifestVersion is the schema version of exported manifests.
const ManifestVersion = 1

// manifestFilename is the manifest's well-known name inside an archive.
const manifestFilename = "vault.json"

// Manifest is the structured export of a vault: the full node map plus the
// vault's display name. Importing a manifest reconstructs the tree
// (nearly) verbatim.
type Manifest struct {
	Version   int                        `json:"version"`
	VaultName string                     `json:"vaultName"`
	Files     map[string]models.FileNode `json:"files"`
}

// NewManifest builds a manifest for the given vault.
func NewManifest(vaultName string, files map[string]models.FileNode) Manifest {
	return Manifest{
		Version:   ManifestVersion,
		VaultName: vaultName,
		Files:     models.CloneFiles(files),
	}
}

// NodePath computes a node's hierarchical path: the root-to-node name chain
// joined by "/". A visited set guards the parent walk; a dangling or cyclic
// parent truncates the chain at that point.
func NodePath(files map[string]models.FileNode, id string) string {
	var segments []string
	visited := make(map[string]bool)
	cur := id
	for cur != "" && !visited[cur] {
		visited[cur] = true
		n, ok := files[cur]
		if !ok {
			break
		}
		segments = append(segments, n.Name)
		cur, _ = n.Parent.FolderID()
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return strings.Join(segments, "/")
}

// WriteZip writes a vault archive: the manifest plus one flattened document
// per file node at its hierarchical path, with folders contributing empty
// directory entries. Entries are emitted in path order.
func WriteZip(w io.Writer, vaultName string, files map[string]models.FileNode) error {
	zw := zip.NewWriter(w)

	manifest, err := EncodeManifest(NewManifest(vaultName, files))
	if err != nil {
		return err
	}
	mf, err := zw.Create(manifestFilename)
	if err != nil {
		return fmt.Errorf("reconcile: create manifest entry: %w", err)
	}
	if _, err := mf.Write(manifest); err != nil {
		return fmt.Errorf("reconcile: write manifest: %w", err)
	}

	type entry struct {
		path string
		node models.FileNode
	}
	entries := make([]entry, 0, len(files))
	for id, n := range files {
		p := NodePath(files, id)
		if p == "" {
			continue
		}
		if n.Kind == models.KindFile && !strings.HasSuffix(p, vault.DefaultExtension) {
			p += vault.DefaultExtension
		}
		entries = append(entries, entry{path: p, node: n})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	for _, e := range entries {
		if e.node.Kind == models.KindFolder {
			if _, err := zw.Create(e.path + "/"); err != nil {
				return fmt.Errorf("reconcile: create dir entry %s: %w", e.path, err)
			}
			continue
		}
		f, err := zw.Create(e.path)
		if err != nil {
			return fmt.Errorf("reconcile: create entry %s: %w", e.path, err)
		}
		if _, err := f.Write([]byte(e.node.Content)); err != nil {
			return fmt.Errorf("reconcile: write entry %s: %w", e.path, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("reconcile: close archive: %w", err)
	}
	return nil
}
