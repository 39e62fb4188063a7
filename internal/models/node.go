// Package models defines the domain types for Muninn: vault metadata,
// file/folder tree nodes, and the persisted record shapes.
package models

// Kind discriminates file nodes from folder nodes.
type Kind string

// Node kinds. Persisted records use these exact strings.
const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// Valid reports whether k is a recognized kind.
func (k Kind) Valid() bool {
	return k == KindFile || k == KindFolder
}

// HistoryEntry is one content checkpoint of a file node.
type HistoryEntry struct {
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}

// FileNode is a single entry in a vault's tree. The map key under which a
// node is stored must always equal its ID.
type FileNode struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Kind      Kind           `json:"type"`
	Content   string         `json:"content,omitempty"` // files only
	Parent    ParentRef      `json:"parentId"`
	UpdatedAt int64          `json:"updatedAt"` // Unix milliseconds
	History   []HistoryEntry `json:"history,omitempty"`
}

// Clone returns a deep copy of the node.
func (n FileNode) Clone() FileNode {
	out := n
	if n.History != nil {
		out.History = make([]HistoryEntry, len(n.History))
		copy(out.History, n.History)
	}
	return out
}

// CloneFiles returns a deep copy of a node map.
func CloneFiles(files map[string]FileNode) map[string]FileNode {
	out := make(map[string]FileNode, len(files))
	for id, n := range files {
		out[id] = n.Clone()
	}
	return out
}

// CountFiles returns the number of file-kind nodes in the map.
func CountFiles(files map[string]FileNode) int {
	n := 0
	for _, f := range files {
		if f.Kind == KindFile {
			n++
		}
	}
	return n
}

// VaultMeta is one registry entry describing a vault.
type VaultMeta struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	FileCount    int    `json:"fileCount"`
	CreatedAt    int64  `json:"createdAt"`    // Unix milliseconds
	LastAccessed int64  `json:"lastAccessed"` // Unix milliseconds
}
