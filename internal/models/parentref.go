package models

import (
	"encoding/json"
	"fmt"
)

// rootSentinel is the wire representation of the vault root. Persisted
// records from every schema version use it, so it cannot change.
const rootSentinel = "root"

// ParentRef points at a node's parent. The zero value is the vault root;
// any other value names a folder node. Keeping this a closed type (instead
// of a bare string) means a dangling or empty id cannot masquerade as a
// valid parent anywhere in the tree code.
type ParentRef struct {
	id string
}

// Root returns the root reference.
func Root() ParentRef { return ParentRef{} }

// FolderRef returns a reference to the folder with the given id.
// An empty id collapses to the root.
func FolderRef(id string) ParentRef {
	if id == "" || id == rootSentinel {
		return ParentRef{}
	}
	return ParentRef{id: id}
}

// IsRoot reports whether the reference is the vault root.
func (p ParentRef) IsRoot() bool { return p.id == "" }

// FolderID returns the referenced folder id. ok is false at the root.
func (p ParentRef) FolderID() (id string, ok bool) {
	return p.id, p.id != ""
}

// String returns the wire form ("root" or the folder id).
func (p ParentRef) String() string {
	if p.id == "" {
		return rootSentinel
	}
	return p.id
}

// MarshalJSON encodes the reference as the string "root" or the folder id.
func (p ParentRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts "root", an id string, or null/empty (treated as root).
func (p *ParentRef) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = ParentRef{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("models: parent ref: %w", err)
	}
	*p = FolderRef(s)
	return nil
}
