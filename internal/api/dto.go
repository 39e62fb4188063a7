package api

// CreateVaultRequest is the request body for creating a vault.
type CreateVaultRequest struct {
	Name string `json:"name" example:"Research"`
}

// CreatedResponse carries the id of a newly created vault or node.
type CreatedResponse struct {
	ID string `json:"id"`
}

// CreateNodeRequest is the request body for creating a file or folder.
// ParentID is "root", empty (selected folder), or a folder id.
type CreateNodeRequest struct {
	Name     string `json:"name" example:"Ideas.md"`
	ParentID string `json:"parentId,omitempty"`
}

// UpdateContentRequest is the request body for replacing file content.
type UpdateContentRequest struct {
	Content string `json:"content"`
}

// RenameRequest is the request body for renaming a node.
type RenameRequest struct {
	Name string `json:"name"`
}

// RestoreRequest carries a historical snapshot's content to restore.
type RestoreRequest struct {
	Content string `json:"content"`
}

// NodeIDRequest names a node for workspace pointer operations. An empty ID
// clears the pointer (active file) or selects the root (folder focus).
type NodeIDRequest struct {
	ID string `json:"id"`
}

// ImportResponse reports the outcome of an import.
type ImportResponse struct {
	VaultID   string `json:"vaultId"`
	FileCount int    `json:"fileCount"`
}
