package models

import "encoding/json"

// Schema versions of the persisted records. VaultVersion 2 matches the
// newest records written by earlier releases; version 1 was an un-versioned
// bare node map and is migrated in place on load.
const (
	RegistryVersion = 1
	VaultVersion    = 2
)

// RegistryKey is the well-known key of the singleton registry record.
const RegistryKey = "registry"

// VaultKey derives the storage key for a vault's record from its id.
func VaultKey(vaultID string) string {
	return "vault:" + vaultID
}

// RegistryRecord is the singleton record enumerating all vaults.
type RegistryRecord struct {
	Version        int         `json:"version"`
	CurrentVaultID string      `json:"currentVaultId"`
	Vaults         []VaultMeta `json:"vaults"`
}

// VaultRecord is the persisted state of one vault: the node map plus the
// workspace pointers. Empty ActiveFileID means no file is active.
type VaultRecord struct {
	Version        int                 `json:"version"`
	Files          map[string]FileNode `json:"files"`
	ActiveFileID   string              `json:"activeFileId"`
	OpenFileIDs    []string            `json:"openFileIds"`
	SelectedFolder ParentRef           `json:"selectedFolderId"`
}

// Clone returns a deep copy of the record.
func (r VaultRecord) Clone() VaultRecord {
	out := r
	out.Files = CloneFiles(r.Files)
	out.OpenFileIDs = append([]string(nil), r.OpenFileIDs...)
	return out
}

// EncodeVaultRecord serializes a vault record at the current version.
func EncodeVaultRecord(r VaultRecord) ([]byte, error) {
	r.Version = VaultVersion
	return json.Marshal(r)
}

// DecodeVaultRecord parses raw bytes into a vault record. It recognizes the
// current versioned shape and the legacy un-versioned shape (a bare node
// map), which is migrated to the current version. ok is false when the
// bytes match neither, so the caller can treat the record as absent.
func DecodeVaultRecord(raw []byte) (VaultRecord, bool) {
	var rec VaultRecord
	if err := json.Unmarshal(raw, &rec); err == nil && rec.Files != nil {
		rec.Version = VaultVersion
		return rec, true
	}

	// Legacy shape: the record is the node map itself.
	var files map[string]FileNode
	if err := json.Unmarshal(raw, &files); err == nil && len(files) > 0 {
		return VaultRecord{Version: VaultVersion, Files: files}, true
	}

	return VaultRecord{}, false
}

// EncodeRegistryRecord serializes the registry at the current version.
func EncodeRegistryRecord(r RegistryRecord) ([]byte, error) {
	r.Version = RegistryVersion
	return json.Marshal(r)
}

// DecodeRegistryRecord parses raw bytes into a registry record. ok is false
// on malformed bytes or an empty vault list; the caller re-seeds.
func DecodeRegistryRecord(raw []byte) (RegistryRecord, bool) {
	var rec RegistryRecord
	if err := json.Unmarshal(raw, &rec); err != nil || len(rec.Vaults) == 0 {
		return RegistryRecord{}, false
	}
	return rec, true
}
