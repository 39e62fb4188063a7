// Package vault implements the in-memory tree and workspace state of a
// single vault. Every mutation runs synchronously on the caller's
// goroutine and ends by handing a detached snapshot to the dispatch hook;
// durability is the owner's concern.
package vault

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/muninn/internal/apperr"
	"github.com/starford/muninn/internal/models"
)

// DefaultExtension is appended to new file names that lack it.
const DefaultExtension = ".md"

// DispatchFunc receives a detached copy of the vault record after every
// mutation. The copy shares no memory with the live state.
type DispatchFunc func(models.VaultRecord)

// Store is the authoritative in-memory state of one vault.
type Store struct {
	files          map[string]models.FileNode
	activeFileID   string
	openFileIDs    []string
	selectedFolder models.ParentRef

	dispatch DispatchFunc
	now      func() time.Time
	newID    func() string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides node id generation (tests).
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// NewFromRecord builds a Store from an already-sanitized record, repairing
// the workspace pointers against the node map: a missing active file falls
// back to the first file node (or none), open ids are filtered and
// de-duplicated, and a dangling selected folder resets to the root.
func NewFromRecord(rec models.VaultRecord, dispatch DispatchFunc, opts ...Option) *Store {
	s := &Store{
		files:    rec.Files,
		dispatch: dispatch,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	if s.files == nil {
		s.files = make(map[string]models.FileNode)
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, id := range rec.OpenFileIDs {
		if n, ok := s.files[id]; ok && n.Kind == models.KindFile && !contains(s.openFileIDs, id) {
			s.openFileIDs = append(s.openFileIDs, id)
		}
	}

	active := rec.ActiveFileID
	if n, ok := s.files[active]; !ok || n.Kind != models.KindFile {
		active = s.firstFileID()
	}
	s.activeFileID = active
	if active != "" && !contains(s.openFileIDs, active) {
		s.openFileIDs = append(s.openFileIDs, active)
	}

	s.selectedFolder = models.Root()
	if id, ok := rec.SelectedFolder.FolderID(); ok {
		if n, ok := s.files[id]; ok && n.Kind == models.KindFolder {
			s.selectedFolder = rec.SelectedFolder
		}
	}

	return s
}

// firstFileID returns the id of the first file node in name order, or "".
func (s *Store) firstFileID() string {
	ids := make([]string, 0, len(s.files))
	for id, n := range s.files {
		if n.Kind == models.KindFile {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.files[ids[i]], s.files[ids[j]]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return ids[i] < ids[j]
	})
	return ids[0]
}

// Record returns a detached deep copy of the vault record.
func (s *Store) Record() models.VaultRecord {
	return models.VaultRecord{
		Version:        models.VaultVersion,
		Files:          models.CloneFiles(s.files),
		ActiveFileID:   s.activeFileID,
		OpenFileIDs:    append([]string(nil), s.openFileIDs...),
		SelectedFolder: s.selectedFolder,
	}
}

// Get returns the node with the given id.
func (s *Store) Get(id string) (models.FileNode, bool) {
	n, ok := s.files[id]
	return n.Clone(), ok
}

// FileCount returns the number of file-kind nodes.
func (s *Store) FileCount() int {
	return models.CountFiles(s.files)
}

// Len returns the total number of nodes.
func (s *Store) Len() int { return len(s.files) }

// commit hands a detached snapshot to the dispatch hook. The copy is taken
// here, while the live state is still valid.
func (s *Store) commit() {
	if s.dispatch != nil {
		s.dispatch(s.Record())
	}
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

// resolveParent picks the parent for a new node: the explicit ref when it
// names an existing folder, the selected folder otherwise, the root as the
// last resort. The result always satisfies the parent invariant.
func (s *Store) resolveParent(explicit []models.ParentRef) models.ParentRef {
	if len(explicit) > 0 {
		if s.validFolder(explicit[0]) {
			return explicit[0]
		}
		return models.Root()
	}
	if s.validFolder(s.selectedFolder) {
		return s.selectedFolder
	}
	return models.Root()
}

func (s *Store) validFolder(ref models.ParentRef) bool {
	id, ok := ref.FolderID()
	if !ok {
		return true // root
	}
	n, ok := s.files[id]
	return ok && n.Kind == models.KindFolder
}

// CreateFile inserts a new empty file under the given parent (default: the
// selected folder), makes it active, and opens it. Returns the new id.
func (s *Store) CreateFile(name string, parent ...models.ParentRef) string {
	if !strings.HasSuffix(name, DefaultExtension) {
		name += DefaultExtension
	}
	id := s.newID()
	s.files[id] = models.FileNode{
		ID:        id,
		Name:      name,
		Kind:      models.KindFile,
		Content:   "",
		Parent:    s.resolveParent(parent),
		UpdatedAt: s.nowMillis(),
		History:   []models.HistoryEntry{},
	}
	s.activeFileID = id
	if !contains(s.openFileIDs, id) {
		s.openFileIDs = append(s.openFileIDs, id)
	}
	s.commit()
	return id
}

// CreateFolder inserts a new folder and makes it the selected folder.
// Returns the new id.
func (s *Store) CreateFolder(name string, parent ...models.ParentRef) string {
	id := s.newID()
	s.files[id] = models.FileNode{
		ID:        id,
		Name:      name,
		Kind:      models.KindFolder,
		Parent:    s.resolveParent(parent),
		UpdatedAt: s.nowMillis(),
	}
	s.selectedFolder = models.FolderRef(id)
	s.commit()
	return id
}

// UpdateContent replaces a file's content, checkpointing the previous
// content into its history first. Unchanged content is a no-op.
func (s *Store) UpdateContent(id, content string) error {
	n, ok := s.files[id]
	if !ok || n.Kind != models.KindFile {
		return apperr.ErrNotFound
	}
	if n.Content == content {
		return nil
	}
	now := s.nowMillis()
	n.History = appendCheckpoint(n.History, n.Content, now)
	n.Content = content
	n.UpdatedAt = now
	s.files[id] = n
	s.commit()
	return nil
}

// RenameItem renames a node in place. Duplicate sibling names are allowed;
// collision avoidance is only enforced on import.
func (s *Store) RenameItem(id, name string) error {
	n, ok := s.files[id]
	if !ok {
		return apperr.ErrNotFound
	}
	n.Name = name
	n.UpdatedAt = s.nowMillis()
	s.files[id] = n
	s.commit()
	return nil
}

// DeleteItem removes a node and its full descendant subtree, then purges
// the removed ids from the workspace pointers.
func (s *Store) DeleteItem(id string) error {
	if _, ok := s.files[id]; !ok {
		return apperr.ErrNotFound
	}

	removed := map[string]bool{id: true}
	delete(s.files, id)

	// Repeated sweep over the flat map: remove any node whose parent was
	// just removed. The removed set also guards against revisiting ids if
	// the map ever held a malformed cycle.
	for {
		changed := false
		for nid, n := range s.files {
			pid, ok := n.Parent.FolderID()
			if !ok || !removed[pid] || removed[nid] {
				continue
			}
			removed[nid] = true
			delete(s.files, nid)
			changed = true
		}
		if !changed {
			break
		}
	}

	open := s.openFileIDs[:0]
	for _, oid := range s.openFileIDs {
		if !removed[oid] {
			open = append(open, oid)
		}
	}
	s.openFileIDs = open

	if removed[s.activeFileID] {
		s.activeFileID = ""
		if len(s.openFileIDs) > 0 {
			s.activeFileID = s.openFileIDs[len(s.openFileIDs)-1]
		}
	}
	if fid, ok := s.selectedFolder.FolderID(); ok && removed[fid] {
		s.selectedFolder = models.Root()
	}

	s.commit()
	return nil
}

// SetActiveFile sets the active file pointer. An empty id clears it. A
// newly activated file is appended to the open tabs if not already there.
func (s *Store) SetActiveFile(id string) error {
	if id == "" {
		s.activeFileID = ""
		s.commit()
		return nil
	}
	n, ok := s.files[id]
	if !ok || n.Kind != models.KindFile {
		return apperr.ErrNotFound
	}
	s.activeFileID = id
	if !contains(s.openFileIDs, id) {
		s.openFileIDs = append(s.openFileIDs, id)
	}
	s.commit()
	return nil
}

// CloseFile removes a file from the open tabs. If it was active, the new
// last tab (or nothing) becomes active.
func (s *Store) CloseFile(id string) {
	open := s.openFileIDs[:0]
	for _, oid := range s.openFileIDs {
		if oid != id {
			open = append(open, oid)
		}
	}
	s.openFileIDs = open

	if s.activeFileID == id {
		s.activeFileID = ""
		if len(s.openFileIDs) > 0 {
			s.activeFileID = s.openFileIDs[len(s.openFileIDs)-1]
		}
	}
	s.commit()
}

// SetFolderFocus changes the creation/selection context. It mutates no tree
// state but still dispatches a snapshot.
func (s *Store) SetFolderFocus(ref models.ParentRef) error {
	if !s.validFolder(ref) {
		return apperr.ErrNotFound
	}
	s.selectedFolder = ref
	s.commit()
	return nil
}

// RestoreHistory replaces a file's content with a historical snapshot's
// content. The overwritten content is not checkpointed; restoring is a
// direct content replacement, not an undo-stack operation.
func (s *Store) RestoreHistory(fileID, content string) error {
	n, ok := s.files[fileID]
	if !ok || n.Kind != models.KindFile {
		return apperr.ErrNotFound
	}
	n.Content = content
	n.UpdatedAt = s.nowMillis()
	s.files[fileID] = n
	s.commit()
	return nil
}

// Merge adds every incoming node to the map, overwriting on id collision,
// and dispatches the union. Incoming nodes must already be sanitized
// against this store's map.
func (s *Store) Merge(incoming map[string]models.FileNode) {
	for id, n := range incoming {
		s.files[id] = n
	}
	s.commit()
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
