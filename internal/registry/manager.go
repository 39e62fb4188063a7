// Package registry manages the set of vaults: enumeration, the current
// vault, and the load/switch/delete lifecycle. It owns the single lock
// under which all tree and workspace mutations run, which gives the store
// its single-writer discipline.
package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/muninn/internal/apperr"
	"github.com/starford/muninn/internal/models"
	"github.com/starford/muninn/internal/persist"
	"github.com/starford/muninn/internal/reconcile"
	"github.com/starford/muninn/internal/vault"
)

// Change event kinds.
const (
	ChangeVault    = "vault"
	ChangeRegistry = "registry"
)

// ChangeEvent describes a state change for pure consumers (SSE stream,
// search index). Files is a detached copy of the current vault's node map.
type ChangeEvent struct {
	Kind    string // ChangeVault or ChangeRegistry
	VaultID string
	Files   map[string]models.FileNode
}

// ChangeHook receives change events synchronously, while the manager lock
// is held. Implementations must not call back into the Manager; hand the
// event off to another goroutine for anything heavier than a channel send.
type ChangeHook func(ChangeEvent)

// State is the read-only reactive snapshot handed to UI collaborators.
type State struct {
	Vaults         []models.VaultMeta         `json:"vaults"`
	CurrentVaultID string                     `json:"currentVaultId"`
	Files          map[string]models.FileNode `json:"files"`
	ActiveFileID   string                     `json:"activeFileId"`
	OpenFileIDs    []string                   `json:"openFileIds"`
	SelectedFolder models.ParentRef           `json:"selectedFolderId"`
	Initialized    bool                       `json:"initialized"`
	Loading        bool                       `json:"loading"`
}

// Manager orchestrates vault lifecycle over the persistence layer and
// exposes the full operation surface of the store.
type Manager struct {
	writer *persist.Writer
	logger *slog.Logger

	onChange ChangeHook
	now      func() time.Time
	newID    func() string

	mu          sync.Mutex
	vaults      []models.VaultMeta
	currentID   string
	current     *vault.Store
	initialized bool
	loading     bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithChangeHook installs the change event hook.
func WithChangeHook(fn ChangeHook) Option {
	return func(m *Manager) { m.onChange = fn }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides vault/node id generation (tests).
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) { m.newID = newID }
}

// NewManager creates a Manager over the given debounced writer.
func NewManager(writer *persist.Writer, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		writer: writer,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init loads the registry and the current vault, seeding defaults when the
// durable store is empty, unreadable, or corrupt. It never fails on
// storage problems; the system always reaches a usable initialized state.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	nowMillis := m.now().UnixMilli()

	raw, ok := m.writer.Load(models.RegistryKey)
	var rec models.RegistryRecord
	if ok {
		rec, ok = models.DecodeRegistryRecord(raw)
	}
	if !ok {
		m.logger.Info("registry: no usable registry record, seeding default vault")
		m.seedDefaultVaultLocked(nowMillis)
	} else {
		m.vaults = rec.Vaults
		m.currentID = rec.CurrentVaultID
		if m.metaIndexLocked(m.currentID) < 0 {
			m.currentID = m.vaults[0].ID
		}
	}

	m.current = m.loadVaultStoreLocked(m.currentID)
	m.touchCurrentLocked()
	m.writeRegistryLocked()
	m.initialized = true
	m.notifyLocked(ChangeRegistry)
	return nil
}

// List returns the current vault metadata.
func (m *Manager) List() []models.VaultMeta {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.VaultMeta(nil), m.vaults...)
}

// CurrentVaultID returns the id of the vault currently in view.
func (m *Manager) CurrentVaultID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentID
}

// Snapshot returns the read-only reactive state for rendering and for the
// search collaborator. Every field is detached from the live state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := State{
		Vaults:         append([]models.VaultMeta(nil), m.vaults...),
		CurrentVaultID: m.currentID,
		Files:          map[string]models.FileNode{},
		OpenFileIDs:    []string{},
		Initialized:    m.initialized,
		Loading:        m.loading,
	}
	if m.current != nil {
		rec := m.current.Record()
		st.Files = rec.Files
		st.ActiveFileID = rec.ActiveFileID
		st.OpenFileIDs = rec.OpenFileIDs
		st.SelectedFolder = rec.SelectedFolder
	}
	return st
}

// CreateVault allocates a new vault, seeds or sanitizes the initial tree,
// persists it, and makes it current. Returns the new vault's id.
func (m *Manager) CreateVault(name string, initial map[string]models.FileNode) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createVaultLocked(name, initial)
}

func (m *Manager) createVaultLocked(name string, initial map[string]models.FileNode) (string, error) {
	if name == "" {
		name = "New Vault"
	}
	nowMillis := m.now().UnixMilli()

	files := reconcile.Sanitize(initial, nil, nowMillis)
	if len(files) == 0 {
		files = seedFiles(nowMillis)
	}

	id := m.newID()
	store := vault.NewFromRecord(models.VaultRecord{Files: files}, nil, m.vaultOptions()...)

	// The outgoing vault's pending write must land before the in-memory
	// state is replaced.
	m.flushCurrentLocked()

	if err := m.writeVaultLocked(id, store.Record()); err != nil {
		return "", err
	}
	store = m.rebindLocked(id, store)

	m.vaults = append(m.vaults, models.VaultMeta{
		ID:           id,
		Name:         name,
		FileCount:    store.FileCount(),
		CreatedAt:    nowMillis,
		LastAccessed: nowMillis,
	})
	m.currentID = id
	m.current = store
	m.writeRegistryLocked()
	m.notifyLocked(ChangeRegistry)
	return id, nil
}

// SwitchVault makes the target vault current. It is a no-op when the
// target is already current or the manager is not yet initialized. The
// outgoing vault's pending write is flushed synchronously before the
// in-memory state is replaced.
func (m *Manager) SwitchVault(targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized || targetID == m.currentID {
		return nil
	}
	if m.metaIndexLocked(targetID) < 0 {
		return fmt.Errorf("switch to %s: %w", targetID, apperr.ErrVaultNotFound)
	}

	m.loading = true
	m.flushCurrentLocked()

	m.current = m.loadVaultStoreLocked(targetID)
	m.currentID = targetID
	m.touchCurrentLocked()
	m.writeRegistryLocked()
	m.loading = false
	m.notifyLocked(ChangeRegistry)
	return nil
}

// DeleteVault removes a vault and its persisted record. Deleting the
// current vault implicitly switches to a remaining one; deleting the last
// vault re-seeds a default.
func (m *Manager) DeleteVault(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.metaIndexLocked(id)
	if idx < 0 {
		return fmt.Errorf("delete %s: %w", id, apperr.ErrVaultNotFound)
	}

	// The record is going away; drop any pending snapshot rather than
	// flushing it.
	if err := m.writer.Delete(models.VaultKey(id)); err != nil {
		m.logger.Warn("registry: delete vault record failed",
			slog.String("vault_id", id), slog.String("error", err.Error()))
	}
	m.vaults = append(m.vaults[:idx], m.vaults[idx+1:]...)

	if len(m.vaults) == 0 {
		m.seedDefaultVaultLocked(m.now().UnixMilli())
		m.current = m.loadVaultStoreLocked(m.currentID)
		m.touchCurrentLocked()
	} else if id == m.currentID {
		m.currentID = m.vaults[0].ID
		m.current = m.loadVaultStoreLocked(m.currentID)
		m.touchCurrentLocked()
	}

	m.writeRegistryLocked()
	m.notifyLocked(ChangeRegistry)
	return nil
}

// ImportIntoCurrent merges a reconciled import into the current vault.
// Incoming nodes are re-sanitized against the live map so sibling names
// and parent references stay valid in the union; id collisions overwrite.
func (m *Manager) ImportIntoCurrent(res *reconcile.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return apperr.ErrVaultNotFound
	}
	existing := m.current.Record().Files
	incoming := reconcile.Sanitize(res.Files, existing, m.now().UnixMilli())
	m.current.Merge(incoming)
	return nil
}

// ImportAsNewVault creates a fresh vault from a reconciled import.
func (m *Manager) ImportAsNewVault(res *reconcile.Result, fallbackName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := res.VaultName
	if name == "" {
		name = fallbackName
	}
	return m.createVaultLocked(name, res.Files)
}

// ExportCurrent returns the current vault's name and a detached node map
// for the reconciler.
func (m *Manager) ExportCurrent() (string, map[string]models.FileNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exportLocked(m.currentID)
}

// ExportVault returns the named vault's name and node map. Exporting a
// non-current vault flushes its pending state first (there is none unless
// it is current) and reads the durable record.
func (m *Manager) ExportVault(id string) (string, map[string]models.FileNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exportLocked(id)
}

func (m *Manager) exportLocked(id string) (string, map[string]models.FileNode, error) {
	idx := m.metaIndexLocked(id)
	if idx < 0 {
		return "", nil, fmt.Errorf("export %s: %w", id, apperr.ErrVaultNotFound)
	}
	name := m.vaults[idx].Name

	if id == m.currentID && m.current != nil {
		return name, m.current.Record().Files, nil
	}

	raw, ok := m.writer.Load(models.VaultKey(id))
	if !ok {
		return name, map[string]models.FileNode{}, nil
	}
	rec, ok := models.DecodeVaultRecord(raw)
	if !ok {
		return name, map[string]models.FileNode{}, nil
	}
	return name, reconcile.Sanitize(rec.Files, nil, m.now().UnixMilli()), nil
}

// --- tree and workspace operations (delegated to the current store) ---

// CreateFile creates a file in the current vault and returns its id.
func (m *Manager) CreateFile(name string, parent ...models.ParentRef) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "", apperr.ErrVaultNotFound
	}
	return m.current.CreateFile(name, parent...), nil
}

// CreateFolder creates a folder in the current vault and returns its id.
func (m *Manager) CreateFolder(name string, parent ...models.ParentRef) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "", apperr.ErrVaultNotFound
	}
	return m.current.CreateFolder(name, parent...), nil
}

// UpdateContent replaces a file's content in the current vault.
func (m *Manager) UpdateContent(id, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return apperr.ErrVaultNotFound
	}
	return m.current.UpdateContent(id, content)
}

// RenameItem renames a node in the current vault.
func (m *Manager) RenameItem(id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return apperr.ErrVaultNotFound
	}
	return m.current.RenameItem(id, name)
}

// DeleteItem deletes a node and its descendants from the current vault.
func (m *Manager) DeleteItem(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return apperr.ErrVaultNotFound
	}
	return m.current.DeleteItem(id)
}

// SetActiveFile sets the current vault's active file pointer.
func (m *Manager) SetActiveFile(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return apperr.ErrVaultNotFound
	}
	return m.current.SetActiveFile(id)
}

// CloseFile removes a file from the current vault's open tabs.
func (m *Manager) CloseFile(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return apperr.ErrVaultNotFound
	}
	m.current.CloseFile(id)
	return nil
}

// SetFolderFocus changes the current vault's creation/selection context.
func (m *Manager) SetFolderFocus(ref models.ParentRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return apperr.ErrVaultNotFound
	}
	return m.current.SetFolderFocus(ref)
}

// RestoreHistory restores a historical snapshot's content into a file.
func (m *Manager) RestoreHistory(fileID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return apperr.ErrVaultNotFound
	}
	return m.current.RestoreHistory(fileID, content)
}

// --- internals (all require m.mu held) ---

// seedDefaultVaultLocked creates and durably writes the default vault and
// points the registry at it.
func (m *Manager) seedDefaultVaultLocked(nowMillis int64) {
	rec := models.VaultRecord{
		Files:        seedFiles(nowMillis),
		ActiveFileID: welcomeFileID,
		OpenFileIDs:  []string{welcomeFileID},
	}
	if err := m.writeVaultLocked(DefaultVaultID, rec); err != nil {
		m.logger.Warn("registry: seed vault write failed", slog.String("error", err.Error()))
	}
	m.vaults = []models.VaultMeta{{
		ID:           DefaultVaultID,
		Name:         DefaultVaultName,
		FileCount:    models.CountFiles(rec.Files),
		CreatedAt:    nowMillis,
		LastAccessed: nowMillis,
	}}
	m.currentID = DefaultVaultID
}

// loadVaultStoreLocked loads a vault record, sanitizing it and repairing
// the workspace pointers. A missing or corrupt record re-seeds defaults.
func (m *Manager) loadVaultStoreLocked(id string) *vault.Store {
	nowMillis := m.now().UnixMilli()

	var rec models.VaultRecord
	raw, ok := m.writer.Load(models.VaultKey(id))
	if ok {
		rec, ok = models.DecodeVaultRecord(raw)
	}
	if ok {
		rec.Files = reconcile.Sanitize(rec.Files, nil, nowMillis)
		if len(rec.Files) == 0 {
			ok = false
		}
	}
	if !ok {
		m.logger.Warn("registry: vault record missing or corrupt, re-seeding",
			slog.String("vault_id", id))
		rec = models.VaultRecord{
			Files:        seedFiles(nowMillis),
			ActiveFileID: welcomeFileID,
			OpenFileIDs:  []string{welcomeFileID},
		}
		if err := m.writeVaultLocked(id, rec); err != nil {
			m.logger.Warn("registry: re-seed write failed",
				slog.String("vault_id", id), slog.String("error", err.Error()))
		}
	}

	return vault.NewFromRecord(rec, m.dispatchFor(id), m.vaultOptions()...)
}

// rebindLocked rebuilds a store with its dispatch hook bound to the vault
// key. Used after creating a store before its id was known.
func (m *Manager) rebindLocked(id string, s *vault.Store) *vault.Store {
	return vault.NewFromRecord(s.Record(), m.dispatchFor(id), m.vaultOptions()...)
}

func (m *Manager) vaultOptions() []vault.Option {
	return []vault.Option{
		vault.WithClock(m.now),
		vault.WithIDGenerator(m.newID),
	}
}

// dispatchFor builds the per-vault snapshot hook: schedule the debounced
// durable write, refresh the registry bookkeeping, and notify consumers.
// It runs under m.mu because every mutation enters through the Manager.
func (m *Manager) dispatchFor(vaultID string) vault.DispatchFunc {
	return func(rec models.VaultRecord) {
		payload, err := models.EncodeVaultRecord(rec)
		if err != nil {
			m.logger.Error("registry: encode vault record failed",
				slog.String("vault_id", vaultID), slog.String("error", err.Error()))
			return
		}
		m.writer.Schedule(models.VaultKey(vaultID), payload)

		// Registry bookkeeping is best-effort and must never block or roll
		// back the tree mutation it follows.
		if idx := m.metaIndexLocked(vaultID); idx >= 0 {
			m.vaults[idx].FileCount = models.CountFiles(rec.Files)
			m.scheduleRegistryLocked()
		}
		if m.onChange != nil {
			m.onChange(ChangeEvent{Kind: ChangeVault, VaultID: vaultID, Files: rec.Files})
		}
	}
}

// flushCurrentLocked synchronously lands the current vault's pending write.
// Flush-then-replace: this runs before any state swap, never after.
func (m *Manager) flushCurrentLocked() {
	if m.currentID == "" {
		return
	}
	if err := m.writer.Flush(models.VaultKey(m.currentID)); err != nil {
		m.logger.Warn("registry: flush before switch failed",
			slog.String("vault_id", m.currentID), slog.String("error", err.Error()))
	}
}

// touchCurrentLocked refreshes lastAccessed and fileCount for the current
// vault's registry entry.
func (m *Manager) touchCurrentLocked() {
	idx := m.metaIndexLocked(m.currentID)
	if idx < 0 || m.current == nil {
		return
	}
	m.vaults[idx].LastAccessed = m.now().UnixMilli()
	m.vaults[idx].FileCount = m.current.FileCount()
}

func (m *Manager) metaIndexLocked(id string) int {
	for i, v := range m.vaults {
		if v.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) writeVaultLocked(id string, rec models.VaultRecord) error {
	payload, err := models.EncodeVaultRecord(rec)
	if err != nil {
		return fmt.Errorf("registry: encode vault record: %w", err)
	}
	return m.writer.Write(models.VaultKey(id), payload)
}

// writeRegistryLocked durably writes the registry record immediately. Used
// on vault lifecycle transitions.
func (m *Manager) writeRegistryLocked() {
	payload, err := models.EncodeRegistryRecord(m.registryRecordLocked())
	if err != nil {
		m.logger.Error("registry: encode registry record failed", slog.String("error", err.Error()))
		return
	}
	if err := m.writer.Write(models.RegistryKey, payload); err != nil {
		m.logger.Warn("registry: registry write failed", slog.String("error", err.Error()))
	}
}

// scheduleRegistryLocked schedules a debounced registry write for
// bookkeeping updates that do not warrant an immediate write.
func (m *Manager) scheduleRegistryLocked() {
	payload, err := models.EncodeRegistryRecord(m.registryRecordLocked())
	if err != nil {
		return
	}
	m.writer.Schedule(models.RegistryKey, payload)
}

func (m *Manager) registryRecordLocked() models.RegistryRecord {
	return models.RegistryRecord{
		Version:        models.RegistryVersion,
		CurrentVaultID: m.currentID,
		Vaults:         append([]models.VaultMeta(nil), m.vaults...),
	}
}

func (m *Manager) notifyLocked(kind string) {
	if m.onChange == nil {
		return
	}
	ev := ChangeEvent{Kind: kind, VaultID: m.currentID}
	if m.current != nil {
		ev.Files = m.current.Record().Files
	}
	m.onChange(ev)
}
