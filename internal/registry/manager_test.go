package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/starford/muninn/internal/apperr"
	"github.com/starford/muninn/internal/models"
	"github.com/starford/muninn/internal/persist"
	"github.com/starford/muninn/internal/reconcile"
)

// memStore is an in-memory kvstore.Provider for manager tests.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return v, nil
}

func (m *memStore) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) Keys(prefix string) ([]string, error) { return nil, nil }
func (m *memStore) Close() error                         { return nil }

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func (m *memStore) vaultRecord(t *testing.T, id string) models.VaultRecord {
	t.Helper()
	m.mu.Lock()
	raw, ok := m.data[models.VaultKey(id)]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no durable record for vault %s", id)
	}
	rec, ok := models.DecodeVaultRecord(raw)
	if !ok {
		t.Fatalf("corrupt durable record for vault %s", id)
	}
	return rec
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testManager(t *testing.T, opts ...Option) (*Manager, *memStore) {
	t.Helper()
	store := newMemStore()
	writer := persist.NewWriter(store, time.Hour, quietLogger())
	seq := 0
	base := []Option{WithIDGenerator(func() string { seq++; return fmt.Sprintf("v%d", seq) })}
	m := NewManager(writer, quietLogger(), append(base, opts...)...)
	if err := m.Init(); err != nil {
		t.Fatal(err)
	}
	return m, store
}

func TestInitSeedsDefaultVault(t *testing.T) {
	m, store := testManager(t)

	vaults := m.List()
	if len(vaults) != 1 || vaults[0].ID != DefaultVaultID || vaults[0].Name != DefaultVaultName {
		t.Fatalf("vaults = %+v", vaults)
	}
	if m.CurrentVaultID() != DefaultVaultID {
		t.Errorf("current = %q", m.CurrentVaultID())
	}

	snap := m.Snapshot()
	if !snap.Initialized || snap.Loading {
		t.Errorf("snapshot flags = %+v", snap)
	}
	if len(snap.Files) != 1 {
		t.Fatalf("seed files = %d, want 1", len(snap.Files))
	}
	if snap.ActiveFileID == "" {
		t.Error("no active file after seeding")
	}

	if !store.has(models.RegistryKey) {
		t.Error("registry record not durably written")
	}
	if !store.has(models.VaultKey(DefaultVaultID)) {
		t.Error("seed vault record not durably written")
	}
}

func TestInitRecoversFromCorruptRecords(t *testing.T) {
	store := newMemStore()
	store.Put(models.RegistryKey, []byte("{corrupt"))
	store.Put(models.VaultKey(DefaultVaultID), []byte("also corrupt"))

	writer := persist.NewWriter(store, time.Hour, quietLogger())
	m := NewManager(writer, quietLogger())
	if err := m.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if m.CurrentVaultID() != DefaultVaultID {
		t.Errorf("current = %q, want re-seeded default", m.CurrentVaultID())
	}
	if got := len(m.Snapshot().Files); got != 1 {
		t.Errorf("files = %d, want re-seeded welcome note", got)
	}
}

func TestInitReloadsPersistedState(t *testing.T) {
	store := newMemStore()
	writer := persist.NewWriter(store, time.Hour, quietLogger())
	m := NewManager(writer, quietLogger())
	if err := m.Init(); err != nil {
		t.Fatal(err)
	}
	id, err := m.CreateFile("Persisted")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateContent(id, "body"); err != nil {
		t.Fatal(err)
	}
	// Shutdown lands the pending debounced writes.
	if err := writer.FlushAll(); err != nil {
		t.Fatal(err)
	}

	// Restart: a fresh manager over the same store sees the state.
	m2 := NewManager(persist.NewWriter(store, time.Hour, quietLogger()), quietLogger())
	if err := m2.Init(); err != nil {
		t.Fatal(err)
	}
	snap := m2.Snapshot()
	n, ok := snap.Files[id]
	if !ok || n.Content != "body" {
		t.Errorf("reloaded node = %+v", n)
	}
	if snap.ActiveFileID != id {
		t.Errorf("active = %q, want %q", snap.ActiveFileID, id)
	}
}

func TestSwitchVaultFlushesOutgoing(t *testing.T) {
	m, store := testManager(t)

	fileID, err := m.CreateFile("Draft")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateContent(fileID, "unsaved burst"); err != nil {
		t.Fatal(err)
	}

	otherID, err := m.CreateVault("Second", nil)
	if err != nil {
		t.Fatal(err)
	}
	if m.CurrentVaultID() != otherID {
		t.Fatalf("current = %q, want new vault", m.CurrentVaultID())
	}

	// The default vault's pending write landed before the switch.
	rec := store.vaultRecord(t, DefaultVaultID)
	n, ok := rec.Files[fileID]
	if !ok || n.Content != "unsaved burst" {
		t.Errorf("outgoing vault state lost: %+v", n)
	}

	if err := m.SwitchVault(DefaultVaultID); err != nil {
		t.Fatal(err)
	}
	snap := m.Snapshot()
	if got := snap.Files[fileID].Content; got != "unsaved burst" {
		t.Errorf("content after switch back = %q", got)
	}

	if err := m.SwitchVault("nope"); !errors.Is(err, apperr.ErrVaultNotFound) {
		t.Errorf("err = %v, want ErrVaultNotFound", err)
	}
	// Switching to the current vault is a no-op.
	if err := m.SwitchVault(DefaultVaultID); err != nil {
		t.Fatal(err)
	}
}

func TestDeleteVault(t *testing.T) {
	m, store := testManager(t)
	secondID, err := m.CreateVault("Second", nil)
	if err != nil {
		t.Fatal(err)
	}

	// Delete the now-current second vault: falls back to the remaining one.
	if err := m.DeleteVault(secondID); err != nil {
		t.Fatal(err)
	}
	if m.CurrentVaultID() != DefaultVaultID {
		t.Errorf("current = %q, want fallback to default", m.CurrentVaultID())
	}
	if store.has(models.VaultKey(secondID)) {
		t.Error("deleted vault record still durable")
	}

	// Deleting the last vault re-seeds a default.
	if err := m.DeleteVault(DefaultVaultID); err != nil {
		t.Fatal(err)
	}
	vaults := m.List()
	if len(vaults) != 1 || vaults[0].ID != DefaultVaultID {
		t.Fatalf("vaults after last delete = %+v", vaults)
	}
	if got := len(m.Snapshot().Files); got != 1 {
		t.Errorf("files = %d, want fresh seed", got)
	}

	if err := m.DeleteVault("nope"); !errors.Is(err, apperr.ErrVaultNotFound) {
		t.Errorf("err = %v, want ErrVaultNotFound", err)
	}
}

func TestImportIntoCurrent(t *testing.T) {
	m, _ := testManager(t)

	res, err := reconcile.Import([]byte("imported body"), "drop.md")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.ImportIntoCurrent(res); err != nil {
		t.Fatal(err)
	}

	snap := m.Snapshot()
	if len(snap.Files) != 2 {
		t.Fatalf("files = %d, want welcome + import", len(snap.Files))
	}
	found := false
	for _, n := range snap.Files {
		if n.Content == "imported body" {
			found = true
		}
	}
	if !found {
		t.Error("imported node missing from current vault")
	}
}

func TestImportAsNewVault(t *testing.T) {
	m, _ := testManager(t)

	manifest, err := reconcile.EncodeManifest(reconcile.NewManifest("Incoming", map[string]models.FileNode{
		"a": {ID: "a", Name: "A.md", Kind: models.KindFile, Content: "x", UpdatedAt: 1},
	}))
	if err != nil {
		t.Fatal(err)
	}
	res, err := reconcile.Import(manifest, "incoming.json")
	if err != nil {
		t.Fatal(err)
	}

	id, err := m.ImportAsNewVault(res, "fallback")
	if err != nil {
		t.Fatal(err)
	}
	if m.CurrentVaultID() != id {
		t.Errorf("current = %q, want imported vault", m.CurrentVaultID())
	}
	var meta models.VaultMeta
	for _, v := range m.List() {
		if v.ID == id {
			meta = v
		}
	}
	if meta.Name != "Incoming" {
		t.Errorf("name = %q, want manifest vault name", meta.Name)
	}
	if meta.FileCount != 1 {
		t.Errorf("file count = %d, want 1", meta.FileCount)
	}
}

func TestExportVault(t *testing.T) {
	m, _ := testManager(t)

	name, files, err := m.ExportCurrent()
	if err != nil {
		t.Fatal(err)
	}
	if name != DefaultVaultName || len(files) != 1 {
		t.Errorf("export = %q / %d files", name, len(files))
	}

	if _, _, err := m.ExportVault("nope"); !errors.Is(err, apperr.ErrVaultNotFound) {
		t.Errorf("err = %v, want ErrVaultNotFound", err)
	}
}

func TestCreateVaultEmptyNameAndSeed(t *testing.T) {
	m, _ := testManager(t)

	id, err := m.CreateVault("", nil)
	if err != nil {
		t.Fatal(err)
	}
	var meta models.VaultMeta
	for _, v := range m.List() {
		if v.ID == id {
			meta = v
		}
	}
	if meta.Name != "New Vault" {
		t.Errorf("name = %q, want default", meta.Name)
	}
	// No initial nodes given: the vault is seeded.
	if got := len(m.Snapshot().Files); got != 1 {
		t.Errorf("files = %d, want seeded welcome note", got)
	}
}

func TestChangeHookReceivesEvents(t *testing.T) {
	var events []ChangeEvent
	m, _ := testManager(t, WithChangeHook(func(ev ChangeEvent) {
		events = append(events, ev)
	}))

	if len(events) == 0 {
		t.Fatal("no event for Init")
	}
	if events[len(events)-1].Kind != ChangeRegistry {
		t.Errorf("init event kind = %q", events[len(events)-1].Kind)
	}

	before := len(events)
	if _, err := m.CreateFile("Note"); err != nil {
		t.Fatal(err)
	}
	if len(events) <= before {
		t.Fatal("no event for tree mutation")
	}
	last := events[len(events)-1]
	if last.Kind != ChangeVault || last.VaultID != DefaultVaultID {
		t.Errorf("event = %+v", last)
	}
	if last.Files == nil {
		t.Error("vault event lacks detached file map")
	}
}

func TestOperationsWithoutVault(t *testing.T) {
	store := newMemStore()
	writer := persist.NewWriter(store, time.Hour, quietLogger())
	m := NewManager(writer, quietLogger())

	// Not initialized: no current store.
	if _, err := m.CreateFile("X"); !errors.Is(err, apperr.ErrVaultNotFound) {
		t.Errorf("err = %v, want ErrVaultNotFound", err)
	}
	if err := m.UpdateContent("a", "x"); !errors.Is(err, apperr.ErrVaultNotFound) {
		t.Errorf("err = %v, want ErrVaultNotFound", err)
	}
}
