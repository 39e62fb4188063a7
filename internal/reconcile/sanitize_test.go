package reconcile

import (
	"testing"

	"github.com/starford/muninn/internal/models"
)

const testNow = int64(1_700_000_000_000)

func file(id, name, parent string) models.FileNode {
	return models.FileNode{ID: id, Name: name, Kind: models.KindFile, Parent: models.FolderRef(parent), UpdatedAt: testNow}
}

func folder(id, name, parent string) models.FileNode {
	return models.FileNode{ID: id, Name: name, Kind: models.KindFolder, Parent: models.FolderRef(parent), UpdatedAt: testNow}
}

func TestSanitizeDropsMismatchedKeys(t *testing.T) {
	in := map[string]models.FileNode{
		"a": {ID: "a", Name: "A.md", Kind: models.KindFile},
		"b": {ID: "zzz", Name: "B.md", Kind: models.KindFile},
		"":  {ID: "", Name: "C.md", Kind: models.KindFile},
	}
	out := Sanitize(in, nil, testNow)
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
	if _, ok := out["a"]; !ok {
		t.Error("well-formed entry was dropped")
	}
}

func TestSanitizeDefaults(t *testing.T) {
	in := map[string]models.FileNode{
		"a": {ID: "a", Name: "A.md", Kind: "link"}, // unknown kind
		"f": {ID: "f", Name: "F", Kind: models.KindFolder, Content: "junk",
			History: []models.HistoryEntry{{Content: "x", Timestamp: testNow}}},
	}
	out := Sanitize(in, nil, testNow)

	a := out["a"]
	if a.Kind != models.KindFile {
		t.Errorf("kind = %q, want file default", a.Kind)
	}
	if a.UpdatedAt != testNow {
		t.Errorf("updatedAt = %d, want stamped", a.UpdatedAt)
	}

	f := out["f"]
	if f.Content != "" || f.History != nil {
		t.Errorf("folder kept content/history: %+v", f)
	}
}

func TestSanitizeHistoryCleaned(t *testing.T) {
	h := []models.HistoryEntry{
		{Content: "bad", Timestamp: 0},
		{Content: "1", Timestamp: 1},
		{Content: "2", Timestamp: 2},
		{Content: "3", Timestamp: 3},
		{Content: "4", Timestamp: 4},
		{Content: "5", Timestamp: 5},
		{Content: "6", Timestamp: 6},
	}
	in := map[string]models.FileNode{
		"a": {ID: "a", Name: "A.md", Kind: models.KindFile, History: h},
	}
	out := Sanitize(in, nil, testNow)
	got := out["a"].History
	if len(got) != 5 {
		t.Fatalf("history length = %d, want 5", len(got))
	}
	if got[0].Content != "2" || got[4].Content != "6" {
		t.Errorf("history = %+v, want most recent five valid entries", got)
	}
}

func TestSanitizeParentRepair(t *testing.T) {
	in := map[string]models.FileNode{
		"f":    folder("f", "F", ""),
		"ok":   file("ok", "Ok.md", "f"),
		"gone": file("gone", "Gone.md", "missing"),
		"self": folder("self", "Self", "self"),
		"x":    folder("x", "X", "y"),
		"y":    folder("y", "Y", "x"),
		"in-x": file("in-x", "InX.md", "x"),
	}
	// FolderRef("") collapses to root.
	out := Sanitize(in, nil, testNow)

	if pid, ok := out["ok"].Parent.FolderID(); !ok || pid != "f" {
		t.Errorf("valid parent rewritten: %v", out["ok"].Parent)
	}
	// Every member of the x/y cycle, and any node under it, is judged
	// against the still-cyclic chain: all of them land at the root.
	for _, id := range []string{"gone", "self", "x", "y", "in-x"} {
		if !out[id].Parent.IsRoot() {
			t.Errorf("%s: parent = %v, want root", id, out[id].Parent)
		}
	}
}

func TestSanitizeCycleRepairOrderIndependent(t *testing.T) {
	// Cycle members named so that either one could be visited first; the
	// repair outcome must not depend on traversal order.
	in := map[string]models.FileNode{
		"a": folder("a", "A", "z"),
		"z": folder("z", "Z", "a"),
	}
	out := Sanitize(in, nil, testNow)

	for _, id := range []string{"a", "z"} {
		if !out[id].Parent.IsRoot() {
			t.Errorf("%s: parent = %v, want root", id, out[id].Parent)
		}
	}
}

func TestSanitizeNameDedup(t *testing.T) {
	in := map[string]models.FileNode{
		"a": file("a", "Notes.md", ""),
		"b": file("b", "Notes.md", ""),
		"c": file("c", "Notes.md", ""),
		"d": folder("d", "Notes.md", ""), // different kind, no conflict
		"e": file("e", "Notes.md", "f"),  // different parent, no conflict
		"f": folder("f", "F", ""),
	}
	out := Sanitize(in, nil, testNow)

	if out["a"].Name != "Notes.md" {
		t.Errorf("first occurrence renamed: %q", out["a"].Name)
	}
	if out["b"].Name != "Notes (2).md" {
		t.Errorf("b = %q, want Notes (2).md", out["b"].Name)
	}
	if out["c"].Name != "Notes (3).md" {
		t.Errorf("c = %q, want Notes (3).md", out["c"].Name)
	}
	if out["d"].Name != "Notes.md" {
		t.Errorf("folder sharing a file name renamed: %q", out["d"].Name)
	}
	if out["e"].Name != "Notes.md" {
		t.Errorf("different-parent sibling renamed: %q", out["e"].Name)
	}
}

func TestSanitizeAgainstExisting(t *testing.T) {
	existing := map[string]models.FileNode{
		"held": file("held", "Notes.md", ""),
		"dir":  folder("dir", "Dir", ""),
		"old":  file("old", "Old.md", ""),
	}
	in := map[string]models.FileNode{
		"new": file("new", "Notes.md", ""),
		"sub": file("sub", "Sub.md", "dir"), // parent lives in existing
		"old": file("old", "Fresh.md", ""),  // id collision: overwrite
	}
	out := Sanitize(in, existing, testNow)

	if out["new"].Name != "Notes (2).md" {
		t.Errorf("new = %q, existing sibling name must hold", out["new"].Name)
	}
	if pid, ok := out["sub"].Parent.FolderID(); !ok || pid != "dir" {
		t.Errorf("sub: parent = %v, want existing folder", out["sub"].Parent)
	}
	// The overwritten node's old name is not reserved.
	if out["old"].Name != "Fresh.md" {
		t.Errorf("old = %q, want Fresh.md", out["old"].Name)
	}
	// Existing map itself is never modified.
	if existing["held"].Name != "Notes.md" {
		t.Error("existing map was mutated")
	}
}
