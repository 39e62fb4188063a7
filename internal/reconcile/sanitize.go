// Package reconcile converts foreign payloads (structured manifests,
// path-bearing archives, flat documents) into structurally valid node maps,
// and the inverse for export. It is the strict parse-and-validate boundary:
// the live store only ever receives maps that already satisfy the tree
// invariants.
package reconcile

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/starford/muninn/internal/models"
)

// Sanitize enforces every tree invariant on an imported or legacy-loaded
// node map and returns the cleaned copy:
//
//   - entries whose map key differs from the embedded id are dropped
//   - unrecognized kinds default to file; folders lose content and history
//   - parents that do not resolve to a folder (or that form a cycle) are
//     rewritten to the root
//   - missing content/updatedAt/history get defaults, malformed history
//     entries are filtered, history is re-bounded
//   - sibling name collisions within the same (parent, kind) pair resolve
//     deterministically: first occurrence keeps the name, later ones get
//     " (n)" appended before the extension
//
// existing is the node map the result will be merged into (nil for a fresh
// container): its nodes take part in parent resolution and count as taken
// sibling names, but are never themselves modified. now stamps nodes that
// lack an updatedAt.
func Sanitize(in, existing map[string]models.FileNode, now int64) map[string]models.FileNode {
	out := make(map[string]models.FileNode, len(in))

	for key, n := range in {
		if key == "" || key != n.ID {
			continue
		}
		if !n.Kind.Valid() {
			n.Kind = models.KindFile
		}
		if n.UpdatedAt <= 0 {
			n.UpdatedAt = now
		}
		if n.Kind == models.KindFolder {
			n.Content = ""
			n.History = nil
		} else {
			n.History = cleanHistory(n.History)
		}
		out[key] = n
	}

	// lookup resolves an id against the merged view. Incoming nodes shadow
	// existing ones on id collision (merge is an overwrite).
	lookup := func(id string) (models.FileNode, bool) {
		if n, ok := out[id]; ok {
			return n, true
		}
		if existing != nil {
			if n, ok := existing[id]; ok {
				return n, true
			}
		}
		return models.FileNode{}, false
	}

	// Every node's repair is decided against the pre-repair map before any
	// is applied, so all members of a cycle see the still-cyclic chain and
	// land at the root together.
	repaired := make(map[string]models.ParentRef, len(out))
	for id, n := range out {
		repaired[id] = resolveParent(id, n.Parent, lookup)
	}
	for id, ref := range repaired {
		n := out[id]
		n.Parent = ref
		out[id] = n
	}

	dedupeNames(out, existing)
	return out
}

// resolveParent returns ref when it names a reachable folder and the chain
// above it is acyclic; otherwise the root. Imported data is externally
// controlled, so the walk carries a visited set.
func resolveParent(id string, ref models.ParentRef, lookup func(string) (models.FileNode, bool)) models.ParentRef {
	pid, ok := ref.FolderID()
	if !ok {
		return models.Root()
	}
	parent, ok := lookup(pid)
	if !ok || parent.Kind != models.KindFolder || pid == id {
		return models.Root()
	}

	visited := map[string]bool{id: true}
	cur := pid
	for cur != "" {
		if visited[cur] {
			return models.Root()
		}
		visited[cur] = true
		n, ok := lookup(cur)
		if !ok {
			break // dangling further up; that node is repaired on its own pass
		}
		cur, _ = n.Parent.FolderID()
	}
	return ref
}

// cleanHistory drops malformed entries and re-bounds the log, keeping the
// most recent checkpoints.
func cleanHistory(h []models.HistoryEntry) []models.HistoryEntry {
	out := make([]models.HistoryEntry, 0, len(h))
	for _, e := range h {
		if e.Timestamp > 0 {
			out = append(out, e)
		}
	}
	if len(out) > 5 {
		out = out[len(out)-5:]
	}
	return out
}

// dedupeNames resolves sibling name collisions among incoming nodes. Nodes
// in existing (that are not being overwritten) hold their names; incoming
// nodes are processed in sorted id order so the outcome is deterministic.
func dedupeNames(out, existing map[string]models.FileNode) {
	type siblingKey struct {
		parent string
		kind   models.Kind
	}
	taken := make(map[siblingKey]map[string]bool)
	reserve := func(k siblingKey, name string) {
		if taken[k] == nil {
			taken[k] = make(map[string]bool)
		}
		taken[k][name] = true
	}

	for id, n := range existing {
		if _, overwritten := out[id]; overwritten {
			continue
		}
		reserve(siblingKey{n.Parent.String(), n.Kind}, n.Name)
	}

	for _, id := range sortedIDs(out) {
		n := out[id]
		k := siblingKey{n.Parent.String(), n.Kind}
		if taken[k] == nil || !taken[k][n.Name] {
			reserve(k, n.Name)
			continue
		}
		base, ext := splitName(n.Name, n.Kind)
		for i := 2; ; i++ {
			candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
			if !taken[k][candidate] {
				n.Name = candidate
				break
			}
		}
		reserve(k, n.Name)
		out[id] = n
	}
}

// splitName separates the extension for file nodes so the dedup suffix
// lands before it. Folder names have no extension semantics.
func splitName(name string, kind models.Kind) (base, ext string) {
	if kind != models.KindFile {
		return name, ""
	}
	ext = path.Ext(name)
	return strings.TrimSuffix(name, ext), ext
}

func sortedIDs(m map[string]models.FileNode) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
