package mcpserver

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/muninn/internal/registry"
	"github.com/starford/muninn/internal/testutil"
)

func testServer(t *testing.T) (*Server, *registry.Manager) {
	t.Helper()
	m, _ := testutil.TestManager(t)
	idx := testutil.TestIndex(t)
	return New(m, idx), m
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_vaults":
		result, err = srv.listVaults(ctx, req)
	case "list_files":
		result, err = srv.listFiles(ctx, req)
	case "read_file":
		result, err = srv.readFile(ctx, req)
	case "write_file":
		result, err = srv.writeFile(ctx, req)
	case "search_notes":
		result, err = srv.searchNotes(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("result content is not text: %+v", res.Content[0])
	}
	return tc.Text
}

func TestListVaults(t *testing.T) {
	srv, _ := testServer(t)

	out := resultText(t, callTool(t, srv, "list_vaults", nil))
	if !strings.Contains(out, registry.DefaultVaultName) {
		t.Errorf("output = %q, want default vault listed", out)
	}
	if !strings.Contains(out, "(current)") {
		t.Errorf("output = %q, want current marker", out)
	}
}

func TestListFiles(t *testing.T) {
	srv, m := testServer(t)
	if _, err := m.CreateFolder("Projects"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CreateFile("Plan"); err != nil {
		t.Fatal(err)
	}

	out := resultText(t, callTool(t, srv, "list_files", nil))
	if !strings.Contains(out, "Projects/Plan.md") {
		t.Errorf("output = %q, want hierarchical path", out)
	}
	if !strings.Contains(out, "Welcome.md") {
		t.Errorf("output = %q, want seeded welcome note", out)
	}
}

func TestReadFile(t *testing.T) {
	srv, m := testServer(t)
	id, err := m.CreateFile("Note")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateContent(id, "note body"); err != nil {
		t.Fatal(err)
	}

	out := resultText(t, callTool(t, srv, "read_file", map[string]interface{}{"path": "Note.md"}))
	if out != "note body" {
		t.Errorf("output = %q", out)
	}

	res := callTool(t, srv, "read_file", map[string]interface{}{"path": "missing.md"})
	if !res.IsError {
		t.Error("missing path should be a tool error")
	}
}

func TestWriteFile(t *testing.T) {
	srv, m := testServer(t)

	// Existing file: content replaced.
	out := resultText(t, callTool(t, srv, "write_file", map[string]interface{}{
		"path": "Welcome.md", "content": "rewritten",
	}))
	if !strings.Contains(out, "updated") {
		t.Errorf("output = %q", out)
	}

	// Unknown path: created at the top level.
	out = resultText(t, callTool(t, srv, "write_file", map[string]interface{}{
		"path": "Fresh.md", "content": "new note",
	}))
	if !strings.Contains(out, "created") {
		t.Errorf("output = %q", out)
	}

	found := false
	for _, n := range m.Snapshot().Files {
		if n.Name == "Fresh.md" && n.Content == "new note" {
			found = true
		}
	}
	if !found {
		t.Error("written file missing from vault")
	}
}

func TestSearchNotesEmpty(t *testing.T) {
	srv, _ := testServer(t)

	out := resultText(t, callTool(t, srv, "search_notes", map[string]interface{}{"query": "nothing"}))
	if out != "no matches" {
		t.Errorf("output = %q", out)
	}

	res := callTool(t, srv, "search_notes", map[string]interface{}{})
	if !res.IsError {
		t.Error("missing query should be a tool error")
	}
}
