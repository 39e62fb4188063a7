// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes Muninn vault tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/muninn/internal/models"
	"github.com/starford/muninn/internal/reconcile"
	"github.com/starford/muninn/internal/registry"
	"github.com/starford/muninn/internal/search"
)

// Server wraps the MCP server with Muninn tools.
type Server struct {
	mcp *server.MCPServer
	m   *registry.Manager
	idx search.Indexer
}

// New creates a new MCP server with all Muninn tools registered.
func New(m *registry.Manager, idx search.Indexer) *Server {
	s := &Server{m: m, idx: idx}

	s.mcp = server.NewMCPServer(
		"Muninn",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("list_vaults",
		mcp.WithDescription("List all vaults with their ids; the current vault is marked."),
	), s.listVaults)

	s.mcp.AddTool(mcp.NewTool("list_files",
		mcp.WithDescription("List every file in the current vault at its hierarchical path."),
	), s.listFiles)

	s.mcp.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription("Read the content of a file in the current vault."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Hierarchical path of the file (e.g. folder/note.md)")),
	), s.readFile)

	s.mcp.AddTool(mcp.NewTool("write_file",
		mcp.WithDescription("Replace the content of a file in the current vault. "+
			"A file that does not exist yet is created at the top level."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Hierarchical path of the file")),
		mcp.WithString("content", mcp.Required(), mcp.Description("New Markdown content")),
	), s.writeFile)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Full-text search through the current vault's file names and content."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchNotes)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// pathIndex maps every file node's hierarchical path to its id.
func pathIndex(files map[string]models.FileNode) map[string]string {
	out := make(map[string]string)
	for id, n := range files {
		if n.Kind == models.KindFile {
			out[reconcile.NodePath(files, id)] = id
		}
	}
	return out
}

func (s *Server) listVaults(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := s.m.Snapshot()
	var b strings.Builder
	for _, v := range snap.Vaults {
		marker := ""
		if v.ID == snap.CurrentVaultID {
			marker = " (current)"
		}
		fmt.Fprintf(&b, "%s\t%s\t%d files%s\n", v.ID, v.Name, v.FileCount, marker)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) listFiles(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idx := pathIndex(s.m.Snapshot().Files)
	paths := make([]string, 0, len(idx))
	for p := range idx {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return mcp.NewToolResultText("vault is empty"), nil
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) readFile(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	snap := s.m.Snapshot()
	id, ok := pathIndex(snap.Files)[path]
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return mcp.NewToolResultText(snap.Files[id].Content), nil
}

func (s *Server) writeFile(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if id, ok := pathIndex(s.m.Snapshot().Files)[path]; ok {
		if err := s.m.UpdateContent(id, content); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("updated: %s", path)), nil
	}

	name := path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		name = path[i+1:]
	}
	id, err := s.m.CreateFile(name, models.Root())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.m.UpdateContent(id, content); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", name)), nil
}

func (s *Server) searchNotes(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.idx.Search(s.m.CurrentVaultID(), query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no matches"), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
