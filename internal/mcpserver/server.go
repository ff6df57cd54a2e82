// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the Bahtsul Masail archive to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/masail/internal/apperr"
	"github.com/starford/masail/internal/gate"
	"github.com/starford/masail/internal/models"
	"github.com/starford/masail/internal/orchestrator"
)

// Server wraps the MCP server with the archive tools.
type Server struct {
	mcp      *server.MCPServer
	search   *orchestrator.Search
	document *orchestrator.DocumentView

	upload   *orchestrator.Upload
	sessions gate.SessionSource
	uploadMu sync.Mutex
}

// Option configures optional tools.
type Option func(*Server)

// WithUploads enables the upload_document tool. Uploads go through up and
// require an authenticated session from sessions.
func WithUploads(up *orchestrator.Upload, sessions gate.SessionSource) Option {
	return func(s *Server) {
		s.upload = up
		s.sessions = sessions
	}
}

// New creates a new MCP server with all tools registered.
func New(search *orchestrator.Search, document *orchestrator.DocumentView, version string, opts ...Option) *Server {
	s := &Server{search: search, document: document}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = server.NewMCPServer(
		"Bahtsul Masail",
		version,
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("search_documents",
		mcp.WithDescription("Search Bahtsul Masail rulings by free text, optionally filtered by madhab and category ids. "+
			"Use list_madhabs and list_categories to discover the ids."),
		mcp.WithString("query", mcp.Description("Free-text query (may be empty when filtering only)")),
		mcp.WithArray("madhab_ids", mcp.Description("Madhab ids to filter by"), mcp.Items(map[string]any{"type": "integer"})),
		mcp.WithArray("category_ids", mcp.Description("Category ids to filter by"), mcp.Items(map[string]any{"type": "integer"})),
	), s.searchDocuments)

	s.mcp.AddTool(mcp.NewTool("get_document",
		mcp.WithDescription("Read a full ruling: question, answer and any prolog, mushoheh, source and context."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Document id")),
	), s.getDocument)

	s.mcp.AddTool(mcp.NewTool("list_madhabs",
		mcp.WithDescription("List the schools of jurisprudence available as search filters."),
	), s.listMadhabs)

	s.mcp.AddTool(mcp.NewTool("list_categories",
		mcp.WithDescription("List the topical categories available as search filters."),
	), s.listCategories)

	if s.upload != nil {
		s.mcp.AddTool(mcp.NewTool("upload_document",
			mcp.WithDescription("Submit a PDF ruling for moderation. Requires an admin login. "+
				"The document is pending until approved."),
			mcp.WithString("source", mcp.Required(),
				mcp.Description("Local file path, base64 data URI (data:application/pdf;base64,...) or http(s) URL")),
			mcp.WithString("filename", mcp.Description("File name to upload as when source is a data URI or URL")),
		), s.uploadDocument)
	}

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

func (s *Server) searchDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c := orchestrator.Criteria{
		Query:       req.GetString("query", ""),
		MadhabIDs:   req.GetIntSlice("madhab_ids", nil),
		CategoryIDs: req.GetIntSlice("category_ids", nil),
	}
	s.search.SetCriteria(c)
	st, err := s.search.Submit(ctx)
	if err != nil {
		return mcp.NewToolResultError(orchestrator.Message(err)), nil
	}
	if st.NoResults() || len(st.Results) == 0 {
		return mcp.NewToolResultText("No results found"), nil
	}

	var b strings.Builder
	for _, d := range st.Results {
		fmt.Fprintf(&b, "[%d] %s\n%s\n", d.ID, d.Title, d.Preview())
		if names := facetNames(d.Madhabs); names != "" {
			fmt.Fprintf(&b, "Madhab: %s\n", names)
		}
		if names := facetNames(d.Categories); names != "" {
			fmt.Fprintf(&b, "Category: %s\n", names)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (s *Server) getDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.document.Load(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %d", id)), nil
		}
		return mcp.NewToolResultError(orchestrator.Message(err)), nil
	}
	out, _ := json.MarshalIndent(doc, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listMadhabs(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f, err := s.search.LoadFacets(ctx)
	if err != nil {
		return mcp.NewToolResultError(orchestrator.Message(err)), nil
	}
	return mcp.NewToolResultText(facetLines(f.Madhabs)), nil
}

func (s *Server) listCategories(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f, err := s.search.LoadFacets(ctx)
	if err != nil {
		return mcp.NewToolResultError(orchestrator.Message(err)), nil
	}
	return mcp.NewToolResultText(facetLines(f.Categories)), nil
}

func facetLines(fs []models.Facet) string {
	lines := make([]string, 0, len(fs))
	for _, f := range fs {
		lines = append(lines, fmt.Sprintf("%d\t%s", f.ID, f.Name))
	}
	return strings.Join(lines, "\n")
}

func facetNames(fs []models.Facet) string {
	names := make([]string, 0, len(fs))
	for _, f := range fs {
		names = append(names, f.Name)
	}
	return strings.Join(names, ", ")
}
