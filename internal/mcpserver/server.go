// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the note graph as tools for LLM integration via stdio.
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/notegraph/internal/noteservice"
)

// Default limits applied when a tool call omits them.
const (
	defaultSearchLimit  = 20
	defaultRelatedLimit = 15
	defaultMaxPaths     = 3
	defaultGrepContext  = 2
)

// Server wraps the MCP server with the note graph tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *noteservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Notegraph",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("graph_overview",
		mcp.WithDescription("Summarize the notes: counts, top hubs, clusters, orphans, recent activity and top tags."),
	), s.overview)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List notes and subfolders directly inside a folder, with link counts."),
		mcp.WithString("folder", mcp.Description("Folder relative to the notes root (empty for the root)")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Search note content, paths, tags and headings. Results are ranked; notes matched several ways rank higher."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query (regular expression or plain text)")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 20)")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a note with its links, backlinks and graph position. "+
			"The note may be named by any unique fragment of its path."),
		mcp.WithString("note", mcp.Required(), mcp.Description("Path or unique path fragment (e.g. folder/note)")),
		mcp.WithBoolean("content", mcp.Description("Include the note text (default true)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all notes that link to the specified note."),
		mcp.WithString("note", mcp.Required(), mcp.Description("Path or unique path fragment")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("grep_notes",
		mcp.WithDescription("Find lines matching a regular expression, with surrounding lines."),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Case-insensitive regular expression")),
		mcp.WithNumber("context", mcp.Description("Lines of context around each match (default 2)")),
	), s.grepNotes)

	s.mcp.AddTool(mcp.NewTool("glob_notes",
		mcp.WithDescription("List notes whose relative path or file name matches a glob pattern (** crosses folders)."),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Glob pattern such as projects/**/*.md")),
	), s.globNotes)

	s.mcp.AddTool(mcp.NewTool("trace_path",
		mcp.WithDescription("Find the shortest link paths from one note to another."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Starting note")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Destination note")),
		mcp.WithNumber("max_paths", mcp.Description("Maximum number of paths (default 3)")),
	), s.tracePath)

	s.mcp.AddTool(mcp.NewTool("related_notes",
		mcp.WithDescription("Find notes related to a note by direct links, shared cluster, shared neighbours and shared tags."),
		mcp.WithString("note", mcp.Required(), mcp.Description("Path or unique path fragment")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 15)")),
	), s.relatedNotes)

	s.mcp.AddTool(mcp.NewTool("graph_stats",
		mcp.WithDescription("Aggregate graph statistics plus communities, bridge notes and the most central notes."),
		mcp.WithNumber("top", mcp.Description("How many central notes to return (default 10)")),
	), s.graphStats)

	s.mcp.AddTool(mcp.NewTool("get_link_syntax",
		mcp.WithDescription("Describe the note syntax the graph understands: links, tags, headings and metadata."),
	), s.getLinkSyntax)

	s.mcp.AddResource(
		mcp.NewResource(linkSyntaxURI, "Note Link Syntax",
			mcp.WithResourceDescription("How notes are parsed into links, tags and headings."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readLinkSyntaxResource,
	)

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

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) overview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Overview())
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.List(req.GetString("folder", "")))
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results := s.svc.Search(query, req.GetInt("limit", defaultSearchLimit))
	if len(results) == 0 {
		return mcp.NewToolResultText("no results found"), nil
	}
	return jsonResult(results)
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := req.RequireString("note")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	detail, err := s.svc.Read(ref, req.GetBool("content", true))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(detail)
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := req.RequireString("note")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	detail, err := s.svc.Read(ref, false)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(detail.Incoming) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return jsonResult(detail.Incoming)
}

func (s *Server) grepNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern, err := req.RequireString("pattern")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	matches := s.svc.Grep(pattern, req.GetInt("context", defaultGrepContext))
	if len(matches) == 0 {
		return mcp.NewToolResultText("no matches found"), nil
	}
	return jsonResult(matches)
}

func (s *Server) globNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern, err := req.RequireString("pattern")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	paths, err := s.svc.Glob(pattern)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(paths)
}

func (s *Server) tracePath(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dst, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	trace, err := s.svc.Trace(src, dst, req.GetInt("max_paths", defaultMaxPaths))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(trace)
}

func (s *Server) relatedNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := req.RequireString("note")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	related, err := s.svc.Related(ref, req.GetInt("limit", defaultRelatedLimit))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(related)
}

func (s *Server) graphStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(struct {
		Stats    any `json:"stats"`
		Analysis any `json:"analysis"`
	}{s.svc.Stats(), s.svc.Analyze(req.GetInt("top", 10))})
}

func (s *Server) getLinkSyntax(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(LinkSyntax), nil
}

func (s *Server) readLinkSyntaxResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      linkSyntaxURI,
			MIMEType: "text/markdown",
			Text:     LinkSyntax,
		},
	}, nil
}
