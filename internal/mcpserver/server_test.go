package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/notegraph/internal/noteservice"
	"github.com/starford/notegraph/internal/testutil"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	root := testutil.TestVault(t, map[string]string{
		"a.md":        "# A\n\nlinks to [[b]] #go",
		"b.md":        "# B\n\nsee [[c]]",
		"c.md":        "# C\n",
		"dir/deep.md": "# Deep\n\nmentions golang",
	})
	svc, err := noteservice.Open(context.Background(), noteservice.Options{Root: root}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return New(svc, "test")
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper; dispatch to the handlers.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "graph_overview":
		result, err = srv.overview(ctx, req)
	case "list_notes":
		result, err = srv.listNotes(ctx, req)
	case "search_notes":
		result, err = srv.searchNotes(ctx, req)
	case "read_note":
		result, err = srv.readNote(ctx, req)
	case "get_backlinks":
		result, err = srv.getBacklinks(ctx, req)
	case "grep_notes":
		result, err = srv.grepNotes(ctx, req)
	case "glob_notes":
		result, err = srv.globNotes(ctx, req)
	case "trace_path":
		result, err = srv.tracePath(ctx, req)
	case "related_notes":
		result, err = srv.relatedNotes(ctx, req)
	case "graph_stats":
		result, err = srv.graphStats(ctx, req)
	case "get_link_syntax":
		result, err = srv.getLinkSyntax(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func decode(t *testing.T, r *mcp.CallToolResult, v any) {
	t.Helper()
	if r.IsError {
		t.Fatalf("tool error: %s", resultText(r))
	}
	if err := json.Unmarshal([]byte(resultText(r)), v); err != nil {
		t.Fatalf("decode %q: %v", resultText(r), err)
	}
}

func TestReadNote(t *testing.T) {
	srv := testServer(t)
	var d noteservice.NoteDetail
	decode(t, callTool(t, srv, "read_note", map[string]interface{}{"note": "b"}), &d)
	if d.RelPath != "b.md" || d.InDegree != 1 || d.Content == nil {
		t.Errorf("detail = %+v", d)
	}

	decode(t, callTool(t, srv, "read_note", map[string]interface{}{"note": "b", "content": false}), &d)
	if d.Content != nil {
		t.Error("content returned when disabled")
	}
}

func TestReadNoteMissing(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "read_note", map[string]interface{}{"note": "nope"})
	if !r.IsError {
		t.Error("expected error for missing note")
	}
	r = callTool(t, srv, "read_note", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error without note argument")
	}
}

func TestGetBacklinks(t *testing.T) {
	srv := testServer(t)
	var links []map[string]any
	decode(t, callTool(t, srv, "get_backlinks", map[string]interface{}{"note": "b"}), &links)
	if len(links) != 1 || !strings.HasSuffix(links[0]["source"].(string), "a.md") {
		t.Errorf("backlinks = %v", links)
	}

	r := callTool(t, srv, "get_backlinks", map[string]interface{}{"note": "a"})
	if text := resultText(r); text != "no backlinks found" {
		t.Errorf("backlinks = %q", text)
	}
}

func TestListNotes(t *testing.T) {
	srv := testServer(t)
	var l noteservice.Listing
	decode(t, callTool(t, srv, "list_notes", map[string]interface{}{}), &l)
	if len(l.Files) != 3 || len(l.Dirs) != 1 || l.Dirs[0].Name != "dir" {
		t.Errorf("listing = %+v", l)
	}
}

func TestSearchAndGrep(t *testing.T) {
	srv := testServer(t)
	var results []map[string]any
	decode(t, callTool(t, srv, "search_notes", map[string]interface{}{"query": "go", "limit": 1}), &results)
	if len(results) != 1 {
		t.Errorf("results = %v", results)
	}

	r := callTool(t, srv, "search_notes", map[string]interface{}{"query": "zzzz"})
	if text := resultText(r); text != "no results found" {
		t.Errorf("search = %q", text)
	}

	var matches []map[string]any
	decode(t, callTool(t, srv, "grep_notes", map[string]interface{}{"pattern": "golang", "context": 0}), &matches)
	if len(matches) != 1 {
		t.Errorf("grep = %v", matches)
	}
}

func TestGlobNotes(t *testing.T) {
	srv := testServer(t)
	var paths []string
	decode(t, callTool(t, srv, "glob_notes", map[string]interface{}{"pattern": "**/deep.md"}), &paths)
	if len(paths) != 1 || paths[0] != "dir/deep.md" {
		t.Errorf("glob = %v", paths)
	}
	if r := callTool(t, srv, "glob_notes", map[string]interface{}{"pattern": "[x"}); !r.IsError {
		t.Error("expected error for bad pattern")
	}
}

func TestTracePath(t *testing.T) {
	srv := testServer(t)
	var tr noteservice.Trace
	decode(t, callTool(t, srv, "trace_path", map[string]interface{}{"source": "a", "target": "c"}), &tr)
	if len(tr.Paths) != 1 || strings.Join(tr.Paths[0], ">") != "a.md>b.md>c.md" {
		t.Errorf("trace = %+v", tr)
	}
}

func TestRelatedAndStats(t *testing.T) {
	srv := testServer(t)
	var related []map[string]any
	decode(t, callTool(t, srv, "related_notes", map[string]interface{}{"note": "b"}), &related)
	if len(related) < 2 {
		t.Errorf("related = %v", related)
	}

	var stats struct {
		Stats    map[string]any `json:"stats"`
		Analysis map[string]any `json:"analysis"`
	}
	decode(t, callTool(t, srv, "graph_stats", map[string]interface{}{}), &stats)
	if stats.Stats == nil || stats.Analysis == nil {
		t.Errorf("stats = %+v", stats)
	}

	var o noteservice.Overview
	decode(t, callTool(t, srv, "graph_overview", nil), &o)
	if o.Notes != 4 {
		t.Errorf("overview notes = %d", o.Notes)
	}
}

func TestLinkSyntax(t *testing.T) {
	srv := testServer(t)
	if text := resultText(callTool(t, srv, "get_link_syntax", nil)); text != LinkSyntax {
		t.Error("link syntax mismatch")
	}
	contents, err := srv.readLinkSyntaxResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil || len(contents) != 1 {
		t.Fatalf("resource = %v, %v", contents, err)
	}
}
