package mcpserver

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/magpielabs/magpie/internal/api"
	"github.com/magpielabs/magpie/internal/consolidate"
	"github.com/magpielabs/magpie/internal/store"
	"github.com/magpielabs/magpie/internal/testutil"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	db := testutil.TestDB(t)
	repo := testutil.TestRepo(t)

	logger := slog.New(slog.DiscardHandler)
	svc := api.NewService(db, repo, consolidate.New(repo, nil, logger), logger)
	return New(svc)
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "detect_domain":
		result, err = srv.detectDomain(ctx, req)
	case "log_episode":
		result, err = srv.logEpisode(ctx, req)
	case "read_memory":
		result, err = srv.readMemory(ctx, req)
	case "list_memory":
		result, err = srv.listMemory(ctx, req)
	case "search_items":
		result, err = srv.searchItems(ctx, req)
	case "add_item":
		result, err = srv.addItem(ctx, req)
	case "memory_index":
		result, err = srv.memoryIndex(ctx, req)
	case "consolidate_preview":
		result, err = srv.consolidatePreview(ctx, req)
	case "forget_preview":
		result, err = srv.forgetPreview(ctx, req)
	case "get_memory_contract":
		result, err = srv.getMemoryContract(ctx, req)
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

func TestLogAndReadEpisode(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "log_episode", map[string]interface{}{
		"agent":      "claude",
		"task":       "wrote the report",
		"outcome":    "sent for review",
		"importance": "4",
	})
	text := resultText(r)
	if !strings.HasPrefix(text, "logged to ") {
		t.Fatalf("log result = %q", text)
	}
	date := strings.TrimPrefix(strings.Split(text, " (")[0], "logged to ")

	r = callTool(t, srv, "read_memory", map[string]interface{}{
		"kind": "episodic",
		"name": date,
	})
	if !strings.Contains(resultText(r), "wrote the report") {
		t.Errorf("read result = %q", resultText(r))
	}

	r = callTool(t, srv, "list_memory", map[string]interface{}{"kind": "episodic"})
	if !strings.Contains(resultText(r), date) {
		t.Errorf("list result = %q", resultText(r))
	}
}

func TestDetectDomainTool(t *testing.T) {
	srv := testServer(t)
	if _, err := srv.svc.CreateDomain(store.Domain{Name: "fitness", Keywords: []string{"workout"}}); err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "detect_domain", map[string]interface{}{"text": "morning workout done"})
	if got := resultText(r); got != "fitness" {
		t.Errorf("detect = %q, want fitness", got)
	}

	r = callTool(t, srv, "detect_domain", map[string]interface{}{"text": "unrelated"})
	if got := resultText(r); got != "general" {
		t.Errorf("detect fallback = %q, want general", got)
	}
}

func TestAddAndSearchItems(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "add_item", map[string]interface{}{
		"title": "quarterly xylophone report",
		"tags":  "reports, q1",
		"data":  `{"status_note":"draft"}`,
	})
	if r.IsError {
		t.Fatalf("add_item error: %q", resultText(r))
	}

	r = callTool(t, srv, "search_items", map[string]interface{}{"query": "xylophone"})
	if !strings.Contains(resultText(r), "quarterly xylophone report") {
		t.Errorf("search result = %q", resultText(r))
	}
}

func TestAddItemBadData(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "add_item", map[string]interface{}{
		"title": "x",
		"data":  "not json",
	})
	if !r.IsError {
		t.Error("expected error for invalid data JSON")
	}
}

func TestMemoryIndexTool(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "memory_index", map[string]interface{}{})
	if !strings.Contains(resultText(r), "# Memory Index") {
		t.Errorf("index = %q", resultText(r))
	}
}

func TestConsolidatePreviewNeverMutates(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "log_episode", map[string]interface{}{
		"agent": "claude", "task": "t", "outcome": "o", "importance": "4",
	})

	r := callTool(t, srv, "consolidate_preview", map[string]interface{}{"today": "true"})
	text := resultText(r)
	if !strings.Contains(text, `"dry_run": true`) {
		t.Errorf("preview = %q", text)
	}

	live, _, err := srv.svc.EpisodicDates()
	if err != nil || len(live) != 1 {
		t.Errorf("day files = %v (err %v), want the logged day intact", live, err)
	}
}

func TestForgetPreviewNeverDeletes(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "log_episode", map[string]interface{}{
		"agent": "claude", "task": "password rotation", "outcome": "done",
	})

	r := callTool(t, srv, "forget_preview", map[string]interface{}{"search": "password"})
	if !strings.Contains(resultText(r), "password rotation") {
		t.Errorf("preview = %q", resultText(r))
	}

	live, _, _ := srv.svc.EpisodicDates()
	if len(live) != 1 {
		t.Errorf("day files = %v, want 1", live)
	}
}

func TestReadMemoryMissing(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "read_memory", map[string]interface{}{
		"kind": "semantic", "name": "nope",
	})
	if !r.IsError {
		t.Error("expected error for missing note")
	}
}

func TestContractTool(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "get_memory_contract", map[string]interface{}{})
	if !strings.Contains(resultText(r), "Memory Format Contract") {
		t.Errorf("contract = %q", resultText(r))
	}
}
