// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Magpie memory tools for LLM integration via stdio
// transport. Destructive operations (applying a forget pass, deleting
// domains) are deliberately not exposed here.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/magpielabs/magpie/internal/api"
	"github.com/magpielabs/magpie/internal/consolidate"
	"github.com/magpielabs/magpie/internal/forget"
	"github.com/magpielabs/magpie/internal/models"
	"github.com/magpielabs/magpie/internal/store"
)

// Server wraps the MCP server with Magpie tools.
type Server struct {
	mcp *server.MCPServer
	svc *api.Service
}

// New creates a new MCP server with all Magpie tools registered.
func New(svc *api.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Magpie",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("detect_domain",
		mcp.WithDescription("Classify free text into a memory domain using the stored domain keywords."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to classify")),
	), s.detectDomain)

	s.mcp.AddTool(mcp.NewTool("log_episode",
		mcp.WithDescription("Append an entry to today's episodic memory. "+
			"Omit domain to have it detected from the task and outcome. "+
			"Read the memory format first via the magpie://memory-format resource."),
		mcp.WithString("agent", mcp.Required(), mcp.Description("Name of the acting agent")),
		mcp.WithString("task", mcp.Required(), mcp.Description("What was attempted")),
		mcp.WithString("outcome", mcp.Required(), mcp.Description("What happened")),
		mcp.WithString("domain", mcp.Description("Optional domain tag (detected when empty)")),
		mcp.WithString("importance", mcp.Description("Importance 1-5 (default 2)")),
		mcp.WithString("followup", mcp.Description("Optional followup for the next session")),
	), s.logEpisode)

	s.mcp.AddTool(mcp.NewTool("read_memory",
		mcp.WithDescription("Read one memory file: an episodic day (kind=episodic, name=YYYY-MM-DD) "+
			"or a semantic/procedural note by name."),
		mcp.WithString("kind", mcp.Required(), mcp.Description("episodic, semantic or procedural")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Day date or note name")),
	), s.readMemory)

	s.mcp.AddTool(mcp.NewTool("list_memory",
		mcp.WithDescription("List memory files of one kind: episodic day dates or note names."),
		mcp.WithString("kind", mcp.Required(), mcp.Description("episodic, semantic or procedural")),
		mcp.WithString("domain", mcp.Description("Optional domain filter (notes only)")),
	), s.listMemory)

	s.mcp.AddTool(mcp.NewTool("search_items",
		mcp.WithDescription("Full-text search through stored items."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithString("domain", mcp.Description("Optional domain scope")),
	), s.searchItems)

	s.mcp.AddTool(mcp.NewTool("add_item",
		mcp.WithDescription("Store a structured item in a domain."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Item title")),
		mcp.WithString("domain", mcp.Description("Domain name (default general)")),
		mcp.WithString("type", mcp.Description("Item type (default note)")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags")),
		mcp.WithString("data", mcp.Description("JSON object with extra fields")),
	), s.addItem)

	s.mcp.AddTool(mcp.NewTool("memory_index",
		mcp.WithDescription("Return index.md, the overview of all semantic and procedural memory."),
	), s.memoryIndex)

	s.mcp.AddTool(mcp.NewTool("consolidate_preview",
		mcp.WithDescription("Preview a consolidation pass without changing anything."),
		mcp.WithString("days", mcp.Description("Cutoff in days for the full pass (default 7)")),
		mcp.WithString("domain", mcp.Description("Optional domain filter")),
		mcp.WithString("today", mcp.Description("Set to true to preview a today-mode pass")),
	), s.consolidatePreview)

	s.mcp.AddTool(mcp.NewTool("forget_preview",
		mcp.WithDescription("Preview what a forget pass would delete. Never deletes."),
		mcp.WithString("search", mcp.Description("Keyword to match")),
		mcp.WithString("domain", mcp.Description("Domain filter")),
		mcp.WithString("type", mcp.Description("episodic, semantic or procedural")),
		mcp.WithString("before", mcp.Description("Select content older than this date (YYYY-MM-DD)")),
	), s.forgetPreview)

	s.mcp.AddTool(mcp.NewTool("get_memory_contract",
		mcp.WithDescription("Returns the canonical memory file format contract. "+
			"Call this before writing memory files directly."),
	), s.getMemoryContract)

	// Resource: memory format contract.
	s.mcp.AddResource(
		mcp.NewResource("magpie://memory-format", "Memory Format Contract",
			mcp.WithResourceDescription("Canonical layout of episodic, semantic and procedural memory files."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readMemoryFormatResource,
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

// optString reads an optional string argument.
func optString(req mcp.CallToolRequest, name string) string {
	if v, err := req.RequireString(name); err == nil {
		return v
	}
	return ""
}

func (s *Server) detectDomain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	domain, err := s.svc.Detect(text)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(domain), nil
}

func (s *Server) logEpisode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent, err := req.RequireString("agent")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	task, err := req.RequireString("task")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	outcome, err := req.RequireString("outcome")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	importance := 0
	if raw := optString(req, "importance"); raw != "" {
		importance, err = strconv.Atoi(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("importance must be a number: %v", err)), nil
		}
	}

	entry, err := s.svc.LogEpisode(models.Entry{
		Agent:      agent,
		Task:       task,
		Outcome:    outcome,
		Domain:     optString(req, "domain"),
		Importance: importance,
		Followup:   optString(req, "followup"),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("logged to %s (domain: %s)", entry.Date, entry.Domain)), nil
}

func (s *Server) readMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if kind == string(models.KindEpisodic) {
		entries, err := s.svc.ReadEpisodic(name)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", name)), nil
		}
		out, _ := json.MarshalIndent(entries, "", "  ")
		return mcp.NewToolResultText(string(out)), nil
	}

	note, err := s.svc.GetNote(models.Kind(kind), name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s/%s", kind, name)), nil
	}
	return mcp.NewToolResultText(note.Content), nil
}

func (s *Server) listMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if kind == string(models.KindEpisodic) {
		live, archived, err := s.svc.EpisodicDates()
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		var b strings.Builder
		for _, d := range live {
			b.WriteString(d + "\n")
		}
		for _, d := range archived {
			b.WriteString(d + " (archived)\n")
		}
		if b.Len() == 0 {
			return mcp.NewToolResultText("no episodic memory"), nil
		}
		return mcp.NewToolResultText(strings.TrimSuffix(b.String(), "\n")), nil
	}

	notes, err := s.svc.ListNotes(models.Kind(kind), optString(req, "domain"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(notes) == 0 {
		return mcp.NewToolResultText("no notes"), nil
	}
	var names []string
	for _, n := range notes {
		names = append(names, fmt.Sprintf("%s (domain: %s)", n.Name, n.Domain))
	}
	return mcp.NewToolResultText(strings.Join(names, "\n")), nil
}

func (s *Server) searchItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	items, err := s.svc.SearchItems(query, optString(req, "domain"), 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(items, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) addItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	it := store.Item{Title: title, Type: optString(req, "type")}
	if tags := optString(req, "tags"); tags != "" {
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				it.Tags = append(it.Tags, t)
			}
		}
	}
	if raw := optString(req, "data"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &it.Data); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("data must be a JSON object: %v", err)), nil
		}
	}

	domain := optString(req, "domain")
	if domain == "" {
		domain = models.GeneralDomain
	}
	created, err := s.svc.CreateItem(domain, it)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created item %s in %s", created.ID, created.Domain)), nil
}

func (s *Server) memoryIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := s.svc.ReadIndex()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) consolidatePreview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := consolidate.Options{Domain: optString(req, "domain")}
	if raw := optString(req, "days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("days must be a number: %v", err)), nil
		}
		opts.Days = days
	}
	today := optString(req, "today") == "true"

	report, err := s.svc.Consolidate(ctx, today, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(report, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) forgetPreview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sel, err := s.svc.Forget(forget.Filters{
		Search: optString(req, "search"),
		Domain: optString(req, "domain"),
		Type:   optString(req, "type"),
		Before: optString(req, "before"),
	}, false, false)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if sel.Empty() {
		return mcp.NewToolResultText("nothing matches"), nil
	}
	out, _ := json.MarshalIndent(sel, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getMemoryContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(MemoryFormatContract), nil
}

func (s *Server) readMemoryFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "magpie://memory-format",
			MIMEType: "text/markdown",
			Text:     MemoryFormatContract,
		},
	}, nil
}
