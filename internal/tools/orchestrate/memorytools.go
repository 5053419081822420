package orchestrate

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/crewmux/internal/memory"
)

func scopeArg(req mcp.CallToolRequest) (memory.Scope, error) {
	return memory.ParseScope(strArg(req, "scope"))
}

func registerSaveToMemory(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("save_to_memory",
			mcp.WithDescription("Save a markdown entry under a key in session, project, or global memory. Overwrites keep created_at."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("key", mcp.Required(), mcp.Description("Entry key; sanitized into a filename")),
			mcp.WithString("content", mcp.Required(), mcp.Description("Entry body (markdown)")),
			mcp.WithString("scope", mcp.Description("session, project, or global (default: session)")),
			mcp.WithArray("tags", mcp.Description("Free-form tags")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			caller, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "save_to_memory", "")
			if err != nil {
				return fail(d.Logger, "save_to_memory", err)
			}
			scope, err := scopeArg(req)
			if err != nil {
				return fail(d.Logger, "save_to_memory", err)
			}
			entry, err := d.Memory.Save(scope, strArg(req, "key"), strArg(req, "content"), caller.ID, strSliceArg(req, "tags"))
			if err != nil {
				return fail(d.Logger, "save_to_memory", err)
			}
			return ok(map[string]any{"entry": entry, "scope": string(scope)})
		},
	)
}

func registerRetrieveFromMemory(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("retrieve_from_memory",
			mcp.WithDescription("Fetch one memory entry by key."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("key", mcp.Required(), mcp.Description("Entry key")),
			mcp.WithString("scope", mcp.Description("session, project, or global (default: session)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "retrieve_from_memory", ""); err != nil {
				return fail(d.Logger, "retrieve_from_memory", err)
			}
			scope, err := scopeArg(req)
			if err != nil {
				return fail(d.Logger, "retrieve_from_memory", err)
			}
			entry, err := d.Memory.Retrieve(scope, strArg(req, "key"))
			if err != nil {
				return fail(d.Logger, "retrieve_from_memory", err)
			}
			return ok(map[string]any{"entry": entry})
		},
	)
}

func registerListMemoryEntries(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("list_memory_entries",
			mcp.WithDescription("List a scope's memory entries, newest first."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("scope", mcp.Description("session, project, or global (default: session)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "list_memory_entries", ""); err != nil {
				return fail(d.Logger, "list_memory_entries", err)
			}
			scope, err := scopeArg(req)
			if err != nil {
				return fail(d.Logger, "list_memory_entries", err)
			}
			entries, err := d.Memory.List(scope)
			if err != nil {
				return fail(d.Logger, "list_memory_entries", err)
			}
			return ok(map[string]any{"entries": entries, "count": len(entries)})
		},
	)
}

func registerDeleteMemoryEntry(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("delete_memory_entry",
			mcp.WithDescription("Delete a memory entry. The content moves to the scope's archive and stays searchable."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("key", mcp.Required(), mcp.Description("Entry key")),
			mcp.WithString("scope", mcp.Description("session, project, or global (default: session)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "delete_memory_entry", ""); err != nil {
				return fail(d.Logger, "delete_memory_entry", err)
			}
			scope, err := scopeArg(req)
			if err != nil {
				return fail(d.Logger, "delete_memory_entry", err)
			}
			key := strArg(req, "key")
			if err := d.Memory.Delete(scope, key); err != nil {
				return fail(d.Logger, "delete_memory_entry", err)
			}
			return ok(map[string]any{"key": key, "archived": true})
		},
	)
}

func registerGetMemorySummary(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("get_memory_summary",
			mcp.WithDescription("Summarize a memory scope: entry count, keys, tags, last write."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("scope", mcp.Description("session, project, or global (default: session)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "get_memory_summary", ""); err != nil {
				return fail(d.Logger, "get_memory_summary", err)
			}
			scope, err := scopeArg(req)
			if err != nil {
				return fail(d.Logger, "get_memory_summary", err)
			}
			sum, err := d.Memory.Summarize(scope)
			if err != nil {
				return fail(d.Logger, "get_memory_summary", err)
			}
			return ok(map[string]any{"summary": sum})
		},
	)
}

func registerSearchMemoryArchive(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("search_memory_archive",
			mcp.WithDescription("Full-text search over a scope's memory, archived entries included."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
			mcp.WithString("scope", mcp.Description("session, project, or global (default: session)")),
			mcp.WithNumber("limit", mcp.Description("Maximum results (default: 20)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "search_memory_archive", ""); err != nil {
				return fail(d.Logger, "search_memory_archive", err)
			}
			scope, err := scopeArg(req)
			if err != nil {
				return fail(d.Logger, "search_memory_archive", err)
			}
			results, err := d.Memory.SearchArchive(scope, strArg(req, "query"), intArg(req, "limit", 20))
			if err != nil {
				return fail(d.Logger, "search_memory_archive", err)
			}
			return ok(map[string]any{"results": results, "count": len(results)})
		},
	)
}
