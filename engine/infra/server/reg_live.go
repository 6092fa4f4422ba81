package server

import (
	"context"

	"github.com/livemem/livemem/engine/auth"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	defaultReadLimit   = 50
	defaultSearchLimit = 20
)

func (a *App) registerLiveTools() {
	a.addTool(mcp.NewTool("live_note",
		mcp.WithDescription("Append a timestamped note to the space's live memory. The agent name is resolved from the token when omitted."),
		mcp.WithString("space_id", mcp.Required(), mcp.Description("Space identifier")),
		mcp.WithString("category", mcp.Required(),
			mcp.Description("Note category"),
			mcp.Enum("observation", "decision", "todo", "insight", "question", "progress", "issue")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Note body, Markdown allowed")),
		mcp.WithString("agent", mcp.Description("Agent identifier, auto-detected when empty")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags")),
	), a.spaceScoped(func(ctx context.Context, spaceID string, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := auth.CheckWrite(ctx); err != nil {
			return fail(err)
		}
		return respond(a.live.WriteNote(ctx, spaceID,
			req.GetString("category", ""),
			req.GetString("content", ""),
			req.GetString("agent", ""),
			req.GetString("tags", ""),
		))
	}))

	a.addTool(mcp.NewTool("live_read",
		mcp.WithDescription("Read recent live notes, newest first. Filters by category, agent and timestamp are conjunctive."),
		mcp.WithString("space_id", mcp.Required(), mcp.Description("Space identifier")),
		mcp.WithNumber("limit", mcp.Description("Maximum notes returned (default 50)")),
		mcp.WithString("category", mcp.Description("Only notes of this category")),
		mcp.WithString("agent", mcp.Description("Only notes from this agent")),
		mcp.WithString("since", mcp.Description("Only notes at or after this ISO timestamp")),
	), a.spaceScoped(func(ctx context.Context, spaceID string, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return respond(a.live.ReadNotes(ctx, spaceID,
			req.GetInt("limit", defaultReadLimit),
			req.GetString("category", ""),
			req.GetString("agent", ""),
			req.GetString("since", ""),
		))
	}))

	a.addTool(mcp.NewTool("live_search",
		mcp.WithDescription("Case-insensitive substring search over live note bodies."),
		mcp.WithString("space_id", mcp.Required(), mcp.Description("Space identifier")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Text to search for")),
		mcp.WithNumber("limit", mcp.Description("Maximum notes returned (default 20)")),
	), a.spaceScoped(func(ctx context.Context, spaceID string, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return fail(err)
		}
		return respond(a.live.SearchNotes(ctx, spaceID, query,
			req.GetInt("limit", defaultSearchLimit)))
	}))
}
