package server

import (
	"context"

	"github.com/livemem/livemem/engine/auth"
	"github.com/livemem/livemem/engine/core"
	"github.com/mark3labs/mcp-go/mcp"
)

func (a *App) registerSpaceTools() {
	a.addTool(mcp.NewTool("space_create",
		mcp.WithDescription("Create a memory space with its rules. Rules define the Memory Bank structure and are immutable after creation."),
		mcp.WithString("space_id", mcp.Required(), mcp.Description("Unique identifier (alphanumeric plus dashes, max 64 chars)")),
		mcp.WithString("description", mcp.Required(), mcp.Description("Short description of the space")),
		mcp.WithString("rules", mcp.Required(), mcp.Description("Markdown rules describing the bank structure")),
		mcp.WithString("owner", mcp.Description("Owner, informational only")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := auth.CheckWrite(ctx); err != nil {
			return fail(err)
		}
		spaceID, err := req.RequireString("space_id")
		if err != nil {
			return fail(err)
		}
		return respond(a.spaces.Create(ctx,
			spaceID,
			req.GetString("description", ""),
			req.GetString("rules", ""),
			req.GetString("owner", ""),
		))
	})

	a.addTool(mcp.NewTool("space_list",
		mcp.WithDescription("List the memory spaces accessible to the current token, with note and bank counts."),
	), func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, ok := auth.IdentityFromContext(ctx)
		if !ok {
			return fail(core.Failf("Authentication required"))
		}
		var allowed []string
		if len(id.SpaceIDs) > 0 {
			allowed = id.SpaceIDs
		}
		return respond(a.spaces.List(ctx, allowed))
	})

	a.addTool(mcp.NewTool("space_info",
		mcp.WithDescription("Detailed information about a space: metadata, live note stats, bank stats, consolidation status."),
		mcp.WithString("space_id", mcp.Required(), mcp.Description("Space identifier")),
	), a.spaceScoped(func(ctx context.Context, spaceID string, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return respond(a.spaces.Info(ctx, spaceID))
	}))

	a.addTool(mcp.NewTool("space_rules",
		mcp.WithDescription("Read the rules of a space (immutable after creation)."),
		mcp.WithString("space_id", mcp.Required(), mcp.Description("Space identifier")),
	), a.spaceScoped(func(ctx context.Context, spaceID string, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return respond(a.spaces.Rules(ctx, spaceID))
	}))

	a.addTool(mcp.NewTool("space_summary",
		mcp.WithDescription("Compact summary of a space for an agent joining a session: rules, bank index, recent notes."),
		mcp.WithString("space_id", mcp.Required(), mcp.Description("Space identifier")),
	), a.spaceScoped(func(ctx context.Context, spaceID string, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return respond(a.spaces.Summary(ctx, spaceID))
	}))

	a.addTool(mcp.NewTool("space_export",
		mcp.WithDescription("Export a full space as a base64 tar.gz archive."),
		mcp.WithString("space_id", mcp.Required(), mcp.Description("Space identifier")),
	), a.spaceScoped(func(ctx context.Context, spaceID string, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return respond(a.spaces.Export(ctx, spaceID))
	}))

	a.addTool(mcp.NewTool("space_delete",
		mcp.WithDescription("Delete a space and everything in it. Admin only; confirm must be true."),
		mcp.WithString("space_id", mcp.Required(), mcp.Description("Space identifier")),
		mcp.WithBoolean("confirm", mcp.Description("Must be true to confirm the deletion")),
	), a.spaceScoped(func(ctx context.Context, spaceID string, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := auth.CheckAdmin(ctx); err != nil {
			return fail(err)
		}
		if !req.GetBool("confirm", false) {
			return fail(core.Failf(
				"Deletion refused: confirm=true required. ⚠️ This operation is irreversible!"))
		}
		return respond(a.spaces.Delete(ctx, spaceID))
	}))
}

// spaceScoped wraps a handler with the space_id extraction and the access
// check shared by every space-scoped tool.
func (a *App) spaceScoped(
	handler func(ctx context.Context, spaceID string, req mcp.CallToolRequest) (*mcp.CallToolResult, error),
) func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		spaceID, err := req.RequireString("space_id")
		if err != nil {
			return fail(err)
		}
		if err := auth.CheckAccess(ctx, spaceID); err != nil {
			return fail(err)
		}
		return handler(ctx, spaceID, req)
	}
}
