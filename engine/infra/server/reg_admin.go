package server

import (
	"context"

	"github.com/livemem/livemem/engine/auth"
	"github.com/mark3labs/mcp-go/mcp"
)

const defaultGCMaxAgeDays = 7

func (a *App) registerAdminTools() {
	a.addTool(mcp.NewTool("admin_create_token",
		mcp.WithDescription("Create an authentication token. ⚠️ The cleartext is shown exactly once; only its SHA-256 hash is stored."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Descriptive name, e.g. agent-cline")),
		mcp.WithString("permissions", mcp.Required(), mcp.Description("Comma-separated: read, write, admin")),
		mcp.WithString("space_ids", mcp.Description("Allowed spaces, comma-separated (empty = all)")),
		mcp.WithNumber("expires_in_days", mcp.Description("Lifetime in days (0 = never expires)")),
	), a.adminOnly(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return fail(err)
		}
		return respond(a.tokens.Create(ctx, name,
			req.GetString("permissions", ""),
			req.GetString("space_ids", ""),
			req.GetInt("expires_in_days", 0),
		))
	}))

	a.addTool(mcp.NewTool("admin_list_tokens",
		mcp.WithDescription("List registered tokens with truncated hashes, permissions and expiry."),
	), a.adminOnly(func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return respond(a.tokens.List(ctx))
	}))

	a.addTool(mcp.NewTool("admin_revoke_token",
		mcp.WithDescription("Revoke a token immediately."),
		mcp.WithString("token_hash", mcp.Required(), mcp.Description("Truncated hash from admin_list_tokens")),
	), a.adminOnly(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		hash, err := req.RequireString("token_hash")
		if err != nil {
			return fail(err)
		}
		return respond(a.tokens.Revoke(ctx, hash))
	}))

	a.addTool(mcp.NewTool("admin_update_token",
		mcp.WithDescription("Update a token's allowed spaces or permissions. Empty arguments leave the field unchanged."),
		mcp.WithString("token_hash", mcp.Required(), mcp.Description("Truncated hash from admin_list_tokens")),
		mcp.WithString("space_ids", mcp.Description("New allowed spaces (empty = no change)")),
		mcp.WithString("permissions", mcp.Description("New permissions (empty = no change)")),
	), a.adminOnly(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		hash, err := req.RequireString("token_hash")
		if err != nil {
			return fail(err)
		}
		return respond(a.tokens.Update(ctx, hash,
			req.GetString("space_ids", ""),
			req.GetString("permissions", ""),
		))
	}))

	a.addTool(mcp.NewTool("admin_gc_notes",
		mcp.WithDescription("Garbage-collect old live notes. Without confirm this is a dry-run report; with confirm the notes are consolidated then deleted, or just deleted with delete_only."),
		mcp.WithString("space_id", mcp.Description("Only this space (empty = every space)")),
		mcp.WithNumber("max_age_days", mcp.Description("Notes older than this are collected (default 7)")),
		mcp.WithBoolean("confirm", mcp.Description("Actually consolidate/delete instead of reporting")),
		mcp.WithBoolean("delete_only", mcp.Description("Skip consolidation and delete directly")),
	), a.adminOnly(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		spaceID := req.GetString("space_id", "")
		maxAgeDays := req.GetInt("max_age_days", defaultGCMaxAgeDays)
		if !req.GetBool("confirm", false) {
			return respond(a.gc.Scan(ctx, spaceID, maxAgeDays))
		}
		if req.GetBool("delete_only", false) {
			return respond(a.gc.DeleteOld(ctx, spaceID, maxAgeDays))
		}
		return respond(a.gc.ConsolidateAndCleanup(ctx, spaceID, maxAgeDays))
	}))
}

// adminOnly wraps a handler with the admin permission check shared by every
// admin tool.
func (a *App) adminOnly(
	handler func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error),
) func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := auth.CheckAdmin(ctx); err != nil {
			return fail(err)
		}
		return handler(ctx, req)
	}
}
