package server

import (
	"context"

	"github.com/livemem/livemem/engine/auth"
	"github.com/livemem/livemem/engine/core"
	"github.com/mark3labs/mcp-go/mcp"
)

func (a *App) registerBackupTools() {
	a.addTool(mcp.NewTool("backup_create",
		mcp.WithDescription("Snapshot a full space with a server-side copy of every object."),
		mcp.WithString("space_id", mcp.Required(), mcp.Description("Space identifier")),
		mcp.WithString("description", mcp.Description("Free-form backup description")),
	), a.spaceScoped(func(ctx context.Context, spaceID string, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := auth.CheckWrite(ctx); err != nil {
			return fail(err)
		}
		return respond(a.backups.Create(ctx, spaceID, req.GetString("description", "")))
	}))

	a.addTool(mcp.NewTool("backup_list",
		mcp.WithDescription("List available backups, optionally for one space."),
		mcp.WithString("space_id", mcp.Description("Only this space's backups (empty = all)")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := auth.CheckAuthenticated(ctx); err != nil {
			return fail(err)
		}
		return respond(a.backups.List(ctx, req.GetString("space_id", "")))
	})

	a.addTool(mcp.NewTool("backup_restore",
		mcp.WithDescription("Restore a space from a backup. The space must not exist; delete it first. Admin only; confirm must be true."),
		mcp.WithString("backup_id", mcp.Required(), mcp.Description("Backup identifier, format space_id/timestamp")),
		mcp.WithBoolean("confirm", mcp.Description("Must be true to confirm the restore")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := auth.CheckAdmin(ctx); err != nil {
			return fail(err)
		}
		backupID, err := req.RequireString("backup_id")
		if err != nil {
			return fail(err)
		}
		if !req.GetBool("confirm", false) {
			return fail(core.Failf("Restore refused: confirm=true required."))
		}
		return respond(a.backups.Restore(ctx, backupID))
	})

	a.addTool(mcp.NewTool("backup_download",
		mcp.WithDescription("Download a backup as a base64 tar.gz archive."),
		mcp.WithString("backup_id", mcp.Required(), mcp.Description("Backup identifier, format space_id/timestamp")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := auth.CheckAuthenticated(ctx); err != nil {
			return fail(err)
		}
		backupID, err := req.RequireString("backup_id")
		if err != nil {
			return fail(err)
		}
		return respond(a.backups.Download(ctx, backupID))
	})

	a.addTool(mcp.NewTool("backup_delete",
		mcp.WithDescription("Delete a backup permanently. Admin only; confirm must be true."),
		mcp.WithString("backup_id", mcp.Required(), mcp.Description("Backup identifier, format space_id/timestamp")),
		mcp.WithBoolean("confirm", mcp.Description("Must be true to confirm the deletion")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := auth.CheckAdmin(ctx); err != nil {
			return fail(err)
		}
		backupID, err := req.RequireString("backup_id")
		if err != nil {
			return fail(err)
		}
		if !req.GetBool("confirm", false) {
			return fail(core.Failf("Deletion refused: confirm=true required."))
		}
		return respond(a.backups.Delete(ctx, backupID))
	})
}
