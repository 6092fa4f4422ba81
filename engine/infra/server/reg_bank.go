package server

import (
	"context"

	"github.com/livemem/livemem/engine/auth"
	"github.com/mark3labs/mcp-go/mcp"
)

func (a *App) registerBankTools() {
	a.addTool(mcp.NewTool("bank_read",
		mcp.WithDescription("Read one Memory Bank file."),
		mcp.WithString("space_id", mcp.Required(), mcp.Description("Space identifier")),
		mcp.WithString("filename", mcp.Required(), mcp.Description("Bank file name, e.g. architecture.md")),
	), a.spaceScoped(func(ctx context.Context, spaceID string, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filename, err := req.RequireString("filename")
		if err != nil {
			return fail(err)
		}
		return respond(a.bank.Read(ctx, spaceID, filename))
	}))

	a.addTool(mcp.NewTool("bank_read_all",
		mcp.WithDescription("Read every Memory Bank file of a space in one call."),
		mcp.WithString("space_id", mcp.Required(), mcp.Description("Space identifier")),
	), a.spaceScoped(func(ctx context.Context, spaceID string, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return respond(a.bank.ReadAll(ctx, spaceID))
	}))

	a.addTool(mcp.NewTool("bank_list",
		mcp.WithDescription("List Memory Bank files with size and last modification."),
		mcp.WithString("space_id", mcp.Required(), mcp.Description("Space identifier")),
	), a.spaceScoped(func(ctx context.Context, spaceID string, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return respond(a.bank.List(ctx, spaceID))
	}))

	a.addTool(mcp.NewTool("bank_consolidate",
		mcp.WithDescription("Consolidate live notes into the Memory Bank through the LLM. One consolidation at a time per space; concurrent calls get a conflict."),
		mcp.WithString("space_id", mcp.Required(), mcp.Description("Space identifier")),
		mcp.WithString("agent", mcp.Description("Only consolidate this agent's notes (empty = all)")),
	), a.spaceScoped(func(ctx context.Context, spaceID string, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := auth.CheckWrite(ctx); err != nil {
			return fail(err)
		}
		return respond(a.bank.Consolidate(ctx, spaceID, req.GetString("agent", "")))
	}))
}
