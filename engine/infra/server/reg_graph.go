package server

import (
	"context"

	"github.com/livemem/livemem/engine/auth"
	"github.com/livemem/livemem/engine/graph"
	"github.com/mark3labs/mcp-go/mcp"
)

func (a *App) registerGraphTools() {
	a.addTool(mcp.NewTool("graph_connect",
		mcp.WithDescription("Connect a space to a remote Graph Memory server. Creates the remote memory when it does not exist yet."),
		mcp.WithString("space_id", mcp.Required(), mcp.Description("Space identifier")),
		mcp.WithString("url", mcp.Required(), mcp.Description("Graph Memory server URL (with or without /sse)")),
		mcp.WithString("token", mcp.Required(), mcp.Description("Bearer token for the Graph Memory server")),
		mcp.WithString("memory_id", mcp.Required(), mcp.Description("Remote memory identifier")),
		mcp.WithString("ontology", mcp.Description("Extraction ontology (default general)")),
	), a.spaceScoped(func(ctx context.Context, spaceID string, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := auth.CheckWrite(ctx); err != nil {
			return fail(err)
		}
		url, err := req.RequireString("url")
		if err != nil {
			return fail(err)
		}
		tok, err := req.RequireString("token")
		if err != nil {
			return fail(err)
		}
		memoryID, err := req.RequireString("memory_id")
		if err != nil {
			return fail(err)
		}
		return respond(a.graph.Connect(ctx, spaceID, url, tok, memoryID,
			req.GetString("ontology", graph.DefaultOntology),
		))
	}))

	a.addTool(mcp.NewTool("graph_push",
		mcp.WithDescription("Push every Memory Bank file to the connected Graph Memory for entity extraction. Re-ingested files replace their previous version; orphaned remote documents are removed."),
		mcp.WithString("space_id", mcp.Required(), mcp.Description("Space identifier")),
	), a.spaceScoped(func(ctx context.Context, spaceID string, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := auth.CheckWrite(ctx); err != nil {
			return fail(err)
		}
		return respond(a.graph.Push(ctx, spaceID))
	}))

	a.addTool(mcp.NewTool("graph_status",
		mcp.WithDescription("Connection state, push history and remote graph statistics for a space."),
		mcp.WithString("space_id", mcp.Required(), mcp.Description("Space identifier")),
	), a.spaceScoped(func(ctx context.Context, spaceID string, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return respond(a.graph.Status(ctx, spaceID))
	}))

	a.addTool(mcp.NewTool("graph_disconnect",
		mcp.WithDescription("Disconnect a space from its Graph Memory. Remote data is kept."),
		mcp.WithString("space_id", mcp.Required(), mcp.Description("Space identifier")),
	), a.spaceScoped(func(ctx context.Context, spaceID string, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := auth.CheckWrite(ctx); err != nil {
			return fail(err)
		}
		return respond(a.graph.Disconnect(ctx, spaceID))
	}))
}
