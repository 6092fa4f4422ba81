package server

import (
	"encoding/json"
	"fmt"

	"github.com/livemem/livemem/engine/core"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// toolInfo is the catalogue entry system_about reports for each tool.
type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// addTool registers a tool on the MCP server and records it for the
// system_about catalogue.
func (a *App) addTool(tool mcp.Tool, handler mcpserver.ToolHandlerFunc) {
	a.mcp.AddTool(tool, handler)
	a.tools = append(a.tools, toolInfo{Name: tool.Name, Description: tool.Description})
}

// reply encodes a payload as the single text content item of a successful
// tool result. Every handler answer goes through here, success and failure
// alike, so agents always parse one JSON object.
func reply(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool payload: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// fail converts a domain error into its payload envelope. The MCP call itself
// succeeds; the status field carries the failure.
func fail(err error) (*mcp.CallToolResult, error) {
	return reply(core.AsEnvelope(err))
}

// respond collapses the (result, error) pair every service returns into a
// tool reply.
func respond(v any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return fail(err)
	}
	return reply(v)
}
