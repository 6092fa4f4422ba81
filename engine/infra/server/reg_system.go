package server

import (
	"context"
	"runtime"

	"github.com/livemem/livemem/engine/core"
	"github.com/livemem/livemem/pkg/version"
	"github.com/mark3labs/mcp-go/mcp"
)

const aboutDescriptionMax = 100

type aboutResult struct {
	Status        core.Status `json:"status"`
	Name          string      `json:"name"`
	Version       string      `json:"version"`
	Description   string      `json:"description"`
	Author        string      `json:"author"`
	Documentation string      `json:"documentation"`
	GoVersion     string      `json:"go_version"`
	Platform      string      `json:"platform"`
	ToolsCount    int         `json:"tools_count"`
	Tools         []toolInfo  `json:"tools"`
}

// System tools are the only public ones: no token required, so monitoring and
// agents discovering the server can always call them.
func (a *App) registerSystemTools() {
	a.addTool(mcp.NewTool("system_health",
		mcp.WithDescription("Check service health: S3 connectivity, LLM endpoint, space count. No authentication required."),
	), func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return reply(a.health(ctx))
	})

	a.addTool(mcp.NewTool("system_about",
		mcp.WithDescription("Service metadata: version, available tools, runtime info. No authentication required."),
	), func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tools := make([]toolInfo, len(a.tools))
		for i, t := range a.tools {
			desc := t.Description
			if r := []rune(desc); len(r) > aboutDescriptionMax {
				desc = string(r[:aboutDescriptionMax])
			}
			tools[i] = toolInfo{Name: t.Name, Description: desc}
		}
		return reply(&aboutResult{
			Status:        core.StatusOK,
			Name:          a.cfg.ServerName,
			Version:       version.GetVersion(),
			Description:   "Shared working memory for collaborating AI agents",
			Author:        "Live Memory authors",
			Documentation: "https://github.com/livemem/livemem",
			GoVersion:     runtime.Version(),
			Platform:      runtime.GOOS + "/" + runtime.GOARCH,
			ToolsCount:    len(a.tools),
			Tools:         tools,
		})
	})
}
