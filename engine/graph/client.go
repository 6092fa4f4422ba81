package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sethvargo/go-retry"
	"github.com/tidwall/gjson"

	"github.com/livemem/livemem/pkg/version"
)

const (
	// protocolVersion pins the MCP revision spoken to graph-memory servers.
	protocolVersion = "2024-11-05"

	connectBudget    = 10 * time.Second
	connectBaseDelay = 500 * time.Millisecond
)

// Client is one live session against a remote Graph Memory MCP server.
// A session is dialed per bridge operation and closed when it ends.
type Client interface {
	// CallTool invokes a remote tool and returns its decoded JSON payload.
	// Transport failures come back as errors; tool-level failures come back
	// as payloads carrying "status":"error" exactly as the remote reported
	// them.
	CallTool(ctx context.Context, name string, args map[string]any) (gjson.Result, error)
	Close() error
}

// Dialer opens a connected, initialized session. token may be empty for
// unauthenticated servers. The service takes a Dialer so tests can swap the
// transport out.
type Dialer func(ctx context.Context, url, token string) (Client, error)

// NormalizeURL accepts either a server base URL or the full SSE endpoint and
// returns the SSE endpoint. Stored connections may carry either form.
func NormalizeURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	if !strings.HasSuffix(u, "/sse") {
		u += "/sse"
	}
	return u
}

// DialSSE opens an SSE session with a bounded fibonacci backoff, then runs
// the MCP handshake. It is the production Dialer.
func DialSSE(ctx context.Context, rawURL, token string) (Client, error) {
	sseURL := NormalizeURL(rawURL)
	var opts []transport.ClientOption
	if token != "" {
		opts = append(opts, transport.WithHeaders(map[string]string{
			"Authorization": "Bearer " + token,
		}))
	}
	var mc *client.Client
	backoff := retry.WithMaxDuration(connectBudget, retry.NewFibonacci(connectBaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := client.NewSSEMCPClient(sseURL, opts...)
		if err != nil {
			return fmt.Errorf("failed to build MCP client for %q: %w", sseURL, err)
		}
		if err := c.Start(ctx); err != nil {
			_ = c.Close()
			return retry.RetryableError(err)
		}
		mc = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = protocolVersion
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "live-memory",
		Version: version.GetVersion(),
	}
	if _, err := mc.Initialize(ctx, initReq); err != nil {
		_ = mc.Close()
		return nil, fmt.Errorf("MCP handshake with %q failed: %w", sseURL, err)
	}
	return &sseClient{mcp: mc}, nil
}

type sseClient struct {
	mcp *client.Client
}

func (c *sseClient) CallTool(ctx context.Context, name string, args map[string]any) (gjson.Result, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.mcp.CallTool(ctx, req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("tool %q failed: %w", name, err)
	}
	return unwrapResult(res), nil
}

func (c *sseClient) Close() error {
	return c.mcp.Close()
}

// unwrapResult extracts the JSON payload Graph Memory tools place in their
// first text content item. Non-JSON text is preserved under "raw" rather
// than dropped.
func unwrapResult(res *mcp.CallToolResult) gjson.Result {
	text := ""
	if res != nil && len(res.Content) > 0 {
		if tc, ok := mcp.AsTextContent(res.Content[0]); ok {
			text = tc.Text
		}
	}
	if gjson.Valid(text) {
		if payload := gjson.Parse(text); payload.IsObject() {
			return payload
		}
	}
	if res != nil && res.IsError {
		return syntheticPayload("error", text)
	}
	return syntheticPayload("ok", text)
}

func syntheticPayload(status, text string) gjson.Result {
	body := map[string]string{"status": status}
	if text != "" {
		if status == "error" {
			body["message"] = text
		} else {
			body["raw"] = text
		}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return gjson.Parse(`{"status":"error"}`)
	}
	return gjson.ParseBytes(raw)
}
