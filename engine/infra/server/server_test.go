package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/livemem/livemem/engine/auth"
	"github.com/livemem/livemem/engine/storage"
	"github.com/livemem/livemem/engine/token"
	"github.com/livemem/livemem/pkg/config"
)

const catalogueSize = 30

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Default()
	app, err := New(cfg, storage.NewMemoryStore())
	require.NoError(t, err)
	return app
}

func adminCtx() context.Context {
	return auth.WithIdentity(context.Background(), token.Bootstrap())
}

func identityCtx(id *token.Identity) context.Context {
	return auth.WithIdentity(context.Background(), id)
}

func writerIdentity(spaces ...string) *token.Identity {
	return &token.Identity{
		ClientName:  "agent-w",
		Permissions: []string{token.PermRead, token.PermWrite},
		SpaceIDs:    spaces,
	}
}

func readerIdentity(spaces ...string) *token.Identity {
	return &token.Identity{
		ClientName:  "agent-r",
		Permissions: []string{token.PermRead},
		SpaceIDs:    spaces,
	}
}

// callTool drives a registered tool through the real JSON-RPC dispatch and
// returns the decoded payload of its single text content item.
func callTool(t *testing.T, ctx context.Context, a *App, name string, args map[string]any) gjson.Result {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	require.NoError(t, err)
	resp := a.mcp.HandleMessage(ctx, raw)
	require.NotNil(t, resp)
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	text := gjson.GetBytes(data, "result.content.0.text")
	require.True(t, text.Exists(), "no text content in response: %s", data)
	payload := gjson.Parse(text.String())
	require.True(t, payload.IsObject(), "tool payload is not a JSON object: %s", text.String())
	return payload
}

// createSpace provisions a space through the real tool, as an admin.
func createSpace(t *testing.T, a *App, spaceID string) {
	t.Helper()
	res := callTool(t, adminCtx(), a, "space_create", map[string]any{
		"space_id":    spaceID,
		"description": "Test space",
		"rules":       "# Rules\n\n- architecture.md: decisions",
	})
	require.Equal(t, "created", res.Get("status").String())
}

func TestNew(t *testing.T) {
	t.Run("Should register the complete tool catalogue", func(t *testing.T) {
		app := newTestApp(t)
		assert.Len(t, app.tools, catalogueSize)
		names := map[string]bool{}
		for _, info := range app.tools {
			assert.False(t, names[info.Name], "duplicate tool %s", info.Name)
			names[info.Name] = true
			assert.NotEmpty(t, info.Description, "tool %s has no description", info.Name)
		}
		for _, name := range []string{
			"system_health", "system_about",
			"space_create", "space_list", "space_info", "space_rules",
			"space_summary", "space_export", "space_delete",
			"live_note", "live_read", "live_search",
			"bank_read", "bank_read_all", "bank_list", "bank_consolidate",
			"backup_create", "backup_list", "backup_restore", "backup_download", "backup_delete",
			"admin_create_token", "admin_list_tokens", "admin_revoke_token",
			"admin_update_token", "admin_gc_notes",
			"graph_connect", "graph_push", "graph_status", "graph_disconnect",
		} {
			assert.True(t, names[name], "missing tool %s", name)
		}
	})
	t.Run("Should leave the completer nil when the LLM is unconfigured", func(t *testing.T) {
		app := newTestApp(t)
		assert.Nil(t, app.completer)
	})
	t.Run("Should build the completer when the LLM is configured", func(t *testing.T) {
		cfg := config.Default()
		cfg.LLMAPIURL = "http://llm.internal/v1"
		cfg.LLMAPIKey = "key"
		app, err := New(cfg, storage.NewMemoryStore())
		require.NoError(t, err)
		assert.NotNil(t, app.completer)
	})
}

func TestBaseURL(t *testing.T) {
	t.Run("Should default to the bind address", func(t *testing.T) {
		app := newTestApp(t)
		assert.Equal(t, "http://0.0.0.0:8002", app.baseURL())
	})
	t.Run("Should prefer the public base URL", func(t *testing.T) {
		cfg := config.Default()
		cfg.PublicBaseURL = "https://memory.example.com"
		app, err := New(cfg, storage.NewMemoryStore())
		require.NoError(t, err)
		assert.Equal(t, "https://memory.example.com", app.baseURL())
	})
}

func TestRouter(t *testing.T) {
	t.Run("Should answer liveness probes without auth", func(t *testing.T) {
		app := newTestApp(t)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		app.Router().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		body := gjson.Parse(rec.Body.String())
		assert.Equal(t, "healthy", body.Get("status").String())
		assert.Equal(t, "Live Memory", body.Get("service").String())
		assert.NotEmpty(t, body.Get("version").String())
	})
	t.Run("Should not serve unknown routes", func(t *testing.T) {
		app := newTestApp(t)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/nope", nil)
		app.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestToolContext(t *testing.T) {
	t.Run("Should resolve the caller identity from the raw request", func(t *testing.T) {
		app := newTestApp(t)
		created, err := app.tokens.Create(context.Background(), "agent-cline", "read,write", "", 0)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/message?sessionId=abc", nil)
		req.Header.Set("Authorization", "Bearer "+created.Token)
		ctx := app.toolContext(context.Background(), req)

		id, ok := auth.IdentityFromContext(ctx)
		require.True(t, ok)
		assert.Equal(t, "agent-cline", id.ClientName)
	})
	t.Run("Should leave anonymous requests unauthenticated", func(t *testing.T) {
		app := newTestApp(t)
		req := httptest.NewRequest(http.MethodPost, "/message", nil)
		ctx := app.toolContext(context.Background(), req)
		_, ok := auth.IdentityFromContext(ctx)
		assert.False(t, ok)
	})
}
