package server

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/livemem/livemem/engine/graph"
)

// unreachableGraph swaps the app's dialer for one that always fails, so
// handler wiring can be exercised without a Graph Memory server.
func unreachableGraph(a *App, msg string) {
	a.graph = graph.NewService(a.store, func(context.Context, string, string) (graph.Client, error) {
		return nil, errors.New(msg)
	})
}

func TestGraphTools(t *testing.T) {
	t.Run("Should report disconnected spaces without dialing", func(t *testing.T) {
		app := newTestApp(t)
		createSpace(t, app, "proj")

		res := callTool(t, identityCtx(readerIdentity()), app, "graph_status", map[string]any{
			"space_id": "proj",
		})
		assert.Equal(t, "ok", res.Get("status").String())
		assert.False(t, res.Get("connected").Bool())
		assert.Equal(t, "No Graph Memory connection configured", res.Get("message").String())
	})

	t.Run("Should require write permission to connect", func(t *testing.T) {
		app := newTestApp(t)
		createSpace(t, app, "proj")

		res := callTool(t, identityCtx(readerIdentity()), app, "graph_connect", map[string]any{
			"space_id": "proj", "url": "http://graph:8080", "token": "tok", "memory_id": "m1",
		})
		assert.Equal(t, "Permission write required", res.Get("message").String())
	})

	t.Run("Should surface unreachable Graph Memory servers", func(t *testing.T) {
		app := newTestApp(t)
		createSpace(t, app, "proj")
		unreachableGraph(app, "connection refused")

		res := callTool(t, identityCtx(writerIdentity()), app, "graph_connect", map[string]any{
			"space_id": "proj", "url": "http://graph:8080", "token": "tok", "memory_id": "m1",
		})
		assert.Equal(t, "error", res.Get("status").String())
		assert.Equal(t, "Cannot reach Graph Memory: connection refused", res.Get("message").String())
	})

	t.Run("Should refuse pushing from an unconnected space", func(t *testing.T) {
		app := newTestApp(t)
		createSpace(t, app, "proj")

		res := callTool(t, identityCtx(writerIdentity()), app, "graph_push", map[string]any{
			"space_id": "proj",
		})
		assert.Equal(t, "error", res.Get("status").String())
		assert.Contains(t, res.Get("message").String(), "Use graph_connect first")
	})

	t.Run("Should make disconnect idempotent", func(t *testing.T) {
		app := newTestApp(t)
		createSpace(t, app, "proj")

		res := callTool(t, identityCtx(writerIdentity()), app, "graph_disconnect", map[string]any{
			"space_id": "proj",
		})
		assert.Equal(t, "ok", res.Get("status").String())
		assert.Equal(t, "Space 'proj' is not connected to Graph Memory", res.Get("message").String())
	})

	t.Run("Should deny graph tools outside the token scope", func(t *testing.T) {
		app := newTestApp(t)
		createSpace(t, app, "proj")

		res := callTool(t, identityCtx(writerIdentity("other")), app, "graph_push", map[string]any{
			"space_id": "proj",
		})
		assert.Equal(t, "Access denied to space 'proj'", res.Get("message").String())
	})
}
