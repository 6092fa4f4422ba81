package server

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livemem/livemem/engine/note"
	"github.com/livemem/livemem/engine/space"
)

// seedOldNote plants a live note whose filename timestamp predates the GC
// cutoff by the given number of days.
func seedOldNote(t *testing.T, a *App, spaceID, agent string, ageDays int) {
	t.Helper()
	ts := time.Now().UTC().AddDate(0, 0, -ageDays).Format(note.FileTimestampLayout)
	key := fmt.Sprintf("%s%s_%s_todo_deadbeef.md", space.LivePrefix(spaceID), ts, agent)
	require.NoError(t, a.store.Put(context.Background(), key, "---\n---\n\nstale"))
}

func TestAdminTokenTools(t *testing.T) {
	t.Run("Should deny every admin tool to non-admins", func(t *testing.T) {
		app := newTestApp(t)
		for _, name := range []string{
			"admin_create_token", "admin_list_tokens",
			"admin_revoke_token", "admin_update_token", "admin_gc_notes",
		} {
			res := callTool(t, identityCtx(writerIdentity()), app, name, map[string]any{})
			assert.Equal(t, "Permission admin required", res.Get("message").String(), name)
		}
	})

	t.Run("Should run the token lifecycle end to end", func(t *testing.T) {
		app := newTestApp(t)

		created := callTool(t, adminCtx(), app, "admin_create_token", map[string]any{
			"name":        "agent-cline",
			"permissions": "read,write",
			"space_ids":   "proj-a",
		})
		require.Equal(t, "created", created.Get("status").String())
		cleartext := created.Get("token").String()
		require.NotEmpty(t, cleartext)
		assert.Contains(t, created.Get("warning").String(), "NEVER be shown again")

		list := callTool(t, adminCtx(), app, "admin_list_tokens", map[string]any{})
		require.Equal(t, int64(1), list.Get("total").Int())
		hash := list.Get("tokens.0.hash").String()
		require.NotEmpty(t, hash)

		updated := callTool(t, adminCtx(), app, "admin_update_token", map[string]any{
			"token_hash": hash, "permissions": "read",
		})
		assert.Equal(t, "ok", updated.Get("status").String())

		id, ok := app.tokens.Validate(context.Background(), cleartext)
		require.True(t, ok)
		assert.Equal(t, []string{"read"}, id.Permissions)

		revoked := callTool(t, adminCtx(), app, "admin_revoke_token", map[string]any{
			"token_hash": hash,
		})
		assert.Equal(t, "ok", revoked.Get("status").String())
		_, ok = app.tokens.Validate(context.Background(), cleartext)
		assert.False(t, ok)
	})

	t.Run("Should reject unknown permissions", func(t *testing.T) {
		app := newTestApp(t)
		res := callTool(t, adminCtx(), app, "admin_create_token", map[string]any{
			"name": "x", "permissions": "read,sudo",
		})
		assert.Equal(t, "error", res.Get("status").String())
		assert.Contains(t, res.Get("message").String(), "Invalid permission 'sudo'")
	})
}

func TestAdminGCNotes(t *testing.T) {
	t.Run("Should report without touching anything when confirm is false", func(t *testing.T) {
		app := newTestApp(t)
		createSpace(t, app, "proj")
		seedOldNote(t, app, "proj", "agent-gone", 30)
		seedOldNote(t, app, "proj", "agent-gone", 20)

		res := callTool(t, adminCtx(), app, "admin_gc_notes", map[string]any{})
		assert.Equal(t, "ok", res.Get("status").String())
		assert.Equal(t, int64(7), res.Get("max_age_days").Int())
		assert.Equal(t, int64(2), res.Get("total_old_notes").Int())
		assert.Equal(t, int64(2), res.Get("spaces.proj.by_agent.agent-gone").Int())

		after := callTool(t, adminCtx(), app, "live_read", map[string]any{"space_id": "proj"})
		assert.Equal(t, int64(2), after.Get("total").Int())
	})

	t.Run("Should honor a custom max_age_days", func(t *testing.T) {
		app := newTestApp(t)
		createSpace(t, app, "proj")
		seedOldNote(t, app, "proj", "agent-gone", 5)

		defaultScan := callTool(t, adminCtx(), app, "admin_gc_notes", map[string]any{})
		assert.Equal(t, int64(0), defaultScan.Get("total_old_notes").Int())

		tightScan := callTool(t, adminCtx(), app, "admin_gc_notes", map[string]any{
			"max_age_days": 3,
		})
		assert.Equal(t, int64(1), tightScan.Get("total_old_notes").Int())
	})

	t.Run("Should delete orphans with confirm and delete_only", func(t *testing.T) {
		app := newTestApp(t)
		createSpace(t, app, "proj")
		seedOldNote(t, app, "proj", "agent-gone", 30)

		res := callTool(t, adminCtx(), app, "admin_gc_notes", map[string]any{
			"confirm": true, "delete_only": true,
		})
		assert.Equal(t, "deleted", res.Get("status").String())
		assert.Equal(t, "delete", res.Get("action").String())
		assert.Equal(t, int64(1), res.Get("deleted").Int())
		assert.Contains(t, res.Get("message").String(), "WITHOUT consolidation")

		after := callTool(t, adminCtx(), app, "live_read", map[string]any{"space_id": "proj"})
		assert.Equal(t, int64(0), after.Get("total").Int())
	})

	t.Run("Should answer ok when there is nothing to delete", func(t *testing.T) {
		app := newTestApp(t)
		createSpace(t, app, "proj")

		res := callTool(t, adminCtx(), app, "admin_gc_notes", map[string]any{
			"confirm": true, "delete_only": true,
		})
		assert.Equal(t, "ok", res.Get("status").String())
		assert.Equal(t, int64(0), res.Get("deleted").Int())
		assert.Equal(t, "No orphan notes to delete", res.Get("message").String())
	})

	t.Run("Should report consolidation failures per agent", func(t *testing.T) {
		app := newTestApp(t)
		createSpace(t, app, "proj")
		seedOldNote(t, app, "proj", "agent-gone", 30)

		res := callTool(t, adminCtx(), app, "admin_gc_notes", map[string]any{"confirm": true})
		assert.Equal(t, "ok", res.Get("status").String())
		assert.Equal(t, "consolidate", res.Get("action").String())
		// No LLM configured: the per-agent outcome records the error, the GC
		// run itself still reports.
		outcome := res.Get("consolidation_details.proj.agent-gone")
		require.True(t, outcome.Exists())
		assert.Equal(t, "error", outcome.Get("status").String())
		assert.Contains(t, outcome.Get("message").String(), "LLM is not configured")
	})
}
