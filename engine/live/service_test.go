package live

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livemem/livemem/engine/auth"
	"github.com/livemem/livemem/engine/core"
	"github.com/livemem/livemem/engine/space"
	"github.com/livemem/livemem/engine/storage"
	"github.com/livemem/livemem/engine/token"
)

func newTestService(t *testing.T) (*Service, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	spaces := space.NewService(store)
	_, err := spaces.Create(context.Background(), "proj", "Demo", "rules", "")
	require.NoError(t, err)
	s := NewService(store)
	s.now = func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }
	return s, store
}

func TestServiceWriteNote(t *testing.T) {
	ctx := context.Background()
	t.Run("Should write front-matter plus body in one object", func(t *testing.T) {
		s, store := newTestService(t)
		res, err := s.WriteNote(ctx, "proj", "decision", "Went with S3 locks.", "cline", "locks, s3")
		require.NoError(t, err)
		assert.Equal(t, core.StatusCreated, res.Status)
		assert.Regexp(t, `^20260824T120000_cline_decision_[0-9a-f]{8}\.md$`, res.Filename)
		assert.Equal(t, "cline", res.Agent)
		assert.Equal(t, "2026-08-24T12:00:00.000000+00:00", res.Timestamp)

		raw, err := store.Get(ctx, "proj/live/"+res.Filename)
		require.NoError(t, err)
		assert.Contains(t, raw, "agent: \"cline\"\n")
		assert.Contains(t, raw, "tags: [\"locks\",\"s3\"]\n")
		assert.Contains(t, raw, "Went with S3 locks.")
		assert.Equal(t, res.Size, len(raw))
	})
	t.Run("Should resolve the agent from the caller identity", func(t *testing.T) {
		s, _ := newTestService(t)
		id := &token.Identity{ClientName: "agent-cline", Permissions: []string{"write"}}
		res, err := s.WriteNote(auth.WithIdentity(ctx, id), "proj", "todo", "x", "", "")
		require.NoError(t, err)
		assert.Equal(t, "agent-cline", res.Agent)
	})
	t.Run("Should default the agent to anonymous", func(t *testing.T) {
		s, _ := newTestService(t)
		res, err := s.WriteNote(ctx, "proj", "todo", "x", "", "")
		require.NoError(t, err)
		assert.Equal(t, "anonymous", res.Agent)
	})
	t.Run("Should reject an unknown category", func(t *testing.T) {
		s, _ := newTestService(t)
		_, err := s.WriteNote(ctx, "proj", "rant", "x", "cline", "")
		require.Error(t, err)
		env := core.AsEnvelope(err)
		assert.Equal(t, core.StatusError, env.Status)
		assert.Contains(t, env.Message, "Invalid category 'rant'")
	})
	t.Run("Should report a missing space", func(t *testing.T) {
		s, _ := newTestService(t)
		_, err := s.WriteNote(ctx, "ghost", "todo", "x", "cline", "")
		require.Error(t, err)
		assert.Equal(t, core.StatusNotFound, core.AsEnvelope(err).Status)
	})
}

func seedNotes(t *testing.T, s *Service) {
	t.Helper()
	ctx := context.Background()
	times := []time.Time{
		time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 22, 10, 0, 0, 0, time.UTC),
	}
	type seed struct {
		agent, category, content string
	}
	seeds := []seed{
		{"cline", "decision", "Use S3 for locks"},
		{"cursor", "todo", "Implement the backup path"},
		{"cline", "issue", "LLM timeout above 60s"},
	}
	for i, sd := range seeds {
		s.now = func() time.Time { return times[i] }
		_, err := s.WriteNote(ctx, "proj", sd.category, sd.content, sd.agent, "")
		require.NoError(t, err)
	}
}

func TestServiceReadNotes(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	seedNotes(t, s)

	t.Run("Should return newest first", func(t *testing.T) {
		res, err := s.ReadNotes(ctx, "proj", 50, "", "", "")
		require.NoError(t, err)
		require.Equal(t, 3, res.Total)
		assert.False(t, res.HasMore)
		assert.Equal(t, "issue", res.Notes[0].Category)
		assert.Equal(t, "decision", res.Notes[2].Category)
	})
	t.Run("Should truncate and flag more", func(t *testing.T) {
		res, err := s.ReadNotes(ctx, "proj", 2, "", "", "")
		require.NoError(t, err)
		assert.Equal(t, 2, res.Total)
		assert.True(t, res.HasMore)
	})
	t.Run("Should filter by category and agent", func(t *testing.T) {
		res, err := s.ReadNotes(ctx, "proj", 50, "todo", "", "")
		require.NoError(t, err)
		require.Equal(t, 1, res.Total)
		assert.Equal(t, "cursor", res.Notes[0].Agent)

		res, err = s.ReadNotes(ctx, "proj", 50, "", "cline", "")
		require.NoError(t, err)
		assert.Equal(t, 2, res.Total)
	})
	t.Run("Should filter by since inclusively", func(t *testing.T) {
		res, err := s.ReadNotes(ctx, "proj", 50, "", "", "2026-08-21T10:00:00.000000+00:00")
		require.NoError(t, err)
		assert.Equal(t, 2, res.Total)
	})
}

func TestServiceSearchNotes(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	seedNotes(t, s)

	t.Run("Should match case-insensitively on the body", func(t *testing.T) {
		res, err := s.SearchNotes(ctx, "proj", "llm TIMEOUT", 20)
		require.NoError(t, err)
		require.Equal(t, 1, res.Total)
		assert.Equal(t, "issue", res.Notes[0].Category)
		assert.Equal(t, "llm TIMEOUT", res.Query)
	})
	t.Run("Should return an empty result for no matches", func(t *testing.T) {
		res, err := s.SearchNotes(ctx, "proj", "kubernetes", 20)
		require.NoError(t, err)
		assert.Zero(t, res.Total)
		assert.Empty(t, res.Notes)
	})
}

func TestServiceReadSkipsMalformed(t *testing.T) {
	ctx := context.Background()
	s, store := newTestService(t)
	seedNotes(t, s)
	require.NoError(t, store.Put(ctx,
		"proj/live/20260823T100000_x_todo_ffffffff.md", "---\nbroken front matter"))

	res, err := s.ReadNotes(ctx, "proj", 50, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
}
