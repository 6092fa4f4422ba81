package bank

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livemem/livemem/engine/consolidator"
	"github.com/livemem/livemem/engine/core"
	"github.com/livemem/livemem/engine/locks"
	"github.com/livemem/livemem/engine/space"
	"github.com/livemem/livemem/engine/storage"
	"github.com/livemem/livemem/pkg/config"
)

type stubCompleter struct {
	reply string
	calls int
}

func (c *stubCompleter) Complete(context.Context, []consolidator.Message) (*consolidator.Completion, error) {
	c.calls++
	return &consolidator.Completion{Content: c.reply}, nil
}

func (c *stubCompleter) Ping(context.Context) error { return nil }

func (c *stubCompleter) Model() string { return "stub" }

func newTestService(t *testing.T) (*Service, *storage.MemoryStore, *locks.Manager) {
	t.Helper()
	store := storage.NewMemoryStore()
	_, err := space.NewService(store).Create(context.Background(), "proj", "Demo", "rules", "")
	require.NoError(t, err)
	stub := &stubCompleter{reply: `{"bank_files": [], "synthesis": "s"}`}
	manager := locks.NewManager()
	cons := consolidator.NewService(store, stub, config.Default())
	return NewService(store, manager, cons), store, manager
}

func TestServiceRead(t *testing.T) {
	ctx := context.Background()
	t.Run("Should return one file with its byte size", func(t *testing.T) {
		s, store, _ := newTestService(t)
		require.NoError(t, store.Put(ctx, "proj/bank/overview.md", "# Overview\n"))
		res, err := s.Read(ctx, "proj", "overview.md")
		require.NoError(t, err)
		assert.Equal(t, core.StatusOK, res.Status)
		assert.Equal(t, "overview.md", res.Filename)
		assert.Equal(t, "# Overview\n", res.Content)
		assert.Equal(t, 11, res.Size)
	})
	t.Run("Should report a missing file", func(t *testing.T) {
		s, _, _ := newTestService(t)
		_, err := s.Read(ctx, "proj", "ghost.md")
		require.Error(t, err)
		env := core.AsEnvelope(err)
		assert.Equal(t, core.StatusNotFound, env.Status)
		assert.Equal(t, "File 'ghost.md' not found in space 'proj'", env.Message)
	})
	t.Run("Should reject filenames with separators", func(t *testing.T) {
		s, _, _ := newTestService(t)
		_, err := s.Read(ctx, "proj", "../_meta.json")
		require.Error(t, err)
		assert.Equal(t, core.StatusError, core.AsEnvelope(err).Status)
	})
}

func TestServiceReadAll(t *testing.T) {
	ctx := context.Background()
	t.Run("Should return every file without the keep marker", func(t *testing.T) {
		s, store, _ := newTestService(t)
		require.NoError(t, store.Put(ctx, "proj/bank/a.md", "aaaa"))
		require.NoError(t, store.Put(ctx, "proj/bank/b.md", "bb"))
		res, err := s.ReadAll(ctx, "proj")
		require.NoError(t, err)
		assert.Equal(t, 2, res.FileCount)
		assert.Equal(t, int64(6), res.TotalSize)
		names := []string{res.Files[0].Filename, res.Files[1].Filename}
		assert.ElementsMatch(t, []string{"a.md", "b.md"}, names)
	})
	t.Run("Should report a missing space", func(t *testing.T) {
		s, _, _ := newTestService(t)
		_, err := s.ReadAll(ctx, "ghost")
		require.Error(t, err)
		assert.Equal(t, core.StatusNotFound, core.AsEnvelope(err).Status)
	})
}

func TestServiceList(t *testing.T) {
	ctx := context.Background()
	t.Run("Should list names and timestamps without content", func(t *testing.T) {
		s, store, _ := newTestService(t)
		require.NoError(t, store.Put(ctx, "proj/bank/overview.md", "# Overview"))
		store.SetModTime("proj/bank/overview.md", time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC))
		res, err := s.List(ctx, "proj")
		require.NoError(t, err)
		require.Equal(t, 1, res.FileCount)
		assert.Equal(t, "overview.md", res.Files[0].Filename)
		assert.Equal(t, int64(10), res.Files[0].Size)
		assert.Equal(t, "2026-08-24T09:30:00.000000+00:00", res.Files[0].LastModified)
	})
	t.Run("Should return an empty list for a fresh space", func(t *testing.T) {
		s, _, _ := newTestService(t)
		res, err := s.List(ctx, "proj")
		require.NoError(t, err)
		assert.Zero(t, res.FileCount)
		assert.Empty(t, res.Files)
	})
}

func TestServiceConsolidate(t *testing.T) {
	ctx := context.Background()
	t.Run("Should answer conflict while a consolidation runs", func(t *testing.T) {
		s, _, manager := newTestService(t)
		require.True(t, manager.Consolidation("proj").TryLock())
		defer manager.Consolidation("proj").Unlock()

		_, err := s.Consolidate(ctx, "proj", "")
		require.Error(t, err)
		env := core.AsEnvelope(err)
		assert.Equal(t, core.StatusConflict, env.Status)
		assert.Contains(t, env.Message, "already in progress for 'proj'")
	})
	t.Run("Should release the lock after a run", func(t *testing.T) {
		s, _, manager := newTestService(t)
		res, err := s.Consolidate(ctx, "proj", "")
		require.NoError(t, err)
		assert.Equal(t, core.StatusOK, res.Status)
		assert.Equal(t, "No new notes to consolidate", res.Message)
		assert.False(t, manager.Consolidation("proj").Held())
	})
	t.Run("Should release the lock after a failure", func(t *testing.T) {
		s, _, manager := newTestService(t)
		_, err := s.Consolidate(ctx, "ghost", "")
		require.Error(t, err)
		assert.False(t, manager.Consolidation("ghost").Held())
	})
}
