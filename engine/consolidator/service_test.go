package consolidator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livemem/livemem/engine/core"
	"github.com/livemem/livemem/engine/space"
	"github.com/livemem/livemem/engine/storage"
	"github.com/livemem/livemem/pkg/config"
)

type fakeCompleter struct {
	replies []string
	calls   [][]Message
	err     error
}

func (f *fakeCompleter) Complete(_ context.Context, msgs []Message) (*Completion, error) {
	f.calls = append(f.calls, append([]Message(nil), msgs...))
	if f.err != nil {
		return nil, f.err
	}
	i := len(f.calls) - 1
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	return &Completion{
		Content: f.replies[i],
		Usage:   Usage{PromptTokens: 1200, CompletionTokens: 300, TotalTokens: 1500},
	}, nil
}

func (f *fakeCompleter) Ping(context.Context) error { return nil }

func (f *fakeCompleter) Model() string { return "fake-model" }

const validReply = `{
	"bank_files": [
		{"filename": "overview.md", "action": "update", "content": "# Overview\nLocking is settled."},
		{"filename": "decisions.md", "action": "create", "content": "# Decisions\n- S3 locks"}
	],
	"synthesis": "Two notes about locking."
}`

func newTestService(t *testing.T, replies ...string) (*Service, *fakeCompleter, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	_, err := space.NewService(store).Create(
		context.Background(), "proj", "Demo", "# Rules\nKeep one overview file.", "")
	require.NoError(t, err)
	fake := &fakeCompleter{replies: replies}
	s := NewService(store, fake, config.Default())
	s.now = func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }
	return s, fake, store
}

func seedNote(t *testing.T, store *storage.MemoryStore, ts, agent, body string) string {
	t.Helper()
	key := fmt.Sprintf("proj/live/%s_%s_observation_deadbeef.md", ts, agent)
	require.NoError(t, store.Put(context.Background(), key, body))
	return key
}

func TestServiceConsolidate(t *testing.T) {
	ctx := context.Background()
	t.Run("Should consolidate notes into the bank and delete them", func(t *testing.T) {
		s, fake, store := newTestService(t, validReply)
		seedNote(t, store, "20260824T100000", "alice", "Lock design chosen.")
		seedNote(t, store, "20260824T110000", "alice", "Lock design confirmed.")
		require.NoError(t, store.Put(ctx, "proj/bank/overview.md", "# Overview\nOld."))
		require.NoError(t, store.Put(ctx, "proj/bank/glossary.md", "# Glossary"))

		res, err := s.Consolidate(ctx, "proj", "")
		require.NoError(t, err)
		assert.Equal(t, core.StatusOK, res.Status)
		assert.Equal(t, 2, res.NotesProcessed)
		assert.Equal(t, 1, res.BankFilesCreated)
		assert.Equal(t, 1, res.BankFilesUpdated)
		assert.Equal(t, 1, res.BankFilesUnchanged)
		assert.Equal(t, len("Two notes about locking."), res.SynthesisSize)
		assert.Equal(t, 1500, res.LLMTokensUsed)
		assert.Equal(t, 1200, res.LLMPromptTokens)
		assert.Equal(t, 300, res.LLMCompletionTokens)
		require.Len(t, fake.calls, 1)

		overview, err := store.Get(ctx, "proj/bank/overview.md")
		require.NoError(t, err)
		assert.Contains(t, overview, "Locking is settled.")
		_, err = store.Get(ctx, "proj/bank/decisions.md")
		require.NoError(t, err)

		synthesis, err := store.Get(ctx, "proj/_synthesis.md")
		require.NoError(t, err)
		assert.Contains(t, synthesis, "consolidated_at:")
		assert.Contains(t, synthesis, "notes_processed: 2")
		assert.Contains(t, synthesis, "Two notes about locking.")

		meta, err := space.LoadMeta(ctx, store, "proj")
		require.NoError(t, err)
		assert.Equal(t, 1, meta.ConsolidationCount)
		assert.Equal(t, 2, meta.TotalNotesProcessed)
		assert.Equal(t, "2026-08-24T12:00:00.000000+00:00", meta.LastConsolidation)

		notes, err := store.ListAndGet(ctx, "proj/live/", false)
		require.NoError(t, err)
		assert.Empty(t, notes)
	})
	t.Run("Should return ok without calling the LLM when there is nothing to do", func(t *testing.T) {
		s, fake, _ := newTestService(t, validReply)
		res, err := s.Consolidate(ctx, "proj", "")
		require.NoError(t, err)
		assert.Equal(t, core.StatusOK, res.Status)
		assert.Equal(t, "No new notes to consolidate", res.Message)
		assert.Zero(t, res.NotesProcessed)
		assert.Empty(t, fake.calls)
	})
	t.Run("Should consolidate only the requesting agent's notes", func(t *testing.T) {
		s, fake, store := newTestService(t, validReply)
		seedNote(t, store, "20260824T100000", "alice", "Alice saw something.")
		seedNote(t, store, "20260824T100500", "bob", "Bob saw something else.")
		seedNote(t, store, "20260824T101000", "alice", "Alice again.")

		res, err := s.Consolidate(ctx, "proj", "alice")
		require.NoError(t, err)
		assert.Equal(t, 2, res.NotesProcessed)
		assert.Equal(t, "alice", res.Agent)

		prompt := fake.calls[0][1].Content
		assert.Contains(t, prompt, "Alice saw something.")
		assert.NotContains(t, prompt, "Bob saw something else.")

		remaining, err := store.ListAndGet(ctx, "proj/live/", false)
		require.NoError(t, err)
		require.Len(t, remaining, 1)
		assert.Contains(t, remaining[0].Key, "_bob_")
	})
	t.Run("Should retry once with a corrective nudge on invalid JSON", func(t *testing.T) {
		s, fake, store := newTestService(t, "I cannot do JSON today.", validReply)
		seedNote(t, store, "20260824T100000", "alice", "One note.")

		res, err := s.Consolidate(ctx, "proj", "")
		require.NoError(t, err)
		assert.Equal(t, core.StatusOK, res.Status)
		require.Len(t, fake.calls, 2)
		retry := fake.calls[1]
		require.Len(t, retry, 4)
		assert.Equal(t, RoleAssistant, retry[2].Role)
		assert.Equal(t, "I cannot do JSON today.", retry[2].Content)
		assert.Equal(t, RoleUser, retry[3].Role)
		assert.Equal(t, retryNudge, retry[3].Content)
	})
	t.Run("Should give up after the retry and leave notes intact", func(t *testing.T) {
		s, fake, store := newTestService(t, "garbage", "still garbage")
		key := seedNote(t, store, "20260824T100000", "alice", "One note.")

		_, err := s.Consolidate(ctx, "proj", "")
		require.Error(t, err)
		env := core.AsEnvelope(err)
		assert.Equal(t, core.StatusError, env.Status)
		assert.Equal(t, "LLM returned invalid JSON after retry", env.Message)
		assert.Len(t, fake.calls, 2)

		_, err = store.Get(ctx, key)
		assert.NoError(t, err)
		exists, err := store.Exists(ctx, "proj/_synthesis.md")
		require.NoError(t, err)
		assert.False(t, exists)
	})
	t.Run("Should cap the batch oldest-first and report the remainder", func(t *testing.T) {
		s, _, store := newTestService(t, validReply)
		s.maxNotes = 2
		seedNote(t, store, "20260824T100000", "alice", "first")
		seedNote(t, store, "20260824T110000", "alice", "second")
		newest := seedNote(t, store, "20260824T120000", "alice", "third")

		res, err := s.Consolidate(ctx, "proj", "")
		require.NoError(t, err)
		assert.Equal(t, 2, res.NotesProcessed)
		assert.Equal(t, 1, res.NotesRemaining)

		remaining, err := store.ListAndGet(ctx, "proj/live/", false)
		require.NoError(t, err)
		require.Len(t, remaining, 1)
		assert.Equal(t, newest, remaining[0].Key)
	})
	t.Run("Should skip unsafe and unchanged bank entries", func(t *testing.T) {
		reply := `{
			"bank_files": [
				{"filename": "../evil.md", "action": "create", "content": "x"},
				{"filename": "notes.md", "action": "unchanged"},
				{"filename": "ok.md", "action": "create", "content": "fine"}
			],
			"synthesis": "s"
		}`
		s, _, store := newTestService(t, reply)
		seedNote(t, store, "20260824T100000", "alice", "One note.")

		res, err := s.Consolidate(ctx, "proj", "")
		require.NoError(t, err)
		assert.Equal(t, 1, res.BankFilesCreated)
		assert.Zero(t, res.BankFilesUpdated)

		_, err = store.Get(ctx, "proj/bank/ok.md")
		require.NoError(t, err)
		exists, err := store.Exists(ctx, "proj/bank/../evil.md")
		require.NoError(t, err)
		assert.False(t, exists)
	})
	t.Run("Should fail when the LLM transport errors", func(t *testing.T) {
		s, fake, store := newTestService(t)
		fake.err = errors.New("connection refused")
		key := seedNote(t, store, "20260824T100000", "alice", "One note.")

		_, err := s.Consolidate(ctx, "proj", "")
		require.Error(t, err)
		env := core.AsEnvelope(err)
		assert.Equal(t, core.StatusError, env.Status)
		assert.Contains(t, env.Message, "LLM call failed")
		_, err = store.Get(ctx, key)
		assert.NoError(t, err)
	})
	t.Run("Should report a missing space", func(t *testing.T) {
		s, _, _ := newTestService(t, validReply)
		_, err := s.Consolidate(ctx, "ghost", "")
		require.Error(t, err)
		assert.Equal(t, core.StatusNotFound, core.AsEnvelope(err).Status)
	})
	t.Run("Should surface an unconfigured LLM", func(t *testing.T) {
		store := storage.NewMemoryStore()
		s := NewService(store, nil, config.Default())
		_, err := s.Consolidate(ctx, "proj", "")
		require.Error(t, err)
		assert.Contains(t, core.AsEnvelope(err).Message, "LLM is not configured")
	})
	t.Run("Should feed the previous synthesis body to the prompt without its header", func(t *testing.T) {
		s, fake, store := newTestService(t, validReply)
		doc, err := renderSynthesis("Old residual summary.", "2026-08-20T09:00:00.000000+00:00", 3)
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, "proj/_synthesis.md", doc))
		seedNote(t, store, "20260824T100000", "alice", "One note.")

		_, err = s.Consolidate(ctx, "proj", "")
		require.NoError(t, err)
		prompt := fake.calls[0][1].Content
		assert.Contains(t, prompt, "Old residual summary.")
		assert.NotContains(t, prompt, "consolidated_at")
	})
}

func TestSynthesisHeader(t *testing.T) {
	t.Run("Should round-trip header and body", func(t *testing.T) {
		doc, err := renderSynthesis("The body.\n\nMore body.", "2026-08-24T12:00:00.000000+00:00", 7)
		require.NoError(t, err)
		head, body := splitSynthesis(doc)
		assert.Equal(t, "2026-08-24T12:00:00.000000+00:00", head.ConsolidatedAt)
		assert.Equal(t, 7, head.NotesProcessed)
		assert.Equal(t, "The body.\n\nMore body.", body)
	})
	t.Run("Should pass documents without front-matter through", func(t *testing.T) {
		head, body := splitSynthesis("Just text.")
		assert.Zero(t, head.NotesProcessed)
		assert.Equal(t, "Just text.", body)
	})
}

func TestSafeBankFilename(t *testing.T) {
	t.Run("Should accept plain markdown names", func(t *testing.T) {
		name, err := safeBankFilename(" overview.md ")
		require.NoError(t, err)
		assert.Equal(t, "overview.md", name)
	})
	t.Run("Should reject traversal and separators", func(t *testing.T) {
		for _, bad := range []string{"", "../up.md", "a/b.md", `a\b.md`, "x..md"} {
			_, err := safeBankFilename(bad)
			assert.Error(t, err, bad)
		}
	})
}
