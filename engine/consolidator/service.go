// Package consolidator turns a space's live notes into durable bank files
// through a single LLM exchange. Agents never write the bank themselves; the
// model does, following the space rules, and the processed notes are deleted
// only after every write landed.
package consolidator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/livemem/livemem/engine/core"
	"github.com/livemem/livemem/engine/note"
	"github.com/livemem/livemem/engine/space"
	"github.com/livemem/livemem/engine/storage"
	"github.com/livemem/livemem/pkg/config"
	"github.com/livemem/livemem/pkg/logger"
)

// Service runs the consolidation pipeline: collect, prompt, complete, commit.
type Service struct {
	store     storage.Store
	completer Completer
	maxNotes  int
	now       func() time.Time
}

func NewService(store storage.Store, completer Completer, cfg *config.Config) *Service {
	return &Service{
		store:     store,
		completer: completer,
		maxNotes:  cfg.ConsolidationMaxNotes,
		now:       time.Now,
	}
}

// Result carries the consolidation metrics.
type Result struct {
	Status              core.Status `json:"status"`
	SpaceID             string      `json:"space_id"`
	Agent               string      `json:"agent,omitempty"`
	Message             string      `json:"message,omitempty"`
	NotesProcessed      int         `json:"notes_processed"`
	NotesRemaining      int         `json:"notes_remaining,omitempty"`
	BankFilesUpdated    int         `json:"bank_files_updated"`
	BankFilesCreated    int         `json:"bank_files_created"`
	BankFilesUnchanged  int         `json:"bank_files_unchanged"`
	SynthesisSize       int         `json:"synthesis_size"`
	LLMTokensUsed       int         `json:"llm_tokens_used"`
	LLMPromptTokens     int         `json:"llm_prompt_tokens"`
	LLMCompletionTokens int         `json:"llm_completion_tokens"`
	DurationSeconds     float64     `json:"duration_seconds"`
}

// Consolidate runs the full pipeline for one space. When agent is set, only
// that agent's notes enter the batch; everyone else's stay in live/ untouched.
// Callers serialize consolidations per space, the service itself does not lock.
func (s *Service) Consolidate(ctx context.Context, spaceID, agent string) (*Result, error) {
	if s.completer == nil {
		return nil, core.Failf("LLM is not configured — set LLMAAS_API_URL and LLMAAS_API_KEY")
	}
	t0 := s.now()
	in, err := s.collect(ctx, spaceID, agent)
	if err != nil {
		return nil, err
	}
	if len(in.notes) == 0 {
		return &Result{
			Status:  core.StatusOK,
			SpaceID: spaceID,
			Agent:   agent,
			Message: "No new notes to consolidate",
		}, nil
	}

	msgs, err := buildPrompt(in.promptData(spaceID))
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx)
	log.Info("consolidation started",
		"space_id", spaceID, "agent", agent, "notes", len(in.notes),
		"bank_files", len(in.bank), "prompt_tokens_est", estimateTokens(msgs))

	resp, usage, err := s.exchange(ctx, msgs)
	if err != nil {
		return nil, err
	}

	result, err := s.commit(ctx, spaceID, in, resp, usage)
	if err != nil {
		return nil, err
	}
	result.Agent = agent
	result.NotesRemaining = in.notesRemaining
	result.DurationSeconds = math.Round(s.now().Sub(t0).Seconds()*10) / 10
	log.Info("consolidation finished",
		"space_id", spaceID, "notes_processed", result.NotesProcessed,
		"bank_created", result.BankFilesCreated, "bank_updated", result.BankFilesUpdated,
		"llm_tokens", result.LLMTokensUsed, "duration_seconds", result.DurationSeconds)
	return result, nil
}

// inputs is everything the prompt needs, read in one pass.
type inputs struct {
	rules          string
	synthesis      string
	notes          []storage.Object
	notesKeys      []string
	notesRemaining int
	bank           []storage.Object
}

func (in *inputs) promptData(spaceID string) *promptData {
	data := &promptData{
		SpaceID:        spaceID,
		Rules:          in.rules,
		Synthesis:      in.synthesis,
		NotesRemaining: in.notesRemaining,
	}
	for _, n := range in.notes {
		data.Notes = append(data.Notes, promptNote{Content: n.Content})
	}
	for _, b := range in.bank {
		data.BankFiles = append(data.BankFiles, promptBankFile{
			Name:    path.Base(b.Key),
			Content: b.Content,
		})
	}
	return data
}

func (s *Service) collect(ctx context.Context, spaceID, agent string) (*inputs, error) {
	if err := space.Require(ctx, s.store, spaceID); err != nil {
		return nil, err
	}
	in := &inputs{}

	rules, err := s.store.Get(ctx, space.RulesKey(spaceID))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to read rules for space %q: %w", spaceID, err)
	}
	in.rules = rules

	synthesis, err := s.store.Get(ctx, space.SynthesisKey(spaceID))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to read synthesis for space %q: %w", spaceID, err)
	}
	_, in.synthesis = splitSynthesis(synthesis)

	notes, err := s.store.ListAndGet(ctx, space.LivePrefix(spaceID), false)
	if err != nil {
		return nil, fmt.Errorf("failed to read live notes for space %q: %w", spaceID, err)
	}
	// Key order is chronological order thanks to the timestamp prefix.
	sort.Slice(notes, func(i, j int) bool { return notes[i].Key < notes[j].Key })
	if agent != "" {
		filtered := notes[:0]
		for _, n := range notes {
			if note.MatchesAgent(path.Base(n.Key), agent) {
				filtered = append(filtered, n)
			}
		}
		notes = filtered
	}
	// Oldest first when the batch is capped; the rest waits for the next run.
	if len(notes) > s.maxNotes {
		in.notesRemaining = len(notes) - s.maxNotes
		notes = notes[:s.maxNotes]
	}
	in.notes = notes
	for _, n := range notes {
		in.notesKeys = append(in.notesKeys, n.Key)
	}

	bank, err := s.store.ListAndGet(ctx, space.BankPrefix(spaceID), false)
	if err != nil {
		return nil, fmt.Errorf("failed to read bank for space %q: %w", spaceID, err)
	}
	in.bank = bank
	return in, nil
}

const retryNudge = "Your reply is not valid JSON for the required structure. " +
	"Return ONLY a valid JSON object with \"bank_files\" and \"synthesis\"."

// exchange calls the model, with one retry when the reply does not parse or
// does not validate. The retry extends the conversation with the bad reply
// and a corrective nudge instead of resending blind.
func (s *Service) exchange(ctx context.Context, msgs []Message) (*Response, Usage, error) {
	var usage Usage
	for attempt := 0; attempt < 2; attempt++ {
		completion, err := s.completer.Complete(ctx, msgs)
		if err != nil {
			return nil, usage, core.Failf("LLM call failed: %s", err)
		}
		usage = completion.Usage
		resp, perr := parseResponse(completion.Content)
		if perr == nil {
			return resp, usage, nil
		}
		if attempt == 0 {
			logger.FromContext(ctx).Warn("LLM reply rejected, retrying once", "error", perr)
			msgs = append(msgs,
				Message{Role: RoleAssistant, Content: completion.Content},
				Message{Role: RoleUser, Content: retryNudge},
			)
		}
	}
	return nil, usage, core.Failf("LLM returned invalid JSON after retry")
}

// commit writes in crash-safe order: bank files, then synthesis, then meta,
// and deletes the processed notes last. A crash mid-commit can duplicate
// content into the next run but never loses notes.
func (s *Service) commit(
	ctx context.Context,
	spaceID string,
	in *inputs,
	resp *Response,
	usage Usage,
) (*Result, error) {
	log := logger.FromContext(ctx)
	created, updated := 0, 0
	for _, bf := range resp.BankFiles {
		if bf.Action == ActionUnchanged {
			continue
		}
		filename, err := safeBankFilename(bf.Filename)
		if err != nil {
			log.Warn("skipping bank file from LLM", "filename", bf.Filename, "error", err)
			continue
		}
		if bf.Content == "" {
			continue
		}
		if err := s.store.Put(ctx, space.BankPrefix(spaceID)+filename, bf.Content); err != nil {
			return nil, fmt.Errorf("failed to write bank file %q: %w", filename, err)
		}
		if bf.Action == ActionCreate {
			created++
		} else {
			updated++
		}
	}

	notesCount := len(in.notes)
	now := core.ISOFormat(s.now().UTC())
	synthesisDoc, err := renderSynthesis(resp.Synthesis, now, notesCount)
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, space.SynthesisKey(spaceID), synthesisDoc); err != nil {
		return nil, fmt.Errorf("failed to write synthesis for space %q: %w", spaceID, err)
	}

	meta, err := space.LoadMeta(ctx, s.store, spaceID)
	if err != nil {
		return nil, err
	}
	meta.LastConsolidation = now
	meta.ConsolidationCount++
	meta.TotalNotesProcessed += notesCount
	if err := space.SaveMeta(ctx, s.store, meta); err != nil {
		return nil, err
	}

	// Notes go last, best-effort: leftovers are re-consolidated next run.
	if _, err := s.store.DeleteMany(ctx, in.notesKeys); err != nil {
		log.Warn("failed to delete processed notes", "space_id", spaceID, "error", err)
	}

	unchanged, err := s.countUnchanged(ctx, spaceID, created+updated)
	if err != nil {
		return nil, err
	}
	return &Result{
		Status:              core.StatusOK,
		SpaceID:             spaceID,
		NotesProcessed:      notesCount,
		BankFilesUpdated:    updated,
		BankFilesCreated:    created,
		BankFilesUnchanged:  unchanged,
		SynthesisSize:       len(resp.Synthesis),
		LLMTokensUsed:       usage.TotalTokens,
		LLMPromptTokens:     usage.PromptTokens,
		LLMCompletionTokens: usage.CompletionTokens,
	}, nil
}

func (s *Service) countUnchanged(ctx context.Context, spaceID string, touched int) (int, error) {
	objects, err := s.store.List(ctx, space.BankPrefix(spaceID))
	if err != nil {
		return 0, fmt.Errorf("failed to list bank for space %q: %w", spaceID, err)
	}
	total := 0
	for _, o := range objects {
		if !storage.IsKeep(o.Key) {
			total++
		}
	}
	if unchanged := total - touched; unchanged > 0 {
		return unchanged, nil
	}
	return 0, nil
}

// safeBankFilename rejects names that would escape the bank prefix.
func safeBankFilename(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("empty filename")
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", fmt.Errorf("unsafe filename %q", name)
	}
	return name, nil
}

// synthesisHeader is the front-matter of _synthesis.md.
type synthesisHeader struct {
	ConsolidatedAt string `yaml:"consolidated_at"`
	NotesProcessed int    `yaml:"notes_processed"`
}

func renderSynthesis(body, consolidatedAt string, notesProcessed int) (string, error) {
	head, err := yaml.Marshal(synthesisHeader{
		ConsolidatedAt: consolidatedAt,
		NotesProcessed: notesProcessed,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render synthesis header: %w", err)
	}
	return "---\n" + string(head) + "---\n\n" + body, nil
}

// splitSynthesis separates the front-matter from the synthesis body. Documents
// without a parseable header come back whole, as the body.
func splitSynthesis(doc string) (synthesisHeader, string) {
	var head synthesisHeader
	if !strings.HasPrefix(doc, "---\n") {
		return head, doc
	}
	rest := doc[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end == -1 {
		return head, doc
	}
	if err := yaml.Unmarshal([]byte(rest[:end]), &head); err != nil {
		return synthesisHeader{}, doc
	}
	return head, strings.TrimLeft(rest[end+len("\n---"):], "\n")
}
