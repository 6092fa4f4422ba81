// Package live implements the append-only note stream of a space. Notes are
// written one object per call, so concurrent agents never conflict; reads
// parse and filter the whole stream.
package live

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/livemem/livemem/engine/auth"
	"github.com/livemem/livemem/engine/core"
	"github.com/livemem/livemem/engine/note"
	"github.com/livemem/livemem/engine/space"
	"github.com/livemem/livemem/engine/storage"
	"github.com/livemem/livemem/pkg/logger"
)

// Service implements the live_* tool family.
type Service struct {
	store storage.Store
	now   func() time.Time
}

func NewService(store storage.Store) *Service {
	return &Service{store: store, now: time.Now}
}

type WriteResult struct {
	Status    core.Status `json:"status"`
	SpaceID   string      `json:"space_id"`
	Filename  string      `json:"filename"`
	Category  string      `json:"category"`
	Agent     string      `json:"agent"`
	Size      int         `json:"size"`
	Timestamp string      `json:"timestamp"`
}

// WriteNote appends one note. A single put, no locking. When agent is empty
// it is resolved from the caller's identity; tags arrive comma-separated.
func (s *Service) WriteNote(
	ctx context.Context,
	spaceID, category, content, agent, tags string,
) (*WriteResult, error) {
	if !note.ValidCategory(category) {
		return nil, core.Failf("Invalid category '%s'. Valid: %s",
			category, strings.Join(note.Categories, ", "))
	}
	if err := space.Require(ctx, s.store, spaceID); err != nil {
		return nil, err
	}
	if agent == "" {
		agent = auth.CurrentAgentName(ctx)
	}

	now := s.now().UTC()
	ts := core.ISOFormat(now)
	filename := note.BuildFilename(now, agent, category)
	doc := note.Document(spaceID, agent, category, content, note.ParseTags(tags), ts)

	key := space.LivePrefix(spaceID) + filename
	if err := s.store.Put(ctx, key, doc); err != nil {
		return nil, fmt.Errorf("failed to write note %q: %w", key, err)
	}

	logger.FromContext(ctx).Info("note written",
		"space_id", spaceID, "agent", agent, "category", category, "size", len(doc))
	return &WriteResult{
		Status:    core.StatusCreated,
		SpaceID:   spaceID,
		Filename:  filename,
		Category:  category,
		Agent:     agent,
		Size:      len(doc),
		Timestamp: ts,
	}, nil
}

type ReadResult struct {
	Status  core.Status `json:"status"`
	SpaceID string      `json:"space_id"`
	Notes   []note.Note `json:"notes"`
	Total   int         `json:"total"`
	HasMore bool        `json:"has_more"`
}

// ReadNotes returns recent notes, newest first. Filters are conjunctive;
// since compares front-matter timestamps as strings, which is sufficient for
// the fixed ISO format. Total counts the returned slice; HasMore tells the
// caller the limit cut something off.
func (s *Service) ReadNotes(
	ctx context.Context,
	spaceID string,
	limit int,
	category, agent, since string,
) (*ReadResult, error) {
	if err := space.Require(ctx, s.store, spaceID); err != nil {
		return nil, err
	}
	parsed, err := s.parseAll(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	filtered := parsed[:0]
	for _, n := range parsed {
		if category != "" && n.Category != category {
			continue
		}
		if agent != "" && n.Agent != agent {
			continue
		}
		if since != "" && n.Timestamp < since {
			continue
		}
		filtered = append(filtered, n)
	}
	notes, hasMore := truncate(filtered, limit)
	return &ReadResult{
		Status:  core.StatusOK,
		SpaceID: spaceID,
		Notes:   notes,
		Total:   len(notes),
		HasMore: hasMore,
	}, nil
}

type SearchResult struct {
	Status  core.Status `json:"status"`
	SpaceID string      `json:"space_id"`
	Query   string      `json:"query"`
	Notes   []note.Note `json:"notes"`
	Total   int         `json:"total"`
	HasMore bool        `json:"has_more"`
}

// SearchNotes matches a case-insensitive substring against note bodies.
func (s *Service) SearchNotes(
	ctx context.Context,
	spaceID, query string,
	limit int,
) (*SearchResult, error) {
	if err := space.Require(ctx, s.store, spaceID); err != nil {
		return nil, err
	}
	parsed, err := s.parseAll(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	matched := parsed[:0]
	for _, n := range parsed {
		if strings.Contains(strings.ToLower(n.Content), needle) {
			matched = append(matched, n)
		}
	}
	notes, hasMore := truncate(matched, limit)
	return &SearchResult{
		Status:  core.StatusOK,
		SpaceID: spaceID,
		Query:   query,
		Notes:   notes,
		Total:   len(notes),
		HasMore: hasMore,
	}, nil
}

// parseAll reads and parses every live note of a space, newest first.
// Malformed notes are skipped, never failed; partial corruption must not
// block the read path.
func (s *Service) parseAll(ctx context.Context, spaceID string) ([]note.Note, error) {
	objects, err := s.store.ListAndGet(ctx, space.LivePrefix(spaceID), false)
	if err != nil {
		return nil, fmt.Errorf("failed to read notes for space %q: %w", spaceID, err)
	}
	notes := make([]note.Note, 0, len(objects))
	for _, o := range objects {
		if n, ok := note.Parse(o.Key, o.Content); ok {
			notes = append(notes, n)
		}
	}
	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].Timestamp > notes[j].Timestamp
	})
	return notes, nil
}

func truncate(notes []note.Note, limit int) ([]note.Note, bool) {
	if limit < 0 {
		limit = 0
	}
	if len(notes) > limit {
		return notes[:limit], true
	}
	return notes, false
}
