package space

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/livemem/livemem/engine/core"
	"github.com/livemem/livemem/engine/storage"
	"github.com/livemem/livemem/pkg/archive"
	"github.com/livemem/livemem/pkg/logger"
)

// Service implements the space_* tool family on top of the object store.
type Service struct {
	store storage.Store
	now   func() time.Time
}

func NewService(store storage.Store) *Service {
	return &Service{store: store, now: time.Now}
}

type CreateResult struct {
	Status      core.Status `json:"status"`
	SpaceID     string      `json:"space_id"`
	Description string      `json:"description"`
	RulesSize   int         `json:"rules_size"`
	CreatedAt   string      `json:"created_at"`
}

// Create provisions a new space: metadata, immutable rules and the two keep
// markers that make the live/ and bank/ folders visible to prefix listings.
func (s *Service) Create(ctx context.Context, spaceID, description, rules, owner string) (*CreateResult, error) {
	if !ValidID(spaceID) {
		return nil, core.Failf(
			"Invalid space_id '%s'. Expected alphanumeric plus dashes/underscores, 1-64 chars.",
			spaceID)
	}
	exists, err := Exists(ctx, s.store, spaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to check space %q: %w", spaceID, err)
	}
	if exists {
		return nil, core.AlreadyExistsf("Space '%s' already exists", spaceID)
	}

	now := core.ISOFormat(s.now())
	meta := &Meta{
		SpaceID:     spaceID,
		Description: description,
		Owner:       owner,
		CreatedAt:   now,
		Version:     1,
	}
	if err := SaveMeta(ctx, s.store, meta); err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, RulesKey(spaceID), rules); err != nil {
		return nil, fmt.Errorf("failed to write rules for space %q: %w", spaceID, err)
	}
	if err := s.store.Put(ctx, LivePrefix(spaceID)+".keep", ""); err != nil {
		return nil, fmt.Errorf("failed to init live folder for space %q: %w", spaceID, err)
	}
	if err := s.store.Put(ctx, BankPrefix(spaceID)+".keep", ""); err != nil {
		return nil, fmt.Errorf("failed to init bank folder for space %q: %w", spaceID, err)
	}

	logger.FromContext(ctx).Info("space created", "space_id", spaceID, "owner", owner)
	return &CreateResult{
		Status:      core.StatusCreated,
		SpaceID:     spaceID,
		Description: description,
		RulesSize:   len(rules),
		CreatedAt:   now,
	}, nil
}

type ListedSpace struct {
	SpaceID        string `json:"space_id"`
	Description    string `json:"description"`
	Owner          string `json:"owner"`
	CreatedAt      string `json:"created_at"`
	LiveNotesCount int    `json:"live_notes_count"`
	BankFilesCount int    `json:"bank_files_count"`
}

type ListResult struct {
	Status core.Status   `json:"status"`
	Spaces []ListedSpace `json:"spaces"`
	Total  int           `json:"total"`
}

// List enumerates existing spaces with their note and bank counts. A nil
// allowed slice means every space; otherwise only the named ones appear.
// Root prefixes without a _meta.json are not spaces and are skipped.
func (s *Service) List(ctx context.Context, allowed []string) (*ListResult, error) {
	prefixes, err := s.store.ListPrefixes(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list spaces: %w", err)
	}
	spaces := []ListedSpace{}
	for _, prefix := range prefixes {
		if strings.HasPrefix(prefix, "_") {
			continue
		}
		sid := strings.TrimSuffix(prefix, "/")
		if allowed != nil && !contains(allowed, sid) {
			continue
		}
		var meta Meta
		if err := s.store.GetJSON(ctx, MetaKey(sid), &meta); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to load meta for space %q: %w", sid, err)
		}
		liveCount, _, err := s.countPrefix(ctx, LivePrefix(sid))
		if err != nil {
			return nil, err
		}
		bankCount, _, err := s.countPrefix(ctx, BankPrefix(sid))
		if err != nil {
			return nil, err
		}
		spaces = append(spaces, ListedSpace{
			SpaceID:        sid,
			Description:    meta.Description,
			Owner:          meta.Owner,
			CreatedAt:      meta.CreatedAt,
			LiveNotesCount: liveCount,
			BankFilesCount: bankCount,
		})
	}
	return &ListResult{Status: core.StatusOK, Spaces: spaces, Total: len(spaces)}, nil
}

type LiveStats struct {
	NotesCount int   `json:"notes_count"`
	TotalSize  int64 `json:"total_size"`
}

type BankStats struct {
	FilesCount int      `json:"files_count"`
	TotalSize  int64    `json:"total_size"`
	Files      []string `json:"files"`
}

type InfoResult struct {
	Status             core.Status `json:"status"`
	SpaceID            string      `json:"space_id"`
	Description        string      `json:"description"`
	Owner              string      `json:"owner"`
	CreatedAt          string      `json:"created_at"`
	Live               LiveStats   `json:"live"`
	Bank               BankStats   `json:"bank"`
	LastConsolidation  string      `json:"last_consolidation,omitempty"`
	ConsolidationCount int         `json:"consolidation_count"`
	SynthesisExists    bool        `json:"synthesis_exists"`
}

// Info reports detailed stats for one space.
func (s *Service) Info(ctx context.Context, spaceID string) (*InfoResult, error) {
	meta, err := LoadMeta(ctx, s.store, spaceID)
	if err != nil {
		return nil, err
	}
	liveCount, liveSize, err := s.countPrefix(ctx, LivePrefix(spaceID))
	if err != nil {
		return nil, err
	}
	bankObjects, err := s.store.List(ctx, BankPrefix(spaceID))
	if err != nil {
		return nil, fmt.Errorf("failed to list bank for space %q: %w", spaceID, err)
	}
	bank := BankStats{Files: []string{}}
	for _, o := range bankObjects {
		if storage.IsKeep(o.Key) {
			continue
		}
		bank.FilesCount++
		bank.TotalSize += o.Size
		bank.Files = append(bank.Files, baseName(o.Key))
	}
	synthesisExists, err := s.store.Exists(ctx, SynthesisKey(spaceID))
	if err != nil {
		return nil, fmt.Errorf("failed to check synthesis for space %q: %w", spaceID, err)
	}
	return &InfoResult{
		Status:             core.StatusOK,
		SpaceID:            spaceID,
		Description:        meta.Description,
		Owner:              meta.Owner,
		CreatedAt:          meta.CreatedAt,
		Live:               LiveStats{NotesCount: liveCount, TotalSize: liveSize},
		Bank:               bank,
		LastConsolidation:  meta.LastConsolidation,
		ConsolidationCount: meta.ConsolidationCount,
		SynthesisExists:    synthesisExists,
	}, nil
}

type RulesResult struct {
	Status  core.Status `json:"status"`
	SpaceID string      `json:"space_id"`
	Rules   string      `json:"rules"`
}

// Rules returns the immutable rules document of a space.
func (s *Service) Rules(ctx context.Context, spaceID string) (*RulesResult, error) {
	rules, err := s.store.Get(ctx, RulesKey(spaceID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, core.NotFoundf("Space '%s' not found", spaceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rules for space %q: %w", spaceID, err)
	}
	return &RulesResult{Status: core.StatusOK, SpaceID: spaceID, Rules: rules}, nil
}

// SummaryFile is one bank file inlined into a summary.
type SummaryFile struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Size     int64  `json:"size"`
}

type SummaryResult struct {
	Status        core.Status   `json:"status"`
	SpaceID       string        `json:"space_id"`
	Description   string        `json:"description"`
	Rules         string        `json:"rules"`
	BankFiles     []SummaryFile `json:"bank_files"`
	BankFileCount int           `json:"bank_file_count"`
	Synthesis     *string       `json:"synthesis"`
}

// Summary bundles everything an agent needs on session start: description,
// rules, the full bank content and the synthesis when one exists.
func (s *Service) Summary(ctx context.Context, spaceID string) (*SummaryResult, error) {
	meta, err := LoadMeta(ctx, s.store, spaceID)
	if err != nil {
		return nil, err
	}
	rules, err := s.store.Get(ctx, RulesKey(spaceID))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to read rules for space %q: %w", spaceID, err)
	}
	bankObjects, err := s.store.ListAndGet(ctx, BankPrefix(spaceID), false)
	if err != nil {
		return nil, fmt.Errorf("failed to read bank for space %q: %w", spaceID, err)
	}
	files := make([]SummaryFile, 0, len(bankObjects))
	for _, o := range bankObjects {
		files = append(files, SummaryFile{
			Filename: baseName(o.Key),
			Content:  o.Content,
			Size:     o.Size,
		})
	}
	var synthesis *string
	if content, err := s.store.Get(ctx, SynthesisKey(spaceID)); err == nil {
		synthesis = &content
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to read synthesis for space %q: %w", spaceID, err)
	}
	return &SummaryResult{
		Status:        core.StatusOK,
		SpaceID:       spaceID,
		Description:   meta.Description,
		Rules:         rules,
		BankFiles:     files,
		BankFileCount: len(files),
		Synthesis:     synthesis,
	}, nil
}

type ExportResult struct {
	Status        core.Status `json:"status"`
	SpaceID       string      `json:"space_id"`
	ArchiveBase64 string      `json:"archive_base64"`
	ArchiveSize   int         `json:"archive_size"`
	FilesCount    int         `json:"files_count"`
}

// Export bundles every object of a space, keep markers included, into an
// inline base64 tar.gz.
func (s *Service) Export(ctx context.Context, spaceID string) (*ExportResult, error) {
	if err := Require(ctx, s.store, spaceID); err != nil {
		return nil, err
	}
	objects, err := s.store.ListAndGet(ctx, spaceID+"/", true)
	if err != nil {
		return nil, fmt.Errorf("failed to read space %q: %w", spaceID, err)
	}
	entries := make([]archive.Entry, 0, len(objects))
	for _, o := range objects {
		entries = append(entries, archive.Entry{
			Name:    strings.TrimPrefix(o.Key, spaceID+"/"),
			Content: []byte(o.Content),
		})
	}
	encoded, size, err := archive.TarGzBase64(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to archive space %q: %w", spaceID, err)
	}
	return &ExportResult{
		Status:        core.StatusOK,
		SpaceID:       spaceID,
		ArchiveBase64: encoded,
		ArchiveSize:   size,
		FilesCount:    len(entries),
	}, nil
}

type DeleteResult struct {
	Status       core.Status `json:"status"`
	SpaceID      string      `json:"space_id"`
	FilesDeleted int         `json:"files_deleted"`
}

// Delete removes a space and all of its data. Irreversible.
func (s *Service) Delete(ctx context.Context, spaceID string) (*DeleteResult, error) {
	if err := Require(ctx, s.store, spaceID); err != nil {
		return nil, err
	}
	objects, err := s.store.List(ctx, spaceID+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list space %q: %w", spaceID, err)
	}
	keys := make([]string, 0, len(objects))
	for _, o := range objects {
		keys = append(keys, o.Key)
	}
	deleted, err := s.store.DeleteMany(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to delete space %q: %w", spaceID, err)
	}
	logger.FromContext(ctx).Info("space deleted", "space_id", spaceID, "files_deleted", deleted)
	return &DeleteResult{Status: core.StatusDeleted, SpaceID: spaceID, FilesDeleted: deleted}, nil
}

func (s *Service) countPrefix(ctx context.Context, prefix string) (int, int64, error) {
	objects, err := s.store.List(ctx, prefix)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list %q: %w", prefix, err)
	}
	count := 0
	var size int64
	for _, o := range objects {
		if storage.IsKeep(o.Key) {
			continue
		}
		count++
		size += o.Size
	}
	return count, size, nil
}

func baseName(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
