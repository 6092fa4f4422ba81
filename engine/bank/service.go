// Package bank exposes the consolidated Memory Bank of a space: pure Markdown
// files maintained exclusively by the consolidation pipeline. Agents read the
// bank at session start; they never write it directly.
package bank

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/livemem/livemem/engine/consolidator"
	"github.com/livemem/livemem/engine/core"
	"github.com/livemem/livemem/engine/locks"
	"github.com/livemem/livemem/engine/space"
	"github.com/livemem/livemem/engine/storage"
)

// Service implements the bank_* tool family.
type Service struct {
	store storage.Store
	locks *locks.Manager
	cons  *consolidator.Service
}

func NewService(store storage.Store, locks *locks.Manager, cons *consolidator.Service) *Service {
	return &Service{store: store, locks: locks, cons: cons}
}

type ReadResult struct {
	Status   core.Status `json:"status"`
	SpaceID  string      `json:"space_id"`
	Filename string      `json:"filename"`
	Content  string      `json:"content"`
	Size     int         `json:"size"`
}

// Read returns one bank file.
func (s *Service) Read(ctx context.Context, spaceID, filename string) (*ReadResult, error) {
	if strings.ContainsAny(filename, "/\\") || filename == "" {
		return nil, core.Failf("Invalid filename '%s'", filename)
	}
	content, err := s.store.Get(ctx, space.BankPrefix(spaceID)+filename)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, core.NotFoundf("File '%s' not found in space '%s'", filename, spaceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bank file %q: %w", filename, err)
	}
	return &ReadResult{
		Status:   core.StatusOK,
		SpaceID:  spaceID,
		Filename: filename,
		Content:  content,
		Size:     len(content),
	}, nil
}

type File struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Size     int64  `json:"size"`
}

type ReadAllResult struct {
	Status    core.Status `json:"status"`
	SpaceID   string      `json:"space_id"`
	Files     []File      `json:"files"`
	TotalSize int64       `json:"total_size"`
	FileCount int         `json:"file_count"`
}

// ReadAll returns the whole bank in one call. This is the session-start tool:
// an agent loads its entire memory context with a single request.
func (s *Service) ReadAll(ctx context.Context, spaceID string) (*ReadAllResult, error) {
	if err := space.Require(ctx, s.store, spaceID); err != nil {
		return nil, err
	}
	objects, err := s.store.ListAndGet(ctx, space.BankPrefix(spaceID), false)
	if err != nil {
		return nil, fmt.Errorf("failed to read bank for space %q: %w", spaceID, err)
	}
	files := make([]File, 0, len(objects))
	var total int64
	for _, o := range objects {
		files = append(files, File{
			Filename: path.Base(o.Key),
			Content:  o.Content,
			Size:     o.Size,
		})
		total += o.Size
	}
	return &ReadAllResult{
		Status:    core.StatusOK,
		SpaceID:   spaceID,
		Files:     files,
		TotalSize: total,
		FileCount: len(files),
	}, nil
}

type FileInfo struct {
	Filename     string `json:"filename"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified"`
}

type ListResult struct {
	Status    core.Status `json:"status"`
	SpaceID   string      `json:"space_id"`
	Files     []FileInfo  `json:"files"`
	FileCount int         `json:"file_count"`
}

// List returns the bank structure without content.
func (s *Service) List(ctx context.Context, spaceID string) (*ListResult, error) {
	if err := space.Require(ctx, s.store, spaceID); err != nil {
		return nil, err
	}
	objects, err := s.store.List(ctx, space.BankPrefix(spaceID))
	if err != nil {
		return nil, fmt.Errorf("failed to list bank for space %q: %w", spaceID, err)
	}
	files := make([]FileInfo, 0, len(objects))
	for _, o := range objects {
		if storage.IsKeep(o.Key) {
			continue
		}
		files = append(files, FileInfo{
			Filename:     path.Base(o.Key),
			Size:         o.Size,
			LastModified: core.ISOFormat(o.LastModified),
		})
	}
	return &ListResult{
		Status:    core.StatusOK,
		SpaceID:   spaceID,
		Files:     files,
		FileCount: len(files),
	}, nil
}

// Consolidate triggers the LLM pipeline for one space, one run at a time. A
// busy space answers conflict instead of queueing, so agents retry later
// rather than pile up behind a long LLM call.
func (s *Service) Consolidate(ctx context.Context, spaceID, agent string) (*consolidator.Result, error) {
	mu := s.locks.Consolidation(spaceID)
	if !mu.TryLock() {
		return nil, core.Conflictf(
			"Consolidation already in progress for '%s'. Retry in a few minutes.", spaceID)
	}
	defer mu.Unlock()
	return s.cons.Consolidate(ctx, spaceID, agent)
}
