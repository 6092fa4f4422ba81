// Package backup snapshots whole spaces inside the bucket. A backup is a
// server-side copy of every object under {space}/ into
// _backups/{space}/{timestamp}/; no data leaves S3 unless someone downloads
// the archive.
package backup

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/livemem/livemem/engine/core"
	"github.com/livemem/livemem/engine/space"
	"github.com/livemem/livemem/engine/storage"
	"github.com/livemem/livemem/pkg/archive"
	"github.com/livemem/livemem/pkg/logger"
)

const (
	rootPrefix = "_backups/"
	// timestampLayout doubles as the backup name, so colons are out.
	timestampLayout = "2006-01-02T15-04-05"
	copyConcurrency = 8
)

// Service implements the backup_* tool family. Backup IDs are
// "{space_id}/{timestamp}".
type Service struct {
	store storage.Store
	now   func() time.Time
}

func NewService(store storage.Store) *Service {
	return &Service{store: store, now: time.Now}
}

func backupPrefix(spaceID, ts string) string {
	return rootPrefix + spaceID + "/" + ts + "/"
}

func parseID(backupID string) (spaceID, ts string, err error) {
	parts := strings.SplitN(backupID, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", core.Failf("Invalid backup_id '%s' (expected space_id/timestamp)", backupID)
	}
	return parts[0], parts[1], nil
}

type CreateResult struct {
	Status        core.Status `json:"status"`
	BackupID      string      `json:"backup_id"`
	SpaceID       string      `json:"space_id"`
	Timestamp     string      `json:"timestamp"`
	Description   string      `json:"description"`
	FilesBackedUp int         `json:"files_backed_up"`
	TotalSize     int64       `json:"total_size"`
}

// Create snapshots one space with server-side copies.
func (s *Service) Create(ctx context.Context, spaceID, description string) (*CreateResult, error) {
	if err := space.Require(ctx, s.store, spaceID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	ts := now.Format(timestampLayout)
	dest := backupPrefix(spaceID, ts)

	objects, err := s.store.List(ctx, spaceID+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list space %q: %w", spaceID, err)
	}
	var totalSize int64
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(copyConcurrency)
	for _, o := range objects {
		totalSize += o.Size
		group.Go(func() error {
			return s.store.Copy(gctx, o.Key, dest+strings.TrimPrefix(o.Key, spaceID+"/"))
		})
	}
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("failed to copy space %q into backup: %w", spaceID, err)
	}

	backupID := spaceID + "/" + ts
	logger.FromContext(ctx).Info("backup created",
		"backup_id", backupID, "files", len(objects), "total_size", totalSize)
	return &CreateResult{
		Status:        core.StatusCreated,
		BackupID:      backupID,
		SpaceID:       spaceID,
		Timestamp:     core.ISOFormat(now),
		Description:   description,
		FilesBackedUp: len(objects),
		TotalSize:     totalSize,
	}, nil
}

type Entry struct {
	BackupID  string `json:"backup_id"`
	SpaceID   string `json:"space_id"`
	Timestamp string `json:"timestamp"`
}

type ListResult struct {
	Status  core.Status `json:"status"`
	Backups []Entry     `json:"backups"`
	Total   int         `json:"total"`
}

// List enumerates backups, for one space or all of them. Two prefix levels:
// space, then timestamp.
func (s *Service) List(ctx context.Context, spaceID string) (*ListResult, error) {
	var spacePrefixes []string
	if spaceID != "" {
		spacePrefixes = []string{rootPrefix + spaceID + "/"}
	} else {
		prefixes, err := s.store.ListPrefixes(ctx, rootPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to list backups: %w", err)
		}
		spacePrefixes = prefixes
	}

	backups := make([]Entry, 0)
	for _, sp := range spacePrefixes {
		sid := path.Base(strings.TrimSuffix(sp, "/"))
		tsPrefixes, err := s.store.ListPrefixes(ctx, sp)
		if err != nil {
			return nil, fmt.Errorf("failed to list backups under %q: %w", sp, err)
		}
		for _, tp := range tsPrefixes {
			ts := path.Base(strings.TrimSuffix(tp, "/"))
			backups = append(backups, Entry{
				BackupID:  sid + "/" + ts,
				SpaceID:   sid,
				Timestamp: ts,
			})
		}
	}
	return &ListResult{Status: core.StatusOK, Backups: backups, Total: len(backups)}, nil
}

type RestoreResult struct {
	Status        core.Status `json:"status"`
	BackupID      string      `json:"backup_id"`
	SpaceID       string      `json:"space_id"`
	FilesRestored int         `json:"files_restored"`
}

// Restore copies a backup back into its space. The space must not exist:
// restoring over live data is refused rather than merged.
func (s *Service) Restore(ctx context.Context, backupID string) (*RestoreResult, error) {
	spaceID, ts, err := parseID(backupID)
	if err != nil {
		return nil, err
	}
	src := backupPrefix(spaceID, ts)
	objects, err := s.store.List(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("failed to list backup %q: %w", backupID, err)
	}
	if len(objects) == 0 {
		return nil, core.NotFoundf("Backup '%s' not found", backupID)
	}
	exists, err := space.Exists(ctx, s.store, spaceID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, core.Failf("Space '%s' already exists. Delete it first.", spaceID)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(copyConcurrency)
	for _, o := range objects {
		group.Go(func() error {
			return s.store.Copy(gctx, o.Key, spaceID+"/"+strings.TrimPrefix(o.Key, src))
		})
	}
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("failed to restore backup %q: %w", backupID, err)
	}

	logger.FromContext(ctx).Info("backup restored",
		"backup_id", backupID, "space_id", spaceID, "files", len(objects))
	return &RestoreResult{
		Status:        core.StatusOK,
		BackupID:      backupID,
		SpaceID:       spaceID,
		FilesRestored: len(objects),
	}, nil
}

type DownloadResult struct {
	Status        core.Status `json:"status"`
	BackupID      string      `json:"backup_id"`
	ArchiveBase64 string      `json:"archive_base64"`
	ArchiveSize   int         `json:"archive_size"`
	FilesCount    int         `json:"files_count"`
}

// Download returns a backup as an inline base64 tar.gz, keep markers included.
func (s *Service) Download(ctx context.Context, backupID string) (*DownloadResult, error) {
	spaceID, ts, err := parseID(backupID)
	if err != nil {
		return nil, err
	}
	src := backupPrefix(spaceID, ts)
	objects, err := s.store.ListAndGet(ctx, src, true)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup %q: %w", backupID, err)
	}
	if len(objects) == 0 {
		return nil, core.NotFoundf("Backup '%s' not found", backupID)
	}
	entries := make([]archive.Entry, 0, len(objects))
	for _, o := range objects {
		entries = append(entries, archive.Entry{
			Name:    strings.TrimPrefix(o.Key, src),
			Content: []byte(o.Content),
		})
	}
	encoded, size, err := archive.TarGzBase64(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to archive backup %q: %w", backupID, err)
	}
	return &DownloadResult{
		Status:        core.StatusOK,
		BackupID:      backupID,
		ArchiveBase64: encoded,
		ArchiveSize:   size,
		FilesCount:    len(entries),
	}, nil
}

type DeleteResult struct {
	Status       core.Status `json:"status"`
	BackupID     string      `json:"backup_id"`
	FilesDeleted int         `json:"files_deleted"`
}

// Delete removes one backup snapshot.
func (s *Service) Delete(ctx context.Context, backupID string) (*DeleteResult, error) {
	spaceID, ts, err := parseID(backupID)
	if err != nil {
		return nil, err
	}
	objects, err := s.store.List(ctx, backupPrefix(spaceID, ts))
	if err != nil {
		return nil, fmt.Errorf("failed to list backup %q: %w", backupID, err)
	}
	if len(objects) == 0 {
		return nil, core.NotFoundf("Backup '%s' not found", backupID)
	}
	keys := make([]string, 0, len(objects))
	for _, o := range objects {
		keys = append(keys, o.Key)
	}
	deleted, err := s.store.DeleteMany(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to delete backup %q: %w", backupID, err)
	}
	logger.FromContext(ctx).Info("backup deleted", "backup_id", backupID, "files", deleted)
	return &DeleteResult{
		Status:       core.StatusDeleted,
		BackupID:     backupID,
		FilesDeleted: deleted,
	}, nil
}
