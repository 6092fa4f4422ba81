// Package gc reclaims orphan live notes: notes whose agent disappeared
// without consolidating. The default path pushes them through the regular
// consolidation pipeline so nothing is lost; deletion without consolidation
// is the explicit opt-in.
package gc

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/livemem/livemem/engine/bank"
	"github.com/livemem/livemem/engine/core"
	"github.com/livemem/livemem/engine/live"
	"github.com/livemem/livemem/engine/note"
	"github.com/livemem/livemem/engine/space"
	"github.com/livemem/livemem/engine/storage"
	"github.com/livemem/livemem/pkg/logger"
)

// DefaultMaxAgeDays is the orphan threshold when the caller gives none.
const DefaultMaxAgeDays = 7

const scanConcurrency = 4

// Service implements the admin_gc_notes flows.
type Service struct {
	store storage.Store
	live  *live.Service
	bank  *bank.Service
	now   func() time.Time
}

func NewService(store storage.Store, liveSvc *live.Service, bankSvc *bank.Service) *Service {
	return &Service{store: store, live: liveSvc, bank: bankSvc, now: time.Now}
}

// SpaceReport describes the orphan notes of one space.
type SpaceReport struct {
	TotalNotes   int            `json:"total_notes"`
	OldNotes     int            `json:"old_notes"`
	OldNotesSize int64          `json:"old_notes_size"`
	ByAgent      map[string]int `json:"by_agent"`
	Oldest       string         `json:"oldest"`
	Keys         []string       `json:"keys,omitempty"`
}

// ScanResult is the dry-run report. Only spaces with at least one orphan
// note appear.
type ScanResult struct {
	Status        core.Status             `json:"status"`
	MaxAgeDays    int                     `json:"max_age_days"`
	CutoffDate    string                  `json:"cutoff_date"`
	Spaces        map[string]*SpaceReport `json:"spaces"`
	TotalOldNotes int                     `json:"total_old_notes"`
	TotalOldSize  int64                   `json:"total_old_size"`
}

// Scan reports orphan notes older than maxAgeDays, in one space or all of
// them. Age comes from the filename timestamp; files without one are never
// considered old.
func (s *Service) Scan(ctx context.Context, spaceID string, maxAgeDays int) (*ScanResult, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -maxAgeDays)
	result := &ScanResult{
		Status:     core.StatusOK,
		MaxAgeDays: maxAgeDays,
		CutoffDate: core.ISOFormat(cutoff),
		Spaces:     make(map[string]*SpaceReport),
	}
	spaceIDs, err := s.targetSpaces(ctx, spaceID)
	if err != nil {
		return nil, err
	}

	cutoffStr := cutoff.Format(note.FileTimestampLayout)
	var mu sync.Mutex
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(scanConcurrency)
	for _, sid := range spaceIDs {
		group.Go(func() error {
			report, err := s.scanSpace(gctx, sid, cutoffStr)
			if err != nil || report == nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			result.Spaces[sid] = report
			result.TotalOldNotes += report.OldNotes
			result.TotalOldSize += report.OldNotesSize
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) targetSpaces(ctx context.Context, spaceID string) ([]string, error) {
	if spaceID != "" {
		return []string{spaceID}, nil
	}
	prefixes, err := s.store.ListPrefixes(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list spaces: %w", err)
	}
	ids := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		id := strings.TrimSuffix(p, "/")
		// _backups and _system live next to the spaces.
		if strings.HasPrefix(id, "_") {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Service) scanSpace(ctx context.Context, spaceID, cutoff string) (*SpaceReport, error) {
	exists, err := space.Exists(ctx, s.store, spaceID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	objects, err := s.store.List(ctx, space.LivePrefix(spaceID))
	if err != nil {
		return nil, fmt.Errorf("failed to list notes for space %q: %w", spaceID, err)
	}
	report := &SpaceReport{ByAgent: make(map[string]int)}
	for _, o := range objects {
		if storage.IsKeep(o.Key) || !strings.HasSuffix(o.Key, ".md") {
			continue
		}
		report.TotalNotes++
		filename := path.Base(o.Key)
		ts, ok := note.FileTimestamp(filename)
		if !ok || ts >= cutoff {
			continue
		}
		report.OldNotes++
		report.OldNotesSize += o.Size
		report.ByAgent[note.FileAgent(filename)]++
		if report.Oldest == "" || ts < report.Oldest {
			report.Oldest = ts
		}
		report.Keys = append(report.Keys, o.Key)
	}
	if report.OldNotes == 0 {
		return nil, nil
	}
	return report, nil
}

// AgentOutcome is the per-agent result of a forced consolidation.
type AgentOutcome struct {
	Status           string `json:"status"`
	Reason           string `json:"reason,omitempty"`
	Message          string `json:"message,omitempty"`
	NotesProcessed   int    `json:"notes_processed,omitempty"`
	BankFilesCreated int    `json:"bank_files_created,omitempty"`
	BankFilesUpdated int    `json:"bank_files_updated,omitempty"`
}

type ConsolidateResult struct {
	ScanResult
	Action               string                              `json:"action"`
	Consolidated         int                                 `json:"consolidated"`
	Skipped              int                                 `json:"skipped"`
	ConsolidationDetails map[string]map[string]*AgentOutcome `json:"consolidation_details,omitempty"`
	Message              string                              `json:"message"`
}

// ConsolidateAndCleanup forces the orphan notes of every affected agent
// through the consolidation pipeline. Each agent gets a GC notice note first,
// attributed to that agent so the pipeline picks it up with the rest: the
// bank keeps a trace that this consolidation was forced. Spaces busy
// consolidating are skipped, not queued.
func (s *Service) ConsolidateAndCleanup(
	ctx context.Context,
	spaceID string,
	maxAgeDays int,
) (*ConsolidateResult, error) {
	scan, err := s.Scan(ctx, spaceID, maxAgeDays)
	if err != nil {
		return nil, err
	}
	result := &ConsolidateResult{ScanResult: *scan, Action: "consolidate"}
	if scan.TotalOldNotes == 0 {
		result.Message = "No orphan notes to consolidate"
		return result, nil
	}

	log := logger.FromContext(ctx)
	details := make(map[string]map[string]*AgentOutcome, len(result.Spaces))
	for sid, report := range result.Spaces {
		details[sid] = make(map[string]*AgentOutcome, len(report.ByAgent))
		for agent, count := range report.ByAgent {
			outcome := s.consolidateAgent(ctx, sid, agent, count, maxAgeDays)
			details[sid][agent] = outcome
			switch outcome.Status {
			case "skipped":
				result.Skipped++
			case string(core.StatusOK):
				result.Consolidated += outcome.NotesProcessed
				log.Info("gc consolidated orphan notes",
					"space_id", sid, "agent", agent, "notes", outcome.NotesProcessed)
			default:
				log.Warn("gc consolidation failed",
					"space_id", sid, "agent", agent, "error", outcome.Message)
			}
		}
		report.Keys = nil
	}
	result.ConsolidationDetails = details
	result.Message = fmt.Sprintf("GC: %d orphan notes consolidated in %d space(s)",
		result.Consolidated, len(result.Spaces))
	return result, nil
}

func (s *Service) consolidateAgent(
	ctx context.Context,
	spaceID, agent string,
	count, maxAgeDays int,
) *AgentOutcome {
	notice := gcNotice(agent, count, maxAgeDays)
	if _, err := s.live.WriteNote(ctx, spaceID, "observation", notice, agent, ""); err != nil {
		return &AgentOutcome{Status: string(core.StatusError), Message: core.AsEnvelope(err).Message}
	}
	res, err := s.bank.Consolidate(ctx, spaceID, agent)
	if err != nil {
		env := core.AsEnvelope(err)
		if env.Status == core.StatusConflict {
			return &AgentOutcome{Status: "skipped", Reason: "consolidation already in progress"}
		}
		return &AgentOutcome{Status: string(core.StatusError), Message: env.Message}
	}
	return &AgentOutcome{
		Status:           string(res.Status),
		NotesProcessed:   res.NotesProcessed,
		BankFilesCreated: res.BankFilesCreated,
		BankFilesUpdated: res.BankFilesUpdated,
	}
}

func gcNotice(agent string, count, maxAgeDays int) string {
	return fmt.Sprintf(
		"⚠️ GARBAGE COLLECTOR — Forced consolidation\n\n"+
			"The garbage collector found %d orphan notes from agent '%s' (older than %d days).\n"+
			"These notes were never consolidated by their agent.\n"+
			"The GC forces their integration into the Memory Bank.\n\n"+
			"**Warning**: this consolidation is automatic. The integrated notes may "+
			"lack context because the agent is no longer active.",
		count, agent, maxAgeDays)
}

type DeleteResult struct {
	ScanResult
	Action  string `json:"action"`
	Deleted int    `json:"deleted"`
	Message string `json:"message"`
}

// DeleteOld removes orphan notes without consolidating them. Data loss is the
// point, so the tool layer gates this behind an explicit flag.
func (s *Service) DeleteOld(ctx context.Context, spaceID string, maxAgeDays int) (*DeleteResult, error) {
	scan, err := s.Scan(ctx, spaceID, maxAgeDays)
	if err != nil {
		return nil, err
	}
	result := &DeleteResult{ScanResult: *scan, Action: "delete"}
	if scan.TotalOldNotes == 0 {
		result.Message = "No orphan notes to delete"
		return result, nil
	}

	var keys []string
	for _, report := range result.Spaces {
		keys = append(keys, report.Keys...)
		report.Keys = nil
	}
	deleted, err := s.store.DeleteMany(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to delete orphan notes: %w", err)
	}
	result.Status = core.StatusDeleted
	result.Deleted = deleted
	result.Message = fmt.Sprintf("⚠️ %d notes deleted WITHOUT consolidation in %d space(s)",
		deleted, len(result.Spaces))
	logger.FromContext(ctx).Info("gc deleted orphan notes",
		"deleted", deleted, "spaces", len(result.Spaces), "max_age_days", maxAgeDays)
	return result, nil
}
