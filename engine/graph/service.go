// Package graph bridges live-memory spaces to remote Graph Memory servers.
// A space connects to one memory on one server; pushes synchronize the bank
// files into the remote knowledge graph with a delete-then-reingest cycle so
// the graph is recomputed from current content. Connection config and push
// metrics live in the space's _meta.json under "graph_memory".
package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"path"
	"sort"
	"time"

	"github.com/livemem/livemem/engine/core"
	"github.com/livemem/livemem/engine/space"
	"github.com/livemem/livemem/engine/storage"
	"github.com/livemem/livemem/pkg/logger"
)

// DefaultOntology is used for extraction when graph_connect does not name one.
const DefaultOntology = "general"

const (
	opTimeout = 120 * time.Second
	// Ingestion runs entity extraction and embeddings on the remote side,
	// 10-30s per file is normal.
	pushTimeout = 180 * time.Second
)

// Service orchestrates the bridge operations. Remote sessions are dialed per
// operation and closed before returning.
type Service struct {
	store storage.Store
	dial  Dialer
	now   func() time.Time
}

func NewService(store storage.Store, dial Dialer) *Service {
	return &Service{store: store, dial: dial, now: time.Now}
}

// ConnectResult reports a successful graph_connect.
type ConnectResult struct {
	Status      core.Status     `json:"status"`
	SpaceID     string          `json:"space_id"`
	GraphMemory ConnectedMemory `json:"graph_memory"`
}

// ConnectedMemory echoes the stored connection without the token.
type ConnectedMemory struct {
	URL           string `json:"url"`
	MemoryID      string `json:"memory_id"`
	Ontology      string `json:"ontology"`
	MemoryCreated bool   `json:"memory_created"`
}

// Connect probes the remote server, creates the target memory when it does
// not exist yet, and persists the connection in the space metadata.
func (s *Service) Connect(ctx context.Context, spaceID, url, token, memoryID, ontology string) (*ConnectResult, error) {
	if ontology == "" {
		ontology = DefaultOntology
	}
	meta, err := space.LoadMeta(ctx, s.store, spaceID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	gm, err := s.dial(ctx, url, token)
	if err != nil {
		return nil, core.Failf("Cannot reach Graph Memory: %s", err)
	}
	defer gm.Close()
	health, err := gm.CallTool(ctx, "system_health", nil)
	if err != nil {
		return nil, core.Failf("Cannot reach Graph Memory: %s", err)
	}
	if health.Get("status").String() == "error" {
		msg := health.Get("message").String()
		if msg == "" {
			msg = "unknown error"
		}
		return nil, core.Failf("Graph Memory unavailable: %s", msg)
	}
	exists, err := remoteMemoryExists(ctx, gm, memoryID)
	if err != nil {
		return nil, err
	}
	memoryCreated := false
	if !exists {
		if err := createRemoteMemory(ctx, gm, spaceID, memoryID, ontology); err != nil {
			return nil, err
		}
		memoryCreated = true
	}
	meta.GraphMemory = &space.GraphMemoryConfig{
		URL:      url,
		Token:    token,
		MemoryID: memoryID,
		Ontology: ontology,
	}
	if err := space.SaveMeta(ctx, s.store, meta); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("space connected to graph memory",
		"space_id", spaceID, "memory_id", memoryID, "url", url)
	return &ConnectResult{
		Status:  core.StatusConnected,
		SpaceID: spaceID,
		GraphMemory: ConnectedMemory{
			URL:           url,
			MemoryID:      memoryID,
			Ontology:      ontology,
			MemoryCreated: memoryCreated,
		},
	}, nil
}

func remoteMemoryExists(ctx context.Context, gm Client, memoryID string) (bool, error) {
	memories, err := gm.CallTool(ctx, "memory_list", nil)
	if err != nil {
		return false, core.Failf("Cannot reach Graph Memory: %s", err)
	}
	if memories.Get("status").String() != "ok" {
		return false, nil
	}
	for _, m := range memories.Get("memories").Array() {
		id := m.Get("memory_id").String()
		if id == "" {
			id = m.Get("id").String()
		}
		if id == memoryID {
			return true, nil
		}
	}
	return false, nil
}

func createRemoteMemory(ctx context.Context, gm Client, spaceID, memoryID, ontology string) error {
	created, err := gm.CallTool(ctx, "memory_create", map[string]any{
		"memory_id":   memoryID,
		"name":        "Live Memory — " + spaceID,
		"description": fmt.Sprintf("Memory Bank synced from live-memory space '%s'", spaceID),
		"ontology":    ontology,
	})
	if err != nil {
		return core.Failf("Cannot reach Graph Memory: %s", err)
	}
	if created.Get("status").String() == "error" {
		return core.Failf("Failed to create memory '%s' in Graph Memory: %s",
			memoryID, created.Get("message").String())
	}
	logger.FromContext(ctx).Info("graph memory created",
		"memory_id", memoryID, "ontology", ontology)
	return nil
}

// PushError records one file that failed to ingest.
type PushError struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// PushResult reports one synchronization run.
type PushResult struct {
	Status                core.Status `json:"status"`
	SpaceID               string      `json:"space_id"`
	MemoryID              string      `json:"memory_id,omitempty"`
	Message               string      `json:"message,omitempty"`
	Pushed                int         `json:"pushed"`
	DeletedBeforeReingest int         `json:"deleted_before_reingest"`
	CleanedOrphans        int         `json:"cleaned_orphans"`
	Errors                int         `json:"errors"`
	DurationSeconds       float64     `json:"duration_seconds,omitempty"`
	ErrorDetails          []PushError `json:"error_details,omitempty"`
}

// Push synchronizes the space's bank files into the connected memory. Files
// already present remotely are deleted first so their graph is recomputed,
// and remote documents that left the bank are cleaned up afterwards.
func (s *Service) Push(ctx context.Context, spaceID string) (*PushResult, error) {
	start := time.Now()
	meta, err := space.LoadMeta(ctx, s.store, spaceID)
	if err != nil {
		return nil, err
	}
	cfg := meta.GraphMemory
	if cfg == nil {
		return nil, core.Failf(
			"Space '%s' is not connected to Graph Memory. Use graph_connect first.", spaceID)
	}
	objects, err := s.store.ListAndGet(ctx, space.BankPrefix(spaceID), false)
	if err != nil {
		return nil, fmt.Errorf("failed to read bank files for space %q: %w", spaceID, err)
	}
	if len(objects) == 0 {
		return &PushResult{
			Status:  core.StatusOK,
			SpaceID: spaceID,
			Message: "No bank files to push",
		}, nil
	}
	bank := make(map[string]string, len(objects))
	names := make([]string, 0, len(objects))
	for _, o := range objects {
		name := path.Base(o.Key)
		bank[name] = o.Content
		names = append(names, name)
	}
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	gm, err := s.dial(ctx, cfg.URL, cfg.Token)
	if err != nil {
		return nil, core.Failf("Cannot reach Graph Memory: %s", err)
	}
	defer gm.Close()
	existing, err := remoteDocuments(ctx, gm, cfg.MemoryID)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx)
	log.Info("graph push started", "space_id", spaceID, "memory_id", cfg.MemoryID,
		"bank_files", len(bank), "remote_docs", len(existing))

	res := &PushResult{Status: core.StatusOK, SpaceID: spaceID, MemoryID: cfg.MemoryID}
	for _, name := range names {
		pushFile(ctx, gm, cfg.MemoryID, name, bank[name], existing[name], res)
	}
	res.CleanedOrphans = cleanOrphans(ctx, gm, cfg.MemoryID, existing, bank)
	res.DurationSeconds = math.Round(time.Since(start).Seconds()*10) / 10

	cfg.LastPush = core.ISOFormat(s.now())
	cfg.PushCount++
	cfg.FilesPushed = res.Pushed
	if err := space.SaveMeta(ctx, s.store, meta); err != nil {
		return nil, err
	}
	log.Info("graph push finished", "space_id", spaceID, "memory_id", cfg.MemoryID,
		"pushed", res.Pushed, "cleaned", res.CleanedOrphans, "errors", res.Errors,
		"duration_seconds", res.DurationSeconds)
	return res, nil
}

func remoteDocuments(ctx context.Context, gm Client, memoryID string) (map[string]bool, error) {
	docs, err := gm.CallTool(ctx, "document_list", map[string]any{"memory_id": memoryID})
	if err != nil {
		return nil, core.Failf("Push failed: %s", err)
	}
	existing := make(map[string]bool)
	if docs.Get("status").String() == "ok" {
		for _, d := range docs.Get("documents").Array() {
			if name := d.Get("filename").String(); name != "" {
				existing[name] = true
			}
		}
	}
	return existing, nil
}

// pushFile deletes a stale remote copy when one exists, then ingests the
// current content. Failures are counted on res instead of aborting the run.
func pushFile(ctx context.Context, gm Client, memoryID, filename, content string, existsRemotely bool, res *PushResult) {
	log := logger.FromContext(ctx)
	if existsRemotely {
		del, err := gm.CallTool(ctx, "document_delete", map[string]any{
			"memory_id": memoryID,
			"filename":  filename,
		})
		if err != nil {
			res.Errors++
			res.ErrorDetails = append(res.ErrorDetails, PushError{Filename: filename, Error: err.Error()})
			log.Error("graph push failed for file", "filename", filename, "error", err)
			return
		}
		if del.Get("status").String() == "error" {
			log.Warn("failed to delete remote document",
				"filename", filename, "error", del.Get("message").String())
		} else {
			res.DeletedBeforeReingest++
		}
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	ingest, err := gm.CallTool(ctx, "memory_ingest", map[string]any{
		"memory_id":      memoryID,
		"content_base64": encoded,
		"filename":       filename,
	})
	if err != nil {
		res.Errors++
		res.ErrorDetails = append(res.ErrorDetails, PushError{Filename: filename, Error: err.Error()})
		log.Error("graph push failed for file", "filename", filename, "error", err)
		return
	}
	if ingest.Get("status").String() == "error" {
		msg := ingest.Get("message").String()
		res.Errors++
		res.ErrorDetails = append(res.ErrorDetails, PushError{Filename: filename, Error: msg})
		log.Error("graph ingest failed", "filename", filename, "error", msg)
		return
	}
	res.Pushed++
	log.Info("bank file ingested", "filename", filename, "size", len(content))
}

// cleanOrphans removes remote documents that are no longer in the bank.
// Failures are logged, not counted as push errors.
func cleanOrphans(ctx context.Context, gm Client, memoryID string, existing map[string]bool, bank map[string]string) int {
	log := logger.FromContext(ctx)
	orphans := make([]string, 0)
	for name := range existing {
		if _, ok := bank[name]; !ok {
			orphans = append(orphans, name)
		}
	}
	sort.Strings(orphans)
	cleaned := 0
	for _, name := range orphans {
		del, err := gm.CallTool(ctx, "document_delete", map[string]any{
			"memory_id": memoryID,
			"filename":  name,
		})
		if err != nil {
			log.Warn("failed to clean orphan document", "filename", name, "error", err)
			continue
		}
		if del.Get("status").String() != "error" {
			cleaned++
			log.Info("orphan document cleaned", "filename", name)
		}
	}
	return cleaned
}

// ConnectionConfig is the stored connection without the token.
type ConnectionConfig struct {
	URL      string `json:"url"`
	MemoryID string `json:"memory_id"`
	Ontology string `json:"ontology"`
}

// GraphStats summarizes the remote memory.
type GraphStats struct {
	DocumentCount int `json:"document_count"`
	EntityCount   int `json:"entity_count"`
	RelationCount int `json:"relation_count"`
}

// GraphDocument is one ingested document as reported by the remote server.
type GraphDocument struct {
	Filename    string `json:"filename"`
	EntityCount int    `json:"entity_count"`
	IngestedAt  string `json:"ingested_at"`
	Size        int64  `json:"size"`
}

// ConnectionStatus carries the connected-space half of a StatusResult. Nil
// when the space has no graph connection.
type ConnectionStatus struct {
	Reachable      bool             `json:"reachable"`
	Config         ConnectionConfig `json:"config"`
	LastPush       string           `json:"last_push,omitempty"`
	PushCount      int              `json:"push_count"`
	FilesPushed    int              `json:"files_pushed"`
	Error          string           `json:"error,omitempty"`
	GraphStats     *GraphStats      `json:"graph_stats,omitempty"`
	GraphDocuments []GraphDocument  `json:"graph_documents,omitempty"`
	TopEntities    json.RawMessage  `json:"top_entities,omitempty"`
}

// StatusResult reports the bridge state of one space. The embedded
// ConnectionStatus is nil, and its fields absent from the payload, when the
// space is not connected.
type StatusResult struct {
	Status    core.Status `json:"status"`
	SpaceID   string      `json:"space_id"`
	Connected bool        `json:"connected"`
	Message   string      `json:"message,omitempty"`
	*ConnectionStatus
}

// Status reports whether the space is connected, whether the remote is
// reachable, and the remote graph statistics when it is.
func (s *Service) Status(ctx context.Context, spaceID string) (*StatusResult, error) {
	meta, err := space.LoadMeta(ctx, s.store, spaceID)
	if err != nil {
		return nil, err
	}
	cfg := meta.GraphMemory
	if cfg == nil {
		return &StatusResult{
			Status:    core.StatusOK,
			SpaceID:   spaceID,
			Connected: false,
			Message:   "No Graph Memory connection configured",
		}, nil
	}
	res := &StatusResult{
		Status:    core.StatusOK,
		SpaceID:   spaceID,
		Connected: true,
		ConnectionStatus: &ConnectionStatus{
			Config: ConnectionConfig{
				URL:      cfg.URL,
				MemoryID: cfg.MemoryID,
				Ontology: cfg.Ontology,
			},
			LastPush:    cfg.LastPush,
			PushCount:   cfg.PushCount,
			FilesPushed: cfg.FilesPushed,
		},
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	gm, err := s.dial(ctx, cfg.URL, cfg.Token)
	if err != nil {
		res.ConnectionStatus.Error = err.Error()
		return res, nil
	}
	defer gm.Close()
	stats, err := gm.CallTool(ctx, "memory_stats", map[string]any{"memory_id": cfg.MemoryID})
	if err != nil {
		res.ConnectionStatus.Error = err.Error()
		return res, nil
	}
	docs, err := gm.CallTool(ctx, "document_list", map[string]any{"memory_id": cfg.MemoryID})
	if err != nil {
		res.ConnectionStatus.Error = err.Error()
		return res, nil
	}
	res.Reachable = true
	if stats.Get("status").String() == "ok" {
		res.GraphStats = &GraphStats{
			DocumentCount: int(stats.Get("document_count").Int()),
			EntityCount:   int(stats.Get("entity_count").Int()),
			RelationCount: int(stats.Get("relation_count").Int()),
		}
		if top := stats.Get("top_entities"); top.Exists() {
			res.TopEntities = json.RawMessage(top.Raw)
		}
	}
	if docs.Get("status").String() == "ok" {
		for _, d := range docs.Get("documents").Array() {
			size := d.Get("size_bytes")
			if !size.Exists() {
				size = d.Get("size")
			}
			filename := d.Get("filename").String()
			if filename == "" {
				filename = "?"
			}
			res.GraphDocuments = append(res.GraphDocuments, GraphDocument{
				Filename:    filename,
				EntityCount: int(d.Get("entity_count").Int()),
				IngestedAt:  d.Get("ingested_at").String(),
				Size:        size.Int(),
			})
		}
	}
	return res, nil
}

// PriorConnection is what a disconnected space used to point at.
type PriorConnection struct {
	URL       string `json:"url"`
	MemoryID  string `json:"memory_id"`
	PushCount int    `json:"push_count"`
}

// DisconnectResult reports a graph_disconnect.
type DisconnectResult struct {
	Status         core.Status      `json:"status"`
	SpaceID        string           `json:"space_id"`
	Message        string           `json:"message,omitempty"`
	WasConnectedTo *PriorConnection `json:"was_connected_to,omitempty"`
}

// Disconnect removes the connection from the space metadata. Data already
// pushed to the remote graph is kept.
func (s *Service) Disconnect(ctx context.Context, spaceID string) (*DisconnectResult, error) {
	meta, err := space.LoadMeta(ctx, s.store, spaceID)
	if err != nil {
		return nil, err
	}
	if meta.GraphMemory == nil {
		return &DisconnectResult{
			Status:  core.StatusOK,
			SpaceID: spaceID,
			Message: fmt.Sprintf("Space '%s' is not connected to Graph Memory", spaceID),
		}, nil
	}
	old := meta.GraphMemory
	meta.GraphMemory = nil
	if err := space.SaveMeta(ctx, s.store, meta); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("space disconnected from graph memory",
		"space_id", spaceID, "memory_id", old.MemoryID)
	return &DisconnectResult{
		Status:  core.StatusDisconnected,
		SpaceID: spaceID,
		WasConnectedTo: &PriorConnection{
			URL:       old.URL,
			MemoryID:  old.MemoryID,
			PushCount: old.PushCount,
		},
	}, nil
}
