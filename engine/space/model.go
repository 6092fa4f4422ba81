// Package space manages memory spaces: their key layout, metadata and the
// CRUD surface exposed by the space_* tools. A space is a named prefix in the
// object store holding `_meta.json`, `_rules.md`, an optional `_synthesis.md`
// and the `live/` and `bank/` folders.
package space

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/livemem/livemem/engine/core"
	"github.com/livemem/livemem/engine/storage"
)

// idPattern restricts space ids to a leading alphanumeric followed by up to
// 63 alphanumerics, dashes or underscores. Prefixes starting with `_` are
// reserved for system data (`_system/`, `_backups/`).
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)

// ValidID reports whether id is an acceptable space identifier.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Key builders for the fixed objects of a space.

func MetaKey(spaceID string) string      { return spaceID + "/_meta.json" }
func RulesKey(spaceID string) string     { return spaceID + "/_rules.md" }
func SynthesisKey(spaceID string) string { return spaceID + "/_synthesis.md" }
func LivePrefix(spaceID string) string   { return spaceID + "/live/" }
func BankPrefix(spaceID string) string   { return spaceID + "/bank/" }

// GraphMemoryConfig connects a space to a graph-memory instance for long-term
// storage. Stored inside _meta.json under "graph_memory".
type GraphMemoryConfig struct {
	URL         string `json:"url"`
	Token       string `json:"token"`
	MemoryID    string `json:"memory_id"`
	Ontology    string `json:"ontology"`
	LastPush    string `json:"last_push,omitempty"`
	PushCount   int    `json:"push_count"`
	FilesPushed int    `json:"files_pushed"`
}

// Meta is the content of `{space}/_meta.json`. Created by space_create,
// updated by consolidation and the graph bridge.
type Meta struct {
	SpaceID             string             `json:"space_id"`
	Description         string             `json:"description"`
	Owner               string             `json:"owner"`
	CreatedAt           string             `json:"created_at"`
	LastConsolidation   string             `json:"last_consolidation,omitempty"`
	ConsolidationCount  int                `json:"consolidation_count"`
	TotalNotesProcessed int                `json:"total_notes_processed"`
	GraphMemory         *GraphMemoryConfig `json:"graph_memory,omitempty"`
	Version             int                `json:"version"`
}

// Exists reports whether a space exists, which is defined by the presence of
// its _meta.json.
func Exists(ctx context.Context, store storage.Store, spaceID string) (bool, error) {
	return store.Exists(ctx, MetaKey(spaceID))
}

// Require returns the standard not-found error when the space is absent.
// Every service touching a space goes through this so the message stays
// uniform.
func Require(ctx context.Context, store storage.Store, spaceID string) error {
	ok, err := Exists(ctx, store, spaceID)
	if err != nil {
		return fmt.Errorf("failed to check space %q: %w", spaceID, err)
	}
	if !ok {
		return core.NotFoundf("Space '%s' not found", spaceID)
	}
	return nil
}

// LoadMeta reads a space's metadata. A missing space maps to the standard
// not-found error.
func LoadMeta(ctx context.Context, store storage.Store, spaceID string) (*Meta, error) {
	var m Meta
	err := store.GetJSON(ctx, MetaKey(spaceID), &m)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, core.NotFoundf("Space '%s' not found", spaceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load meta for space %q: %w", spaceID, err)
	}
	return &m, nil
}

// SaveMeta writes a space's metadata back.
func SaveMeta(ctx context.Context, store storage.Store, m *Meta) error {
	if err := store.PutJSON(ctx, MetaKey(m.SpaceID), m); err != nil {
		return fmt.Errorf("failed to save meta for space %q: %w", m.SpaceID, err)
	}
	return nil
}
