package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/livemem/livemem/engine/core"
	"github.com/livemem/livemem/engine/locks"
	"github.com/livemem/livemem/engine/storage"
	"github.com/livemem/livemem/pkg/logger"
)

// Service manages the token registry. Mutations (create, revoke, update) are
// read-modify-write cycles on the whole registry and run under the token
// mutex; validation reads the registry without locking so that a slow write
// never serializes request authentication.
type Service struct {
	store storage.Store
	locks *locks.Manager
	now   func() time.Time
}

func NewService(store storage.Store, lm *locks.Manager) *Service {
	return &Service{store: store, locks: lm, now: time.Now}
}

// CreateResult is the one-time response of Create. Token carries the
// cleartext; it is never stored and never shown again.
type CreateResult struct {
	Status      core.Status `json:"status"`
	Name        string      `json:"name"`
	Token       string      `json:"token"`
	Hash        string      `json:"hash"`
	Permissions []string    `json:"permissions"`
	SpaceIDs    []string    `json:"space_ids"`
	ExpiresAt   string      `json:"expires_at,omitempty"`
	Warning     string      `json:"warning"`
}

// ListedToken is one registry entry as exposed by List: hash truncated,
// status derived from the revoked flag and expiry.
type ListedToken struct {
	Hash        string   `json:"hash"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	SpaceIDs    []string `json:"space_ids"`
	CreatedAt   string   `json:"created_at"`
	ExpiresAt   string   `json:"expires_at,omitempty"`
	LastUsedAt  string   `json:"last_used_at,omitempty"`
	Revoked     bool     `json:"revoked"`
	Status      string   `json:"status"`
}

type ListResult struct {
	Status core.Status   `json:"status"`
	Tokens []ListedToken `json:"tokens"`
	Total  int           `json:"total"`
}

// Create generates a token, stores its record and returns the cleartext
// exactly once. Permissions come as a comma-separated list and each must be
// read, write or admin; spaceIDs likewise, with the empty list meaning every
// space. expiresInDays of 0 means the token never expires.
func (s *Service) Create(
	ctx context.Context,
	name string,
	permissions string,
	spaceIDs string,
	expiresInDays int,
) (*CreateResult, error) {
	perms := splitCSV(permissions)
	if len(perms) == 0 {
		return nil, core.Failf("Permissions required")
	}
	if err := validatePermissions(perms); err != nil {
		return nil, err
	}
	sids := splitCSV(spaceIDs)

	cleartext, err := Generate()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	rec := Record{
		Hash:        HashCleartext(cleartext),
		Name:        name,
		Permissions: perms,
		SpaceIDs:    sids,
		CreatedAt:   core.ISOFormat(now),
	}
	if expiresInDays > 0 {
		rec.ExpiresAt = core.ISOFormat(now.Add(time.Duration(expiresInDays) * 24 * time.Hour))
	}

	mu := s.locks.Tokens()
	mu.Lock()
	defer mu.Unlock()
	reg, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	reg.Tokens = append(reg.Tokens, rec)
	if err := s.save(ctx, reg); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("token created", "name", name, "permissions", perms)
	return &CreateResult{
		Status:      core.StatusCreated,
		Name:        name,
		Token:       cleartext,
		Hash:        rec.Hash,
		Permissions: perms,
		SpaceIDs:    sids,
		ExpiresAt:   rec.ExpiresAt,
		Warning:     "⚠️ This token will NEVER be shown again!",
	}, nil
}

// List returns every registry entry with its hash truncated for display.
func (s *Service) List(ctx context.Context) (*ListResult, error) {
	reg, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	now := core.ISOFormat(s.now())
	out := make([]ListedToken, 0, len(reg.Tokens))
	for _, t := range reg.Tokens {
		out = append(out, ListedToken{
			Hash:        TruncateHash(t.Hash),
			Name:        t.Name,
			Permissions: t.Permissions,
			SpaceIDs:    t.SpaceIDs,
			CreatedAt:   t.CreatedAt,
			ExpiresAt:   t.ExpiresAt,
			LastUsedAt:  t.LastUsedAt,
			Revoked:     t.Revoked,
			Status:      deriveStatus(&t, now),
		})
	}
	return &ListResult{Status: core.StatusOK, Tokens: out, Total: len(out)}, nil
}

// Revoke marks the first token matching the given hash or prefix as revoked.
func (s *Service) Revoke(ctx context.Context, hash string) (*core.Envelope, error) {
	mu := s.locks.Tokens()
	mu.Lock()
	defer mu.Unlock()
	reg, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	idx := findToken(reg, hash)
	if idx < 0 {
		return nil, core.NotFoundf("Token not found")
	}
	reg.Tokens[idx].Revoked = true
	if err := s.save(ctx, reg); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("token revoked", "name", reg.Tokens[idx].Name)
	return &core.Envelope{Status: core.StatusOK, Message: "Token revoked"}, nil
}

// Update replaces the permissions or space list of the first matching token.
// Empty arguments leave the corresponding field unchanged.
func (s *Service) Update(ctx context.Context, hash, spaceIDs, permissions string) (*core.Envelope, error) {
	var perms []string
	if permissions != "" {
		perms = splitCSV(permissions)
		if err := validatePermissions(perms); err != nil {
			return nil, err
		}
	}

	mu := s.locks.Tokens()
	mu.Lock()
	defer mu.Unlock()
	reg, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	idx := findToken(reg, hash)
	if idx < 0 {
		return nil, core.NotFoundf("Token not found")
	}
	if permissions != "" {
		reg.Tokens[idx].Permissions = perms
	}
	if spaceIDs != "" {
		reg.Tokens[idx].SpaceIDs = splitCSV(spaceIDs)
	}
	if err := s.save(ctx, reg); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("token updated", "name", reg.Tokens[idx].Name)
	return &core.Envelope{Status: core.StatusOK, Message: "Token updated"}, nil
}

// Validate resolves a cleartext token to an identity. Unknown, revoked and
// expired tokens all return false. On success the record's last_used_at is
// stamped with a best-effort registry write; a failed stamp never fails the
// validation.
func (s *Service) Validate(ctx context.Context, cleartext string) (*Identity, bool) {
	log := logger.FromContext(ctx)
	reg, err := s.load(ctx)
	if err != nil {
		log.Warn("token registry unavailable", "error", err)
		return nil, false
	}
	hash := HashCleartext(cleartext)
	now := core.ISOFormat(s.now())
	for i := range reg.Tokens {
		t := &reg.Tokens[i]
		if t.Hash != hash {
			continue
		}
		if t.Revoked {
			return nil, false
		}
		if t.ExpiresAt != "" && t.ExpiresAt < now {
			return nil, false
		}
		t.LastUsedAt = now
		if err := s.save(ctx, reg); err != nil {
			log.Debug("last_used_at stamp failed", "error", err)
		}
		return &Identity{
			ClientName:  t.Name,
			Permissions: t.Permissions,
			SpaceIDs:    t.SpaceIDs,
		}, true
	}
	return nil, false
}

func (s *Service) load(ctx context.Context) (*Registry, error) {
	var reg Registry
	err := s.store.GetJSON(ctx, RegistryKey, &reg)
	if errors.Is(err, storage.ErrNotFound) {
		return &Registry{Version: 1, Tokens: []Record{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token registry: %w", err)
	}
	return &reg, nil
}

func (s *Service) save(ctx context.Context, reg *Registry) error {
	if err := s.store.PutJSON(ctx, RegistryKey, reg); err != nil {
		return fmt.Errorf("failed to save token registry: %w", err)
	}
	return nil
}

func findToken(reg *Registry, hash string) int {
	for i := range reg.Tokens {
		if matchesHash(reg.Tokens[i].Hash, hash) {
			return i
		}
	}
	return -1
}

func deriveStatus(t *Record, now string) string {
	switch {
	case t.Revoked:
		return "revoked"
	case t.ExpiresAt != "" && t.ExpiresAt < now:
		return "expired"
	default:
		return "active"
	}
}

func validatePermissions(perms []string) error {
	for _, p := range perms {
		switch p {
		case PermRead, PermWrite, PermAdmin:
		default:
			return core.Failf("Invalid permission '%s'. Valid: read, write, admin", p)
		}
	}
	return nil
}

func splitCSV(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
