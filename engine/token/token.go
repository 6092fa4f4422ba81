// Package token manages the authentication token registry stored at
// `_system/tokens.json`. Cleartext tokens are returned exactly once at
// creation; only their SHA-256 hash is persisted.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Prefix marks generated cleartext tokens.
const Prefix = "lm_"

// RegistryKey is the object key of the token registry.
const RegistryKey = "_system/tokens.json"

// Permissions a token may carry.
const (
	PermRead  = "read"
	PermWrite = "write"
	PermAdmin = "admin"
)

// Record is one stored token entry. The cleartext is never persisted.
type Record struct {
	Hash        string   `json:"hash"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	SpaceIDs    []string `json:"space_ids"`
	CreatedAt   string   `json:"created_at"`
	ExpiresAt   string   `json:"expires_at,omitempty"`
	LastUsedAt  string   `json:"last_used_at,omitempty"`
	Revoked     bool     `json:"revoked"`
}

// Registry is the full content of `_system/tokens.json`.
type Registry struct {
	Version int      `json:"version"`
	Tokens  []Record `json:"tokens"`
}

// Identity is the authenticated caller installed into the request context by
// the auth middleware. Empty SpaceIDs means access to every space.
type Identity struct {
	ClientName  string   `json:"client_name"`
	Permissions []string `json:"permissions"`
	SpaceIDs    []string `json:"allowed_resources"`
}

// Bootstrap returns the identity granted to the configured bootstrap key. It
// exists to solve the first-login problem: a fresh deployment has no registry
// yet, so the bootstrap key acts as a full-access admin record.
func Bootstrap() *Identity {
	return &Identity{
		ClientName:  "admin",
		Permissions: []string{PermAdmin, PermRead, PermWrite},
		SpaceIDs:    []string{},
	}
}

// HasPermission reports whether the identity carries the given permission.
func (id *Identity) HasPermission(perm string) bool {
	for _, p := range id.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the identity carries the admin permission.
func (id *Identity) IsAdmin() bool {
	return id.HasPermission(PermAdmin)
}

// CanAccess reports whether the identity may touch the given space. Admins
// pass unconditionally; an empty space list means unrestricted access.
func (id *Identity) CanAccess(spaceID string) bool {
	if id.IsAdmin() || len(id.SpaceIDs) == 0 {
		return true
	}
	for _, s := range id.SpaceIDs {
		if s == spaceID {
			return true
		}
	}
	return false
}

// Generate returns a fresh cleartext token: the `lm_` prefix followed by
// 43 URL-safe characters encoding 32 random bytes.
func Generate() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return Prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashCleartext computes the stored form of a cleartext token:
// `sha256:` + lowercase hex of its SHA-256 digest.
func HashCleartext(cleartext string) string {
	sum := sha256.Sum256([]byte(cleartext))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// TruncateHash shortens a stored hash for display. List responses never
// expose the full hash; the truncated form is still a usable revoke prefix.
func TruncateHash(hash string) string {
	if len(hash) <= 20 {
		return hash
	}
	return hash[:20] + "..."
}

// matchesHash reports whether a stored hash matches a query that may be the
// full hash, a prefix of it, or the truncated display form (which carries a
// trailing ellipsis the stored hash does not).
func matchesHash(stored, query string) bool {
	if query == "" {
		return false
	}
	if strings.HasPrefix(stored, query) {
		return true
	}
	display := stored
	if len(display) > 20 {
		display = display[:20]
	}
	return strings.HasPrefix(query, display)
}
