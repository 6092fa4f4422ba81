// Package auth installs the caller identity resolved by the middleware into
// the request context and provides the permission checks used by tool
// handlers. Failed checks return *core.Error payloads rather than transport
// errors, so unauthenticated requests can still reach public tools.
package auth

import (
	"context"

	"github.com/livemem/livemem/engine/core"
	"github.com/livemem/livemem/engine/token"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const contextKeyIdentity contextKey = "auth_identity"

// WithIdentity adds the authenticated identity to the context.
func WithIdentity(ctx context.Context, id *token.Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, id)
}

// IdentityFromContext retrieves the authenticated identity from context.
func IdentityFromContext(ctx context.Context) (*token.Identity, bool) {
	id, ok := ctx.Value(contextKeyIdentity).(*token.Identity)
	if !ok || id == nil {
		return nil, false
	}
	return id, true
}

// CheckAuthenticated verifies that the request carries a valid identity,
// without any permission requirement.
func CheckAuthenticated(ctx context.Context) error {
	if _, ok := IdentityFromContext(ctx); !ok {
		return core.Failf("Authentication required")
	}
	return nil
}

// CheckAccess verifies that the current identity may touch the given space.
// Admins pass; otherwise the identity's space list must be empty or contain
// the space.
func CheckAccess(ctx context.Context, spaceID string) error {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return core.Failf("Authentication required")
	}
	if !id.CanAccess(spaceID) {
		return core.Failf("Access denied to space '%s'", spaceID)
	}
	return nil
}

// CheckWrite verifies that the current identity carries the write (or admin)
// permission.
func CheckWrite(ctx context.Context) error {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return core.Failf("Authentication required")
	}
	if !id.HasPermission(token.PermWrite) && !id.IsAdmin() {
		return core.Failf("Permission write required")
	}
	return nil
}

// CheckAdmin verifies that the current identity carries the admin permission.
func CheckAdmin(ctx context.Context) error {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return core.Failf("Authentication required")
	}
	if !id.IsAdmin() {
		return core.Failf("Permission admin required")
	}
	return nil
}

// CurrentAgentName resolves the agent name for operations that attribute
// writes to their caller. Unauthenticated requests are "anonymous".
func CurrentAgentName(ctx context.Context) string {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return "anonymous"
	}
	return id.ClientName
}
