package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livemem/livemem/engine/core"
	"github.com/livemem/livemem/engine/token"
)

func identityCtx(id *token.Identity) context.Context {
	return WithIdentity(context.Background(), id)
}

func TestCheckAuthenticated(t *testing.T) {
	t.Run("Should require an identity", func(t *testing.T) {
		err := CheckAuthenticated(context.Background())
		require.Error(t, err)
		assert.Equal(t, "Authentication required", err.Error())
	})
	t.Run("Should pass for any identity", func(t *testing.T) {
		id := &token.Identity{ClientName: "a", Permissions: []string{"read"}}
		assert.NoError(t, CheckAuthenticated(identityCtx(id)))
	})
}

func TestCheckAccess(t *testing.T) {
	t.Run("Should require authentication", func(t *testing.T) {
		err := CheckAccess(context.Background(), "proj-a")
		require.Error(t, err)
		assert.Equal(t, "Authentication required", err.Error())
		assert.Equal(t, core.StatusError, core.AsEnvelope(err).Status)
	})
	t.Run("Should let admins into any space", func(t *testing.T) {
		assert.NoError(t, CheckAccess(identityCtx(token.Bootstrap()), "proj-a"))
	})
	t.Run("Should let unrestricted identities into any space", func(t *testing.T) {
		id := &token.Identity{ClientName: "a", Permissions: []string{"read"}}
		assert.NoError(t, CheckAccess(identityCtx(id), "proj-a"))
	})
	t.Run("Should deny spaces outside the allowed list", func(t *testing.T) {
		id := &token.Identity{ClientName: "a", Permissions: []string{"read"}, SpaceIDs: []string{"proj-a"}}
		require.NoError(t, CheckAccess(identityCtx(id), "proj-a"))
		err := CheckAccess(identityCtx(id), "proj-b")
		require.Error(t, err)
		assert.Equal(t, "Access denied to space 'proj-b'", err.Error())
	})
}

func TestCheckWrite(t *testing.T) {
	t.Run("Should require authentication", func(t *testing.T) {
		assert.Error(t, CheckWrite(context.Background()))
	})
	t.Run("Should accept write or admin", func(t *testing.T) {
		writer := &token.Identity{ClientName: "w", Permissions: []string{"write"}}
		assert.NoError(t, CheckWrite(identityCtx(writer)))
		assert.NoError(t, CheckWrite(identityCtx(token.Bootstrap())))
	})
	t.Run("Should deny read-only identities", func(t *testing.T) {
		reader := &token.Identity{ClientName: "r", Permissions: []string{"read"}}
		err := CheckWrite(identityCtx(reader))
		require.Error(t, err)
		assert.Equal(t, "Permission write required", err.Error())
	})
}

func TestCheckAdmin(t *testing.T) {
	t.Run("Should deny non-admin identities", func(t *testing.T) {
		id := &token.Identity{ClientName: "w", Permissions: []string{"read", "write"}}
		err := CheckAdmin(identityCtx(id))
		require.Error(t, err)
		assert.Equal(t, "Permission admin required", err.Error())
	})
	t.Run("Should accept admins", func(t *testing.T) {
		assert.NoError(t, CheckAdmin(identityCtx(token.Bootstrap())))
	})
}

func TestCurrentAgentName(t *testing.T) {
	t.Run("Should return the client name", func(t *testing.T) {
		id := &token.Identity{ClientName: "agent-cline", Permissions: []string{"read"}}
		assert.Equal(t, "agent-cline", CurrentAgentName(identityCtx(id)))
	})
	t.Run("Should fall back to anonymous", func(t *testing.T) {
		assert.Equal(t, "anonymous", CurrentAgentName(context.Background()))
	})
}
