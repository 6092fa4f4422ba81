package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livemem/livemem/engine/locks"
	"github.com/livemem/livemem/engine/storage"
	"github.com/livemem/livemem/engine/token"
)

func runAuthenticated(t *testing.T, m *Middleware, prep func(*http.Request)) (*token.Identity, bool) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/sse", http.NoBody)
	prep(c.Request)

	var got *token.Identity
	var ok bool
	handler := m.Authenticate()
	handler(c)
	got, ok = IdentityFromContext(c.Request.Context())
	assert.False(t, c.IsAborted())
	return got, ok
}

func TestMiddlewareAuthenticate(t *testing.T) {
	store := storage.NewMemoryStore()
	tokens := token.NewService(store, locks.NewManager())
	created, err := tokens.Create(context.Background(), "agent-cline", "read,write", "proj-a", 0)
	require.NoError(t, err)
	m := NewMiddleware(tokens, "bootstrap-secret")

	t.Run("Should install the bootstrap identity", func(t *testing.T) {
		id, ok := runAuthenticated(t, m, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer bootstrap-secret")
		})
		require.True(t, ok)
		assert.Equal(t, "admin", id.ClientName)
		assert.True(t, id.IsAdmin())
	})
	t.Run("Should install a registry identity", func(t *testing.T) {
		id, ok := runAuthenticated(t, m, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+created.Token)
		})
		require.True(t, ok)
		assert.Equal(t, "agent-cline", id.ClientName)
		assert.Equal(t, []string{"proj-a"}, id.SpaceIDs)
	})
	t.Run("Should accept the token query parameter", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest("GET", "/sse?token="+created.Token, http.NoBody)
		handler := m.Authenticate()
		handler(c)
		id, ok := IdentityFromContext(c.Request.Context())
		require.True(t, ok)
		assert.Equal(t, "agent-cline", id.ClientName)
	})
	t.Run("Should continue unauthenticated without a token", func(t *testing.T) {
		_, ok := runAuthenticated(t, m, func(*http.Request) {})
		assert.False(t, ok)
	})
	t.Run("Should continue unauthenticated on an invalid token", func(t *testing.T) {
		_, ok := runAuthenticated(t, m, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer lm_invalid")
		})
		assert.False(t, ok)
	})
	t.Run("Should ignore an empty bootstrap key", func(t *testing.T) {
		open := NewMiddleware(tokens, "")
		_, ok := runAuthenticated(t, open, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer ")
		})
		assert.False(t, ok)
	})
	t.Run("Should resolve identities for the SSE context func", func(t *testing.T) {
		fn := m.ContextFunc()
		r := httptest.NewRequest("POST", "/message?sessionId=abc", http.NoBody)
		r.Header.Set("Authorization", "Bearer "+created.Token)
		id, ok := IdentityFromContext(fn(context.Background(), r))
		require.True(t, ok)
		assert.Equal(t, "agent-cline", id.ClientName)
	})
}
