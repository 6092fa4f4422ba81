package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/livemem/livemem/engine/token"
	"github.com/livemem/livemem/pkg/logger"
)

// Middleware resolves bearer tokens into identities. It recognizes the
// configured bootstrap key ahead of the registry, so a fresh deployment can
// authenticate before any token exists.
type Middleware struct {
	tokens       *token.Service
	bootstrapKey string
}

func NewMiddleware(tokens *token.Service, bootstrapKey string) *Middleware {
	return &Middleware{tokens: tokens, bootstrapKey: bootstrapKey}
}

// Authenticate extracts a bearer token from the Authorization header or the
// `token` query parameter (the latter authenticates SSE streams opened by
// browsers), validates it and installs the identity into the request context.
// Absent or invalid tokens install nothing; the request continues so public
// tools can still run, and per-tool checks decide the rest.
func (m *Middleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(m.Resolve(c.Request.Context(), c.Request))
		c.Next()
	}
}

// ContextFunc adapts Resolve for the MCP SSE server, which rebuilds tool
// contexts from the incoming HTTP request rather than the gin chain.
func (m *Middleware) ContextFunc() func(ctx context.Context, r *http.Request) context.Context {
	return m.Resolve
}

// Resolve returns ctx with the caller identity installed when the request
// carries a valid token, and ctx unchanged otherwise.
func (m *Middleware) Resolve(ctx context.Context, r *http.Request) context.Context {
	cleartext := extractToken(r)
	if cleartext == "" {
		return ctx
	}
	id, ok := m.resolve(ctx, cleartext)
	if !ok {
		logger.FromContext(ctx).Debug("bearer token rejected")
		return ctx
	}
	logger.FromContext(ctx).Debug("request authenticated", "client", id.ClientName)
	return WithIdentity(ctx, id)
}

func (m *Middleware) resolve(ctx context.Context, cleartext string) (*token.Identity, bool) {
	if m.bootstrapKey != "" && cleartext == m.bootstrapKey {
		return token.Bootstrap(), true
	}
	return m.tokens.Validate(ctx, cleartext)
}

func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return r.URL.Query().Get("token")
}
