// Package server composes the Live Memory service: every engine service wired
// onto one object store, the 30-tool MCP catalogue, and the SSE transport
// inside a gin router.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/livemem/livemem/engine/auth"
	"github.com/livemem/livemem/engine/backup"
	"github.com/livemem/livemem/engine/bank"
	"github.com/livemem/livemem/engine/consolidator"
	"github.com/livemem/livemem/engine/gc"
	"github.com/livemem/livemem/engine/graph"
	"github.com/livemem/livemem/engine/live"
	"github.com/livemem/livemem/engine/locks"
	"github.com/livemem/livemem/engine/space"
	"github.com/livemem/livemem/engine/storage"
	"github.com/livemem/livemem/engine/token"
	"github.com/livemem/livemem/pkg/config"
	"github.com/livemem/livemem/pkg/logger"
	"github.com/livemem/livemem/pkg/version"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

const (
	httpReadHeaderTimeout = 10 * time.Second
	httpIdleTimeout       = 120 * time.Second
	serverShutdownTimeout = 10 * time.Second
	serverStartProbeDelay = 100 * time.Millisecond
)

// App carries the composed services. Construction is explicit in New; there
// are no package-level singletons.
type App struct {
	cfg   *config.Config
	store storage.Store
	log   logger.Logger

	locks     *locks.Manager
	tokens    *token.Service
	authMW    *auth.Middleware
	spaces    *space.Service
	live      *live.Service
	completer consolidator.Completer
	bank      *bank.Service
	gc        *gc.Service
	backups   *backup.Service
	graph     *graph.Service

	mcp       *mcpserver.MCPServer
	sse       *mcpserver.SSEServer
	tools     []toolInfo
	startedAt time.Time
}

// New wires every service onto the given store and registers the full tool
// catalogue. The completer stays nil when the LLM endpoint is not configured;
// consolidation then fails with a clear error while everything else works.
func New(cfg *config.Config, store storage.Store) (*App, error) {
	a := &App{
		cfg:       cfg,
		store:     store,
		log:       logger.GetDefault(),
		startedAt: time.Now(),
	}

	a.locks = locks.NewManager()
	a.tokens = token.NewService(store, a.locks)
	a.authMW = auth.NewMiddleware(a.tokens, cfg.AdminBootstrapKey)
	a.spaces = space.NewService(store)
	a.live = live.NewService(store)

	if cfg.LLMConfigured() {
		completer, err := consolidator.NewOpenAICompleter(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build LLM completer: %w", err)
		}
		a.completer = completer
	}
	cons := consolidator.NewService(store, a.completer, cfg)
	a.bank = bank.NewService(store, a.locks, cons)
	a.gc = gc.NewService(store, a.live, a.bank)
	a.backups = backup.NewService(store)
	a.graph = graph.NewService(store, graph.DialSSE)

	a.mcp = mcpserver.NewMCPServer(
		cfg.ServerName,
		version.GetVersion(),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)
	a.sse = mcpserver.NewSSEServer(a.mcp,
		mcpserver.WithBaseURL(a.baseURL()),
		mcpserver.WithSSEContextFunc(a.toolContext),
		mcpserver.WithKeepAlive(true),
	)

	a.registerTools()
	return a, nil
}

// baseURL is what clients see in the SSE endpoint event. Deployments behind a
// proxy set MCP_PUBLIC_BASE_URL; otherwise the bind address is assumed
// reachable.
func (a *App) baseURL() string {
	if a.cfg.PublicBaseURL != "" {
		return a.cfg.PublicBaseURL
	}
	return fmt.Sprintf("http://%s:%d", a.cfg.Host, a.cfg.Port)
}

// toolContext rebuilds the per-call context for MCP tool handlers. The SSE
// server derives tool contexts from the raw HTTP request, not the gin chain,
// so the logger and the caller identity are installed here.
func (a *App) toolContext(ctx context.Context, r *http.Request) context.Context {
	ctx = logger.ContextWithLogger(ctx, a.log)
	return a.authMW.Resolve(ctx, r)
}

// Start runs the HTTP server until ctx is canceled or the listener fails,
// then shuts down gracefully. SSE streams stay open for the whole session, so
// the server carries no write timeout; slow-client protection is the read
// header timeout.
func (a *App) Start(ctx context.Context) error {
	log := logger.FromContext(ctx)
	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: httpReadHeaderTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server failed: %w", err)
			return
		}
		errChan <- nil
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return err
		}
	case <-time.After(serverStartProbeDelay):
	case <-ctx.Done():
		return a.shutdown(httpServer)
	}

	log.Info("Live Memory server started",
		"addr", addr, "base_url", a.baseURL(),
		"version", version.GetVersion(), "tools", len(a.tools))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		return a.shutdown(httpServer)
	case err := <-errChan:
		if err != nil {
			return err
		}
		return a.shutdown(httpServer)
	}
}

func (a *App) shutdown(httpServer *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := a.sse.Shutdown(ctx); err != nil && err != context.DeadlineExceeded {
		a.log.Error("SSE server shutdown failed", "error", err)
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	a.log.Info("Live Memory server stopped")
	return nil
}

// Run composes the store from the configuration and serves until ctx ends.
// The CLI entrypoint for production; tests and the --memory flag build the
// App directly around their own store.
func Run(ctx context.Context, cfg *config.Config, store storage.Store) error {
	app, err := New(cfg, store)
	if err != nil {
		return err
	}
	return app.Start(ctx)
}
