package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/livemem/livemem/pkg/version"
)

// Router builds the gin engine serving the MCP transport. Three routes: the
// SSE stream, the session message endpoint, and a liveness probe for load
// balancers. Everything else is a tool call.
func (a *App) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(a.log))
	router.Use(a.authMW.Authenticate())

	router.GET("/health", a.healthzHandler)
	router.GET("/sse", gin.WrapH(a.sse.SSEHandler()))
	router.POST("/message", gin.WrapH(a.sse.MessageHandler()))
	return router
}

// healthzHandler answers liveness probes. The deep check (S3, LLM) is the
// system_health tool; this endpoint only proves the process serves HTTP.
func (a *App) healthzHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   a.cfg.ServerName,
		"version":   version.GetVersion(),
		"timestamp": time.Now().UTC(),
	})
}
