package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/livemem/livemem/pkg/logger"
)

// LoggerMiddleware installs the logger into the request context and logs one
// line per completed request. SSE streams are logged when they close, which
// for long-lived sessions can be hours after the connect.
func LoggerMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		ctx := logger.ContextWithLogger(c.Request.Context(), log)
		c.Request = c.Request.WithContext(ctx)
		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}
		log.Info("Request completed",
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
			"path", path,
		)
	}
}
