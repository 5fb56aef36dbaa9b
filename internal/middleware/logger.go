package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/consult-lifecycle/pkg/logger"
)

// Logger returns a middleware that logs HTTP requests. Bodies are never
// logged since they carry patient data.
func Logger(log *logger.Logger) gin.HandlerFunc {
	zl := log.Zerolog()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		event := zl.Info()
		msg := "Request processed"
		switch {
		case statusCode >= 500:
			event = zl.Error()
			msg = "Server error"
			if err := c.Errors.Last(); err != nil {
				event = event.Err(err.Err)
			}
		case statusCode >= 400:
			event = zl.Warn()
			msg = "Client error"
		}

		if actor, ok := ActorFrom(c); ok {
			event = event.Str("actor_role", string(actor.Role))
		}
		event.
			Str("request_id", c.GetString(ContextRequestID)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("client_ip", c.ClientIP()).
			Int("status", statusCode).
			Dur("latency", latency).
			Msg(msg)
	}
}
