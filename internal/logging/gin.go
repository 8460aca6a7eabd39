package logging

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GinLogger logs each request's method, path, status and latency through
// the shared logrus logger. Mirrors CLIProxyAPIPlus's GinLogrusLogger,
// trimmed to this proxy's surface (no per-model/provider enrichment,
// since the health/admin API has no notion of either).
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		requestID := uuid.NewString()
		c.Set("request_id", requestID)

		c.Next()

		entry := base.WithField("request_id", requestID).
			WithField("status", c.Writer.Status()).
			WithField("latency", time.Since(start)).
			WithField("client_ip", c.ClientIP())

		if len(c.Errors) > 0 {
			entry.Warn(path + " " + c.Errors.String())
			return
		}
		entry.Infof("%s %s", c.Request.Method, path)
	}
}

// GinRecovery recovers panics inside handlers, logs them with a stack
// trace, and responds 500 instead of letting the connection die — the
// same shape as CLIProxyAPIPlus's GinLogrusRecovery.
func GinRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				base.WithField("panic", r).
					WithField("stack", string(debug.Stack())).
					Error("recovered from panic")
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}
