package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"resume-ingest/internal/shared/telemetry"
)

// BatchIDKey is set by handlers that create or touch a batch so the access log can carry it.
const BatchIDKey = "batchId"

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		fields := map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"route":       c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": float64(latency.Microseconds()) / 1000.0,
			"user_id":     UserIDFromContext(c),
			"is_guest":    c.GetBool(isGuestKey),
			"batch_id":    c.GetString(BatchIDKey),
			"client_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
		}
		telemetry.Info("request.complete", fields)
	}
}
