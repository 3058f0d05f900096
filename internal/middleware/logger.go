package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/guttosm/equitypanel/internal/logger"
)

// RequestLogger logs one structured line per request once the handler
// chain has finished.
//
// Fields: request_id (when RequestID() runs first), method, path, query,
// status, latency_ms, client_ip and, for failed requests, the number of
// errors collected on the gin context.
//
// Usage:
//
//	router := gin.New()
//	router.Use(middleware.RequestID(), middleware.RequestLogger())
func RequestLogger() gin.HandlerFunc {
	log := logger.Component("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		rid, _ := c.Get(RequestIDKey)

		ev := log.Info()
		if status >= 500 {
			ev = log.Error()
		} else if status >= 400 {
			ev = log.Warn()
		}
		if n := len(c.Errors); n > 0 {
			ev = ev.Int("errors", n)
		}
		ev.Str("request_id", toString(rid)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", status).
			Int64("latency_ms", time.Since(start).Milliseconds()).
			Str("client_ip", c.ClientIP()).
			Msg("http_request")
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
