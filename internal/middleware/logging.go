// Package middleware provides HTTP middleware functions for request logging and processing.
package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stwalsh4118/airwave/internal/logger"
)

// RequestLogger returns a Gin middleware for logging HTTP requests.
// redact scrubs credentials from the logged query string and may be nil.
func RequestLogger(redact func(string) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		if query != "" && redact != nil {
			query = strings.TrimPrefix(redact("?"+query), "?")
		}

		c.Next()

		duration := time.Since(start)

		event := logger.Log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP())
		if query != "" {
			event = event.Str("query", query)
		}
		event.Msg("HTTP request")

		// Log errors separately if any occurred during request processing
		if len(c.Errors) > 0 {
			logger.Log.Error().
				Strs("errors", c.Errors.Errors()).
				Str("path", path).
				Msg("Request completed with errors")
		}
	}
}
