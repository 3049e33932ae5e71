// internal/middleware/logging_middleware.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"serial-device/internal/utils"
)

// LoggingMiddleware logs one line per request using the matched route
// pattern, so device names do not explode the path cardinality.
func LoggingMiddleware(logger *utils.ServiceLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		logger.LogAPIRequest(
			c.Request.Method,
			path,
			c.ClientIP(),
			c.GetString(utils.RequestIDKey),
			c.Writer.Status(),
			time.Since(startTime),
		)
	}
}
