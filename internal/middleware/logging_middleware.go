// internal/middleware/logging_middleware.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingMiddleware logs each request with method, path, status, and
// duration. 4xx logs at warn, 5xx at error.
func LoggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	log := logger.With(zap.String("component", "http-server"))
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		duration := time.Since(startTime)

		status := c.Writer.Status()
		level := zapcore.InfoLevel
		if status >= 400 {
			level = zapcore.WarnLevel
		}
		if status >= 500 {
			level = zapcore.ErrorLevel
		}

		if ce := log.Check(level, "API request"); ce != nil {
			ce.Write(
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
				zap.Int("status_code", status),
				zap.Duration("duration", duration),
			)
		}
	}
}
