// internal/middleware/recovery_middleware.go
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/andrewleech/mpy-devices/internal/handler"
)

// RecoveryMiddleware converts handler panics into a 500 response so a
// bad request never takes the whole device service down.
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	log := logger.With(zap.String("component", "http-server"))
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error("Panic recovered",
			zap.Any("panic", recovered),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString("request_id")),
			zap.Stack("stacktrace"),
		)

		handler.ErrorResponse(c, http.StatusInternalServerError, "Internal server error", nil)
	})
}
