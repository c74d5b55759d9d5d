// internal/routes/routes.go
package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/andrewleech/mpy-devices/internal/config"
	"github.com/andrewleech/mpy-devices/internal/handler"
	"github.com/andrewleech/mpy-devices/internal/middleware"
	"github.com/andrewleech/mpy-devices/internal/query"
	"github.com/andrewleech/mpy-devices/internal/store"
)

// Router holds all dependencies for routing
type Router struct {
	config   *config.Config
	logger   *zap.Logger
	service  *query.Service
	history  *store.HistoryStore
	eventBus *handler.EventBus
}

// NewRouter creates a new router instance. history may be nil.
func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	service *query.Service,
	history *store.HistoryStore,
	eventBus *handler.EventBus,
) *Router {
	return &Router{
		config:   cfg,
		logger:   logger,
		service:  service,
		history:  history,
		eventBus: eventBus,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware(r.logger))
	router.Use(middleware.CORSMiddleware(&r.config.Server))
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.config)
	deviceHandler := handler.NewDeviceHandler(r.service, r.history, r.eventBus, r.queryTimeout(), r.logger)
	wsHandler := handler.NewWebSocketHandler(r.eventBus, r.logger)

	router.GET("/healthz", healthHandler.Health)

	apiV1 := router.Group("/api/v1")
	{
		apiV1.GET("/devices", deviceHandler.ListDevices)
		apiV1.GET("/query", deviceHandler.QueryDevice)
		apiV1.GET("/history", deviceHandler.History)
	}

	router.GET("/ws", wsHandler.HandleEventConnection)

	r.logger.Info("All routes configured successfully")
}

func (r *Router) queryTimeout() time.Duration {
	if r.config.Query.Timeout > 0 {
		return r.config.Query.Timeout
	}
	return 10 * time.Second
}
