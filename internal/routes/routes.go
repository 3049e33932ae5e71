// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial-device/internal/config"
	"serial-device/internal/handler"
	"serial-device/internal/metrics"
	"serial-device/internal/middleware"
	"serial-device/internal/service"
	"serial-device/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config        *config.Config
	logger        *zap.Logger
	deviceService *service.DeviceService
	eventBus      *handler.EventBus
	metrics       *metrics.Metrics
	wsHandler     *handler.WebSocketHandler
}

// NewRouter creates a new router instance
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	deviceService *service.DeviceService,
	eventBus *handler.EventBus,
	metrics *metrics.Metrics,
) *Router {
	return &Router{
		config:        config,
		logger:        logger,
		deviceService: deviceService,
		eventBus:      eventBus,
		metrics:       metrics,
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

// Close releases the WebSocket clients held by the router
func (r *Router) Close() {
	if r.wsHandler != nil {
		r.wsHandler.Close()
	}
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Security))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.deviceService, r.config, r.logger)
	deviceHandler := handler.NewDeviceHandler(r.deviceService, r.logger)
	discoveryHandler := handler.NewDiscoveryHandler(r.deviceService, r.logger)
	r.wsHandler = handler.NewWebSocketHandler(r.deviceService, r.eventBus, r.config.Security.AllowedOrigins, r.logger)

	healthHandler.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(r.metrics.Handler()))

	apiV1 := router.Group("/api/v1")
	deviceHandler.RegisterRoutes(apiV1)
	discoveryHandler.RegisterRoutes(apiV1)

	r.wsHandler.RegisterRoutes(router.Group("/ws"))

	r.logger.Info("All routes configured successfully")
}
