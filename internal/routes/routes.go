// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial2rudics/internal/config"
	"serial2rudics/internal/handler"
	"serial2rudics/internal/middleware"
	"serial2rudics/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config    *config.Config
	logger    *zap.Logger
	version   string
	status    handler.StatusProvider
	scanner   handler.PortScanner
	websocket *handler.WebSocketHandler
}

// NewRouter creates a new router instance
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	version string,
	status handler.StatusProvider,
	scanner handler.PortScanner,
	websocket *handler.WebSocketHandler,
) *Router {
	return &Router{
		config:    config,
		logger:    logger,
		version:   version,
		status:    status,
		scanner:   scanner,
		websocket: websocket,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsDebugEnabled() {
		gin.SetMode(gin.DebugMode)
	} else {
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

	serviceLogger := utils.NewServiceLogger(r.logger, "status-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Status))
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.status, r.version, r.logger)
	healthHandler.RegisterRoutes(router.Group(""))

	statusHandler := handler.NewStatusHandler(r.status, r.scanner, r.logger)
	statusHandler.RegisterRoutes(router.Group("/api/v1"))

	if r.websocket != nil {
		r.websocket.RegisterRoutes(router.Group("/ws"))
	}

	r.logger.Debug("Status routes configured")
}
