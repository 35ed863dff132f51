package api

import (
	"github.com/gin-gonic/gin"

	"github.com/3-stardust-7/JarNox/internal/api/handlers"
	"github.com/3-stardust-7/JarNox/internal/api/middleware"
	"github.com/3-stardust-7/JarNox/internal/pkg/config"
	"github.com/3-stardust-7/JarNox/internal/pkg/logger"
)

// Router holds all dependencies for API routing
type Router struct {
	engine        *gin.Engine
	config        *config.Config
	healthHandler *handlers.HealthHandler
	marketHandler *handlers.MarketHandler
}

// NewRouter creates a new API router with all dependencies
func NewRouter(cfg *config.Config, service handlers.MarketService, store handlers.HealthReporter, version string) *Router {
	gin.SetMode(cfg.Server.Mode)

	router := &Router{
		engine:        gin.New(),
		config:        cfg,
		healthHandler: handlers.NewHealthHandler(store, version),
		marketHandler: handlers.NewMarketHandler(service),
	}

	router.setupMiddlewares()
	router.setupRoutes()

	return router
}

// setupMiddlewares configures all global middlewares
func (r *Router) setupMiddlewares() {
	// Recovery middleware (must be first)
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())

	loggingCfg := middleware.LoggingConfig{
		SkipPaths: []string{"/ping", "/health", "/health/ready"},
	}
	if r.config.Logging.FileEnabled {
		accessLogger := logger.NewAccessLogger(
			r.config.Logging.FilePath,
			r.config.Logging.RotationSize,
			r.config.Logging.RetentionDays,
		)
		loggingCfg.AccessLogger = &accessLogger
	}
	r.engine.Use(middleware.Logging(loggingCfg))

	r.engine.Use(middleware.CORS(middleware.DefaultCORSConfig()))
}

// setupRoutes configures all API routes
func (r *Router) setupRoutes() {
	// Health checks (no /api prefix)
	r.engine.GET("/ping", r.healthHandler.Ping)
	r.engine.GET("/health", r.healthHandler.Health)
	r.engine.GET("/health/ready", r.healthHandler.Ready)
	r.engine.GET("/api/health/detailed", r.healthHandler.Detailed)

	r.engine.GET("/companies", r.marketHandler.GetCompanies)
	r.engine.POST("/populate-companies", r.marketHandler.PopulateCompanies)
	r.engine.GET("/historical/:ticker", r.marketHandler.GetHistorical)
	r.engine.GET("/db-status", r.marketHandler.DBStatus)
}

// Engine returns the underlying Gin engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}
