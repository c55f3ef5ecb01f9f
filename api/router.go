package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/casescan/api/handler"
	"github.com/use-agent/casescan/api/middleware"
	"github.com/use-agent/casescan/cache"
	"github.com/use-agent/casescan/config"
)

// Deps are the services behind the HTTP API.
type Deps struct {
	Runner  handler.Runner
	Pool    handler.PoolStatser
	Batches *handler.Batches

	// Store serves the case history endpoint; nil when persistence is off.
	Store handler.ArtifactStore

	// Cache is optional.
	Cache *cache.Cache
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health stays outside auth for monitoring.
func NewRouter(deps Deps, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health needs no auth.
	v1.GET("/health", handler.Health(deps.Pool, startTime))

	// Protected group: auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	protected.POST("/scan", handler.Scan(deps.Runner, deps.Cache))

	protected.POST("/batch/scan", deps.Batches.Post())
	protected.GET("/batch/:id", deps.Batches.Get())

	if deps.Store != nil {
		protected.GET("/cases/:id", handler.GetCase(deps.Store))
	}

	return r
}
