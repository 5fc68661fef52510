package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"habitat/internal/config"
	"habitat/internal/constants"
	"habitat/internal/logger"
	"habitat/pkg/health"
	"habitat/pkg/middleware"
	"habitat/pkg/ratelimit"
	"habitat/pkg/tracing"
)

type RouterOptions struct {
	Config  *config.Config
	Handler *Handler
	Health  *health.CheckerRegistry
	// Feed serves the websocket telemetry feed; nil leaves the path unrouted.
	Feed gin.HandlerFunc
	// Admin verifies operator tokens for sink management; nil closes those
	// endpoints.
	Admin  *middleware.TokenVerifier
	Logger logger.Logger
}

// NewRouter builds the HTTP surface. ctx bounds background work such as
// the rate limiter's sweeper.
func NewRouter(ctx context.Context, opts RouterOptions) *gin.Engine {
	router := gin.New()
	cfg := opts.Config

	if cfg.Tracing.Enabled {
		serviceName := cfg.Tracing.ServiceName
		if serviceName == "" {
			serviceName = constants.ServiceName
		}
		router.Use(tracing.GinMiddleware(serviceName))
	}

	router.Use(middleware.Recovery(opts.Logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(opts.Logger))

	// Only uploads are rate limited; the operator endpoints stay reachable
	// under load.
	var ingestion []gin.HandlerFunc
	if rl := cfg.Ingestion.RateLimit; rl.Enabled {
		limiter := ratelimit.New(ctx, ratelimit.Config{
			RPS:             rl.RPS,
			Burst:           rl.Burst,
			CleanupInterval: time.Duration(rl.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(rl.MaxAge) * time.Second,
		})
		ingestion = append(ingestion, limiter.Middleware())
		opts.Logger.InfowCtx(ctx, "Rate limiting enabled", "rps", rl.RPS, "burst", rl.Burst)
	}

	admin := []gin.HandlerFunc{middleware.RequireAdmin(opts.Admin, opts.Logger)}
	if opts.Admin == nil {
		opts.Logger.WarnwCtx(ctx, "Admin authentication not configured, sink management endpoints are closed")
	}

	opts.Handler.RegisterRoutes(router, ingestion, admin)

	if opts.Feed != nil && cfg.Feed.Path != "" {
		router.GET(cfg.Feed.Path, opts.Feed)
	}

	if opts.Health != nil {
		router.GET("/health", func(c *gin.Context) {
			h := opts.Health.Check(c.Request.Context())
			statusCode := http.StatusOK
			if h.Status == health.StatusUnhealthy {
				statusCode = http.StatusServiceUnavailable
			}
			c.JSON(statusCode, h)
		})
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return router
}
