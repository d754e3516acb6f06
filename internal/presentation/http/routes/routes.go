// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"github.com/AmberSignal/pulsestat-go/internal/application/container"
	"github.com/AmberSignal/pulsestat-go/internal/presentation/http/handlers"
	"github.com/AmberSignal/pulsestat-go/internal/presentation/http/middleware"
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
func SetupRoutes(c *container.Container, limiter *middleware.RateLimiter) *gin.Engine {
	r := gin.Default()

	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.RequestID())

	// Initialize handlers
	heartbeatHandlers := handlers.NewHeartbeatHandlers(c.IngestService, c.Logger, c.PerfTracker)
	statsHandlers := handlers.NewStatsHandlers(c.StatsService, c.Logger, c.PerfTracker)
	authHandlers := handlers.NewAuthHandlers(c.AuthService, c.Logger)
	liveHandlers := handlers.NewLiveHandlers(c.Broadcaster, c.Logger)
	systemHandlers := handlers.NewSystemHandlers(c.DB, c.Writer, c.PerfTracker)

	api := r.Group("/api/v1")
	{
		api.GET("/health", systemHandlers.GetHealth)

		// Ingestion. The rate limiter is scoped to this route only; stats
		// reads are never throttled.
		api.POST("/heartbeat", limiter.Middleware(), heartbeatHandlers.PostHeartbeat)

		api.POST("/auth/login", authHandlers.PostLogin)

		stats := api.Group("/stats")
		{
			stats.GET("/summary", statsHandlers.GetSummary)
			stats.GET("/live", liveHandlers.GetLiveStats)
			// Registered last so the literal routes above win. Historical
			// windows carry the full distributions and sit behind the
			// operator token; the summary and live feed expose only the
			// open-window snapshot.
			stats.GET("/:granularity", authHandlers.RequireAdmin(), statsHandlers.GetRollups)
		}

		admin := api.Group("/admin")
		admin.Use(authHandlers.RequireAdmin())
		{
			admin.GET("/metrics", systemHandlers.GetMetrics)
		}
	}

	return r
}
