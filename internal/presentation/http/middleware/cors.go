package middleware

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/AmberSignal/pulsestat-go/pkg/config"
)

// CORSMiddleware configures cross-origin access for the dashboard and the
// browser extensions. Heartbeats arrive from extension origins that cannot
// be enumerated ahead of time, so origins are wildcarded and credentials
// stay disabled.
func CORSMiddleware() gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			"X-Request-ID",
		},
		AllowCredentials: false,
		ExposeHeaders: []string{
			"Content-Type", "Cache-Control", "X-Request-ID",
		},
	}

	if len(config.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = config.AllowedOrigins
	}

	return cors.New(corsConfig)
}
