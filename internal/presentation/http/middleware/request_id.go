package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/security"
)

// RequestID tags every request with a ULID so log lines from different
// channels can be correlated. An inbound X-Request-ID from a trusted proxy
// is preserved.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = security.GenerateULID()
		}
		c.Set("requestID", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}
