package handlers

import (
	"net/http"
	"time"

	"github.com/AmberSignal/pulsestat-go/internal/application/queue"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/performance"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/persistence/database"
	"github.com/gin-gonic/gin"
)

// SystemHandlers contains operational endpoints
type SystemHandlers struct {
	db          *database.DB
	writer      *queue.Writer
	perfTracker *performance.Tracker
}

// NewSystemHandlers creates system handlers with injected dependencies
func NewSystemHandlers(db *database.DB, writer *queue.Writer, perfTracker *performance.Tracker) *SystemHandlers {
	return &SystemHandlers{
		db:          db,
		writer:      writer,
		perfTracker: perfTracker,
	}
}

// GetHealth handles GET /health - liveness plus a database ping.
func (h *SystemHandlers) GetHealth(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	if err := h.db.Ping(); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":     status,
		"queueDepth": h.writer.Depth(),
		"uptime":     h.perfTracker.Uptime().Round(time.Second).String(),
	})
}

// GetMetrics handles GET /api/v1/admin/metrics - recent operation timings
// for the admin dashboard.
func (h *SystemHandlers) GetMetrics(c *gin.Context) {
	within := time.Hour
	if raw := c.Query("within"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			within = parsed
		}
	}

	markers := h.perfTracker.RecentMetrics(within)

	type metricResponse struct {
		Operation string `json:"operation"`
		Duration  string `json:"duration"`
		Success   bool   `json:"success"`
		Error     string `json:"error,omitempty"`
	}

	out := make([]metricResponse, 0, len(markers))
	for _, m := range markers {
		out = append(out, metricResponse{
			Operation: m.Operation,
			Duration:  m.Duration.String(),
			Success:   m.Success,
			Error:     m.Error,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"within":     within.String(),
		"operations": out,
		"queueDepth": h.writer.Depth(),
	})
}
