package handlers

import (
	"net/http"
	"time"

	"github.com/AmberSignal/pulsestat-go/internal/application/services"
	"github.com/AmberSignal/pulsestat-go/internal/domain/telemetry"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/logging"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/performance"
	"github.com/gin-gonic/gin"
)

// StatsHandlers contains the dashboard-facing HTTP handlers
type StatsHandlers struct {
	statsService *services.StatsService
	logger       *logging.ChanneledLogger
	perfTracker  *performance.Tracker
}

// NewStatsHandlers creates stats handlers with injected dependencies
func NewStatsHandlers(statsService *services.StatsService, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *StatsHandlers {
	return &StatsHandlers{
		statsService: statsService,
		logger:       logger,
		perfTracker:  perfTracker,
	}
}

// rollupResponse is the wire shape for one rollup window.
type rollupResponse struct {
	WindowStart   int64          `json:"windowStart"`
	WindowEnd     int64          `json:"windowEnd"`
	OnlineUsers   int            `json:"onlineUsers"`
	VersionTotals map[string]int `json:"versionTotals"`
	BrowserTotals map[string]int `json:"browserTotals"`
	OSTotals      map[string]int `json:"osTotals"`
}

func toRollupResponses(rows []*telemetry.RollupRow) []rollupResponse {
	out := make([]rollupResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, rollupResponse{
			WindowStart:   row.WindowStart,
			WindowEnd:     row.WindowEnd,
			OnlineUsers:   row.OnlineUsers,
			VersionTotals: row.VersionTotals,
			BrowserTotals: row.BrowserTotals,
			OSTotals:      row.OSTotals,
		})
	}
	return out
}

// GetRollups handles GET /api/v1/stats/:granularity - closed windows for one
// tier, oldest first, optionally followed by the still-open current window
// when ?partial=true.
func (h *StatsHandlers) GetRollups(c *gin.Context) {
	marker := h.perfTracker.StartOperation("get_rollups_request")
	defer marker.Complete()

	g, err := telemetry.ParseGranularity(c.Param("granularity"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	includePartial := c.Query("partial") == "true"

	start := time.Now()
	rows, err := h.statsService.Rollups(g, includePartial)
	if err != nil {
		h.logger.Analytics().Error("Failed to load rollups", "granularity", g.String(), "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}

	h.logger.Analytics().Debug("Served rollup query",
		"granularity", g.String(), "windows", len(rows),
		"partial", includePartial, "duration", time.Since(start))
	marker.SetSuccess(true)

	c.JSON(http.StatusOK, gin.H{
		"granularity": g.String(),
		"windows":     toRollupResponses(rows),
	})
}

// GetSummary handles GET /api/v1/stats/summary - the current live picture:
// the open hour window built from raw heartbeats.
func (h *StatsHandlers) GetSummary(c *gin.Context) {
	marker := h.perfTracker.StartOperation("get_summary_request")
	defer marker.Complete()

	row, err := h.statsService.LiveSnapshot(time.Now())
	if err != nil {
		h.logger.Analytics().Error("Failed to build live snapshot", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}

	marker.SetSuccess(true)
	c.JSON(http.StatusOK, toRollupResponses([]*telemetry.RollupRow{row})[0])
}
