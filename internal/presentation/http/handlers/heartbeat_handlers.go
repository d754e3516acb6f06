// Package handlers provides HTTP request handlers for the presentation layer.
package handlers

import (
	"net/http"
	"time"

	"github.com/AmberSignal/pulsestat-go/internal/application/services"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/logging"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/performance"
	"github.com/gin-gonic/gin"
)

// HeartbeatHandlers contains the ingestion-facing HTTP handlers
type HeartbeatHandlers struct {
	ingestService *services.IngestService
	logger        *logging.ChanneledLogger
	perfTracker   *performance.Tracker
}

// NewHeartbeatHandlers creates heartbeat handlers with injected dependencies
func NewHeartbeatHandlers(ingestService *services.IngestService, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *HeartbeatHandlers {
	return &HeartbeatHandlers{
		ingestService: ingestService,
		logger:        logger,
		perfTracker:   perfTracker,
	}
}

// PostHeartbeat handles POST /api/v1/heartbeat - extension check-in ingestion.
// Acceptance means enqueued, not persisted; the write queue applies records
// in arrival order behind this response.
func (h *HeartbeatHandlers) PostHeartbeat(c *gin.Context) {
	marker := h.perfTracker.StartOperation("post_heartbeat_request")
	defer marker.Complete()

	var req services.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Ingest().Debug("Heartbeat request with malformed body", "error", err.Error())
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.ingestService.Validate(&req); err != nil {
		h.logger.Ingest().Debug("Heartbeat request failed validation", "error", err.Error())
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.ingestService.Accept(&req, time.Now())

	marker.SetSuccess(true)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
