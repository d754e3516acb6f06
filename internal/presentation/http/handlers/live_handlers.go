package handlers

import (
	"net/http"

	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/messaging"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/logging"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// LiveHandlers upgrades dashboard connections onto the stats broadcaster.
type LiveHandlers struct {
	broadcaster *messaging.StatsBroadcaster
	logger      *logging.ChanneledLogger
	upgrader    websocket.Upgrader
}

// NewLiveHandlers creates live-stats handlers with injected dependencies
func NewLiveHandlers(broadcaster *messaging.StatsBroadcaster, logger *logging.ChanneledLogger) *LiveHandlers {
	return &LiveHandlers{
		broadcaster: broadcaster,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The socket only pushes aggregate stats, never client data,
			// so any dashboard origin may subscribe.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// GetLiveStats handles GET /api/v1/stats/live - websocket subscription to
// periodic snapshot pushes.
func (h *LiveHandlers) GetLiveStats(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Live().Error("Websocket upgrade failed", "error", err.Error())
		return
	}

	h.broadcaster.AddClient(conn)

	// Hold the read side open so close frames are processed; subscribers
	// never send application data.
	go func() {
		defer h.broadcaster.RemoveClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
