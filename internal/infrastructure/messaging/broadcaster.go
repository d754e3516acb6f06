// Package messaging provides the live stats broadcaster for websocket clients.
package messaging

import (
	"encoding/json"
	"sync"

	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/logging"
	"github.com/gorilla/websocket"
)

// StatsBroadcaster fans out open-window stat snapshots to connected
// dashboard clients. Snapshots are advisory; the store remains the single
// source of truth and clients must tolerate staleness.
type StatsBroadcaster struct {
	clients map[*websocket.Conn]bool
	mu      sync.Mutex
	logger  *logging.ChanneledLogger
}

// NewStatsBroadcaster creates a broadcaster with no connected clients.
func NewStatsBroadcaster(logger *logging.ChanneledLogger) *StatsBroadcaster {
	return &StatsBroadcaster{
		clients: make(map[*websocket.Conn]bool),
		logger:  logger,
	}
}

// AddClient registers a websocket connection for snapshot delivery.
func (b *StatsBroadcaster) AddClient(conn *websocket.Conn) {
	b.mu.Lock()
	b.clients[conn] = true
	count := len(b.clients)
	b.mu.Unlock()

	b.logger.Live().Debug("Live stats client registered", "clientCount", count)
}

// RemoveClient unregisters a connection and closes it.
func (b *StatsBroadcaster) RemoveClient(conn *websocket.Conn) {
	b.mu.Lock()
	delete(b.clients, conn)
	count := len(b.clients)
	b.mu.Unlock()

	conn.Close()
	b.logger.Live().Debug("Live stats client unregistered", "clientCount", count)
}

// ClientCount returns the number of connected clients.
func (b *StatsBroadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Broadcast sends the payload to every connected client. Connections that
// fail to write are dropped.
func (b *StatsBroadcaster) Broadcast(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Live().Error("Failed to marshal live stats payload", "error", err.Error())
		return
	}

	b.mu.Lock()
	var stale []*websocket.Conn
	for conn := range b.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			stale = append(stale, conn)
		}
	}
	for _, conn := range stale {
		delete(b.clients, conn)
		conn.Close()
	}
	b.mu.Unlock()

	if len(stale) > 0 {
		b.logger.Live().Debug("Dropped stale live stats clients", "dropped", len(stale))
	}
}
