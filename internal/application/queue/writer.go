// Package queue provides the write-serialization queue between concurrent
// request handlers and the client record store.
package queue

import (
	"context"
	"sync"

	"github.com/AmberSignal/pulsestat-go/internal/domain/telemetry"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/logging"
)

// Writer serializes all heartbeat upserts through a single consumer.
// Producers run concurrently; Enqueue never blocks and never fails
// (bounded only by memory). The pending tail is not persisted, so an
// unflushed tail is lost on crash; a stale write is strictly better than
// blocking the ingestion pipeline.
type Writer struct {
	repo   telemetry.HeartbeatRepository
	logger *logging.ChanneledLogger

	mu      sync.Mutex
	pending []*telemetry.Heartbeat
	wake    chan struct{}
}

// NewWriter creates a writer for the given repository. Call Start exactly
// once to begin draining.
func NewWriter(repo telemetry.HeartbeatRepository, logger *logging.ChanneledLogger) *Writer {
	return &Writer{
		repo:    repo,
		logger:  logger,
		pending: make([]*telemetry.Heartbeat, 0, 64),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue appends a validated heartbeat to the tail. FIFO order is
// preserved; heartbeats from the same client are applied in the order they
// were enqueued.
func (w *Writer) Enqueue(h *telemetry.Heartbeat) {
	w.mu.Lock()
	w.pending = append(w.pending, h)
	depth := len(w.pending)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}

	if depth > 1000 {
		w.logger.Ingest().Warn("Write queue backlog growing", "depth", depth)
	}
}

// Depth returns the number of records waiting to be applied.
func (w *Writer) Depth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Start runs the single consumer loop until ctx is cancelled. On
// cancellation the remaining backlog is drained once before returning, so a
// graceful shutdown loses nothing that was acknowledged.
func (w *Writer) Start(ctx context.Context) {
	w.logger.Ingest().Info("Write-serialization queue consumer started")

	for {
		select {
		case <-ctx.Done():
			w.drain()
			w.logger.Ingest().Info("Write-serialization queue consumer stopped")
			return
		case <-w.wake:
			w.drain()
		}
	}
}

// drain applies all currently pending records in submission order, one at a
// time. A write failure is logged and the record dropped; never retried,
// never requeued, since retrying risks unbounded growth on a persistently
// broken store.
func (w *Writer) drain() {
	w.mu.Lock()
	batch := w.pending
	w.pending = make([]*telemetry.Heartbeat, 0, 64)
	w.mu.Unlock()

	for _, h := range batch {
		if err := w.repo.Upsert(h); err != nil {
			w.logger.Ingest().Error("Dropping heartbeat after failed write",
				"error", err.Error(),
				"clientId", h.ClientID)
		}
	}
}
