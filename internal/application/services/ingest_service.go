package services

import (
	"fmt"
	"html"
	"time"

	"github.com/AmberSignal/pulsestat-go/internal/application/queue"
	"github.com/AmberSignal/pulsestat-go/internal/domain/telemetry"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/logging"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/security"
	"github.com/AmberSignal/pulsestat-go/pkg/config"
)

// HeartbeatRequest is the inbound ping payload. Pointer fields distinguish
// absent from empty; an absent optional field contributes to onlineUsers but
// to no distribution.
type HeartbeatRequest struct {
	ClientID *string `json:"clientId"`
	Version  *string `json:"version"`
	Browser  *string `json:"browser"`
	OS       *string `json:"os"`
}

// IngestService validates, sanitizes, and pseudonymizes heartbeats before
// handing them to the write-serialization queue.
type IngestService struct {
	writer *queue.Writer
	salt   string
	logger *logging.ChanneledLogger
}

// NewIngestService creates the ingestion service.
func NewIngestService(writer *queue.Writer, salt string, logger *logging.ChanneledLogger) *IngestService {
	return &IngestService{
		writer: writer,
		salt:   salt,
		logger: logger,
	}
}

// Validate checks field presence and bounds. Validation failures are
// client errors, rejected synchronously and never logged as anomalies.
func (s *IngestService) Validate(req *HeartbeatRequest) error {
	maxLen := config.MaxFieldLength

	if req.ClientID == nil || *req.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	if len(*req.ClientID) > maxLen {
		return fmt.Errorf("clientId exceeds %d characters", maxLen)
	}

	for name, field := range map[string]*string{
		"version": req.Version,
		"browser": req.Browser,
		"os":      req.OS,
	} {
		if field != nil && len(*field) > maxLen {
			return fmt.Errorf("%s exceeds %d characters", name, maxLen)
		}
	}

	return nil
}

// Accept turns a validated request into a pseudonymized heartbeat and
// enqueues it. The caller acknowledges immediately; the write commits
// asynchronously.
func (s *IngestService) Accept(req *HeartbeatRequest, now time.Time) {
	h := &telemetry.Heartbeat{
		ClientID: security.PseudonymizeID(*req.ClientID, s.salt),
		Version:  sanitize(req.Version),
		Browser:  sanitize(req.Browser),
		OS:       sanitize(req.OS),
	}
	h.Touch(now)

	s.writer.Enqueue(h)

	s.logger.Ingest().Debug("Heartbeat enqueued",
		"clientId", h.ClientID,
		"queueDepth", s.writer.Depth())
}

// sanitize HTML-escapes free-text label values before storage.
func sanitize(field *string) string {
	if field == nil {
		return ""
	}
	return html.EscapeString(*field)
}
