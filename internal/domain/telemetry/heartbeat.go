// Package telemetry defines the core domain entities for heartbeat ingestion
// and statistical rollups.
package telemetry

import "time"

// Heartbeat is the current state of one pseudonymous client. One row per
// client, overwritten on every ping (last-write-wins on all fields).
type Heartbeat struct {
	ClientID string
	Version  string
	Browser  string
	OS       string
	LastSeen int64 // epoch ms
}

// Touch stamps the heartbeat with the given observation time.
func (h *Heartbeat) Touch(t time.Time) {
	h.LastSeen = t.UnixMilli()
}
