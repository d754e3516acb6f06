// Package telemetry provides the concrete SQL-based implementations
// for heartbeat and rollup persistence.
//
// PURPOSE: Store the latest per-client heartbeat state as pings arrive and
// serve window-range scans for the rollup jobs.
//
// The heartbeats table is swept by the hourly rollup job; rows never live
// longer than one aggregated hour.
package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/AmberSignal/pulsestat-go/internal/domain/telemetry"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/logging"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/persistence/database"
)

// SQLHeartbeatRepository handles per-client heartbeat persistence.
type SQLHeartbeatRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewSQLHeartbeatRepository creates a new instance of the repository.
func NewSQLHeartbeatRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLHeartbeatRepository {
	return &SQLHeartbeatRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts or overwrites the row for the heartbeat's client.
// Last-write-wins on every column.
func (r *SQLHeartbeatRepository) Upsert(h *telemetry.Heartbeat) error {
	const query = `
		INSERT INTO heartbeats (client_id, version, browser, os, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			version = excluded.version,
			browser = excluded.browser,
			os = excluded.os,
			last_seen = excluded.last_seen`

	start := time.Now()
	r.logger.Database().Debug("Executing heartbeat upsert", "clientId", h.ClientID, "lastSeen", h.LastSeen)

	_, err := r.db.Exec(query,
		h.ClientID,
		nullable(h.Version),
		nullable(h.Browser),
		nullable(h.OS),
		h.LastSeen,
	)
	if err != nil {
		r.logger.Database().Error("Heartbeat upsert failed", "error", err.Error(), "clientId", h.ClientID)
		return fmt.Errorf("failed to upsert heartbeat: %w", err)
	}

	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return nil
}

// FindInRange retrieves heartbeats with last_seen in [startMs, endMs).
func (r *SQLHeartbeatRepository) FindInRange(startMs, endMs int64) ([]*telemetry.Heartbeat, error) {
	const query = `
		SELECT client_id, version, browser, os, last_seen
		FROM heartbeats
		WHERE last_seen >= ? AND last_seen < ?
		ORDER BY last_seen ASC`

	start := time.Now()
	rows, err := r.db.Query(query, startMs, endMs)
	if err != nil {
		r.logger.Database().Error("Heartbeat range query failed", "error", err.Error(), "startMs", startMs, "endMs", endMs)
		return nil, fmt.Errorf("failed to query heartbeats in range: %w", err)
	}
	defer rows.Close()

	var heartbeats []*telemetry.Heartbeat
	for rows.Next() {
		var h telemetry.Heartbeat
		var version, browser, osName *string
		if err := rows.Scan(&h.ClientID, &version, &browser, &osName, &h.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan heartbeat row: %w", err)
		}
		h.Version = deref(version)
		h.Browser = deref(browser)
		h.OS = deref(osName)
		heartbeats = append(heartbeats, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("heartbeat range iteration failed: %w", err)
	}

	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return heartbeats, nil
}

// sweepChunkSize bounds the IN clause so the statement stays inside
// SQLite's default host-parameter limit.
const sweepChunkSize = 500

// DeleteClientsBefore removes the rows for the given clients whose last_seen
// is below cutoffMs. This is the PII sweep for an aggregated hour: the cutoff
// guard spares a client whose fresher ping landed after the scan.
func (r *SQLHeartbeatRepository) DeleteClientsBefore(clientIDs []string, cutoffMs int64) (int64, error) {
	start := time.Now()

	var swept int64
	for len(clientIDs) > 0 {
		chunk := clientIDs
		if len(chunk) > sweepChunkSize {
			chunk = chunk[:sweepChunkSize]
		}
		clientIDs = clientIDs[len(chunk):]

		placeholders := strings.Repeat(",?", len(chunk))[1:]
		query := `DELETE FROM heartbeats WHERE last_seen < ? AND client_id IN (` + placeholders + `)`

		args := make([]any, 0, len(chunk)+1)
		args = append(args, cutoffMs)
		for _, id := range chunk {
			args = append(args, id)
		}

		result, err := r.db.Exec(query, args...)
		if err != nil {
			r.logger.Database().Error("Heartbeat sweep failed", "error", err.Error(), "cutoffMs", cutoffMs)
			return swept, fmt.Errorf("failed to sweep heartbeats: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil {
			swept += n
		}
	}

	r.logger.Database().Info("Heartbeat sweep completed", "swept", swept, "cutoffMs", cutoffMs)
	database.CheckAndLogSlowQuery(r.logger, "DELETE FROM heartbeats (client sweep)", time.Since(start))
	return swept, nil
}

// CountSince returns the number of clients seen at or after sinceMs.
func (r *SQLHeartbeatRepository) CountSince(sinceMs int64) (int, error) {
	const query = `SELECT COUNT(*) FROM heartbeats WHERE last_seen >= ?`

	var count int
	if err := r.db.QueryRow(query, sinceMs).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count heartbeats: %w", err)
	}
	return count, nil
}

// nullable maps an empty string to SQL NULL so absent optional fields stay
// distinguishable from empty labels.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
