package telemetry

// HeartbeatRepository is the persistence contract for the client record store.
type HeartbeatRepository interface {
	// Upsert inserts the heartbeat or overwrites the existing row for its
	// client (last-write-wins on all fields).
	Upsert(h *Heartbeat) error

	// FindInRange returns all heartbeats with lastSeen in [startMs, endMs).
	FindInRange(startMs, endMs int64) ([]*Heartbeat, error)

	// DeleteClientsBefore removes the rows for the given clients whose
	// lastSeen is below cutoffMs. This is the PII sweep: it targets exactly
	// the rows a scan returned, so a client that pinged again at or past the
	// cutoff keeps its fresher row.
	DeleteClientsBefore(clientIDs []string, cutoffMs int64) (int64, error)

	// CountSince returns the number of heartbeats with lastSeen >= sinceMs.
	CountSince(sinceMs int64) (int, error)
}

// RollupRepository is the persistence contract for the per-granularity
// rollup stores.
type RollupRepository interface {
	// Upsert writes the row for its window, replacing any existing row with
	// the same windowStart (idempotent re-aggregation).
	Upsert(g Granularity, row *RollupRow) error

	// FindInRange returns rows with windowStart in [startMs, endMs),
	// ascending by windowStart.
	FindInRange(g Granularity, startMs, endMs int64) ([]*RollupRow, error)

	// List returns up to limit most recent rows, ascending by windowStart.
	// limit <= 0 means no limit.
	List(g Granularity, limit int) ([]*RollupRow, error)

	// PruneToCap deletes the oldest rows by windowStart until at most cap
	// rows remain. This is a rolling ring, not a TTL.
	PruneToCap(g Granularity, maxRows int) (int64, error)
}
