package telemetry

import (
	"fmt"
	"time"

	"github.com/AmberSignal/pulsestat-go/internal/domain/telemetry"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/logging"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/persistence/database"
)

// SQLRollupRepository handles rollup row persistence for all granularities.
// Table names come from the granularity, never from request input.
type SQLRollupRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewSQLRollupRepository creates a new instance of the repository.
func NewSQLRollupRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLRollupRepository {
	return &SQLRollupRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert writes the rollup row for its window. Re-running an aggregation for
// the same window overwrites in place, so duplicate firings never double
// counts.
func (r *SQLRollupRepository) Upsert(g telemetry.Granularity, row *telemetry.RollupRow) error {
	versionBlob, err := row.VersionTotals.MarshalBlob()
	if err != nil {
		return err
	}
	browserBlob, err := row.BrowserTotals.MarshalBlob()
	if err != nil {
		return err
	}
	osBlob, err := row.OSTotals.MarshalBlob()
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (window_start, online_users, version_totals, browser_totals, os_totals, window_end)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(window_start) DO UPDATE SET
			online_users = excluded.online_users,
			version_totals = excluded.version_totals,
			browser_totals = excluded.browser_totals,
			os_totals = excluded.os_totals,
			window_end = excluded.window_end`, g.Table())

	start := time.Now()
	r.logger.Database().Debug("Executing rollup upsert",
		"granularity", string(g),
		"windowStart", row.WindowStart,
		"onlineUsers", row.OnlineUsers)

	_, err = r.db.Exec(query, row.WindowStart, row.OnlineUsers, versionBlob, browserBlob, osBlob, row.WindowEnd)
	if err != nil {
		r.logger.Database().Error("Rollup upsert failed",
			"error", err.Error(),
			"granularity", string(g),
			"windowStart", row.WindowStart)
		return fmt.Errorf("failed to upsert %s rollup: %w", g, err)
	}

	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return nil
}

// FindInRange retrieves rollup rows with window_start in [startMs, endMs),
// ascending.
func (r *SQLRollupRepository) FindInRange(g telemetry.Granularity, startMs, endMs int64) ([]*telemetry.RollupRow, error) {
	query := fmt.Sprintf(`
		SELECT window_start, online_users, version_totals, browser_totals, os_totals, window_end
		FROM %s
		WHERE window_start >= ? AND window_start < ?
		ORDER BY window_start ASC`, g.Table())

	start := time.Now()
	rows, err := r.db.Query(query, startMs, endMs)
	if err != nil {
		r.logger.Database().Error("Rollup range query failed", "error", err.Error(), "granularity", string(g))
		return nil, fmt.Errorf("failed to query %s rollups in range: %w", g, err)
	}
	defer rows.Close()

	result, err := scanRollupRows(rows)
	if err != nil {
		return nil, err
	}

	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return result, nil
}

// List returns up to limit most recent rows, ascending by window_start.
func (r *SQLRollupRepository) List(g telemetry.Granularity, limit int) ([]*telemetry.RollupRow, error) {
	query := fmt.Sprintf(`
		SELECT window_start, online_users, version_totals, browser_totals, os_totals, window_end
		FROM (
			SELECT window_start, online_users, version_totals, browser_totals, os_totals, window_end
			FROM %s ORDER BY window_start DESC LIMIT ?
		) ORDER BY window_start ASC`, g.Table())

	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means unlimited
	}

	start := time.Now()
	rows, err := r.db.Query(query, limit)
	if err != nil {
		r.logger.Database().Error("Rollup list query failed", "error", err.Error(), "granularity", string(g))
		return nil, fmt.Errorf("failed to list %s rollups: %w", g, err)
	}
	defer rows.Close()

	result, err := scanRollupRows(rows)
	if err != nil {
		return nil, err
	}

	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return result, nil
}

// PruneToCap deletes the oldest rows by window_start until at most cap rows
// remain. Eviction is strictly by insertion-order age, never by wall-clock
// expiry.
func (r *SQLRollupRepository) PruneToCap(g telemetry.Granularity, maxRows int) (int64, error) {
	if maxRows <= 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`
		DELETE FROM %s WHERE window_start NOT IN (
			SELECT window_start FROM %s ORDER BY window_start DESC LIMIT ?
		)`, g.Table(), g.Table())

	start := time.Now()
	result, err := r.db.Exec(query, maxRows)
	if err != nil {
		r.logger.Database().Error("Rollup prune failed", "error", err.Error(), "granularity", string(g), "cap", maxRows)
		return 0, fmt.Errorf("failed to prune %s rollups: %w", g, err)
	}

	pruned, err := result.RowsAffected()
	if err != nil {
		pruned = 0
	}

	if pruned > 0 {
		r.logger.Database().Info("Rollup retention pruned", "granularity", string(g), "pruned", pruned, "cap", maxRows)
	}
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return pruned, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRollupRows(rows rowScanner) ([]*telemetry.RollupRow, error) {
	var result []*telemetry.RollupRow
	for rows.Next() {
		var row telemetry.RollupRow
		var versionBlob, browserBlob, osBlob string
		if err := rows.Scan(&row.WindowStart, &row.OnlineUsers, &versionBlob, &browserBlob, &osBlob, &row.WindowEnd); err != nil {
			return nil, fmt.Errorf("failed to scan rollup row: %w", err)
		}

		var err error
		if row.VersionTotals, err = telemetry.UnmarshalBlob(versionBlob); err != nil {
			return nil, err
		}
		if row.BrowserTotals, err = telemetry.UnmarshalBlob(browserBlob); err != nil {
			return nil, err
		}
		if row.OSTotals, err = telemetry.UnmarshalBlob(osBlob); err != nil {
			return nil, err
		}

		result = append(result, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rollup iteration failed: %w", err)
	}
	return result, nil
}
