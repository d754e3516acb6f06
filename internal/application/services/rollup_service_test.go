package services

import (
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/AmberSignal/pulsestat-go/internal/domain/telemetry"
	schema "github.com/AmberSignal/pulsestat-go/internal/infrastructure/database"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/logging"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/performance"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/persistence/database"
	persistence "github.com/AmberSignal/pulsestat-go/internal/infrastructure/persistence/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *logging.ChanneledLogger {
	t.Helper()
	cfg := logging.DefaultLoggerConfig()
	cfg.OutputToFile = false
	cfg.OutputToConsole = false
	cfg.DefaultLevel = slog.LevelError
	logger, err := logging.NewChanneledLogger(cfg)
	require.NoError(t, err)
	return logger
}

func testRepos(t *testing.T) (*persistence.SQLHeartbeatRepository, *persistence.SQLRollupRepository) {
	t.Helper()
	db, err := database.NewConnection("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, schema.NewTableCreator().CreateSchema(db.DB))
	logger := testLogger(t)
	return persistence.NewSQLHeartbeatRepository(db, logger), persistence.NewSQLRollupRepository(db, logger)
}

func newTestRollupService(t *testing.T) (*RollupService, *persistence.SQLHeartbeatRepository, *persistence.SQLRollupRepository) {
	t.Helper()
	heartbeats, rollups := testRepos(t)
	svc := NewRollupService(heartbeats, rollups, time.UTC, testLogger(t), performance.NewTracker(100))
	return svc, heartbeats, rollups
}

func seedHeartbeat(t *testing.T, repo *persistence.SQLHeartbeatRepository, id, version, browser, osName string, seen time.Time) {
	t.Helper()
	require.NoError(t, repo.Upsert(&telemetry.Heartbeat{
		ClientID: id, Version: version, Browser: browser, OS: osName,
		LastSeen: seen.UnixMilli(),
	}))
}

func TestRollupServiceHourlyAggregatesAndSweeps(t *testing.T) {
	svc, heartbeats, rollups := newTestRollupService(t)

	// The job fires just after 14:00 for the [13:00, 14:00) window.
	fired := time.Date(2026, time.March, 19, 14, 0, 5, 0, time.UTC)
	window := time.Date(2026, time.March, 19, 13, 0, 0, 0, time.UTC)

	seedHeartbeat(t, heartbeats, "a", "1.0", "firefox", "linux", window.Add(10*time.Minute))
	seedHeartbeat(t, heartbeats, "b", "1.0", "chrome", "", window.Add(20*time.Minute))
	seedHeartbeat(t, heartbeats, "c", "", "", "", window.Add(30*time.Minute))

	svc.Run(telemetry.Hour, fired)

	rows, err := rollups.List(telemetry.Hour, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, window.UnixMilli(), row.WindowStart)
	assert.Equal(t, 3, row.OnlineUsers)
	assert.Equal(t, telemetry.LabelCounts{"1.0": 2}, row.VersionTotals)
	assert.Equal(t, telemetry.LabelCounts{"firefox": 1, "chrome": 1}, row.BrowserTotals)

	// PII expiry: the aggregated identifiers are gone from the record store.
	remaining, err := heartbeats.FindInRange(0, fired.UnixMilli())
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestRollupServiceRerunAfterSweepKeepsResult(t *testing.T) {
	svc, heartbeats, rollups := newTestRollupService(t)

	fired := time.Date(2026, time.March, 19, 14, 0, 5, 0, time.UTC)
	window := time.Date(2026, time.March, 19, 13, 0, 0, 0, time.UTC)
	seedHeartbeat(t, heartbeats, "a", "1.0", "firefox", "linux", window.Add(10*time.Minute))

	svc.Run(telemetry.Hour, fired)
	// Second firing for the same window finds no sources; it must not zero
	// out the result the first firing produced.
	svc.Run(telemetry.Hour, fired)

	rows, err := rollups.List(telemetry.Hour, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].OnlineUsers)
}

func TestRollupServiceMergesMissedWindows(t *testing.T) {
	svc, heartbeats, rollups := newTestRollupService(t)

	// The process slept through several boundaries; leftovers from hours ago
	// are still in the record store.
	fired := time.Date(2026, time.March, 19, 14, 0, 5, 0, time.UTC)
	seedHeartbeat(t, heartbeats, "stale", "0.9", "", "", fired.Add(-5*time.Hour))
	seedHeartbeat(t, heartbeats, "recent", "1.0", "", "", fired.Add(-30*time.Minute))

	svc.Run(telemetry.Hour, fired)

	rows, err := rollups.List(telemetry.Hour, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].OnlineUsers, "leftover rows merge into the next firing instead of being dropped")

	remaining, err := heartbeats.FindInRange(0, fired.UnixMilli())
	require.NoError(t, err)
	assert.Empty(t, remaining, "sweep covers the merged stretch too")
}

func TestRollupServiceDayAggregatesHours(t *testing.T) {
	svc, _, rollups := newTestRollupService(t)

	day := time.Date(2026, time.March, 18, 0, 0, 0, 0, time.UTC)
	for hour := 0; hour < 24; hour++ {
		start := day.Add(time.Duration(hour) * time.Hour)
		row := telemetry.NewRollupRow(start, start.Add(time.Hour))
		row.OnlineUsers = 10
		row.VersionTotals = telemetry.LabelCounts{"1.0": 8} // some clients omit version
		require.NoError(t, rollups.Upsert(telemetry.Hour, row))
	}

	fired := time.Date(2026, time.March, 19, 0, 0, 10, 0, time.UTC)
	svc.Run(telemetry.Day, fired)

	rows, err := rollups.List(telemetry.Day, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	got := rows[0]
	assert.Equal(t, day.UnixMilli(), got.WindowStart)
	assert.Equal(t, 240, got.OnlineUsers, "counts are summed from sources, never re-counted")
	assert.Equal(t, 192, got.VersionTotals.Total())
	assert.LessOrEqual(t, got.VersionTotals.Total(), got.OnlineUsers)

	// Coarser tiers never sweep their sources.
	hours, err := rollups.List(telemetry.Hour, 0)
	require.NoError(t, err)
	assert.Len(t, hours, 24)
}

func seedRollup(t *testing.T, rollups *persistence.SQLRollupRepository, g telemetry.Granularity, start time.Time, users int) {
	t.Helper()
	row := telemetry.NewRollupRow(start, g.Next(start, time.UTC))
	row.OnlineUsers = users
	row.VersionTotals = telemetry.LabelCounts{"1.0": users}
	require.NoError(t, rollups.Upsert(g, row))
}

func findWindow(t *testing.T, rollups *persistence.SQLRollupRepository, g telemetry.Granularity, start time.Time) *telemetry.RollupRow {
	t.Helper()
	rows, err := rollups.FindInRange(g, start.UnixMilli(), start.UnixMilli()+1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0]
}

func TestRollupServiceMonthPicksUpWeekClosingAfterBoundary(t *testing.T) {
	svc, _, rollups := newTestRollupService(t)

	// February 2026 starts on a Sunday; its Monday weeks begin Feb 2, 9, 16
	// and 23, and the last of those only closes on Monday, March 2.
	feb := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	for _, day := range []int{2, 9, 16} {
		seedRollup(t, rollups, telemetry.Week, time.Date(2026, time.February, day, 0, 0, 0, 0, time.UTC), 10)
	}

	// The month job fires at the March boundary before the straddling week
	// exists.
	svc.Run(telemetry.Month, time.Date(2026, time.March, 1, 0, 0, 15, 0, time.UTC))
	assert.Equal(t, 30, findWindow(t, rollups, telemetry.Month, feb).OnlineUsers)

	// A day later the week of Feb 23 closes with its own users.
	for day := 0; day < 7; day++ {
		start := time.Date(2026, time.February, 23, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day)
		seedRollup(t, rollups, telemetry.Day, start, 5)
	}
	svc.Run(telemetry.Week, time.Date(2026, time.March, 2, 0, 0, 10, 0, time.UTC))

	week := findWindow(t, rollups, telemetry.Week, time.Date(2026, time.February, 23, 0, 0, 0, 0, time.UTC))
	require.Equal(t, 35, week.OnlineUsers)

	// The already-closed February month now includes the late week.
	month := findWindow(t, rollups, telemetry.Month, feb)
	assert.Equal(t, 65, month.OnlineUsers)
	assert.Equal(t, 65, month.VersionTotals.Total())
}

func TestRollupServiceLateWeekCascadesIntoYear(t *testing.T) {
	svc, _, rollups := newTestRollupService(t)

	// Eleven closed months of 2026, then December's three fully-contained
	// weeks. The week of Dec 28 only closes on Monday, January 4, 2027.
	for m := time.January; m <= time.November; m++ {
		seedRollup(t, rollups, telemetry.Month, time.Date(2026, m, 1, 0, 0, 0, 0, time.UTC), 10)
	}
	for _, day := range []int{7, 14, 21} {
		seedRollup(t, rollups, telemetry.Week, time.Date(2026, time.December, day, 0, 0, 0, 0, time.UTC), 5)
	}

	newYear := time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)
	svc.Run(telemetry.Month, newYear.Add(15*time.Second))
	svc.Run(telemetry.Year, newYear.Add(20*time.Second))

	year2026 := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, 125, findWindow(t, rollups, telemetry.Year, year2026).OnlineUsers)

	for day := 0; day < 7; day++ {
		seedRollup(t, rollups, telemetry.Day, time.Date(2026, time.December, 28, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day), 2)
	}
	svc.Run(telemetry.Week, time.Date(2027, time.January, 4, 0, 0, 10, 0, time.UTC))

	dec := findWindow(t, rollups, telemetry.Month, time.Date(2026, time.December, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 29, dec.OnlineUsers, "December folds in its late week")
	assert.Equal(t, 139, findWindow(t, rollups, telemetry.Year, year2026).OnlineUsers, "the year follows the repaired month")
}

func TestRollupServiceRepairNeverShrinksWindow(t *testing.T) {
	svc, _, rollups := newTestRollupService(t)

	// The stored February row was computed while the week of Feb 2 still
	// existed; retention has since evicted that week from the ring. A re-run
	// of the straddling week must not replace the richer stored result.
	feb := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	seedRollup(t, rollups, telemetry.Month, feb, 65)
	for _, day := range []int{9, 16} {
		seedRollup(t, rollups, telemetry.Week, time.Date(2026, time.February, day, 0, 0, 0, 0, time.UTC), 10)
	}
	for day := 0; day < 7; day++ {
		seedRollup(t, rollups, telemetry.Day, time.Date(2026, time.February, 23, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day), 5)
	}

	svc.Run(telemetry.Week, time.Date(2026, time.March, 2, 0, 0, 10, 0, time.UTC))

	assert.Equal(t, 65, findWindow(t, rollups, telemetry.Month, feb).OnlineUsers,
		"a recomputation over an incomplete source ring keeps the stored row")
}

// lateArrivalRepo lands one extra heartbeat right after the aggregation scan,
// reproducing a queue drain that slips in between scan and sweep.
type lateArrivalRepo struct {
	telemetry.HeartbeatRepository
	late *telemetry.Heartbeat
	once sync.Once
}

func (r *lateArrivalRepo) FindInRange(startMs, endMs int64) ([]*telemetry.Heartbeat, error) {
	rows, err := r.HeartbeatRepository.FindInRange(startMs, endMs)
	if err == nil {
		r.once.Do(func() { _ = r.HeartbeatRepository.Upsert(r.late) })
	}
	return rows, err
}

func TestRollupServiceSweepSparesLateDrainedHeartbeat(t *testing.T) {
	heartbeats, rollups := testRepos(t)

	fired := time.Date(2026, time.March, 19, 14, 0, 5, 0, time.UTC)
	window := time.Date(2026, time.March, 19, 13, 0, 0, 0, time.UTC)
	late := &telemetry.Heartbeat{
		ClientID: "late", Version: "1.0",
		LastSeen: window.Add(59*time.Minute + 59*time.Second).UnixMilli(),
	}
	repo := &lateArrivalRepo{HeartbeatRepository: heartbeats, late: late}
	svc := NewRollupService(repo, rollups, time.UTC, testLogger(t), performance.NewTracker(100))

	seedHeartbeat(t, heartbeats, "a", "1.0", "firefox", "linux", window.Add(10*time.Minute))

	svc.Run(telemetry.Hour, fired)

	rows, err := rollups.List(telemetry.Hour, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].OnlineUsers, "only the scanned row is counted")

	remaining, err := heartbeats.FindInRange(0, fired.UnixMilli())
	require.NoError(t, err)
	require.Len(t, remaining, 1, "the unscanned row survives the sweep")
	assert.Equal(t, "late", remaining[0].ClientID)

	// The survivor is counted and swept by the next firing.
	svc.Run(telemetry.Hour, fired.Add(time.Hour))

	rows, err = rollups.List(telemetry.Hour, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[1].OnlineUsers)

	remaining, err = heartbeats.FindInRange(0, fired.Add(time.Hour).UnixMilli())
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestRollupServiceEmptyWindowWritesZeroRow(t *testing.T) {
	svc, _, rollups := newTestRollupService(t)

	fired := time.Date(2026, time.March, 19, 14, 0, 5, 0, time.UTC)
	svc.Run(telemetry.Hour, fired)

	rows, err := rollups.List(telemetry.Hour, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1, "a zero row keeps the dashboard series continuous")
	assert.Zero(t, rows[0].OnlineUsers)
	assert.Empty(t, rows[0].VersionTotals)
}

func TestRollupServiceRunAllIsSafeOnEmptyStore(t *testing.T) {
	svc, _, rollups := newTestRollupService(t)

	// Startup catch-up on a fresh database: every tier runs without error.
	svc.RunAll(time.Date(2026, time.March, 19, 14, 0, 5, 0, time.UTC))

	for _, g := range telemetry.Granularities {
		rows, err := rollups.List(g, 0)
		require.NoError(t, err)
		assert.Len(t, rows, 1, string(g))
	}
}
