// Package services contains the application services orchestrating the
// ingestion-to-rollup pipeline.
package services

import (
	"time"

	"github.com/AmberSignal/pulsestat-go/internal/domain/telemetry"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/logging"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/performance"
	"github.com/AmberSignal/pulsestat-go/pkg/config"
)

// RollupService transforms raw per-client state into population statistics
// and enforces PII expiry: once a heartbeat is aggregated and its source row
// swept, the pseudonymous identifier no longer exists anywhere in the system
// in association with behavioral data.
type RollupService struct {
	heartbeats  telemetry.HeartbeatRepository
	rollups     telemetry.RollupRepository
	loc         *time.Location
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
}

// NewRollupService creates the aggregation service.
func NewRollupService(
	heartbeats telemetry.HeartbeatRepository,
	rollups telemetry.RollupRepository,
	loc *time.Location,
	logger *logging.ChanneledLogger,
	perfTracker *performance.Tracker,
) *RollupService {
	return &RollupService{
		heartbeats:  heartbeats,
		rollups:     rollups,
		loc:         loc,
		logger:      logger,
		perfTracker: perfTracker,
	}
}

// Run aggregates the previous closed window for g as of now. It never
// returns an error to its caller by design: a failed aggregation is logged
// and repaired by the next idempotent firing, and nothing in this path may
// terminate the process.
func (s *RollupService) Run(g telemetry.Granularity, now time.Time) {
	marker := s.perfTracker.StartOperation("rollup:" + string(g))
	defer marker.Complete()

	start, end := g.PreviousWindow(now, s.loc)
	startMs := start.UnixMilli()
	endMs := end.UnixMilli()

	s.logger.Analytics().Info("Rollup job firing",
		"granularity", string(g),
		"windowStart", start.Format(time.RFC3339),
		"windowEnd", end.Format(time.RFC3339))

	row := telemetry.NewRollupRow(start, end)

	var sourceCount int
	var sweepIDs []string
	if source, ok := g.Source(); ok {
		rows, err := s.rollups.FindInRange(source, startMs, endMs)
		if err != nil {
			s.logger.Analytics().Error("Rollup source scan failed",
				"error", err.Error(), "granularity", string(g))
			marker.SetError(err)
			return
		}
		sourceCount = len(rows)
		for _, src := range rows {
			row.AddRollup(src)
		}
	} else {
		// Hourly tier reads raw heartbeats. No lower bound: rows left over
		// from windows missed while the process was down are merged into
		// this firing rather than silently dropped or double-counted, at
		// the cost of a wider-than-nominal window.
		rows, err := s.heartbeats.FindInRange(0, endMs)
		if err != nil {
			s.logger.Analytics().Error("Heartbeat window scan failed",
				"error", err.Error(), "granularity", string(g))
			marker.SetError(err)
			return
		}
		sourceCount = len(rows)
		for _, h := range rows {
			row.AddHeartbeat(h)
			sweepIDs = append(sweepIDs, h.ClientID)
		}
	}

	if sourceCount == 0 {
		// Nothing to aggregate. Write a zero row for dashboard continuity,
		// but never overwrite an existing row: an hourly re-run after the
		// sweep has no sources left and must not zero out the result it
		// already produced.
		existing, err := s.rollups.FindInRange(g, startMs, startMs+1)
		if err == nil && len(existing) > 0 {
			s.logger.Analytics().Debug("Rollup window already aggregated, skipping empty re-run",
				"granularity", string(g), "windowStart", startMs)
			s.prune(g)
			return
		}
	}

	if err := s.rollups.Upsert(g, row); err != nil {
		s.logger.Analytics().Error("Rollup upsert failed",
			"error", err.Error(), "granularity", string(g), "windowStart", startMs)
		marker.SetError(err)
		return
	}

	// A week closing up to six days after a month boundary belongs, by its
	// windowStart, to a month whose job has already fired without it. Fold
	// the late week back into that month (and year) before the week ring
	// prunes anything the recomputation still needs.
	if g == telemetry.Week {
		s.repairAncestors(start, now)
	}

	s.prune(g)

	// Only the hourly job deletes its sources; coarser tiers keep theirs
	// for inspection under their own retention ring. The sweep targets the
	// exact rows scanned above so a heartbeat drained between scan and
	// sweep survives to be counted by the next firing.
	if g == telemetry.Hour && len(sweepIDs) > 0 {
		swept, err := s.heartbeats.DeleteClientsBefore(sweepIDs, endMs)
		if err != nil {
			s.logger.Analytics().Error("Heartbeat sweep failed",
				"error", err.Error(), "windowEnd", endMs)
			marker.SetError(err)
			return
		}
		s.logger.Analytics().Info("Heartbeat sweep completed", "swept", swept)
	}

	s.logger.Analytics().Info("Rollup job completed",
		"granularity", string(g),
		"windowStart", startMs,
		"onlineUsers", row.OnlineUsers,
		"sourceRows", sourceCount,
		"duration", time.Since(marker.StartTime).String())
}

// RunAll fires every granularity once for its previous closed window. Used
// at startup so a restart that slept through boundaries still aggregates the
// windows it missed; every run is idempotent.
func (s *RollupService) RunAll(now time.Time) {
	for _, g := range telemetry.Granularities {
		s.Run(g, now)
	}
}

// repairAncestors re-aggregates the month owning weekStart, and transitively
// that month's year, when their windows have already closed. Both are full
// recomputations over the source ring, so repeating them is harmless.
func (s *RollupService) repairAncestors(weekStart, now time.Time) {
	monthStart := telemetry.Month.Truncate(weekStart, s.loc)
	monthEnd := telemetry.Month.Next(weekStart, s.loc)
	if monthEnd.After(now) {
		// The owning month is still open; its own job picks the week up.
		return
	}
	s.reaggregate(telemetry.Month, monthStart, monthEnd)

	yearEnd := telemetry.Year.Next(monthStart, s.loc)
	if !yearEnd.After(now) {
		s.reaggregate(telemetry.Year, telemetry.Year.Truncate(monthStart, s.loc), yearEnd)
	}
}

// reaggregate recomputes one closed window from its source tier and replaces
// the stored row, unless retention has already evicted part of the source
// range: a recomputation that counts fewer users than the stored row is
// working from an incomplete ring and must not shrink the result.
func (s *RollupService) reaggregate(g telemetry.Granularity, start, end time.Time) {
	source, ok := g.Source()
	if !ok {
		return
	}
	startMs := start.UnixMilli()

	rows, err := s.rollups.FindInRange(source, startMs, end.UnixMilli())
	if err != nil {
		s.logger.Analytics().Error("Rollup re-aggregation scan failed",
			"error", err.Error(), "granularity", string(g))
		return
	}
	if len(rows) == 0 {
		return
	}

	row := telemetry.NewRollupRow(start, end)
	for _, src := range rows {
		row.AddRollup(src)
	}

	if existing, err := s.rollups.FindInRange(g, startMs, startMs+1); err == nil &&
		len(existing) > 0 && row.OnlineUsers < existing[0].OnlineUsers {
		s.logger.Analytics().Debug("Re-aggregation would shrink window, keeping stored row",
			"granularity", string(g), "windowStart", startMs)
		return
	}

	if err := s.rollups.Upsert(g, row); err != nil {
		s.logger.Analytics().Error("Rollup re-aggregation upsert failed",
			"error", err.Error(), "granularity", string(g), "windowStart", startMs)
		return
	}
	s.logger.Analytics().Info("Re-aggregated window for late-closing source",
		"granularity", string(g), "windowStart", startMs, "onlineUsers", row.OnlineUsers)
}

func (s *RollupService) prune(g telemetry.Granularity) {
	pruned, err := s.rollups.PruneToCap(g, config.RetentionCap(string(g)))
	if err != nil {
		s.logger.Analytics().Error("Retention prune failed",
			"error", err.Error(), "granularity", string(g))
		return
	}
	if pruned > 0 {
		s.logger.Analytics().Debug("Retention ring evicted rows",
			"granularity", string(g), "pruned", pruned)
	}
}
