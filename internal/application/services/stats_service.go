package services

import (
	"time"

	"github.com/AmberSignal/pulsestat-go/internal/domain/telemetry"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/logging"
	"github.com/AmberSignal/pulsestat-go/pkg/config"
)

// StatsService is the read-only rollup query surface consumed by dashboards
// and the live broadcaster.
type StatsService struct {
	heartbeats telemetry.HeartbeatRepository
	rollups    telemetry.RollupRepository
	loc        *time.Location
	logger     *logging.ChanneledLogger
}

// NewStatsService creates the query service.
func NewStatsService(
	heartbeats telemetry.HeartbeatRepository,
	rollups telemetry.RollupRepository,
	loc *time.Location,
	logger *logging.ChanneledLogger,
) *StatsService {
	return &StatsService{
		heartbeats: heartbeats,
		rollups:    rollups,
		loc:        loc,
		logger:     logger,
	}
}

// Rollups returns retained rows for g ascending by window start. When
// includePartial is set, a synthetic row for the still-open current window
// is appended, computed live from the client record store.
func (s *StatsService) Rollups(g telemetry.Granularity, includePartial bool) ([]*telemetry.RollupRow, error) {
	rows, err := s.rollups.List(g, config.RetentionCap(string(g)))
	if err != nil {
		return nil, err
	}

	if includePartial {
		partial, err := s.partialWindow(g, time.Now())
		if err != nil {
			s.logger.Analytics().Error("Partial window computation failed",
				"error", err.Error(), "granularity", string(g))
		} else if partial != nil {
			rows = append(rows, partial)
		}
	}

	return rows, nil
}

// LiveSnapshot computes the open hour window live from heartbeats. It is
// advisory; only rollup rows are authoritative.
func (s *StatsService) LiveSnapshot(now time.Time) (*telemetry.RollupRow, error) {
	return s.openHourWindow(now)
}

// partialWindow builds the synthetic open-window row for g. The hourly tier
// scans heartbeats live; a coarser tier merges the closed finer rollups
// inside its open window with the finer tier's own partial window, so no
// closed-but-unrolled stretch is dropped.
func (s *StatsService) partialWindow(g telemetry.Granularity, now time.Time) (*telemetry.RollupRow, error) {
	source, ok := g.Source()
	if !ok {
		return s.openHourWindow(now)
	}

	start := g.Truncate(now, s.loc)
	row := telemetry.NewRollupRow(start, g.Next(now, s.loc))

	sourceOpen := source.Truncate(now, s.loc)
	finer, err := s.rollups.FindInRange(source, start.UnixMilli(), sourceOpen.UnixMilli())
	if err != nil {
		return nil, err
	}
	for _, src := range finer {
		row.AddRollup(src)
	}

	sub, err := s.partialWindow(source, now)
	if err != nil {
		return nil, err
	}
	row.AddRollup(sub)
	return row, nil
}

func (s *StatsService) openHourWindow(now time.Time) (*telemetry.RollupRow, error) {
	start := telemetry.Hour.Truncate(now, s.loc)
	row := telemetry.NewRollupRow(start, telemetry.Hour.Next(now, s.loc))

	heartbeats, err := s.heartbeats.FindInRange(start.UnixMilli(), now.UnixMilli()+1)
	if err != nil {
		return nil, err
	}
	for _, h := range heartbeats {
		row.AddHeartbeat(h)
	}
	return row, nil
}
