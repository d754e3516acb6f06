// Package scheduler fires rollup jobs at calendar boundaries.
package scheduler

import (
	"context"
	"time"

	"github.com/AmberSignal/pulsestat-go/internal/domain/telemetry"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/logging"
)

// JobFunc aggregates the previous closed window for one granularity as of
// the given firing time.
type JobFunc func(g telemetry.Granularity, now time.Time)

// Scheduler runs one background task per granularity. After every firing the
// next boundary is re-derived from the current wall clock, so the schedule
// never accumulates drift from a fixed-period timer and self-corrects after
// restarts or missed firings.
type Scheduler struct {
	job    JobFunc
	loc    *time.Location
	logger *logging.ChanneledLogger
}

// New creates a scheduler firing job at each granularity's boundary,
// evaluated in loc.
func New(job JobFunc, loc *time.Location, logger *logging.ChanneledLogger) *Scheduler {
	return &Scheduler{
		job:    job,
		loc:    loc,
		logger: logger,
	}
}

// Start launches one goroutine per granularity and returns immediately.
// Jobs are not cancellable mid-run; a run is bounded by the number of
// distinct clients per window and a crash before the upsert commits leaves
// the source un-swept, which an idempotent re-run repairs.
func (s *Scheduler) Start(ctx context.Context) {
	for _, g := range telemetry.Granularities {
		go s.runGranularity(ctx, g)
	}
	s.logger.Analytics().Info("Rollup scheduler started",
		"granularities", len(telemetry.Granularities),
		"timezone", s.loc.String())
}

func (s *Scheduler) runGranularity(ctx context.Context, g telemetry.Granularity) {
	for {
		now := time.Now().In(s.loc)
		next := g.Next(now, s.loc)
		wait := time.Until(next)

		s.logger.Analytics().Debug("Rollup job sleeping until boundary",
			"granularity", string(g),
			"boundary", next.Format(time.RFC3339),
			"wait", wait.String())

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case fired := <-timer.C:
			// Coarser tiers fire at the same instant as finer ones
			// (midnight is also a top-of-hour); stagger by tier so the
			// finer rollup lands before its parent reads it.
			if delay := tierDelay(g); delay > 0 {
				time.Sleep(delay)
				fired = fired.Add(delay)
			}
			s.job(g, fired.In(s.loc))
		}
	}
}

// tierDelay orders coincident firings finest-first. The offsets are small
// against the shortest window (an hour) and large against job runtime.
func tierDelay(g telemetry.Granularity) time.Duration {
	switch g {
	case telemetry.Day:
		return 5 * time.Second
	case telemetry.Week:
		return 10 * time.Second
	case telemetry.Month:
		return 15 * time.Second
	case telemetry.Year:
		return 20 * time.Second
	}
	return 0
}
