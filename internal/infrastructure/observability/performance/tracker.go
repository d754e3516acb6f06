package performance

import (
	"sync"
	"time"
)

// Tracker manages performance markers and provides recent-operation queries
type Tracker struct {
	markers    []*Marker
	maxMarkers int
	mu         sync.RWMutex
	started    time.Time
}

// NewTracker creates a performance tracker retaining up to maxMarkers
// completed operations.
func NewTracker(maxMarkers int) *Tracker {
	if maxMarkers <= 0 {
		maxMarkers = 10000
	}
	return &Tracker{
		markers:    make([]*Marker, 0, 256),
		maxMarkers: maxMarkers,
		started:    time.Now(),
	}
}

// StartOperation creates and registers a new marker
func (t *Tracker) StartOperation(operation string) *Marker {
	marker := &Marker{
		Operation: operation,
		StartTime: time.Now(),
		Success:   true,
	}

	t.mu.Lock()
	t.markers = append(t.markers, marker)
	if len(t.markers) > t.maxMarkers {
		t.markers = t.markers[len(t.markers)-t.maxMarkers:]
	}
	t.mu.Unlock()

	return marker
}

// RecentMetrics returns completed markers newer than within.
func (t *Tracker) RecentMetrics(within time.Duration) []Marker {
	cutoff := time.Now().Add(-within)

	t.mu.RLock()
	defer t.mu.RUnlock()

	var recent []Marker
	for _, m := range t.markers {
		if m.Completed && m.EndTime.After(cutoff) {
			recent = append(recent, *m)
		}
	}
	return recent
}

// Uptime returns how long the tracker has been running.
func (t *Tracker) Uptime() time.Duration {
	return time.Since(t.started)
}
