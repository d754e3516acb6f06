package middleware

import (
	"log/slog"
	"testing"
	"time"

	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/logging"
	"github.com/AmberSignal/pulsestat-go/pkg/config"
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

// testLimiter returns a limiter with a controllable clock.
func testLimiter(t *testing.T) (*RateLimiter, *time.Time) {
	t.Helper()
	current := time.Date(2026, time.March, 19, 14, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(testLogger(t), nil)
	rl.now = func() time.Time { return current }
	return rl, &current
}

func TestRateLimiterThirdRequestRejected(t *testing.T) {
	rl, clock := testLimiter(t)

	allowed, banned := rl.admit("1.2.3.4")
	assert.True(t, allowed)
	assert.False(t, banned)

	*clock = clock.Add(time.Minute)
	allowed, _ = rl.admit("1.2.3.4")
	assert.True(t, allowed, "second request within the window is still legitimate")

	*clock = clock.Add(time.Minute)
	allowed, banned = rl.admit("1.2.3.4")
	assert.False(t, allowed, "third request in one window exceeds the ceiling")
	assert.False(t, banned, "first violation limits but does not ban")
}

func TestRateLimiterEscalatesToBan(t *testing.T) {
	rl, clock := testLimiter(t)

	for i := 0; i < 3; i++ {
		rl.admit("9.9.9.9")
	}

	// Second violation inside the same window crosses the ban threshold.
	*clock = clock.Add(time.Minute)
	allowed, banned := rl.admit("9.9.9.9")
	assert.False(t, allowed)
	assert.False(t, banned, "the violating request itself is rejected as limited")

	*clock = clock.Add(time.Minute)
	allowed, banned = rl.admit("9.9.9.9")
	assert.False(t, allowed)
	assert.True(t, banned, "subsequent requests are rejected as banned")
}

func TestRateLimiterLimitedStateLastsTheFullWindow(t *testing.T) {
	rl, clock := testLimiter(t)

	for i := 0; i < 3; i++ {
		rl.admit("6.6.6.6")
	}

	// The client was limited, never banned. Retrying after the nominal ban
	// length, but before the window turns over, is still over the ceiling
	// and crosses the ban threshold.
	require.Less(t, config.BanDuration(), rl.window)
	*clock = clock.Add(config.BanDuration() + time.Second)
	allowed, banned := rl.admit("6.6.6.6")
	assert.False(t, allowed, "the window, not the ban length, governs the Limited state")
	assert.False(t, banned, "the escalating request itself is rejected as limited")

	*clock = clock.Add(time.Second)
	allowed, banned = rl.admit("6.6.6.6")
	assert.False(t, allowed)
	assert.True(t, banned, "the in-window retry escalated to a real ban")
}

func TestRateLimiterLimitedClearsAfterWindow(t *testing.T) {
	rl, clock := testLimiter(t)

	for i := 0; i < 3; i++ {
		rl.admit("5.5.5.5")
	}

	// Waiting out the full window recovers without a ban.
	*clock = clock.Add(rl.window)
	allowed, banned := rl.admit("5.5.5.5")
	assert.True(t, allowed)
	assert.False(t, banned)
}

func TestRateLimiterBanExpires(t *testing.T) {
	rl, clock := testLimiter(t)

	for i := 0; i < 4; i++ {
		rl.admit("8.8.8.8")
	}
	allowed, banned := rl.admit("8.8.8.8")
	require.False(t, allowed)
	require.True(t, banned)

	// The ban is sized so the next scheduled heartbeat lands after expiry.
	*clock = clock.Add(config.BanDuration() + time.Second)
	allowed, banned = rl.admit("8.8.8.8")
	assert.True(t, allowed, "expired ban returns the client to unrestricted")
	assert.False(t, banned)
}

func TestRateLimiterWindowResets(t *testing.T) {
	rl, clock := testLimiter(t)

	rl.admit("7.7.7.7")
	rl.admit("7.7.7.7")

	*clock = clock.Add(rl.window + time.Second)
	allowed, _ := rl.admit("7.7.7.7")
	assert.True(t, allowed, "a fresh window starts a fresh count")

	rl.mu.Lock()
	rec := rl.records["7.7.7.7"]
	rl.mu.Unlock()
	assert.Equal(t, 1, rec.count)
	assert.Equal(t, 0, rec.violations)
}

func TestRateLimiterIdentifiersAreIndependent(t *testing.T) {
	rl, _ := testLimiter(t)

	rl.admit("10.0.0.1")
	rl.admit("10.0.0.1")
	allowed, _ := rl.admit("10.0.0.1")
	require.False(t, allowed)

	allowed, _ = rl.admit("10.0.0.2")
	assert.True(t, allowed, "one client's violations never affect another")
}

func TestRateLimiterSweepEvictsIdleRecords(t *testing.T) {
	rl, clock := testLimiter(t)

	rl.admit("idle-client")
	rl.admit("active-client")

	*clock = clock.Add(rl.window + config.BanDuration() + time.Minute)
	rl.admit("active-client") // fresh window, record touched

	rl.sweep()

	rl.mu.Lock()
	_, idleKept := rl.records["idle-client"]
	_, activeKept := rl.records["active-client"]
	rl.mu.Unlock()

	assert.False(t, idleKept, "idle record can no longer influence admission")
	assert.True(t, activeKept)
}
