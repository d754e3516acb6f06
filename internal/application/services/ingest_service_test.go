package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/AmberSignal/pulsestat-go/internal/application/queue"
	"github.com/AmberSignal/pulsestat-go/internal/domain/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func TestIngestValidateRequiresClientID(t *testing.T) {
	svc := NewIngestService(nil, "test-salt", testLogger(t))

	assert.Error(t, svc.Validate(&HeartbeatRequest{}))
	assert.Error(t, svc.Validate(&HeartbeatRequest{ClientID: ptr("")}))
	assert.NoError(t, svc.Validate(&HeartbeatRequest{ClientID: ptr("ext-12345")}))
}

func TestIngestValidateEnforcesFieldLengths(t *testing.T) {
	svc := NewIngestService(nil, "test-salt", testLogger(t))
	long := strings.Repeat("x", 101)

	assert.Error(t, svc.Validate(&HeartbeatRequest{ClientID: ptr(long)}))
	assert.Error(t, svc.Validate(&HeartbeatRequest{ClientID: ptr("ok"), Version: ptr(long)}))
	assert.Error(t, svc.Validate(&HeartbeatRequest{ClientID: ptr("ok"), Browser: ptr(long)}))
	assert.Error(t, svc.Validate(&HeartbeatRequest{ClientID: ptr("ok"), OS: ptr(long)}))

	exactly := strings.Repeat("x", 100)
	assert.NoError(t, svc.Validate(&HeartbeatRequest{ClientID: ptr(exactly), Version: ptr(exactly)}))
}

func TestIngestAcceptPseudonymizesAndSanitizes(t *testing.T) {
	heartbeats, _ := testRepos(t)
	writer := queue.NewWriter(heartbeats, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go writer.Start(ctx)

	svc := NewIngestService(writer, "test-salt", testLogger(t))

	now := time.Date(2026, time.March, 19, 14, 30, 0, 0, time.UTC)
	svc.Accept(&HeartbeatRequest{
		ClientID: ptr("raw-extension-id"),
		Version:  ptr("1.4.2"),
		Browser:  ptr("<script>firefox</script>"),
	}, now)

	var stored []*telemetry.Heartbeat
	require.Eventually(t, func() bool {
		rows, err := heartbeats.FindInRange(0, now.UnixMilli()+1)
		if err != nil || len(rows) == 0 {
			return false
		}
		stored = rows
		return true
	}, 2*time.Second, 10*time.Millisecond)

	require.Len(t, stored, 1)
	got := stored[0]

	assert.NotEqual(t, "raw-extension-id", got.ClientID, "raw identifiers never reach storage")
	assert.Len(t, got.ClientID, 64, "hex-encoded HMAC-SHA256")

	assert.Equal(t, "1.4.2", got.Version)
	assert.NotContains(t, got.Browser, "<script>", "free-text labels are escaped before storage")
	assert.Equal(t, "", got.OS, "absent optional field stays empty")
	assert.Equal(t, now.UnixMilli(), got.LastSeen)
}

func TestIngestSameClientProducesSamePseudonym(t *testing.T) {
	heartbeats, _ := testRepos(t)
	writer := queue.NewWriter(heartbeats, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go writer.Start(ctx)

	svc := NewIngestService(writer, "test-salt", testLogger(t))

	now := time.Date(2026, time.March, 19, 14, 30, 0, 0, time.UTC)
	svc.Accept(&HeartbeatRequest{ClientID: ptr("ext-abc"), Version: ptr("1.0")}, now)
	svc.Accept(&HeartbeatRequest{ClientID: ptr("ext-abc"), Version: ptr("2.0")}, now.Add(time.Minute))

	var stored []*telemetry.Heartbeat
	require.Eventually(t, func() bool {
		rows, err := heartbeats.FindInRange(0, now.UnixMilli()+120000)
		if err != nil {
			return false
		}
		stored = rows
		return len(rows) == 1 && rows[0].Version == "2.0"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "2.0", stored[0].Version, "same client pings collapse to one row, last write wins")
}
