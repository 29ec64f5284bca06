package expiry

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio/internal/kv"
)

var epoch = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newSweeper(t *testing.T) (*Sweeper, *kv.Memory, *kv.Memory, *clockwork.FakeClock) {
	t.Helper()
	durable, session := kv.NewMemory(), kv.NewMemory()
	clock := clockwork.NewFakeClockAt(epoch)
	return New(Options{Durable: durable, Session: session, Clock: clock}), durable, session, clock
}

func TestCleanupExpired_RemovesPastRetainsFuture(t *testing.T) {
	ctx := context.Background()
	s, durable, _, _ := newSweeper(t)

	require.NoError(t, durable.Set(ctx, "old", "1"))
	require.NoError(t, durable.Set(ctx, "fresh", "2"))
	require.NoError(t, s.ScheduleExpiration(ctx, "old", epoch.Add(-time.Minute)))
	require.NoError(t, s.ScheduleExpiration(ctx, "fresh", epoch.Add(time.Hour)))

	report, err := s.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, report.DurableKeys)
	assert.Equal(t, 1, report.Retained)

	_, ok, _ := durable.Get(ctx, "old")
	assert.False(t, ok)
	_, ok, _ = durable.Get(ctx, "fresh")
	assert.True(t, ok)

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "fresh", pending[0].Key)
}

func TestScheduleExpiration_Upserts(t *testing.T) {
	ctx := context.Background()
	s, _, _, _ := newSweeper(t)

	require.NoError(t, s.ScheduleExpiration(ctx, "creations", epoch.Add(time.Hour)))
	require.NoError(t, s.ScheduleExpiration(ctx, "creations", epoch.Add(2*time.Hour)))

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, epoch.Add(2*time.Hour).Format(time.RFC3339Nano), pending[0].ExpiresAt)
}

func TestCleanupExpired_ClearsIndexWhenEverythingExpired(t *testing.T) {
	ctx := context.Background()
	s, durable, _, _ := newSweeper(t)

	require.NoError(t, s.ScheduleExpiration(ctx, "a", epoch))
	_, err := s.CleanupExpired(ctx)
	require.NoError(t, err)

	_, ok, err := durable.Get(ctx, IndexKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCleanupExpired_SessionScan(t *testing.T) {
	ctx := context.Background()
	s, _, session, _ := newSweeper(t)

	stale := epoch.Add(-25 * time.Hour).UnixMilli()
	recent := epoch.Add(-time.Hour).UnixMilli()
	require.NoError(t, kv.SetJSON(ctx, session, "stageSelection", map[string]any{"prompt": "x", "timestamp": stale}))
	require.NoError(t, kv.SetJSON(ctx, session, "characterSelection", map[string]any{"id": "c", "timestamp": recent}))
	require.NoError(t, kv.SetJSON(ctx, session, "textual", map[string]any{"timestamp": "12"}))
	require.NoError(t, session.Set(ctx, "plain", "not json"))

	report, err := s.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"stageSelection"}, report.SessionKeys)

	keys, err := session.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"characterSelection", "textual", "plain"}, keys)
}

func TestRun_SweepsEagerlyThenOnInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, durable, _, clock := newSweeper(t)

	require.NoError(t, durable.Set(ctx, "first", "1"))
	require.NoError(t, s.ScheduleExpiration(ctx, "first", epoch.Add(-time.Second)))

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	_, ok, _ := durable.Get(ctx, "first")
	assert.False(t, ok, "eager pass removes expired keys")

	require.NoError(t, durable.Set(ctx, "second", "2"))
	require.NoError(t, s.ScheduleExpiration(ctx, "second", epoch.Add(time.Minute)))
	clock.Advance(DefaultInterval)

	assert.Eventually(t, func() bool {
		_, ok, _ := durable.Get(ctx, "second")
		return !ok
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
