package flight

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio/internal/kv"
)

func TestAcquireReleaseSequence(t *testing.T) {
	ctx := context.Background()
	lock := New(kv.NewMemory())

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lock.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx))

	ok, err = lock.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	lock := New(kv.NewMemory())

	require.NoError(t, lock.Release(ctx))
	require.NoError(t, lock.Release(ctx))

	held, err := lock.IsHeld(ctx)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestLockStateIsPersisted(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	lock := New(store, WithClock(clock))

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	var st State
	found, err := kv.GetJSON(ctx, store, Key, &st)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, st.Locked)
	assert.Equal(t, clock.Now().UnixMilli(), st.Timestamp)

	started, held, err := lock.StartedAt(ctx)
	require.NoError(t, err)
	assert.True(t, held)
	assert.True(t, started.Equal(clock.Now()))

	// a second lock over the same session sees the holder
	other := New(store, WithClock(clock))
	held, err = other.IsHeld(ctx)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestStaleLockIsReclaimed(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	lock := New(kv.NewMemory(), WithClock(clock), WithStaleAfter(10*time.Minute))

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(5 * time.Minute)
	ok, err = lock.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(6 * time.Minute)
	held, err := lock.IsHeld(ctx)
	require.NoError(t, err)
	assert.False(t, held)

	ok, err = lock.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWithoutStaleAfterLockNeverExpires(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	lock := New(kv.NewMemory(), WithClock(clock))

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(72 * time.Hour)
	ok, err = lock.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
