// Package flight implements the single-flight generation lock kept in session
// storage.
package flight

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"studio/internal/kv"
	"studio/internal/metrics"
)

// Key is the session storage key holding the lock.
const Key = "generationLock"

// State is the persisted lock record.
type State struct {
	Locked    bool   `json:"locked"`
	StartedAt string `json:"startedAt,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Lock is a non-blocking boolean gate. At most one holder exists at a time;
// Acquire never waits.
type Lock struct {
	store      kv.Store
	clock      clockwork.Clock
	staleAfter time.Duration
	mu         sync.Mutex
}

// Option configures a Lock.
type Option func(*Lock)

// WithClock injects the clock used for startedAt and staleness.
func WithClock(c clockwork.Clock) Option {
	return func(l *Lock) { l.clock = c }
}

// WithStaleAfter treats a lock older than d as free. Zero disables it.
func WithStaleAfter(d time.Duration) Option {
	return func(l *Lock) { l.staleAfter = d }
}

func New(store kv.Store, opts ...Option) *Lock {
	l := &Lock{store: store, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire takes the lock when it is free and reports whether it did.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var st State
	if _, err := kv.GetJSON(ctx, l.store, Key, &st); err != nil {
		return false, fmt.Errorf("flight: read lock: %w", err)
	}
	if st.Locked && !l.stale(st) {
		metrics.LockContention.Inc()
		return false, nil
	}

	now := l.clock.Now()
	st = State{Locked: true, StartedAt: now.UTC().Format(time.RFC3339Nano), Timestamp: now.UnixMilli()}
	if err := kv.SetJSON(ctx, l.store, Key, st); err != nil {
		return false, fmt.Errorf("flight: write lock: %w", err)
	}
	return true, nil
}

// Release frees the lock. Releasing a free lock is a no-op.
func (l *Lock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.Remove(ctx, Key); err != nil {
		return fmt.Errorf("flight: release lock: %w", err)
	}
	return nil
}

// IsHeld reports whether a live holder exists.
func (l *Lock) IsHeld(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var st State
	if _, err := kv.GetJSON(ctx, l.store, Key, &st); err != nil {
		return false, fmt.Errorf("flight: read lock: %w", err)
	}
	return st.Locked && !l.stale(st), nil
}

// StartedAt returns when the current holder acquired the lock.
func (l *Lock) StartedAt(ctx context.Context) (time.Time, bool, error) {
	var st State
	ok, err := kv.GetJSON(ctx, l.store, Key, &st)
	if err != nil || !ok || !st.Locked {
		return time.Time{}, false, err
	}
	ts, err := time.Parse(time.RFC3339Nano, st.StartedAt)
	if err != nil {
		return time.UnixMilli(st.Timestamp), true, nil
	}
	return ts, true, nil
}

func (l *Lock) stale(st State) bool {
	if l.staleAfter <= 0 {
		return false
	}
	started := time.UnixMilli(st.Timestamp)
	if ts, err := time.Parse(time.RFC3339Nano, st.StartedAt); err == nil {
		started = ts
	}
	return l.clock.Since(started) > l.staleAfter
}
