// Package expiry reaps durable keys past their retention date and session
// entries older than the session TTL.
package expiry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/kv"
	"studio/internal/metrics"
)

// IndexKey is the durable key holding the expiration records.
const IndexKey = "expirations"

const (
	DefaultSessionTTL = 24 * time.Hour
	DefaultInterval   = 5 * time.Minute
)

// Report lists what one cleanup pass removed.
type Report struct {
	DurableKeys []string `json:"durableKeys"`
	SessionKeys []string `json:"sessionKeys"`
	Retained    int      `json:"retained"`
}

type Options struct {
	Durable    kv.Store
	Session    kv.Store
	Clock      clockwork.Clock
	SessionTTL time.Duration
	Interval   time.Duration
	Logger     *infra.Logger
}

type Sweeper struct {
	durable    kv.Store
	session    kv.Store
	clock      clockwork.Clock
	sessionTTL time.Duration
	interval   time.Duration
	logger     infra.Logger

	// mu guards the read-modify-write of the expiration index.
	mu sync.Mutex
}

func New(opts Options) *Sweeper {
	s := &Sweeper{
		durable:    opts.Durable,
		session:    opts.Session,
		clock:      opts.Clock,
		sessionTTL: opts.SessionTTL,
		interval:   opts.Interval,
		logger:     infra.NopLogger(),
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = DefaultSessionTTL
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if opts.Logger != nil {
		s.logger = *opts.Logger
	}
	s.logger = s.logger.With().Str("component", "expiry").Logger()
	return s
}

// ScheduleExpiration records that key should be deleted at expiresAt,
// replacing any earlier record for the same key.
func (s *Sweeper) ScheduleExpiration(ctx context.Context, key string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(ctx)
	if err != nil {
		return err
	}
	rec := domain.ExpirationRecord{Key: key, ExpiresAt: expiresAt.UTC().Format(time.RFC3339Nano)}
	replaced := false
	for i := range records {
		if records[i].Key == key {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}
	if err := kv.SetJSON(ctx, s.durable, IndexKey, records); err != nil {
		return fmt.Errorf("expiry: save index: %w", err)
	}
	return nil
}

// Pending returns the expiration records currently scheduled.
func (s *Sweeper) Pending(ctx context.Context) ([]domain.ExpirationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// CleanupExpired runs one pass over the expiration index and the session
// store.
func (s *Sweeper) CleanupExpired(ctx context.Context) (Report, error) {
	var report Report
	if err := s.sweepDurable(ctx, &report); err != nil {
		return report, err
	}
	if err := s.sweepSession(ctx, &report); err != nil {
		return report, err
	}
	if n := len(report.DurableKeys) + len(report.SessionKeys); n > 0 {
		s.logger.Info().
			Strs("durable", report.DurableKeys).
			Strs("session", report.SessionKeys).
			Int("retained", report.Retained).
			Msg("expired entries removed")
	}
	return report, nil
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.runOnce(ctx)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			s.runOnce(ctx)
		case <-ctx.Done():
			s.logger.Info().Msg("sweeper stopped")
			return
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	if _, err := s.CleanupExpired(ctx); err != nil {
		s.logger.Error().Err(err).Msg("cleanup failed")
	}
}

func (s *Sweeper) sweepDurable(ctx context.Context, report *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	now := s.clock.Now()
	kept := make([]domain.ExpirationRecord, 0, len(records))
	for _, rec := range records {
		expiresAt, err := time.Parse(time.RFC3339Nano, rec.ExpiresAt)
		if err != nil {
			s.logger.Warn().Str("key", rec.Key).Str("expires_at", rec.ExpiresAt).Msg("dropping unparsable expiration record")
			continue
		}
		if expiresAt.After(now) {
			kept = append(kept, rec)
			continue
		}
		if err := s.durable.Remove(ctx, rec.Key); err != nil {
			return fmt.Errorf("expiry: remove %s: %w", rec.Key, err)
		}
		report.DurableKeys = append(report.DurableKeys, rec.Key)
		metrics.SweptEntries.WithLabelValues("durable").Inc()
	}
	report.Retained = len(kept)

	if len(kept) == 0 {
		if err := s.durable.Remove(ctx, IndexKey); err != nil {
			return fmt.Errorf("expiry: clear index: %w", err)
		}
		return nil
	}
	if err := kv.SetJSON(ctx, s.durable, IndexKey, kept); err != nil {
		return fmt.Errorf("expiry: save index: %w", err)
	}
	return nil
}

// sweepSession deletes any session entry whose JSON object carries a numeric
// millisecond timestamp older than the session TTL.
func (s *Sweeper) sweepSession(ctx context.Context, report *Report) error {
	if s.session == nil {
		return nil
	}
	keys, err := s.session.Keys(ctx)
	if err != nil {
		return fmt.Errorf("expiry: list session keys: %w", err)
	}
	sort.Strings(keys)

	cutoff := s.clock.Now().Add(-s.sessionTTL).UnixMilli()
	for _, key := range keys {
		raw, ok, err := s.session.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		ts, ok := embeddedTimestamp(raw)
		if !ok || ts >= cutoff {
			continue
		}
		if err := s.session.Remove(ctx, key); err != nil {
			return fmt.Errorf("expiry: remove session %s: %w", key, err)
		}
		report.SessionKeys = append(report.SessionKeys, key)
		metrics.SweptEntries.WithLabelValues("session").Inc()
	}
	return nil
}

func embeddedTimestamp(raw string) (int64, bool) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return 0, false
	}
	ts, ok := fields["timestamp"].(float64)
	if !ok {
		return 0, false
	}
	return int64(ts), true
}

func (s *Sweeper) load(ctx context.Context) ([]domain.ExpirationRecord, error) {
	var records []domain.ExpirationRecord
	if _, err := kv.GetJSON(ctx, s.durable, IndexKey, &records); err != nil {
		return nil, fmt.Errorf("expiry: load index: %w", err)
	}
	return records, nil
}
