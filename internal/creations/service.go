// Package creations saves finished creations to the durable store under a
// daily quota and serves them back for listing, sharing and download.
package creations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/kv"
	"studio/internal/metrics"
	"studio/internal/orchestrator"
	"studio/internal/rescache"
	"studio/internal/wizard"
)

// Durable store keys.
const (
	CollectionKey = "creations"
	LimitKey      = "dailyLimit"
)

const dateLayout = "2006-01-02"

// Scheduler records when a durable key should be reaped.
type Scheduler interface {
	ScheduleExpiration(ctx context.Context, key string, expiresAt time.Time) error
}

// SaveResult is the outcome of SaveCreation.
type SaveResult struct {
	Success   bool       `json:"success"`
	ID        string     `json:"id,omitempty"`
	ShareURL  string     `json:"shareUrl,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Limit reports the daily save quota.
type Limit struct {
	Allowed      bool `json:"allowed"`
	Remaining    int  `json:"remaining"`
	ResetInHours int  `json:"resetInHours"`
	Count        int  `json:"count"`
	Cap          int  `json:"cap"`
}

type Options struct {
	Durable       kv.Store
	Session       kv.Store
	Cache         *rescache.Cache
	Scheduler     Scheduler
	Clock         clockwork.Clock
	Location      *time.Location
	Logger        *infra.Logger
	PublicBaseURL string
	DailyLimit    int
	RetentionTTL  time.Duration
	ShareTTL      time.Duration
}

type Service struct {
	durable   kv.Store
	session   kv.Store
	cache     *rescache.Cache
	scheduler Scheduler
	clock     clockwork.Clock
	loc       *time.Location
	logger    infra.Logger
	baseURL   string
	cap       int
	retention time.Duration
	shareTTL  time.Duration

	// mu serializes read-modify-write cycles on the collection and counter.
	mu sync.Mutex
}

func New(opts Options) *Service {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	logger := infra.NopLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	limit := opts.DailyLimit
	if limit <= 0 {
		limit = 3
	}
	retention := opts.RetentionTTL
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	shareTTL := opts.ShareTTL
	if shareTTL <= 0 {
		shareTTL = 30 * 24 * time.Hour
	}
	return &Service{
		durable:   opts.Durable,
		session:   opts.Session,
		cache:     opts.Cache,
		scheduler: opts.Scheduler,
		clock:     clock,
		loc:       loc,
		logger:    logger.With().Str("component", "creations").Logger(),
		baseURL:   strings.TrimRight(opts.PublicBaseURL, "/"),
		cap:       limit,
		retention: retention,
		shareTTL:  shareTTL,
	}
}

// SaveCreation snapshots the session into one durable record. The quota is
// checked first; nothing is written unless it allows a save and the session
// holds a stage, a character and at least one result.
func (s *Service) SaveCreation(ctx context.Context, locale string) (SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit, err := s.checkLocked(ctx)
	if err != nil {
		metrics.SaveRejections.WithLabelValues("error").Inc()
		return SaveResult{Error: err.Error()}, err
	}
	if !limit.Allowed {
		metrics.SaveRejections.WithLabelValues("quota").Inc()
		err := fmt.Errorf("%w: daily limit of %d saves reached, resets in %dh", domain.ErrQuotaExceeded, s.cap, limit.ResetInHours)
		return SaveResult{Error: err.Error()}, err
	}

	stage, character, results, err := s.readSession(ctx)
	if err != nil {
		reason := "error"
		if errors.Is(err, domain.ErrIncompleteSession) {
			reason = "incomplete"
		}
		metrics.SaveRejections.WithLabelValues(reason).Inc()
		return SaveResult{Error: err.Error()}, err
	}

	now := s.clock.Now()
	shareExpires := now.Add(s.shareTTL).UTC()
	record := domain.PersistedCreation{
		ID:                 uuid.NewString(),
		StageSelection:     s.normalizeStage(stage),
		CharacterSelection: s.normalizeCharacter(character),
		Results:            s.normalizeResults(results),
		Locale:             locale,
		CreatedAt:          now.UTC(),
		ShareExpiresAt:     shareExpires,
	}

	list, err := s.load(ctx)
	if err != nil {
		metrics.SaveRejections.WithLabelValues("error").Inc()
		return SaveResult{Error: err.Error()}, err
	}
	list = append(list, record)
	if err := kv.SetJSON(ctx, s.durable, CollectionKey, list); err != nil {
		metrics.SaveRejections.WithLabelValues("error").Inc()
		err = fmt.Errorf("creations: append: %w", err)
		return SaveResult{Error: err.Error()}, err
	}
	if err := s.incrementLocked(ctx); err != nil {
		metrics.SaveRejections.WithLabelValues("error").Inc()
		if rbErr := s.storeLocked(ctx, list[:len(list)-1]); rbErr != nil {
			s.logger.Error().Err(rbErr).Str("creation_id", record.ID).Msg("roll back creation after failed count")
		}
		return SaveResult{Error: err.Error()}, err
	}
	if s.scheduler != nil {
		if err := s.scheduler.ScheduleExpiration(ctx, CollectionKey, now.Add(s.retention)); err != nil {
			s.logger.Warn().Err(err).Msg("schedule retention")
		}
	}

	metrics.CreationsSaved.Inc()
	s.logger.Info().
		Str("creation_id", record.ID).
		Str("character_id", record.CharacterSelection.ID).
		Int("saved", len(list)).
		Msg("creation saved")

	return SaveResult{
		Success:   true,
		ID:        record.ID,
		ShareURL:  s.shareURL(record.ID),
		ExpiresAt: &shareExpires,
	}, nil
}

// CheckDailyLimit reports the quota for today. A counter dated another day
// counts as zero.
func (s *Service) CheckDailyLimit(ctx context.Context) (Limit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkLocked(ctx)
}

// IncrementDailyLimit counts one save against today.
func (s *Service) IncrementDailyLimit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrementLocked(ctx)
}

// List returns every saved creation in insertion order.
func (s *Service) List(ctx context.Context) ([]domain.PersistedCreation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Get returns the creation at index in insertion order.
func (s *Service) Get(ctx context.Context, index int) (domain.PersistedCreation, error) {
	list, err := s.List(ctx)
	if err != nil {
		return domain.PersistedCreation{}, err
	}
	if index < 0 || index >= len(list) {
		return domain.PersistedCreation{}, fmt.Errorf("%w: creation %d", domain.ErrNotFound, index)
	}
	return list[index], nil
}

// Share returns the creation with id while its share link is valid.
func (s *Service) Share(ctx context.Context, id string) (domain.PersistedCreation, error) {
	list, err := s.List(ctx)
	if err != nil {
		return domain.PersistedCreation{}, err
	}
	now := s.clock.Now()
	for _, c := range list {
		if c.ID != id {
			continue
		}
		if !now.Before(c.ShareExpiresAt) {
			return domain.PersistedCreation{}, fmt.Errorf("%w: share link expired", domain.ErrNotFound)
		}
		return c, nil
	}
	return domain.PersistedCreation{}, fmt.Errorf("%w: creation %s", domain.ErrNotFound, id)
}

func (s *Service) shareURL(id string) string {
	return s.baseURL + "/s/" + id
}

func (s *Service) readSession(ctx context.Context) (domain.StageSelection, domain.CharacterSelection, domain.Results, error) {
	var (
		stage     domain.StageSelection
		character domain.CharacterSelection
		session   domain.GenerationSession
	)
	var missing []string
	for _, item := range []struct {
		key  string
		name string
		out  any
	}{
		{wizard.StageKey, "stage selection", &stage},
		{wizard.CharacterKey, "character selection", &character},
		{orchestrator.SessionKey, "generation results", &session},
	} {
		ok, err := kv.GetJSON(ctx, s.session, item.key, item.out)
		if err != nil {
			return stage, character, session.Results, fmt.Errorf("creations: read %s: %w", item.name, err)
		}
		if !ok {
			missing = append(missing, item.name)
		}
	}
	if len(missing) == 0 && session.Results.Empty() {
		missing = append(missing, "generation results")
	}
	if len(missing) > 0 {
		return stage, character, session.Results, fmt.Errorf("%w: missing %s", domain.ErrIncompleteSession, strings.Join(missing, ", "))
	}
	return stage, character, session.Results, nil
}

func (s *Service) load(ctx context.Context) ([]domain.PersistedCreation, error) {
	var list []domain.PersistedCreation
	if _, err := kv.GetJSON(ctx, s.durable, CollectionKey, &list); err != nil {
		return nil, fmt.Errorf("creations: load: %w", err)
	}
	return list, nil
}

// storeLocked writes the collection back, removing the key when empty.
func (s *Service) storeLocked(ctx context.Context, list []domain.PersistedCreation) error {
	if len(list) == 0 {
		return s.durable.Remove(ctx, CollectionKey)
	}
	return kv.SetJSON(ctx, s.durable, CollectionKey, list)
}

func (s *Service) checkLocked(ctx context.Context) (Limit, error) {
	var counter domain.RateLimitCounter
	if _, err := kv.GetJSON(ctx, s.durable, LimitKey, &counter); err != nil {
		return Limit{}, fmt.Errorf("creations: read limit: %w", err)
	}
	now := s.clock.Now().In(s.loc)
	count := 0
	if counter.Date == now.Format(dateLayout) {
		count = counter.Count
	}
	remaining := max(s.cap-count, 0)
	return Limit{
		Allowed:      count < s.cap,
		Remaining:    remaining,
		ResetInHours: hoursUntilMidnight(now),
		Count:        count,
		Cap:          s.cap,
	}, nil
}

func (s *Service) incrementLocked(ctx context.Context) error {
	var counter domain.RateLimitCounter
	if _, err := kv.GetJSON(ctx, s.durable, LimitKey, &counter); err != nil {
		return fmt.Errorf("creations: read limit: %w", err)
	}
	today := s.clock.Now().In(s.loc).Format(dateLayout)
	if counter.Date != today {
		counter = domain.RateLimitCounter{Date: today}
	}
	counter.Count++
	if err := kv.SetJSON(ctx, s.durable, LimitKey, counter); err != nil {
		return fmt.Errorf("creations: write limit: %w", err)
	}
	return nil
}

// hoursUntilMidnight rounds up and stays within [0, 24].
func hoursUntilMidnight(now time.Time) int {
	y, m, d := now.Date()
	midnight := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	remaining := midnight.Sub(now)
	hours := int(remaining / time.Hour)
	if remaining%time.Hour > 0 {
		hours++
	}
	return min(max(hours, 0), 24)
}
