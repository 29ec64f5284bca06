// Package orchestrator runs the three generation jobs of a creation
// concurrently, merges their results as they settle and keeps the running
// session in session storage.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"studio/internal/domain"
	"studio/internal/flight"
	"studio/internal/infra"
	"studio/internal/kv"
	"studio/internal/metrics"
	"studio/internal/providers"
	"studio/internal/rescache"
)

// SessionKey is the session storage key holding the running session.
const SessionKey = "generationResults"

// CompositeCacheKey derives the cache key of a character's composite image.
func CompositeCacheKey(characterID string) string {
	return "composite:" + characterID
}

// Prompts carries the user text for each step of the wizard.
type Prompts struct {
	Stage     string `json:"stage"`
	Character string `json:"character"`
	Story     string `json:"story"`
}

// Input is everything a run needs. StageImage is optional.
type Input struct {
	CharacterID    string
	CharacterImage domain.ImagePayload
	StageImage     domain.ImagePayload
	Prompts        Prompts
	Locale         string
	TargetFormats  []string
}

func (in Input) validate() error {
	if strings.TrimSpace(in.CharacterID) == "" {
		return &domain.ValidationError{Reason: "character id is required"}
	}
	if in.CharacterImage.Empty() {
		return &domain.ValidationError{Reason: "character image is required"}
	}
	return nil
}

// Outcome summarizes a finished run.
type Outcome struct {
	State      domain.AggregateState     `json:"state"`
	FirstError string                    `json:"firstError,omitempty"`
	Session    *domain.GenerationSession `json:"session"`
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Generators providers.Generators
	Moderator  providers.Moderator
	Lock       *flight.Lock
	Cache      *rescache.Cache
	Session    kv.Store
	Clock      clockwork.Clock
	Logger     *infra.Logger
	// JobTimeout bounds each collaborator call. Zero leaves calls unbounded.
	JobTimeout time.Duration
}

type Orchestrator struct {
	gens       providers.Generators
	moderator  providers.Moderator
	lock       *flight.Lock
	cache      *rescache.Cache
	store      kv.Store
	clock      clockwork.Clock
	logger     infra.Logger
	jobTimeout time.Duration

	mu        sync.Mutex
	session   *domain.GenerationSession
	lastInput *Input

	runs sync.WaitGroup
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Generators.Model == nil || opts.Generators.Composite == nil || opts.Generators.Story == nil {
		return nil, errors.New("orchestrator: all three generators are required")
	}
	if opts.Lock == nil || opts.Cache == nil || opts.Session == nil {
		return nil, errors.New("orchestrator: lock, cache and session store are required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := infra.NopLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Orchestrator{
		gens:       opts.Generators,
		moderator:  opts.Moderator,
		lock:       opts.Lock,
		cache:      opts.Cache,
		store:      opts.Session,
		clock:      clock,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
		jobTimeout: opts.JobTimeout,
	}, nil
}

// Start moderates the prompts, takes the lock and launches a run in the
// background. It returns once the run is visible as running.
func (o *Orchestrator) Start(ctx context.Context, in Input) error {
	if err := in.validate(); err != nil {
		return err
	}
	if err := o.moderate(ctx, in); err != nil {
		return err
	}
	acquired, err := o.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		return domain.ErrLockContention
	}
	o.launch(ctx, in, false)
	return nil
}

// Retry re-runs all three jobs with the last input, blocking until they
// settle.
func (o *Orchestrator) Retry(ctx context.Context) (Outcome, error) {
	in, err := o.acquireForRetry(ctx)
	if err != nil {
		return Outcome{}, err
	}
	return o.run(ctx, in, true)
}

// StartRetry is Retry without waiting for the jobs.
func (o *Orchestrator) StartRetry(ctx context.Context) error {
	in, err := o.acquireForRetry(ctx)
	if err != nil {
		return err
	}
	o.launch(ctx, in, true)
	return nil
}

// Run executes one orchestration. The caller must hold the lock; Run
// releases it exactly once on every path after that check.
func (o *Orchestrator) Run(ctx context.Context, in Input) (Outcome, error) {
	return o.run(ctx, in, false)
}

func (o *Orchestrator) run(ctx context.Context, in Input, retry bool) (Outcome, error) {
	held, err := o.lock.IsHeld(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if !held {
		return Outcome{}, domain.ErrLockNotHeld
	}
	defer o.release(ctx)

	if err := in.validate(); err != nil {
		return Outcome{}, err
	}
	ctx = context.WithoutCancel(ctx)
	o.begin(ctx, in, retry)
	return o.execute(ctx, in), nil
}

// Wait blocks until every background run has settled.
func (o *Orchestrator) Wait() {
	o.runs.Wait()
}

// Snapshot returns a copy of the current session, or nil before any run.
func (o *Orchestrator) Snapshot() *domain.GenerationSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.Clone()
}

// Restore reloads the session left in session storage by a previous process.
// Jobs it finds active can never settle and are marked as interrupted. No run
// survives a restart, so a lock still held is released.
func (o *Orchestrator) Restore(ctx context.Context) (*domain.GenerationSession, error) {
	var sess domain.GenerationSession
	found, err := kv.GetJSON(ctx, o.store, SessionKey, &sess)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: restore session: %w", err)
	}
	if !found {
		return nil, o.releaseLeftover(ctx, "")
	}
	if sess.Statuses == nil {
		sess.Statuses = make(map[domain.JobKind]domain.JobStatus)
	}
	if sess.Errors == nil {
		sess.Errors = make(map[domain.JobKind]string)
	}

	interrupted := false
	for _, kind := range domain.AllJobs {
		if sess.Statuses[kind] == domain.JobStatusActive {
			sess.Statuses[kind] = domain.JobStatusError
			sess.Errors[kind] = "interrupted"
			if sess.FirstError == "" {
				sess.FirstError = "interrupted"
			}
			interrupted = true
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if interrupted {
		now := o.clock.Now()
		sess.CompletedAt = &now
		sess.Timestamp = now.UnixMilli()
		if err := kv.SetJSON(ctx, o.store, SessionKey, &sess); err != nil {
			return nil, fmt.Errorf("orchestrator: persist restored session: %w", err)
		}
		o.logger.Warn().Str("character_id", sess.CharacterID).Msg("restored session with interrupted jobs")
	}
	if err := o.releaseLeftover(ctx, sess.CharacterID); err != nil {
		return nil, err
	}
	o.session = &sess
	return sess.Clone(), nil
}

func (o *Orchestrator) releaseLeftover(ctx context.Context, characterID string) error {
	held, err := o.lock.IsHeld(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: restore lock: %w", err)
	}
	if !held {
		return nil
	}
	if err := o.lock.Release(ctx); err != nil {
		return fmt.Errorf("orchestrator: restore lock: %w", err)
	}
	o.logger.Warn().Str("character_id", characterID).Msg("released generation lock left by previous process")
	return nil
}

// Reset clears the session and releases the cache entries it owns. It is
// refused while a run holds the lock.
func (o *Orchestrator) Reset(ctx context.Context) error {
	held, err := o.lock.IsHeld(ctx)
	if err != nil {
		return err
	}
	if held {
		return domain.ErrLockContention
	}

	o.mu.Lock()
	var keys []string
	if o.session != nil && o.session.Results.Composite != nil && o.session.Results.Composite.CacheKey != "" {
		keys = append(keys, o.session.Results.Composite.CacheKey)
	}
	o.session = nil
	o.lastInput = nil
	o.mu.Unlock()

	o.cache.ReleaseMany(keys)
	if err := o.store.Remove(ctx, SessionKey); err != nil {
		return fmt.Errorf("orchestrator: clear session: %w", err)
	}
	return nil
}

func (o *Orchestrator) moderate(ctx context.Context, in Input) error {
	if o.moderator == nil {
		return nil
	}
	for _, text := range []string{in.Prompts.Stage, in.Prompts.Character, in.Prompts.Story} {
		if strings.TrimSpace(text) == "" {
			continue
		}
		verdict, err := o.moderator.Moderate(ctx, providers.ModerationRequest{Text: text, Locale: in.Locale})
		if err != nil {
			return fmt.Errorf("orchestrator: moderation: %w", err)
		}
		if !verdict.Allowed {
			return &domain.ValidationError{Reason: verdict.Reason}
		}
	}
	return nil
}

func (o *Orchestrator) acquireForRetry(ctx context.Context) (Input, error) {
	o.mu.Lock()
	last := o.lastInput
	o.mu.Unlock()
	if last == nil {
		return Input{}, domain.ErrNothingToRetry
	}
	acquired, err := o.lock.Acquire(ctx)
	if err != nil {
		return Input{}, err
	}
	if !acquired {
		return Input{}, domain.ErrLockContention
	}
	return *last, nil
}

// launch marks the run active synchronously and settles it in the
// background. The lock must already be held.
func (o *Orchestrator) launch(ctx context.Context, in Input, retry bool) {
	bg := context.WithoutCancel(ctx)
	o.begin(bg, in, retry)
	o.runs.Add(1)
	go func() {
		defer o.runs.Done()
		defer o.release(bg)
		o.execute(bg, in)
	}()
}

func (o *Orchestrator) release(ctx context.Context) {
	if err := o.lock.Release(context.WithoutCancel(ctx)); err != nil {
		o.logger.Error().Err(err).Msg("release generation lock")
	}
}

// begin marks every job active. A retry keeps the results of the previous
// run so each job only overwrites its own field when it succeeds.
func (o *Orchestrator) begin(ctx context.Context, in Input, retry bool) {
	now := o.clock.Now()

	o.mu.Lock()
	defer o.mu.Unlock()
	prev := o.session
	var sess *domain.GenerationSession
	if retry && prev != nil {
		sess = prev.Clone()
		sess.Errors = make(map[domain.JobKind]string)
		sess.FirstError = ""
		sess.CompletedAt = nil
	} else {
		sess = domain.NewGenerationSession(in.CharacterID, in.Prompts.Character)
		if prev != nil && prev.Results.Composite != nil && prev.Results.Composite.CacheKey != "" {
			o.cache.Release(prev.Results.Composite.CacheKey)
		}
	}
	sess.StartedAt = &now
	for _, kind := range domain.AllJobs {
		sess.Statuses[kind] = domain.JobStatusActive
	}

	input := in
	o.lastInput = &input
	o.session = sess
	o.persistLocked(ctx)

	o.logger.Info().
		Str("character_id", in.CharacterID).
		Str("locale", in.Locale).
		Bool("retry", retry).
		Msg("generation started")
}

func (o *Orchestrator) execute(ctx context.Context, in Input) Outcome {
	jobCtx := context.WithoutCancel(ctx)

	// errgroup.Group without WithContext: one failure never cancels siblings.
	var g errgroup.Group
	for _, kind := range domain.AllJobs {
		kind := kind
		g.Go(func() error {
			o.runJob(jobCtx, kind, in)
			return nil
		})
	}
	_ = g.Wait()

	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.clock.Now()
	o.session.CompletedAt = &now
	o.persistLocked(ctx)

	state := o.session.State()
	metrics.RunsTotal.WithLabelValues(string(state)).Inc()
	o.logger.Info().
		Str("character_id", in.CharacterID).
		Str("state", string(state)).
		Str("first_error", o.session.FirstError).
		Msg("generation settled")

	return Outcome{State: state, FirstError: o.session.FirstError, Session: o.session.Clone()}
}

func (o *Orchestrator) runJob(ctx context.Context, kind domain.JobKind, in Input) {
	if o.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.jobTimeout)
		defer cancel()
	}

	start := o.clock.Now()
	var (
		apply func(*domain.Results)
		err   error
	)
	switch kind {
	case domain.JobModel:
		apply, err = o.model(ctx, in)
	case domain.JobComposite:
		apply, err = o.composite(ctx, in)
	case domain.JobStory:
		apply, err = o.story(ctx, in)
	}
	metrics.JobDuration.WithLabelValues(string(kind)).Observe(o.clock.Since(start).Seconds())

	if err != nil && !errors.Is(err, domain.ErrMalformedResponse) {
		err = &domain.UpstreamError{Job: kind, Err: err}
	}
	o.merge(ctx, kind, apply, err)
}

func (o *Orchestrator) model(ctx context.Context, in Input) (func(*domain.Results), error) {
	res, err := o.gens.Model.GenerateModel(ctx, providers.ModelRequest{
		CharacterID:    in.CharacterID,
		Description:    in.Prompts.Character,
		CharacterImage: in.CharacterImage,
		TargetFormats:  in.TargetFormats,
	})
	if err != nil {
		return nil, err
	}
	result := &domain.ModelResult{
		ID:            res.ID,
		PrimaryURL:    res.URL,
		AlternateURLs: res.Alternates,
		PolygonCount:  res.Polygons,
		PreviewURL:    res.PreviewURL,
	}
	return func(r *domain.Results) { r.Model = result }, nil
}

func (o *Orchestrator) composite(ctx context.Context, in Input) (func(*domain.Results), error) {
	res, err := o.gens.Composite.ComposeImage(ctx, providers.CompositeRequest{
		Background:  in.StageImage,
		Character:   in.CharacterImage,
		Instruction: in.Prompts.Stage,
	})
	if err != nil {
		return nil, err
	}
	result := &domain.CompositeResult{ID: res.ID, MimeType: res.MimeType}
	if len(res.Bytes) == 0 {
		result.RawBytesOrURL = res.URL
		result.DisplayURL = res.URL
		return func(r *domain.Results) { r.Composite = result }, nil
	}

	raw := rescache.EncodeBase64(res.Bytes)
	key := CompositeCacheKey(in.CharacterID)
	handle, err := o.cache.Put(key, raw, res.MimeType)
	if err != nil {
		return nil, err
	}
	result.RawBytesOrURL = raw
	result.CacheKey = key
	result.DisplayURL = handle
	return func(r *domain.Results) { r.Composite = result }, nil
}

func (o *Orchestrator) story(ctx context.Context, in Input) (func(*domain.Results), error) {
	prompt := in.Prompts.Story
	if strings.TrimSpace(prompt) == "" {
		prompt = strings.TrimSpace(in.Prompts.Character + " " + in.Prompts.Stage)
	}
	res, err := o.gens.Story.WriteStory(ctx, providers.StoryRequest{Prompt: prompt, Locale: in.Locale})
	if err != nil {
		return nil, err
	}
	result := &domain.StoryResult{ID: res.ID, Locale: in.Locale, Text: res.Content}
	return func(r *domain.Results) { r.Story = result }, nil
}

// merge records one settled job. Merges are serialized so the persisted
// session always reflects settle order.
func (o *Orchestrator) merge(ctx context.Context, kind domain.JobKind, apply func(*domain.Results), err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	log := o.logger.With().Str("job", string(kind)).Str("character_id", o.session.CharacterID).Logger()
	if err != nil {
		o.session.Statuses[kind] = domain.JobStatusError
		o.session.Errors[kind] = err.Error()
		if o.session.FirstError == "" {
			o.session.FirstError = err.Error()
		}
		metrics.JobsTotal.WithLabelValues(string(kind), string(domain.JobStatusError)).Inc()
		log.Warn().Err(err).Msg("job failed")
	} else {
		apply(&o.session.Results)
		o.session.Statuses[kind] = domain.JobStatusComplete
		delete(o.session.Errors, kind)
		metrics.JobsTotal.WithLabelValues(string(kind), string(domain.JobStatusComplete)).Inc()
		log.Info().Msg("job complete")
	}
	o.persistLocked(ctx)
}

func (o *Orchestrator) persistLocked(ctx context.Context) {
	o.session.Timestamp = o.clock.Now().UnixMilli()
	if err := kv.SetJSON(ctx, o.store, SessionKey, o.session); err != nil {
		o.logger.Error().Err(err).Msg("persist generation session")
	}
}
