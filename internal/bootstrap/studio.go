package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"studio/internal/creations"
	"studio/internal/expiry"
	"studio/internal/flight"
	"studio/internal/infra"
	"studio/internal/infra/credentials"
	"studio/internal/infra/geoip"
	"studio/internal/orchestrator"
	"studio/internal/providers"
	"studio/internal/providers/genai"
	"studio/internal/providers/meshgen"
	"studio/internal/providers/moderation"
	"studio/internal/rescache"
	"studio/internal/wizard"
)

// Studio is the fully wired application.
type Studio struct {
	Config       *infra.Config
	Stores       *Stores
	Credentials  *credentials.Store
	Cache        *rescache.Cache
	Blobs        *rescache.BlobRegistry
	Lock         *flight.Lock
	Breaker      *providers.Breaker
	Orchestrator *orchestrator.Orchestrator
	Wizard       *wizard.Wizard
	Creations    *creations.Service
	Sweeper      *expiry.Sweeper
	GeoIP        *geoip.Resolver
}

// NewPersistence wires only what the durable side needs; the CLI uses it
// with a nil cache and without any generator credentials.
func NewPersistence(cfg *infra.Config, stores *Stores, cache *rescache.Cache, clock clockwork.Clock, logger infra.Logger) (*expiry.Sweeper, *creations.Service) {
	sweeper := expiry.New(expiry.Options{
		Durable:    stores.Durable,
		Session:    stores.Session,
		Clock:      clock,
		SessionTTL: cfg.SessionTTL,
		Interval:   cfg.SweepInterval,
		Logger:     &logger,
	})
	svc := creations.New(creations.Options{
		Durable:       stores.Durable,
		Session:       stores.Session,
		Cache:         cache,
		Scheduler:     sweeper,
		Clock:         clock,
		Location:      time.Local,
		Logger:        &logger,
		PublicBaseURL: cfg.PublicBaseURL,
		DailyLimit:    cfg.DailySaveLimit,
		RetentionTTL:  cfg.RetentionTTL,
		ShareTTL:      cfg.ShareTTL,
	})
	return sweeper, svc
}

// Build wires every component on top of opened stores.
func Build(ctx context.Context, cfg *infra.Config, stores *Stores, logger infra.Logger) (*Studio, error) {
	clock := clockwork.NewRealClock()
	creds := credentials.NewStore(stores.Durable)

	geminiKey, err := creds.Resolve(ctx, credentials.ProviderGemini, cfg.GeminiAPIKey)
	if err != nil {
		return nil, fmt.Errorf("resolve gemini key: %w", err)
	}
	openAIKey, err := creds.Resolve(ctx, credentials.ProviderOpenAI, cfg.OpenAIAPIKey)
	if err != nil {
		return nil, fmt.Errorf("resolve openai key: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.GeneratorTimeout}
	gemini, err := genai.NewClient(genai.Options{
		APIKey:     geminiKey,
		BaseURL:    cfg.GeminiBaseURL,
		Model:      cfg.GeminiModel,
		HTTPClient: httpClient,
		Logger:     &logger,
	})
	if err != nil {
		return nil, err
	}
	mesh, err := meshgen.NewClient(meshgen.Options{
		BaseURL:    cfg.ModelServiceURL,
		APIKey:     cfg.ModelServiceAPIKey,
		HTTPClient: httpClient,
		Logger:     &logger,
	})
	if err != nil {
		return nil, err
	}
	if gemini.Synthetic() || mesh.Synthetic() {
		logger.Warn().
			Bool("composite_story_synthetic", gemini.Synthetic()).
			Bool("model_synthetic", mesh.Synthetic()).
			Msg("running with synthetic generators")
	}
	breaker := providers.NewBreaker(providers.Generators{Model: mesh, Composite: gemini, Story: gemini}, providers.BreakerSettings{}, &logger)

	moderator, err := newModerator(cfg, geminiKey, openAIKey, logger)
	if err != nil {
		return nil, err
	}

	var (
		blobs *rescache.BlobRegistry
		cache *rescache.Cache
	)
	if cfg.Headless {
		cache = rescache.New(nil, &logger)
	} else {
		blobs = rescache.NewBlobRegistry(cfg.PublicBaseURL)
		cache = rescache.New(blobs, &logger)
	}

	lock := flight.New(stores.Session, flight.WithClock(clock), flight.WithStaleAfter(cfg.LockStaleAfter))
	orch, err := orchestrator.New(orchestrator.Options{
		Generators: breaker.Generators(),
		Moderator:  moderator,
		Lock:       lock,
		Cache:      cache,
		Session:    stores.Session,
		Clock:      clock,
		Logger:     &logger,
	})
	if err != nil {
		return nil, err
	}

	sweeper, svc := NewPersistence(cfg, stores, cache, clock, logger)

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}

	return &Studio{
		Config:       cfg,
		Stores:       stores,
		Credentials:  creds,
		Cache:        cache,
		Blobs:        blobs,
		Lock:         lock,
		Breaker:      breaker,
		Orchestrator: orch,
		Wizard:       wizard.New(stores.Session, cache, clock, wizard.WithSessionReset(orch)),
		Creations:    svc,
		Sweeper:      sweeper,
		GeoIP:        resolver,
	}, nil
}

func newModerator(cfg *infra.Config, geminiKey, openAIKey string, logger infra.Logger) (providers.Moderator, error) {
	static := moderation.NewStatic()
	onFallback := func(reason string, err error) {
		logger.Warn().Err(err).Str("reason", reason).Msg("moderation fell back to static list")
	}
	switch cfg.ModerationProvider {
	case "static", "":
		return static, nil
	case "gemini":
		if geminiKey == "" {
			logger.Warn().Msg("gemini moderation requested without a key; using static list")
			return static, nil
		}
		return moderation.NewGemini(moderation.GeminiOptions{
			APIKey:     geminiKey,
			Model:      cfg.GeminiModel,
			BaseURL:    cfg.GeminiBaseURL,
			Fallback:   static,
			OnFallback: onFallback,
		})
	case "openai":
		if openAIKey == "" {
			logger.Warn().Msg("openai moderation requested without a key; using static list")
			return static, nil
		}
		return moderation.NewOpenAI(moderation.OpenAIOptions{
			APIKey:     openAIKey,
			Model:      cfg.OpenAIModel,
			BaseURL:    cfg.OpenAIBaseURL,
			Fallback:   static,
			OnFallback: onFallback,
			OnWarning: func(reason, detail string) {
				logger.Warn().Str("reason", reason).Str("detail", detail).Msg("openai moderation warning")
			},
		})
	}
	return nil, fmt.Errorf("unknown MODERATION_PROVIDER %q", cfg.ModerationProvider)
}
