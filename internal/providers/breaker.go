package providers

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"studio/internal/infra"
	"studio/internal/metrics"
)

// Breaker guards the remote collaborators with one circuit breaker per
// collaborator: 60% failures over at least 5 requests inside a 10s window
// opens it, and one probe after 30s closes it again.
type Breaker struct {
	model     *gobreaker.CircuitBreaker
	composite *gobreaker.CircuitBreaker
	story     *gobreaker.CircuitBreaker
	next      Generators
}

// BreakerSettings overrides the trip policy; zero values keep the defaults.
type BreakerSettings struct {
	MinRequests  uint32
	FailureRatio float64
	Interval     time.Duration
	OpenTimeout  time.Duration
}

func NewBreaker(next Generators, settings BreakerSettings, logger *infra.Logger) *Breaker {
	l := infra.NopLogger()
	if logger != nil {
		l = *logger
	}
	if settings.MinRequests == 0 {
		settings.MinRequests = 5
	}
	if settings.FailureRatio == 0 {
		settings.FailureRatio = 0.6
	}
	if settings.Interval == 0 {
		settings.Interval = 10 * time.Second
	}
	if settings.OpenTimeout == 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	build := func(name string) *gobreaker.CircuitBreaker {
		metrics.BreakerState.WithLabelValues(name).Set(0)
		return gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    settings.Interval,
			Timeout:     settings.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < settings.MinRequests {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= settings.FailureRatio
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				l.Warn().
					Str("collaborator", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("circuit breaker state changed")
				metrics.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
			},
		})
	}
	return &Breaker{
		model:     build("model"),
		composite: build("composite"),
		story:     build("story"),
		next:      next,
	}
}

// Generators returns the breaker-wrapped collaborators.
func (b *Breaker) Generators() Generators {
	return Generators{Model: breakerModel{b}, Composite: breakerComposite{b}, Story: breakerStory{b}}
}

// State reports the breaker state of one collaborator.
func (b *Breaker) State(name string) gobreaker.State {
	switch name {
	case "model":
		return b.model.State()
	case "composite":
		return b.composite.State()
	default:
		return b.story.State()
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

type breakerModel struct{ b *Breaker }

func (g breakerModel) GenerateModel(ctx context.Context, req ModelRequest) (ModelResponse, error) {
	out, err := g.b.model.Execute(func() (interface{}, error) {
		return g.b.next.Model.GenerateModel(ctx, req)
	})
	if err != nil {
		return ModelResponse{}, err
	}
	return out.(ModelResponse), nil
}

type breakerComposite struct{ b *Breaker }

func (g breakerComposite) ComposeImage(ctx context.Context, req CompositeRequest) (CompositeResponse, error) {
	out, err := g.b.composite.Execute(func() (interface{}, error) {
		return g.b.next.Composite.ComposeImage(ctx, req)
	})
	if err != nil {
		return CompositeResponse{}, err
	}
	return out.(CompositeResponse), nil
}

type breakerStory struct{ b *Breaker }

func (g breakerStory) WriteStory(ctx context.Context, req StoryRequest) (StoryResponse, error) {
	out, err := g.b.story.Execute(func() (interface{}, error) {
		return g.b.next.Story.WriteStory(ctx, req)
	})
	if err != nil {
		return StoryResponse{}, err
	}
	return out.(StoryResponse), nil
}
