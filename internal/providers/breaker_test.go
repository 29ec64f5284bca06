package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyStory struct {
	calls int
	err   error
}

func (f *flakyStory) WriteStory(ctx context.Context, req StoryRequest) (StoryResponse, error) {
	f.calls++
	if f.err != nil {
		return StoryResponse{}, f.err
	}
	return StoryResponse{ID: "s", Content: req.Prompt}, nil
}

func TestBreakerPassesThrough(t *testing.T) {
	story := &flakyStory{}
	b := NewBreaker(Generators{Story: story}, BreakerSettings{}, nil)

	got, err := b.Generators().Story.WriteStory(context.Background(), StoryRequest{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, gobreaker.StateClosed, b.State("story"))
}

func TestBreakerStaysClosedBelowMinRequests(t *testing.T) {
	story := &flakyStory{err: errors.New("connection refused")}
	b := NewBreaker(Generators{Story: story}, BreakerSettings{}, nil)

	for i := 0; i < 4; i++ {
		_, err := b.Generators().Story.WriteStory(context.Background(), StoryRequest{})
		assert.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State("story"))
}

func TestBreakerOpensAndFailsFast(t *testing.T) {
	story := &flakyStory{err: errors.New("timeout")}
	b := NewBreaker(Generators{Story: story}, BreakerSettings{OpenTimeout: time.Hour}, nil)
	gen := b.Generators().Story

	for i := 0; i < 5; i++ {
		_, _ = gen.WriteStory(context.Background(), StoryRequest{})
	}
	require.Equal(t, gobreaker.StateOpen, b.State("story"))

	_, err := gen.WriteStory(context.Background(), StoryRequest{})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 5, story.calls)

	// other collaborators are unaffected
	assert.Equal(t, gobreaker.StateClosed, b.State("model"))
}
