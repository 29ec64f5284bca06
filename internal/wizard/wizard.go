// Package wizard keeps the user's stage and character choices in session
// storage and turns them into a generation input.
package wizard

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"studio/internal/domain"
	"studio/internal/kv"
	"studio/internal/orchestrator"
	"studio/internal/rescache"
)

// Session storage keys written by the wizard.
const (
	StageKey     = "stageSelection"
	CharacterKey = "characterSelection"
)

// StageCacheKey is the cache key of the stage image.
const StageCacheKey = "stage"

// CharacterCacheKey derives the cache key of a character image.
func CharacterCacheKey(id string) string {
	return "character:" + id
}

// SessionResetter discards the generation session. Reset fails with
// domain.ErrLockContention while a run is in flight.
type SessionResetter interface {
	Reset(ctx context.Context) error
}

// Option configures a Wizard.
type Option func(*Wizard)

// WithSessionReset routes session restarts through r instead of editing
// session storage directly.
func WithSessionReset(r SessionResetter) Option {
	return func(w *Wizard) { w.resetter = r }
}

type Wizard struct {
	store    kv.Store
	cache    *rescache.Cache
	clock    clockwork.Clock
	resetter SessionResetter
}

func New(store kv.Store, cache *rescache.Cache, clock clockwork.Clock, opts ...Option) *Wizard {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	w := &Wizard{store: store, cache: cache, clock: clock}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SetStage records the stage choice and restarts the flow from this step.
// The image is optional; when present it is cached and the display handle
// returned.
func (w *Wizard) SetStage(ctx context.Context, prompt, imageBase64, mimeType string) (domain.StageSelection, string, error) {
	sel := domain.StageSelection{Prompt: strings.TrimSpace(prompt), Timestamp: w.clock.Now().UnixMilli()}
	hasImage := strings.TrimSpace(imageBase64) != ""
	if sel.Prompt == "" && !hasImage {
		return domain.StageSelection{}, "", &domain.ValidationError{Reason: "stage needs a prompt or an image"}
	}
	if err := w.restart(ctx); err != nil {
		return domain.StageSelection{}, "", err
	}

	var handle string
	if hasImage {
		var err error
		handle, err = w.cache.Put(StageCacheKey, imageBase64, mimeType)
		if err != nil {
			return domain.StageSelection{}, "", &domain.ValidationError{Reason: err.Error()}
		}
		entry, _ := w.cache.Get(StageCacheKey)
		sel.ImageBase64 = entry.RawBytesBase64
		sel.MimeType = entry.MimeType
		sel.CacheKey = StageCacheKey
	} else {
		w.cache.Release(StageCacheKey)
	}
	if err := kv.SetJSON(ctx, w.store, StageKey, sel); err != nil {
		return domain.StageSelection{}, "", fmt.Errorf("wizard: save stage: %w", err)
	}
	return sel, handle, nil
}

// SetCharacter records the character choice and restarts the flow from this
// step. The image is required; an empty id gets a fresh one.
func (w *Wizard) SetCharacter(ctx context.Context, id, prompt, imageBase64, mimeType string) (domain.CharacterSelection, string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	if strings.TrimSpace(imageBase64) == "" {
		return domain.CharacterSelection{}, "", &domain.ValidationError{Reason: "character image is required"}
	}
	if err := w.restart(ctx); err != nil {
		return domain.CharacterSelection{}, "", err
	}

	if prev, ok, err := w.Character(ctx); err == nil && ok && prev.CacheKey != "" && prev.ID != id {
		w.cache.Release(prev.CacheKey)
	}

	key := CharacterCacheKey(id)
	handle, err := w.cache.Put(key, imageBase64, mimeType)
	if err != nil {
		return domain.CharacterSelection{}, "", &domain.ValidationError{Reason: err.Error()}
	}
	entry, _ := w.cache.Get(key)
	sel := domain.CharacterSelection{
		ID:          id,
		Prompt:      strings.TrimSpace(prompt),
		ImageBase64: entry.RawBytesBase64,
		MimeType:    entry.MimeType,
		CacheKey:    key,
		Timestamp:   w.clock.Now().UnixMilli(),
	}
	if err := kv.SetJSON(ctx, w.store, CharacterKey, sel); err != nil {
		return domain.CharacterSelection{}, "", fmt.Errorf("wizard: save character: %w", err)
	}
	return sel, handle, nil
}

func (w *Wizard) Stage(ctx context.Context) (domain.StageSelection, bool, error) {
	var sel domain.StageSelection
	ok, err := kv.GetJSON(ctx, w.store, StageKey, &sel)
	return sel, ok, err
}

func (w *Wizard) Character(ctx context.Context) (domain.CharacterSelection, bool, error) {
	var sel domain.CharacterSelection
	ok, err := kv.GetJSON(ctx, w.store, CharacterKey, &sel)
	return sel, ok, err
}

// Input assembles the generation input from the stored selections.
func (w *Wizard) Input(ctx context.Context, storyPrompt, locale string) (orchestrator.Input, error) {
	char, ok, err := w.Character(ctx)
	if err != nil {
		return orchestrator.Input{}, err
	}
	if !ok {
		return orchestrator.Input{}, fmt.Errorf("%w: character not selected", domain.ErrIncompleteSession)
	}
	stage, _, err := w.Stage(ctx)
	if err != nil {
		return orchestrator.Input{}, err
	}

	charImage, err := w.image(char.CacheKey, char.ImageBase64, char.MimeType)
	if err != nil {
		return orchestrator.Input{}, err
	}
	stageImage, err := w.image(stage.CacheKey, stage.ImageBase64, stage.MimeType)
	if err != nil {
		return orchestrator.Input{}, err
	}

	return orchestrator.Input{
		CharacterID:    char.ID,
		CharacterImage: charImage,
		StageImage:     stageImage,
		Prompts: orchestrator.Prompts{
			Stage:     stage.Prompt,
			Character: char.Prompt,
			Story:     strings.TrimSpace(storyPrompt),
		},
		Locale: locale,
	}, nil
}

// Clear forgets both selections and releases their cached images.
func (w *Wizard) Clear(ctx context.Context) error {
	var keys []string
	if char, ok, err := w.Character(ctx); err == nil && ok && char.CacheKey != "" {
		keys = append(keys, char.CacheKey)
	}
	if stage, ok, err := w.Stage(ctx); err == nil && ok && stage.CacheKey != "" {
		keys = append(keys, stage.CacheKey)
	}
	w.cache.ReleaseMany(keys)
	for _, key := range []string{StageKey, CharacterKey} {
		if err := w.store.Remove(ctx, key); err != nil {
			return fmt.Errorf("wizard: clear %s: %w", key, err)
		}
	}
	return nil
}

// restart discards the generation session left by an earlier run together
// with its composite cache entry.
func (w *Wizard) restart(ctx context.Context) error {
	if w.resetter != nil {
		return w.resetter.Reset(ctx)
	}
	var sess domain.GenerationSession
	found, err := kv.GetJSON(ctx, w.store, orchestrator.SessionKey, &sess)
	if err != nil {
		return fmt.Errorf("wizard: read generation session: %w", err)
	}
	if !found {
		return nil
	}
	if comp := sess.Results.Composite; comp != nil && comp.CacheKey != "" {
		w.cache.Release(comp.CacheKey)
	}
	if err := w.store.Remove(ctx, orchestrator.SessionKey); err != nil {
		return fmt.Errorf("wizard: clear generation session: %w", err)
	}
	return nil
}

// image resolves through the cache first and falls back to the stored bytes.
func (w *Wizard) image(cacheKey, raw, mimeType string) (domain.ImagePayload, error) {
	if cacheKey != "" {
		if entry, ok := w.cache.Get(cacheKey); ok {
			raw, mimeType = entry.RawBytesBase64, entry.MimeType
		}
	}
	if raw == "" {
		return domain.ImagePayload{}, nil
	}
	data, detected, err := rescache.DecodeBase64(raw)
	if err != nil {
		return domain.ImagePayload{}, fmt.Errorf("wizard: stored image: %w", err)
	}
	if mimeType == "" {
		mimeType = detected
	}
	return domain.ImagePayload{Bytes: data, MimeType: mimeType}, nil
}
