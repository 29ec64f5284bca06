// Package credentials keeps provider API keys in the durable store so an
// operator can rotate them without touching the environment.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"studio/internal/kv"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// ErrUnknownProvider is returned for providers the studio does not call.
var ErrUnknownProvider = errors.New("unknown provider")

type record struct {
	Token     string    `json:"token"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Store struct {
	store kv.Store
	now   func() time.Time
}

func NewStore(store kv.Store) *Store {
	return &Store{store: store, now: time.Now}
}

func key(provider string) string {
	return "integration:" + provider
}

func checkProvider(provider string) error {
	switch provider {
	case ProviderGemini, ProviderOpenAI:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
}

// Token returns the stored key, or "" when none was set.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	if err := checkProvider(provider); err != nil {
		return "", err
	}
	var rec record
	if _, err := kv.GetJSON(ctx, s.store, key(provider), &rec); err != nil {
		return "", err
	}
	return strings.TrimSpace(rec.Token), nil
}

func (s *Store) SetToken(ctx context.Context, provider, token string) error {
	if err := checkProvider(provider); err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%s api key is required", provider)
	}
	return kv.SetJSON(ctx, s.store, key(provider), record{Token: token, UpdatedAt: s.now().UTC()})
}

// Resolve prefers a non-blank configured value over the stored one.
func (s *Store) Resolve(ctx context.Context, provider, configured string) (string, error) {
	if v := strings.TrimSpace(configured); v != "" {
		return v, nil
	}
	return s.Token(ctx, provider)
}
