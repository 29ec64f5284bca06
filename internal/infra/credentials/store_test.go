package credentials

import (
	"context"
	"errors"
	"testing"

	"studio/internal/kv"
)

type failingStore struct{ kv.Store }

func (failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("boom")
}

func TestToken_EmptyWhenUnset(t *testing.T) {
	store := NewStore(kv.NewMemory())
	key, err := store.Token(context.Background(), ProviderGemini)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestSetToken_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore(kv.NewMemory())
	if err := store.SetToken(ctx, ProviderOpenAI, " secret "); err != nil {
		t.Fatalf("SetToken error: %v", err)
	}
	key, err := store.Token(ctx, ProviderOpenAI)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "secret" {
		t.Fatalf("expected secret, got %q", key)
	}
}

func TestSetToken_Rejects(t *testing.T) {
	store := NewStore(kv.NewMemory())
	if err := store.SetToken(context.Background(), ProviderGemini, "  "); err == nil {
		t.Fatal("expected error for blank key")
	}
	if err := store.SetToken(context.Background(), "mistral", "k"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	store := NewStore(kv.NewMemory())
	if err := store.SetToken(ctx, ProviderGemini, "stored"); err != nil {
		t.Fatalf("SetToken error: %v", err)
	}

	got, err := store.Resolve(ctx, ProviderGemini, "from-env")
	if err != nil || got != "from-env" {
		t.Fatalf("Resolve with env = %q, %v", got, err)
	}
	got, err = store.Resolve(ctx, ProviderGemini, " ")
	if err != nil || got != "stored" {
		t.Fatalf("Resolve without env = %q, %v", got, err)
	}
}

func TestToken_PropagatesStoreErrors(t *testing.T) {
	store := NewStore(failingStore{})
	if _, err := store.Token(context.Background(), ProviderGemini); err == nil {
		t.Fatal("expected store error")
	}
}
