// Package kv provides the string-keyed stores every persistent piece of the
// studio is built on. Stores have no transactions; callers that need
// read-modify-write atomicity serialize through their own mutex.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store is a simple string-keyed get/set/remove store.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// GetJSON decodes the value stored at key into out. It reports false when the
// key is absent.
func GetJSON(ctx context.Context, s Store, key string, out any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("kv: decode %q: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %q: %w", key, err)
	}
	return s.Set(ctx, key, string(raw))
}
