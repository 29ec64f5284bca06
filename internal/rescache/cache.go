// Package rescache maps cache keys to decoded image bytes and the revocable
// display handles that expose them. The cache has no TTL or eviction: entries
// live until released, and each key has a single logical owner.
package rescache

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"studio/internal/infra"
	"studio/internal/metrics"
)

// Allocator hands out revocable display handles for image bytes.
type Allocator interface {
	Allocate(data []byte, mimeType string) (string, error)
	Revoke(handle string)
}

// Entry is one cached image.
type Entry struct {
	Key            string `json:"cacheKey"`
	RawBytesBase64 string `json:"rawBytesBase64"`
	MimeType       string `json:"mimeType"`
	DisplayHandle  string `json:"displayHandle"`
	revocable      bool
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	alloc   Allocator
	logger  infra.Logger
}

// New builds a cache. A nil allocator puts the cache in headless mode where
// handles are self-contained data URIs and nothing is ever revoked.
func New(alloc Allocator, logger *infra.Logger) *Cache {
	l := infra.NopLogger()
	if logger != nil {
		l = *logger
	}
	return &Cache{
		entries: make(map[string]*Entry),
		alloc:   alloc,
		logger:  l.With().Str("component", "rescache").Logger(),
	}
}

// Headless reports whether handles are data URIs.
func (c *Cache) Headless() bool {
	return c.alloc == nil
}

// Put stores the image under key and returns its display handle. A live
// handle already held by key is revoked before the new one is allocated.
func (c *Cache) Put(key, rawBytesBase64, mimeType string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("rescache: key is required")
	}
	payload, detected, err := DecodeBase64(rawBytesBase64)
	if err != nil {
		return "", fmt.Errorf("rescache: %s: %w", key, err)
	}
	if mimeType == "" {
		mimeType = detected
	}
	if mimeType == "" {
		mimeType = SniffMimeType(payload)
	}
	encoded := EncodeBase64(payload)

	c.mu.Lock()
	defer c.mu.Unlock()

	if prior, ok := c.entries[key]; ok {
		c.revokeLocked(prior)
		delete(c.entries, key)
	}

	entry := &Entry{Key: key, RawBytesBase64: encoded, MimeType: mimeType}
	if c.alloc == nil {
		entry.DisplayHandle = DataURI(mimeType, encoded)
	} else {
		handle, err := c.alloc.Allocate(payload, mimeType)
		if err != nil {
			metrics.CacheEntries.Set(float64(len(c.entries)))
			return "", fmt.Errorf("rescache: allocate handle for %s: %w", key, err)
		}
		entry.DisplayHandle = handle
		entry.revocable = true
	}
	c.entries[key] = entry
	metrics.CacheEntries.Set(float64(len(c.entries)))

	c.logger.Debug().Str("key", key).Str("mime", mimeType).Int("bytes", len(payload)).Msg("cached image")
	return entry.DisplayHandle, nil
}

// Get returns a copy of the entry for key. Lookups never extend a lifetime.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// DataURI returns the self-contained form of the cached image.
func (c *Cache) DataURI(key string) (string, bool) {
	entry, ok := c.Get(key)
	if !ok {
		return "", false
	}
	return DataURI(entry.MimeType, entry.RawBytesBase64), true
}

// Release revokes the handle for key and drops the entry. Missing keys are
// ignored.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(key)
	metrics.CacheEntries.Set(float64(len(c.entries)))
}

// ReleaseMany releases every key in keys.
func (c *Cache) ReleaseMany(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		c.releaseLocked(key)
	}
	metrics.CacheEntries.Set(float64(len(c.entries)))
}

// Keys lists the cached keys in sorted order.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	sort.Strings(keys)
	return keys
}

func (c *Cache) releaseLocked(key string) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	c.revokeLocked(entry)
	delete(c.entries, key)
	c.logger.Debug().Str("key", key).Msg("released image")
}

func (c *Cache) revokeLocked(entry *Entry) {
	if !entry.revocable || c.alloc == nil {
		return
	}
	c.alloc.Revoke(entry.DisplayHandle)
	entry.revocable = false
	metrics.HandlesRevoked.Inc()
}
