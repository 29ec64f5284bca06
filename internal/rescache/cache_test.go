package rescache

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingAllocator struct {
	mu      sync.Mutex
	next    int
	revoked map[string]int
}

func newCountingAllocator() *countingAllocator {
	return &countingAllocator{revoked: make(map[string]int)}
}

func (a *countingAllocator) Allocate(data []byte, mimeType string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	return fmt.Sprintf("blob:%d", a.next), nil
}

func (a *countingAllocator) Revoke(handle string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.revoked[handle]++
}

func (a *countingAllocator) revocations(handle string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.revoked[handle]
}

var (
	bytesA = base64.StdEncoding.EncodeToString([]byte("first image"))
	bytesB = base64.StdEncoding.EncodeToString([]byte("second image"))
)

func TestPutReplacesAndRevokesPriorHandleOnce(t *testing.T) {
	alloc := newCountingAllocator()
	cache := New(alloc, nil)

	first, err := cache.Put("k", bytesA, "image/png")
	require.NoError(t, err)
	second, err := cache.Put("k", bytesB, "image/png")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, 1, alloc.revocations(first))
	assert.Equal(t, 0, alloc.revocations(second))

	entry, ok := cache.Get("k")
	require.True(t, ok)
	assert.Equal(t, second, entry.DisplayHandle)
	assert.Equal(t, bytesB, entry.RawBytesBase64)
}

func TestReleaseIsIdempotent(t *testing.T) {
	alloc := newCountingAllocator()
	cache := New(alloc, nil)

	handle, err := cache.Put("k", bytesA, "image/png")
	require.NoError(t, err)

	cache.Release("k")
	cache.Release("k")
	cache.Release("missing")

	assert.Equal(t, 1, alloc.revocations(handle))
	_, ok := cache.Get("k")
	assert.False(t, ok)
}

func TestReleaseMany(t *testing.T) {
	alloc := newCountingAllocator()
	cache := New(alloc, nil)

	h1, err := cache.Put("a", bytesA, "image/png")
	require.NoError(t, err)
	h2, err := cache.Put("b", bytesB, "image/jpeg")
	require.NoError(t, err)
	_, err = cache.Put("c", bytesB, "image/jpeg")
	require.NoError(t, err)

	cache.ReleaseMany([]string{"a", "b", "zzz"})

	assert.Equal(t, 1, alloc.revocations(h1))
	assert.Equal(t, 1, alloc.revocations(h2))
	assert.Equal(t, []string{"c"}, cache.Keys())
}

func TestHeadlessReturnsDataURI(t *testing.T) {
	cache := New(nil, nil)
	require.True(t, cache.Headless())

	handle, err := cache.Put("k", bytesA, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,"+bytesA, handle)

	uri, ok := cache.DataURI("k")
	require.True(t, ok)
	assert.Equal(t, handle, uri)

	cache.Release("k")
	_, ok = cache.Get("k")
	assert.False(t, ok)
}

func TestPutRejectsBadInput(t *testing.T) {
	cache := New(nil, nil)

	_, err := cache.Put("", bytesA, "image/png")
	assert.Error(t, err)

	_, err = cache.Put("k", "%%%not-base64%%%", "image/png")
	assert.Error(t, err)

	_, err = cache.Put("k", "", "image/png")
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestPutAcceptsDataURIInput(t *testing.T) {
	cache := New(nil, nil)

	_, err := cache.Put("k", "data:image/webp;base64,"+bytesA, "")
	require.NoError(t, err)

	entry, ok := cache.Get("k")
	require.True(t, ok)
	assert.Equal(t, "image/webp", entry.MimeType)
	assert.Equal(t, bytesA, entry.RawBytesBase64)
}

func TestBlobRegistryServesUntilRevoked(t *testing.T) {
	reg := NewBlobRegistry("http://studio.test/")
	cache := New(reg, nil)

	handle, err := cache.Put("k", bytesA, "image/png")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(handle, "http://studio.test/v1/blobs/"))
	id := strings.TrimPrefix(handle, "http://studio.test/v1/blobs/")

	rec := httptest.NewRecorder()
	reg.Serve(rec, httptest.NewRequest(http.MethodGet, "/v1/blobs/"+id, nil), id)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "first image", rec.Body.String())

	cache.Release("k")
	assert.Equal(t, 0, reg.Len())

	rec = httptest.NewRecorder()
	reg.Serve(rec, httptest.NewRequest(http.MethodGet, "/v1/blobs/"+id, nil), id)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConcurrentPutsKeepOneLiveHandle(t *testing.T) {
	reg := NewBlobRegistry("")
	cache := New(reg, nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cache.Put("shared", bytesA, "image/png")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, reg.Len())
}

func TestPutSniffsMissingMimeType(t *testing.T) {
	cache := New(nil, nil)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	handle, err := cache.Put("k", EncodeBase64(png), "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(handle, "data:image/png;base64,"))
}
