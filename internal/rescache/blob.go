package rescache

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type blob struct {
	data     []byte
	mimeType string
}

// BlobRegistry is the in-process handle allocator: each handle is a URL under
// prefix that serves the bytes until revoked.
type BlobRegistry struct {
	prefix string
	mu     sync.RWMutex
	blobs  map[string]blob
}

// NewBlobRegistry issues handles of the form <baseURL>/v1/blobs/<id>.
func NewBlobRegistry(baseURL string) *BlobRegistry {
	return &BlobRegistry{
		prefix: strings.TrimRight(baseURL, "/") + "/v1/blobs/",
		blobs:  make(map[string]blob),
	}
}

func (r *BlobRegistry) Allocate(data []byte, mimeType string) (string, error) {
	id := uuid.NewString()
	cp := append([]byte(nil), data...)
	r.mu.Lock()
	r.blobs[id] = blob{data: cp, mimeType: mimeType}
	r.mu.Unlock()
	return r.prefix + id, nil
}

func (r *BlobRegistry) Revoke(handle string) {
	id := strings.TrimPrefix(handle, r.prefix)
	r.mu.Lock()
	delete(r.blobs, id)
	r.mu.Unlock()
}

// Lookup returns the bytes behind a blob id.
func (r *BlobRegistry) Lookup(id string) ([]byte, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.blobs[id]
	if !ok {
		return nil, "", false
	}
	return b.data, b.mimeType, true
}

// Len reports the number of live handles.
func (r *BlobRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}

// Serve writes the blob with the given id, or 404 once it has been revoked.
func (r *BlobRegistry) Serve(w http.ResponseWriter, req *http.Request, id string) {
	data, mimeType, ok := r.Lookup(id)
	if !ok {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

var _ Allocator = (*BlobRegistry)(nil)
