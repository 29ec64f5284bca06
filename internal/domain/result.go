package domain

// ModelResult describes a generated 3D model.
type ModelResult struct {
	ID            string   `json:"id"`
	PrimaryURL    string   `json:"primaryUrl"`
	AlternateURLs []string `json:"alternateUrls,omitempty"`
	PolygonCount  *int     `json:"polygonCount,omitempty"`
	PreviewURL    string   `json:"previewUrl,omitempty"`
}

// CompositeResult describes a generated composite image. RawBytesOrURL holds
// base64 image bytes when the generator returned them inline and a URL
// otherwise.
type CompositeResult struct {
	ID            string `json:"id"`
	MimeType      string `json:"mimeType"`
	RawBytesOrURL string `json:"rawBytesOrUrl"`
	CacheKey      string `json:"cacheKey,omitempty"`
	DisplayURL    string `json:"displayUrl,omitempty"`
}

// StoryResult is the generated narrative.
type StoryResult struct {
	ID     string `json:"id"`
	Locale string `json:"locale"`
	Text   string `json:"text"`
}

// ImagePayload is a decoded image handed to a generator.
type ImagePayload struct {
	Bytes    []byte
	MimeType string
}

// Empty reports whether the payload carries no bytes.
func (p ImagePayload) Empty() bool { return len(p.Bytes) == 0 }
