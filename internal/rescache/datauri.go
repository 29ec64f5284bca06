package rescache

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrEmptyPayload is returned when a base64 payload decodes to nothing.
var ErrEmptyPayload = errors.New("empty image payload")

// DataURI builds an embeddable data URI.
func DataURI(mimeType, rawBase64 string) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + rawBase64
}

// IsDataURI reports whether s is a base64 data URI.
func IsDataURI(s string) bool {
	return strings.HasPrefix(s, "data:") && strings.Contains(s, ";base64,")
}

// DecodeBase64 accepts raw base64 (standard or URL alphabet, padded or not)
// or a data URI and returns the bytes plus the mime type carried by the URI.
func DecodeBase64(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	var mimeType string
	if strings.HasPrefix(s, "data:") {
		header, payload, ok := strings.Cut(s, ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return nil, "", errors.New("unsupported data uri")
		}
		mimeType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		s = payload
	}
	if s == "" {
		return nil, mimeType, ErrEmptyPayload
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(s); err == nil {
			if len(data) == 0 {
				return nil, mimeType, ErrEmptyPayload
			}
			return data, mimeType, nil
		}
	}
	return nil, mimeType, fmt.Errorf("invalid base64 payload")
}

// EncodeBase64 is the canonical encoding stored in entries and records.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// SniffMimeType detects the media type from the leading bytes, dropping any
// parameters.
func SniffMimeType(data []byte) string {
	mt := mimetype.Detect(data)
	name, _, _ := strings.Cut(mt.String(), ";")
	return name
}
