package creations

import (
	"strings"

	"studio/internal/domain"
	"studio/internal/rescache"
)

// The durable record must never point into the volatile cache, so every
// cache-backed image is rewritten as a data URI: the cache copy first, the
// raw bytes already on the selection otherwise.

func (s *Service) normalizeStage(sel domain.StageSelection) domain.StageSelection {
	sel.ImageBase64 = s.selfContained(sel.CacheKey, sel.ImageBase64, sel.MimeType)
	sel.CacheKey = ""
	return sel
}

func (s *Service) normalizeCharacter(sel domain.CharacterSelection) domain.CharacterSelection {
	sel.ImageBase64 = s.selfContained(sel.CacheKey, sel.ImageBase64, sel.MimeType)
	sel.CacheKey = ""
	return sel
}

func (s *Service) normalizeResults(r domain.Results) domain.Results {
	if r.Composite == nil {
		return r
	}
	comp := *r.Composite
	if !isRemoteURL(comp.RawBytesOrURL) || comp.CacheKey != "" {
		uri := s.selfContained(comp.CacheKey, comp.RawBytesOrURL, comp.MimeType)
		if uri != "" {
			comp.RawBytesOrURL = uri
			comp.DisplayURL = uri
		}
	}
	comp.CacheKey = ""
	r.Composite = &comp
	return r
}

func (s *Service) selfContained(cacheKey, raw, mimeType string) string {
	if cacheKey != "" && s.cache != nil {
		if uri, ok := s.cache.DataURI(cacheKey); ok {
			return uri
		}
	}
	if raw == "" || rescache.IsDataURI(raw) || isRemoteURL(raw) {
		return raw
	}
	return rescache.DataURI(mimeType, raw)
}

func isRemoteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
