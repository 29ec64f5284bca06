package creations

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"studio/internal/domain"
	"studio/internal/rescache"
	"studio/pkg/zip"
)

// Archive bundles the creation at index into a zip with its story, composite
// image, model links and the record itself. It returns a suggested filename.
func (s *Service) Archive(ctx context.Context, index int) (string, []byte, error) {
	c, err := s.Get(ctx, index)
	if err != nil {
		return "", nil, err
	}
	modified := c.CreatedAt
	entries := make([]zip.Entry, 0, 4)

	if story := c.Results.Story; story != nil {
		entries = append(entries, zip.Entry{Name: "story.txt", Data: []byte(story.Text), Modified: modified})
	}
	if comp := c.Results.Composite; comp != nil {
		if entry, ok := compositeEntry(comp); ok {
			entry.Modified = modified
			entries = append(entries, entry)
		}
	}
	if model := c.Results.Model; model != nil {
		var b strings.Builder
		fmt.Fprintln(&b, model.PrimaryURL)
		for _, alt := range model.AlternateURLs {
			fmt.Fprintln(&b, alt)
		}
		if model.PreviewURL != "" {
			fmt.Fprintf(&b, "preview: %s\n", model.PreviewURL)
		}
		entries = append(entries, zip.Entry{Name: "model.txt", Data: []byte(b.String()), Modified: modified})
	}

	record, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("creations: encode record: %w", err)
	}
	entries = append(entries, zip.Entry{Name: "creation.json", Data: record, Modified: modified})

	data, err := zip.Bytes(entries)
	if err != nil {
		return "", nil, fmt.Errorf("creations: archive: %w", err)
	}
	return fmt.Sprintf("creation-%s.zip", c.ID), data, nil
}

// compositeEntry decodes inline image bytes. Remote composites are left to
// the creation.json link.
func compositeEntry(comp *domain.CompositeResult) (zip.Entry, bool) {
	if comp.RawBytesOrURL == "" || isRemoteURL(comp.RawBytesOrURL) {
		return zip.Entry{}, false
	}
	data, detected, err := rescache.DecodeBase64(comp.RawBytesOrURL)
	if err != nil {
		return zip.Entry{}, false
	}
	mimeType := comp.MimeType
	if mimeType == "" {
		mimeType = detected
	}
	ext := ".img"
	if m := mimetype.Lookup(mimeType); m != nil && m.Extension() != "" {
		ext = m.Extension()
	}
	return zip.Entry{Name: "composite" + ext, Data: data}, true
}
