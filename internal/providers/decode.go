package providers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"studio/internal/domain"
)

// DecodeModel validates a raw model generator reply.
func DecodeModel(raw map[string]any) (ModelResponse, error) {
	v := validator{job: domain.JobModel, raw: raw}
	out := ModelResponse{
		ID:         v.requiredString("id"),
		URL:        v.requiredString("url"),
		Alternates: v.stringList("alternates"),
		Polygons:   v.optionalCount("polygons"),
		PreviewURL: v.optionalString("previewUrl"),
	}
	return out, v.err
}

// DecodeComposite validates a raw composite generator reply. At least one of
// url or bytes must be present; inline bytes require a mime type.
func DecodeComposite(raw map[string]any) (CompositeResponse, error) {
	v := validator{job: domain.JobComposite, raw: raw}
	out := CompositeResponse{
		ID:       v.requiredString("id"),
		URL:      v.optionalString("url"),
		Bytes:    v.optionalBytes("bytes"),
		MimeType: v.optionalString("mimeType"),
	}
	if v.err != nil {
		return out, v.err
	}
	if out.URL == "" && len(out.Bytes) == 0 {
		return out, &domain.MalformedResponseError{Job: domain.JobComposite, Field: "url", Detail: "neither url nor bytes present"}
	}
	if len(out.Bytes) > 0 && out.MimeType == "" {
		return out, &domain.MalformedResponseError{Job: domain.JobComposite, Field: "mimeType", Detail: "required with inline bytes"}
	}
	return out, nil
}

// DecodeStory validates a raw story generator reply.
func DecodeStory(raw map[string]any) (StoryResponse, error) {
	v := validator{job: domain.JobStory, raw: raw}
	out := StoryResponse{
		ID:      v.requiredString("id"),
		Content: v.requiredString("content"),
	}
	return out, v.err
}

// DecodeModeration validates a raw moderator verdict.
func DecodeModeration(raw map[string]any) (ModerationResult, error) {
	v := validator{job: "moderation", raw: raw}
	allowed, ok := raw["allowed"].(bool)
	if !ok {
		return ModerationResult{}, &domain.MalformedResponseError{Job: "moderation", Field: "allowed", Detail: "expected boolean"}
	}
	return ModerationResult{Allowed: allowed, Reason: v.optionalString("reason")}, v.err
}

// validator records the first contract violation and lets decoding continue
// so callers read one error at the end.
type validator struct {
	job domain.JobKind
	raw map[string]any
	err error
}

func (v *validator) fail(field, detail string) {
	if v.err == nil {
		v.err = &domain.MalformedResponseError{Job: v.job, Field: field, Detail: detail}
	}
}

func (v *validator) requiredString(field string) string {
	s := v.optionalString(field)
	if s == "" && v.err == nil {
		v.fail(field, "required")
	}
	return s
}

func (v *validator) optionalString(field string) string {
	val, ok := v.raw[field]
	if !ok || val == nil {
		return ""
	}
	s, ok := val.(string)
	if !ok {
		v.fail(field, fmt.Sprintf("expected string, got %T", val))
		return ""
	}
	return strings.TrimSpace(s)
}

func (v *validator) stringList(field string) []string {
	val, ok := v.raw[field]
	if !ok || val == nil {
		return nil
	}
	switch list := val.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				v.fail(fmt.Sprintf("%s[%d]", field, i), fmt.Sprintf("expected string, got %T", item))
				return nil
			}
			out = append(out, s)
		}
		return out
	default:
		v.fail(field, fmt.Sprintf("expected list, got %T", val))
		return nil
	}
}

func (v *validator) optionalCount(field string) *int {
	val, ok := v.raw[field]
	if !ok || val == nil {
		return nil
	}
	var f float64
	switch n := val.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			v.fail(field, err.Error())
			return nil
		}
		f = parsed
	default:
		v.fail(field, fmt.Sprintf("expected number, got %T", val))
		return nil
	}
	if f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		v.fail(field, "expected non-negative integer")
		return nil
	}
	count := int(f)
	return &count
}

func (v *validator) optionalBytes(field string) []byte {
	val, ok := v.raw[field]
	if !ok || val == nil {
		return nil
	}
	switch b := val.(type) {
	case []byte:
		return b
	case string:
		if b == "" {
			return nil
		}
		data, err := base64.StdEncoding.DecodeString(b)
		if err != nil {
			v.fail(field, "invalid base64")
			return nil
		}
		return data
	default:
		v.fail(field, fmt.Sprintf("expected base64 string, got %T", val))
		return nil
	}
}
