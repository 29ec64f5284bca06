package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"studio/internal/providers"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func jsonBody(v any) io.ReadCloser {
	data, _ := json.Marshal(v)
	return io.NopCloser(bytes.NewReader(data))
}

func TestStaticModerator(t *testing.T) {
	t.Parallel()
	mod := NewStatic("dragonfire")
	cases := []struct {
		name    string
		text    string
		allowed bool
	}{
		{name: "plain", text: "A rooftop garden", allowed: true},
		{name: "empty", text: "   ", allowed: false},
		{name: "blocked", text: "A GORE fountain", allowed: false},
		{name: "extra_term", text: "breathing DragonFire", allowed: false},
		{name: "japanese", text: "ヌードの絵", allowed: false},
		{name: "too_long", text: strings.Repeat("a", MaxTextLength+1), allowed: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res, err := mod.Moderate(context.Background(), providers.ModerationRequest{Text: tc.text, Locale: "en"})
			if err != nil {
				t.Fatalf("Moderate returned error: %v", err)
			}
			if res.Allowed != tc.allowed {
				t.Fatalf("Allowed = %v, want %v (reason %q)", res.Allowed, tc.allowed, res.Reason)
			}
			if !res.Allowed && res.Reason == "" {
				t.Fatal("expected a reason for denial")
			}
		})
	}
}

func TestGeminiModeratorVerdict(t *testing.T) {
	mod, err := NewGemini(GeminiOptions{
		APIKey: "dummy",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if got := r.Header.Get("x-goog-api-key"); got != "dummy" {
				t.Errorf("api key header = %q", got)
			}
			return &http.Response{StatusCode: http.StatusOK, Body: jsonBody(map[string]any{
				"candidates": []any{map[string]any{"content": map[string]any{"parts": []any{
					map[string]any{"text": `{"allowed":false,"reason":"violence"}`},
				}}}},
			})}, nil
		})},
	})
	if err != nil {
		t.Fatalf("NewGemini returned error: %v", err)
	}
	res, err := mod.Moderate(context.Background(), providers.ModerationRequest{Text: "a battle", Locale: "en"})
	if err != nil {
		t.Fatalf("Moderate returned error: %v", err)
	}
	if res.Allowed || res.Reason != "violence" || res.Provider != geminiProviderName {
		t.Fatalf("unexpected verdict %+v", res)
	}
}

func TestGeminiModeratorFallback(t *testing.T) {
	var capturedReason string
	mod, err := NewGemini(GeminiOptions{
		APIKey: "dummy",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return nil, errors.New("boom")
		})},
		OnFallback: func(reason string, err error) {
			capturedReason = reason
		},
	})
	if err != nil {
		t.Fatalf("NewGemini returned error: %v", err)
	}
	res, err := mod.Moderate(context.Background(), providers.ModerationRequest{Text: "A rooftop garden", Locale: "en"})
	if err != nil {
		t.Fatalf("Moderate returned error: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("expected fallback to allow, got %+v", res)
	}
	if res.Provider != staticProviderName {
		t.Fatalf("Provider = %q, want %q", res.Provider, staticProviderName)
	}
	if capturedReason != "http_request" {
		t.Fatalf("captured reason = %q, want %q", capturedReason, "http_request")
	}
}

func TestGeminiModeratorMalformedVerdictFallsBack(t *testing.T) {
	var capturedReason string
	mod, err := NewGemini(GeminiOptions{
		APIKey: "dummy",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusOK, Body: jsonBody(map[string]any{
				"candidates": []any{map[string]any{"content": map[string]any{"parts": []any{
					map[string]any{"text": `{"allowed":"maybe"}`},
				}}}},
			})}, nil
		})},
		OnFallback: func(reason string, err error) { capturedReason = reason },
	})
	if err != nil {
		t.Fatalf("NewGemini returned error: %v", err)
	}
	if _, err := mod.Moderate(context.Background(), providers.ModerationRequest{Text: "hello"}); err != nil {
		t.Fatalf("Moderate returned error: %v", err)
	}
	if capturedReason != "malformed_verdict" {
		t.Fatalf("captured reason = %q, want malformed_verdict", capturedReason)
	}
}

func TestOpenAIModeratorFlagged(t *testing.T) {
	mod, err := NewOpenAI(OpenAIOptions{
		APIKey: "dummy",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.URL.Path != "/v1/moderations" {
				t.Errorf("path = %q", r.URL.Path)
			}
			return &http.Response{StatusCode: http.StatusOK, Body: jsonBody(map[string]any{
				"results": []any{map[string]any{
					"flagged":    true,
					"categories": map[string]bool{"violence": true, "hate": true, "sexual": false},
				}},
			})}, nil
		})},
	})
	if err != nil {
		t.Fatalf("NewOpenAI returned error: %v", err)
	}
	res, err := mod.Moderate(context.Background(), providers.ModerationRequest{Text: "x"})
	if err != nil {
		t.Fatalf("Moderate returned error: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected denial")
	}
	if res.Reason != "flagged: hate, violence" {
		t.Fatalf("Reason = %q", res.Reason)
	}
}

func TestOpenAIModeratorFallback(t *testing.T) {
	var capturedReason string
	mod, err := NewOpenAI(OpenAIOptions{
		APIKey: "dummy",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusServiceUnavailable, Body: io.NopCloser(strings.NewReader(""))}, nil
		})},
		OnFallback: func(reason string, err error) { capturedReason = reason },
	})
	if err != nil {
		t.Fatalf("NewOpenAI returned error: %v", err)
	}
	res, err := mod.Moderate(context.Background(), providers.ModerationRequest{Text: "A translucent traveler"})
	if err != nil {
		t.Fatalf("Moderate returned error: %v", err)
	}
	if !res.Allowed || res.Provider != staticProviderName {
		t.Fatalf("unexpected verdict %+v", res)
	}
	if capturedReason != "http_503" {
		t.Fatalf("captured reason = %q, want http_503", capturedReason)
	}
}

func TestNormalizeOpenAIModel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		input  string
		model  string
		reason string
	}{
		{name: "exact_default", input: "omni-moderation-latest", model: "omni-moderation-latest", reason: ""},
		{name: "exact_text", input: "text-moderation-latest", model: "text-moderation-latest", reason: ""},
		{name: "alias_short", input: "omni", model: "omni-moderation-latest", reason: "alias"},
		{name: "alias_spaces", input: "Text Moderation Stable", model: "text-moderation-latest", reason: "alias"},
		{name: "unsupported", input: "gpt-4o", model: "omni-moderation-latest", reason: "defaulted"},
		{name: "empty", input: "", model: "omni-moderation-latest", reason: ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			gotModel, gotReason := normalizeOpenAIModel(tc.input)
			if gotModel != tc.model {
				t.Fatalf("model = %q, want %q", gotModel, tc.model)
			}
			if gotReason != tc.reason {
				t.Fatalf("reason = %q, want %q", gotReason, tc.reason)
			}
		})
	}
}
