package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"studio/internal/providers"
)

type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Fallback   providers.Moderator
	OnFallback func(reason string, err error)
}

type Gemini struct {
	apiKey     string
	model      string
	baseURL    string
	client     *http.Client
	fallback   providers.Moderator
	onFallback func(reason string, err error)
}

const geminiDefaultTimeout = 15 * time.Second

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	CandidateCount   int     `json:"candidateCount,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func NewGemini(opts GeminiOptions) (*Gemini, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: geminiDefaultTimeout}
	}
	return &Gemini{
		apiKey:     strings.TrimSpace(opts.APIKey),
		model:      model,
		baseURL:    baseURL,
		client:     client,
		fallback:   opts.Fallback,
		onFallback: opts.OnFallback,
	}, nil
}

func (g *Gemini) Moderate(ctx context.Context, req providers.ModerationRequest) (providers.ModerationResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return deny("text is empty"), nil
	}
	payload := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: buildModerationPrompt(req)}},
		}},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:      0,
			CandidateCount:   1,
			ResponseMimeType: "application/json",
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return g.useFallback(ctx, req, "encode_request", err)
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return g.useFallback(ctx, req, "build_request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return g.useFallback(ctx, req, "http_request", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return g.useFallback(ctx, req, fmt.Sprintf("http_%d", resp.StatusCode), fmt.Errorf("gemini status %d", resp.StatusCode))
	}
	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return g.useFallback(ctx, req, "decode_response", err)
	}
	text := extractText(out)
	if text == "" {
		return g.useFallback(ctx, req, "empty_response", errors.New("empty response"))
	}
	raw, err := parseJSONObject(text)
	if err != nil {
		return g.useFallback(ctx, req, "parse_payload", err)
	}
	verdict, err := providers.DecodeModeration(raw)
	if err != nil {
		return g.useFallback(ctx, req, "malformed_verdict", err)
	}
	verdict.Provider = geminiProviderName
	return verdict, nil
}

func (g *Gemini) useFallback(ctx context.Context, req providers.ModerationRequest, reason string, cause error) (providers.ModerationResult, error) {
	if g.onFallback != nil {
		g.onFallback(reason, cause)
	}
	fallback := g.fallback
	if fallback == nil {
		fallback = NewStatic()
	}
	res, err := fallback.Moderate(ctx, req)
	if res.Provider == "" {
		res.Provider = staticProviderName
	}
	return res, err
}

func buildModerationPrompt(req providers.ModerationRequest) string {
	locale := req.Locale
	if locale == "" {
		locale = "en"
	}
	sb := &strings.Builder{}
	sb.WriteString("You moderate prompts for a family-friendly creative app that turns drawings into 3D characters and stories. Respond strictly with JSON matching this schema: ")
	sb.WriteString(`{"allowed":boolean,"reason":string}`)
	fmt.Fprintf(sb, ". Deny sexual content, graphic violence, self-harm and hate. The reason must be short and written in locale '%s'. Text to review: %q", locale, req.Text)
	return sb.String()
}

func extractText(resp geminiResponse) string {
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if strings.TrimSpace(part.Text) != "" {
				return part.Text
			}
		}
	}
	return ""
}

func parseJSONObject(raw string) (map[string]any, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, errors.New("no json object in response")
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, err
	}
	return out, nil
}

var _ providers.Moderator = (*Gemini)(nil)
