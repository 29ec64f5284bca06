package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"studio/internal/providers"
)

type OpenAIOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Fallback   providers.Moderator
	OnFallback func(reason string, err error)
	OnWarning  func(reason, detail string)
}

type OpenAI struct {
	apiKey     string
	model      string
	baseURL    string
	client     *http.Client
	fallback   providers.Moderator
	onFallback func(reason string, err error)
}

const openAIDefaultTimeout = 15 * time.Second

const defaultOpenAIModel = "omni-moderation-latest"

var openAIModelCanonical = map[string]string{
	"omni-moderation-latest": "omni-moderation-latest",
	"text-moderation-latest": "text-moderation-latest",
}

var openAIModelAliases = map[string]string{
	"omni":                       "omni-moderation-latest",
	"omni-moderation":            "omni-moderation-latest",
	"omni-moderation-2024-09-26": "omni-moderation-latest",
	"text-moderation":            "text-moderation-latest",
	"text-moderation-stable":     "text-moderation-latest",
	"text-moderation-007":        "text-moderation-latest",
}

type openAIModerationRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIModerationResponse struct {
	Results []struct {
		Flagged    bool            `json:"flagged"`
		Categories map[string]bool `json:"categories"`
	} `json:"results"`
}

func NewOpenAI(opts OpenAIOptions) (*OpenAI, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	modelInput := strings.TrimSpace(opts.Model)
	model, reason := normalizeOpenAIModel(modelInput)
	if reason != "" && opts.OnWarning != nil {
		requested := modelInput
		if requested == "" {
			requested = defaultOpenAIModel
		}
		opts.OnWarning("model_"+reason, fmt.Sprintf("requested=%s resolved=%s", requested, model))
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: openAIDefaultTimeout}
	}
	return &OpenAI{
		apiKey:     strings.TrimSpace(opts.APIKey),
		model:      model,
		baseURL:    baseURL,
		client:     client,
		fallback:   opts.Fallback,
		onFallback: opts.OnFallback,
	}, nil
}

func (o *OpenAI) Moderate(ctx context.Context, req providers.ModerationRequest) (providers.ModerationResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return deny("text is empty"), nil
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(openAIModerationRequest{Model: o.model, Input: req.Text}); err != nil {
		return o.useFallback(ctx, req, "encode_request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/moderations", &buf)
	if err != nil {
		return o.useFallback(ctx, req, "build_request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return o.useFallback(ctx, req, "http_request", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return o.useFallback(ctx, req, fmt.Sprintf("http_%d", resp.StatusCode), fmt.Errorf("openai status %d", resp.StatusCode))
	}
	var out openAIModerationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return o.useFallback(ctx, req, "decode_response", err)
	}
	if len(out.Results) == 0 {
		return o.useFallback(ctx, req, "empty_results", errors.New("no results"))
	}
	result := out.Results[0]
	if !result.Flagged {
		return providers.ModerationResult{Allowed: true, Provider: openAIProviderName}, nil
	}
	var flagged []string
	for category, hit := range result.Categories {
		if hit {
			flagged = append(flagged, category)
		}
	}
	sort.Strings(flagged)
	reason := "flagged"
	if len(flagged) > 0 {
		reason = "flagged: " + strings.Join(flagged, ", ")
	}
	return providers.ModerationResult{Allowed: false, Reason: reason, Provider: openAIProviderName}, nil
}

func (o *OpenAI) useFallback(ctx context.Context, req providers.ModerationRequest, reason string, cause error) (providers.ModerationResult, error) {
	if o.onFallback != nil {
		o.onFallback(reason, cause)
	}
	fallback := o.fallback
	if fallback == nil {
		fallback = NewStatic()
	}
	res, err := fallback.Moderate(ctx, req)
	if res.Provider == "" {
		res.Provider = staticProviderName
	}
	return res, err
}

func normalizeOpenAIModel(name string) (string, string) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return defaultOpenAIModel, ""
	}
	normalized := strings.ToLower(trimmed)
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	if canonical, ok := openAIModelCanonical[normalized]; ok {
		return canonical, ""
	}
	if alias, ok := openAIModelAliases[normalized]; ok {
		return alias, "alias"
	}
	return defaultOpenAIModel, "defaulted"
}

var _ providers.Moderator = (*OpenAI)(nil)
