package genai

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/providers"
)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	ImageModel string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client backs the composite and story generators with Gemini. Without an API
// key it produces deterministic synthetic output so local runs and CI work
// offline. Remote failures are returned, never papered over.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	imageModel string
	httpClient *http.Client
	logger     infra.Logger
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature        float64  `json:"temperature,omitempty"`
	CandidateCount     int      `json:"candidateCount,omitempty"`
	ResponseMimeType   string   `json:"responseMimeType,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; one with a generous timeout is created.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 90 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	imageModel := strings.TrimSpace(opts.ImageModel)
	if imageModel == "" {
		imageModel = "gemini-2.5-flash-image"
	}

	logger := infra.NopLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		imageModel: imageModel,
		httpClient: client,
		logger:     logger.With().Str("component", "genai").Logger(),
	}, nil
}

// Model returns the configured text model identifier.
func (c *Client) Model() string {
	return c.model
}

// Synthetic reports whether the client runs without credentials.
func (c *Client) Synthetic() bool {
	return c.apiKey == ""
}

// ComposeImage places the character onto the background.
func (c *Client) ComposeImage(ctx context.Context, req providers.CompositeRequest) (providers.CompositeResponse, error) {
	if err := ctx.Err(); err != nil {
		return providers.CompositeResponse{}, err
	}
	if req.Character.Empty() {
		return providers.CompositeResponse{}, errors.New("genai: character image is required")
	}
	if c.Synthetic() {
		return c.syntheticComposite(req)
	}

	parts := []geminiPart{{Text: buildCompositePrompt(req.Instruction)}}
	if !req.Background.Empty() {
		parts = append(parts, inlinePart(req.Background))
	}
	parts = append(parts, inlinePart(req.Character))

	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationConfig{
			CandidateCount:     1,
			ResponseModalities: []string{"IMAGE"},
		},
	}

	var response geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, c.imageModel, payload, &response); err != nil {
		return providers.CompositeResponse{}, err
	}

	raw := map[string]any{"id": responseID("composite", req.Instruction)}
	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				raw["bytes"] = part.InlineData.Data
				raw["mimeType"] = part.InlineData.MimeType
				break
			}
			if part.FileData != nil && part.FileData.FileURI != "" {
				raw["url"] = part.FileData.FileURI
				raw["mimeType"] = part.FileData.MimeType
				break
			}
		}
		if len(raw) > 1 {
			break
		}
	}

	out, err := providers.DecodeComposite(raw)
	if err != nil {
		return providers.CompositeResponse{}, err
	}
	c.logger.Debug().
		Str("model", c.imageModel).
		Str("mime", out.MimeType).
		Int("bytes", len(out.Bytes)).
		Msg("generated remote composite")
	return out, nil
}

// WriteStory asks the text model for a short narrative in the request locale.
func (c *Client) WriteStory(ctx context.Context, req providers.StoryRequest) (providers.StoryResponse, error) {
	if err := ctx.Err(); err != nil {
		return providers.StoryResponse{}, err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return providers.StoryResponse{}, errors.New("genai: story prompt is required")
	}
	if c.Synthetic() {
		return c.syntheticStory(req)
	}

	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: buildStoryPrompt(req)}},
		}},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:      0.8,
			CandidateCount:   1,
			ResponseMimeType: "application/json",
		},
	}

	var response geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, c.model, payload, &response); err != nil {
		return providers.StoryResponse{}, err
	}

	raw, err := decodeJSONText(extractText(response))
	if err != nil {
		return providers.StoryResponse{}, err
	}
	if _, ok := raw["id"]; !ok {
		raw["id"] = responseID("story", req.Prompt, req.Locale)
	}
	out, err := providers.DecodeStory(raw)
	if err != nil {
		return providers.StoryResponse{}, err
	}
	c.logger.Debug().
		Str("model", c.model).
		Str("locale", req.Locale).
		Int("chars", len(out.Content)).
		Msg("generated remote story")
	return out, nil
}

func (c *Client) invokeGemini(ctx context.Context, model string, payload any, out any) error {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(model))
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		var apiErr geminiErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("gemini status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		if len(data) > 0 {
			return fmt.Errorf("gemini status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return fmt.Errorf("gemini status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	return nil
}

func inlinePart(img domain.ImagePayload) geminiPart {
	mime := img.MimeType
	if mime == "" {
		mime = "image/png"
	}
	return geminiPart{InlineData: &geminiInlineData{
		MimeType: mime,
		Data:     base64.StdEncoding.EncodeToString(img.Bytes),
	}}
}

func extractText(resp geminiGenerateContentResponse) string {
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if strings.TrimSpace(part.Text) != "" {
				return part.Text
			}
		}
	}
	return ""
}

// decodeJSONText accepts model output that may wrap its JSON in a code fence.
func decodeJSONText(raw string) (map[string]any, error) {
	cleaned := extractJSONFragment(raw)
	if cleaned == "" {
		return nil, errors.New("genai: empty model output")
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, fmt.Errorf("genai: decode model output: %w", err)
	}
	return out, nil
}

func extractJSONFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = trimCodeFence(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

func responseID(kind string, parts ...any) string {
	return kind + "-" + deterministicSeed(append(parts, time.Now().UnixNano())...)
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(hasher, "%v", part)
		hasher.Write([]byte{'|'})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

var (
	_ providers.CompositeGenerator = (*Client)(nil)
	_ providers.StoryGenerator     = (*Client)(nil)
)
