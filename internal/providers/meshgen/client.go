// Package meshgen talks to the image-to-3D model service. Generation is an
// asynchronous task on the service side: the client submits, then polls the
// task until it settles.
package meshgen

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

	"studio/internal/infra"
	"studio/internal/providers"
)

// Options configures the model service client.
type Options struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	HTTPClient   *http.Client
	Logger       *infra.Logger
}

// Client performs HTTP calls to the model service. Without a base URL it
// returns deterministic synthetic models.
type Client struct {
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	httpClient   *http.Client
	logger       infra.Logger
}

type submitRequest struct {
	CharacterID string     `json:"characterId"`
	Description string     `json:"description"`
	Image       imageInput `json:"image"`
	Formats     []string   `json:"targetFormats,omitempty"`
}

type imageInput struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DefaultFormats is requested when the caller does not name any.
var DefaultFormats = []string{"glb", "usdz"}

func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	logger := infra.NopLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		apiKey:       strings.TrimSpace(opts.APIKey),
		pollInterval: interval,
		httpClient:   httpClient,
		logger:       logger.With().Str("component", "meshgen").Logger(),
	}, nil
}

// Synthetic reports whether the client runs without a service.
func (c *Client) Synthetic() bool {
	return c.baseURL == ""
}

// GenerateModel submits the character and waits for the model.
func (c *Client) GenerateModel(ctx context.Context, req providers.ModelRequest) (providers.ModelResponse, error) {
	if err := ctx.Err(); err != nil {
		return providers.ModelResponse{}, err
	}
	if req.CharacterImage.Empty() {
		return providers.ModelResponse{}, errors.New("meshgen: character image is required")
	}
	formats := req.TargetFormats
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	if c.Synthetic() {
		return c.syntheticModel(req, formats)
	}

	payload := submitRequest{
		CharacterID: req.CharacterID,
		Description: strings.TrimSpace(req.Description),
		Image: imageInput{
			MimeType: req.CharacterImage.MimeType,
			Data:     base64.StdEncoding.EncodeToString(req.CharacterImage.Bytes),
		},
		Formats: formats,
	}
	raw, err := c.do(ctx, http.MethodPost, "/models", payload)
	if err != nil {
		return providers.ModelResponse{}, err
	}

	for {
		status, _ := raw["status"].(string)
		switch strings.ToLower(status) {
		case "", "succeeded", "complete", "completed":
			out, err := providers.DecodeModel(raw)
			if err != nil {
				return providers.ModelResponse{}, err
			}
			c.logger.Debug().Str("character_id", req.CharacterID).Str("model_id", out.ID).Msg("model ready")
			return out, nil
		case "failed", "error":
			msg, _ := raw["error"].(string)
			if msg == "" {
				msg = "task failed"
			}
			return providers.ModelResponse{}, fmt.Errorf("meshgen: %s", msg)
		}

		taskID, _ := raw["taskId"].(string)
		if taskID == "" {
			taskID, _ = raw["id"].(string)
		}
		if taskID == "" {
			return providers.ModelResponse{}, fmt.Errorf("meshgen: pending task without id")
		}

		select {
		case <-ctx.Done():
			return providers.ModelResponse{}, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		raw, err = c.do(ctx, http.MethodGet, "/models/"+url.PathEscape(taskID), nil)
		if err != nil {
			return providers.ModelResponse{}, err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (map[string]any, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("meshgen: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("meshgen: build request: %w", err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("meshgen: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("meshgen: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(data, &detail); err == nil && detail.Message != "" {
			return nil, fmt.Errorf("meshgen: %s (%s)", detail.Message, detail.Code)
		}
		return nil, fmt.Errorf("meshgen: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("meshgen: decode response: %w", err)
	}
	return raw, nil
}

func (c *Client) syntheticModel(req providers.ModelRequest, formats []string) (providers.ModelResponse, error) {
	hasher := sha256.New()
	hasher.Write(req.CharacterImage.Bytes)
	fmt.Fprintf(hasher, "|%s|%s", req.CharacterID, req.Description)
	seed := hex.EncodeToString(hasher.Sum(nil))[:16]

	base := "https://models.studio.invalid/synthetic/" + seed
	alternates := make([]any, 0, len(formats))
	for _, f := range formats[1:] {
		alternates = append(alternates, base+"."+f)
	}
	c.logger.Debug().Str("character_id", req.CharacterID).Str("seed", seed).Msg("generated synthetic model")

	return providers.DecodeModel(map[string]any{
		"id":         "model-" + seed,
		"url":        base + "." + formats[0],
		"alternates": alternates,
		"polygons":   float64(8000 + len(req.Description)*10),
		"previewUrl": base + ".png",
	})
}

var _ providers.ModelGenerator = (*Client)(nil)
