package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio/internal/domain"
	"studio/internal/providers"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func jsonResponse(status int, body any) *http.Response {
	data, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(data)),
	}
}

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSyntheticComposite(t *testing.T) {
	client, err := NewClient(Options{})
	require.NoError(t, err)
	require.True(t, client.Synthetic())

	bg := solidPNG(t, 64, 48, color.RGBA{B: 255, A: 255})
	fg := solidPNG(t, 8, 8, color.RGBA{R: 255, A: 255})

	out, err := client.ComposeImage(context.Background(), providers.CompositeRequest{
		Background: domain.ImagePayload{Bytes: bg, MimeType: "image/png"},
		Character:  domain.ImagePayload{Bytes: fg, MimeType: "image/png"},
	})
	require.NoError(t, err)
	assert.Equal(t, "image/png", out.MimeType)

	img, err := png.Decode(bytes.NewReader(out.Bytes))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())

	r, _, _, _ := img.At(32, 47).RGBA()
	assert.Equal(t, uint32(0xffff), r, "character drawn bottom-center")
	_, _, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), b, "background preserved")
}

func TestComposeRequiresCharacter(t *testing.T) {
	client, err := NewClient(Options{})
	require.NoError(t, err)

	_, err = client.ComposeImage(context.Background(), providers.CompositeRequest{})
	assert.Error(t, err)
}

func TestSyntheticStoryIsDeterministic(t *testing.T) {
	client, err := NewClient(Options{})
	require.NoError(t, err)

	req := providers.StoryRequest{Prompt: "a rooftop garden", Locale: "en"}
	first, err := client.WriteStory(context.Background(), req)
	require.NoError(t, err)
	second, err := client.WriteStory(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first.Content, "A Rooftop Garden"))
}

func TestRemoteComposite(t *testing.T) {
	imgBytes := solidPNG(t, 4, 4, color.White)
	var captured map[string]any
	client, err := NewClient(Options{
		APIKey:  "test-key",
		BaseURL: "https://gemini.test/v1beta",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
			assert.Equal(t, "/v1beta/models/gemini-2.5-flash-image:generateContent", r.URL.Path)
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
			return jsonResponse(http.StatusOK, map[string]any{
				"candidates": []any{map[string]any{
					"content": map[string]any{"parts": []any{
						map[string]any{"text": "here you go"},
						map[string]any{"inlineData": map[string]any{
							"mimeType": "image/png",
							"data":     base64.StdEncoding.EncodeToString(imgBytes),
						}},
					}},
				}},
			}), nil
		})},
	})
	require.NoError(t, err)

	out, err := client.ComposeImage(context.Background(), providers.CompositeRequest{
		Background:  domain.ImagePayload{Bytes: []byte("bg"), MimeType: "image/jpeg"},
		Character:   domain.ImagePayload{Bytes: []byte("fg"), MimeType: "image/png"},
		Instruction: "at dusk",
	})
	require.NoError(t, err)
	assert.Equal(t, imgBytes, out.Bytes)
	assert.Equal(t, "image/png", out.MimeType)
	assert.NotEmpty(t, out.ID)

	contents := captured["contents"].([]any)
	parts := contents[0].(map[string]any)["parts"].([]any)
	assert.Len(t, parts, 3)
}

func TestRemoteCompositeWithoutImageIsMalformed(t *testing.T) {
	client, err := NewClient(Options{
		APIKey: "test-key",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, map[string]any{
				"candidates": []any{map[string]any{
					"content": map[string]any{"parts": []any{map[string]any{"text": "no image today"}}},
				}},
			}), nil
		})},
	})
	require.NoError(t, err)

	_, err = client.ComposeImage(context.Background(), providers.CompositeRequest{
		Character: domain.ImagePayload{Bytes: []byte("fg"), MimeType: "image/png"},
	})
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
}

func TestRemoteStory(t *testing.T) {
	client, err := NewClient(Options{
		APIKey: "test-key",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, map[string]any{
				"candidates": []any{map[string]any{
					"content": map[string]any{"parts": []any{map[string]any{
						"text": "```json\n{\"title\":\"Garden\",\"content\":\"Once upon a rooftop.\"}\n```",
					}}},
				}},
			}), nil
		})},
	})
	require.NoError(t, err)

	out, err := client.WriteStory(context.Background(), providers.StoryRequest{Prompt: "A rooftop garden", Locale: "es"})
	require.NoError(t, err)
	assert.Equal(t, "Once upon a rooftop.", out.Content)
	assert.True(t, strings.HasPrefix(out.ID, "story-"))
}

func TestRemoteErrorsPropagate(t *testing.T) {
	client, err := NewClient(Options{
		APIKey: "test-key",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusTooManyRequests, map[string]any{
				"error": map[string]any{"code": 429, "message": "quota exhausted"},
			}), nil
		})},
	})
	require.NoError(t, err)

	_, err = client.WriteStory(context.Background(), providers.StoryRequest{Prompt: "x", Locale: "en"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exhausted")
}

func TestLanguageName(t *testing.T) {
	assert.Equal(t, "Spanish", languageName("es"))
	assert.Equal(t, "Japanese", languageName("ja"))
	assert.Equal(t, "English", languageName(""))
}
