package genai

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"studio/internal/providers"
)

const syntheticCanvas = 1024

func (c *Client) syntheticComposite(req providers.CompositeRequest) (providers.CompositeResponse, error) {
	seed := deterministicSeed(len(req.Background.Bytes), len(req.Character.Bytes), req.Instruction)

	var canvas *image.RGBA
	if bg, _, err := image.Decode(bytes.NewReader(req.Background.Bytes)); err == nil {
		canvas = image.NewRGBA(bg.Bounds())
		draw.Draw(canvas, canvas.Bounds(), bg, bg.Bounds().Min, draw.Src)
	} else {
		canvas = renderBackdrop(syntheticCanvas, syntheticCanvas, seed)
	}

	if fg, _, err := image.Decode(bytes.NewReader(req.Character.Bytes)); err == nil {
		b := canvas.Bounds()
		fb := fg.Bounds()
		offset := image.Pt(b.Min.X+(b.Dx()-fb.Dx())/2, b.Max.Y-fb.Dy())
		draw.Draw(canvas, fb.Sub(fb.Min).Add(offset), fg, fb.Min, draw.Over)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return providers.CompositeResponse{}, fmt.Errorf("genai: encode synthetic composite: %w", err)
	}

	c.logger.Debug().Str("seed", seed).Msg("generated synthetic composite")

	return providers.DecodeComposite(map[string]any{
		"id":       "composite-" + seed,
		"bytes":    base64.StdEncoding.EncodeToString(buf.Bytes()),
		"mimeType": "image/png",
	})
}

func (c *Client) syntheticStory(req providers.StoryRequest) (providers.StoryResponse, error) {
	seed := deterministicSeed(req.Prompt, req.Locale)
	tag, err := language.Parse(req.Locale)
	if err != nil {
		tag = language.English
	}
	premise := strings.TrimSpace(req.Prompt)
	title := cases.Title(tag).String(premise)

	paragraphs := []string{
		title,
		fmt.Sprintf("It began the way these things always do: %s.", strings.TrimSuffix(premise, ".")),
		"By evening the small discovery had become a journey, and the journey had become a friendship.",
		"And when the lights finally went out, everyone agreed it had been the best day yet.",
	}

	c.logger.Debug().Str("seed", seed).Str("locale", req.Locale).Msg("generated synthetic story")

	return providers.DecodeStory(map[string]any{
		"id":      "story-" + seed,
		"content": strings.Join(paragraphs, "\n\n"),
	})
}

func renderBackdrop(width, height int, seed string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{colorFromSeed(seed, 0)}, image.Point{}, draw.Src)

	stripeHeight := max(32, height/12)
	accent := colorFromSeed(seed, 1)
	for y := 0; y < height; y += stripeHeight * 2 {
		stripe := image.Rect(0, y, width, min(height, y+stripeHeight))
		draw.Draw(img, stripe, &image.Uniform{accent}, image.Point{}, draw.Over)
	}
	return img
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if len(seed) < 6 {
		seed = "000000"
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	return color.RGBA{R: hexByte(segment[0:2]), G: hexByte(segment[2:4]), B: hexByte(segment[4:6]), A: 255}
}

func hexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}
