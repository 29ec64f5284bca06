// Package moderation holds the content moderators consulted before a
// generation run starts. Remote moderators fall back to the static word list
// when the service is unreachable or answers with garbage.
package moderation

import (
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"studio/internal/providers"
)

const (
	staticProviderName = "static"
	geminiProviderName = "gemini"
	openAIProviderName = "openai"
)

// MaxTextLength bounds a single prompt in runes.
const MaxTextLength = 2000

var defaultBlocklist = []string{
	"gore", "beheading", "self-harm", "suicide", "nazi", "porn", "nude",
	"sangre", "desnudo", "suicidio",
	"自殺", "ヌード",
}

// Static allows any non-empty text that avoids the configured word list.
type Static struct {
	blocked []string
}

func NewStatic(extra ...string) *Static {
	fold := cases.Fold()
	words := make([]string, 0, len(defaultBlocklist)+len(extra))
	for _, w := range append(append([]string{}, defaultBlocklist...), extra...) {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, fold.String(w))
		}
	}
	return &Static{blocked: words}
}

func (s *Static) Moderate(ctx context.Context, req providers.ModerationRequest) (providers.ModerationResult, error) {
	if err := ctx.Err(); err != nil {
		return providers.ModerationResult{}, err
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return deny("text is empty"), nil
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return deny("text is too long"), nil
	}
	folded := cases.Fold().String(text)
	for _, w := range s.blocked {
		if strings.Contains(folded, w) {
			return deny("text contains blocked term " + `"` + w + `"`), nil
		}
	}
	return providers.ModerationResult{Allowed: true, Provider: staticProviderName}, nil
}

func deny(reason string) providers.ModerationResult {
	return providers.ModerationResult{Allowed: false, Reason: reason, Provider: staticProviderName}
}

var _ providers.Moderator = (*Static)(nil)
