package genai

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"studio/internal/providers"
)

const defaultCompositeInstruction = "Place the character naturally into the scene. Match lighting, scale and perspective. Keep the character's identity and silhouette unchanged."

func buildCompositePrompt(instruction string) string {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return defaultCompositeInstruction
	}
	return defaultCompositeInstruction + "\n" + instruction
}

func buildStoryPrompt(req providers.StoryRequest) string {
	sb := &strings.Builder{}
	sb.WriteString("You are a children's book author. Respond strictly with JSON matching this schema: ")
	sb.WriteString(`{"title":string,"content":string}`)
	fmt.Fprintf(sb, ". Write a short story of three paragraphs in %s (locale %q). Story premise: %q.", languageName(req.Locale), req.Locale, strings.TrimSpace(req.Prompt))
	return sb.String()
}

// languageName renders a locale tag as its English language name, falling
// back to the raw tag.
func languageName(locale string) string {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil || tag == language.Und {
		return "English"
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return locale
}
