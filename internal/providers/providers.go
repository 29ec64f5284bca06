// Package providers defines the collaborator contracts the generation
// orchestrator depends on and validates their loosely shaped responses at the
// boundary.
package providers

import (
	"context"

	"studio/internal/domain"
)

// ModelRequest asks for a 3D model of a character.
type ModelRequest struct {
	CharacterID    string
	Description    string
	CharacterImage domain.ImagePayload
	TargetFormats  []string
}

// ModelResponse is the validated model generator reply.
type ModelResponse struct {
	ID         string
	URL        string
	Alternates []string
	Polygons   *int
	PreviewURL string
}

// CompositeRequest asks for the character composited onto the stage.
type CompositeRequest struct {
	Background  domain.ImagePayload
	Character   domain.ImagePayload
	Instruction string
}

// CompositeResponse is the validated composite generator reply. Bytes is set
// when the image came back inline.
type CompositeResponse struct {
	ID       string
	URL      string
	Bytes    []byte
	MimeType string
}

// StoryRequest asks for a narrative in the given locale.
type StoryRequest struct {
	Prompt string
	Locale string
}

// StoryResponse is the validated story generator reply.
type StoryResponse struct {
	ID      string
	Content string
}

// ModerationRequest is text to be checked before a run starts.
type ModerationRequest struct {
	Text   string
	Locale string
}

// ModerationResult is the moderator verdict.
type ModerationResult struct {
	Allowed  bool   `json:"allowed"`
	Reason   string `json:"reason,omitempty"`
	Provider string `json:"provider,omitempty"`
}

type ModelGenerator interface {
	GenerateModel(ctx context.Context, req ModelRequest) (ModelResponse, error)
}

type CompositeGenerator interface {
	ComposeImage(ctx context.Context, req CompositeRequest) (CompositeResponse, error)
}

type StoryGenerator interface {
	WriteStory(ctx context.Context, req StoryRequest) (StoryResponse, error)
}

type Moderator interface {
	Moderate(ctx context.Context, req ModerationRequest) (ModerationResult, error)
}

// Generators bundles the three collaborators of a run.
type Generators struct {
	Model     ModelGenerator
	Composite CompositeGenerator
	Story     StoryGenerator
}
