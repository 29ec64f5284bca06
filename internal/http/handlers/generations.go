package handlers

import (
	"net/http"

	"studio/internal/domain"
	"studio/internal/middleware"
)

type generationRequest struct {
	StoryPrompt   string   `json:"storyPrompt"`
	Locale        string   `json:"locale"`
	TargetFormats []string `json:"targetFormats"`
}

type generationResponse struct {
	State   domain.AggregateState     `json:"state"`
	Session *domain.GenerationSession `json:"session,omitempty"`
}

func (a *App) StartGeneration(w http.ResponseWriter, r *http.Request) {
	var req generationRequest
	if r.ContentLength != 0 && !a.decode(w, r, &req) {
		return
	}
	locale := req.Locale
	if locale == "" {
		locale = middleware.LocaleFromContext(r.Context())
	}
	in, err := a.Wizard.Input(r.Context(), req.StoryPrompt, locale)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	in.TargetFormats = req.TargetFormats
	if err := a.Orchestrator.Start(r.Context(), in); err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeSession(w, http.StatusAccepted)
}

func (a *App) GetGeneration(w http.ResponseWriter, _ *http.Request) {
	a.writeSession(w, http.StatusOK)
}

func (a *App) RetryGeneration(w http.ResponseWriter, r *http.Request) {
	if err := a.Orchestrator.StartRetry(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeSession(w, http.StatusAccepted)
}

func (a *App) writeSession(w http.ResponseWriter, code int) {
	sess := a.Orchestrator.Snapshot()
	a.json(w, code, generationResponse{State: sess.State(), Session: sess})
}
