package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"studio/internal/domain"
	"studio/internal/middleware"
)

type creationSummary struct {
	Index          int       `json:"index"`
	ID             string    `json:"id"`
	CharacterID    string    `json:"characterId"`
	StagePrompt    string    `json:"stagePrompt,omitempty"`
	Locale         string    `json:"locale"`
	HasModel       bool      `json:"hasModel"`
	HasComposite   bool      `json:"hasComposite"`
	HasStory       bool      `json:"hasStory"`
	CreatedAt      time.Time `json:"createdAt"`
	ShareExpiresAt time.Time `json:"shareExpiresAt"`
}

func (a *App) SaveCreation(w http.ResponseWriter, r *http.Request) {
	res, err := a.Creations.SaveCreation(r.Context(), middleware.LocaleFromContext(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, res)
}

func (a *App) ListCreations(w http.ResponseWriter, r *http.Request) {
	list, err := a.Creations.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]creationSummary, 0, len(list))
	for i, c := range list {
		items = append(items, creationSummary{
			Index:          i,
			ID:             c.ID,
			CharacterID:    c.CharacterSelection.ID,
			StagePrompt:    c.StageSelection.Prompt,
			Locale:         c.Locale,
			HasModel:       c.Results.Has(domain.JobModel),
			HasComposite:   c.Results.Has(domain.JobComposite),
			HasStory:       c.Results.Has(domain.JobStory),
			CreatedAt:      c.CreatedAt,
			ShareExpiresAt: c.ShareExpiresAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) ArchiveCreation(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "index must be an integer")
		return
	}
	name, data, err := a.Creations.Archive(r.Context(), index)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *App) Limits(w http.ResponseWriter, r *http.Request) {
	limit, err := a.Creations.CheckDailyLimit(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, limit)
}

func (a *App) Share(w http.ResponseWriter, r *http.Request) {
	c, err := a.Creations.Share(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, c)
}
