package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"studio/internal/creations"
	"studio/internal/domain"
	"studio/internal/flight"
	"studio/internal/orchestrator"
	"studio/internal/rescache"
	"studio/internal/wizard"
)

// maxUploadBytes bounds JSON bodies carrying base64 images.
const maxUploadBytes = 16 << 20

type App struct {
	Wizard       *wizard.Wizard
	Orchestrator *orchestrator.Orchestrator
	Creations    *creations.Service
	Lock         *flight.Lock
	// Blobs serves display handles; nil when the cache is headless.
	Blobs *rescache.BlobRegistry
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// fail maps domain errors onto status codes. Anything unrecognised is logged
// and reported as a 500 without its message.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrIncompleteSession):
		a.error(w, http.StatusUnprocessableEntity, "incomplete_session", err.Error())
	case errors.Is(err, domain.ErrLockContention):
		a.error(w, http.StatusConflict, "generation_in_progress", err.Error())
	case errors.Is(err, domain.ErrNothingToRetry):
		a.error(w, http.StatusConflict, "nothing_to_retry", err.Error())
	case errors.Is(err, domain.ErrQuotaExceeded):
		a.error(w, http.StatusTooManyRequests, "quota_exceeded", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "payload_too_large", "payload too large")
			return false
		}
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	return true
}
