package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	held, err := a.Lock.IsHeld(r.Context())
	if err != nil {
		a.json(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
		return
	}
	a.json(w, http.StatusOK, map[string]any{"status": "ok", "generating": held})
}
