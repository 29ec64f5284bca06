package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (a *App) Blob(w http.ResponseWriter, r *http.Request) {
	if a.Blobs == nil {
		a.error(w, http.StatusNotFound, "not_found", "display handles are data uris")
		return
	}
	a.Blobs.Serve(w, r, chi.URLParam(r, "id"))
}
