package handlers

import (
	"net/http"
)

type stageRequest struct {
	Prompt      string `json:"prompt"`
	ImageBase64 string `json:"imageBase64"`
	MimeType    string `json:"mimeType"`
}

type characterRequest struct {
	ID          string `json:"id"`
	Prompt      string `json:"prompt"`
	ImageBase64 string `json:"imageBase64"`
	MimeType    string `json:"mimeType"`
}

type selectionResponse struct {
	Selection     any    `json:"selection"`
	DisplayHandle string `json:"displayHandle,omitempty"`
}

// PutStage and PutCharacter restart the flow: the previous generation is
// discarded, and both answer 409 while a run is in flight.
func (a *App) PutStage(w http.ResponseWriter, r *http.Request) {
	var req stageRequest
	if !a.decode(w, r, &req) {
		return
	}
	sel, handle, err := a.Wizard.SetStage(r.Context(), req.Prompt, req.ImageBase64, req.MimeType)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	sel.ImageBase64 = ""
	a.json(w, http.StatusOK, selectionResponse{Selection: sel, DisplayHandle: handle})
}

func (a *App) PutCharacter(w http.ResponseWriter, r *http.Request) {
	var req characterRequest
	if !a.decode(w, r, &req) {
		return
	}
	sel, handle, err := a.Wizard.SetCharacter(r.Context(), req.ID, req.Prompt, req.ImageBase64, req.MimeType)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	sel.ImageBase64 = ""
	a.json(w, http.StatusOK, selectionResponse{Selection: sel, DisplayHandle: handle})
}

// ClearSession drops the wizard selections and the generation session. It
// is refused while a run is in flight.
func (a *App) ClearSession(w http.ResponseWriter, r *http.Request) {
	if err := a.Orchestrator.Reset(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Wizard.Clear(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
