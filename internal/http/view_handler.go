package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"quizdesk/internal/gate"
)

// ViewHandler decides which view the calling client may see for an area.
type ViewHandler struct {
	auth *AuthHandler
}

// NewViewHandler returns a view handler sharing the auth handler's settle timeout.
func NewViewHandler(authHandler *AuthHandler) *ViewHandler {
	return &ViewHandler{auth: authHandler}
}

// Resolve returns the gate decision for the area named in the path.
func (h *ViewHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	area, ok := gate.LookupArea(chi.URLParam(r, "area"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown area")
		return
	}

	snap := h.auth.snapshot(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"area":     area,
		"decision": gate.Resolve(snap.State, area.Required),
	})
}
