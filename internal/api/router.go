package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(h *Handler, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Operations.
	r.Get("/operations", h.ListOperations)
	r.Post("/operations/{operation}", h.RunOperation)

	// Transcription upload.
	r.Post("/transcriptions", h.Transcribe)

	// Tool invocation presenter.
	r.Post("/tools/present", h.PresentTool)
	r.Post("/tools/confirm", h.ConfirmTool)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
