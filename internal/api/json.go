package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/ansuz/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
	Kind  string `json:"kind,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusFor maps the operation error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrUnknownOperation):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrRemote),
		errors.Is(err, apperr.ErrLocalModel),
		errors.Is(err, apperr.ErrMalformedResponse),
		errors.Is(err, apperr.ErrTranscription):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeOperationError(w http.ResponseWriter, err error) {
	body := errorBody(apperr.Message(err))
	if kind := apperr.Kind(err); kind != nil {
		body.Kind = kind.Error()
	}
	writeJSON(w, statusFor(err), body)
}
