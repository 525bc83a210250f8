package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/presenter"
	"github.com/starford/ansuz/internal/router"
	"github.com/starford/ansuz/internal/sse"
)

const maxBodyBytes = 10 << 20

// Executor runs router operations.
type Executor interface {
	Execute(ctx context.Context, op router.Operation, req router.Request, rc router.RoutingContext) (router.Result, error)
}

// RoutingSource supplies the default routing context.
type RoutingSource interface {
	Routing() router.RoutingContext
}

// Publisher receives gateway events.
type Publisher interface {
	Publish(event sse.Event)
	PublishOperation(ev sse.OperationEvent)
}

// Handler holds API route handlers.
type Handler struct {
	exec    Executor
	routing RoutingSource
	events  Publisher
}

// NewHandler creates a new Handler. events may be nil.
func NewHandler(exec Executor, routing RoutingSource, events Publisher) *Handler {
	return &Handler{exec: exec, routing: routing, events: events}
}

// ListOperations handles GET /api/operations.
//
//	@Summary		List supported operations
//	@Tags			operations
//	@Produce		json
//	@Success		200		{object}	CatalogueResponse
//	@Security		BearerAuth
//	@Router			/operations [get]
func (h *Handler) ListOperations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, CatalogueResponse{Operations: router.Catalogue()})
}

// RunOperation handles POST /api/operations/{operation}.
//
//	@Summary		Run one document-intelligence operation
//	@Tags			operations
//	@Accept			json
//	@Produce		json
//	@Param			operation	path		string				true	"Operation name"
//	@Param			body		body		OperationRequest	true	"Inputs and optional routing"
//	@Success		200			{object}	OperationResponse
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		422			{object}	errResponse
//	@Failure		502			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/operations/{operation} [post]
func (h *Handler) RunOperation(w http.ResponseWriter, r *http.Request) {
	op, err := router.ParseOperation(chi.URLParam(r, "operation"))
	if err != nil {
		writeOperationError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req OperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	rc := req.Routing.Apply(h.routing.Routing())

	res, err := h.run(r.Context(), op, req.Inputs, rc)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OperationResponse{Operation: op.String(), Result: res.Value()})
}

// run executes op, logs the outcome and publishes it. API keys never reach
// the log.
func (h *Handler) run(ctx context.Context, op router.Operation, req router.Request, rc router.RoutingContext) (router.Result, error) {
	start := time.Now()
	res, err := h.exec.Execute(ctx, op, req, rc)
	elapsed := time.Since(start)

	ev := sse.OperationEvent{Operation: op.String(), Remote: rc.UseRemote, DurationMS: elapsed.Milliseconds()}
	if err != nil {
		ev.Error = err.Error()
		level := slog.LevelError
		if router.IsRemoteFailure(err) {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "operation failed",
			slog.String("operation", op.String()),
			slog.Bool("remote", rc.UseRemote),
			slog.String("error", err.Error()))
	} else {
		slog.Debug("operation completed",
			slog.String("operation", op.String()),
			slog.Bool("remote", rc.UseRemote),
			slog.Duration("elapsed", elapsed))
	}
	if h.events != nil {
		h.events.PublishOperation(ev)
	}
	return res, err
}

// PresentTool handles POST /api/tools/present.
//
//	@Summary		Render a tool invocation
//	@Tags			tools
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PresentRequest	true	"Invocation and search results"
//	@Success		200		{object}	presenter.Display
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tools/present [post]
func (h *Handler) PresentTool(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req PresentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	writeJSON(w, http.StatusOK, presenter.Present(req.Invocation, req.Results))
}

// ConfirmTool handles POST /api/tools/confirm.
//
//	@Summary		Answer a confirmation request
//	@Tags			tools
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ConfirmRequest	true	"Pending invocation and choice"
//	@Success		200		{object}	ConfirmResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tools/confirm [post]
func (h *Handler) ConfirmTool(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	choice, err := presenter.ParseChoice(req.Choice)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	resolved, err := presenter.Confirm(req.Invocation, choice)
	if err != nil {
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
		return
	}

	resp := ConfirmResponse{Invocation: resolved, Display: presenter.Present(resolved, nil)}
	if h.events != nil {
		h.events.Publish(sse.Event{Type: sse.TypeToolConfirmed, Data: map[string]string{
			"toolCallId": resolved.ToolCallID,
			"choice":     string(choice),
		}})
	}
	writeJSON(w, http.StatusOK, resp)
}
