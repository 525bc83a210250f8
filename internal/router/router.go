// Package router dispatches document-intelligence operations to either the
// hosted service or a local model, and normalizes both envelopes into one
// canonical Result per operation.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/localmodel"
	"github.com/starford/ansuz/internal/transport"
)

// DefaultTranscriptionURL is the fixed local transcription service address.
const DefaultTranscriptionURL = "http://localhost:3001/transcribe"

// Sender is the transport the remote path uses.
type Sender interface {
	Send(ctx context.Context, req transport.Request) transport.Result
	Upload(ctx context.Context, req transport.MultipartRequest) transport.Result
}

// Router holds only immutable collaborators; concurrent calls are safe.
type Router struct {
	sender           Sender
	local            localmodel.Backend
	models           localmodel.Resolver
	transcriptionURL string
}

// Option configures a Router.
type Option func(*Router)

// WithLocalBackend enables the local path with the given backend and
// task→model resolver.
func WithLocalBackend(backend localmodel.Backend, models localmodel.Resolver) Option {
	return func(r *Router) {
		r.local = backend
		r.models = models
	}
}

// WithTranscriptionURL overrides the transcription service address.
func WithTranscriptionURL(url string) Option {
	return func(r *Router) {
		if url != "" {
			r.transcriptionURL = url
		}
	}
}

// New creates a Router. A nil sender uses transport.New(nil).
func New(sender Sender, opts ...Option) *Router {
	if sender == nil {
		sender = transport.New(nil)
	}
	r := &Router{sender: sender, transcriptionURL: DefaultTranscriptionURL}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute runs op with the given inputs on the backend rc selects.
func (r *Router) Execute(ctx context.Context, op Operation, req Request, rc RoutingContext) (Result, error) {
	s, ok := table[op]
	if !ok {
		return Result{}, apperr.Wrap(apperr.ErrUnknownOperation, op.String(), nil)
	}
	if op == OpTranscription {
		return r.transcribe(ctx, s, req, rc)
	}

	model, err := r.checkContext(op, s, rc)
	if err != nil {
		return Result{}, err
	}

	body, err := s.build(req)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.ErrInvalidRequest, op.String(), err)
	}

	if rc.UseRemote {
		return r.executeRemote(ctx, op, s, body, rc)
	}
	return r.executeLocal(ctx, op, s, model, req, nil)
}

// checkContext validates rc for the selected path and resolves the local
// model when the local path is selected.
func (r *Router) checkContext(op Operation, s route, rc RoutingContext) (string, error) {
	if rc.UseRemote {
		if err := rc.Validate(); err != nil {
			return "", apperr.Wrap(apperr.ErrConfiguration, op.String(), err)
		}
		return "", nil
	}
	if r.local == nil || r.models == nil {
		return "", apperr.New(apperr.ErrConfiguration, op.String(), "local execution selected but no local backend is configured")
	}
	if sup, ok := r.local.(localmodel.TaskSupporter); ok && !sup.Supports(s.task) {
		return "", apperr.New(apperr.ErrConfiguration, op.String(),
			fmt.Sprintf("local backend cannot serve task %q", s.task))
	}
	model, ok := r.models.ModelFor(s.task)
	if !ok {
		return "", apperr.New(apperr.ErrConfiguration, op.String(),
			fmt.Sprintf("no local model configured for task %q", s.task))
	}
	return model, nil
}

func (r *Router) executeRemote(ctx context.Context, op Operation, s route, body any, rc RoutingContext) (Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.ErrInvalidRequest, op.String(), err)
	}

	res := r.sender.Send(ctx, transport.Request{
		URL:         strings.TrimRight(rc.ServerURL, "/") + s.path,
		Method:      http.MethodPost,
		ContentType: transport.ContentTypeJSON,
		Body:        payload,
		Token:       rc.APIKey,
	})
	if !res.OK {
		return Result{}, &apperr.OperationError{
			Kind:       apperr.ErrRemote,
			Op:         op.String(),
			Message:    failureMessage(res),
			StatusCode: res.StatusCode,
		}
	}
	return unwrap(op, s, res.Body, s.remoteField)
}

func (r *Router) executeLocal(ctx context.Context, op Operation, s route, model string, req Request, attachments [][]byte) (Result, error) {
	if len(req.Image) > 0 {
		attachments = append(attachments, req.Image)
	}
	resp, err := r.local.Invoke(ctx, localmodel.Invocation{
		Task:        s.task,
		Model:       model,
		Field:       s.localField,
		Inputs:      req.withoutBinary(),
		Attachments: attachments,
	})
	if err != nil {
		return Result{}, apperr.Wrap(apperr.ErrLocalModel, op.String(), err)
	}
	return unwrap(op, s, resp.Object, s.localField)
}

// failureMessage prefers the server's "error" text over the transport's.
func failureMessage(res transport.Result) string {
	if raw, ok := res.Body["error"]; ok {
		var msg string
		if err := json.Unmarshal(raw, &msg); err == nil && msg != "" {
			return msg
		}
	}
	if res.Err != "" {
		return res.Err
	}
	return "request failed"
}

// IsRemoteFailure reports whether err came from the remote path.
func IsRemoteFailure(err error) bool {
	return errors.Is(err, apperr.ErrRemote) || errors.Is(err, apperr.ErrTranscription)
}
