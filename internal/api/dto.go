package api

import (
	"github.com/starford/ansuz/internal/presenter"
	"github.com/starford/ansuz/internal/router"
)

// OperationRequest is the request body for POST /api/operations/{operation}.
type OperationRequest struct {
	Inputs  router.Request   `json:"inputs"`
	Routing *RoutingOverride `json:"routing,omitempty"`
}

// RoutingOverride adjusts the server's default routing context for one
// call. Only the fields that are set replace the default.
type RoutingOverride struct {
	ServerURL string `json:"serverUrl,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	UseRemote *bool  `json:"useRemote,omitempty"`
}

// Apply merges o into rc. A nil override leaves rc unchanged.
func (o *RoutingOverride) Apply(rc router.RoutingContext) router.RoutingContext {
	if o == nil {
		return rc
	}
	if o.ServerURL != "" {
		rc.ServerURL = o.ServerURL
	}
	if o.APIKey != "" {
		rc.APIKey = o.APIKey
	}
	if o.UseRemote != nil {
		rc.UseRemote = *o.UseRemote
	}
	return rc
}

// OperationResponse carries the canonical result of one operation.
type OperationResponse struct {
	Operation string `json:"operation" example:"classify" validate:"required"`
	Result    any    `json:"result"`
}

// CatalogueResponse lists the supported operations.
type CatalogueResponse struct {
	Operations []router.Descriptor `json:"operations" validate:"required"`
}

// TranscriptionResponse is returned after a successful transcription.
type TranscriptionResponse struct {
	Transcript string `json:"transcript" example:"hello world" validate:"required"`
}

// PresentRequest is the request body for POST /api/tools/present.
type PresentRequest struct {
	Invocation presenter.Invocation `json:"invocation"`
	Results    presenter.ResultSet  `json:"results,omitempty"`
}

// ConfirmRequest is the request body for POST /api/tools/confirm.
type ConfirmRequest struct {
	Invocation presenter.Invocation `json:"invocation"`
	Choice     string               `json:"choice" example:"Yes" validate:"required"`
}

// ConfirmResponse carries the resolved invocation and its new display.
type ConfirmResponse struct {
	Invocation presenter.Invocation `json:"invocation"`
	Display    presenter.Display    `json:"display"`
}
