package router

import (
	"context"
	"strings"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/transport"
)

// transcribe uploads audio as a multipart form instead of the shared JSON
// envelope. Every remote failure surfaces as ErrTranscription, which also
// matches ErrRemote.
func (r *Router) transcribe(ctx context.Context, s route, req Request, rc RoutingContext) (Result, error) {
	op := OpTranscription
	model, err := r.checkContext(op, s, rc)
	if err != nil {
		return Result{}, err
	}

	ext := strings.TrimPrefix(strings.TrimSpace(req.FileExtension), ".")
	if len(req.Audio) == 0 {
		return Result{}, apperr.New(apperr.ErrInvalidRequest, op.String(), "audio is empty")
	}
	if ext == "" {
		return Result{}, apperr.New(apperr.ErrInvalidRequest, op.String(), "file extension is required")
	}

	if !rc.UseRemote {
		local := req.withoutBinary()
		local.FileExtension = ext
		return r.executeLocal(ctx, op, s, model, local, [][]byte{req.Audio})
	}

	res := r.sender.Upload(ctx, transport.MultipartRequest{
		URL:   r.transcriptionURL,
		Token: rc.APIKey,
		Files: []transport.FilePart{{
			Field:       "audio",
			FileName:    "audio." + ext,
			ContentType: "audio/" + ext,
			Data:        req.Audio,
		}},
		Fields: []transport.Field{{Name: "fileExtension", Value: ext}},
	})
	if !res.OK {
		return Result{}, &apperr.OperationError{
			Kind:       apperr.ErrTranscription,
			Op:         op.String(),
			Message:    failureMessage(res),
			StatusCode: res.StatusCode,
			Cause:      apperr.ErrRemote,
		}
	}
	return unwrap(op, s, res.Body, s.remoteField)
}
