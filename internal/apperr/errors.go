// Package apperr defines the error taxonomy shared by the router, the
// transport adapter and the outer surfaces.
package apperr

import (
	"errors"
	"strconv"
)

var (
	ErrConfiguration     = errors.New("configuration error")
	ErrRemote            = errors.New("remote error")
	ErrLocalModel        = errors.New("local model error")
	ErrMalformedResponse = errors.New("malformed response")
	ErrTranscription     = errors.New("transcription failed")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrUnknownOperation  = errors.New("unknown operation")
)

// OperationError is the typed failure returned by every router entry point.
// Kind is one of the sentinels above; errors.Is matches both Kind and Cause.
type OperationError struct {
	Kind       error
	Op         string
	Message    string
	StatusCode int
	Cause      error
}

func (e *OperationError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.StatusCode != 0 {
		msg += " (status " + strconv.Itoa(e.StatusCode) + ")"
	}
	return msg
}

func (e *OperationError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// New builds an OperationError of the given kind.
func New(kind error, op, message string) *OperationError {
	return &OperationError{Kind: kind, Op: op, Message: message}
}

// Wrap builds an OperationError of the given kind around cause.
func Wrap(kind error, op string, cause error) *OperationError {
	e := &OperationError{Kind: kind, Op: op, Cause: cause}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

// Kind returns the taxonomy sentinel carried by err, or nil.
func Kind(err error) error {
	var oe *OperationError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	for _, k := range []error{
		ErrConfiguration, ErrRemote, ErrLocalModel, ErrMalformedResponse,
		ErrTranscription, ErrInvalidRequest, ErrUnknownOperation,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Message returns the human-readable detail of an OperationError, falling
// back to err.Error().
func Message(err error) string {
	var oe *OperationError
	if errors.As(err, &oe) && oe.Message != "" {
		return oe.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
