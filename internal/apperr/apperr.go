// Package apperr provides typed domain errors. Services return these and the
// transport layers (HTTP handlers, the websocket hub) map them to status
// codes or error events without inspecting message strings.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes an error.
type Kind int

const (
	// KindUnknown is the default when no kind was assigned.
	KindUnknown Kind = iota
	// KindUnauthorized is a bad or missing credential on login or an
	// admin-gated action. Surfaced to the requester only, never broadcast.
	KindUnauthorized
	// KindValidation is a malformed create/update payload, rejected before
	// any state mutation.
	KindValidation
	// KindNotFound is a missing resource.
	KindNotFound
	// KindConflict is a clash with existing state, e.g. a second Admin.
	KindConflict
	// KindBadRequest is a request the transport could not interpret.
	KindBadRequest
	// KindUnavailable is a datastore failure: the backend is unreachable or
	// rejected a write.
	KindUnavailable
	// KindDelivery is an outbound provider failure. Logged, never blocks
	// the local chat view.
	KindDelivery
	// KindInternal is an unexpected failure.
	KindInternal
)

// Error is a domain error with a Kind for transport mapping.
type Error struct {
	Kind    Kind
	Message string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error kind to an HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindValidation, KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindDelivery, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// New creates an error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithOp sets the failing operation and returns the error.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// Unauthorized creates a credential failure.
func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

// Validation creates a validation failure.
func Validation(message string) *Error {
	return New(KindValidation, message)
}

// NotFound creates a missing-resource error.
func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

// Conflict creates a state-conflict error.
func Conflict(message string) *Error {
	return New(KindConflict, message)
}

// BadRequest creates a malformed-request error.
func BadRequest(message string) *Error {
	return New(KindBadRequest, message)
}

// Store wraps a datastore failure.
func Store(op string, err error) *Error {
	return Wrap(KindUnavailable, "datastore operation failed", err).WithOp(op)
}

// Delivery wraps an outbound provider failure.
func Delivery(err error) *Error {
	return Wrap(KindDelivery, "provider delivery failed", err)
}

// GetKind extracts the kind from an error, unwrapping as needed.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return GetKind(err) == kind
}
