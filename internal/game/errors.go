package game

import (
	"errors"
	"net/http"
)

// Kind is the machine-readable class of a failure, as sent to clients.
type Kind string

const (
	KindSessionMissing   Kind = "session_missing"
	KindSessionNotFound  Kind = "session_not_found"
	KindValidation       Kind = "validation_error"
	KindStoreUnavailable Kind = "store_unavailable"
	KindForbidden        Kind = "forbidden"
	KindMethodNotAllowed Kind = "method_not_allowed"
	KindInternal         Kind = "internal_error"
)

// Error is a classified failure. Err keeps the underlying cause for logs;
// it is never sent to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrSessionMissing)
// works on wrapped and re-messaged values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrSessionMissing = &Error{
		Kind:    KindSessionMissing,
		Message: "no session token; create a session first",
	}
	ErrSessionNotFound = &Error{
		Kind:    KindSessionNotFound,
		Message: "session expired or unknown; create a new session",
	}
	ErrMethodNotAllowed = &Error{
		Kind:    KindMethodNotAllowed,
		Message: "method not allowed",
	}
)

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

// StoreUnavailable wraps a backing store failure or timeout. Clients may retry.
func StoreUnavailable(err error) *Error {
	return &Error{
		Kind:    KindStoreUnavailable,
		Message: "session store unavailable; retry shortly",
		Err:     err,
	}
}

// KindOf classifies err. Unclassified errors are internal.
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return KindInternal
}

// Message returns the client-safe message for err.
func Message(err error) string {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Message
	}
	return "internal error"
}

// Retryable reports whether the client may retry the same request unchanged.
func Retryable(kind Kind) bool {
	return kind == KindStoreUnavailable
}

// HTTPStatus maps a Kind to its response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindSessionMissing:
		return http.StatusUnauthorized
	case KindSessionNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
