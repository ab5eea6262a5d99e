// Package apperr defines the typed error taxonomy shared by every layer of
// the engine. Each kind maps to exactly one HTTP status at the API edge;
// internal layers never format user-facing strings themselves.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a closed set of error categories from the error handling design.
type Kind string

const (
	KindInput               Kind = "input"
	KindAuth                Kind = "auth"
	KindRateLimited         Kind = "rate_limited"
	KindDependencyTransient Kind = "dependency_transient"
	KindDependencyPermanent Kind = "dependency_permanent"
	KindIntegrity           Kind = "integrity"
	KindCanceled            Kind = "canceled"
	KindTimeout             Kind = "timeout"
	KindInternal            Kind = "internal"
)

// Error is a structured failure carrying a stable machine-readable code.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	RetryAfter int // seconds; only meaningful for KindRateLimited
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New builds an Error of the given kind with a stable code and message.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches an underlying cause without leaking it to API responses;
// the cause is only surfaced through logging.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

// RateLimited builds a KindRateLimited error carrying a retry-after hint.
func RateLimited(retryAfterSeconds int) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Code:       "rate_limited",
		Message:    "too many requests",
		RetryAfter: retryAfterSeconds,
	}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// HTTPStatus projects a Kind onto its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInput:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindDependencyTransient:
		return http.StatusServiceUnavailable
	case KindDependencyPermanent:
		return http.StatusBadGateway
	case KindIntegrity:
		return http.StatusConflict
	case KindCanceled:
		return http.StatusRequestTimeout
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// StatusFor returns the HTTP status for any error, defaulting to 500 for
// errors that are not *Error.
func StatusFor(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return HTTPStatus(ae.Kind)
	}
	return http.StatusInternalServerError
}
