// Package apperr defines the error taxonomy the HTTP layer maps onto
// status codes. Services return these so handlers never guess a status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code identifies the error class independently of the HTTP status.
type Code string

const (
	CodeValidation      Code = "validation"
	CodeNotFound        Code = "not_found"
	CodeUnauthorized    Code = "unauthorized"
	CodePaymentRequired Code = "payment_required"
	CodePaymentRejected Code = "payment_rejected"
	CodeRateLimited     Code = "rate_limited"
	CodeUpstream        Code = "upstream_error"
	CodeUnavailable     Code = "unavailable"
	CodeInternal        Code = "internal"
)

// Error carries a user-visible message plus the HTTP status to render it with.
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int

	// ResetAt is set on rate-limited errors so clients can render a countdown.
	ResetAt time.Time
	// UpstreamStatus carries the status code returned by the upstream API.
	UpstreamStatus int

	cause error
}

func (e *Error) Error() string { return e.Message }

// Unwrap exposes the underlying cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.cause }

// WithCause attaches an underlying error without changing the public message.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// Validation reports malformed input. No side effects have occurred.
func Validation(format string, args ...interface{}) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusBadRequest}
}

// NotFound reports an unknown resource.
func NotFound(resource string) *Error {
	return &Error{Code: CodeNotFound, Message: resource + " not found", HTTPStatus: http.StatusNotFound}
}

// Unauthorized reports an ownership or credential mismatch.
func Unauthorized(message string) *Error {
	return &Error{Code: CodeUnauthorized, Message: message, HTTPStatus: http.StatusUnauthorized}
}

// PaymentRequired signals a priced resource called without payment evidence.
// The 402 challenge body is built by the payment gate, not here.
func PaymentRequired(message string) *Error {
	return &Error{Code: CodePaymentRequired, Message: message, HTTPStatus: http.StatusPaymentRequired}
}

// PaymentRejected signals payment evidence that failed validation or
// settlement. Distinguishable from PaymentRequired by code.
func PaymentRejected(message string) *Error {
	return &Error{Code: CodePaymentRejected, Message: message, HTTPStatus: http.StatusPaymentRequired}
}

// RateLimited reports an exhausted free-call quota.
func RateLimited(message string, resetAt time.Time) *Error {
	return &Error{Code: CodeRateLimited, Message: message, HTTPStatus: http.StatusTooManyRequests, ResetAt: resetAt}
}

// Upstream reports a failed or non-2xx upstream call. The upstream target
// is never included in the message.
func Upstream(message string, upstreamStatus int) *Error {
	return &Error{Code: CodeUpstream, Message: message, HTTPStatus: http.StatusBadGateway, UpstreamStatus: upstreamStatus}
}

// Unavailable reports a resource that exists but is not serving calls.
func Unavailable(message string) *Error {
	return &Error{Code: CodeUnavailable, Message: message, HTTPStatus: http.StatusServiceUnavailable}
}

// Internal reports an unexpected failure.
func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", HTTPStatus: http.StatusInternalServerError, cause: err}
}

// From extracts an *Error from err, wrapping unknown errors as Internal.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// Status returns the HTTP status for err, 500 for unknown errors.
func Status(err error) int {
	return From(err).HTTPStatus
}
