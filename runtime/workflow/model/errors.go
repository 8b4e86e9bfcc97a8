package model

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures into the small set of categories the
// retry policy acts on.
type ErrorKind string

const (
	// KindTransient indicates a transient provider failure (5xx, connection
	// reset, DNS) where a retry may succeed.
	KindTransient ErrorKind = "transient"

	// KindTimeout indicates a single attempt exceeded its time bound. Treated
	// as transient by the retry policy.
	KindTimeout ErrorKind = "timeout"

	// KindRateLimited indicates the provider is throttling requests (HTTP 429).
	KindRateLimited ErrorKind = "rate_limited"

	// KindConfiguration indicates authentication, authorization, or request
	// construction failures. Retrying without changing the request will not
	// succeed; the first occurrence is final.
	KindConfiguration ErrorKind = "configuration"

	// KindInvalidResponse indicates the provider returned a payload that failed
	// schema validation or was empty where content was required. The retry
	// policy grants at most one extra attempt for this kind.
	KindInvalidResponse ErrorKind = "invalid_response"
)

// Error describes a failure returned by a model provider. It crosses package
// boundaries so the retry policy and the event stream can surface stable,
// structured information without string matching.
type Error struct {
	provider  string
	operation string
	http      int
	kind      ErrorKind
	message   string
	cause     error
}

// NewError constructs an Error. provider and kind are required. cause may be
// nil but is recommended to preserve the original error chain.
func NewError(provider, operation string, httpStatus int, kind ErrorKind, message string, cause error) *Error {
	if provider == "" {
		panic("model: provider is required")
	}
	if kind == "" {
		panic("model: error kind is required")
	}
	return &Error{
		provider:  provider,
		operation: operation,
		http:      httpStatus,
		kind:      kind,
		message:   message,
		cause:     cause,
	}
}

// Provider returns the provider identifier (for example, "openai").
func (e *Error) Provider() string { return e.provider }

// Operation returns the provider operation name when known.
func (e *Error) Operation() string { return e.operation }

// HTTPStatus returns the provider HTTP status code when available, otherwise 0.
func (e *Error) HTTPStatus() int { return e.http }

// Kind returns the coarse-grained error classification.
func (e *Error) Kind() ErrorKind { return e.kind }

// Message returns the provider error message when available.
func (e *Error) Message() string { return e.message }

// Retryable reports whether retrying the call may succeed without changing
// the request. Invalid responses report true here; the retry policy caps them
// at a single extra attempt.
func (e *Error) Retryable() bool {
	switch e.kind {
	case KindTransient, KindTimeout, KindRateLimited, KindInvalidResponse:
		return true
	default:
		return false
	}
}

func (e *Error) Error() string {
	op := e.operation
	if op == "" {
		op = "request"
	}
	status := ""
	if e.http > 0 {
		status = fmt.Sprintf("%d ", e.http)
	}
	msg := e.message
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	if msg == "" {
		msg = "provider error"
	}
	return fmt.Sprintf("%s %s %s(%s): %s", e.provider, e.kind, status, op, msg)
}

// Unwrap returns the underlying provider error to preserve the error chain.
func (e *Error) Unwrap() error { return e.cause }

// AsError returns the first *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var me *Error
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// KindOf classifies an arbitrary error for retry decisions. Context deadline
// expiry maps to a timeout; unclassified errors map to transient so a retry
// gets a chance before the step fails.
func KindOf(err error) ErrorKind {
	if me, ok := AsError(err); ok {
		return me.kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransient
}

// IsRetryable reports whether err is worth retrying. Context cancellation is
// never retryable: the run is shutting down.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if me, ok := AsError(err); ok {
		return me.Retryable()
	}
	return true
}
