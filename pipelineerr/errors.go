// Package pipelineerr defines the error taxonomy used across every
// OccultaShield pipeline phase.
package pipelineerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error into one of the pipeline's stable failure
// categories. Handlers and the orchestrator branch on Kind, never on
// string matching the message.
type Kind string

const (
	KindInvalidInput Kind = "INVALID_INPUT"
	KindResource     Kind = "RESOURCE"
	KindDependency   Kind = "DEPENDENCY"
	KindTimeout      Kind = "TIMEOUT"
	KindCancelled    Kind = "CANCELLED"
	KindInternal     Kind = "INTERNAL"
)

// Error is the taxonomy-tagged error type threaded through every
// pipeline phase. Code is a short stable identifier safe to log and
// compare across releases; Message is human-readable; Detail carries
// free-form diagnostic context (file paths, video IDs); Err is the
// underlying cause, if any, and unwraps via errors.Unwrap.
type Error struct {
	Kind        Kind
	Code        string
	Message     string
	Detail      string
	Recoverable bool
	Err         error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newErr(kind Kind, code, message string, recoverable bool, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Recoverable: recoverable, Err: cause}
}

// Invalid wraps a malformed or unsupported input (bad upload, corrupt
// container, unsupported codec). Never recoverable by retrying.
func Invalid(code, message string, cause error) *Error {
	return newErr(KindInvalidInput, code, message, false, cause)
}

// Resource wraps exhaustion of a local resource (disk, memory, GPU
// VRAM, worker slots). Recoverable: retrying later may succeed.
func Resource(code, message string, cause error) *Error {
	return newErr(KindResource, code, message, true, cause)
}

// Dependency wraps failure of an external collaborator (knowledge
// graph, Witness backend, persistence store). Recoverable by default;
// callers that know a dependency failure is terminal should override
// with WithRecoverable(false).
func Dependency(code, message string, cause error) *Error {
	return newErr(KindDependency, code, message, true, cause)
}

// Timeout wraps a deadline exceeded on a phase or sub-call.
// Recoverable: a later attempt with more budget may succeed.
func Timeout(code, message string, cause error) *Error {
	return newErr(KindTimeout, code, message, true, cause)
}

// Cancelled wraps context cancellation requested by the caller (user
// abort, shutdown). Never recoverable: the operation was deliberately
// stopped, not failed.
func Cancelled(code, message string, cause error) *Error {
	return newErr(KindCancelled, code, message, false, cause)
}

// Internal wraps a bug or invariant violation. Never recoverable.
func Internal(code, message string, cause error) *Error {
	return newErr(KindInternal, code, message, false, cause)
}

// WithDetail attaches free-form diagnostic context and returns the
// same *Error for chaining at the call site.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// WithRecoverable overrides the default recoverability for this error.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// IsRecoverable reports whether err is a *Error marked Recoverable.
// A non-pipelineerr error is treated as non-recoverable: callers
// should only retry failures this package explicitly classified.
func IsRecoverable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Recoverable
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and ok
// reports whether such an error was found.
func KindOf(err error) (kind Kind, ok bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}
