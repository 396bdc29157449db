package model

import "fmt"

// Classification buckets every remote-call failure into one of three
// handling strategies. The retry executor is the only component that
// acts on it.
type Classification int

const (
	// ClassFatal errors are surfaced immediately and never retried.
	ClassFatal Classification = iota
	// ClassRetryable errors are retried with exponential backoff.
	ClassRetryable
	// ClassBenignDuplicate marks an idempotent creation collision that is
	// swallowed and treated as success with no effect.
	ClassBenignDuplicate
)

func (c Classification) String() string {
	switch c {
	case ClassFatal:
		return "fatal"
	case ClassRetryable:
		return "retryable"
	case ClassBenignDuplicate:
		return "benign-duplicate"
	default:
		return "unknown"
	}
}

// Standard error codes.
const (
	ErrMethodNotFound = "METHOD_NOT_FOUND"
	ErrBadArgument    = "BAD_ARGUMENT"
	ErrRemote         = "REMOTE_ERROR"
	ErrDocument       = "DOCUMENT_ERROR"
)

// RemoteError is a structured failure returned by a remote service. Body
// always carries the raw error payload verbatim so operators can act on it.
// It implements the error interface.
type RemoteError struct {
	StatusCode int    `json:"status_code"`
	Status     string `json:"status,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Body       string `json:"body,omitempty"`
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("remote error %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("remote error %d", e.StatusCode)
}

// MethodNotFoundError reports a dot-path segment that could not be resolved
// against a service's method tree. ValidSegments lists the resources and
// methods available at the point of failure to aid debugging of malformed
// call descriptors.
type MethodNotFoundError struct {
	Service       string
	Version       string
	Path          string
	Segment       string
	ValidSegments []string
}

// Error implements the error interface.
func (e *MethodNotFoundError) Error() string {
	return fmt.Sprintf(
		"%s: %s %s has no segment %q in path %q, valid segments: %v",
		ErrMethodNotFound, e.Service, e.Version, e.Segment, e.Path, e.ValidSegments,
	)
}

// BadArgumentError reports a parameter binding failure. Hint names the
// likely cause, since the underlying mismatch otherwise surfaces as an
// opaque type error.
type BadArgumentError struct {
	Argument string
	Hint     string
}

// Error implements the error interface.
func (e *BadArgumentError) Error() string {
	return fmt.Sprintf("%s: argument %q: %s", ErrBadArgument, e.Argument, e.Hint)
}

// NewBadArgumentError returns a BadArgumentError with the given hint.
func NewBadArgumentError(argument, hint string) *BadArgumentError {
	return &BadArgumentError{Argument: argument, Hint: hint}
}

// DocumentError reports an interface document that could not be fetched or
// parsed.
type DocumentError struct {
	Service string
	Version string
	Message string
}

// Error implements the error interface.
func (e *DocumentError) Error() string {
	return fmt.Sprintf("%s: %s %s: %s", ErrDocument, e.Service, e.Version, e.Message)
}
