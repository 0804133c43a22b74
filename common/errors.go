package common

import "fmt"

// Error is a common package error.
type Error string

// Error satisfies the builtin error interface.
func (e Error) Error() string {
	return string(e)
}

// Error types. Callers can distinguish "still connected but slow"
// (ErrTimedOut) from "gone" (ErrTargetClosed).
const (
	ErrChannelClosed    Error = "channel closed"
	ErrContextDestroyed Error = "execution context destroyed"
	ErrFrameDetached    Error = "frame detached"
	ErrTargetClosed     Error = "target closed"
	ErrTargetCrashed    Error = "target crashed"
	ErrTimedOut         Error = "timed out"
)

// InternalError signals that an invariant the protocol is expected to
// uphold was violated, e.g. an event referenced a context id that was
// never created. It is a defect signal, not a recoverable condition.
type InternalError struct {
	msg string
}

func internalError(format string, args ...any) *InternalError {
	return &InternalError{msg: fmt.Sprintf(format, args...)}
}

// Error satisfies the builtin error interface.
func (e *InternalError) Error() string {
	return "internal error: " + e.msg
}
