package camrelay

import (
	"context"
	"errors"
	"fmt"
)

// An Encoder consumes raw frames and produces an encoded bitstream on the
// transport endpoint. Implementations own at most one live handle at a
// time; a dead handle is never reused, only replaced via Restart.
type Encoder interface {
	// Start brings up a fresh handle. Starting an already alive encoder is
	// a no-op.
	Start(ctx context.Context) error
	// Write feeds one raw frame to the live handle. It never blocks when no
	// handle is alive.
	Write(frame Frame) error
	// Restart tears down whatever handle exists and starts a new one. This
	// is the only transition out of a dead state.
	Restart(ctx context.Context) error
	// Stop tears down the current handle: input closed, bounded graceful
	// wait, forced kill on timeout.
	Stop() error
	State() EncoderState
}

// EncoderState describes the lifecycle of an encoder's current handle.
type EncoderState int

const (
	// StateAbsent means no handle exists.
	StateAbsent EncoderState = iota
	// StateStarting means a handle is being brought up.
	StateStarting
	// StateAlive means the handle accepts writes.
	StateAlive
	// StateDead means the handle failed; it must be replaced, not reused.
	StateDead
)

func (s EncoderState) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateStarting:
		return "starting"
	case StateAlive:
		return "alive"
	case StateDead:
		return "dead"
	default:
		return fmt.Sprintf("EncoderState(%d)", int(s))
	}
}

// EncoderErrorKind classifies encoder write/lifecycle failures.
type EncoderErrorKind int

const (
	// EncoderClosed means no handle was alive to accept the operation.
	EncoderClosed EncoderErrorKind = iota
	// EncoderBrokenPipe means the handle's input rejected the write because
	// the consumer or subprocess went away.
	EncoderBrokenPipe
	// EncoderIOFailure covers any other transport fault.
	EncoderIOFailure
)

func (k EncoderErrorKind) String() string {
	switch k {
	case EncoderClosed:
		return "closed"
	case EncoderBrokenPipe:
		return "broken pipe"
	case EncoderIOFailure:
		return "io failure"
	default:
		return fmt.Sprintf("EncoderErrorKind(%d)", int(k))
	}
}

// An EncoderError is a classified, recoverable encoder failure. The relay
// treats every kind as transient and restarts rather than terminating.
type EncoderError struct {
	Kind  EncoderErrorKind
	cause error
}

func newEncoderError(kind EncoderErrorKind, cause error) *EncoderError {
	return &EncoderError{Kind: kind, cause: cause}
}

func (e *EncoderError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("encoder %s", e.Kind)
	}
	return fmt.Sprintf("encoder %s: %s", e.Kind, e.cause)
}

func (e *EncoderError) Unwrap() error {
	return e.cause
}

func encoderErrorKind(err error, kind EncoderErrorKind) bool {
	var encErr *EncoderError
	return errors.As(err, &encErr) && encErr.Kind == kind
}

// IsEncoderClosed reports whether err is a write against an absent handle.
func IsEncoderClosed(err error) bool {
	return encoderErrorKind(err, EncoderClosed)
}

// IsBrokenPipe reports whether err is a consumer/subprocess disconnect.
func IsBrokenPipe(err error) bool {
	return encoderErrorKind(err, EncoderBrokenPipe)
}
