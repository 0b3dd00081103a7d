package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is returned by a step to abort its instance.
	ErrCancelled = errors.New("engine: protocol cancelled")
	// ErrConflict is returned by Repository.Commit on a stale version.
	ErrConflict = errors.New("engine: concurrent modification")
	// ErrUndeliverable marks an outbox item a Dispatcher can never send.
	// The item is dropped instead of retried.
	ErrUndeliverable = errors.New("engine: undeliverable")
	// ErrNotFound is returned when an instance does not exist.
	ErrNotFound = errors.New("engine: instance not found")
)

// DropReason says why a message was not consumed.
type DropReason uint8

const (
	DropUnknownProtocol DropReason = iota + 1
	DropUnexpectedMessage
	DropNoStep
	DropChannelNotAllowed
	DropStepFailed
	DropDecode
)

func (r DropReason) String() string {
	switch r {
	case DropUnknownProtocol:
		return "unknown-protocol"
	case DropUnexpectedMessage:
		return "unexpected-message"
	case DropNoStep:
		return "no-step"
	case DropChannelNotAllowed:
		return "channel-not-allowed"
	case DropStepFailed:
		return "step-failed"
	case DropDecode:
		return "decode"
	default:
		return fmt.Sprintf("drop(%d)", uint8(r))
	}
}

// DropError reports a dropped message. Drops are expected in normal
// operation and never warrant a retry.
type DropError struct {
	Reason DropReason
	Err    error
}

func (e *DropError) Error() string {
	if e.Err == nil {
		return "engine: message dropped: " + e.Reason.String()
	}
	return "engine: message dropped: " + e.Reason.String() + ": " + e.Err.Error()
}

func (e *DropError) Unwrap() error { return e.Err }

func drop(reason DropReason, err error) *DropError {
	return &DropError{Reason: reason, Err: err}
}

// IsDrop reports whether err is a DropError.
func IsDrop(err error) bool {
	var d *DropError
	return errors.As(err, &d)
}

// Outcome classifies a Process result.
type Outcome uint8

const (
	Consumed Outcome = iota + 1
	Dropped
)

// Result describes what Process did with a message.
type Result struct {
	Outcome  Outcome
	State    StateID
	Final    bool
	Reason   DropReason
	Instance Key
}
