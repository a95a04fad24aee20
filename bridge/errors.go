package bridge

import (
	"errors"
	"fmt"
)

// Kind classifies bridge errors
type Kind int

const (
	// KindConfiguration is an acquisition setup the SDK rejected
	KindConfiguration Kind = iota + 1

	// KindHardware is a failed SDK call other than setup
	KindHardware

	// KindReadout is a readout the SDK reported as failed
	KindReadout

	// KindAborted is a wait ended by an explicit abort
	KindAborted

	// KindInconsistent is a readout reported complete without a frame callback
	KindInconsistent

	// KindMetadata is a frame whose metadata could not be decoded
	KindMetadata

	// KindSessionNotFound is a handle with no open session
	KindSessionNotFound

	// KindTimeout is a wait which ran out of time
	KindTimeout

	// KindInvalidState is an operation issued in the wrong acquisition state
	KindInvalidState

	// KindNotSupported is an operation the SDK does not implement
	KindNotSupported
)

var kindNames = map[Kind]string{
	KindConfiguration:   "configuration error",
	KindHardware:        "hardware communication error",
	KindReadout:         "readout failed",
	KindAborted:         "acquisition aborted",
	KindInconsistent:    "protocol inconsistency",
	KindMetadata:        "metadata decode error",
	KindSessionNotFound: "session not found",
	KindTimeout:         "timed out waiting for frame",
	KindInvalidState:    "invalid acquisition state",
	KindNotSupported:    "not supported by SDK",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is returned by every Registry operation that fails
type Error struct {
	Kind   Kind
	Op     string
	Handle Handle
	Err    error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Kind.String()
	}
	if e.Err == nil {
		return fmt.Sprintf("%s camera %d: %s", e.Op, e.Handle, e.Kind)
	}
	return fmt.Sprintf("%s camera %d: %s: %v", e.Op, e.Handle, e.Kind, e.Err)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind, so that
// errors.Is(err, ErrAborted) and friends work
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// sentinels for use with errors.Is
var (
	ErrConfiguration   = &Error{Kind: KindConfiguration}
	ErrHardware        = &Error{Kind: KindHardware}
	ErrReadoutFailed   = &Error{Kind: KindReadout}
	ErrAborted         = &Error{Kind: KindAborted}
	ErrInconsistent    = &Error{Kind: KindInconsistent}
	ErrMetadata        = &Error{Kind: KindMetadata}
	ErrSessionNotFound = &Error{Kind: KindSessionNotFound}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrInvalidState    = &Error{Kind: KindInvalidState}
	ErrNotSupported    = &Error{Kind: KindNotSupported}

	errNoCallback = errors.New("frame callback not called, frame was likely aborted in the SDK by a host command")
)

// KindOf returns the Kind of err, or 0 if err is not from this package
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsRetryable reports whether reconfiguring and retrying may succeed
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindConfiguration, KindHardware:
		return true
	}
	return false
}

func newErr(kind Kind, op string, h Handle, err error) error {
	return &Error{Kind: kind, Op: op, Handle: h, Err: err}
}
