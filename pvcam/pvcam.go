/*Package pvcam binds the Teledyne Photometrics PVCAM library to the bridge.SDK
interface.

The cgo binding is only compiled with the pvcam build tag, since it needs the
PVCAM headers and shared library:

	go build -tags pvcam ./...

Without the tag, Init returns ErrNotBuilt.
*/
package pvcam

import (
	"errors"
	"fmt"

	"github.jpl.nasa.gov/bdube/pvbridge/bridge"
)

var (
	// ErrNotBuilt is returned by Init when the binary was built without PVCAM
	ErrNotBuilt = errors.New("pvcam: built without the pvcam tag, no camera library available")

	// ErrTriggerNotAccepted is returned when the camera did not accept a software trigger
	ErrTriggerNotAccepted = errors.New("pvcam: software trigger not accepted, camera may not be in software trigger mode")

	// ErrNoBuffer is returned when the latest frame is queried before an acquisition starts
	ErrNoBuffer = errors.New("pvcam: no acquisition buffer registered for camera")
)

// Driver is the PVCAM library as exposed by this package
type Driver interface {
	bridge.SDK
	bridge.Extended

	// Uninit releases the library.  Every camera must be closed first.
	Uninit() error
}

// Error is an error reported by the PVCAM library
type Error struct {
	// Code is the value of pl_error_code
	Code int

	// Message is the text of pl_error_message
	Message string

	// Call is the library function that failed
	Call string
}

func (e *Error) Error() string {
	if e.Call == "" {
		return fmt.Sprintf("PVCAM error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("PVCAM error %d: %s encountered at call to %s", e.Code, e.Message, e.Call)
}

// enrich adds the name of the failed call to err, if it is an *Error
func enrich(err error, call string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e.Call == "" {
		cp := *e
		cp.Call = call
		return &cp
	}
	return fmt.Errorf("%s: %w", call, err)
}

// offsetOf returns the offset of ptr within a buffer starting at base of n bytes
func offsetOf(base, ptr uintptr, n int) (int, error) {
	if ptr < base || ptr >= base+uintptr(n) {
		return 0, fmt.Errorf("pvcam: frame pointer %#x outside buffer %#x+%d", ptr, base, n)
	}
	return int(ptr - base), nil
}
