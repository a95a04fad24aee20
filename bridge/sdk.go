package bridge

import (
	"fmt"
	"strings"

	"github.jpl.nasa.gov/bdube/pvbridge/metadata"
	"github.jpl.nasa.gov/bdube/pvbridge/param"
)

// Handle is the opaque id the SDK issues for an open camera
type Handle int16

// ROI is a sensor region with binning, inclusive on both ends
type ROI = metadata.Region

// Mode selects how frames are acquired
type Mode int

const (
	// Continuous acquires into a circular buffer until stopped; only the
	// newest frame is ever handed to the consumer
	Continuous Mode = iota

	// FiniteSequence acquires exactly N frames, all of which are queued
	FiniteSequence
)

func (m Mode) String() string {
	switch m {
	case Continuous:
		return "continuous"
	case FiniteSequence:
		return "sequence"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// MarshalText implements encoding.TextMarshaler
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMode converts a string such as "live" or "sequence" to a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "continuous", "live", "cont":
		return Continuous, nil
	case "sequence", "seq", "finite":
		return FiniteSequence, nil
	}
	return Continuous, fmt.Errorf("unknown acquisition mode %q", s)
}

// Status is the readout status reported by the SDK
type Status int16

// readout statuses, numbered as the SDK numbers them
const (
	ReadoutNotActive      Status = 0
	ExposureInProgress    Status = 1
	ReadoutInProgress     Status = 2
	ReadoutComplete       Status = 3
	ReadoutFailed         Status = 4
	AcquisitionInProgress Status = 5

	// FrameAvailable is ReadoutComplete as continuous acquisitions report it
	FrameAvailable = ReadoutComplete
)

// Name is the status name as reported for acquisitions in mode m
func (s Status) Name(m Mode) string {
	switch s {
	case ReadoutNotActive:
		return "READOUT_NOT_ACTIVE"
	case ExposureInProgress:
		return "EXPOSURE_IN_PROGRESS"
	case ReadoutInProgress:
		return "READOUT_IN_PROGRESS"
	case ReadoutComplete:
		if m == Continuous {
			return "FRAME_AVAILABLE"
		}
		return "READOUT_COMPLETE"
	case ReadoutFailed:
		return "READOUT_FAILED"
	case AcquisitionInProgress:
		return "ACQUISITION_IN_PROGRESS"
	}
	return fmt.Sprintf("STATUS_%d", int(s))
}

func (s Status) String() string {
	return s.Name(FiniteSequence)
}

// AcquisitionConfig is everything needed to set up an acquisition
type AcquisitionConfig struct {
	// ROI is the sensor region to read out
	ROI ROI `json:"roi"`

	// ExposureTime is in units of the camera's current exposure resolution
	ExposureTime uint32 `json:"exposureTime"`

	// ExposureMode is an SDK exposure (trigger) mode constant, optionally
	// OR'd with an expose-out mode
	ExposureMode int32 `json:"exposureMode"`

	// Mode is continuous or finite sequence
	Mode Mode `json:"mode"`

	// Frames is the number of frames in a finite sequence; ignored in continuous mode
	Frames int `json:"frames"`
}

// Memory is a block of memory the SDK may write into asynchronously.
// Bytes must return the same view for the lifetime of the block.
type Memory interface {
	Bytes() []byte
	Free()
}

// SDK is the capability interface of the camera library.  Implementations
// must be safe for concurrent use.  The callback passed to
// RegisterFrameCallback is invoked once per completed frame, on a goroutine
// or thread owned by the SDK.
type SDK interface {
	Open(name string) (Handle, error)
	Close(h Handle) error
	CameraCount() (int, error)
	CameraName(idx int) (string, error)

	// SetupContinuous returns the size of one frame in bytes
	SetupContinuous(h Handle, roi ROI, expMode int32, expTime uint32, ringFrames int) (int, error)

	// SetupSequence returns the size of the whole sequence in bytes
	SetupSequence(h Handle, frames int, roi ROI, expMode int32, expTime uint32) (int, error)

	StartContinuous(h Handle, buf *Buffer, ringFrames int) error
	StartSequence(h Handle, buf *Buffer) error
	RegisterFrameCallback(h Handle, fn func(Handle)) error
	DeregisterFrameCallback(h Handle) error

	CheckStatus(h Handle) (Status, error)
	CheckContinuousStatus(h Handle) (Status, error)

	// LatestFrame returns the byte offset of the most recently completed
	// frame within the buffer passed to the start call
	LatestFrame(h Handle) (int, error)

	StopContinuous(h Handle) error
	FinishSequence(h Handle, buf *Buffer) error
	Abort(h Handle) error

	MetadataEnabled(h Handle) (bool, error)

	// Alloc allocates n bytes of memory the SDK can safely write into
	Alloc(n int) (Memory, error)
}

// Extended is implemented by SDKs with parameter access and the less common
// acquisition controls
type Extended interface {
	Version() (uint16, error)
	FirmwareVersion(h Handle) (uint16, error)

	GetParam(h Handle, id param.ID, attr param.Attr) (param.Value, error)
	SetParam(h Handle, id param.ID, v param.Value) error
	ParamAvailable(h Handle, id param.ID) (bool, error)
	EnumEntries(h Handle, id param.ID) (map[string]int32, error)

	// Trigger issues a software trigger
	Trigger(h Handle) error

	// SetupExposureModes programs the exposure and expose-out modes
	SetupExposureModes(h Handle, expMode int32) error

	ResetPostProcessing(h Handle) error
}
