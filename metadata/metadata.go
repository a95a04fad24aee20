/*Package metadata decodes the per-frame metadata headers a camera prepends to
each frame when frame metadata is enabled.

A frame with metadata is laid out as

	frame header | frame extended metadata | ROI header | ROI extended metadata | ROI data | ROI header | ...

Header revisions before 3 carry 32-bit timestamps together with their
resolutions; revision 3 widens timestamps and exposure time to 64 bits and drops
the resolution fields.
*/
package metadata

import (
	"errors"
	"fmt"
)

const (
	// Signature is the magic number at the head of every frame header, "PMQ\x00"
	Signature uint32 = 0x00514D50

	// MaxVersion is the newest header revision understood by Decode
	MaxVersion = 3

	// FrameHeaderSize is the size of the frame header in bytes, for every revision
	FrameHeaderSize = 48

	// ROIHeaderSize is the size of an ROI header in bytes
	ROIHeaderSize = 32
)

// ROI flag bits
const (
	// ROIInvalid marks an ROI header that should be skipped
	ROIInvalid uint8 = 0x01

	// ROIHeaderOnly marks an ROI that carries no pixel data
	ROIHeaderOnly uint8 = 0x02
)

var (
	// ErrMalformed is wrapped by every error Decode returns
	ErrMalformed = errors.New("metadata: malformed frame")

	// ErrNoPixels is returned by Pixels when no ROI carries data
	ErrNoPixels = errors.New("metadata: frame contains no pixel data")
)

// Region is a sensor region, inclusive on both ends, with binning factors
type Region struct {
	S1   uint16 `json:"s1"`
	S2   uint16 `json:"s2"`
	SBin uint16 `json:"sbin"`
	P1   uint16 `json:"p1"`
	P2   uint16 `json:"p2"`
	PBin uint16 `json:"pbin"`
}

// Width is the number of binned pixels along the serial axis
func (r Region) Width() int {
	if r.SBin == 0 || r.S2 < r.S1 {
		return 0
	}
	return (int(r.S2) - int(r.S1) + 1) / int(r.SBin)
}

// Height is the number of binned pixels along the parallel axis
func (r Region) Height() int {
	if r.PBin == 0 || r.P2 < r.P1 {
		return 0
	}
	return (int(r.P2) - int(r.P1) + 1) / int(r.PBin)
}

// Header is the decoded frame header.  Fields absent from a revision are zero.
type Header struct {
	Version  uint8  `json:"version"`
	FrameNr  uint32 `json:"frameNr"`
	ROICount uint16 `json:"roiCount"`

	TimestampBOF   uint64 `json:"timestampBOF"`
	TimestampEOF   uint64 `json:"timestampEOF"`
	TimestampResNs uint32 `json:"timestampResNs,omitempty"`

	ExposureTime      uint64 `json:"exposureTime"`
	ExposureTimeResNs uint32 `json:"exposureTimeResNs,omitempty"`
	ROITimestampResNs uint32 `json:"roiTimestampResNs,omitempty"`

	BitDepth             uint8  `json:"bitDepth"`
	ColorMask            uint8  `json:"colorMask"`
	Flags                uint8  `json:"flags"`
	ExtendedMetadataSize uint16 `json:"extendedMdSize"`

	// version 2 and later
	ImageFormat      uint8 `json:"imageFormat"`
	ImageCompression uint8 `json:"imageCompression"`
}

// ROI is one decoded ROI header with views of its trailing blocks.
// The views alias the frame buffer passed to Decode.
type ROI struct {
	Number       uint16 `json:"roiNr"`
	TimestampBOR uint32 `json:"timestampBOR"`
	TimestampEOR uint32 `json:"timestampEOR"`
	Region       Region `json:"roi"`
	Flags        uint8  `json:"flags"`

	ExtendedMetadata []byte `json:"-"`
	Data             []byte `json:"-"`

	extSize  uint16
	dataSize uint32
}

// Frame is a decoded metadata frame
type Frame struct {
	Header
	ExtendedMetadata []byte `json:"-"`
	ROIs             []ROI  `json:"rois"`
}

// Pixels returns the data of the first ROI carrying pixel data
func (f *Frame) Pixels() ([]byte, error) {
	for _, r := range f.ROIs {
		if r.Flags&(ROIInvalid|ROIHeaderOnly) != 0 {
			continue
		}
		return r.Data, nil
	}
	return nil, ErrNoPixels
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrMalformed}, args...)...)
}

// Decode parses the metadata frame occupying the first frameBytes of raw.
// The returned Frame aliases raw.
func Decode(raw []byte, frameBytes int) (*Frame, error) {
	if frameBytes > len(raw) || frameBytes <= 0 {
		return nil, malformed("frame size %d invalid for buffer of %d bytes", frameBytes, len(raw))
	}
	raw = raw[:frameBytes]
	if len(raw) < FrameHeaderSize {
		return nil, malformed("frame of %d bytes is shorter than the %d byte header", len(raw), FrameHeaderSize)
	}
	if sig := le.Uint32(raw[offSignature:]); sig != Signature {
		return nil, malformed("bad signature %#08x", sig)
	}
	hdr := parseHeader(raw)
	if hdr.Version == 0 || hdr.Version > MaxVersion {
		return nil, malformed("unsupported header version %d", hdr.Version)
	}
	if hdr.ROICount == 0 {
		return nil, malformed("frame %d declares no ROIs", hdr.FrameNr)
	}

	f := &Frame{Header: hdr, ROIs: make([]ROI, 0, hdr.ROICount)}
	pos := FrameHeaderSize
	ext, pos, err := take(raw, pos, int(hdr.ExtendedMetadataSize), "frame extended metadata")
	if err != nil {
		return nil, err
	}
	f.ExtendedMetadata = ext
	for i := 0; i < int(hdr.ROICount); i++ {
		var rh []byte
		rh, pos, err = take(raw, pos, ROIHeaderSize, fmt.Sprintf("ROI %d header", i))
		if err != nil {
			return nil, err
		}
		roi := parseROIHeader(rh)
		roi.ExtendedMetadata, pos, err = take(raw, pos, int(roi.extSize), fmt.Sprintf("ROI %d extended metadata", i))
		if err != nil {
			return nil, err
		}
		roi.Data, pos, err = take(raw, pos, int(roi.dataSize), fmt.Sprintf("ROI %d data", i))
		if err != nil {
			return nil, err
		}
		f.ROIs = append(f.ROIs, roi)
	}
	return f, nil
}

func take(b []byte, pos, n int, what string) ([]byte, int, error) {
	end := pos + n
	if n < 0 || end > len(b) {
		return nil, pos, malformed("%s of %d bytes at offset %d overruns %d byte frame", what, n, pos, len(b))
	}
	return b[pos:end:end], end, nil
}
