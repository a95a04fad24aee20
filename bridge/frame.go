package bridge

import (
	"sync"
	"unsafe"

	"github.com/google/uuid"

	"github.jpl.nasa.gov/bdube/pvbridge/metadata"
)

// Frame is one frame handed to a consumer.  Pixels and Raw alias the
// acquisition's frame buffer and stay valid until Release is called, even if
// the acquisition is stopped or aborted in the meantime.
type Frame struct {
	// Pixels is the image payload.  With metadata enabled it is the data of
	// the first ROI; otherwise it is the whole frame.
	Pixels []byte

	// Raw is the whole frame as the SDK wrote it
	Raw []byte

	// Seq is the frame's sequence number within its acquisition run, from 1
	Seq uint64

	// FPS is the throughput estimate at the time the frame was delivered
	FPS float64

	// Run identifies the acquisition run the frame belongs to
	Run uuid.UUID

	// ROI is the region the pixels cover
	ROI ROI

	// Metadata is the decoded frame header, nil when metadata is disabled
	Metadata *metadata.Frame

	buf  *Buffer
	once sync.Once
}

// Release returns the frame's hold on the frame buffer.  The frame's slices
// must not be used afterwards.
func (f *Frame) Release() {
	f.once.Do(func() {
		if f.buf != nil {
			f.buf.release()
		}
	})
}

// Width is the width of the image in pixels
func (f *Frame) Width() int {
	return f.ROI.Width()
}

// Height is the height of the image in pixels
func (f *Frame) Height() int {
	return f.ROI.Height()
}

// Uint16 views the pixels as 16-bit unsigned integers in host byte order.
// The view aliases the frame buffer.
func (f *Frame) Uint16() []uint16 {
	if len(f.Pixels) < 2 {
		return nil
	}
	return unsafe.Slice((*uint16)(unsafe.Pointer(&f.Pixels[0])), len(f.Pixels)/2)
}

// Copy returns a deep copy of the frame that does not reference the frame
// buffer.  Releasing the copy is a no-op.
func (f *Frame) Copy() *Frame {
	raw := make([]byte, len(f.Raw))
	copy(raw, f.Raw)
	out := &Frame{Raw: raw, Seq: f.Seq, FPS: f.FPS, Run: f.Run, ROI: f.ROI}
	out.Pixels = raw
	if f.Metadata != nil {
		md, err := metadata.Decode(raw, len(raw))
		if err == nil {
			out.Metadata = md
			if px, err := md.Pixels(); err == nil {
				out.Pixels = px
			}
		}
	}
	return out
}
