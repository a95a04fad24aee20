package bridge

import (
	"sync"
	"sync/atomic"
)

// Buffer is the frame buffer of one configured acquisition.  It is reference
// counted: the session holds one reference until the acquisition is torn
// down, and every Frame handed to a consumer holds another until released.
// The memory is freed when the last reference is dropped.
type Buffer struct {
	mem        Memory
	frameBytes int
	frames     int

	refs    int32
	retired sync.Once
}

func newBuffer(mem Memory, frameBytes, frames int) *Buffer {
	return &Buffer{mem: mem, frameBytes: frameBytes, frames: frames, refs: 1}
}

// Memory returns the underlying SDK memory
func (b *Buffer) Memory() Memory {
	return b.mem
}

// Bytes returns the whole buffer
func (b *Buffer) Bytes() []byte {
	return b.mem.Bytes()
}

// Len is the size of the buffer in bytes
func (b *Buffer) Len() int {
	return b.frameBytes * b.frames
}

// FrameBytes is the size of one frame in bytes
func (b *Buffer) FrameBytes() int {
	return b.frameBytes
}

// Frames is the number of frames the buffer holds
func (b *Buffer) Frames() int {
	return b.frames
}

// acquire takes a reference, failing if the memory is already freed
func (b *Buffer) acquire() bool {
	for {
		n := atomic.LoadInt32(&b.refs)
		if n <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&b.refs, n, n+1) {
			return true
		}
	}
}

func (b *Buffer) release() {
	if atomic.AddInt32(&b.refs, -1) == 0 {
		b.mem.Free()
	}
}

// retire drops the session's reference.  Safe to call more than once.
func (b *Buffer) retire() {
	b.retired.Do(b.release)
}
