package camera_test

import (
	"errors"
	"sync"

	"github.jpl.nasa.gov/bdube/pvbridge/bridge"
	"github.jpl.nasa.gov/bdube/pvbridge/param"
)

type mem []byte

func (m mem) Bytes() []byte { return m }
func (m mem) Free()         {}

// fakeCam is a single camera whose sequences complete on their own and whose
// continuous frames are produced by fire
type fakeCam struct {
	mu         sync.Mutex
	frameBytes int
	fill       byte
	cb         func(bridge.Handle)
	buf        *bridge.Buffer
	ring       int
	seq        bool
	fired      int
	done       int
	lastOff    int
	params     map[param.ID]param.Value
	enums      map[param.ID]map[string]int32
	triggers   int
	exposure   uint32
	expModes   int32
}

func newFakeCam(frameBytes int) *fakeCam {
	return &fakeCam{
		frameBytes: frameBytes,
		fill:       0x80,
		params:     map[param.ID]param.Value{},
		enums:      map[param.ID]map[string]int32{},
	}
}

func (f *fakeCam) Open(name string) (bridge.Handle, error) {
	if name != "fake" {
		return -1, errors.New("no such camera")
	}
	return 0, nil
}

func (f *fakeCam) Close(h bridge.Handle) error                 { return nil }
func (f *fakeCam) CameraCount() (int, error)                   { return 1, nil }
func (f *fakeCam) CameraName(idx int) (string, error)          { return "fake", nil }
func (f *fakeCam) MetadataEnabled(bridge.Handle) (bool, error) { return false, nil }
func (f *fakeCam) Alloc(n int) (bridge.Memory, error)          { return make(mem, n), nil }
func (f *fakeCam) Abort(h bridge.Handle) error                 { return nil }
func (f *fakeCam) StopContinuous(h bridge.Handle) error        { return nil }

func (f *fakeCam) FinishSequence(h bridge.Handle, buf *bridge.Buffer) error { return nil }

func (f *fakeCam) SetupContinuous(h bridge.Handle, roi bridge.ROI, expMode int32, expTime uint32, ring int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq, f.ring = false, ring
	return f.frameBytes, nil
}

func (f *fakeCam) SetupSequence(h bridge.Handle, frames int, roi bridge.ROI, expMode int32, expTime uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq, f.ring, f.exposure = true, frames, expTime
	return f.frameBytes * frames, nil
}

func (f *fakeCam) begin(buf *bridge.Buffer) {
	f.mu.Lock()
	f.buf, f.fired, f.done = buf, 0, 0
	f.mu.Unlock()
}

func (f *fakeCam) StartContinuous(h bridge.Handle, buf *bridge.Buffer, ring int) error {
	f.begin(buf)
	return nil
}

func (f *fakeCam) StartSequence(h bridge.Handle, buf *bridge.Buffer) error {
	f.begin(buf)
	n := buf.Frames()
	go func() {
		for i := 0; i < n; i++ {
			f.fire(h)
		}
	}()
	return nil
}

func (f *fakeCam) RegisterFrameCallback(h bridge.Handle, fn func(bridge.Handle)) error {
	f.mu.Lock()
	f.cb = fn
	f.mu.Unlock()
	return nil
}

func (f *fakeCam) DeregisterFrameCallback(h bridge.Handle) error {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
	return nil
}

func (f *fakeCam) CheckStatus(h bridge.Handle) (bridge.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seq && f.buf != nil && f.done >= f.ring {
		return bridge.ReadoutComplete, nil
	}
	return bridge.ExposureInProgress, nil
}

func (f *fakeCam) CheckContinuousStatus(h bridge.Handle) (bridge.Status, error) {
	return f.CheckStatus(h)
}

func (f *fakeCam) LatestFrame(h bridge.Handle) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOff, nil
}

// fire fills the next ring slot with the fill byte and invokes the callback
func (f *fakeCam) fire(h bridge.Handle) {
	f.mu.Lock()
	cb := f.cb
	if f.buf != nil && f.ring > 0 {
		slot := f.fired % f.ring
		f.fired++
		f.lastOff = slot * f.frameBytes
		dst := f.buf.Bytes()[f.lastOff : f.lastOff+f.frameBytes]
		for i := range dst {
			dst[i] = f.fill
		}
	}
	f.mu.Unlock()
	if cb != nil {
		cb(h)
	}
	f.mu.Lock()
	f.done++
	f.mu.Unlock()
}

func (f *fakeCam) Version() (uint16, error)                      { return 0x0312, nil }
func (f *fakeCam) FirmwareVersion(bridge.Handle) (uint16, error) { return 0x0105, nil }

func (f *fakeCam) GetParam(h bridge.Handle, id param.ID, attr param.Attr) (param.Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.params[id]
	if !ok {
		return param.Value{}, errors.New("no such parameter")
	}
	if attr == param.AttrType {
		return param.Value{Type: param.TypeUns16, Uint: uint64(v.Type)}, nil
	}
	return v, nil
}

func (f *fakeCam) SetParam(h bridge.Handle, id param.ID, v param.Value) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params[id] = v
	return nil
}

func (f *fakeCam) ParamAvailable(h bridge.Handle, id param.ID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.params[id]
	return ok, nil
}

func (f *fakeCam) EnumEntries(h bridge.Handle, id param.ID) (map[string]int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enums[id], nil
}

func (f *fakeCam) Trigger(h bridge.Handle) error {
	f.mu.Lock()
	f.triggers++
	f.mu.Unlock()
	return nil
}

func (f *fakeCam) ResetPostProcessing(h bridge.Handle) error { return nil }

func (f *fakeCam) SetupExposureModes(h bridge.Handle, expMode int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expModes = expMode
	return nil
}
