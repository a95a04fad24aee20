package bridge_test

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.jpl.nasa.gov/bdube/pvbridge/bridge"
	"github.jpl.nasa.gov/bdube/pvbridge/param"
)

// goMem is SDK memory backed by a Go slice
type goMem struct {
	b     []byte
	freed *int32
}

func (m *goMem) Bytes() []byte { return m.b }
func (m *goMem) Free()         { atomic.AddInt32(m.freed, 1) }

// fakeSDK stands in for the camera library.  Frames are produced by calling
// fire, which writes a payload into the started buffer and invokes the
// registered callback the way the SDK's thread would.
type fakeSDK struct {
	mu sync.Mutex

	frameBytes int
	metadata   bool

	setupErr  error
	startErr  error
	latestErr error
	statusErr error
	override  *bridge.Status

	// payload, if set, produces the bytes written for frame n (from 1)
	payload func(n int) []byte

	// autoFire makes StartSequence deliver every frame on its own goroutine
	autoFire bool

	names    []string
	open     map[bridge.Handle]bool
	cbs      map[bridge.Handle]func(bridge.Handle)
	buf      *bridge.Buffer
	ring     int
	seq      bool
	fired    int
	done     int
	lastOff  int
	freed    int32
	calls    []string
	params   map[param.ID]param.Value
	enums    map[param.ID]map[string]int32
	trigOK   bool
	expModes int32
}

func newFake(frameBytes int) *fakeSDK {
	return &fakeSDK{
		frameBytes: frameBytes,
		names:      []string{"cam0", "cam1"},
		open:       make(map[bridge.Handle]bool),
		cbs:        make(map[bridge.Handle]func(bridge.Handle)),
		params:     make(map[param.ID]param.Value),
		enums:      make(map[param.ID]map[string]int32),
		trigOK:     true,
	}
}

func (f *fakeSDK) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeSDK) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSDK) Freed() int32 {
	return atomic.LoadInt32(&f.freed)
}

func (f *fakeSDK) Open(name string) (bridge.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, n := range f.names {
		if n == name {
			h := bridge.Handle(i)
			f.open[h] = true
			f.record("open")
			return h, nil
		}
	}
	return -1, fmt.Errorf("no camera named %q", name)
}

func (f *fakeSDK) Close(h bridge.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("close")
	delete(f.open, h)
	return nil
}

func (f *fakeSDK) CameraCount() (int, error) { return len(f.names), nil }

func (f *fakeSDK) CameraName(idx int) (string, error) {
	if idx < 0 || idx >= len(f.names) {
		return "", errors.New("index out of range")
	}
	return f.names[idx], nil
}

func (f *fakeSDK) SetupContinuous(h bridge.Handle, roi bridge.ROI, expMode int32, expTime uint32, ring int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("setup_cont")
	if f.setupErr != nil {
		return 0, f.setupErr
	}
	f.seq, f.ring = false, ring
	return f.frameBytes, nil
}

func (f *fakeSDK) SetupSequence(h bridge.Handle, frames int, roi bridge.ROI, expMode int32, expTime uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("setup_seq")
	if f.setupErr != nil {
		return 0, f.setupErr
	}
	f.seq, f.ring = true, frames
	return f.frameBytes * frames, nil
}

func (f *fakeSDK) start(call string, buf *bridge.Buffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(call)
	if f.startErr != nil {
		return f.startErr
	}
	f.buf, f.fired, f.done = buf, 0, 0
	return nil
}

func (f *fakeSDK) StartContinuous(h bridge.Handle, buf *bridge.Buffer, ring int) error {
	return f.start("start_cont", buf)
}

func (f *fakeSDK) StartSequence(h bridge.Handle, buf *bridge.Buffer) error {
	if err := f.start("start_seq", buf); err != nil {
		return err
	}
	if f.autoFire {
		n := buf.Frames()
		go func() {
			for i := 0; i < n; i++ {
				f.fire(h)
			}
		}()
	}
	return nil
}

func (f *fakeSDK) RegisterFrameCallback(h bridge.Handle, fn func(bridge.Handle)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("register")
	f.cbs[h] = fn
	return nil
}

func (f *fakeSDK) DeregisterFrameCallback(h bridge.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("deregister")
	delete(f.cbs, h)
	return nil
}

func (f *fakeSDK) CheckStatus(h bridge.Handle) (bridge.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return 0, f.statusErr
	}
	if f.override != nil {
		return *f.override, nil
	}
	if f.seq && f.buf != nil && f.done >= f.ring {
		return bridge.ReadoutComplete, nil
	}
	return bridge.ExposureInProgress, nil
}

func (f *fakeSDK) CheckContinuousStatus(h bridge.Handle) (bridge.Status, error) {
	return f.CheckStatus(h)
}

func (f *fakeSDK) LatestFrame(h bridge.Handle) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latestErr != nil {
		return 0, f.latestErr
	}
	return f.lastOff, nil
}

func (f *fakeSDK) StopContinuous(h bridge.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop_cont")
	return nil
}

func (f *fakeSDK) FinishSequence(h bridge.Handle, buf *bridge.Buffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("finish_seq")
	return nil
}

func (f *fakeSDK) Abort(h bridge.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("abort")
	return nil
}

func (f *fakeSDK) MetadataEnabled(h bridge.Handle) (bool, error) {
	return f.metadata, nil
}

func (f *fakeSDK) Alloc(n int) (bridge.Memory, error) {
	return &goMem{b: make([]byte, n), freed: &f.freed}, nil
}

// fire completes one frame and calls the registered callback, if any.
// It reports whether a callback was registered.
func (f *fakeSDK) fire(h bridge.Handle) bool {
	f.mu.Lock()
	cb := f.cbs[h]
	if f.buf != nil && f.ring > 0 {
		slot := f.fired % f.ring
		f.fired++
		f.lastOff = slot * f.frameBytes
		dst := f.buf.Bytes()[f.lastOff : f.lastOff+f.frameBytes]
		if f.payload != nil {
			copy(dst, f.payload(f.fired))
		} else {
			dst[0] = byte(f.fired)
		}
	}
	f.mu.Unlock()
	if cb != nil {
		cb(h)
	}
	// readout only reports complete once the callback has run
	f.mu.Lock()
	f.done++
	f.mu.Unlock()
	return cb != nil
}

func (f *fakeSDK) Version() (uint16, error) { return 0x0312, nil }

func (f *fakeSDK) FirmwareVersion(h bridge.Handle) (uint16, error) { return 0x0105, nil }

func (f *fakeSDK) GetParam(h bridge.Handle, id param.ID, attr param.Attr) (param.Value, error) {
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

func (f *fakeSDK) SetParam(h bridge.Handle, id param.ID, v param.Value) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.params[id]; !ok || cur.Type != v.Type {
		return errors.New("type mismatch")
	}
	f.params[id] = v
	return nil
}

func (f *fakeSDK) ParamAvailable(h bridge.Handle, id param.ID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.params[id]
	return ok, nil
}

func (f *fakeSDK) EnumEntries(h bridge.Handle, id param.ID) (map[string]int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enums[id], nil
}

func (f *fakeSDK) Trigger(h bridge.Handle) error {
	if !f.trigOK {
		return errors.New("trigger not accepted")
	}
	return nil
}

func (f *fakeSDK) SetupExposureModes(h bridge.Handle, expMode int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expModes = expMode
	f.record("set_exp_modes")
	return nil
}

func (f *fakeSDK) ResetPostProcessing(h bridge.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("reset_pp")
	return nil
}

// clock is a manually advanced clock
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
