/*Package bridge hands frames from a camera SDK's callback thread to blocking
consumers.

A Registry tracks one session per open camera.  The SDK invokes the frame
callback on its own thread whenever a frame completes; the callback queues a
descriptor of the frame and wakes any consumer blocked in GetFrame.  GetFrame
also polls the SDK's readout status on a short interval, so that a stuck or
failed readout is noticed even when no callback ever arrives.

In continuous mode only the newest frame is kept; older frames a consumer did
not collect in time are dropped.  In sequence mode every frame is queued.

A minimal acquisition:

	r := bridge.New(sdk)
	h, err := r.Open(name)
	_, err = r.Configure(h, bridge.AcquisitionConfig{ROI: roi, ExposureTime: 10, Mode: bridge.Continuous})
	err = r.Start(h)
	f, err := r.GetFrame(ctx, h, time.Second)
	// use f.Pixels
	f.Release()
	err = r.Stop(h)
	err = r.Close(h)
*/
package bridge

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultPollInterval is how often GetFrame re-polls readout status while waiting
	DefaultPollInterval = 200 * time.Millisecond

	// DefaultRingFrames is the capacity of the circular buffer in continuous mode
	DefaultRingFrames = 16

	// fpsWindow is the number of frames between throughput estimates
	fpsWindow = 5
)

// State is the acquisition state of a session
type State int

// session states
const (
	Idle State = iota
	Configured
	Running
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Configured:
		return "configured"
	case Running:
		return "running"
	case Faulted:
		return "faulted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// session is the acquisition state of one open camera.  Every field but ctl
// is guarded by the registry mutex.
type session struct {
	handle Handle
	name   string

	// ctl serializes controller operations on this camera
	ctl sync.Mutex

	state           State
	cfg             AcquisitionConfig
	buf             *Buffer
	frameBytes      int
	metadataEnabled bool
	run             uuid.UUID

	frameCount uint64
	fps        float64
	lastStats  time.Time

	pending     frameQueue
	newData     bool
	abort       bool
	callbackErr error
}

// Registry holds the sessions of every open camera
type Registry struct {
	sdk SDK

	mu       sync.Mutex
	cond     *sync.Cond
	sessions map[Handle]*session

	log        *log.Logger
	poll       time.Duration
	ringFrames int
	now        func() time.Time
	observers  []Observer
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the logger used for problems that have no caller to return
// an error to, such as callbacks for closed cameras
func WithLogger(l *log.Logger) Option {
	return func(r *Registry) {
		r.log = l
	}
}

// WithPollInterval sets how often GetFrame re-polls readout status
func WithPollInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.poll = d
		}
	}
}

// WithRingFrames sets the circular buffer capacity used in continuous mode
func WithRingFrames(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.ringFrames = n
		}
	}
}

// WithClock replaces the clock used for throughput estimates
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithObserver adds an observer of acquisition events
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observers = append(r.observers, o)
	}
}

// New returns a Registry driving sdk
func New(sdk SDK, opts ...Option) *Registry {
	r := &Registry{
		sdk:        sdk,
		sessions:   make(map[Handle]*session),
		log:        log.New(os.Stderr, "pvbridge ", log.LstdFlags|log.Lmicroseconds),
		poll:       DefaultPollInterval,
		ringFrames: DefaultRingFrames,
		now:        time.Now,
	}
	r.cond = sync.NewCond(&r.mu)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SDK returns the SDK the registry drives
func (r *Registry) SDK() SDK {
	return r.sdk
}

// Names lists the cameras the SDK can see
func (r *Registry) Names() ([]string, error) {
	n, err := r.sdk.CameraCount()
	if err != nil {
		return nil, newErr(KindHardware, "list", -1, err)
	}
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name, err := r.sdk.CameraName(i)
		if err != nil {
			return nil, newErr(KindHardware, "list", -1, err)
		}
		names = append(names, name)
	}
	return names, nil
}

// Open opens the named camera and creates its session
func (r *Registry) Open(name string) (Handle, error) {
	const op = "open"
	r.mu.Lock()
	for h, s := range r.sessions {
		if s.name == name {
			r.mu.Unlock()
			return h, newErr(KindInvalidState, op, h, fmt.Errorf("camera %q is already open", name))
		}
	}
	r.mu.Unlock()

	h, err := r.sdk.Open(name)
	if err != nil {
		return h, newErr(KindHardware, op, h, err)
	}
	r.mu.Lock()
	if _, dup := r.sessions[h]; dup {
		r.mu.Unlock()
		return h, newErr(KindInvalidState, op, h, errors.New("handle already has a session"))
	}
	r.sessions[h] = &session{handle: h, name: name}
	r.emit(Event{Kind: EventOpened, Handle: h})
	r.mu.Unlock()
	return h, nil
}

// Close removes the camera's session and closes it.  The session is removed
// before the SDK is told, so a frame callback racing with Close finds no
// session and does nothing.  A running acquisition is aborted.
func (r *Registry) Close(h Handle) error {
	s, done, err := r.control("close", h)
	if err != nil {
		return err
	}
	defer done()

	r.mu.Lock()
	delete(r.sessions, h)
	running := s.state == Running
	r.mu.Unlock()

	var errs []error
	if running {
		if err := r.sdk.Abort(h); err != nil {
			errs = append(errs, err)
		}
		if err := r.sdk.DeregisterFrameCallback(h); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.sdk.Close(h); err != nil {
		errs = append(errs, err)
	}

	r.mu.Lock()
	s.pending.reset()
	if s.buf != nil {
		s.buf.retire()
		s.buf = nil
	}
	if running {
		s.abort = true
	}
	s.state = Idle
	r.cond.Broadcast()
	r.emit(Event{Kind: EventClosed, Handle: h, Run: s.run})
	r.mu.Unlock()

	if len(errs) > 0 {
		return newErr(KindHardware, "close", h, errors.Join(errs...))
	}
	return nil
}

// Shutdown closes every open camera
func (r *Registry) Shutdown() error {
	var errs []error
	for _, h := range r.Handles() {
		if err := r.Close(h); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handles lists the handles of every open camera, in ascending order
func (r *Registry) Handles() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Handle, 0, len(r.sessions))
	for h := range r.sessions {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Stats is a snapshot of a session
type Stats struct {
	Handle          Handle            `json:"handle"`
	Name            string            `json:"name"`
	State           State             `json:"state"`
	Config          AcquisitionConfig `json:"config"`
	Run             uuid.UUID         `json:"run"`
	FrameCount      uint64            `json:"frameCount"`
	FPS             float64           `json:"fps"`
	Pending         int               `json:"pending"`
	FrameBytes      int               `json:"frameBytes"`
	MetadataEnabled bool              `json:"metadataEnabled"`
}

// Stats returns a snapshot of the camera's session
func (r *Registry) Stats(h Handle) (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[h]
	if !ok {
		return Stats{}, newErr(KindSessionNotFound, "stats", h, nil)
	}
	return Stats{
		Handle:          h,
		Name:            s.name,
		State:           s.state,
		Config:          s.cfg,
		Run:             s.run,
		FrameCount:      s.frameCount,
		FPS:             s.fps,
		Pending:         s.pending.len(),
		FrameBytes:      s.frameBytes,
		MetadataEnabled: s.metadataEnabled,
	}, nil
}

// control looks up a session and takes its controller lock.  The returned
// func releases the lock.
func (r *Registry) control(op string, h Handle) (*session, func(), error) {
	r.mu.Lock()
	s, ok := r.sessions[h]
	r.mu.Unlock()
	if !ok {
		return nil, nil, newErr(KindSessionNotFound, op, h, nil)
	}
	s.ctl.Lock()
	r.mu.Lock()
	cur, ok := r.sessions[h]
	r.mu.Unlock()
	if !ok || cur != s {
		s.ctl.Unlock()
		return nil, nil, newErr(KindSessionNotFound, op, h, nil)
	}
	return s, s.ctl.Unlock, nil
}
