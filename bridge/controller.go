package bridge

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Configure sets up an acquisition and allocates its frame buffer, returning
// the size of one frame in bytes.  Any previous buffer is released first.  If
// the SDK rejects the setup the session is left Idle with no buffer.
func (r *Registry) Configure(h Handle, cfg AcquisitionConfig) (int, error) {
	const op = "configure"
	s, done, err := r.control(op, h)
	if err != nil {
		return 0, err
	}
	defer done()

	r.mu.Lock()
	if s.state == Running {
		r.mu.Unlock()
		return 0, newErr(KindInvalidState, op, h, errors.New("acquisition running, stop, finish or abort it first"))
	}
	r.dropBuffer(s)
	s.state = Idle
	r.mu.Unlock()

	if cfg.Mode == FiniteSequence && cfg.Frames < 1 {
		return 0, newErr(KindConfiguration, op, h, fmt.Errorf("sequence of %d frames", cfg.Frames))
	}
	var frameBytes, frames int
	switch cfg.Mode {
	case Continuous:
		frames = r.ringFrames
		frameBytes, err = r.sdk.SetupContinuous(h, cfg.ROI, cfg.ExposureMode, cfg.ExposureTime, frames)
	case FiniteSequence:
		frames = cfg.Frames
		var total int
		total, err = r.sdk.SetupSequence(h, frames, cfg.ROI, cfg.ExposureMode, cfg.ExposureTime)
		frameBytes = total / frames
	default:
		err = fmt.Errorf("unknown mode %v", cfg.Mode)
	}
	if err != nil {
		return 0, newErr(KindConfiguration, op, h, err)
	}
	if frameBytes <= 0 {
		return 0, newErr(KindConfiguration, op, h, fmt.Errorf("SDK reported frame size of %d bytes", frameBytes))
	}

	mdEnabled, err := r.sdk.MetadataEnabled(h)
	if err != nil {
		return 0, newErr(KindHardware, op, h, err)
	}
	mem, err := r.sdk.Alloc(frameBytes * frames)
	if err != nil {
		return 0, newErr(KindHardware, op, h, err)
	}

	r.mu.Lock()
	s.cfg = cfg
	s.buf = newBuffer(mem, frameBytes, frames)
	s.frameBytes = frameBytes
	s.metadataEnabled = mdEnabled
	s.frameCount = 0
	s.fps = 0
	s.pending.reset()
	s.state = Configured
	r.mu.Unlock()
	return frameBytes, nil
}

// Start registers the frame callback and starts the configured acquisition.
// On failure the session stays Configured.
func (r *Registry) Start(h Handle) error {
	const op = "start"
	s, done, err := r.control(op, h)
	if err != nil {
		return err
	}
	defer done()

	r.mu.Lock()
	if s.state != Configured {
		st := s.state
		r.mu.Unlock()
		return newErr(KindInvalidState, op, h, fmt.Errorf("session is %s, configure it first", st))
	}
	buf, mode := s.buf, s.cfg.Mode
	s.pending.reset()
	s.newData = false
	s.abort = false
	s.callbackErr = nil
	s.frameCount = 0
	s.fps = 0
	s.lastStats = r.now()
	s.run = uuid.New()
	s.state = Running
	r.mu.Unlock()

	revert := func(err error) error {
		r.mu.Lock()
		s.state = Configured
		r.mu.Unlock()
		return newErr(KindHardware, op, h, err)
	}
	if err := r.sdk.RegisterFrameCallback(h, r.deliver); err != nil {
		return revert(err)
	}
	if mode == Continuous {
		err = r.sdk.StartContinuous(h, buf, buf.Frames())
	} else {
		err = r.sdk.StartSequence(h, buf)
	}
	if err != nil {
		if derr := r.sdk.DeregisterFrameCallback(h); derr != nil {
			r.log.Printf("camera %d: deregistering callback after failed start: %v", h, derr)
		}
		return revert(err)
	}

	r.mu.Lock()
	r.emit(Event{Kind: EventStarted, Handle: h, Run: s.run, Mode: mode})
	r.mu.Unlock()
	return nil
}

// Stop stops a continuous acquisition and releases its buffer.  Stopping a
// camera that is not acquiring does nothing.  A sequence acquisition is
// finished instead.
func (r *Registry) Stop(h Handle) error {
	s, done, err := r.control("stop", h)
	if err != nil {
		return err
	}
	defer done()
	return r.stop(s, "stop")
}

// Finish ends a sequence acquisition, aborting it in hardware first if it is
// still exposing or reading out, and releases its buffer.  Finishing a camera
// that is not acquiring does nothing.  A continuous acquisition is stopped
// instead.
func (r *Registry) Finish(h Handle) error {
	s, done, err := r.control("finish", h)
	if err != nil {
		return err
	}
	defer done()
	return r.stop(s, "finish")
}

// Abort aborts the acquisition in hardware and releases its buffer.  Any
// consumer blocked in GetFrame returns ErrAborted.  Aborting a camera that is
// not acquiring does nothing.
func (r *Registry) Abort(h Handle) error {
	const op = "abort"
	s, done, err := r.control(op, h)
	if err != nil {
		return err
	}
	defer done()

	r.mu.Lock()
	running := s.state == Running
	r.mu.Unlock()
	if !running {
		return nil
	}

	var errs []error
	if err := r.sdk.Abort(h); err != nil {
		errs = append(errs, err)
	}
	if err := r.sdk.DeregisterFrameCallback(h); err != nil {
		errs = append(errs, err)
	}
	return r.teardown(s, op, EventAborted, true, errs)
}

// stop holds the shared body of Stop and Finish
func (r *Registry) stop(s *session, op string) error {
	h := s.handle
	r.mu.Lock()
	running, mode, buf := s.state == Running, s.cfg.Mode, s.buf
	r.mu.Unlock()
	if !running {
		return nil
	}

	var errs []error
	if mode == Continuous {
		if err := r.sdk.StopContinuous(h); err != nil {
			errs = append(errs, err)
		}
		if err := r.sdk.DeregisterFrameCallback(h); err != nil {
			errs = append(errs, err)
		}
		return r.teardown(s, op, EventStopped, false, errs)
	}

	status, err := r.sdk.CheckStatus(h)
	switch {
	case err != nil:
		errs = append(errs, err)
	case status == ExposureInProgress || status == ReadoutInProgress:
		if err := r.sdk.Abort(h); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.sdk.DeregisterFrameCallback(h); err != nil {
		errs = append(errs, err)
	}
	if err := r.sdk.FinishSequence(h, buf); err != nil {
		errs = append(errs, err)
	}
	return r.teardown(s, op, EventFinished, false, errs)
}

// teardown releases the session's buffer and moves it to Idle, or to Faulted
// if any SDK call in errs failed
func (r *Registry) teardown(s *session, op string, kind EventKind, aborted bool, errs []error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropBuffer(s)
	s.state = Idle
	ev := Event{Kind: kind, Handle: s.handle, Run: s.run, Mode: s.cfg.Mode, Seq: s.frameCount, FPS: s.fps}
	if aborted {
		s.abort = true
	}
	r.cond.Broadcast()
	if len(errs) > 0 {
		s.state = Faulted
		err := errors.Join(errs...)
		ev.Kind, ev.Err = EventFaulted, err.Error()
		r.emit(ev)
		return newErr(KindHardware, op, s.handle, err)
	}
	r.emit(ev)
	return nil
}

// dropBuffer retires the session's buffer and forgets queued frames.
// The registry mutex must be held.
func (r *Registry) dropBuffer(s *session) {
	s.pending.reset()
	s.newData = false
	if s.buf != nil {
		s.buf.retire()
		s.buf = nil
	}
}
