package bridge

import (
	"context"
	"errors"
	"time"

	"github.jpl.nasa.gov/bdube/pvbridge/metadata"
)

// GetFrame waits for the next frame of a running acquisition.
//
// While waiting it re-polls the SDK's readout status every poll interval, so
// a failed readout is reported even if no frame callback arrives.  The wait
// ends with ErrTimeout once timeout elapses (timeout <= 0 waits indefinitely)
// or ctx is done.  An Abort issued while waiting ends it with ErrAborted.
//
// The returned frame must be released.
func (r *Registry) GetFrame(ctx context.Context, h Handle, timeout time.Duration) (*Frame, error) {
	const op = "get frame"
	r.mu.Lock()
	s, ok := r.sessions[h]
	if !ok {
		r.mu.Unlock()
		return nil, newErr(KindSessionNotFound, op, h, nil)
	}
	if s.state != Running && !s.abort && s.pending.len() == 0 {
		st := s.state
		r.mu.Unlock()
		return nil, newErr(KindInvalidState, op, h, errors.New("no acquisition running, session is "+st.String()))
	}
	r.mu.Unlock()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	stopCtx := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer stopCtx()

	status, statusErr := r.sdk.CheckStatus(h)
	expired := false

	// Readout can report complete before the frame callback has been
	// dispatched, so status is only acted on after at least one wait.
	r.mu.Lock()
	for statusErr == nil && !s.ready() {
		wait := r.poll
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				expired = true
				break
			}
			if left < wait {
				wait = left
			}
		}
		if ctx.Err() != nil {
			expired = true
			break
		}
		r.waitFor(wait)
		if s.ready() {
			break
		}
		r.mu.Unlock()
		status, statusErr = r.sdk.CheckStatus(h)
		r.mu.Lock()
		if status == ReadoutFailed || status == ReadoutComplete {
			break
		}
	}
	f, err := r.resolve(s, op, status, statusErr, expired || ctx.Err() != nil)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if s.metadataEnabled {
		md, err := metadata.Decode(f.Raw, len(f.Raw))
		if err == nil {
			var px []byte
			px, err = md.Pixels()
			if err == nil {
				f.Metadata = md
				f.Pixels = px
				for _, roi := range md.ROIs {
					if roi.Flags&(metadata.ROIInvalid|metadata.ROIHeaderOnly) == 0 {
						f.ROI = roi.Region
						break
					}
				}
			}
		}
		if err != nil {
			f.Release()
			return nil, newErr(KindMetadata, op, h, err)
		}
	}
	return f, nil
}

// ready reports whether a waiting consumer has something to act on.
// The registry mutex must be held.
func (s *session) ready() bool {
	return s.newData || s.abort || s.callbackErr != nil || s.state != Running
}

// waitFor waits on the registry condition for at most d.  The registry mutex
// must be held; it is released while waiting.
func (r *Registry) waitFor(d time.Duration) {
	t := time.AfterFunc(d, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	r.cond.Wait()
	t.Stop()
}

// resolve decides the outcome of a wait, in priority order, and dequeues the
// frame on success.  The registry mutex must be held.
func (r *Registry) resolve(s *session, op string, status Status, statusErr error, expired bool) (*Frame, error) {
	h := s.handle
	switch {
	case statusErr != nil:
		s.newData = false
		return nil, newErr(KindHardware, op, h, statusErr)
	case status == ReadoutFailed:
		s.newData = false
		return nil, newErr(KindReadout, op, h, nil)
	case s.abort:
		s.abort = false
		s.newData = false
		return nil, newErr(KindAborted, op, h, nil)
	case s.callbackErr != nil:
		err := s.callbackErr
		s.callbackErr = nil
		return nil, newErr(KindHardware, op, h, err)
	case s.newData && s.pending.len() > 0:
	case status == ReadoutComplete:
		s.newData = false
		return nil, newErr(KindInconsistent, op, h, errNoCallback)
	case s.state != Running:
		return nil, newErr(KindInvalidState, op, h, errors.New("acquisition ended while waiting, session is "+s.state.String()))
	case expired:
		return nil, newErr(KindTimeout, op, h, nil)
	default:
		return nil, newErr(KindTimeout, op, h, errors.New("woke with no frame"))
	}

	d, _ := s.pending.pop()
	s.newData = s.cfg.Mode == FiniteSequence && s.pending.len() > 0
	if s.buf == nil || !s.buf.acquire() {
		return nil, newErr(KindInvalidState, op, h, errors.New("frame buffer already released"))
	}
	raw := s.buf.Bytes()[d.offset : d.offset+s.frameBytes : d.offset+s.frameBytes]
	return &Frame{
		Pixels: raw,
		Raw:    raw,
		Seq:    d.seq,
		FPS:    s.fps,
		Run:    s.run,
		ROI:    s.cfg.ROI,
		buf:    s.buf,
	}, nil
}
