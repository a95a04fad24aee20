package bridge

import "fmt"

// deliver is the frame callback registered with the SDK.  It runs on the SDK's
// thread, so it only records the frame and wakes consumers; it never panics
// back into the SDK and reports failures to the next GetFrame instead.
func (r *Registry) deliver(h Handle) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Printf("camera %d: frame callback panicked: %v", h, p)
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[h]
	if !ok {
		r.log.Printf("camera %d: frame callback with no open session, ignoring", h)
		return
	}
	if s.state != Running || s.buf == nil {
		r.log.Printf("camera %d: frame callback while %s, ignoring", h, s.state)
		return
	}

	s.frameCount++
	statsDue := s.frameCount%fpsWindow == 0
	if statsDue {
		now := r.now()
		if dt := now.Sub(s.lastStats).Seconds(); dt > 0 {
			s.fps = fpsWindow / dt
		}
		s.lastStats = now
	}

	off, err := r.sdk.LatestFrame(h)
	if err == nil && (off < 0 || off+s.frameBytes > s.buf.Len()) {
		err = fmt.Errorf("latest frame at offset %d lies outside the %d byte buffer", off, s.buf.Len())
	}
	if err != nil {
		r.log.Printf("camera %d: frame %d: %v", h, s.frameCount, err)
		s.callbackErr = err
		r.cond.Broadcast()
		return
	}

	if s.cfg.Mode == Continuous {
		s.pending.reset()
	}
	s.pending.push(descriptor{offset: off, seq: s.frameCount})
	s.newData = true
	r.cond.Broadcast()

	if statsDue {
		r.emit(Event{Kind: EventStats, Handle: h, Run: s.run, Mode: s.cfg.Mode, Seq: s.frameCount, FPS: s.fps})
	}
}
