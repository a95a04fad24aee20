package bridge

import (
	"context"
	"time"
)

// SingleFrame acquires one frame with a one-frame sequence.  The returned
// frame is a copy and need not be released.
func (r *Registry) SingleFrame(ctx context.Context, h Handle, cfg AcquisitionConfig, timeout time.Duration) (*Frame, error) {
	cfg.Mode, cfg.Frames = FiniteSequence, 1
	frames, err := r.Sequence(ctx, h, cfg, timeout)
	if err != nil {
		return nil, err
	}
	return frames[0], nil
}

// Sequence acquires cfg.Frames frames as a finite sequence and finishes it.
// timeout bounds the wait for each frame.  The returned frames are copies.
// On error the acquisition is aborted.
func (r *Registry) Sequence(ctx context.Context, h Handle, cfg AcquisitionConfig, timeout time.Duration) ([]*Frame, error) {
	cfg.Mode = FiniteSequence
	if _, err := r.Configure(h, cfg); err != nil {
		return nil, err
	}
	if err := r.Start(h); err != nil {
		return nil, err
	}
	out := make([]*Frame, 0, cfg.Frames)
	for len(out) < cfg.Frames {
		f, err := r.GetFrame(ctx, h, timeout)
		if err != nil {
			if aerr := r.Abort(h); aerr != nil {
				r.log.Printf("camera %d: abort after failed sequence: %v", h, aerr)
			}
			return out, err
		}
		out = append(out, f.Copy())
		f.Release()
	}
	return out, r.Finish(h)
}
