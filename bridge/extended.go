package bridge

import (
	"github.jpl.nasa.gov/bdube/pvbridge/param"
)

func (r *Registry) extended(op string, h Handle) (Extended, error) {
	x, ok := r.sdk.(Extended)
	if !ok {
		return nil, newErr(KindNotSupported, op, h, nil)
	}
	if h < 0 {
		return x, nil
	}
	r.mu.Lock()
	_, open := r.sessions[h]
	r.mu.Unlock()
	if !open {
		return nil, newErr(KindSessionNotFound, op, h, nil)
	}
	return x, nil
}

// Status reports the readout status of the camera.  Continuous acquisitions
// are queried with the continuous status call; a camera that is not
// acquiring reports ReadoutNotActive.
func (r *Registry) Status(h Handle) (Status, Mode, error) {
	const op = "status"
	r.mu.Lock()
	s, ok := r.sessions[h]
	if !ok {
		r.mu.Unlock()
		return ReadoutNotActive, Continuous, newErr(KindSessionNotFound, op, h, nil)
	}
	running, mode := s.state == Running, s.cfg.Mode
	r.mu.Unlock()
	if !running {
		return ReadoutNotActive, mode, nil
	}
	var (
		st  Status
		err error
	)
	if mode == Continuous {
		st, err = r.sdk.CheckContinuousStatus(h)
	} else {
		st, err = r.sdk.CheckStatus(h)
	}
	if err != nil {
		return st, mode, newErr(KindHardware, op, h, err)
	}
	return st, mode, nil
}

// SoftwareTrigger triggers an exposure of a running acquisition whose
// exposure mode is software triggered
func (r *Registry) SoftwareTrigger(h Handle) error {
	const op = "trigger"
	x, err := r.extended(op, h)
	if err != nil {
		return err
	}
	if err := x.Trigger(h); err != nil {
		return newErr(KindHardware, op, h, err)
	}
	return nil
}

// SetExposureModes programs the camera's exposure and expose-out modes
// without starting an acquisition.  The camera must not be acquiring.
// Programming the modes replaces the SDK's acquisition setup, so a
// configured session is returned to Idle and must be configured again.
func (r *Registry) SetExposureModes(h Handle, expMode int32) error {
	const op = "set exposure modes"
	x, err := r.extended(op, h)
	if err != nil {
		return err
	}
	s, done, err := r.control(op, h)
	if err != nil {
		return err
	}
	defer done()
	r.mu.Lock()
	running := s.state == Running
	r.mu.Unlock()
	if running {
		return newErr(KindInvalidState, op, h, nil)
	}
	err = x.SetupExposureModes(h, expMode)
	r.mu.Lock()
	if s.state == Configured {
		r.dropBuffer(s)
		s.state = Idle
	}
	r.mu.Unlock()
	if err != nil {
		return newErr(KindConfiguration, op, h, err)
	}
	return nil
}

// ResetPostProcessing resets every post-processing feature to its default
func (r *Registry) ResetPostProcessing(h Handle) error {
	const op = "reset post processing"
	x, err := r.extended(op, h)
	if err != nil {
		return err
	}
	if err := x.ResetPostProcessing(h); err != nil {
		return newErr(KindHardware, op, h, err)
	}
	return nil
}

// Param reads an attribute of a parameter
func (r *Registry) Param(h Handle, id param.ID, attr param.Attr) (param.Value, error) {
	const op = "get param"
	x, err := r.extended(op, h)
	if err != nil {
		return param.Value{}, err
	}
	avail, err := x.ParamAvailable(h, id)
	if err != nil {
		return param.Value{}, newErr(KindHardware, op, h, err)
	}
	if !avail {
		return param.Value{}, newErr(KindConfiguration, op, h, param.ErrUnavailable)
	}
	v, err := x.GetParam(h, id, attr)
	if err != nil {
		return v, newErr(KindHardware, op, h, err)
	}
	return v, nil
}

// SetParam sets the current value of a parameter.  v is converted to the
// parameter's storage type, as reported by the SDK.
func (r *Registry) SetParam(h Handle, id param.ID, v interface{}) error {
	const op = "set param"
	x, err := r.extended(op, h)
	if err != nil {
		return err
	}
	avail, err := x.ParamAvailable(h, id)
	if err != nil {
		return newErr(KindHardware, op, h, err)
	}
	if !avail {
		return newErr(KindConfiguration, op, h, param.ErrUnavailable)
	}
	tv, err := x.GetParam(h, id, param.AttrType)
	if err != nil {
		return newErr(KindHardware, op, h, err)
	}
	pv, ok := v.(param.Value)
	if !ok {
		pv, err = param.FromInterface(param.Type(tv.Int64()), v)
		if err != nil {
			return newErr(KindConfiguration, op, h, err)
		}
	}
	if err := x.SetParam(h, id, pv); err != nil {
		return newErr(KindConfiguration, op, h, err)
	}
	return nil
}

// ParamAvailable reports whether the camera supports a parameter
func (r *Registry) ParamAvailable(h Handle, id param.ID) (bool, error) {
	const op = "check param"
	x, err := r.extended(op, h)
	if err != nil {
		return false, err
	}
	ok, err := x.ParamAvailable(h, id)
	if err != nil {
		return false, newErr(KindHardware, op, h, err)
	}
	return ok, nil
}

// ReadEnum returns the name to value mapping of an enumerated parameter
func (r *Registry) ReadEnum(h Handle, id param.ID) (map[string]int32, error) {
	const op = "read enum"
	x, err := r.extended(op, h)
	if err != nil {
		return nil, err
	}
	avail, err := x.ParamAvailable(h, id)
	if err != nil {
		return nil, newErr(KindHardware, op, h, err)
	}
	if !avail {
		return nil, newErr(KindConfiguration, op, h, param.ErrUnavailable)
	}
	m, err := x.EnumEntries(h, id)
	if err != nil {
		return nil, newErr(KindHardware, op, h, err)
	}
	return m, nil
}

// Version returns the SDK library version as M.m.t
func (r *Registry) Version() (string, error) {
	x, err := r.extended("version", -1)
	if err != nil {
		return "", err
	}
	v, err := x.Version()
	if err != nil {
		return "", newErr(KindHardware, "version", -1, err)
	}
	return param.FormatVersion(v), nil
}

// FirmwareVersion returns the camera firmware version as M.m
func (r *Registry) FirmwareVersion(h Handle) (string, error) {
	const op = "firmware version"
	x, err := r.extended(op, h)
	if err != nil {
		return "", err
	}
	v, err := x.FirmwareVersion(h)
	if err != nil {
		return "", newErr(KindHardware, op, h, err)
	}
	return param.FormatFirmware(v), nil
}
