//go:build pvcam && cgo

package pvcam

/*
#cgo linux CFLAGS: -I/opt/pvcam/sdk/include
#cgo linux LDFLAGS: -L/opt/pvcam/library/x86_64 -lpvcam
#cgo windows LDFLAGS: -lPvcam64
#include <stdint.h>
#include <stdlib.h>
#include <master.h>
#include <pvcam.h>

extern void goFrameReady(int16);

static void eofTrampoline(FRAME_INFO *info, void *ctx) {
	goFrameReady((int16)(intptr_t)ctx);
}

static rs_bool registerEOF(int16 hcam) {
	return pl_cam_register_callback_ex3(hcam, PL_CALLBACK_EOF, (void *)eofTrampoline, (void *)(intptr_t)hcam);
}
*/
import "C"
import (
	"fmt"
	"sync"
	"unsafe"

	"github.jpl.nasa.gov/bdube/pvbridge/bridge"
	"github.jpl.nasa.gov/bdube/pvbridge/param"
)

// cmem is a block of C memory, which PVCAM may write into from its own threads
type cmem struct {
	ptr unsafe.Pointer
	b   []byte
}

func (m *cmem) Bytes() []byte {
	return m.b
}

func (m *cmem) Free() {
	C.free(m.ptr)
}

type library struct {
	mu    sync.Mutex
	bases map[bridge.Handle]*cmem
}

// lastError builds an *Error from the library's most recent error code
func lastError() error {
	code := C.pl_error_code()
	var msg [C.ERROR_MSG_LEN]C.char
	C.pl_error_message(code, &msg[0])
	return &Error{Code: int(code), Message: C.GoString(&msg[0])}
}

func ok(b C.rs_bool, call string) error {
	if b == C.PV_OK {
		return nil
	}
	return enrich(lastError(), call)
}

// Init initializes the PVCAM library
func Init() (Driver, error) {
	if err := ok(C.pl_pvcam_init(), "pl_pvcam_init"); err != nil {
		return nil, err
	}
	return &library{bases: make(map[bridge.Handle]*cmem)}, nil
}

func (l *library) Uninit() error {
	return ok(C.pl_pvcam_uninit(), "pl_pvcam_uninit")
}

func (l *library) Version() (uint16, error) {
	var v C.uns16
	err := ok(C.pl_pvcam_get_ver(&v), "pl_pvcam_get_ver")
	return uint16(v), err
}

func (l *library) CameraCount() (int, error) {
	var n C.int16
	err := ok(C.pl_cam_get_total(&n), "pl_cam_get_total")
	return int(n), err
}

func (l *library) CameraName(idx int) (string, error) {
	var name [C.CAM_NAME_LEN]C.char
	if err := ok(C.pl_cam_get_name(C.int16(idx), &name[0]), "pl_cam_get_name"); err != nil {
		return "", err
	}
	return C.GoString(&name[0]), nil
}

func (l *library) Open(name string) (bridge.Handle, error) {
	cs := C.CString(name)
	defer C.free(unsafe.Pointer(cs))
	var h C.int16
	err := ok(C.pl_cam_open(cs, &h, C.OPEN_EXCLUSIVE), "pl_cam_open")
	return bridge.Handle(h), err
}

func (l *library) Close(h bridge.Handle) error {
	unregister(h)
	l.mu.Lock()
	delete(l.bases, h)
	l.mu.Unlock()
	return ok(C.pl_cam_close(C.int16(h)), "pl_cam_close")
}

func region(roi bridge.ROI) C.rgn_type {
	return C.rgn_type{
		s1:   C.uns16(roi.S1),
		s2:   C.uns16(roi.S2),
		sbin: C.uns16(roi.SBin),
		p1:   C.uns16(roi.P1),
		p2:   C.uns16(roi.P2),
		pbin: C.uns16(roi.PBin),
	}
}

func (l *library) SetupContinuous(h bridge.Handle, roi bridge.ROI, expMode int32, expTime uint32, ringFrames int) (int, error) {
	rgn := region(roi)
	var frameBytes C.uns32
	err := ok(C.pl_exp_setup_cont(C.int16(h), 1, &rgn, C.int16(expMode), C.uns32(expTime), &frameBytes, C.CIRC_OVERWRITE), "pl_exp_setup_cont")
	return int(frameBytes), err
}

func (l *library) SetupSequence(h bridge.Handle, frames int, roi bridge.ROI, expMode int32, expTime uint32) (int, error) {
	rgn := region(roi)
	var total C.uns32
	err := ok(C.pl_exp_setup_seq(C.int16(h), C.uns16(frames), 1, &rgn, C.int16(expMode), C.uns32(expTime), &total), "pl_exp_setup_seq")
	return int(total), err
}

func (l *library) Alloc(n int) (bridge.Memory, error) {
	p := C.calloc(1, C.size_t(n))
	if p == nil {
		return nil, fmt.Errorf("pvcam: unable to allocate %d byte frame buffer", n)
	}
	return &cmem{ptr: p, b: unsafe.Slice((*byte)(p), n)}, nil
}

func (l *library) memOf(h bridge.Handle, buf *bridge.Buffer) (*cmem, error) {
	m, isC := buf.Memory().(*cmem)
	if !isC {
		return nil, fmt.Errorf("pvcam: camera %d: frame buffer was not allocated by this library", h)
	}
	return m, nil
}

func (l *library) StartContinuous(h bridge.Handle, buf *bridge.Buffer, ringFrames int) error {
	m, err := l.memOf(h, buf)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.bases[h] = m
	l.mu.Unlock()
	return ok(C.pl_exp_start_cont(C.int16(h), m.ptr, C.uns32(len(m.b))), "pl_exp_start_cont")
}

func (l *library) StartSequence(h bridge.Handle, buf *bridge.Buffer) error {
	m, err := l.memOf(h, buf)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.bases[h] = m
	l.mu.Unlock()
	return ok(C.pl_exp_start_seq(C.int16(h), m.ptr), "pl_exp_start_seq")
}

func (l *library) RegisterFrameCallback(h bridge.Handle, fn func(bridge.Handle)) error {
	register(h, fn)
	if err := ok(C.registerEOF(C.int16(h)), "pl_cam_register_callback_ex3"); err != nil {
		unregister(h)
		return err
	}
	return nil
}

func (l *library) DeregisterFrameCallback(h bridge.Handle) error {
	defer unregister(h)
	return ok(C.pl_cam_deregister_callback(C.int16(h), C.PL_CALLBACK_EOF), "pl_cam_deregister_callback")
}

func (l *library) CheckStatus(h bridge.Handle) (bridge.Status, error) {
	var (
		status  C.int16
		arrived C.uns32
	)
	err := ok(C.pl_exp_check_status(C.int16(h), &status, &arrived), "pl_exp_check_status")
	return bridge.Status(status), err
}

func (l *library) CheckContinuousStatus(h bridge.Handle) (bridge.Status, error) {
	var (
		status  C.int16
		arrived C.uns32
		count   C.uns32
	)
	err := ok(C.pl_exp_check_cont_status(C.int16(h), &status, &arrived, &count), "pl_exp_check_cont_status")
	return bridge.Status(status), err
}

func (l *library) LatestFrame(h bridge.Handle) (int, error) {
	var p unsafe.Pointer
	if err := ok(C.pl_exp_get_latest_frame(C.int16(h), &p), "pl_exp_get_latest_frame"); err != nil {
		return 0, err
	}
	l.mu.Lock()
	m := l.bases[h]
	l.mu.Unlock()
	if m == nil {
		return 0, ErrNoBuffer
	}
	return offsetOf(uintptr(m.ptr), uintptr(p), len(m.b))
}

func (l *library) forget(h bridge.Handle) {
	l.mu.Lock()
	delete(l.bases, h)
	l.mu.Unlock()
}

func (l *library) StopContinuous(h bridge.Handle) error {
	defer l.forget(h)
	return ok(C.pl_exp_stop_cont(C.int16(h), C.CCS_CLEAR), "pl_exp_stop_cont")
}

func (l *library) FinishSequence(h bridge.Handle, buf *bridge.Buffer) error {
	defer l.forget(h)
	m, err := l.memOf(h, buf)
	if err != nil {
		return err
	}
	return ok(C.pl_exp_finish_seq(C.int16(h), m.ptr, 0), "pl_exp_finish_seq")
}

func (l *library) Abort(h bridge.Handle) error {
	return ok(C.pl_exp_abort(C.int16(h), C.CCS_HALT), "pl_exp_abort")
}

func (l *library) MetadataEnabled(h bridge.Handle) (bool, error) {
	id := param.ID(C.PARAM_METADATA_ENABLED)
	avail, err := l.ParamAvailable(h, id)
	if err != nil || !avail {
		return false, err
	}
	v, err := l.GetParam(h, id, param.AttrCurrent)
	return v.Bool, err
}

// rawParam reads size bytes of a parameter attribute
func (l *library) rawParam(h bridge.Handle, id param.ID, attr param.Attr, size int) ([]byte, error) {
	// rs_bool is two bytes though TYPE_BOOLEAN decodes from one; pad generously
	n := size + 8
	p := C.calloc(1, C.size_t(n))
	if p == nil {
		return nil, fmt.Errorf("pvcam: unable to allocate %d bytes for parameter %d", n, id)
	}
	defer C.free(p)
	if err := ok(C.pl_get_param(C.int16(h), C.uns32(id), C.int16(attr), p), "pl_get_param"); err != nil {
		return nil, err
	}
	return C.GoBytes(p, C.int(n)), nil
}

func (l *library) ParamAvailable(h bridge.Handle, id param.ID) (bool, error) {
	raw, err := l.rawParam(h, id, param.AttrAvail, 2)
	if err != nil {
		return false, err
	}
	v, err := param.Decode(param.TypeUns16, raw)
	return v.Uint != 0, err
}

func (l *library) GetParam(h bridge.Handle, id param.ID, attr param.Attr) (param.Value, error) {
	var typ param.Type
	switch attr {
	case param.AttrAvail:
		ok, err := l.ParamAvailable(h, id)
		return param.Value{Type: param.TypeBoolean, Bool: ok}, err
	case param.AttrType, param.AttrAccess:
		typ = param.TypeUns16
	case param.AttrCount:
		typ = param.TypeUns32
	default:
		tv, err := l.GetParam(h, id, param.AttrType)
		if err != nil {
			return param.Value{}, err
		}
		typ = param.Type(tv.Uint)
	}
	size := typ.Size()
	if typ == param.TypeCharPtr {
		cv, err := l.GetParam(h, id, param.AttrCount)
		if err != nil {
			return param.Value{}, err
		}
		size = int(cv.Uint) + 1
	}
	raw, err := l.rawParam(h, id, attr, size)
	if err != nil {
		return param.Value{}, err
	}
	return param.Decode(typ, raw)
}

func (l *library) SetParam(h bridge.Handle, id param.ID, v param.Value) error {
	b, err := param.Encode(v)
	if err != nil {
		return err
	}
	n := len(b) + 8
	p := C.calloc(1, C.size_t(n))
	if p == nil {
		return fmt.Errorf("pvcam: unable to allocate %d bytes for parameter %d", n, id)
	}
	defer C.free(p)
	copy(unsafe.Slice((*byte)(p), n), b)
	return ok(C.pl_set_param(C.int16(h), C.uns32(id), p), "pl_set_param")
}

func (l *library) EnumEntries(h bridge.Handle, id param.ID) (map[string]int32, error) {
	cv, err := l.GetParam(h, id, param.AttrCount)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int32, cv.Uint)
	for i := C.uns32(0); i < C.uns32(cv.Uint); i++ {
		var strlen C.uns32
		if err := ok(C.pl_enum_str_length(C.int16(h), C.uns32(id), i, &strlen), "pl_enum_str_length"); err != nil {
			return nil, err
		}
		desc := (*C.char)(C.calloc(1, C.size_t(strlen)+1))
		var val C.int32
		err := ok(C.pl_get_enum_param(C.int16(h), C.uns32(id), i, &val, desc, strlen), "pl_get_enum_param")
		name := C.GoString(desc)
		C.free(unsafe.Pointer(desc))
		if err != nil {
			return nil, err
		}
		out[name] = int32(val)
	}
	return out, nil
}

func (l *library) FirmwareVersion(h bridge.Handle) (uint16, error) {
	v, err := l.GetParam(h, param.ID(C.PARAM_CAM_FW_VERSION), param.AttrCurrent)
	return uint16(v.Uint), err
}

func (l *library) Trigger(h bridge.Handle) error {
	var flags C.uns32
	if err := ok(C.pl_exp_trigger(C.int16(h), &flags, 0), "pl_exp_trigger"); err != nil {
		return err
	}
	if flags != C.PL_SW_TRIG_STATUS_TRIGGERED {
		return ErrTriggerNotAccepted
	}
	return nil
}

func (l *library) SetupExposureModes(h bridge.Handle, expMode int32) error {
	rgn := C.rgn_type{s1: 0, s2: 0, sbin: 1, p1: 0, p2: 0, pbin: 1}
	var n C.uns32
	if err := ok(C.pl_exp_setup_seq(C.int16(h), 1, 1, &rgn, C.int16(expMode), 0, &n), "pl_exp_setup_seq"); err != nil {
		return err
	}
	return ok(C.pl_exp_abort(C.int16(h), C.CCS_HALT), "pl_exp_abort")
}

func (l *library) ResetPostProcessing(h bridge.Handle) error {
	return ok(C.pl_pp_reset(C.int16(h)), "pl_pp_reset")
}
