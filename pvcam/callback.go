//go:build pvcam && cgo

package pvcam

/*
#include <master.h>
#include <pvcam.h>
*/
import "C"
import (
	"log"
	"sync"

	"github.jpl.nasa.gov/bdube/pvbridge/bridge"
)

var (
	cbMu sync.Mutex
	cbs  = make(map[bridge.Handle]func(bridge.Handle))
)

func register(h bridge.Handle, fn func(bridge.Handle)) {
	cbMu.Lock()
	defer cbMu.Unlock()
	cbs[h] = fn
}

func unregister(h bridge.Handle) {
	cbMu.Lock()
	defer cbMu.Unlock()
	delete(cbs, h)
}

func lookup(h bridge.Handle) func(bridge.Handle) {
	cbMu.Lock()
	defer cbMu.Unlock()
	return cbs[h]
}

// goFrameReady is called by PVCAM's EOF callback thread through the
// trampoline in pvcam_cgo.go, with the camera handle as context
//
//export goFrameReady
func goFrameReady(hcam C.int16) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("pvcam: EOF callback for camera %d panicked: %v", int16(hcam), p)
		}
	}()
	h := bridge.Handle(hcam)
	if fn := lookup(h); fn != nil {
		fn(h)
	}
}
