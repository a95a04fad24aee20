// pvgrab captures a finite sequence of frames from a PVCAM camera and saves
// it as a FITS cube.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/maruel/interrupt"
	"github.com/theckman/yacspin"

	"github.jpl.nasa.gov/bdube/pvbridge/bridge"
	"github.jpl.nasa.gov/bdube/pvbridge/imgrec"
	"github.jpl.nasa.gov/bdube/pvbridge/pvcam"
	"github.jpl.nasa.gov/bdube/pvbridge/util"
)

// parseROI parses "s1,s2,p1,p2" with one binning factor for both axes
func parseROI(s string, bin int) (bridge.ROI, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return bridge.ROI{}, fmt.Errorf("roi %q: expected s1,s2,p1,p2", s)
	}
	var v [4]uint16
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if !util.AllElementsNumbers(p) {
			return bridge.ROI{}, fmt.Errorf("roi %q: %q is not a number", s, p)
		}
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return bridge.ROI{}, fmt.Errorf("roi %q: %w", s, err)
		}
		v[i] = uint16(n)
	}
	if bin < 1 || bin > 0xFFFF {
		return bridge.ROI{}, fmt.Errorf("binning %d out of range", bin)
	}
	b := uint16(bin)
	return bridge.ROI{S1: v[0], S2: v[1], SBin: b, P1: v[2], P2: v[3], PBin: b}, nil
}

// pick returns name, or the first camera when name is empty
func pick(names []string, name string) (string, error) {
	if name != "" {
		return name, nil
	}
	if len(names) == 0 {
		return "", errors.New("no cameras found")
	}
	return names[0], nil
}

func newSpinner(w io.Writer, n int) (*yacspin.Spinner, error) {
	return yacspin.New(yacspin.Config{
		Writer:            w,
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " ",
		Message:           fmt.Sprintf("acquiring %d frames", n),
		StopCharacter:     "✓",
		StopMessage:       "done",
		StopFailCharacter: "✗",
		StopFailMessage:   "failed",
	})
}

func mainImpl() error {
	camName := flag.String("camera", "", "camera to open, default first found")
	n := flag.Int("n", 1, "number of frames to acquire")
	exp := flag.Uint("exp", 10, "exposure time in the camera's exposure resolution")
	expMode := flag.Int("expmode", 0, "SDK exposure mode, 0 for the camera default")
	roiS := flag.String("roi", "0,511,0,511", "region s1,s2,p1,p2, inclusive")
	bin := flag.Int("bin", 1, "binning in both axes")
	timeout := flag.Float64("timeout", 5, "per frame timeout, seconds")
	out := flag.String("o", "", "output FITS file; if empty, -root is used")
	root := flag.String("root", ".", "recorder root folder used when -o is empty")
	prefix := flag.String("prefix", "pvgrab_", "recorder filename prefix")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()
	if !*verbose {
		log.SetOutput(io.Discard)
	}
	log.SetFlags(log.Lmicroseconds)

	roi, err := parseROI(*roiS, *bin)
	if err != nil {
		return err
	}
	if *n < 1 {
		return errors.New("-n must be at least 1")
	}
	cfg := bridge.AcquisitionConfig{
		ROI:          roi,
		ExposureTime: uint32(*exp),
		ExposureMode: int32(*expMode),
		Mode:         bridge.FiniteSequence,
		Frames:       *n,
	}

	drv, err := pvcam.Init()
	if err != nil {
		return err
	}
	defer drv.Uninit()
	reg := bridge.New(drv, bridge.WithLogger(log.Default()))
	defer reg.Shutdown()

	names, err := reg.Names()
	if err != nil {
		return err
	}
	name, err := pick(names, *camName)
	if err != nil {
		return err
	}
	h, err := reg.Open(name)
	if err != nil {
		return err
	}

	interrupt.HandleCtrlC()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-interrupt.Channel:
			// unblock the frame wait
			reg.Abort(h)
			cancel()
		case <-ctx.Done():
		}
	}()

	spin, err := newSpinner(os.Stderr, *n)
	if err != nil {
		return err
	}
	spin.Start()
	frames, err := reg.Sequence(ctx, h, cfg, util.SecsToDuration(*timeout))
	if err != nil {
		spin.StopFail()
		if interrupt.IsSet() {
			return fmt.Errorf("interrupted after %d of %d frames", len(frames), *n)
		}
		return err
	}
	spin.Stop()

	extra := []fitsio.Card{{Name: "CAMERA", Value: name, Comment: "camera name"}}
	if *out == "" {
		rec := &imgrec.Recorder{Root: *root, Prefix: *prefix, Enabled: true}
		fn, err := rec.Save(frames, extra...)
		if err != nil {
			return err
		}
		fmt.Println(fn)
		return nil
	}
	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := imgrec.WriteFITS(f, frames, extra...); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Println(*out)
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "pvgrab: %s.\n", err)
		os.Exit(1)
	}
}
