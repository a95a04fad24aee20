package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.jpl.nasa.gov/bdube/pvbridge/bridge"
)

func TestDefaultConfig(t *testing.T) {
	setupconfig()
	c := config{}
	if err := k.Unmarshal("", &c); err != nil {
		t.Fatal(err)
	}
	if c.Addr != ":8000" || c.Camera != "auto" {
		t.Errorf("unexpected defaults %+v", c)
	}
	acq, err := c.Acquisition.config()
	if err != nil {
		t.Fatal(err)
	}
	exp := bridge.AcquisitionConfig{
		ROI:          bridge.ROI{S1: 0, S2: 511, SBin: 1, P1: 0, P2: 511, PBin: 1},
		ExposureTime: 10,
		Mode:         bridge.Continuous,
		Frames:       1,
	}
	if diff := cmp.Diff(exp, acq); diff != "" {
		t.Errorf("acquisition mismatch (-want +got):\n%s", diff)
	}
}

func TestAcquisitionMode(t *testing.T) {
	a := acquisition{Mode: "seq", Frames: 4}
	cfg, err := a.config()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != bridge.FiniteSequence || cfg.Frames != 4 {
		t.Errorf("expected a 4 frame sequence, got %+v", cfg)
	}
	a.Mode = "burst"
	if _, err := a.config(); err == nil {
		t.Error("expected an error for an unknown mode")
	}
}
