package camera_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"

	"github.jpl.nasa.gov/bdube/pvbridge/bridge"
	"github.jpl.nasa.gov/bdube/pvbridge/generichttp/camera"
	"github.jpl.nasa.gov/bdube/pvbridge/imgrec"
	"github.jpl.nasa.gov/bdube/pvbridge/param"
)

var roi = bridge.ROI{S1: 0, S2: 3, SBin: 1, P1: 0, P2: 2, PBin: 1}

type rig struct {
	fake *fakeCam
	reg  *bridge.Registry
	cam  *camera.HTTPCamera
	srv  *httptest.Server
	rec  *imgrec.Recorder
	stop chan struct{}
}

func newRig(t *testing.T) *rig {
	t.Helper()
	fake := newFakeCam(4 * 3 * 2)
	reg := bridge.New(fake,
		bridge.WithPollInterval(5*time.Millisecond),
		bridge.WithLogger(log.New(io.Discard, "", 0)))
	h, err := reg.Open("fake")
	if err != nil {
		t.Fatal(err)
	}
	rec := &imgrec.Recorder{Root: t.TempDir(), Prefix: "img"}
	cam := camera.NewHTTPCamera(reg, h, rec)
	cam.Defaults = bridge.AcquisitionConfig{ROI: roi, ExposureTime: 10}
	cam.Timeout = time.Second
	mux := chi.NewRouter()
	cam.RT().Bind(mux)
	rg := &rig{fake: fake, reg: reg, cam: cam, srv: httptest.NewServer(mux), rec: rec, stop: make(chan struct{})}
	t.Cleanup(func() {
		close(rg.stop)
		rg.srv.Close()
		reg.Shutdown()
	})
	return rg
}

// stream fires continuous frames until the test ends
func (rg *rig) stream() {
	go func() {
		tick := time.NewTicker(5 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-rg.stop:
				return
			case <-tick.C:
				rg.fake.fire(rg.cam.H)
			}
		}
	}()
}

func (rg *rig) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, rg.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func expectCode(t *testing.T, resp *http.Response, code int) {
	t.Helper()
	if resp.StatusCode != code {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: expected %d got %d: %s", resp.Request.Method, resp.Request.URL.Path, code, resp.StatusCode, b)
	}
}

func TestIdleFrameTakesSinglePicture(t *testing.T) {
	rg := newRig(t)
	resp := rg.do(t, http.MethodGet, "/frame?fmt=raw", "")
	expectCode(t, resp, http.StatusOK)
	b, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(b, bytes.Repeat([]byte{0x80}, 24)) {
		t.Errorf("unexpected payload % x", b)
	}
	if w := resp.Header.Get("X-Frame-Width"); w != "4" {
		t.Errorf("expected width 4 got %s", w)
	}
	st, err := rg.reg.Stats(rg.cam.H)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != bridge.Idle {
		t.Errorf("expected the single picture to leave the session idle, got %s", st.State)
	}
}

func TestFramePNG(t *testing.T) {
	rg := newRig(t)
	resp := rg.do(t, http.MethodGet, "/frame", "")
	expectCode(t, resp, http.StatusOK)
	im, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	b := im.Bounds()
	if b.Dx() != 4 || b.Dy() != 3 {
		t.Fatalf("expected 4x3 got %dx%d", b.Dx(), b.Dy())
	}
	r, _, _, _ := im.At(1, 1).RGBA()
	if r != 0x8080 {
		t.Errorf("expected pixel 0x8080 got %#x", r)
	}
}

func TestFrameFITSIsRecorded(t *testing.T) {
	rg := newRig(t)
	rg.rec.Enabled = true
	resp := rg.do(t, http.MethodGet, "/frame?fmt=fits", "")
	expectCode(t, resp, http.StatusOK)
	b, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(b, []byte("SIMPLE")) {
		t.Fatal("reply is not a FITS file")
	}
	matches, _ := filepath.Glob(filepath.Join(rg.rec.Root, "*", "img*.fits"))
	if len(matches) != 1 {
		t.Fatalf("expected one recorded file, got %v", matches)
	}
	disk, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(disk, b) {
		t.Error("recorded file differs from the reply")
	}
}

func TestUnknownFormat(t *testing.T) {
	rg := newRig(t)
	expectCode(t, rg.do(t, http.MethodGet, "/frame?fmt=tiff", ""), http.StatusBadRequest)
	expectCode(t, rg.do(t, http.MethodGet, "/frame?timeout=soon", ""), http.StatusBadRequest)
}

func TestContinuousOverHTTP(t *testing.T) {
	rg := newRig(t)
	cfg := `{"roi": {"s1": 0, "s2": 3, "sbin": 1, "p1": 0, "p2": 2, "pbin": 1}, "exposureTime": 5, "mode": "continuous"}`
	resp := rg.do(t, http.MethodPost, "/configure", cfg)
	expectCode(t, resp, http.StatusOK)
	var fb struct {
		FrameBytes int `json:"frameBytes"`
	}
	json.NewDecoder(resp.Body).Decode(&fb)
	if fb.FrameBytes != 24 {
		t.Errorf("expected 24 byte frames got %d", fb.FrameBytes)
	}
	expectCode(t, rg.do(t, http.MethodPost, "/start", ""), http.StatusOK)
	expectCode(t, rg.do(t, http.MethodPost, "/start", ""), http.StatusConflict)

	// nothing fired yet
	expectCode(t, rg.do(t, http.MethodGet, "/frame?fmt=raw&timeout=30ms", ""), http.StatusGatewayTimeout)

	rg.stream()
	expectCode(t, rg.do(t, http.MethodGet, "/frame?fmt=raw&timeout=1", ""), http.StatusOK)

	resp = rg.do(t, http.MethodGet, "/status", "")
	expectCode(t, resp, http.StatusOK)
	got := map[string]string{}
	json.NewDecoder(resp.Body).Decode(&got)
	exp := map[string]string{"state": "running", "mode": "continuous", "status": "EXPOSURE_IN_PROGRESS"}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}

	expectCode(t, rg.do(t, http.MethodPost, "/trigger", ""), http.StatusOK)
	expectCode(t, rg.do(t, http.MethodPost, "/stop", ""), http.StatusOK)
	resp = rg.do(t, http.MethodGet, "/stats", "")
	expectCode(t, resp, http.StatusOK)
	var st struct {
		State      string `json:"state"`
		FrameCount uint64 `json:"frameCount"`
	}
	json.NewDecoder(resp.Body).Decode(&st)
	if st.State != "idle" || st.FrameCount == 0 {
		t.Errorf("expected an idle session with frames counted, got %+v", st)
	}
}

func TestLive(t *testing.T) {
	rg := newRig(t)
	rg.cam.LiveRate = 100
	expectCode(t, rg.do(t, http.MethodGet, "/live", ""), http.StatusConflict)

	cfg := bridge.AcquisitionConfig{ROI: roi, Mode: bridge.Continuous}
	if _, err := rg.reg.Configure(rg.cam.H, cfg); err != nil {
		t.Fatal(err)
	}
	if err := rg.reg.Start(rg.cam.H); err != nil {
		t.Fatal(err)
	}
	rg.stream()

	resp := rg.do(t, http.MethodGet, "/live", "")
	expectCode(t, resp, http.StatusOK)
	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		t.Fatal(err)
	}
	mr := multipart.NewReader(resp.Body, params["boundary"])
	for i := 0; i < 2; i++ {
		part, err := mr.NextPart()
		if err != nil {
			t.Fatal(err)
		}
		if ct := part.Header.Get("Content-Type"); ct != "image/png" {
			t.Errorf("expected image/png got %s", ct)
		}
		if _, err := png.Decode(part); err != nil {
			t.Fatal(err)
		}
	}
}

func TestParams(t *testing.T) {
	rg := newRig(t)
	rg.fake.params[42] = param.Value{Type: param.TypeUns16, Uint: 7}
	rg.fake.enums[43] = map[string]int32{"Normal": 0, "Fast": 1}

	resp := rg.do(t, http.MethodGet, "/param/42", "")
	expectCode(t, resp, http.StatusOK)
	var pr struct {
		Value float64 `json:"value"`
	}
	json.NewDecoder(resp.Body).Decode(&pr)
	if pr.Value != 7 {
		t.Errorf("expected 7 got %v", pr.Value)
	}

	expectCode(t, rg.do(t, http.MethodPost, "/param/42", `{"value": 9}`), http.StatusOK)
	if v := rg.fake.params[42]; v.Uint != 9 {
		t.Errorf("expected parameter to be set to 9, got %d", v.Uint)
	}
	expectCode(t, rg.do(t, http.MethodGet, "/param/0x2a?attr=type", ""), http.StatusOK)
	expectCode(t, rg.do(t, http.MethodGet, "/param/42?attr=color", ""), http.StatusBadRequest)
	expectCode(t, rg.do(t, http.MethodGet, "/param/abc", ""), http.StatusBadRequest)
	expectCode(t, rg.do(t, http.MethodGet, "/param/99", ""), http.StatusBadRequest)

	resp = rg.do(t, http.MethodGet, "/enum/43", "")
	expectCode(t, resp, http.StatusOK)
	got := map[string]int32{}
	json.NewDecoder(resp.Body).Decode(&got)
	if diff := cmp.Diff(rg.fake.enums[43], got); diff != "" {
		t.Errorf("enum mismatch (-want +got):\n%s", diff)
	}
}

func TestVersion(t *testing.T) {
	rg := newRig(t)
	resp := rg.do(t, http.MethodGet, "/version", "")
	expectCode(t, resp, http.StatusOK)
	got := map[string]string{}
	json.NewDecoder(resp.Body).Decode(&got)
	exp := map[string]string{"library": "3.1.2", "firmware": "1.5"}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Errorf("version mismatch (-want +got):\n%s", diff)
	}
}

func TestRecorderRoutesInjected(t *testing.T) {
	rg := newRig(t)
	resp := rg.do(t, http.MethodGet, "/autowrite/prefix", "")
	expectCode(t, resp, http.StatusOK)
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), `"img"`) {
		t.Errorf("expected prefix img, got %s", b)
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{bridge.ErrConfiguration, http.StatusBadRequest},
		{bridge.ErrSessionNotFound, http.StatusNotFound},
		{bridge.ErrInvalidState, http.StatusConflict},
		{bridge.ErrTimeout, http.StatusGatewayTimeout},
		{bridge.ErrNotSupported, http.StatusNotImplemented},
		{bridge.ErrHardware, http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			if code := camera.StatusCode(tt.err); code != tt.code {
				t.Errorf("expected %d got %d", tt.code, code)
			}
		})
	}
}

func TestConfiguredFrameUsesConfiguration(t *testing.T) {
	rg := newRig(t)
	cfg := `{"roi": {"s1": 0, "s2": 3, "sbin": 1, "p1": 0, "p2": 2, "pbin": 1}, "exposureTime": 77, "mode": "continuous"}`
	expectCode(t, rg.do(t, http.MethodPost, "/configure", cfg), http.StatusOK)
	expectCode(t, rg.do(t, http.MethodGet, "/frame?fmt=raw", ""), http.StatusOK)
	rg.fake.mu.Lock()
	exp := rg.fake.exposure
	rg.fake.mu.Unlock()
	if exp != 77 {
		t.Errorf("expected the configured exposure 77, camera was set up with %d", exp)
	}
}

func TestExposureModes(t *testing.T) {
	rg := newRig(t)
	expectCode(t, rg.do(t, http.MethodPost, "/exp-modes", `{"int": 2048}`), http.StatusOK)
	rg.fake.mu.Lock()
	got := rg.fake.expModes
	rg.fake.mu.Unlock()
	if got != 2048 {
		t.Errorf("expected exposure modes 2048, got %d", got)
	}
	expectCode(t, rg.do(t, http.MethodPost, "/exp-modes", `nope`), http.StatusBadRequest)

	expectCode(t, rg.do(t, http.MethodPost, "/configure", `{"roi": {"s1": 0, "s2": 3, "sbin": 1, "p1": 0, "p2": 2, "pbin": 1}, "mode": "continuous"}`), http.StatusOK)
	expectCode(t, rg.do(t, http.MethodPost, "/start", ""), http.StatusOK)
	expectCode(t, rg.do(t, http.MethodPost, "/exp-modes", `{"int": 0}`), http.StatusConflict)
}

func TestSessionGetters(t *testing.T) {
	rg := newRig(t)
	tests := []struct {
		path string
		body string
	}{
		{"/metadata?fmt=txt", "false"},
		{"/pending?fmt=txt", "0"},
		{"/version/library?fmt=txt", "3.1.2"},
		{"/version/firmware?fmt=txt", "1.5"},
	}
	for _, tt := range tests {
		resp := rg.do(t, http.MethodGet, tt.path, "")
		expectCode(t, resp, http.StatusOK)
		b, _ := io.ReadAll(resp.Body)
		if string(b) != tt.body {
			t.Errorf("%s: expected %q got %q", tt.path, tt.body, b)
		}
	}
}
