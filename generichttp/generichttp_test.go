package generichttp_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"

	"github.jpl.nasa.gov/bdube/pvbridge/generichttp"
	"github.jpl.nasa.gov/bdube/pvbridge/server"
)

func ExampleSubMuxSanitize() {
	fmt.Println(generichttp.SubMuxSanitize(""))
	fmt.Println(generichttp.SubMuxSanitize("cam0/"))
	fmt.Println(generichttp.SubMuxSanitize("/cam1"))
	// Output:
	// /
	// /cam0
	// /cam1
}

type gain struct {
	v int
}

var errBusy = errors.New("camera busy")

func busy(err error) int {
	if errors.Is(err, errBusy) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func newMux(g *gain) http.Handler {
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/gain"}: generichttp.GetInt(func() (int, error) {
			return g.v, nil
		}, nil),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/gain"}: generichttp.SetInt(func(i int) error {
			switch {
			case i < 0:
				return errors.New("gain must be positive")
			case i > 100:
				return errBusy
			}
			g.v = i
			return nil
		}, busy),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/name"}: generichttp.GetString(func() (string, error) {
			return "cam0", nil
		}, busy),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/cooled"}: generichttp.GetBool(func() (bool, error) {
			return false, errBusy
		}, busy),
	}
	root := chi.NewRouter()
	mux := chi.NewRouter()
	root.Mount(generichttp.SubMuxSanitize("cam/"), mux)
	rt.Bind(mux)
	return root
}

func TestIntRoundTrip(t *testing.T) {
	g := &gain{}
	srv := httptest.NewServer(newMux(g))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/cam/gain", "application/json", strings.NewReader(`{"int": 25}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/cam/gain")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	i := server.IntT{}
	if err := json.NewDecoder(resp.Body).Decode(&i); err != nil {
		t.Fatal(err)
	}
	if i.Int != 25 {
		t.Errorf("expected 25 got %d", i.Int)
	}
}

func TestSetterErrors(t *testing.T) {
	srv := httptest.NewServer(newMux(&gain{}))
	defer srv.Close()

	tests := []struct {
		body string
		code int
	}{
		{`{"int": -1}`, http.StatusInternalServerError},
		{`{"int": 101}`, http.StatusConflict},
		{`not json`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp, err := http.Post(srv.URL+"/cam/gain", "application/json", strings.NewReader(tt.body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.code {
			t.Errorf("body %q: expected %d got %d", tt.body, tt.code, resp.StatusCode)
		}
	}
}

func TestGetters(t *testing.T) {
	srv := httptest.NewServer(newMux(&gain{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/cam/name")
	if err != nil {
		t.Fatal(err)
	}
	str := server.StrT{}
	err = json.NewDecoder(resp.Body).Decode(&str)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if str.Str != "cam0" {
		t.Errorf("expected cam0 got %q", str.Str)
	}

	resp, err = http.Get(srv.URL + "/cam/cooled")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected the status func to map the getter error to 409, got %d", resp.StatusCode)
	}
}

func TestEndpoints(t *testing.T) {
	srv := httptest.NewServer(newMux(&gain{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/cam/endpoints")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got []string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	exp := []string{"GET /cooled", "GET /gain", "POST /gain", "GET /name"}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Errorf("endpoints mismatch (-want +got):\n%s", diff)
	}
}

func TestPlainTextReply(t *testing.T) {
	srv := httptest.NewServer(newMux(&gain{v: 4}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/cam/gain?fmt=txt")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "4" {
		t.Errorf("expected 4 got %q", b)
	}
}
