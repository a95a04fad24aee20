// Package camera provides an HTTP interface to one camera session of a bridge.Registry
package camera

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"golang.org/x/time/rate"

	"github.jpl.nasa.gov/bdube/pvbridge/bridge"
	"github.jpl.nasa.gov/bdube/pvbridge/generichttp"
	"github.jpl.nasa.gov/bdube/pvbridge/imgrec"
	"github.jpl.nasa.gov/bdube/pvbridge/param"
	"github.jpl.nasa.gov/bdube/pvbridge/server"
)

// DefaultTimeout is how long GET /frame waits when the request does not say
const DefaultTimeout = 5 * time.Second

// HTTPCamera wraps a camera session in a route table
type HTTPCamera struct {
	// Reg holds the session
	Reg *bridge.Registry

	// H is the session's handle
	H bridge.Handle

	// Rec, if active, receives a copy of every FITS frame served
	Rec *imgrec.Recorder

	// Defaults is the acquisition used when POST /configure has no body
	// and when GET /frame must take a picture itself
	Defaults bridge.AcquisitionConfig

	// Timeout bounds frame waits that do not carry a timeout query parameter
	Timeout time.Duration

	// LiveRate limits the frame rate of GET /live
	LiveRate rate.Limit

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPCamera returns a new HTTP wrapper around the session h of reg.
// The recorder may be nil.
func NewHTTPCamera(reg *bridge.Registry, h bridge.Handle, rec *imgrec.Recorder) *HTTPCamera {
	c := &HTTPCamera{
		Reg:      reg,
		H:        h,
		Rec:      rec,
		Timeout:  DefaultTimeout,
		LiveRate: rate.Limit(10),
	}
	c.RouteTable = generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}:           c.GetStatus,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/stats"}:            c.GetStats,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/configure"}:       c.Configure,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/start"}:           c.control(reg.Start),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/stop"}:            c.control(reg.Stop),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/finish"}:          c.control(reg.Finish),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/abort"}:           c.control(reg.Abort),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/trigger"}:         c.control(reg.SoftwareTrigger),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/pp-reset"}:        c.control(reg.ResetPostProcessing),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/exp-modes"}:       generichttp.SetInt(c.setExposureModes, StatusCode),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/metadata"}:         generichttp.GetBool(c.metadataEnabled, StatusCode),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/pending"}:          generichttp.GetInt(c.pending, StatusCode),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/frame"}:            c.GetFrame,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/live"}:             c.Live,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/param/{id}"}:       c.GetParam,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/param/{id}"}:      c.SetParam,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/enum/{id}"}:        c.GetEnum,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/version"}:          c.GetVersion,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/version/library"}:  generichttp.GetString(reg.Version, StatusCode),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/version/firmware"}: generichttp.GetString(c.firmware, StatusCode),
	}
	if rec != nil {
		imgrec.NewHTTPWrapper(rec).Inject(c)
	}
	return c
}

// RT satisfies the generichttp.HTTPer interface
func (c *HTTPCamera) RT() generichttp.RouteTable {
	return c.RouteTable
}

// StatusCode maps a bridge error to the HTTP status reported to clients
func StatusCode(err error) int {
	switch bridge.KindOf(err) {
	case bridge.KindConfiguration, bridge.KindMetadata:
		return http.StatusBadRequest
	case bridge.KindSessionNotFound:
		return http.StatusNotFound
	case bridge.KindInvalidState, bridge.KindAborted:
		return http.StatusConflict
	case bridge.KindTimeout:
		return http.StatusGatewayTimeout
	case bridge.KindNotSupported:
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func replyErr(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), StatusCode(err))
}

func (c *HTTPCamera) control(fcn func(bridge.Handle) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fcn(c.H); err != nil {
			replyErr(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Status is the reply to GET /status
type Status struct {
	State  bridge.State `json:"state"`
	Mode   bridge.Mode  `json:"mode"`
	Status string       `json:"status"`
}

// GetStatus replies with the session state and the SDK's view of the acquisition
func (c *HTTPCamera) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := c.Reg.Stats(c.H)
	if err != nil {
		replyErr(w, err)
		return
	}
	status, mode, err := c.Reg.Status(c.H)
	if err != nil {
		replyErr(w, err)
		return
	}
	server.ReplyJSON(w, Status{State: st.State, Mode: mode, Status: status.Name(mode)})
}

// GetStats replies with the session's counters
func (c *HTTPCamera) GetStats(w http.ResponseWriter, r *http.Request) {
	st, err := c.Reg.Stats(c.H)
	if err != nil {
		replyErr(w, err)
		return
	}
	server.ReplyJSON(w, st)
}

// Configure sets up an acquisition from a JSON AcquisitionConfig body, or
// the defaults if the body is empty.  It replies with the frame size.
func (c *HTTPCamera) Configure(w http.ResponseWriter, r *http.Request) {
	cfg := c.Defaults
	err := json.NewDecoder(r.Body).Decode(&cfg)
	defer r.Body.Close()
	if err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n, err := c.Reg.Configure(c.H, cfg)
	if err != nil {
		replyErr(w, err)
		return
	}
	server.ReplyJSON(w, struct {
		FrameBytes int `json:"frameBytes"`
	}{n})
}

func (c *HTTPCamera) setExposureModes(mode int) error {
	return c.Reg.SetExposureModes(c.H, int32(mode))
}

func (c *HTTPCamera) metadataEnabled() (bool, error) {
	st, err := c.Reg.Stats(c.H)
	return st.MetadataEnabled, err
}

// pending is the number of completed frames no client has collected yet
func (c *HTTPCamera) pending() (int, error) {
	st, err := c.Reg.Stats(c.H)
	return st.Pending, err
}

func (c *HTTPCamera) firmware() (string, error) {
	return c.Reg.FirmwareVersion(c.H)
}

var attrs = map[string]param.Attr{
	"current":   param.AttrCurrent,
	"count":     param.AttrCount,
	"type":      param.AttrType,
	"min":       param.AttrMin,
	"max":       param.AttrMax,
	"default":   param.AttrDefault,
	"increment": param.AttrIncrement,
	"access":    param.AttrAccess,
	"avail":     param.AttrAvail,
}

func paramID(r *http.Request) (param.ID, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 0, 32)
	return param.ID(id), err
}

// ParamReply is the reply to GET /param/{id}
type ParamReply struct {
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

// GetParam reads attribute ?attr= (default current) of a parameter
func (c *HTTPCamera) GetParam(w http.ResponseWriter, r *http.Request) {
	id, err := paramID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	attr := param.AttrCurrent
	if s := r.URL.Query().Get("attr"); s != "" {
		a, ok := attrs[strings.ToLower(s)]
		if !ok {
			http.Error(w, "unknown attribute "+s, http.StatusBadRequest)
			return
		}
		attr = a
	}
	v, err := c.Reg.Param(c.H, id, attr)
	if err != nil {
		replyErr(w, err)
		return
	}
	server.ReplyJSON(w, ParamReply{Type: v.Type.String(), Value: v.Interface()})
}

// SetParam writes a parameter from a body of {"value": x}
func (c *HTTPCamera) SetParam(w http.ResponseWriter, r *http.Request) {
	id, err := paramID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	body := struct {
		Value interface{} `json:"value"`
	}{}
	err = json.NewDecoder(r.Body).Decode(&body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := c.Reg.SetParam(c.H, id, body.Value); err != nil {
		replyErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetEnum replies with the name to value table of an enumerated parameter
func (c *HTTPCamera) GetEnum(w http.ResponseWriter, r *http.Request) {
	id, err := paramID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m, err := c.Reg.ReadEnum(c.H, id)
	if err != nil {
		replyErr(w, err)
		return
	}
	server.ReplyJSON(w, m)
}

// GetVersion replies with the library and camera firmware versions
func (c *HTTPCamera) GetVersion(w http.ResponseWriter, r *http.Request) {
	lib, err := c.Reg.Version()
	if err != nil {
		replyErr(w, err)
		return
	}
	fw, err := c.Reg.FirmwareVersion(c.H)
	if err != nil {
		replyErr(w, err)
		return
	}
	server.ReplyJSON(w, struct {
		Library  string `json:"library"`
		Firmware string `json:"firmware"`
	}{lib, fw})
}
