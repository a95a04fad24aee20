package camera

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.jpl.nasa.gov/bdube/pvbridge/bridge"
	"github.jpl.nasa.gov/bdube/pvbridge/util"
)

// timeout parses the timeout query parameter.  A bare number is seconds.
func (c *HTTPCamera) timeout(r *http.Request) (time.Duration, error) {
	s := r.URL.Query().Get("timeout")
	if s == "" {
		return c.Timeout, nil
	}
	if util.AllElementsNumbers(s) {
		s += "s"
	}
	return time.ParseDuration(s)
}

// frame returns the next frame of a running acquisition, or takes a single
// frame when nothing is running.  The single frame uses the session's
// region and exposure if it has been configured, else the defaults.
// The caller must Release it.
func (c *HTTPCamera) frame(ctx context.Context, timeout time.Duration) (*bridge.Frame, error) {
	st, err := c.Reg.Stats(c.H)
	if err != nil {
		return nil, err
	}
	switch st.State {
	case bridge.Running:
		return c.Reg.GetFrame(ctx, c.H, timeout)
	case bridge.Configured:
		return c.Reg.SingleFrame(ctx, c.H, st.Config, timeout)
	}
	return c.Reg.SingleFrame(ctx, c.H, c.Defaults, timeout)
}

// GetFrame replies with a frame.
//
// the image format is given by the fmt query parameter, one of raw, png, jpg
// or fits; png is the default.
//
// the timeout query parameter bounds the wait in any format accepted by
// time.ParseDuration, such as "250ms".  If no unit is given, seconds are assumed.
func (c *HTTPCamera) GetFrame(w http.ResponseWriter, r *http.Request) {
	timeout, err := c.timeout(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f, err := c.frame(r.Context(), timeout)
	if err != nil {
		replyErr(w, err)
		return
	}
	defer f.Release()

	hdr := w.Header()
	hdr.Set("X-Frame-Seq", strconv.FormatUint(f.Seq, 10))
	hdr.Set("X-Frame-Width", strconv.Itoa(f.Width()))
	hdr.Set("X-Frame-Height", strconv.Itoa(f.Height()))
	hdr.Set("X-Run", f.Run.String())

	format := r.URL.Query().Get("fmt")
	switch format {
	case "raw":
		hdr.Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		w.Write(f.Pixels)
	case "", "png":
		hdr.Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		png.Encode(w, gray16(f))
	case "jpg", "jpeg":
		hdr.Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusOK)
		jpeg.Encode(w, gray8(f), nil)
	case "fits":
		c.writeFits(w, f)
	default:
		http.Error(w, fmt.Sprintf("unknown image format %q, must be one of raw, png, jpg, fits", format), http.StatusBadRequest)
	}
}

// gray16 copies a frame into a 16-bit image, which stores pixels big endian
func gray16(f *bridge.Frame) *image.Gray16 {
	width, height := f.Width(), f.Height()
	im := image.NewGray16(image.Rect(0, 0, width, height))
	px := f.Uint16()
	for i := 0; i < len(px) && 2*i+1 < len(im.Pix); i++ {
		binary.BigEndian.PutUint16(im.Pix[2*i:], px[i])
	}
	return im
}

// gray8 scales a frame into 8 bits
func gray8(f *bridge.Frame) *image.Gray {
	width, height := f.Width(), f.Height()
	im := image.NewGray(image.Rect(0, 0, width, height))
	px := f.Uint16()
	for i := 0; i < len(px) && i < len(im.Pix); i++ {
		im.Pix[i] = byte(px[i] / 256) // scale 16 to 8 bits
	}
	return im
}

// Live streams PNG frames as multipart/x-mixed-replace until the client goes
// away or the acquisition ends.  The frame rate is capped at LiveRate.
// A continuous acquisition must be running.
func (c *HTTPCamera) Live(w http.ResponseWriter, r *http.Request) {
	st, err := c.Reg.Stats(c.H)
	if err != nil {
		replyErr(w, err)
		return
	}
	if st.State != bridge.Running || st.Config.Mode != bridge.Continuous {
		http.Error(w, "live view needs a running continuous acquisition", http.StatusConflict)
		return
	}
	timeout, err := c.timeout(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	lim := rate.NewLimiter(c.LiveRate, 1)
	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	var buf bytes.Buffer
	for {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		f, err := c.Reg.GetFrame(ctx, c.H, timeout)
		if err != nil {
			if bridge.KindOf(err) == bridge.KindTimeout {
				continue
			}
			return
		}
		buf.Reset()
		err = png.Encode(&buf, gray16(f))
		seq := f.Seq
		f.Release()
		if err != nil {
			return
		}
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":   {"image/png"},
			"Content-Length": {strconv.Itoa(buf.Len())},
			"X-Frame-Seq":    {strconv.FormatUint(seq, 10)},
		})
		if err != nil {
			return
		}
		if _, err := io.Copy(part, &buf); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
