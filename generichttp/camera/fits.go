package camera

import (
	"io"
	"net/http"

	"github.jpl.nasa.gov/bdube/pvbridge/bridge"
	"github.jpl.nasa.gov/bdube/pvbridge/imgrec"
)

// writeFits streams a frame as a FITS file, teeing it to the recorder if it is active
func (c *HTTPCamera) writeFits(w http.ResponseWriter, f *bridge.Frame) {
	var w2 io.Writer = w
	if c.Rec.Active() {
		w2 = io.MultiWriter(w, c.Rec)
		defer c.Rec.Incr()
	}
	hdr := w.Header()
	hdr.Set("Content-Type", "image/fits")
	hdr.Set("Content-Disposition", "attachment; filename=image.fits")
	if err := imgrec.WriteFITS(w2, []*bridge.Frame{f}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
