package imgrec

import (
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/astrogo/fitsio"
	"github.com/snksoft/crc"

	"github.jpl.nasa.gov/bdube/pvbridge/bridge"
)

// HeaderVersion is written to the HDRVER card of every file
const HeaderVersion = "pvbridge-1"

var (
	crcTable = crc.NewTable(crc.CRC32)

	// ErrNoFrames is returned when asked to write an empty image
	ErrNoFrames = errors.New("imgrec: no frames to write")
)

// Checksum is the CRC-32 of the frames' pixel payloads, in order
func Checksum(frames ...*bridge.Frame) uint32 {
	c := crcTable.InitCrc()
	for _, f := range frames {
		c = crcTable.UpdateCrc(c, f.Pixels)
	}
	return crcTable.CRC32(c)
}

// Cards produces the FITS header cards describing a frame
func Cards(f *bridge.Frame) []fitsio.Card {
	cards := []fitsio.Card{
		{Name: "HDRVER", Value: HeaderVersion, Comment: "header version"},
		{Name: "RUNID", Value: f.Run.String(), Comment: "acquisition run"},
		{Name: "FRAMESEQ", Value: int(f.Seq), Comment: "frame sequence number within the run"},
		{Name: "FPS", Value: f.FPS, Comment: "throughput estimate"},
		{Name: "ROIS1", Value: int(f.ROI.S1), Comment: "first serial pixel"},
		{Name: "ROIS2", Value: int(f.ROI.S2), Comment: "last serial pixel"},
		{Name: "ROIP1", Value: int(f.ROI.P1), Comment: "first parallel pixel"},
		{Name: "ROIP2", Value: int(f.ROI.P2), Comment: "last parallel pixel"},
		{Name: "SBIN", Value: int(f.ROI.SBin), Comment: "serial binning"},
		{Name: "PBIN", Value: int(f.ROI.PBin), Comment: "parallel binning"},
	}
	md := f.Metadata
	if md == nil {
		return cards
	}
	cards = append(cards,
		fitsio.Card{Name: "FRAMENR", Value: int(md.FrameNr), Comment: "camera frame number"},
		fitsio.Card{Name: "BITDEPTH", Value: int(md.BitDepth), Comment: "sensor bit depth"},
		fitsio.Card{Name: "MDVER", Value: int(md.Version), Comment: "frame metadata version"},
	)
	if md.ExposureTimeResNs != 0 {
		cards = append(cards, fitsio.Card{
			Name:    "EXPTIME",
			Value:   float64(md.ExposureTime) * float64(md.ExposureTimeResNs) * 1e-9,
			Comment: "exposure time, seconds"})
	}
	if md.TimestampResNs != 0 {
		res := float64(md.TimestampResNs) * 1e-9
		cards = append(cards,
			fitsio.Card{Name: "TSBOF", Value: float64(md.TimestampBOF) * res, Comment: "beginning of frame, seconds"},
			fitsio.Card{Name: "TSEOF", Value: float64(md.TimestampEOF) * res, Comment: "end of frame, seconds"})
	}
	return cards
}

// WriteFITS streams frames to w as a 16-bit FITS image, a cube if there is
// more than one frame.  The header is Cards of the first frame, extra, and a
// checksum of the pixel data
func WriteFITS(w io.Writer, frames []*bridge.Frame, extra ...fitsio.Card) error {
	if len(frames) == 0 {
		return ErrNoFrames
	}
	width, height := frames[0].Width(), frames[0].Height()
	npix := width * height
	for _, f := range frames {
		if f.Width() != width || f.Height() != height {
			return fmt.Errorf("imgrec: frame %d is %dx%d, expected %dx%d", f.Seq, f.Width(), f.Height(), width, height)
		}
		if n := len(f.Uint16()); n != npix {
			return fmt.Errorf("imgrec: frame %d holds %d pixels, expected %d", f.Seq, n, npix)
		}
	}

	cards := Cards(frames[0])
	cards = append(cards, extra...)
	cards = append(cards,
		fitsio.Card{Name: "NFRAMES", Value: len(frames), Comment: "frames in this file"},
		fitsio.Card{Name: "DATACRC", Value: int(Checksum(frames...)), Comment: "CRC-32 of the raw pixel payload"},
		fitsio.Card{Name: "BZERO", Value: 32768},
		fitsio.Card{Name: "BSCALE", Value: 1.0})

	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	dims := []int{width, height}
	if len(frames) > 1 {
		dims = append(dims, len(frames))
	}
	im := fitsio.NewImage(16, dims)
	defer im.Close()
	if err = im.Header().Append(cards...); err != nil {
		return err
	}

	ints := make([]int16, npix*len(frames))
	offset := 0
	for _, f := range frames {
		for _, u := range f.Uint16() {
			ints[offset] = int16(u - 32768)
			offset++
		}
	}
	if err = im.Write(ints); err != nil {
		return err
	}
	return fits.Write(im)
}

// Save writes frames to the recorder's next file and advances the counter.
// It returns the path written.
func (r *Recorder) Save(frames []*bridge.Frame, extra ...fitsio.Card) (string, error) {
	if err := WriteFITS(r, frames, extra...); err != nil {
		return "", err
	}
	r.Incr()
	dir, fn := r.last()
	return path.Join(dir, fn), nil
}
