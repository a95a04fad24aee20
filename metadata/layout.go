package metadata

import "encoding/binary"

// offsets into the packed, little-endian md_frame_header and
// md_frame_roi_header structures.  Both frame header revisions are 48 bytes.
const (
	offSignature = 0
	offVersion   = 4
	offFrameNr   = 5
	offROICount  = 9

	// version 1 and 2
	offBOF32          = 11
	offEOF32          = 15
	offTimestampResNs = 19
	offExposure32     = 23
	offExposureResNs  = 27
	offROITsResNs     = 31

	// version 3
	offBOF64      = 11
	offEOF64      = 19
	offExposure64 = 27

	// shared tail
	offBitDepth         = 35
	offColorMask        = 36
	offFlags            = 37
	offExtendedMdSize   = 38
	offImageFormat      = 40
	offImageCompression = 41

	roiOffNr           = 0
	roiOffBOR          = 2
	roiOffEOR          = 6
	roiOffRegion       = 10
	roiOffFlags        = 22
	roiOffExtendedSize = 23
	roiOffDataSize     = 25
)

var le = binary.LittleEndian

func parseHeader(b []byte) Header {
	h := Header{
		Version:  b[offVersion],
		FrameNr:  le.Uint32(b[offFrameNr:]),
		ROICount: le.Uint16(b[offROICount:]),

		BitDepth:             b[offBitDepth],
		ColorMask:            b[offColorMask],
		Flags:                b[offFlags],
		ExtendedMetadataSize: le.Uint16(b[offExtendedMdSize:]),
	}
	if h.Version >= 3 {
		h.TimestampBOF = le.Uint64(b[offBOF64:])
		h.TimestampEOF = le.Uint64(b[offEOF64:])
		h.ExposureTime = le.Uint64(b[offExposure64:])
	} else {
		h.TimestampBOF = uint64(le.Uint32(b[offBOF32:]))
		h.TimestampEOF = uint64(le.Uint32(b[offEOF32:]))
		h.TimestampResNs = le.Uint32(b[offTimestampResNs:])
		h.ExposureTime = uint64(le.Uint32(b[offExposure32:]))
		h.ExposureTimeResNs = le.Uint32(b[offExposureResNs:])
		h.ROITimestampResNs = le.Uint32(b[offROITsResNs:])
	}
	if h.Version > 1 {
		h.ImageFormat = b[offImageFormat]
		h.ImageCompression = b[offImageCompression]
	}
	return h
}

func parseROIHeader(b []byte) ROI {
	r := ROI{
		Number:       le.Uint16(b[roiOffNr:]),
		TimestampBOR: le.Uint32(b[roiOffBOR:]),
		TimestampEOR: le.Uint32(b[roiOffEOR:]),
		Flags:        b[roiOffFlags],
		extSize:      le.Uint16(b[roiOffExtendedSize:]),
		dataSize:     le.Uint32(b[roiOffDataSize:]),
	}
	g := b[roiOffRegion:]
	r.Region = Region{
		S1:   le.Uint16(g[0:]),
		S2:   le.Uint16(g[2:]),
		SBin: le.Uint16(g[4:]),
		P1:   le.Uint16(g[6:]),
		P2:   le.Uint16(g[8:]),
		PBin: le.Uint16(g[10:]),
	}
	return r
}
