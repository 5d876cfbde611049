package webp

import (
	"encoding/binary"

	"github.com/corvid/mediasan/riff"
	"github.com/corvid/mediasan/sanerr"
	"github.com/corvid/mediasan/source"
)

const (
	vp8Signature       = 0x9d012a
	vp8FrameHeaderSize = 10
	vp8lMagicByte      = 0x2f
	vp8lHeaderSize     = 5
	vp8xPayloadSize    = 10
	animPayloadSize    = 6
	anmfHeaderSize     = 16
	maxCanvasDim       = 1 << 24

	animationFlag = 0x02
	xmpFlag       = 0x04
	exifFlag      = 0x08
	alphaFlag     = 0x10
	iccpFlag      = 0x20
	allValidFlags = 0x3e
)

// Validate performs a single forward pass over src, checking the WebP
// structural grammar described in deepteams-webp's container parser but
// reading through riff.Framer instead of a fully materialized slice, so
// callers that only need a pass/fail answer never need to buffer the
// whole file. The decoded Image is returned for Probe's benefit even
// though ValidateWebP discards it.
func Validate(src source.Source) (*Image, error) {
	hdr, err := riff.ReadFormHeader(src)
	if err != nil {
		return nil, err
	}
	if hdr.FormType != riff.FourCCWEBP {
		return nil, sanerr.Newf(sanerr.InvalidChunkLayout, "RIFF form type %q is not WEBP", hdr.FormType)
	}

	f := riff.NewFramer(src, int64(hdr.Size)-4)
	if !f.Next() {
		if err := f.Err(); err != nil {
			return nil, err
		}
		return nil, sanerr.New(sanerr.MissingRequiredBox, "WEBP form has no chunks")
	}

	img := &Image{}
	switch e := f.Entry(); e.Type {
	case riff.FourCCVP8:
		img.Kind = KindSimpleLossy
		if err := validateSingleLossy(f, img); err != nil {
			return nil, err
		}
	case riff.FourCCVP8L:
		img.Kind = KindSimpleLossless
		if err := validateSingleLossless(f, img); err != nil {
			return nil, err
		}
	case riff.FourCCVP8X:
		if err := validateExtended(f, img); err != nil {
			return nil, err
		}
	default:
		return nil, sanerr.Newf(sanerr.InvalidChunkLayout, "unexpected leading chunk %q", e.Type).WithDetail(e.Offset, e.Type.String())
	}

	if f.Next() {
		return nil, sanerr.Newf(sanerr.InvalidChunkLayout, "trailing chunk %q after a terminal still image", f.Entry().Type).WithDetail(f.Entry().Offset, f.Entry().Type.String())
	}
	if err := f.Err(); err != nil {
		return nil, err
	}
	return img, nil
}

func validateSingleLossy(f *riff.Framer, img *Image) error {
	e := f.Entry()
	payload := make([]byte, e.Size)
	if err := f.ReadBody(payload); err != nil {
		return err
	}
	w, h, err := parseVP8Header(e, payload)
	if err != nil {
		return err
	}
	img.Features.Width, img.Features.Height = w, h
	return nil
}

func validateSingleLossless(f *riff.Framer, img *Image) error {
	e := f.Entry()
	payload := make([]byte, e.Size)
	if err := f.ReadBody(payload); err != nil {
		return err
	}
	w, h, alpha, err := parseVP8LHeader(e, payload)
	if err != nil {
		return err
	}
	img.Features.Width, img.Features.Height = w, h
	img.Features.HasAlpha = alpha
	return nil
}

// validateExtended implements the VP8X-governed grammar: the extended
// header's flags gate which ancillary chunks are permitted and in what
// order, per spec.md's ordering rules (ICCP before image data; EXIF
// before XMP, both after image data; ANIM is followed by one or more
// ANMF frames instead of a single image chunk).
func validateExtended(f *riff.Framer, img *Image) error {
	e := f.Entry()
	if e.Size != vp8xPayloadSize {
		return sanerr.Newf(sanerr.InvalidChunkSize, "VP8X payload is %d bytes, want %d", e.Size, vp8xPayloadSize)
	}
	payload := make([]byte, e.Size)
	if err := f.ReadBody(payload); err != nil {
		return err
	}

	flags := uint32(payload[0])
	if flags&^uint32(allValidFlags) != 0 {
		return sanerr.Newf(sanerr.InvalidChunkLayout, "VP8X reserved flag bits set: 0x%02x", flags)
	}
	for _, b := range payload[1:4] {
		if b != 0 {
			return sanerr.New(sanerr.InvalidChunkLayout, "VP8X reserved bytes are not zero")
		}
	}

	img.Kind = KindExtended
	img.Features.HasAnim = flags&animationFlag != 0
	img.Features.HasAlpha = flags&alphaFlag != 0
	img.Features.HasICCP = flags&iccpFlag != 0
	img.Features.HasEXIF = flags&exifFlag != 0
	img.Features.HasXMP = flags&xmpFlag != 0
	img.Features.LoopCount = 1
	img.Features.BGColor = 0xffffffff

	width := 1 + readLE24(payload[4:7])
	height := 1 + readLE24(payload[7:10])
	if width > maxCanvasDim || height > maxCanvasDim {
		return sanerr.Newf(sanerr.InvalidChunkLayout, "VP8X canvas %dx%d exceeds the 2^24 limit", width, height)
	}
	img.Features.Width, img.Features.Height = width, height

	return validateVP8XBody(f, img)
}

// phase tracks how far through the VP8X grammar the chunk sequence has
// progressed; every transition below is forward-only, so any chunk that
// would require moving backward is an ordering violation.
type phase int

const (
	phaseHeader phase = iota
	phaseAfterICCP
	phaseImageData
	phaseEXIF
	phaseXMP
)

func validateVP8XBody(f *riff.Framer, img *Image) error {
	ph := phaseHeader
	seenImage := false
	animFrames := 0

	for f.Next() {
		e := f.Entry()
		switch e.Type {
		case riff.FourCCVP8X:
			return sanerr.New(sanerr.InvalidChunkLayout, "duplicate VP8X chunk").WithDetail(e.Offset, e.Type.String())

		case riff.FourCCICCP:
			if !img.Features.HasICCP {
				return sanerr.New(sanerr.InvalidChunkLayout, "ICCP chunk present but VP8X ICCP flag is unset").WithDetail(e.Offset, e.Type.String())
			}
			if ph != phaseHeader {
				return sanerr.New(sanerr.InvalidChunkLayout, "ICCP must precede any image data").WithDetail(e.Offset, e.Type.String())
			}
			if err := f.SkipBody(); err != nil {
				return err
			}
			ph = phaseAfterICCP

		case riff.FourCCANIM:
			if !img.Features.HasAnim {
				return sanerr.New(sanerr.InvalidChunkLayout, "ANIM chunk present but VP8X animation flag is unset").WithDetail(e.Offset, e.Type.String())
			}
			if ph > phaseAfterICCP || seenImage {
				return sanerr.New(sanerr.InvalidChunkLayout, "ANIM must immediately follow VP8X/ICCP").WithDetail(e.Offset, e.Type.String())
			}
			if e.Size < animPayloadSize {
				return sanerr.Newf(sanerr.InvalidChunkSize, "ANIM payload is %d bytes, want at least %d", e.Size, animPayloadSize)
			}
			payload := make([]byte, e.Size)
			if err := f.ReadBody(payload); err != nil {
				return err
			}
			img.Features.BGColor = binary.LittleEndian.Uint32(payload[0:4])
			img.Features.LoopCount = int(binary.LittleEndian.Uint16(payload[4:6]))
			img.Kind = KindAnimated
			ph = phaseImageData

		case riff.FourCCANMF:
			if !img.Features.HasAnim {
				return sanerr.New(sanerr.InvalidChunkLayout, "ANMF chunk present but VP8X animation flag is unset").WithDetail(e.Offset, e.Type.String())
			}
			if animFrames == 0 && img.Kind != KindAnimated {
				return sanerr.New(sanerr.InvalidChunkLayout, "ANMF without a preceding ANIM chunk").WithDetail(e.Offset, e.Type.String())
			}
			payload := make([]byte, e.Size)
			if err := f.ReadBody(payload); err != nil {
				return err
			}
			if err := validateANMF(e.Offset, payload); err != nil {
				return err
			}
			animFrames++
			ph = phaseImageData
			seenImage = true

		case riff.FourCCVP8, riff.FourCCVP8L:
			if img.Features.HasAnim {
				return sanerr.New(sanerr.InvalidChunkLayout, "bare image chunk not permitted when the animation flag is set").WithDetail(e.Offset, e.Type.String())
			}
			if seenImage {
				return sanerr.New(sanerr.InvalidChunkLayout, "duplicate image chunk in a still extended image").WithDetail(e.Offset, e.Type.String())
			}
			payload := make([]byte, e.Size)
			if err := f.ReadBody(payload); err != nil {
				return err
			}
			if e.Type == riff.FourCCVP8L {
				w, h, alpha, err := parseVP8LHeader(e, payload)
				if err != nil {
					return err
				}
				img.Features.Width, img.Features.Height = w, h
				if alpha {
					img.Features.HasAlpha = true
				}
			} else {
				w, h, err := parseVP8Header(e, payload)
				if err != nil {
					return err
				}
				img.Features.Width, img.Features.Height = w, h
			}
			seenImage = true
			ph = phaseImageData

		case riff.FourCCALPH:
			if img.Features.HasAnim {
				return sanerr.New(sanerr.InvalidChunkLayout, "ALPH not permitted when the animation flag is set").WithDetail(e.Offset, e.Type.String())
			}
			if seenImage {
				return sanerr.New(sanerr.InvalidChunkLayout, "ALPH must precede the VP8 chunk it augments").WithDetail(e.Offset, e.Type.String())
			}
			if !img.Features.HasAlpha {
				return sanerr.New(sanerr.InvalidChunkLayout, "ALPH chunk present but VP8X alpha flag is unset").WithDetail(e.Offset, e.Type.String())
			}
			if err := f.SkipBody(); err != nil {
				return err
			}
			ph = phaseImageData

		case riff.FourCCEXIF:
			if !img.Features.HasEXIF {
				return sanerr.New(sanerr.InvalidChunkLayout, "EXIF chunk present but VP8X EXIF flag is unset").WithDetail(e.Offset, e.Type.String())
			}
			if ph < phaseImageData {
				return sanerr.New(sanerr.InvalidChunkLayout, "EXIF must follow the image data").WithDetail(e.Offset, e.Type.String())
			}
			if ph > phaseEXIF {
				return sanerr.New(sanerr.InvalidChunkLayout, "EXIF must precede XMP").WithDetail(e.Offset, e.Type.String())
			}
			if ph == phaseEXIF {
				return sanerr.New(sanerr.InvalidChunkLayout, "duplicate EXIF chunk").WithDetail(e.Offset, e.Type.String())
			}
			if err := f.SkipBody(); err != nil {
				return err
			}
			ph = phaseEXIF

		case riff.FourCCXMP:
			if !img.Features.HasXMP {
				return sanerr.New(sanerr.InvalidChunkLayout, "XMP chunk present but VP8X XMP flag is unset").WithDetail(e.Offset, e.Type.String())
			}
			if ph < phaseImageData {
				return sanerr.New(sanerr.InvalidChunkLayout, "XMP must follow the image data").WithDetail(e.Offset, e.Type.String())
			}
			if ph == phaseXMP {
				return sanerr.New(sanerr.InvalidChunkLayout, "duplicate XMP chunk").WithDetail(e.Offset, e.Type.String())
			}
			if err := f.SkipBody(); err != nil {
				return err
			}
			ph = phaseXMP

		default:
			// Unrecognized four-character codes are permitted but only
			// validated for structural size; their content is opaque.
			if err := f.SkipBody(); err != nil {
				return err
			}
		}
	}
	if err := f.Err(); err != nil {
		return err
	}

	if img.Features.HasAnim && animFrames == 0 {
		return sanerr.New(sanerr.MissingRequiredBox, "animation flag set but no ANMF frames present")
	}
	if !img.Features.HasAnim && !seenImage {
		return sanerr.New(sanerr.MissingRequiredBox, "extended image has no VP8/VP8L image data")
	}
	return nil
}

// validateANMF checks one animation frame's 16-byte header and its
// nested single-image payload, which follows the same image-chunk rules
// as a still image minus VP8X/ICCP/EXIF/XMP/ANIM.
func validateANMF(offset int64, payload []byte) error {
	if len(payload) < anmfHeaderSize {
		return sanerr.Newf(sanerr.InvalidChunkSize, "ANMF header is %d bytes, want at least %d", len(payload), anmfHeaderSize)
	}
	width := 1 + readLE24(payload[6:9])
	height := 1 + readLE24(payload[9:12])
	if width > maxCanvasDim || height > maxCanvasDim {
		return sanerr.Newf(sanerr.InvalidChunkLayout, "ANMF frame %dx%d exceeds the 2^24 limit", width, height)
	}

	sub := source.NewBufferSource(payload[anmfHeaderSize:])
	sf := riff.NewFramer(sub, int64(len(payload)-anmfHeaderSize))

	seenAlpha, seenImage := false, false
	for sf.Next() {
		e := sf.Entry()
		switch e.Type {
		case riff.FourCCALPH:
			if seenImage || seenAlpha {
				return sanerr.New(sanerr.InvalidChunkLayout, "ANMF: ALPH must be the first sub-chunk").WithDetail(offset, "ANMF.ALPH")
			}
			if err := sf.SkipBody(); err != nil {
				return err
			}
			seenAlpha = true
		case riff.FourCCVP8L:
			if seenAlpha {
				return sanerr.New(sanerr.InvalidChunkLayout, "ANMF: VP8L carries its own alpha, ALPH not permitted alongside it").WithDetail(offset, "ANMF.VP8L")
			}
			sub := make([]byte, e.Size)
			if err := sf.ReadBody(sub); err != nil {
				return err
			}
			if _, _, _, err := parseVP8LHeader(e, sub); err != nil {
				return err
			}
			seenImage = true
		case riff.FourCCVP8:
			sub := make([]byte, e.Size)
			if err := sf.ReadBody(sub); err != nil {
				return err
			}
			if _, _, err := parseVP8Header(e, sub); err != nil {
				return err
			}
			seenImage = true
		default:
			return sanerr.Newf(sanerr.InvalidChunkLayout, "ANMF: unexpected sub-chunk %q", e.Type).WithDetail(offset, "ANMF."+e.Type.String())
		}
	}
	if err := sf.Err(); err != nil {
		return err
	}
	if !seenImage {
		return sanerr.New(sanerr.MissingRequiredBox, "ANMF frame has no VP8/VP8L payload")
	}
	return nil
}

func parseVP8Header(e riff.Entry, data []byte) (width, height int, err error) {
	if len(data) < vp8FrameHeaderSize {
		return 0, 0, sanerr.Newf(sanerr.InvalidChunkSize, "VP8 payload is %d bytes, want at least %d", len(data), vp8FrameHeaderSize).WithDetail(e.Offset, "VP8")
	}
	frameTag := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16
	if frameTag&1 != 0 {
		return 0, 0, sanerr.New(sanerr.UnsupportedFormat, "VP8 non-keyframe is not supported").WithDetail(e.Offset, "VP8")
	}
	sig := uint32(data[3])<<16 | uint32(data[4])<<8 | uint32(data[5])
	if sig != vp8Signature {
		return 0, 0, sanerr.Newf(sanerr.InvalidChunkLayout, "VP8 signature mismatch: 0x%06x", sig).WithDetail(e.Offset, "VP8")
	}
	width = int(binary.LittleEndian.Uint16(data[6:8])) & 0x3fff
	height = int(binary.LittleEndian.Uint16(data[8:10])) & 0x3fff
	if width == 0 || height == 0 {
		return 0, 0, sanerr.New(sanerr.InvalidChunkLayout, "VP8 declares a zero dimension").WithDetail(e.Offset, "VP8")
	}
	return width, height, nil
}

func parseVP8LHeader(e riff.Entry, data []byte) (width, height int, hasAlpha bool, err error) {
	if len(data) < vp8lHeaderSize {
		return 0, 0, false, sanerr.Newf(sanerr.InvalidChunkSize, "VP8L payload is %d bytes, want at least %d", len(data), vp8lHeaderSize).WithDetail(e.Offset, "VP8L")
	}
	if data[0] != vp8lMagicByte {
		return 0, 0, false, sanerr.Newf(sanerr.InvalidChunkLayout, "VP8L signature mismatch: 0x%02x", data[0]).WithDetail(e.Offset, "VP8L")
	}
	bits := binary.LittleEndian.Uint32(data[1:5])
	width = int(bits&0x3fff) + 1
	height = int((bits>>14)&0x3fff) + 1
	hasAlpha = (bits>>28)&1 != 0
	version := (bits >> 29) & 0x7
	if version != 0 {
		return 0, 0, false, sanerr.Newf(sanerr.UnsupportedFormat, "unsupported VP8L version %d", version).WithDetail(e.Offset, "VP8L")
	}
	if width == 0 || height == 0 {
		return 0, 0, false, sanerr.New(sanerr.InvalidChunkLayout, "VP8L declares a zero dimension").WithDetail(e.Offset, "VP8L")
	}
	return width, height, hasAlpha, nil
}

func readLE24(b []byte) int {
	return int(b[0]) | int(b[1])<<8 | int(b[2])<<16
}
