// Package mediasan sanitizes MP4 and WebP containers: it validates their
// box/chunk structure against a strict subset of each format's spec and,
// for MP4, rewrites the presentation metadata into a single contiguous
// prefix ahead of the untouched media-data payload. It never inspects or
// transforms the media bitstream itself.
//
// mediasan is a thin façade over three packages that do the actual work:
// bmff (ISOBMFF box framing), mp4 (MP4 validation and rewrite), and webp
// (WebP structural validation, built on riff). Callers that want the
// underlying types — mp4.MoovTree, webp.Image, sanerr.Kind — can import
// those packages directly; Sanitize and ValidateWebP cover the common
// case of "is this safe to hand to a decoder".
package mediasan

import (
	"context"

	"github.com/corvid/mediasan/mp4"
	"github.com/corvid/mediasan/sanerr"
	"github.com/corvid/mediasan/source"
	"github.com/corvid/mediasan/webp"
)

// Output is the result of a successful Sanitize call.
type Output = mp4.Output

// Error is the taxonomy-typed error every entry point returns on failure.
// Use errors.As to recover it and inspect its Kind.
type Error = sanerr.Error

// Kind enumerates the closed set of ways a sanitize or validate pass can
// fail.
type Kind = sanerr.Kind

// Re-exported so callers never need to import sanerr directly to switch
// on a failure's Kind.
const (
	UnexpectedEOF                     = sanerr.UnexpectedEOF
	InvalidBoxSize                    = sanerr.InvalidBoxSize
	InvalidChunkSize                  = sanerr.InvalidChunkSize
	InvalidBoxLayout                  = sanerr.InvalidBoxLayout
	InvalidChunkLayout                = sanerr.InvalidChunkLayout
	UnsupportedBoxVersion             = sanerr.UnsupportedBoxVersion
	UnsupportedFormat                 = sanerr.UnsupportedFormat
	UnsupportedFragmented             = sanerr.UnsupportedFragmented
	UnsupportedDiscontiguousMediaData = sanerr.UnsupportedDiscontiguousMediaData
	MissingRequiredBox                = sanerr.MissingRequiredBox
	InvalidCrossReference             = sanerr.InvalidCrossReference
	ArithmeticOverflow                = sanerr.ArithmeticOverflow
	IO                                = sanerr.IO
)

// options holds the behavior every Option mutates.
type options struct {
	detail   bool
	totalLen int64
}

// Option configures a Sanitize or ValidateWebP call.
type Option func(*options)

// WithDetail requests positional detail (file offset, box/chunk path) on
// any returned Error. Detail is omitted by default so the success path
// never pays for it.
func WithDetail() Option {
	return func(o *options) { o.detail = true }
}

// WithTotalLen supplies the input's total byte length, required when src
// isn't a *source.BufferSource (which already knows its own length).
// Sanitize needs it to resolve boxes that declare themselves as extending
// to end-of-file.
func WithTotalLen(n int64) Option {
	return func(o *options) { o.totalLen = n }
}

func resolve(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// stripDetail clears positional detail from err unless the caller opted
// in via WithDetail, keeping the documented default of a detail-free
// error surface.
func stripDetail(err error, o options) error {
	if err == nil || o.detail {
		return err
	}
	if se, ok := err.(*sanerr.Error); ok && se.Detail != nil {
		cp := *se
		cp.Detail = nil
		return &cp
	}
	return err
}

// inputLen returns the buffered length of src when it's known without
// draining anything, or ok=false when the caller must supply one via
// WithTotalLen.
func inputLen(src source.Source, o options) (int64, bool) {
	if bs, ok := src.(*source.BufferSource); ok {
		return int64(len(bs.Bytes())), true
	}
	if o.totalLen > 0 {
		return o.totalLen, true
	}
	return 0, false
}

// Sanitize validates src as a complete MP4 file and returns its canonical
// rewrite. src must either be a *source.BufferSource or be accompanied by
// WithTotalLen, since the rewrite needs random access to the metadata
// boxes (see mp4.Sanitize's doc comment for why).
func Sanitize(src source.Source, opts ...Option) (Output, error) {
	o := resolve(opts)
	n, ok := inputLen(src, o)
	if !ok {
		return Output{}, sanerr.New(sanerr.UnsupportedFormat, "Sanitize requires a *source.BufferSource or WithTotalLen")
	}
	buf := make([]byte, n)
	if err := src.ReadFull(buf); err != nil {
		return Output{}, stripDetail(err, o)
	}
	out, err := mp4.Sanitize(buf)
	if err != nil {
		return Output{}, stripDetail(err, o)
	}
	return out, nil
}

// SanitizeAsync is Sanitize's AsyncSource counterpart.
func SanitizeAsync(ctx context.Context, src source.AsyncSource, opts ...Option) (Output, error) {
	o := resolve(opts)
	if o.totalLen <= 0 {
		return Output{}, sanerr.New(sanerr.UnsupportedFormat, "SanitizeAsync requires WithTotalLen")
	}
	out, err := mp4.SanitizeAsync(ctx, src, o.totalLen)
	if err != nil {
		return Output{}, stripDetail(err, o)
	}
	return out, nil
}

// ValidateWebP checks src against the WebP structural grammar without
// producing any output; a nil error means the file is safe to decode.
func ValidateWebP(src source.Source, opts ...Option) error {
	o := resolve(opts)
	_, err := webp.Validate(src)
	return stripDetail(err, o)
}

// ValidateWebPAsync is ValidateWebP's AsyncSource counterpart.
func ValidateWebPAsync(ctx context.Context, src source.AsyncSource, opts ...Option) error {
	o := resolve(opts)
	err := webp.ValidateAsync(ctx, src)
	return stripDetail(err, o)
}
