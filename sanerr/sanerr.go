// Package sanerr defines the closed error taxonomy shared by every
// container parser in mediasan. It is a leaf package: bmff, riff, mp4 and
// webp all import it, and the root mediasan package re-exports its types
// so callers never need to import it directly.
package sanerr

import "fmt"

// Kind enumerates the ways a sanitize or validate pass can fail. The set is
// closed: new values are never added without a corresponding spec change,
// so callers can safely switch over it.
type Kind int

const (
	_ Kind = iota
	UnexpectedEOF
	InvalidBoxSize
	InvalidChunkSize
	InvalidBoxLayout
	InvalidChunkLayout
	UnsupportedBoxVersion
	UnsupportedFormat
	UnsupportedFragmented
	UnsupportedDiscontiguousMediaData
	MissingRequiredBox
	InvalidCrossReference
	ArithmeticOverflow
	IO
)

func (k Kind) String() string {
	switch k {
	case UnexpectedEOF:
		return "unexpected-eof"
	case InvalidBoxSize:
		return "invalid-box-size"
	case InvalidChunkSize:
		return "invalid-chunk-size"
	case InvalidBoxLayout:
		return "invalid-box-layout"
	case InvalidChunkLayout:
		return "invalid-chunk-layout"
	case UnsupportedBoxVersion:
		return "unsupported-box-version"
	case UnsupportedFormat:
		return "unsupported-format"
	case UnsupportedFragmented:
		return "unsupported-fragmented"
	case UnsupportedDiscontiguousMediaData:
		return "unsupported-discontiguous-media-data"
	case MissingRequiredBox:
		return "missing-required-box"
	case InvalidCrossReference:
		return "invalid-cross-reference"
	case ArithmeticOverflow:
		return "arithmetic-overflow"
	case IO:
		return "io"
	default:
		return "unknown"
	}
}

// Detail carries optional positional context about where an error occurred.
// The parsers attach it where they know the position; the root mediasan
// package strips it unless the caller passes WithDetail.
type Detail struct {
	Offset int64
	Path   string // dotted box/chunk path, e.g. "moov.trak.mdia.minf.stbl.stsz"
}

// Error is the concrete error type returned by every mediasan entry point.
type Error struct {
	Kind   Kind
	Msg    string
	Detail *Detail
	Cause  error
}

func (e *Error) Error() string {
	if e.Detail != nil && e.Detail.Path != "" {
		return fmt.Sprintf("mediasan: %s: %s (at %s, offset %d)", e.Kind, e.Msg, e.Detail.Path, e.Detail.Offset)
	}
	return fmt.Sprintf("mediasan: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error with no positional detail.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf constructs an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error that wraps an underlying cause, typically an I/O
// error surfaced from a Source.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// WithDetail returns a copy of e annotated with positional detail.
func (e *Error) WithDetail(offset int64, path string) *Error {
	cp := *e
	cp.Detail = &Detail{Offset: offset, Path: path}
	return &cp
}
