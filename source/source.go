// Package source provides the forward-only input abstraction every
// container parser in mediasan reads through. Neither Source nor
// AsyncSource ever rewind: Skip only moves forward, matching inputs that
// cannot seek (a network body, a pipe) as well as inputs that can
// (an *os.File, an in-memory buffer).
package source

import (
	"bufio"
	"context"
	"io"

	"github.com/corvid/mediasan/sanerr"
)

// Source is a synchronous, forward-only byte source.
type Source interface {
	// ReadFull fills buf entirely or returns an error. A short read is
	// reported as sanerr.UnexpectedEOF.
	ReadFull(buf []byte) error
	// Skip discards n bytes without returning them. n must be >= 0.
	Skip(n int64) error
	// Position reports the number of bytes consumed so far.
	Position() int64
}

// AsyncSource is the cooperative counterpart of Source: every operation
// takes a context.Context and must return promptly once it is done,
// leaving no partially-applied effect observable by the caller.
type AsyncSource interface {
	ReadFull(ctx context.Context, buf []byte) error
	Skip(ctx context.Context, n int64) error
	Position() int64
}

// BufferSource is a Source backed by an in-memory byte slice. Skip is an
// index bump; it is still forward-only, it just never touches an
// underlying reader.
type BufferSource struct {
	buf []byte
	pos int64
}

// NewBufferSource wraps buf for forward-only reading.
func NewBufferSource(buf []byte) *BufferSource {
	return &BufferSource{buf: buf}
}

func (s *BufferSource) ReadFull(p []byte) error {
	if int64(len(s.buf))-s.pos < int64(len(p)) {
		return sanerr.New(sanerr.UnexpectedEOF, "buffer source exhausted")
	}
	n := copy(p, s.buf[s.pos:])
	s.pos += int64(n)
	return nil
}

func (s *BufferSource) Skip(n int64) error {
	if n < 0 {
		return sanerr.New(sanerr.ArithmeticOverflow, "negative skip")
	}
	if int64(len(s.buf))-s.pos < n {
		return sanerr.New(sanerr.UnexpectedEOF, "buffer source exhausted")
	}
	s.pos += n
	return nil
}

func (s *BufferSource) Position() int64 { return s.pos }

// Remaining returns the unread suffix of the underlying buffer without
// consuming it, for callers that need direct slice access once a span
// has been validated.
func (s *BufferSource) Remaining() []byte { return s.buf[s.pos:] }

// Bytes returns the full underlying buffer, regardless of position.
func (s *BufferSource) Bytes() []byte { return s.buf }

// StreamSource is a Source backed by an io.Reader with no seek
// capability. Skip discards bytes by reading and throwing them away.
type StreamSource struct {
	r   *bufio.Reader
	pos int64
}

// NewStreamSource wraps r for forward-only reading.
func NewStreamSource(r io.Reader) *StreamSource {
	return &StreamSource{r: bufio.NewReaderSize(r, 32*1024)}
}

func (s *StreamSource) ReadFull(p []byte) error {
	n, err := io.ReadFull(s.r, p)
	s.pos += int64(n)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return sanerr.Wrap(sanerr.UnexpectedEOF, err, "stream source exhausted")
		}
		return sanerr.Wrap(sanerr.IO, err, "reading stream source")
	}
	return nil
}

func (s *StreamSource) Skip(n int64) error {
	if n < 0 {
		return sanerr.New(sanerr.ArithmeticOverflow, "negative skip")
	}
	copied, err := io.CopyN(io.Discard, s.r, n)
	s.pos += copied
	if err != nil {
		if err == io.EOF {
			return sanerr.Wrap(sanerr.UnexpectedEOF, err, "stream source exhausted")
		}
		return sanerr.Wrap(sanerr.IO, err, "skipping stream source")
	}
	return nil
}

func (s *StreamSource) Position() int64 { return s.pos }

// Cooperative adapts a Source into an AsyncSource by checking ctx before
// every operation. The caller (an errgroup, an HTTP handler, a scheduler
// loop) supplies the context; mediasan never creates one of its own.
type Cooperative struct {
	Source
}

// NewCooperative wraps src for context-aware consumption.
func NewCooperative(src Source) Cooperative {
	return Cooperative{Source: src}
}

func (c Cooperative) ReadFull(ctx context.Context, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return sanerr.Wrap(sanerr.IO, err, "context cancelled before read")
	}
	return c.Source.ReadFull(buf)
}

func (c Cooperative) Skip(ctx context.Context, n int64) error {
	if err := ctx.Err(); err != nil {
		return sanerr.Wrap(sanerr.IO, err, "context cancelled before skip")
	}
	return c.Source.Skip(n)
}
