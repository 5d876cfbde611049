package bmff

import (
	"github.com/corvid/mediasan/sanerr"
	"github.com/corvid/mediasan/source"
)

// Entry describes one top-level box discovered by the Framer.
type Entry struct {
	Type       BoxType
	Size       int64 // total box size including header
	Offset     int64 // byte offset from start of input
	HeaderSize int   // 8 or 16
}

// DataSize returns the size of the box body, excluding the header.
func (e Entry) DataSize() int64 { return e.Size - int64(e.HeaderSize) }

// Framer walks top-level boxes over a forward-only source.Source, reading
// each header and leaving the body unconsumed until the caller decides
// what to do with it: ReadBody buffers it, SkipBody discards it. Calling
// Next again before one of those is equivalent to calling SkipBody first,
// so callers that never need a box's contents can just loop on Next.
//
// TotalLen, when known (e.g. the source is backed by an in-memory buffer
// or a file whose size the caller already queried), resolves the size==0
// "box extends to end of file" sentinel. When TotalLen is <= 0 a size==0
// top-level box cannot be framed without seeking, so it is reported as
// sanerr.UnsupportedFormat — forward-only streaming inputs cannot carry
// that construct.
type Framer struct {
	src       source.Source
	totalLen  int64
	pos       int64
	entry     Entry
	consumed  bool
	err       error
	done      bool
}

// NewFramer creates a Framer over src. totalLen is the known total input
// length, or 0 if unknown.
func NewFramer(src source.Source, totalLen int64) *Framer {
	return &Framer{src: src, totalLen: totalLen, consumed: true}
}

// Next advances to the next top-level box. Returns false at end of input
// or on error; call Err to distinguish the two.
func (f *Framer) Next() bool {
	if f.done {
		return false
	}
	if !f.consumed {
		if err := f.SkipBody(); err != nil {
			return false
		}
	}

	var hdr [16]byte
	if err := f.src.ReadFull(hdr[:8]); err != nil {
		if isEOFKind(err) && f.pos > 0 {
			f.done = true
			return false
		}
		f.err = err
		f.done = true
		return false
	}

	boxStart := f.pos
	size := int64(be.Uint32(hdr[:4]))
	var t BoxType
	copy(t[:], hdr[4:8])
	headerSize := 8

	if size == 1 {
		if err := f.src.ReadFull(hdr[8:16]); err != nil {
			f.err = err
			f.done = true
			return false
		}
		size = int64(be.Uint64(hdr[8:16]))
		headerSize = 16
	} else if size != 0 && size < 8 {
		f.err = sanerr.Newf(sanerr.InvalidBoxSize, "box %q declares size %d smaller than header", t, size)
		f.done = true
		return false
	}

	if size == 0 {
		if f.totalLen <= 0 {
			f.err = sanerr.Newf(sanerr.UnsupportedFormat, "box %q extends to end of input but total length is unknown", t)
			f.done = true
			return false
		}
		size = f.totalLen - boxStart
	}

	if f.totalLen > 0 && boxStart+size > f.totalLen {
		f.err = sanerr.Newf(sanerr.InvalidBoxSize, "box %q at offset %d overruns input", t, boxStart)
		f.done = true
		return false
	}

	f.entry = Entry{Type: t, Size: size, Offset: boxStart, HeaderSize: headerSize}
	f.pos = boxStart + size
	f.consumed = f.entry.DataSize() == 0
	return true
}

// ReadBody reads the current entry's body (exactly Entry().DataSize()
// bytes) into buf and marks it consumed.
func (f *Framer) ReadBody(buf []byte) error {
	if err := f.src.ReadFull(buf); err != nil {
		f.err = err
		f.done = true
		return err
	}
	f.consumed = true
	return nil
}

// SkipBody discards the current entry's body without buffering it.
func (f *Framer) SkipBody() error {
	if f.consumed {
		return nil
	}
	if err := f.src.Skip(f.entry.DataSize()); err != nil {
		f.err = err
		f.done = true
		return err
	}
	f.consumed = true
	return nil
}

// Entry returns the box found by the most recent successful Next call.
func (f *Framer) Entry() Entry { return f.entry }

// Err returns the first error encountered, if any.
func (f *Framer) Err() error { return f.err }

func isEOFKind(err error) bool {
	se, ok := err.(*sanerr.Error)
	return ok && se.Kind == sanerr.UnexpectedEOF
}
