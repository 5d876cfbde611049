// Package riff frames RIFF container chunks (the format underlying WebP)
// over a forward-only source.Source, the same way bmff frames ISOBMFF
// boxes: a header-only Framer that leaves each chunk's payload unconsumed
// until the caller reads or skips it.
package riff

import (
	"encoding/binary"

	"github.com/corvid/mediasan/sanerr"
	"github.com/corvid/mediasan/source"
)

var le = binary.LittleEndian

// FourCC is a four-character chunk or form identifier, compared and
// printed the way bmff.BoxType is, but RIFF stores its tags and sizes
// little-endian rather than big-endian.
type FourCC [4]byte

func (f FourCC) String() string { return string(f[:]) }

var (
	FourCCRIFF = FourCC{'R', 'I', 'F', 'F'}
	FourCCWEBP = FourCC{'W', 'E', 'B', 'P'}
	FourCCVP8  = FourCC{'V', 'P', '8', ' '}
	FourCCVP8L = FourCC{'V', 'P', '8', 'L'}
	FourCCVP8X = FourCC{'V', 'P', '8', 'X'}
	FourCCALPH = FourCC{'A', 'L', 'P', 'H'}
	FourCCANIM = FourCC{'A', 'N', 'I', 'M'}
	FourCCANMF = FourCC{'A', 'N', 'M', 'F'}
	FourCCICCP = FourCC{'I', 'C', 'C', 'P'}
	FourCCEXIF = FourCC{'E', 'X', 'I', 'F'}
	FourCCXMP  = FourCC{'X', 'M', 'P', ' '}
)

const (
	FormHeaderSize  = 12 // "RIFF" + size(4) + form type(4)
	ChunkHeaderSize = 8  // fourcc(4) + size(4)
	MaxChunkSize    = ^uint32(0) - ChunkHeaderSize - 1
)

// PaddedSize rounds size up to the next even number, matching RIFF's
// single-byte padding of odd-length chunk payloads.
func PaddedSize(size uint32) uint32 { return size + (size & 1) }

// FormHeader is the parsed 12-byte RIFF form header.
type FormHeader struct {
	FormType FourCC
	Size     uint32 // declared size of everything after the size field, i.e. excluding the 8-byte "RIFF"+size prefix
}

// ReadFormHeader reads and validates the leading "RIFF" <size> <form type>
// triplet from src.
func ReadFormHeader(src source.Source) (FormHeader, error) {
	var hdr [FormHeaderSize]byte
	if err := src.ReadFull(hdr[:]); err != nil {
		return FormHeader{}, err
	}
	var tag FourCC
	copy(tag[:], hdr[0:4])
	if tag != FourCCRIFF {
		return FormHeader{}, sanerr.Newf(sanerr.InvalidChunkLayout, "not a RIFF file: leading tag %q", tag)
	}
	size := le.Uint32(hdr[4:8])
	if size < 4 {
		return FormHeader{}, sanerr.Newf(sanerr.InvalidChunkSize, "RIFF size %d too small to hold a form type", size)
	}
	var form FourCC
	copy(form[:], hdr[8:12])
	return FormHeader{FormType: form, Size: size}, nil
}

// Entry describes one chunk discovered by the Framer: its tag, declared
// payload size, and offset.
type Entry struct {
	Type   FourCC
	Size   uint32 // payload size, not including the 8-byte header or padding
	Offset int64  // offset of the chunk header from the start of input
}

// Framer walks RIFF chunks over a forward-only source.Source. Like
// bmff.Framer, Next reads only the 8-byte chunk header; the caller reads
// or skips the body (and its pad byte) via ReadBody/SkipBody before
// calling Next again, or Next does it for them.
type Framer struct {
	src      source.Source
	remain   int64 // bytes left in the RIFF form, or -1 if unbounded
	pos      int64
	entry    Entry
	consumed bool
	err      error
	done     bool
}

// NewFramer creates a Framer that reads chunks from src. formSize is the
// number of bytes remaining in the enclosing RIFF form (FormHeader.Size-4,
// since the form type was already consumed), or -1 if the caller doesn't
// want chunk iteration bounded by a declared form size.
func NewFramer(src source.Source, formSize int64) *Framer {
	return &Framer{src: src, remain: formSize, consumed: true}
}

// Next advances to the next chunk. Returns false at end of input (or the
// declared form size) or on error; call Err to distinguish the two.
func (f *Framer) Next() bool {
	if f.done {
		return false
	}
	if !f.consumed {
		if err := f.SkipBody(); err != nil {
			return false
		}
	}
	if f.remain >= 0 && f.remain < ChunkHeaderSize {
		if f.remain != 0 {
			f.err = sanerr.Newf(sanerr.InvalidChunkSize, "%d trailing bytes too small for a chunk header", f.remain)
			f.done = true
			return false
		}
		f.done = true
		return false
	}

	var hdr [ChunkHeaderSize]byte
	if err := f.src.ReadFull(hdr[:]); err != nil {
		if isEOFKind(err) && f.pos > 0 {
			f.done = true
			return false
		}
		f.err = err
		f.done = true
		return false
	}

	var t FourCC
	copy(t[:], hdr[0:4])
	size := le.Uint32(hdr[4:8])
	if size > uint32(MaxChunkSize) {
		f.err = sanerr.Newf(sanerr.InvalidChunkSize, "chunk %q declares size %d exceeding the RIFF limit", t, size)
		f.done = true
		return false
	}

	chunkStart := f.pos
	padded := int64(PaddedSize(size))
	total := ChunkHeaderSize + padded
	if f.remain >= 0 {
		if total > f.remain {
			f.err = sanerr.Newf(sanerr.InvalidChunkSize, "chunk %q at offset %d overruns its RIFF form", t, chunkStart)
			f.done = true
			return false
		}
		f.remain -= total
	}

	f.entry = Entry{Type: t, Size: size, Offset: chunkStart}
	f.pos = chunkStart + total
	f.consumed = size == 0 && padded == 0
	return true
}

// ReadBody reads the current entry's payload (exactly Entry().Size bytes)
// into buf, then discards its pad byte if any, and marks it consumed.
func (f *Framer) ReadBody(buf []byte) error {
	if err := f.src.ReadFull(buf); err != nil {
		f.err = err
		f.done = true
		return err
	}
	if err := f.skipPad(); err != nil {
		return err
	}
	f.consumed = true
	return nil
}

// SkipBody discards the current entry's payload and pad byte without
// buffering them.
func (f *Framer) SkipBody() error {
	if f.consumed {
		return nil
	}
	if err := f.src.Skip(int64(PaddedSize(f.entry.Size))); err != nil {
		f.err = err
		f.done = true
		return err
	}
	f.consumed = true
	return nil
}

func (f *Framer) skipPad() error {
	if f.entry.Size&1 == 0 {
		return nil
	}
	if err := f.src.Skip(1); err != nil {
		f.err = err
		f.done = true
		return err
	}
	return nil
}

// Entry returns the chunk found by the most recent successful Next call.
func (f *Framer) Entry() Entry { return f.entry }

// Err returns the first error encountered, if any.
func (f *Framer) Err() error { return f.err }

func isEOFKind(err error) bool {
	se, ok := err.(*sanerr.Error)
	return ok && se.Kind == sanerr.UnexpectedEOF
}
