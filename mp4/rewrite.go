package mp4

import (
	"encoding/binary"

	"github.com/corvid/mediasan/bmff"
	"github.com/corvid/mediasan/sanerr"
	"github.com/corvid/mediasan/source"
)

var be = binary.BigEndian

// Sanitize validates buf as a complete, fully-buffered MP4 file and
// returns the canonical rewrite: a metadata prefix (ftyp, any pre-mdat
// opaque boxes, the rewritten moov, any post-mdat opaque boxes, and a
// header for the mdat box wrapping the sample data) plus a span locating
// the sample data within buf, which the caller copies from buf
// unmodified. Metadata is nil when the input is already laid out
// canonically and chunk offsets need no adjustment.
//
// The rewritten moov is the original moov's bytes with only its
// stco/co64 entries patched in place: every other box (mvhd, tkhd, mdhd,
// stsd, edts, udta, ...) survives byte-for-byte. A track is promoted
// from stco to co64 only when shifting its chunk offsets would overflow
// 32 bits, in which case its stco box is replaced by a freshly encoded
// co64 box and every ancestor (stbl, minf, mdia, trak, moov) has its
// size field grown by the same delta in place.
//
// The rewrite needs random access to every small, bufferable box (ftyp,
// moov, free/udta siblings) to splice them into a new prefix; only mdat,
// which can be arbitrarily large, is ever referenced by span instead of
// copied. Callers driving an AsyncSource first drain it into such a
// buffer (see SanitizeAsync) for the same reason.
func Sanitize(buf []byte) (Output, error) {
	src := source.NewBufferSource(buf)
	p, err := Validate(src, int64(len(buf)))
	if err != nil {
		return Output{}, err
	}
	p.buf = buf
	p.ftypRaw = buf[p.FtypOffset : p.FtypOffset+p.FtypSize]
	p.moovRaw = buf[p.MoovOffset : p.MoovOffset+p.MoovSize]

	// The metadata ends with a fresh mdat header so that Metadata followed
	// by the Data bytes is a complete file.
	mdatHdr := []byte{0, 0, 0, 0, 'm', 'd', 'a', 't'}
	if size := uint64(p.Data.Length) + 8; size <= uint32Max {
		be.PutUint32(mdatHdr, uint32(size))
	} else {
		be.PutUint32(mdatHdr, 1)
		mdatHdr = be.AppendUint64(mdatHdr, size+8)
	}
	tailLen := sumOpaque(p.Post) + int64(len(mdatHdr))

	promoted := seedPromoted(p)
	newMoov := patchMoov(p, promoted, 0)
	prefixLen := ftypRawLen(p) + sumOpaque(p.Pre) + int64(len(newMoov)) + tailLen

	// Further passes: a promotion decided against the first estimate of
	// prefixLen could in principle need a bigger moov (and hence a bigger
	// prefixLen) once more tracks cross the uint32 boundary. At most three
	// rounds are run since each round can only grow prefixLen by a few
	// bytes per promoted track's chunk table.
	for i := 0; i < 3; i++ {
		delta := prefixLen - p.Data.Offset
		more := false
		for ti := range p.Moov.Tracks {
			if promoted[ti] {
				continue
			}
			if needsPromotion(&p.Moov.Tracks[ti], delta) {
				promoted[ti] = true
				more = true
			}
		}
		if !more {
			break
		}
		newMoov = patchMoov(p, promoted, 0)
		prefixLen = ftypRawLen(p) + sumOpaque(p.Pre) + int64(len(newMoov)) + tailLen
	}

	delta := prefixLen - p.Data.Offset
	if delta == 0 && !anyPromoted(p, promoted) {
		return Output{Metadata: nil, Data: p.Data}, nil
	}

	for ti := range p.Moov.Tracks {
		if needsPromotion(&p.Moov.Tracks[ti], delta) && !promoted[ti] {
			return Output{}, sanerr.New(sanerr.ArithmeticOverflow, "chunk offset promotion did not converge")
		}
	}
	final := patchMoov(p, promoted, delta)

	out := make([]byte, 0, ftypRawLen(p)+sumOpaque(p.Pre)+int64(len(final))+tailLen)
	out = append(out, p.ftypRaw...)
	for _, ob := range p.Pre {
		out = append(out, p.rawAt(ob)...)
	}
	out = append(out, final...)
	for _, ob := range p.Post {
		out = append(out, p.rawAt(ob)...)
	}
	out = append(out, mdatHdr...)

	return Output{Metadata: out, Data: p.Data}, nil
}

// seedPromoted marks every track that already uses co64 so patchMoov
// never demotes one back to stco.
func seedPromoted(p *Parsed) []bool {
	promoted := make([]bool, len(p.Moov.Tracks))
	for i, t := range p.Moov.Tracks {
		promoted[i] = t.Table.Co64
	}
	return promoted
}

// anyPromoted reports whether any track is converted from stco to co64;
// tracks that were already co64 in the input do not count.
func anyPromoted(p *Parsed, promoted []bool) bool {
	for i, v := range promoted {
		if v && !p.Moov.Tracks[i].Table.Co64 {
			return true
		}
	}
	return false
}

func needsPromotion(t *Track, delta int64) bool {
	if t.Table.Co64 {
		return false
	}
	for _, off := range t.Table.ChunkOffsets {
		if int64(off)+delta > uint32Max {
			return true
		}
	}
	return false
}

const uint32Max = 0xffffffff

func sumOpaque(boxes []OpaqueBox) int64 {
	var n int64
	for _, b := range boxes {
		n += b.Length
	}
	return n
}

func ftypRawLen(p *Parsed) int64 { return int64(len(p.ftypRaw)) }

// patchMoov returns a copy of the original moov bytes with every track's
// stco/co64 entries advanced by shiftOffset, converting stco to co64 in
// place for every track index where promoted[i] is true and the track
// isn't already co64. Every other byte — mvhd, tkhd, mdhd, stsd, edts,
// udta, and any other sibling box — is preserved verbatim.
func patchMoov(p *Parsed, promoted []bool, shiftOffset int64) []byte {
	out := append([]byte(nil), p.moovRaw...)
	var grow int64

	for i := range p.Moov.Tracks {
		t := &p.Moov.Tracks[i]
		stcoRel := int(t.stcoOffset-p.MoovOffset) + int(grow)

		if promoted[i] && !t.Table.Co64 {
			entries := make([]uint64, len(t.Table.ChunkOffsets))
			for j, off := range t.Table.ChunkOffsets {
				entries[j] = uint64(int64(off) + shiftOffset)
			}
			newBox := encodeCo64(entries)
			oldSize := int(t.stcoSize)
			out = spliceBytes(out, stcoRel, stcoRel+oldSize, newBox)

			sizeDelta := int64(len(newBox) - oldSize)
			patchAncestorSizes(out, p, t, grow, sizeDelta)
			grow += sizeDelta
		} else {
			patchOffsetsInPlace(out, stcoRel, &t.Table, shiftOffset)
		}
	}

	patchBoxSize(out, 0, grow)
	return out
}

// patchOffsetsInPlace overwrites an stco/co64 box's existing entries with
// the same values advanced by shiftOffset, leaving the box's size and
// every other byte in out untouched.
func patchOffsetsInPlace(out []byte, stcoRel int, tbl *SampleTable, shiftOffset int64) {
	const headerLen = 16 // size(4) + type(4) + version/flags(4) + entry_count(4)
	width := 4
	if tbl.Co64 {
		width = 8
	}
	for i, off := range tbl.ChunkOffsets {
		newOff := uint64(int64(off) + shiftOffset)
		pos := stcoRel + headerLen + i*width
		if width == 4 {
			be.PutUint32(out[pos:], uint32(newOff))
		} else {
			be.PutUint64(out[pos:], newOff)
		}
	}
}

// patchAncestorSizes grows the 4-byte size field of every box that
// contains t's stco/co64 box (stbl, minf, mdia, trak) by delta. priorGrow
// is the total byte growth already spliced into out by earlier tracks'
// promotions, needed to locate these ancestors' original positions in
// out since they all precede the current track's own promotion.
func patchAncestorSizes(out []byte, p *Parsed, t *Track, priorGrow, delta int64) {
	for _, off := range [...]int64{t.stblOffset, t.minfOffset, t.mdiaOffset, t.trakOffset} {
		patchBoxSize(out, int(off-p.MoovOffset)+int(priorGrow), delta)
	}
}

// patchBoxSize adds delta to the 4-byte size field at out[rel:rel+4].
func patchBoxSize(out []byte, rel int, delta int64) {
	if delta == 0 {
		return
	}
	old := be.Uint32(out[rel : rel+4])
	be.PutUint32(out[rel:rel+4], uint32(int64(old)+delta))
}

// spliceBytes replaces buf[start:end] with replacement, shifting
// everything after end accordingly.
func spliceBytes(buf []byte, start, end int, replacement []byte) []byte {
	out := make([]byte, 0, len(buf)-(end-start)+len(replacement))
	out = append(out, buf[:start]...)
	out = append(out, replacement...)
	out = append(out, buf[end:]...)
	return out
}

// encodeCo64 builds a complete, standalone co64 box for entries.
func encodeCo64(entries []uint64) []byte {
	w := bmff.NewWriter(make([]byte, 16+8*len(entries)))
	w.WriteCo64(entries)
	return w.Bytes()
}
