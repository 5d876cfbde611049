// Package mp4 validates and rewrites ISO BMFF (MP4) files: it parses the
// moov sample tables, checks every cross-reference invariant between
// them, and re-emits a canonical single-metadata-prefix layout with chunk
// offsets patched for their new position.
package mp4

import "github.com/corvid/mediasan/bmff"

// DataSpan identifies a contiguous run of sample data in the original
// input, normally the single mdat box (or the coalesced run of
// contiguous mdat boxes).
type DataSpan struct {
	Offset int64
	Length int64
}

// OpaqueBox is a top-level box mediasan doesn't interpret (free, skip, a
// top-level udta/meta, an unrecognized four-character code) but preserves
// verbatim, recorded as a byte span in the original input so the rewriter
// can copy it straight from the source buffer.
type OpaqueBox struct {
	Type   bmff.BoxType
	Offset int64
	Length int64
}

// RawBox is a sub-box mediasan doesn't interpret but keeps, carried as
// already-buffered bytes (it lives inside moov, which is always buffered
// whole) rather than a file offset.
type RawBox struct {
	Type bmff.BoxType
	Raw  []byte // the complete box, header included
}

// SttsRun is one run-length entry of an stts table.
type SttsRun struct {
	Count    uint32
	Duration uint32
}

// CttsRun is one run-length entry of a ctts table.
type CttsRun struct {
	Count  uint32
	Offset int32
}

// StscRun is one run of an stsc table (first chunk, samples per chunk,
// sample description index).
type StscRun struct {
	FirstChunk          uint32
	SamplesPerChunk     uint32
	SampleDescriptionID uint32
}

// SampleTable holds one track's sample-table entries in the lazily
// projected run-length form the on-disk boxes use; Validate expands them
// only far enough to check the cross-reference invariants, never
// materializing one entry per sample.
type SampleTable struct {
	SampleCount  uint32
	UniformSize  uint32 // nonzero means every sample has this size; Sizes is unused
	Sizes        []uint32
	Stts         []SttsRun
	Ctts         []CttsRun // empty when the track has no ctts
	Stsc         []StscRun
	ChunkOffsets []uint64 // always widened to uint64 regardless of stco/co64 source
	SyncSamples  []uint32 // 1-based sample numbers from stss; nil means every sample is sync
	Co64         bool     // true if the source used co64 rather than stco
}

// Track is one trak's validated, decoded state.
type Track struct {
	TrackID   uint32
	Handler   [4]byte // "vide", "soun", ...
	Timescale uint32
	Duration  uint64
	Width     uint32 // 16.16 fixed point, tkhd
	Height    uint32 // 16.16 fixed point, tkhd
	SampleDescription RawBox // stsd, preserved verbatim
	Table     SampleTable
	Unrecognized []RawBox // boxes under this trak mediasan doesn't interpret (edts, tref, trgr)

	// Absolute byte offsets (in the original input) of this track's own
	// trak box and its mdia/minf/stbl/stco-or-co64 descendants, recorded
	// by parseTrak so the rewriter can patch chunk offsets and, on stco
	// promotion, backpatch ancestor box sizes in place instead of
	// re-encoding the moov tree from decoded fields.
	trakOffset, mdiaOffset, minfOffset, stblOffset int64
	stcoOffset                                     int64 // start of the stco/co64 box
	stcoSize                                       int64 // its total size, header included
}

// MoovTree is the fully decoded, validated moov subtree.
type MoovTree struct {
	Timescale   uint32
	Duration    uint64
	NextTrackID uint32
	Tracks      []Track
	UdtaMeta    []RawBox // udta/meta siblings under moov, preserved verbatim
}

// Output is the result of a successful Sanitize call.
type Output struct {
	// Metadata is the replacement metadata prefix (ftyp, preserved opaque
	// boxes, the rewritten moov, and an mdat header) to splice in front of
	// the input bytes that Data locates. A nil
	// Metadata means the original prefix was already canonical and the
	// input can be used unmodified.
	Metadata []byte
	Data     DataSpan
}
