package mp4

import (
	"github.com/corvid/mediasan/bmff"
	"github.com/corvid/mediasan/sanerr"
	"github.com/corvid/mediasan/source"
)

// Parsed is the fully validated state of one MP4 input: the decoded moov
// tree, the coalesced mdat span, and every top-level box mediasan doesn't
// interpret, partitioned by whether it appeared before or after mdat (the
// rewriter preserves that partition).
type Parsed struct {
	Ftyp       bmff.FtypInfo
	Moov       MoovTree
	Data       DataSpan
	Pre        []OpaqueBox
	Post       []OpaqueBox
	MoovOffset int64
	MoovSize   int64
	FtypOffset int64
	FtypSize   int64

	// ftypRaw, moovRaw and buf are populated only by Sanitize (which has
	// the whole input buffered) for splicing the rewritten output back
	// together. Validate itself never needs them.
	ftypRaw []byte
	moovRaw []byte
	buf     []byte
}

// rawAt returns the raw bytes of an OpaqueBox, sliced from the original
// buffer Sanitize was given.
func (p *Parsed) rawAt(ob OpaqueBox) []byte {
	return p.buf[ob.Offset : ob.Offset+ob.Length]
}

var isomBrand = [4]byte{'i', 's', 'o', 'm'}

// hasIsomBrand reports whether isom is the major brand or among the
// compatible brands; files outside the isom brand family are rejected
// rather than sanitized.
func hasIsomBrand(f bmff.FtypInfo) bool {
	if f.MajorBrand == isomBrand {
		return true
	}
	for _, b := range f.Compatible {
		if b == isomBrand {
			return true
		}
	}
	return false
}

func isFragmentType(t bmff.BoxType) bool {
	switch t {
	case bmff.TypeMoof, bmff.TypeMfra, bmff.TypeStyp, bmff.TypeSidx, bmff.TypeMvex, bmff.TypeEmsg:
		return true
	}
	return false
}

// Validate performs a single forward pass over src, rejecting fragmented
// construction, discontiguous media data, and cross-reference mismatches,
// and returning the decoded tree for callers that only need validation,
// not a rewrite.
func Validate(src source.Source, totalLen int64) (*Parsed, error) {
	f := bmff.NewFramer(src, totalLen)
	p := &Parsed{}
	sawFtyp, sawMoov := false, false
	var mdatSpans []DataSpan
	var mdatHeaderSize int64

	for f.Next() {
		e := f.Entry()
		if isFragmentType(e.Type) {
			return nil, sanerr.Newf(sanerr.UnsupportedFragmented, "fragmented construct %q is not supported", e.Type).WithDetail(e.Offset, e.Type.String())
		}
		switch e.Type {
		case bmff.TypeFtyp:
			if sawFtyp {
				return nil, sanerr.New(sanerr.InvalidBoxLayout, "duplicate ftyp").WithDetail(e.Offset, "ftyp")
			}
			buf := make([]byte, e.DataSize())
			if err := f.ReadBody(buf); err != nil {
				return nil, err
			}
			p.Ftyp = bmff.ReadFtyp(buf)
			if !hasIsomBrand(p.Ftyp) {
				return nil, sanerr.New(sanerr.UnsupportedFormat, "ftyp does not list the isom compatible brand").
					WithDetail(e.Offset, "ftyp")
			}
			p.FtypOffset = e.Offset
			p.FtypSize = e.Size
			sawFtyp = true

		case bmff.TypeMoov:
			if sawMoov {
				return nil, sanerr.New(sanerr.InvalidBoxLayout, "duplicate moov").WithDetail(e.Offset, "moov")
			}
			buf := make([]byte, e.DataSize())
			if err := f.ReadBody(buf); err != nil {
				return nil, err
			}
			tree, err := parseMoov(buf, e.Offset+int64(e.HeaderSize))
			if err != nil {
				return nil, err
			}
			p.Moov = *tree
			p.MoovOffset = e.Offset
			p.MoovSize = e.Size
			sawMoov = true

		case bmff.TypeMdat:
			// Whole-box spans, so that back-to-back mdat boxes are adjacent;
			// the first box's header is stripped after coalescing.
			if len(mdatSpans) == 0 {
				mdatHeaderSize = int64(e.HeaderSize)
			}
			mdatSpans = append(mdatSpans, DataSpan{Offset: e.Offset, Length: e.Size})
			if err := f.SkipBody(); err != nil {
				return nil, err
			}

		default:
			box := OpaqueBox{Type: e.Type, Offset: e.Offset, Length: e.Size}
			if len(mdatSpans) == 0 {
				p.Pre = append(p.Pre, box)
			} else {
				p.Post = append(p.Post, box)
			}
			if err := f.SkipBody(); err != nil {
				return nil, err
			}
		}
	}
	if err := f.Err(); err != nil {
		return nil, err
	}
	if !sawFtyp {
		return nil, sanerr.New(sanerr.MissingRequiredBox, "missing ftyp")
	}
	if !sawMoov {
		return nil, sanerr.New(sanerr.MissingRequiredBox, "missing moov")
	}
	if len(mdatSpans) == 0 {
		return nil, sanerr.New(sanerr.MissingRequiredBox, "missing mdat")
	}

	span, err := coalesceMdat(mdatSpans)
	if err != nil {
		return nil, err
	}
	span.Offset += mdatHeaderSize
	span.Length -= mdatHeaderSize
	p.Data = span

	if err := crossReference(&p.Moov, span); err != nil {
		return nil, err
	}

	return p, nil
}

// coalesceMdat folds a run of mdat boxes into one span, requiring they be
// byte-adjacent; a gap means some other box sits between them, which the
// spec treats as discontiguous media data the rewriter cannot relocate as
// a unit.
func coalesceMdat(spans []DataSpan) (DataSpan, error) {
	out := spans[0]
	for _, s := range spans[1:] {
		if s.Offset != out.Offset+out.Length {
			return DataSpan{}, sanerr.Newf(sanerr.UnsupportedDiscontiguousMediaData,
				"mdat runs are not contiguous: gap between offset %d and %d", out.Offset+out.Length, s.Offset)
		}
		out.Length += s.Length
	}
	return out, nil
}

// crossReference checks every invariant spec.md's SampleTableInvariants
// names: stsz count equals the sum of stts run counts, equals the sum of
// ctts run counts when ctts is present, equals the sum of stsc-projected
// samples per chunk; every chunk offset plus its projected byte span
// falls within the mdat span; stss entries are strictly increasing and
// within [1, sampleCount].
func crossReference(tree *MoovTree, data DataSpan) error {
	for ti := range tree.Tracks {
		t := &tree.Tracks[ti]
		tbl := &t.Table

		if sum := sumStts(tbl.Stts); sum != tbl.SampleCount {
			return sanerr.Newf(sanerr.InvalidCrossReference,
				"track %d: stts total %d does not match sample count %d", t.TrackID, sum, tbl.SampleCount)
		}
		if len(tbl.Ctts) > 0 {
			if sum := sumCtts(tbl.Ctts); sum != tbl.SampleCount {
				return sanerr.Newf(sanerr.InvalidCrossReference,
					"track %d: ctts total %d does not match sample count %d", t.TrackID, sum, tbl.SampleCount)
			}
		}

		chunkSampleCounts, err := projectStsc(tbl.Stsc, len(tbl.ChunkOffsets))
		if err != nil {
			return sanerr.Newf(sanerr.InvalidCrossReference, "track %d: %s", t.TrackID, err)
		}
		var projected uint64
		for _, n := range chunkSampleCounts {
			projected += uint64(n)
		}
		if projected != uint64(tbl.SampleCount) {
			return sanerr.Newf(sanerr.InvalidCrossReference,
				"track %d: stsc projects %d samples, stsz declares %d", t.TrackID, projected, tbl.SampleCount)
		}

		if err := checkChunkOffsets(t, chunkSampleCounts, data); err != nil {
			return err
		}

		if err := checkSyncSamples(t); err != nil {
			return err
		}
	}
	return nil
}

func sumStts(runs []SttsRun) uint32 {
	var n uint32
	for _, r := range runs {
		n += r.Count
	}
	return n
}

func sumCtts(runs []CttsRun) uint32 {
	var n uint32
	for _, r := range runs {
		n += r.Count
	}
	return n
}

// projectStsc expands the run-length stsc table into a per-chunk sample
// count slice, visiting each stsc entry once.
func projectStsc(runs []StscRun, chunkCount int) ([]uint32, error) {
	if len(runs) == 0 {
		if chunkCount == 0 {
			return nil, nil
		}
		return nil, sanerr.New(sanerr.InvalidCrossReference, "stsc is empty but stco/co64 is not")
	}
	out := make([]uint32, chunkCount)
	for i, run := range runs {
		if run.FirstChunk == 0 || int(run.FirstChunk) > chunkCount+1 {
			return nil, sanerr.Newf(sanerr.InvalidCrossReference, "stsc entry %d: first_chunk %d out of range", i, run.FirstChunk)
		}
		var nextFirst uint32
		if i+1 < len(runs) {
			nextFirst = runs[i+1].FirstChunk
			if nextFirst <= run.FirstChunk {
				return nil, sanerr.Newf(sanerr.InvalidCrossReference, "stsc entry %d: first_chunk is not strictly increasing", i)
			}
		} else {
			nextFirst = uint32(chunkCount) + 1
		}
		for chunk := run.FirstChunk; chunk < nextFirst; chunk++ {
			if int(chunk)-1 >= chunkCount {
				return nil, sanerr.New(sanerr.InvalidCrossReference, "stsc references more chunks than stco/co64 declares")
			}
			out[chunk-1] = run.SamplesPerChunk
		}
	}
	return out, nil
}

// checkChunkOffsets verifies every chunk lies entirely within the mdat
// span. It does not verify individual sample byte ranges within a chunk,
// only per-chunk containment.
func checkChunkOffsets(t *Track, chunkSampleCounts []uint32, data DataSpan) error {
	tbl := &t.Table
	sampleIdx := 0
	for ci, off := range tbl.ChunkOffsets {
		n := int(chunkSampleCounts[ci])
		var chunkLen uint64
		if tbl.UniformSize != 0 {
			chunkLen = uint64(n) * uint64(tbl.UniformSize)
		} else {
			for s := 0; s < n; s++ {
				if sampleIdx+s >= len(tbl.Sizes) {
					return sanerr.Newf(sanerr.InvalidCrossReference, "track %d: stsz table shorter than projected sample count", t.TrackID)
				}
				chunkLen += uint64(tbl.Sizes[sampleIdx+s])
			}
		}
		sampleIdx += n

		start := off
		end := start + chunkLen
		if start < uint64(data.Offset) || end > uint64(data.Offset+data.Length) {
			return sanerr.Newf(sanerr.InvalidCrossReference,
				"track %d: chunk %d spans [%d,%d), outside mdat [%d,%d)",
				t.TrackID, ci, start, end, data.Offset, data.Offset+data.Length)
		}
	}
	return nil
}

func checkSyncSamples(t *Track) error {
	tbl := &t.Table
	var prev uint32
	for i, s := range tbl.SyncSamples {
		if s == 0 || s > tbl.SampleCount {
			return sanerr.Newf(sanerr.InvalidCrossReference, "track %d: stss entry %d value %d out of range", t.TrackID, i, s)
		}
		if i > 0 && s <= prev {
			return sanerr.Newf(sanerr.InvalidCrossReference, "track %d: stss is not strictly increasing", t.TrackID)
		}
		prev = s
	}
	return nil
}
