package mp4

import (
	"github.com/corvid/mediasan/bmff"
	"github.com/corvid/mediasan/sanerr"
)

// isMvexFamily reports whether t only ever legitimately appears inside a
// fragmented movie extends box. Seeing one directly under moov or trak
// means the file is fragmented even though mvex itself was skipped or
// misplaced, which a bare top-level isFragmentType check would miss.
func isMvexFamily(t bmff.BoxType) bool {
	switch t {
	case bmff.TypeMvex, bmff.TypeMehd, bmff.TypeTrex, bmff.TypeLeva:
		return true
	}
	return false
}

// parseMoov walks a buffered moov subtree and decodes every trak into a
// Track: descend mdia/minf/stbl once per track rather than building a
// generic box tree. dataBase is the absolute offset in the original input
// of buf[0], so every child box's position can be recorded for the
// rewriter's later in-place patching.
func parseMoov(buf []byte, dataBase int64) (*MoovTree, error) {
	r := bmff.NewReader(buf)
	tree := &MoovTree{}
	sawMvhd := false

	for r.Next() {
		if isMvexFamily(r.Type()) {
			return nil, sanerr.Newf(sanerr.UnsupportedFragmented, "fragmented construct %q is not supported", r.Type()).
				WithDetail(dataBase+int64(r.Offset()), "moov."+r.Type().String())
		}
		switch r.Type() {
		case bmff.TypeMvhd:
			ts, dur, next := r.ReadMvhd()
			tree.Timescale, tree.Duration, tree.NextTrackID = ts, dur, next
			sawMvhd = true
		case bmff.TypeTrak:
			trakOffset := dataBase + int64(r.Offset())
			trakDataBase := dataBase + int64(r.DataOffset())
			track, err := parseTrak(r.Data(), trakOffset, trakDataBase)
			if err != nil {
				return nil, err
			}
			tree.Tracks = append(tree.Tracks, *track)
		case bmff.TypeUdta, bmff.TypeMeta:
			tree.UdtaMeta = append(tree.UdtaMeta, RawBox{Type: r.Type(), Raw: append([]byte(nil), r.RawBox()...)})
		}
	}

	if !sawMvhd {
		return nil, sanerr.New(sanerr.MissingRequiredBox, "moov has no mvhd")
	}
	if len(tree.Tracks) == 0 {
		return nil, sanerr.New(sanerr.MissingRequiredBox, "moov has no trak")
	}
	return tree, nil
}

func parseTrak(buf []byte, trakOffset, dataBase int64) (*Track, error) {
	r := bmff.NewReader(buf)
	track := &Track{trakOffset: trakOffset}
	sawTkhd := false

	for r.Next() {
		if isMvexFamily(r.Type()) {
			return nil, sanerr.Newf(sanerr.UnsupportedFragmented, "fragmented construct %q is not supported", r.Type()).
				WithDetail(dataBase+int64(r.Offset()), "moov.trak."+r.Type().String())
		}
		switch r.Type() {
		case bmff.TypeTkhd:
			id, dur, w, h := r.ReadTkhd()
			track.TrackID, track.Duration, track.Width, track.Height = id, dur, w, h
			sawTkhd = true
		case bmff.TypeMdia:
			mdiaOffset := dataBase + int64(r.Offset())
			mdiaDataBase := dataBase + int64(r.DataOffset())
			if err := parseMdia(r.Data(), mdiaOffset, mdiaDataBase, track); err != nil {
				return nil, err
			}
		case bmff.TypeEdts, bmff.TypeTref, bmff.TypeTrgr:
			track.Unrecognized = append(track.Unrecognized, RawBox{Type: r.Type(), Raw: append([]byte(nil), r.RawBox()...)})
		}
	}

	if !sawTkhd {
		return nil, sanerr.New(sanerr.MissingRequiredBox, "trak has no tkhd")
	}
	if track.Timescale == 0 {
		return nil, sanerr.New(sanerr.MissingRequiredBox, "trak has no mdhd/minf/stbl")
	}
	return track, nil
}

func parseMdia(buf []byte, mdiaOffset, dataBase int64, track *Track) error {
	r := bmff.NewReader(buf)
	track.mdiaOffset = mdiaOffset
	for r.Next() {
		switch r.Type() {
		case bmff.TypeMdhd:
			ts, dur, _ := r.ReadMdhd()
			track.Timescale, track.Duration = ts, dur
		case bmff.TypeHdlr:
			track.Handler = r.ReadHdlr()
		case bmff.TypeMinf:
			minfOffset := dataBase + int64(r.Offset())
			minfDataBase := dataBase + int64(r.DataOffset())
			if err := parseMinf(r.Data(), minfOffset, minfDataBase, track); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseMinf(buf []byte, minfOffset, dataBase int64, track *Track) error {
	r := bmff.NewReader(buf)
	track.minfOffset = minfOffset
	for r.Next() {
		switch r.Type() {
		case bmff.TypeStbl:
			stblOffset := dataBase + int64(r.Offset())
			stblDataBase := dataBase + int64(r.DataOffset())
			if err := parseStbl(r.Data(), stblOffset, stblDataBase, track); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseStbl(buf []byte, stblOffset, dataBase int64, track *Track) error {
	r := bmff.NewReader(buf)
	track.stblOffset = stblOffset
	var haveStsz, haveStsc, haveStco bool

	for r.Next() {
		switch r.Type() {
		case bmff.TypeStsd:
			track.SampleDescription = RawBox{Type: r.Type(), Raw: append([]byte(nil), r.RawBox()...)}
		case bmff.TypeStsz, bmff.TypeStz2:
			it := bmff.NewStszIter(r.Data())
			track.Table.SampleCount = it.Count()
			if uniform, ok := it.UniformSize(); ok {
				track.Table.UniformSize = uniform
			} else {
				for {
					sz, ok := it.Next()
					if !ok {
						break
					}
					track.Table.Sizes = append(track.Table.Sizes, sz)
				}
			}
			haveStsz = true
		case bmff.TypeStts:
			it := bmff.NewSttsIter(r.Data())
			for {
				e, ok := it.Next()
				if !ok {
					break
				}
				track.Table.Stts = append(track.Table.Stts, SttsRun{Count: e.Count, Duration: e.Duration})
			}
		case bmff.TypeCtts:
			it := bmff.NewCttsIter(r.Data(), r.Version())
			for {
				e, ok := it.Next()
				if !ok {
					break
				}
				track.Table.Ctts = append(track.Table.Ctts, CttsRun{Count: e.Count, Offset: e.Offset})
			}
		case bmff.TypeStsc:
			it := bmff.NewStscIter(r.Data())
			for {
				e, ok := it.Next()
				if !ok {
					break
				}
				track.Table.Stsc = append(track.Table.Stsc, StscRun{FirstChunk: e.FirstChunk, SamplesPerChunk: e.SamplesPerChunk, SampleDescriptionID: e.SampleDescriptionID})
			}
			haveStsc = true
		case bmff.TypeStco:
			it := bmff.NewUint32Iter(r.Data())
			for {
				v, ok := it.Next()
				if !ok {
					break
				}
				track.Table.ChunkOffsets = append(track.Table.ChunkOffsets, uint64(v))
			}
			track.stcoOffset = dataBase + int64(r.Offset())
			track.stcoSize = int64(r.Size())
			haveStco = true
		case bmff.TypeCo64:
			it := bmff.NewCo64Iter(r.Data())
			for {
				v, ok := it.Next()
				if !ok {
					break
				}
				track.Table.ChunkOffsets = append(track.Table.ChunkOffsets, v)
			}
			track.Table.Co64 = true
			track.stcoOffset = dataBase + int64(r.Offset())
			track.stcoSize = int64(r.Size())
			haveStco = true
		case bmff.TypeStss:
			it := bmff.NewUint32Iter(r.Data())
			for {
				v, ok := it.Next()
				if !ok {
					break
				}
				track.Table.SyncSamples = append(track.Table.SyncSamples, v)
			}
		}
	}

	if !haveStsz {
		return sanerr.New(sanerr.MissingRequiredBox, "stbl has no stsz/stz2")
	}
	if !haveStsc {
		return sanerr.New(sanerr.MissingRequiredBox, "stbl has no stsc")
	}
	if !haveStco {
		return sanerr.New(sanerr.MissingRequiredBox, "stbl has no stco/co64")
	}
	return nil
}
