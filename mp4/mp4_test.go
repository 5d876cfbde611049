package mp4

import (
	"testing"

	"github.com/corvid/mediasan/bmff"
	"github.com/corvid/mediasan/sanerr"
	"github.com/corvid/mediasan/source"
)

const trackEnabledFlag = 0x000001

// rawStsd builds a minimal complete stsd box: version/flags + a zero
// entry count. parseStbl only needs stsd to be present and well-formed as
// a full box; its contents are preserved opaquely by the rewriter.
func rawStsd() []byte {
	w := bmff.NewWriter(make([]byte, 32))
	w.StartFullBox(bmff.TypeStsd, 0, 0)
	w.Write([]byte{0, 0, 0, 0}) // entry_count
	w.EndBox()
	return append([]byte(nil), w.Bytes()...)
}

// buildMinimalMP4 assembles a one-track, one-chunk MP4 with sampleCount
// samples of uniformSize bytes each, laid out canonically: ftyp, moov,
// mdat, with the chunk offset already pointing at mdat's data start.
func buildMinimalMP4(t *testing.T, sampleCount, uniformSize uint32) []byte {
	t.Helper()

	ftyp := bmff.NewWriter(make([]byte, 32))
	ftyp.WriteFtyp([4]byte{'i', 's', 'o', 'm'}, 512, [][4]byte{{'m', 'p', '4', '2'}, {'i', 's', 'o', 'm'}})

	dataLen := int64(sampleCount * uniformSize)

	// moov is built in two passes since the chunk offset depends on moov's
	// own size, which depends on the chunk offset's encoded width; a single
	// stco entry with a placeholder is patched once the real size is known.
	buildMoov := func(chunkOffset uint32) []byte {
		w := bmff.NewWriter(make([]byte, 1024))
		w.StartBox(bmff.TypeMoov)
		w.WriteMvhd(1000, uint64(sampleCount)*100, 2)

		w.StartBox(bmff.TypeTrak)
		w.WriteTkhd(trackEnabledFlag, 1, uint64(sampleCount)*100, 320<<16, 240<<16)
		w.StartBox(bmff.TypeMdia)
		w.WriteMdhd(1000, uint64(sampleCount)*100, 0x55c4)
		w.WriteHdlr([4]byte{'v', 'i', 'd', 'e'}, "VideoHandler")
		w.StartBox(bmff.TypeMinf)
		w.WriteVmhd()
		w.StartFullBox(bmff.TypeDinf, 0, 0)
		w.WriteDref()
		w.EndBox()
		w.StartBox(bmff.TypeStbl)
		w.WriteRaw(rawStsd())
		w.WriteStts([]bmff.SttsEntry{{Count: sampleCount, Duration: 100}})
		w.WriteStsc([]bmff.StscEntry{{FirstChunk: 1, SamplesPerChunk: sampleCount, SampleDescriptionID: 1}})
		w.WriteStsz(uniformSize, sampleCount, nil)
		w.WriteStco([]uint32{chunkOffset})
		w.EndBox() // stbl
		w.EndBox() // minf
		w.EndBox() // mdia
		w.EndBox() // trak
		w.EndBox() // moov
		return append([]byte(nil), w.Bytes()...)
	}

	probe := buildMoov(0)
	mdatOffset := int64(len(ftyp.Bytes())) + int64(len(probe)) + 8 // +8 for mdat header
	moov := buildMoov(uint32(mdatOffset))
	if len(moov) != len(probe) {
		t.Fatalf("moov size changed between passes: %d vs %d", len(probe), len(moov))
	}

	out := append([]byte(nil), ftyp.Bytes()...)
	out = append(out, moov...)

	mdat := bmff.NewWriter(make([]byte, 8+dataLen))
	mdat.StartBox(bmff.TypeMdat)
	for i := int64(0); i < dataLen; i++ {
		mdat.Write([]byte{byte(i)})
	}
	mdat.EndBox()
	out = append(out, mdat.Bytes()...)

	return out
}

func TestValidateMinimalMP4(t *testing.T) {
	buf := buildMinimalMP4(t, 10, 100)
	p, err := Validate(source.NewBufferSource(buf), int64(len(buf)))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(p.Moov.Tracks) != 1 {
		t.Fatalf("tracks = %d, want 1", len(p.Moov.Tracks))
	}
	if p.Moov.Tracks[0].Table.SampleCount != 10 {
		t.Fatalf("sample count = %d, want 10", p.Moov.Tracks[0].Table.SampleCount)
	}
}

func TestSanitizeCanonicalInputIsUnchanged(t *testing.T) {
	buf := buildMinimalMP4(t, 10, 100)
	out, err := Sanitize(buf)
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	if out.Metadata != nil {
		t.Fatalf("expected a canonical input to need no rewrite, got %d bytes of metadata", len(out.Metadata))
	}
}

func TestSanitizeRejectsFragmented(t *testing.T) {
	buf := buildMinimalMP4(t, 10, 100)
	moof := bmff.NewWriter(make([]byte, 16))
	moof.StartBox(bmff.TypeMoof)
	moof.EndBox()
	buf = append(buf, moof.Bytes()...)

	if _, err := Sanitize(buf); err == nil {
		t.Fatal("expected fragmented construct to be rejected")
	} else if se, ok := err.(*sanerr.Error); !ok || se.Kind != sanerr.UnsupportedFragmented {
		t.Fatalf("err = %v, want UnsupportedFragmented", err)
	}
}

func TestSanitizeRejectsMissingMoov(t *testing.T) {
	ftyp := bmff.NewWriter(make([]byte, 32))
	ftyp.WriteFtyp([4]byte{'i', 's', 'o', 'm'}, 512, nil)
	mdat := bmff.NewWriter(make([]byte, 16))
	mdat.StartBox(bmff.TypeMdat)
	mdat.Write([]byte{1, 2, 3, 4})
	mdat.EndBox()
	buf := append(append([]byte(nil), ftyp.Bytes()...), mdat.Bytes()...)

	if _, err := Sanitize(buf); err == nil {
		t.Fatal("expected missing moov to be rejected")
	}
}

// indexOf returns the box-start offset (the size field, 4 bytes before
// the type tag) of the first box in buf whose type matches tag.
func indexOf(buf []byte, tag string) int {
	for i := 4; i+4 <= len(buf); i++ {
		if string(buf[i:i+4]) == tag {
			return i - 4
		}
	}
	return -1
}

// buildMP4WithMetadata assembles an mdat-before-moov MP4 (the common
// progressive-download layout) whose trak carries distinguishing,
// non-default presentation metadata: a rotated tkhd matrix, a non-"und"
// mdhd language, and an edts/elst edit list. Sanitize must move all of
// this into a canonical prefix ahead of mdat without regenerating any of
// it, touching only the stco entry itself.
func buildMP4WithMetadata(t *testing.T, sampleCount, uniformSize uint32) []byte {
	t.Helper()

	ftyp := bmff.NewWriter(make([]byte, 32))
	ftyp.WriteFtyp([4]byte{'i', 's', 'o', 'm'}, 512, [][4]byte{{'i', 's', 'o', 'm'}})

	dataLen := int64(sampleCount * uniformSize)
	chunkOffset := uint32(len(ftyp.Bytes())) + 8 // right after mdat's own header

	mdat := bmff.NewWriter(make([]byte, 8+dataLen))
	mdat.StartBox(bmff.TypeMdat)
	for i := int64(0); i < dataLen; i++ {
		mdat.Write([]byte{byte(i)})
	}
	mdat.EndBox()

	w := bmff.NewWriter(make([]byte, 1024))
	w.StartBox(bmff.TypeMoov)
	w.WriteMvhd(1000, uint64(sampleCount)*100, 2)

	w.StartBox(bmff.TypeTrak)
	w.WriteTkhd(trackEnabledFlag, 1, uint64(sampleCount)*100, 320<<16, 240<<16)
	w.StartBox(bmff.TypeEdts)
	w.WriteElst([]bmff.ElstEntry{{SegmentDuration: 50, MediaTime: 0, MediaRateInt: 1, MediaRateFrac: 0}})
	w.EndBox() // edts
	w.StartBox(bmff.TypeMdia)
	w.WriteMdhd(1000, uint64(sampleCount)*100, 0x15c7) // not 0x55c4 (und)
	w.WriteHdlr([4]byte{'v', 'i', 'd', 'e'}, "VideoHandler")
	w.StartBox(bmff.TypeMinf)
	w.WriteVmhd()
	w.StartFullBox(bmff.TypeDinf, 0, 0)
	w.WriteDref()
	w.EndBox()
	w.StartBox(bmff.TypeStbl)
	w.WriteRaw(rawStsd())
	w.WriteStts([]bmff.SttsEntry{{Count: sampleCount, Duration: 100}})
	w.WriteStsc([]bmff.StscEntry{{FirstChunk: 1, SamplesPerChunk: sampleCount, SampleDescriptionID: 1}})
	w.WriteStsz(uniformSize, sampleCount, nil)
	w.WriteStco([]uint32{chunkOffset})
	w.EndBox() // stbl
	w.EndBox() // minf
	w.EndBox() // mdia
	w.EndBox() // trak
	w.EndBox() // moov
	moov := append([]byte(nil), w.Bytes()...)

	// Rotate the tkhd matrix away from identity so a test can tell
	// whether the rewriter preserved it or regenerated it from scratch.
	tkhdIdx := indexOf(moov, "tkhd")
	if tkhdIdx < 0 {
		t.Fatal("tkhd box not found in fixture")
	}
	be.PutUint32(moov[tkhdIdx+48:], 0x00020000) // matrix[0]: 2.0 instead of 1.0

	out := append([]byte(nil), ftyp.Bytes()...)
	out = append(out, mdat.Bytes()...)
	out = append(out, moov...)
	return out
}

func TestSanitizeMdatBeforeMoovPreservesMetadataBytes(t *testing.T) {
	buf := buildMP4WithMetadata(t, 10, 100)

	origMoovIdx := indexOf(buf, "moov")
	if origMoovIdx < 0 {
		t.Fatal("moov box not found in fixture")
	}
	origMoovSize := int(be.Uint32(buf[origMoovIdx:]))
	origMoov := append([]byte(nil), buf[origMoovIdx:origMoovIdx+origMoovSize]...)

	out, err := Sanitize(buf)
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	if out.Metadata == nil {
		t.Fatal("expected the mdat-before-moov layout to require a rewrite")
	}

	newMoovIdx := indexOf(out.Metadata, "moov")
	if newMoovIdx < 0 {
		t.Fatal("moov box not found in rewritten metadata")
	}
	newMoovSize := int(be.Uint32(out.Metadata[newMoovIdx:]))
	newMoov := out.Metadata[newMoovIdx : newMoovIdx+newMoovSize]

	if len(newMoov) != len(origMoov) {
		t.Fatalf("moov size changed: %d -> %d bytes (no promotion expected here)", len(origMoov), len(newMoov))
	}

	stcoIdx := indexOf(newMoov, "stco")
	if stcoIdx < 0 {
		t.Fatal("stco box not found in rewritten moov")
	}
	entryStart := stcoIdx + 16 // size+type+version/flags+entry_count
	entryEnd := entryStart + 4 // one uint32 entry

	// Every byte outside the single patched stco entry must be the
	// rewriter's verbatim copy of the original moov: the rotated tkhd
	// matrix, the non-"und" mdhd language, and the edts/elst edit list.
	for i := range newMoov {
		if i >= entryStart && i < entryEnd {
			continue
		}
		if newMoov[i] != origMoov[i] {
			t.Fatalf("moov byte %d changed outside the stco entry: %#x -> %#x", i, origMoov[i], newMoov[i])
		}
	}

	gotOffset := be.Uint32(newMoov[entryStart:])
	if want := int64(len(out.Metadata)); int64(gotOffset) != want {
		t.Fatalf("stco entry = %d, want %d (end of metadata, where the sample data follows)", gotOffset, want)
	}
}

func TestCrossReferenceRejectsChunkOutsideMdat(t *testing.T) {
	buf := buildMinimalMP4(t, 10, 100)
	// Corrupt the single stco entry to point well past mdat's span.
	idx := -1
	for i := 0; i+4 <= len(buf)-4; i++ {
		if string(buf[i:i+4]) == "stco" {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.Fatal("stco box not found in fixture")
	}
	// stco layout from the start of its type tag: 4 (tag) + 4 (version/flags) + 4 (entry_count) = first entry at +12.
	off := idx + 4 + 4 + 4
	buf[off] = 0xff
	buf[off+1] = 0xff
	buf[off+2] = 0xff
	buf[off+3] = 0xff

	_, err := Validate(source.NewBufferSource(buf), int64(len(buf)))
	if err == nil {
		t.Fatal("expected an out-of-range chunk offset to be rejected")
	}
	se, ok := err.(*sanerr.Error)
	if !ok || se.Kind != sanerr.InvalidCrossReference {
		t.Fatalf("err = %v, want InvalidCrossReference", err)
	}
}
