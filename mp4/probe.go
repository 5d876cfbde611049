package mp4

import "github.com/corvid/mediasan/bmff"

// TrackSummary reports diagnostic information about one validated track
// for cmd/mediasan's probe subcommand: width/height in pixels, duration
// in seconds, and a MIME-style codec string derived from its sample
// description (e.g. "avc1.64001f", "mp4a.40.2"). None of this is needed
// for validation or rewriting; it exists purely to surface what
// Validate parsed, grounded on the track summarization in the
// retrieved pack's isobmff track/codec walk.
type TrackSummary struct {
	TrackID  uint32
	Handler  string
	Width    uint32
	Height   uint32
	Duration float64 // seconds
	Codec    string  // empty if the sample description wasn't recognized
}

// Probe summarizes every track in a validated moov tree. It never fails:
// an unrecognized sample description just yields an empty Codec string.
func Probe(tree *MoovTree) []TrackSummary {
	out := make([]TrackSummary, len(tree.Tracks))
	for i, t := range tree.Tracks {
		out[i] = TrackSummary{
			TrackID:  t.TrackID,
			Handler:  string(t.Handler[:]),
			Width:    t.Width >> 16,
			Height:   t.Height >> 16,
			Duration: durationSeconds(t.Duration, t.Timescale),
			Codec:    probeCodec(t.SampleDescription),
		}
	}
	return out
}

func durationSeconds(duration uint64, timescale uint32) float64 {
	if timescale == 0 {
		return 0
	}
	return float64(duration) / float64(timescale)
}

// probeCodec walks a raw stsd box looking for the first avc1 or mp4a
// sample entry and extracts its codec parameters from the nested avcC or
// esds descriptor.
func probeCodec(stsd RawBox) string {
	if len(stsd.Raw) == 0 {
		return ""
	}
	r := bmff.NewReader(stsd.Raw)
	if !r.Next() || r.Type() != bmff.TypeStsd {
		return ""
	}
	if !r.Enter() {
		return ""
	}
	r.Skip(4) // entry_count

	for r.Next() {
		switch r.Type() {
		case bmff.TypeAvc1:
			vse, ok := bmff.ReadVisualSampleEntry(r.Data())
			if !ok {
				continue
			}
			if codec := findAvcC(r.Data()[vse.ChildOffset:]); codec != "" {
				return "avc1." + codec
			}
		case bmff.TypeMp4a:
			ase, ok := bmff.ReadAudioSampleEntry(r.Data())
			if !ok {
				continue
			}
			if codec := findEsds(r.Data()[ase.ChildOffset:]); codec != "" {
				return "mp4a." + codec
			}
		}
	}
	return ""
}

func findAvcC(children []byte) string {
	r := bmff.NewReader(children)
	for r.Next() {
		if r.Type() == bmff.TypeAvcC {
			return bmff.ReadAvcC(r.Data())
		}
	}
	return ""
}

func findEsds(children []byte) string {
	r := bmff.NewReader(children)
	for r.Next() {
		if r.Type() == bmff.TypeEsds {
			return bmff.ReadEsdsCodec(r.Data())
		}
	}
	return ""
}
