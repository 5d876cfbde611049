package mp4

import (
	"testing"

	"github.com/corvid/mediasan/source"
)

func TestProbeSummarizesTracks(t *testing.T) {
	buf := buildMinimalMP4(t, 10, 100)
	p, err := Validate(source.NewBufferSource(buf), int64(len(buf)))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	summaries := Probe(&p.Moov)
	if len(summaries) != 1 {
		t.Fatalf("summaries = %d, want 1", len(summaries))
	}
	s := summaries[0]
	if s.TrackID != 1 {
		t.Fatalf("track id = %d, want 1", s.TrackID)
	}
	if s.Handler != "vide" {
		t.Fatalf("handler = %q, want vide", s.Handler)
	}
	if s.Width != 320 || s.Height != 240 {
		t.Fatalf("dims = %dx%d, want 320x240", s.Width, s.Height)
	}
	if s.Duration != 1.0 {
		t.Fatalf("duration = %f, want 1.0", s.Duration)
	}
	// The fixture's stsd carries no avc1/mp4a sample entry, so the codec
	// string is empty rather than guessed.
	if s.Codec != "" {
		t.Fatalf("codec = %q, want empty", s.Codec)
	}
}

func TestDurationSecondsZeroTimescale(t *testing.T) {
	if got := durationSeconds(1000, 0); got != 0 {
		t.Fatalf("durationSeconds with zero timescale = %f, want 0", got)
	}
}
