package mediasan_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/corvid/mediasan"
	"github.com/corvid/mediasan/riff"
	"github.com/corvid/mediasan/source"
	"github.com/corvid/mediasan/webp"
)

func makeChunk(t riff.FourCC, payload []byte) []byte {
	out := make([]byte, riff.ChunkHeaderSize+len(payload))
	copy(out[0:4], t.String())
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(payload)))
	copy(out[riff.ChunkHeaderSize:], payload)
	if len(payload)&1 == 1 {
		out = append(out, 0)
	}
	return out
}

func wrapWebP(chunks ...[]byte) []byte {
	var body []byte
	body = append(body, riff.FourCCWEBP[:]...)
	for _, c := range chunks {
		body = append(body, c...)
	}
	out := make([]byte, 8)
	copy(out[0:4], riff.FourCCRIFF[:])
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(body)))
	return append(out, body...)
}

func vp8Payload(width, height int) []byte {
	b := make([]byte, 10)
	b[0] = 0x10
	b[3], b[4], b[5] = 0x9d, 0x01, 0x2a
	binary.LittleEndian.PutUint16(b[6:8], uint16(width))
	binary.LittleEndian.PutUint16(b[8:10], uint16(height))
	return b
}

func TestValidateWebPAcceptsSimpleLossy(t *testing.T) {
	data := wrapWebP(makeChunk(riff.FourCCVP8, vp8Payload(64, 48)))
	err := mediasan.ValidateWebP(source.NewBufferSource(data))
	require.NoError(t, err)
}

func TestValidateWebPRejectsJunk(t *testing.T) {
	err := mediasan.ValidateWebP(source.NewBufferSource([]byte("not a riff file at all!")))
	require.Error(t, err)

	var se *mediasan.Error
	require.ErrorAs(t, err, &se)
	require.Equal(t, mediasan.InvalidChunkLayout, se.Kind)
}

func TestValidateWebPDetailIsOptIn(t *testing.T) {
	bad := wrapWebP(makeChunk(riff.FourCC{'J', 'U', 'N', 'K'}, []byte("x")))

	err := mediasan.ValidateWebP(source.NewBufferSource(bad))
	var plain *mediasan.Error
	require.ErrorAs(t, err, &plain)
	require.Nil(t, plain.Detail, "Detail must be stripped by default")

	err = mediasan.ValidateWebP(source.NewBufferSource(bad), mediasan.WithDetail())
	var detailed *mediasan.Error
	require.ErrorAs(t, err, &detailed)
	require.NotNil(t, detailed.Detail, "Detail must survive WithDetail")
}

func TestSanitizeRequiresLengthForNonBufferSource(t *testing.T) {
	stream := source.NewStreamSource(bytes.NewReader(nil))
	_, err := mediasan.Sanitize(stream)
	require.Error(t, err)

	var se *mediasan.Error
	require.ErrorAs(t, err, &se)
	require.Equal(t, mediasan.UnsupportedFormat, se.Kind)
}

func TestFeaturesCmpDiff(t *testing.T) {
	data := wrapWebP(makeChunk(riff.FourCCVP8, vp8Payload(100, 50)))
	err := mediasan.ValidateWebP(source.NewBufferSource(data))
	require.NoError(t, err)

	// ValidateWebP only reports pass/fail; cross-check the same input
	// through the webp package directly so a structural regression in
	// either path shows up as a diff rather than two independently wrong
	// answers agreeing by coincidence.
	got := probeWebP(t, data)
	want := webpFeatures{Width: 100, Height: 50}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Features mismatch (-want +got):\n%s", diff)
	}
}

type webpFeatures struct {
	Width, Height int
}

func probeWebP(t *testing.T, data []byte) webpFeatures {
	t.Helper()
	feat, err := webp.Probe(source.NewBufferSource(data))
	require.NoError(t, err)
	return webpFeatures{Width: feat.Width, Height: feat.Height}
}
