package bmff

import (
	"testing"

	"github.com/corvid/mediasan/source"
)

func boxBytes(t BoxType, body []byte) []byte {
	out := make([]byte, 8+len(body))
	be.PutUint32(out[0:4], uint32(len(out)))
	copy(out[4:8], t[:])
	copy(out[8:], body)
	return out
}

func TestFramerWalksTopLevelBoxes(t *testing.T) {
	data := append(boxBytes(TypeFtyp, []byte("isommp42")), boxBytes(TypeMdat, []byte{1, 2, 3})...)
	f := NewFramer(source.NewBufferSource(data), int64(len(data)))

	var got []BoxType
	for f.Next() {
		got = append(got, f.Entry().Type)
		if err := f.SkipBody(); err != nil {
			t.Fatalf("SkipBody: %v", err)
		}
	}
	if err := f.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
	if len(got) != 2 || got[0] != TypeFtyp || got[1] != TypeMdat {
		t.Fatalf("boxes = %v, want [ftyp mdat]", got)
	}
}

func TestFramerSizeZeroNeedsTotalLen(t *testing.T) {
	data := make([]byte, 8)
	copy(data[4:8], TypeMdat[:]) // size field left as 0: "extends to EOF"
	data = append(data, []byte{9, 9, 9}...)

	f := NewFramer(source.NewBufferSource(data), 0)
	if f.Next() {
		t.Fatal("expected size-0 box to be rejected without a known total length")
	}
	if f.Err() == nil {
		t.Fatal("expected an error")
	}
}

func TestFramerSizeZeroResolvedByTotalLen(t *testing.T) {
	data := make([]byte, 8)
	copy(data[4:8], TypeMdat[:])
	data = append(data, []byte{9, 9, 9}...)

	f := NewFramer(source.NewBufferSource(data), int64(len(data)))
	if !f.Next() {
		t.Fatalf("Next: %v", f.Err())
	}
	if f.Entry().DataSize() != 3 {
		t.Fatalf("data size = %d, want 3", f.Entry().DataSize())
	}
}

func TestFramerReadBody(t *testing.T) {
	data := boxBytes(TypeFree, []byte{1, 2, 3, 4})
	f := NewFramer(source.NewBufferSource(data), int64(len(data)))
	if !f.Next() {
		t.Fatalf("Next: %v", f.Err())
	}
	buf := make([]byte, f.Entry().DataSize())
	if err := f.ReadBody(buf); err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	if string(buf) != "\x01\x02\x03\x04" {
		t.Fatalf("body = %v", buf)
	}
}

func TestReaderWalksNestedBoxes(t *testing.T) {
	child := boxBytes(TypeTkhd, []byte{0, 0, 0, 0})
	parent := boxBytes(TypeTrak, child)

	r := NewReader(parent)
	if !r.Next() {
		t.Fatal("expected to find the trak box")
	}
	if r.Type() != TypeTrak {
		t.Fatalf("type = %v, want trak", r.Type())
	}
	if !r.Enter() {
		t.Fatal("Enter failed")
	}
	if !r.Next() {
		t.Fatal("expected to find tkhd inside trak")
	}
	if r.Type() != TypeTkhd {
		t.Fatalf("type = %v, want tkhd", r.Type())
	}
	r.Exit()
	if r.Next() {
		t.Fatal("expected no more siblings after trak")
	}
}

func TestWriterRoundTripsFtyp(t *testing.T) {
	buf := make([]byte, 64)
	w := NewWriter(buf)
	w.WriteFtyp([4]byte{'i', 's', 'o', 'm'}, 512, [][4]byte{{'m', 'p', '4', '2'}})

	r := NewReader(w.Bytes())
	if !r.Next() {
		t.Fatalf("Next: reader found no boxes")
	}
	if r.Type() != TypeFtyp {
		t.Fatalf("type = %v, want ftyp", r.Type())
	}
	data := r.Data()
	if string(data[0:4]) != "isom" {
		t.Fatalf("major brand = %q, want isom", data[0:4])
	}
}

func TestBoxTypeClassification(t *testing.T) {
	if !IsFullBox(TypeStsz) {
		t.Fatal("stsz should be a full box")
	}
	if IsFullBox(TypeFree) {
		t.Fatal("free should not be a full box")
	}
	if !IsContainerBox(TypeStbl) {
		t.Fatal("stbl should be a container box")
	}
	if IsContainerBox(TypeMdat) {
		t.Fatal("mdat should not be a container box")
	}
}
