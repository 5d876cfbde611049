package sanerr

import (
	"errors"
	"testing"
)

func TestErrorMessageWithoutDetail(t *testing.T) {
	err := New(InvalidBoxSize, "box too small")
	want := "mediasan: invalid-box-size: box too small"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestErrorMessageWithDetail(t *testing.T) {
	err := New(MissingRequiredBox, "no moov").WithDetail(42, "moov")
	got := err.Error()
	want := "mediasan: missing-required-box: no moov (at moov, offset 42)"
	if got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestWithDetailDoesNotMutateOriginal(t *testing.T) {
	base := New(IO, "boom")
	detailed := base.WithDetail(1, "x")
	if base.Detail != nil {
		t.Fatal("WithDetail must not mutate the receiver")
	}
	if detailed.Detail == nil {
		t.Fatal("expected detailed copy to carry Detail")
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(IO, cause, "reading failed")
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestKindStringIsClosed(t *testing.T) {
	tests := []struct {
		k    Kind
		want string
	}{
		{UnexpectedEOF, "unexpected-eof"},
		{InvalidBoxSize, "invalid-box-size"},
		{UnsupportedFragmented, "unsupported-fragmented"},
		{ArithmeticOverflow, "arithmetic-overflow"},
		{Kind(999), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.k.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.k, got, tt.want)
		}
	}
}
