package source

import (
	"bytes"
	"context"
	"testing"

	"github.com/corvid/mediasan/sanerr"
)

func TestBufferSourceReadFullAndSkip(t *testing.T) {
	src := NewBufferSource([]byte("hello world"))
	buf := make([]byte, 5)
	if err := src.ReadFull(buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("buf = %q, want hello", buf)
	}
	if err := src.Skip(1); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	rest := make([]byte, 5)
	if err := src.ReadFull(rest); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(rest) != "world" {
		t.Fatalf("rest = %q, want world", rest)
	}
	if src.Position() != 11 {
		t.Fatalf("Position() = %d, want 11", src.Position())
	}
}

func TestBufferSourceExhausted(t *testing.T) {
	src := NewBufferSource([]byte("ab"))
	buf := make([]byte, 3)
	err := src.ReadFull(buf)
	se, ok := err.(*sanerr.Error)
	if !ok || se.Kind != sanerr.UnexpectedEOF {
		t.Fatalf("err = %v, want UnexpectedEOF", err)
	}
}

func TestStreamSourceReadFullAndSkip(t *testing.T) {
	src := NewStreamSource(bytes.NewReader([]byte("0123456789")))
	buf := make([]byte, 4)
	if err := src.ReadFull(buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(buf) != "0123" {
		t.Fatalf("buf = %q, want 0123", buf)
	}
	if err := src.Skip(2); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	rest := make([]byte, 4)
	if err := src.ReadFull(rest); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(rest) != "6789" {
		t.Fatalf("rest = %q, want 6789", rest)
	}
}

func TestStreamSourceExhausted(t *testing.T) {
	src := NewStreamSource(bytes.NewReader([]byte("ab")))
	buf := make([]byte, 3)
	err := src.ReadFull(buf)
	se, ok := err.(*sanerr.Error)
	if !ok || se.Kind != sanerr.UnexpectedEOF {
		t.Fatalf("err = %v, want UnexpectedEOF", err)
	}
}

func TestCooperativeChecksContextFirst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewCooperative(NewBufferSource([]byte("data")))
	buf := make([]byte, 2)
	err := c.ReadFull(ctx, buf)
	if err == nil {
		t.Fatal("expected a cancelled context to produce an error")
	}
}

func TestCooperativePassesThrough(t *testing.T) {
	ctx := context.Background()
	c := NewCooperative(NewBufferSource([]byte("data")))
	buf := make([]byte, 4)
	if err := c.ReadFull(ctx, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(buf) != "data" {
		t.Fatalf("buf = %q, want data", buf)
	}
}
