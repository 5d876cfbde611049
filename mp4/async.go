package mp4

import (
	"context"

	"github.com/corvid/mediasan/sanerr"
	"github.com/corvid/mediasan/source"
)

// SanitizeAsync re-expresses Sanitize over a cooperatively-scheduled
// source. The rewriter needs random access to the whole input (see
// Sanitize's doc comment), so unlike webp.ValidateAsync this can't just
// route individual reads through ctx: it first drains totalLen bytes
// into a buffer, checking ctx between nothing else since a single
// ReadFull call already returns promptly on cancellation.
func SanitizeAsync(ctx context.Context, src source.AsyncSource, totalLen int64) (Output, error) {
	if totalLen <= 0 {
		return Output{}, sanerr.New(sanerr.UnsupportedFormat, "SanitizeAsync requires a known, positive total length")
	}
	buf := make([]byte, totalLen)
	if err := src.ReadFull(ctx, buf); err != nil {
		return Output{}, err
	}
	return Sanitize(buf)
}

// ValidateAsync re-expresses Validate over a cooperatively-scheduled
// source, for callers that only want the pass/fail answer and not a
// rewrite. totalLen must be the known input length; Validate's framing
// needs it to resolve size-0 "extends to end of file" boxes the same way
// the synchronous path does.
func ValidateAsync(ctx context.Context, src source.AsyncSource, totalLen int64) (*Parsed, error) {
	return Validate(&ctxSource{ctx: ctx, async: src}, totalLen)
}

// ctxSource adapts an AsyncSource into a Source for the duration of one
// call by fixing its context, mirroring webp.ctxSource.
type ctxSource struct {
	ctx   context.Context
	async source.AsyncSource
}

func (c *ctxSource) ReadFull(buf []byte) error { return c.async.ReadFull(c.ctx, buf) }
func (c *ctxSource) Skip(n int64) error        { return c.async.Skip(c.ctx, n) }
func (c *ctxSource) Position() int64           { return c.async.Position() }
