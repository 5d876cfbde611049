package webp

import (
	"context"

	"github.com/corvid/mediasan/source"
)

// ctxSource adapts an AsyncSource back into a Source for a single call by
// fixing the context for its lifetime; every operation still checks ctx
// before touching the underlying source, so cancellation during a long
// validation pass is observed promptly, the same guarantee AsyncSource
// itself makes.
type ctxSource struct {
	ctx   context.Context
	async source.AsyncSource
}

func (c *ctxSource) ReadFull(buf []byte) error { return c.async.ReadFull(c.ctx, buf) }
func (c *ctxSource) Skip(n int64) error        { return c.async.Skip(c.ctx, n) }
func (c *ctxSource) Position() int64           { return c.async.Position() }

// ValidateAsync re-expresses Validate over a cooperatively-scheduled
// source. WebP validation never needs random access, so unlike the MP4
// rewriter it requires no buffering step: each read is simply routed
// through ctx.
func ValidateAsync(ctx context.Context, src source.AsyncSource) error {
	_, err := Validate(&ctxSource{ctx: ctx, async: src})
	return err
}

// ProbeAsync is Probe's AsyncSource counterpart.
func ProbeAsync(ctx context.Context, src source.AsyncSource) (Features, error) {
	img, err := Validate(&ctxSource{ctx: ctx, async: src})
	if err != nil {
		return Features{}, err
	}
	return img.Features, nil
}
