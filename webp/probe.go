package webp

import "github.com/corvid/mediasan/source"

// Probe validates src and returns the Features it extracted along the
// way, for diagnostic callers (cmd/mediasan's probe subcommand) that want
// to report on a WebP file rather than merely accept or reject it. It is
// not part of spec.md's WebpImage type; it exists because the retrieved
// corpus's own WebP implementation exposes the same Features shape.
func Probe(src source.Source) (Features, error) {
	img, err := Validate(src)
	if err != nil {
		return Features{}, err
	}
	return img.Features, nil
}
