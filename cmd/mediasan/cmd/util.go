package cmd

import (
	"errors"
	"fmt"

	"github.com/corvid/mediasan"
)

// reportErr logs the structured fields of a mediasan.Error (kind, and
// offset/path when WithDetail was requested) before returning a plain error
// for cobra to print, so the log carries the taxonomy and the returned
// error is just a message.
func reportErr(op, file string, err error) error {
	var se *mediasan.Error
	if errors.As(err, &se) {
		evt := log.Error().Str("op", op).Str("file", file).Str("kind", se.Kind.String())
		if se.Detail != nil {
			evt = evt.Str("path", se.Detail.Path).Int64("offset", se.Detail.Offset)
		}
		evt.Msg("rejected")
	}
	return fmt.Errorf("%s %s: %w", op, file, err)
}
