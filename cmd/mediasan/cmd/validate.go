package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/corvid/mediasan"
	"github.com/corvid/mediasan/mp4"
	"github.com/corvid/mediasan/source"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check an MP4 or WebP file's container structure without rewriting it",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(_ *cobra.Command, args []string) error {
	in := args[0]
	buf, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("reading %s: %w", in, err)
	}

	switch sniff(buf) {
	case fmtWebP:
		if err := mediasan.ValidateWebP(source.NewBufferSource(buf), detailOpts()...); err != nil {
			return reportErr("validate", in, err)
		}
	case fmtMP4:
		if _, err := mp4.Validate(source.NewBufferSource(buf), int64(len(buf))); err != nil {
			return reportErr("validate", in, err)
		}
	default:
		return fmt.Errorf("validate %s: not a recognized MP4 or WebP file", in)
	}

	log.Info().Str("file", in).Msg("valid")
	fmt.Printf("%s: ok\n", in)
	return nil
}

type containerFormat int

const (
	fmtUnknown containerFormat = iota
	fmtMP4
	fmtWebP
)

// sniff identifies a container by its leading magic bytes: RIFF/WEBP for
// WebP, or a recognizable ftyp box for MP4. It never reads past the first
// 12 bytes, so an empty or truncated file just falls through to unknown.
func sniff(buf []byte) containerFormat {
	if len(buf) >= 12 && bytes.Equal(buf[0:4], []byte("RIFF")) && bytes.Equal(buf[8:12], []byte("WEBP")) {
		return fmtWebP
	}
	if len(buf) >= 8 && bytes.Equal(buf[4:8], []byte("ftyp")) {
		return fmtMP4
	}
	return fmtUnknown
}
