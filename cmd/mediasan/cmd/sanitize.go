package cmd

import (
	"fmt"
	"os"

	"github.com/corvid/mediasan"
	"github.com/corvid/mediasan/source"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sanitizeCmd)
}

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize <in.mp4> <out.mp4>",
	Short: "Rewrite an MP4 file with its metadata in a single prefix",
	Args:  cobra.ExactArgs(2),
	RunE:  runSanitize,
}

func runSanitize(_ *cobra.Command, args []string) error {
	in, out := args[0], args[1]

	buf, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("reading %s: %w", in, err)
	}

	log.Debug().Str("file", in).Int("bytes", len(buf)).Msg("sanitizing")

	result, err := mediasan.Sanitize(source.NewBufferSource(buf), detailOpts()...)
	if err != nil {
		return reportErr("sanitize", in, err)
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("creating %s: %w", out, err)
	}
	defer f.Close()

	// A nil Metadata means the input's own prefix is already canonical.
	prefix := result.Metadata
	if prefix == nil {
		prefix = buf[:result.Data.Offset]
	}
	if _, err := f.Write(prefix); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}
	if _, err := f.Write(buf[result.Data.Offset : result.Data.Offset+result.Data.Length]); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}

	log.Info().Str("in", in).Str("out", out).Msg("sanitized")
	return nil
}
