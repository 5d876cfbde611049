package cmd

import (
	"fmt"
	"os"

	"github.com/corvid/mediasan/mp4"
	"github.com/corvid/mediasan/source"
	"github.com/corvid/mediasan/webp"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(probeCmd)
}

var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Print a diagnostic summary of an MP4 or WebP file",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

func runProbe(_ *cobra.Command, args []string) error {
	in := args[0]
	buf, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("reading %s: %w", in, err)
	}

	switch sniff(buf) {
	case fmtWebP:
		feat, err := webp.Probe(source.NewBufferSource(buf))
		if err != nil {
			return reportErr("probe", in, err)
		}
		fmt.Printf("%s: webp %dx%d alpha=%t anim=%t iccp=%t exif=%t xmp=%t\n",
			in, feat.Width, feat.Height, feat.HasAlpha, feat.HasAnim, feat.HasICCP, feat.HasEXIF, feat.HasXMP)
		if feat.HasAnim {
			fmt.Printf("  loop_count=%d bg_color=%08x\n", feat.LoopCount, feat.BGColor)
		}

	case fmtMP4:
		parsed, err := mp4.Validate(source.NewBufferSource(buf), int64(len(buf)))
		if err != nil {
			return reportErr("probe", in, err)
		}
		fmt.Printf("%s: mp4 brand=%s tracks=%d\n", in, string(parsed.Ftyp.MajorBrand[:]), len(parsed.Moov.Tracks))
		for _, t := range mp4.Probe(&parsed.Moov) {
			fmt.Printf("  track %d: %s %dx%d %.3fs codec=%s\n",
				t.TrackID, t.Handler, t.Width, t.Height, t.Duration, t.Codec)
		}

	default:
		return fmt.Errorf("probe %s: not a recognized MP4 or WebP file", in)
	}

	return nil
}
