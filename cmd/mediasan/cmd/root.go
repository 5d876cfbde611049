// Package cmd implements the mediasan command-line front end: sanitize,
// validate, and probe subcommands over the mediasan library.
package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/corvid/mediasan"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var log zerolog.Logger

var (
	logLevel string
	detail   bool
)

var rootCmd = &cobra.Command{
	Use:   "mediasan",
	Short: "Validate and sanitize MP4 and WebP containers",
	Long: `mediasan checks that an MP4 or WebP file's box/chunk structure is
well-formed before it ever reaches a decoder, and for MP4 rewrites the
file so its presentation metadata sits in one contiguous prefix ahead of
the untouched media data.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initLogging()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&detail, "detail", false, "include file offset and box/chunk path in rejected errors (MP4 validate and probe always include them)")
}

// detailOpts turns the --detail flag into the mediasan.Option it controls.
func detailOpts() []mediasan.Option {
	if detail {
		return []mediasan.Option{mediasan.WithDetail()}
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func initLogging() error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		return fmt.Errorf("parsing --log-level: %w", err)
	}
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
	return nil
}
