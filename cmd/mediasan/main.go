// Command mediasan sanitizes and inspects MP4 and WebP containers from the
// command line: sanitize rewrites an MP4's metadata into a single prefix,
// validate rejects a malformed file without producing output, and probe
// prints a diagnostic summary of either format.
package main

import (
	"fmt"
	"os"

	"github.com/corvid/mediasan/cmd/mediasan/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
