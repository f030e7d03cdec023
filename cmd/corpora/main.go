package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/corpora-io/corpora/cmd/corpora/commands"
)

// Build-time variables injected via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Set version info for commands package
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		// Configuration and usage problems exit 1. Failures during a
		// run, including runs that finished with failed documents,
		// exit 2 so schedulers can tell the two apart.
		if errors.Is(err, commands.ErrRunFailed) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
