// Command scenebridge translates scene files for a path tracer and keeps
// interactive renders in sync with edits.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/scenebridge/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
