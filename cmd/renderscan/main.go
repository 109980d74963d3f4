// Command renderscan replays render traces, runs the reference collector
// and reports on what it archived.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/renderscan/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
