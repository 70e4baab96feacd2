// Command taskmeshctl is the operator entry point for running the mesh
// in-process for a single task, or standing up a broker/control plane as
// its own long-lived process, grounded on cuemby-warren/cmd/warren's cobra
// root + subcommand layout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "taskmeshctl",
	Short: "Run and operate a taskmesh distributed task execution system",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}
