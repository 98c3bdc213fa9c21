package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "atomflow",
		Short: "Reactive atom runtime with lifecycle tracking",
		Long: `Atomflow is a reactive state runtime for Go.

Atoms are immutable descriptors whose live values are held in a store.
Computed atoms derive values from explicit dependencies with caching and
coalesced recomputation. A lifecycle tracker and pluggable cleanup engine
reclaim atoms that have gone idle.

Commands:
  serve  run the runtime with the inspection server
  demo   exercise the runtime once and print what happened`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		demoCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
