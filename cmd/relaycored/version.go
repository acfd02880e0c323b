package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version/commit/date are overridden at build time via -ldflags, matching
// the pack's convention (doublezero's collector command) for binaries
// built outside a Fuchsia-style versioned SDK drop.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "relaycored %s (commit %s, built %s)\n", version, commit, date)
		return nil
	},
}
