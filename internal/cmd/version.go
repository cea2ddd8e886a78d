package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the client version reported by the version command and traces
const Version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sidechain-sync %s\n", Version)
	},
}
