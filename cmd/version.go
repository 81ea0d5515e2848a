package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newVersionCmd creates the Cobra command for displaying the application
// version. Unlike a client fronting a long-lived server, milkcheck has
// nothing else to version-check against: a run invokes the local binary
// directly, so the CLI's own build-time version is the whole answer.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of milkcheck",
		Long:  `All software has versions. This is milkcheck's.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "milkcheck version %s\n", rootCmd.Version)
		},
	}
}
