package cmd

import (
	"fmt"

	"github.com/cea-hpc/milkcheck/internal/config"
	"github.com/spf13/cobra"
)

// newValidateCmd creates the Cobra command that loads and wires a
// configuration document without running anything, surfacing every
// FromDict problem it finds in one pass instead of stopping at the first.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config.yaml>",
		Short: "Check a configuration document for errors without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := config.Load(args[0])
			if err != nil {
				return err
			}
			graph, err := config.BuildGraph(doc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid: %d service(s), %d group(s)\n",
				len(graph.Services), len(graph.Groups))
			return nil
		},
	}
}
