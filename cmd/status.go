package cmd

import (
	"github.com/cea-hpc/milkcheck/internal/config"
	"github.com/cea-hpc/milkcheck/internal/report"
	"github.com/spf13/cobra"
)

// newStatusCmd creates the Cobra command that prints the status table for
// every top-level node in a configuration. milkcheck keeps no state
// between invocations, so outside of a `run` this always shows NO_STATUS —
// the command exists for scripting symmetry with `run`'s own table output
// and as the quick way to see what a configuration declares.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <config.yaml>",
		Short: "Print the status table for every service and group declared in a configuration",
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
			report.Table(cmd.OutOrStdout(), graph)
			return nil
		},
	}
}
