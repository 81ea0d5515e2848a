package cmd

import (
	"fmt"

	"github.com/cea-hpc/milkcheck/internal/config"
	"github.com/cea-hpc/milkcheck/internal/report"
	"github.com/spf13/cobra"
)

var graphFormat string

// newGraphCmd creates the Cobra command that renders a configuration's
// wired dependency graph, without executing anything, in one of the three
// read-only report formats.
func newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph <config.yaml>",
		Short: "Render a configuration's dependency graph",
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

			switch graphFormat {
			case "tree":
				report.Tree(cmd.OutOrStdout(), graph)
			case "table":
				report.Table(cmd.OutOrStdout(), graph)
			case "dot":
				report.DOT(cmd.OutOrStdout(), graph)
			default:
				return fmt.Errorf("unknown graph format %q (want tree, table or dot)", graphFormat)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&graphFormat, "format", "tree", "output format: tree, table or dot")
	return cmd
}
