package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/cea-hpc/milkcheck/internal/config"
	"github.com/cea-hpc/milkcheck/internal/events"
	"github.com/cea-hpc/milkcheck/internal/report"
	"github.com/cea-hpc/milkcheck/internal/scheduler"
	"github.com/cea-hpc/milkcheck/internal/worker"
)

// newShellCmd creates the Cobra command for an interactive REPL over one
// configuration: load it once, then run any number of actions against it,
// inspecting the graph between runs without re-parsing the file each time.
func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell <config.yaml>",
		Short: "Open an interactive shell for running actions against a configuration",
		Args:  cobra.ExactArgs(1),
		RunE:  runShell,
	}
}

func runShell(cmd *cobra.Command, args []string) error {
	doc, err := config.Load(args[0])
	if err != nil {
		return err
	}
	graph, err := config.BuildGraph(doc)
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "milkcheck> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Fprintln(cmd.OutOrStdout(), "milkcheck shell — type an action name to run it, 'graph' to show the dependency tree, 'reset' to clear status, 'exit' to quit.")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "graph":
			report.Tree(cmd.OutOrStdout(), graph)
		case "status":
			report.Table(cmd.OutOrStdout(), graph)
		case "reset":
			graph.Reset()
		default:
			runShellAction(cmd, graph, line)
		}
	}
}

func runShellAction(cmd *cobra.Command, graph *config.Graph, actionName string) {
	bus := events.New()
	roots := graph.Roots()
	rootNames := make(map[string]bool, len(roots))
	for _, r := range roots {
		rootNames[r.Name()] = true
	}
	done := waitForRoots(bus, rootNames)

	sched := scheduler.New(worker.NewLocalWorker(), bus)
	sched.Start()
	defer sched.Stop()

	graph.RunAction(sched.Context(), actionName)
	<-done

	report.Table(cmd.OutOrStdout(), graph)
}
