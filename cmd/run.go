package cmd

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cea-hpc/milkcheck/internal/config"
	"github.com/cea-hpc/milkcheck/internal/events"
	"github.com/cea-hpc/milkcheck/internal/report"
	"github.com/cea-hpc/milkcheck/internal/scheduler"
	"github.com/cea-hpc/milkcheck/internal/worker"
	"github.com/cea-hpc/milkcheck/pkg/logging"
)

var runSimulate bool

// newRunCmd creates the Cobra command that starts an action across every
// root node of a configuration's graph and blocks until the run settles,
// then prints the resulting status tree.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <config.yaml> <action>",
		Short: "Run an action across the entities declared in a configuration file",
		Args:  cobra.ExactArgs(2),
		RunE:  runRun,
	}
	cmd.Flags().BoolVar(&runSimulate, "simulate", false,
		"resolve every action from dependency state without invoking the worker")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	configPath, actionName := args[0], args[1]
	runID := uuid.NewString()

	doc, err := config.Load(configPath)
	if err != nil {
		return err
	}
	graph, err := config.BuildGraph(doc)
	if err != nil {
		return err
	}
	if runSimulate {
		for _, s := range graph.Services {
			s.SetSimulate(true)
		}
		for _, g := range graph.Groups {
			g.SetSimulate(true)
		}
	}

	roots := graph.Roots()
	rootNames := make(map[string]bool, len(roots))
	for _, r := range roots {
		rootNames[r.Name()] = true
	}

	bus := events.New()
	done := waitForRoots(bus, rootNames)

	w := worker.NewLocalWorker()
	sched := scheduler.New(w, bus)
	sched.Start()
	defer sched.Stop()

	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	sp.Suffix = fmt.Sprintf(" running %s (run %s)...", actionName, runID[:8])
	sp.Start()

	graph.RunAction(sched.Context(), actionName)
	<-done
	sp.Stop()

	logging.Audit(logging.AuditEvent{
		Action:  "run",
		Outcome: "complete",
		Target:  actionName,
		Details: runID,
	})

	report.Tree(cmd.OutOrStdout(), graph)
	return nil
}

// waitForRoots subscribes to bus and returns a channel that closes once an
// EV_COMPLETE has been observed for every name in rootNames — every
// descendant's own completion rolls up into one of those roots, so this is
// enough to know the run as a whole has settled.
func waitForRoots(bus *events.Bus, rootNames map[string]bool) <-chan struct{} {
	sub := bus.Subscribe(256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		remaining := len(rootNames)
		if remaining == 0 {
			return
		}
		seen := make(map[string]bool, remaining)
		for ev := range sub {
			if ev.Type != events.Complete || ev.Node == nil {
				continue
			}
			name := ev.Node.Name()
			if !rootNames[name] || seen[name] {
				continue
			}
			seen[name] = true
			remaining--
			if remaining == 0 {
				return
			}
		}
	}()
	return done
}
