package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/cea-hpc/milkcheck/internal/config"
	"github.com/cea-hpc/milkcheck/internal/events"
	"github.com/cea-hpc/milkcheck/pkg/logging"
)

// newServeCmd creates the Cobra command that runs milkcheck as a long-lived
// daemon: it watches a configuration file for changes and keeps a wired
// Graph current, notifying systemd once it's ready and again before it
// exits, rather than polling or re-parsing on every invocation like `run`
// does.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve <config.yaml>",
		Short: "Watch a configuration file and keep its graph loaded as a daemon",
		Args:  cobra.ExactArgs(1),
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath := args[0]

	bus := events.New()
	watcher, err := config.NewWatcher(configPath, bus)
	if err != nil {
		return err
	}
	defer watcher.Close()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Warn("serve", "sd_notify READY failed (likely not running under systemd): %v", err)
	}
	logging.Audit(logging.AuditEvent{
		Action:  "serve",
		Outcome: "started",
		Target:  configPath,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sub := bus.Subscribe(16)
	for {
		select {
		case <-sigCh:
			daemon.SdNotify(false, daemon.SdNotifyStopping)
			logging.Audit(logging.AuditEvent{
				Action:  "serve",
				Outcome: "stopped",
				Target:  configPath,
			})
			return nil
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			if ev.Type == events.ConfigChanged {
				logging.Info("serve", "reloaded configuration from %s", ev.Path)
			}
		}
	}
}
