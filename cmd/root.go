package cmd

import (
	"errors"
	"os"

	"github.com/cea-hpc/milkcheck/internal/merrors"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeInvariantViolation indicates a programmer-error invariant was
	// broken while building or running a graph (internal/merrors.InvariantViolation).
	ExitCodeInvariantViolation = 2
	// ExitCodeConfigError indicates the configuration document itself failed
	// validation (internal/merrors.ConfigErrors).
	ExitCodeConfigError = 3
)

// rootCmd represents the base command for the milkcheck application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "milkcheck",
	Short: "Run and inspect command orchestration graphs across clusters of nodes",
	Long: `milkcheck executes named actions across clusters of nodes according to a
declared dependency graph of services and service groups, the way cluster
startup/shutdown/health-check sequencing is usually expressed: bring up the
storage layer before the services that depend on it, stop them in reverse
order, and report back which nodes failed.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "milkcheck version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type,
// so scripts driving milkcheck can distinguish a bad configuration from a
// broken invariant from an ordinary command failure.
func getExitCode(err error) int {
	var iv *merrors.InvariantViolation
	if errors.As(err, &iv) {
		return ExitCodeInvariantViolation
	}

	var cfgErrs *merrors.ConfigErrors
	if errors.As(err, &cfgErrs) {
		return ExitCodeConfigError
	}

	return ExitCodeError
}

// init adds every subcommand to the root command.
func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newGraphCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newShellCmd())
	rootCmd.AddCommand(newServeCmd())
}
