package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cea-hpc/milkcheck/internal/merrors"
	"github.com/spf13/cobra"
)

func TestSetVersion(t *testing.T) {
	// Test setting version
	testVersion := "1.2.3-test"
	SetVersion(testVersion)

	if rootCmd.Version != testVersion {
		t.Errorf("Expected version to be %s, got %s", testVersion, rootCmd.Version)
	}
}

func TestRootCommand(t *testing.T) {
	// Test root command properties
	if rootCmd.Use != "milkcheck" {
		t.Errorf("Expected Use to be 'milkcheck', got %s", rootCmd.Use)
	}

	if rootCmd.Short == "" {
		t.Error("Expected Short description to be set")
	}

	if rootCmd.Long == "" {
		t.Error("Expected Long description to be set")
	}

	if !rootCmd.SilenceUsage {
		t.Error("Expected SilenceUsage to be true")
	}
}

func TestVersionTemplate(t *testing.T) {
	// Create a new command to test version template
	testCmd := &cobra.Command{
		Use:     "test",
		Version: "1.0.0",
	}

	testCmd.SetVersionTemplate(`{{printf "milkcheck version %s\n" .Version}}`)

	var buf bytes.Buffer
	testCmd.SetOut(&buf)

	testCmd.SetArgs([]string{"--version"})
	err := testCmd.Execute()
	if err != nil {
		t.Fatalf("Error executing version command: %v", err)
	}

	output := buf.String()
	expected := "milkcheck version 1.0.0\n"
	if output != expected {
		t.Errorf("Expected version output %q, got %q", expected, output)
	}
}

func TestSubcommands(t *testing.T) {
	// Test that subcommands are added
	commands := rootCmd.Commands()

	expectedCommands := []string{"version", "self-update", "serve", "run", "status", "validate", "graph", "shell"}
	foundCommands := make(map[string]bool)

	for _, cmd := range commands {
		foundCommands[cmd.Name()] = true
	}

	for _, expected := range expectedCommands {
		if !foundCommands[expected] {
			t.Errorf("Expected subcommand %s to be registered", expected)
		}
	}
}

func TestRootCommandHelp(t *testing.T) {
	// Test that help can be generated without error, against a scratch
	// command so we don't depend on the init-time registration of the
	// global rootCmd's subcommands.
	var buf bytes.Buffer

	testRootCmd := &cobra.Command{
		Use:   "milkcheck",
		Short: "Run and inspect command orchestration graphs across clusters of nodes",
		Long: `milkcheck executes named actions across clusters of nodes according to a
declared dependency graph of services and service groups, the way cluster
startup/shutdown/health-check sequencing is usually expressed: bring up the
storage layer before the services that depend on it, stop them in reverse
order, and report back which nodes failed.`,
		SilenceUsage: true,
	}

	testRootCmd.SetOut(&buf)
	testRootCmd.SetArgs([]string{"--help"})

	err := testRootCmd.Execute()
	if err != nil {
		t.Fatalf("Error executing help command: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "milkcheck") {
		t.Errorf("Help output should contain 'milkcheck'. Got: %q", output)
	}

	if !strings.Contains(output, "dependency graph") {
		t.Errorf("Help output should contain the long description. Got: %q", output)
	}
}

func TestGetExitCode(t *testing.T) {
	if got := getExitCode(&merrors.InvariantViolation{Entity: "web", Reason: "bad status"}); got != ExitCodeInvariantViolation {
		t.Errorf("getExitCode(InvariantViolation) = %d, want %d", got, ExitCodeInvariantViolation)
	}

	cfgErrs := &merrors.ConfigErrors{}
	cfgErrs.Add("services.web", "service", "bad-target", "unparseable nodeset")
	if got := getExitCode(cfgErrs); got != ExitCodeConfigError {
		t.Errorf("getExitCode(ConfigErrors) = %d, want %d", got, ExitCodeConfigError)
	}

	if got := getExitCode(&plainError{"boom"}); got != ExitCodeError {
		t.Errorf("getExitCode(plain error) = %d, want %d", got, ExitCodeError)
	}
}

type plainError struct{ msg string }

func (e *plainError) Error() string { return e.msg }
