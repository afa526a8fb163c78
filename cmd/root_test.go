package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"utcp/internal/tools"
)

func TestSetVersion(t *testing.T) {
	testVersion := "1.2.3-test"
	originalVersion := rootCmd.Version
	defer func() { rootCmd.Version = originalVersion }()

	SetVersion(testVersion)

	if rootCmd.Version != testVersion {
		t.Errorf("Expected version to be %s, got %s", testVersion, rootCmd.Version)
	}
	if GetVersion() != testVersion {
		t.Errorf("Expected GetVersion to return %s, got %s", testVersion, GetVersion())
	}
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "utcp" {
		t.Errorf("Expected Use to be 'utcp', got %s", rootCmd.Use)
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
	// Create a new command to test the version template used by Execute()
	testCmd := &cobra.Command{
		Use:     "test",
		Version: "1.0.0",
	}
	testCmd.SetVersionTemplate(`{{printf "utcp version %s\n" .Version}}`)

	var buf bytes.Buffer
	testCmd.SetOut(&buf)
	testCmd.SetArgs([]string{"--version"})

	if err := testCmd.Execute(); err != nil {
		t.Fatalf("Error executing version command: %v", err)
	}

	expected := "utcp version 1.0.0\n"
	if buf.String() != expected {
		t.Errorf("Expected version output %q, got %q", expected, buf.String())
	}
}

func TestSubcommands(t *testing.T) {
	commands := rootCmd.Commands()

	expectedCommands := []string{"version", "call", "search", "providers", "codemode", "orchestrate"}
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

func TestProvidersSubcommands(t *testing.T) {
	expected := map[string]bool{"list": false, "register": false, "deregister": false}
	for _, cmd := range providersCmd.Commands() {
		if _, ok := expected[cmd.Name()]; ok {
			expected[cmd.Name()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("Expected providers subcommand %s to be registered", name)
		}
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "validation error",
			err:  tools.NewValidationError("arg", "bad input"),
			want: ExitCodeValidation,
		},
		{
			name: "wrapped validation error",
			err:  fmt.Errorf("register: %w", tools.NewValidationError("name", "empty")),
			want: ExitCodeValidation,
		},
		{
			name: "tool not found",
			err:  &tools.ToolNotFoundError{Tool: "weather.get"},
			want: ExitCodeNotFound,
		},
		{
			name: "provider not found",
			err:  &tools.ProviderNotFoundError{Provider: "weather"},
			want: ExitCodeNotFound,
		},
		{
			name: "timeout",
			err:  &tools.TimeoutError{Op: "call", Timeout: time.Second},
			want: ExitCodeTimeout,
		},
		{
			name: "generic error",
			err:  errors.New("boom"),
			want: ExitCodeError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getExitCode(tt.err); got != tt.want {
				t.Errorf("getExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestRootCommandHelp(t *testing.T) {
	var buf bytes.Buffer

	// Use an isolated command so --help does not disturb the global one
	testRootCmd := &cobra.Command{
		Use:          rootCmd.Use,
		Short:        rootCmd.Short,
		Long:         rootCmd.Long,
		SilenceUsage: true,
	}
	testRootCmd.SetOut(&buf)
	testRootCmd.SetArgs([]string{"--help"})

	if err := testRootCmd.Execute(); err != nil {
		t.Fatalf("Error executing help command: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "utcp") {
		t.Errorf("Help output should contain 'utcp'. Got: %q", output)
	}
	if !strings.Contains(output, "registers tool providers") {
		t.Errorf("Help output should contain the long description. Got: %q", output)
	}
}
