package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"utcp/internal/client"
	"utcp/internal/config"
	"utcp/internal/tools"
	"utcp/pkg/logging"
)

// Exit codes for CLI commands. These give scripts something more useful
// than pass/fail: a missing tool and a timed-out call are different
// situations.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, transport error).
	ExitCodeError = 1
	// ExitCodeValidation indicates rejected input (bad arguments, bad script).
	ExitCodeValidation = 2
	// ExitCodeNotFound indicates an unknown tool, provider or protocol.
	ExitCodeNotFound = 3
	// ExitCodeTimeout indicates the operation hit its deadline.
	ExitCodeTimeout = 4
)

var (
	rootConfigPath string
	rootDebug      bool
)

// rootCmd represents the base command for the utcp application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "utcp",
	Short: "Call tools published by UTCP providers",
	Long: `utcp registers tool providers, searches the tools they publish and calls
them over each provider's native protocol (HTTP, CLI, MCP, gRPC, and more).

Multi-tool runs go through 'utcp codemode run', which executes a sandboxed
script against the registered tools. 'utcp orchestrate' lets an LLM write
and run that script from a natural-language request.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.InitForCLI(rootDebug)
	},
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the
// application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// It initializes and executes the root command, which in turn handles
// subcommands and flags. This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "utcp version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	if tools.IsValidation(err) {
		return ExitCodeValidation
	}
	if tools.IsNotFound(err) {
		return ExitCodeNotFound
	}
	if tools.IsTimeout(err) {
		return ExitCodeTimeout
	}
	return ExitCodeError
}

// loadCLIConfig loads the configuration from --config, falling back to the
// default path. A missing file yields defaults either way.
func loadCLIConfig() (config.UtcpConfig, error) {
	path := rootConfigPath
	if path == "" {
		defaultPath, err := config.GetDefaultConfigPath()
		if err != nil {
			return config.UtcpConfig{}, err
		}
		path = defaultPath
	}
	return config.LoadConfig(path)
}

// newCLIClient builds a client from the resolved configuration. The caller
// owns the returned client and must Close it.
func newCLIClient(ctx context.Context) (*client.Client, config.UtcpConfig, error) {
	cfg, err := loadCLIConfig()
	if err != nil {
		return nil, config.UtcpConfig{}, err
	}
	cl, err := client.New(ctx, client.WithConfig(cfg))
	if err != nil {
		return nil, config.UtcpConfig{}, err
	}
	return cl, cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "Config file (default is ~/.config/utcp/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&rootDebug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
}
