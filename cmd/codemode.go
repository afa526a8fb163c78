package cmd

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"utcp/internal/codemode"
	"utcp/internal/formatting"
)

var (
	codemodeTimeout        time.Duration
	codemodeOpBudget       int
	codemodeMaxResultBytes int
	codemodeOutput         string
)

// codemodeCmd groups script execution subcommands.
var codemodeCmd = &cobra.Command{
	Use:   "codemode",
	Short: "Run sandboxed tool scripts",
	Long: `Codemode executes a small JavaScript subset against the registered
tools. Scripts call tools through call_tool, call_tool_stream,
search_tools and sprintf; function definitions, loops and eval are
rejected up front. Every run is bounded by an operation budget and a
wall-clock timeout.`,
}

var codemodeRunCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Execute a script file",
	Long: `Execute a script file and print its completion value. Pass "-" to read
the script from stdin.

Examples:
  utcp codemode run ./report.js
  echo 'call_tool("weather.get_current", {city: "Berlin"})' | utcp codemode run -
  utcp codemode run ./batch.js --op-budget 200 --timeout 20s`,
	Args: cobra.ExactArgs(1),
	RunE: runCodemodeRun,
}

func init() {
	rootCmd.AddCommand(codemodeCmd)
	codemodeCmd.AddCommand(codemodeRunCmd)

	codemodeRunCmd.Flags().DurationVar(&codemodeTimeout, "timeout", 0, "Script timeout (0 uses the configured default)")
	codemodeRunCmd.Flags().IntVar(&codemodeOpBudget, "op-budget", 0, "Override the operation budget for this run")
	codemodeRunCmd.Flags().IntVar(&codemodeMaxResultBytes, "max-result-bytes", 0, "Override the result size cap for this run")
	codemodeRunCmd.Flags().StringVarP(&codemodeOutput, "output", "o", "json", "Output format (json, yaml)")
}

func runCodemodeRun(cmd *cobra.Command, args []string) error {
	format, err := formatting.ParseFormat(codemodeOutput)
	if err != nil {
		return err
	}
	code, err := readScript(cmd, args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	cl, cfg, err := newCLIClient(ctx)
	if err != nil {
		return err
	}
	defer cl.Close(context.Background())

	limits := codemode.LimitsFromConfig(cfg.CodeMode)
	if codemodeOpBudget > 0 {
		limits.OpBudget = codemodeOpBudget
	}
	if codemodeMaxResultBytes > 0 {
		limits.MaxResultBytes = codemodeMaxResultBytes
	}

	engine := codemode.New(cl, codemode.WithLimits(limits), codemode.WithSink(cl.AuditSink()))
	result, err := engine.Execute(ctx, codemode.Request{Code: code, Timeout: codemodeTimeout})
	if err != nil {
		return err
	}
	return formatting.New(format, cmd.OutOrStdout()).Value(result.Value)
}

func readScript(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
