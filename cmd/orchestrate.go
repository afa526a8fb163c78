package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"utcp/internal/codemode"
	"utcp/internal/codemode/llm"
	"utcp/internal/formatting"
	"utcp/internal/tools"
)

var (
	orchestrateBackend    string
	orchestrateModel      string
	orchestrateBaseURL    string
	orchestrateOutput     string
	orchestrateShowScript bool
)

// orchestrateCmd represents the orchestrate command.
var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate <prompt>",
	Short: "Let an LLM plan and run tool calls for a request",
	Long: `Orchestrate answers a natural-language request with the registered
tools: the model decides whether tools are needed, picks candidates from
a tool search, writes a codemode script and the engine runs it under the
usual limits.

The backend API key comes from the environment: OPENAI_API_KEY for the
openai backend (or any OpenAI-compatible server via --base-url),
GEMINI_API_KEY for gemini.

Examples:
  utcp orchestrate "what's the weather in Berlin?"
  utcp orchestrate --backend gemini "convert 100 EUR to USD"
  utcp orchestrate --base-url http://localhost:11434/v1 --model llama3 "list my open tickets"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOrchestrate,
}

func init() {
	rootCmd.AddCommand(orchestrateCmd)

	orchestrateCmd.Flags().StringVar(&orchestrateBackend, "backend", "openai", "LLM backend (openai, gemini)")
	orchestrateCmd.Flags().StringVar(&orchestrateModel, "model", "", "Model name (defaults per backend)")
	orchestrateCmd.Flags().StringVar(&orchestrateBaseURL, "base-url", "", "OpenAI-compatible API base URL")
	orchestrateCmd.Flags().StringVarP(&orchestrateOutput, "output", "o", "json", "Output format (json, yaml)")
	orchestrateCmd.Flags().BoolVar(&orchestrateShowScript, "show-script", false, "Print the generated script to stderr before the result")
}

func runOrchestrate(cmd *cobra.Command, args []string) error {
	format, err := formatting.ParseFormat(orchestrateOutput)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	model, err := buildModel(ctx)
	if err != nil {
		return err
	}

	cl, cfg, err := newCLIClient(ctx)
	if err != nil {
		return err
	}
	defer cl.Close(context.Background())

	limits := codemode.LimitsFromConfig(cfg.CodeMode)
	engine := codemode.New(cl, codemode.WithLimits(limits), codemode.WithSink(cl.AuditSink()))
	orchestrator := codemode.NewOrchestrator(engine, model)

	outcome, err := orchestrator.CallPrompt(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if outcome.NoToolNeeded {
		fmt.Fprintln(cmd.OutOrStdout(), "No tool call needed for this request.")
		return nil
	}
	if orchestrateShowScript {
		fmt.Fprintln(cmd.ErrOrStderr(), outcome.Script)
	}
	return formatting.New(format, cmd.OutOrStdout()).Value(outcome.Result.Value)
}

// buildModel constructs the LLM backend selected by flags and environment.
func buildModel(ctx context.Context) (llm.Model, error) {
	switch orchestrateBackend {
	case "openai":
		var opts []llm.OpenAIOption
		if orchestrateBaseURL != "" {
			opts = append(opts, llm.WithOpenAIBaseURL(orchestrateBaseURL))
		}
		if orchestrateModel != "" {
			opts = append(opts, llm.WithOpenAIModel(orchestrateModel))
		}
		return llm.NewOpenAI(os.Getenv("OPENAI_API_KEY"), opts...), nil
	case "gemini":
		if orchestrateBaseURL != "" {
			return nil, tools.NewValidationError("base-url", "only the openai backend supports a custom base URL")
		}
		var opts []llm.GeminiOption
		if orchestrateModel != "" {
			opts = append(opts, llm.WithGeminiModel(orchestrateModel))
		}
		return llm.NewGemini(ctx, os.Getenv("GEMINI_API_KEY"), opts...)
	default:
		return nil, tools.NewValidationError("backend", "unknown backend %q (want openai or gemini)", orchestrateBackend)
	}
}
