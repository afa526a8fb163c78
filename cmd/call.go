package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"utcp/internal/formatting"
	"utcp/internal/tools"
)

var (
	callArgPairs []string
	callJSONArgs string
	callStream   bool
	callTimeout  time.Duration
	callOutput   string
)

// callCmd represents the call command.
var callCmd = &cobra.Command{
	Use:   "call <tool>",
	Short: "Call a tool by its qualified name",
	Long: `Call a registered tool over its provider's protocol and print the result.

The tool name is qualified as "provider.tool". Arguments are given either
as repeatable --arg key=value pairs, as one JSON object with --json, or
both (--arg entries override the JSON object). Values in --arg pairs are
parsed as JSON when possible, so numbers and booleans stay typed.

Examples:
  utcp call weather.get_current --arg city=Berlin
  utcp call weather.get_current --json '{"city": "Berlin", "days": 3}'
  utcp call ticker.watch --arg symbol=ACME --stream
  utcp call slow.report --timeout 2m`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().StringArrayVar(&callArgPairs, "arg", nil, "Tool argument as key=value (repeatable)")
	callCmd.Flags().StringVar(&callJSONArgs, "json", "", "Tool arguments as a JSON object")
	callCmd.Flags().BoolVar(&callStream, "stream", false, "Use the streaming call and print items as they arrive")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 0, "Per-call timeout (0 uses the configured call_timeout)")
	callCmd.Flags().StringVarP(&callOutput, "output", "o", "json", "Output format (json, yaml)")
}

func runCall(cmd *cobra.Command, args []string) error {
	format, err := formatting.ParseFormat(callOutput)
	if err != nil {
		return err
	}
	toolArgs, err := parseCallArgs(callJSONArgs, callArgPairs)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, callTimeout)
		defer cancel()
	}

	cl, _, err := newCLIClient(ctx)
	if err != nil {
		return err
	}
	defer cl.Close(context.Background())

	f := formatting.New(format, cmd.OutOrStdout())
	toolName := args[0]

	if callStream {
		stream, err := cl.CallToolStream(ctx, toolName, toolArgs)
		if err != nil {
			return err
		}
		defer stream.Close()
		for {
			item, err := stream.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := f.Value(item); err != nil {
				return err
			}
		}
	}

	result, err := cl.CallTool(ctx, toolName, toolArgs)
	if err != nil {
		return err
	}
	return f.Value(result)
}

// parseCallArgs merges the --json object with --arg pairs, pairs winning.
func parseCallArgs(jsonDoc string, pairs []string) (map[string]any, error) {
	out := map[string]any{}
	if jsonDoc != "" {
		if err := json.Unmarshal([]byte(jsonDoc), &out); err != nil {
			return nil, tools.NewValidationError("json", "arguments must be a JSON object: %v", err)
		}
	}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, tools.NewValidationError("arg", "want key=value, got %q", pair)
		}
		out[key] = parseArgValue(raw)
	}
	return out, nil
}

// parseArgValue keeps numbers, booleans and structured values typed when the
// raw text is valid JSON, and falls back to the literal string otherwise.
func parseArgValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
