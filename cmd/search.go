package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"utcp/internal/formatting"
)

var (
	searchLimit  int
	searchOutput string
)

// searchCmd represents the search command.
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search registered tools",
	Long: `Search the tools of all registered providers. The query is matched
against tool names, descriptions and tags; results come back best first.

Examples:
  utcp search weather
  utcp search "currency conversion" --limit 5
  utcp search weather --output json`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "Maximum number of results")
	searchCmd.Flags().StringVarP(&searchOutput, "output", "o", "table", "Output format (table, json, yaml)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	format, err := formatting.ParseFormat(searchOutput)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	cl, _, err := newCLIClient(ctx)
	if err != nil {
		return err
	}
	defer cl.Close(context.Background())

	hits, err := cl.SearchTools(ctx, args[0], searchLimit)
	if err != nil {
		return err
	}
	return formatting.New(format, cmd.OutOrStdout()).Tools(hits)
}
