package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"utcp/internal/config"
	"utcp/internal/formatting"
	"utcp/internal/manual"
	"utcp/internal/tools"
)

var providersOutput string

// providersCmd groups provider management subcommands.
var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Manage tool providers",
	Long: `Register, list and remove tool providers.

Providers registered here live for the duration of the command. For a
persistent set, point providers_file in the config at a providers file;
every command then registers those providers on startup.

Examples:
  utcp providers list
  utcp providers register ./providers.yaml
  utcp providers deregister weather`,
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered providers",
	RunE:  runProvidersList,
}

var providersRegisterCmd = &cobra.Command{
	Use:   "register <file>",
	Short: "Register the providers described in a template file",
	Long: `Register every provider in a YAML or JSON providers file. Each entry is
a call template; variable references like $API_KEY are substituted from
the configured variables and loaders before registration.`,
	Args: cobra.ExactArgs(1),
	RunE: runProvidersRegister,
}

var providersDeregisterCmd = &cobra.Command{
	Use:   "deregister <name>",
	Short: "Deregister a provider and drop its tools",
	Args:  cobra.ExactArgs(1),
	RunE:  runProvidersDeregister,
}

func init() {
	rootCmd.AddCommand(providersCmd)
	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersRegisterCmd)
	providersCmd.AddCommand(providersDeregisterCmd)

	providersCmd.PersistentFlags().StringVarP(&providersOutput, "output", "o", "table", "Output format (table, json, yaml)")
}

func runProvidersList(cmd *cobra.Command, args []string) error {
	format, err := formatting.ParseFormat(providersOutput)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	cl, _, err := newCLIClient(ctx)
	if err != nil {
		return err
	}
	defer cl.Close(context.Background())

	providers, err := cl.Repository().ListProviders(ctx)
	if err != nil {
		return err
	}
	toolCounts := make(map[string]int, len(providers))
	for _, p := range providers {
		providerTools, err := cl.Repository().ListToolsByProvider(ctx, p.Name)
		if err != nil {
			return err
		}
		toolCounts[p.Name] = len(providerTools)
	}
	return formatting.New(format, cmd.OutOrStdout()).Providers(providers, toolCounts)
}

func runProvidersRegister(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cl, cfg, err := newCLIClient(ctx)
	if err != nil {
		return err
	}
	defer cl.Close(context.Background())

	templates, err := config.LoadProviders(args[0], &cfg, manual.Default())
	if err != nil {
		return err
	}

	var failed int
	for _, tmpl := range templates {
		registered, err := cl.RegisterProvider(ctx, tmpl)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "provider %q: %v\n", tmpl.ProviderName(), err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Registered provider %q with %d tools\n", tmpl.ProviderName(), len(registered))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d providers failed to register", failed, len(templates))
	}
	return nil
}

func runProvidersDeregister(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cl, _, err := newCLIClient(ctx)
	if err != nil {
		return err
	}
	defer cl.Close(context.Background())

	name := tools.NormalizeProviderName(args[0])
	if _, found, err := cl.Repository().GetProvider(ctx, name); err != nil {
		return err
	} else if !found {
		return &tools.ProviderNotFoundError{Provider: name}
	}

	if err := cl.DeregisterProvider(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deregistered provider %q\n", name)
	return nil
}
