package repository

import (
	"context"

	"utcp/internal/tools"
)

// Repository stores registered providers and their qualified tools.
//
// Implementations must be safe for concurrent use and must make provider
// saves atomic: a reader either sees the provider's previous tool set or the
// full new one, never a mix.
type Repository interface {
	// SaveProviderWithTools registers or replaces a provider together with
	// its full tool list in one step.
	SaveProviderWithTools(ctx context.Context, provider tools.Provider, toolList []tools.Tool) error

	// RemoveProvider deletes a provider and its tools. Removing an unknown
	// provider is a no-op and reports removed=false with a nil error.
	RemoveProvider(ctx context.Context, name string) (removed bool, err error)

	// GetProvider looks up a provider by name.
	GetProvider(ctx context.Context, name string) (*tools.Provider, bool, error)

	// ListProviders returns all providers in insertion order.
	ListProviders(ctx context.Context) ([]tools.Provider, error)

	// GetTool looks up a tool by its qualified name.
	GetTool(ctx context.Context, qualifiedName string) (*tools.Tool, bool, error)

	// ListTools returns every stored tool, grouped by provider in insertion
	// order, tools in manual order within each provider.
	ListTools(ctx context.Context) ([]tools.Tool, error)

	// ListToolsByProvider returns the tools of one provider in manual order.
	// Unknown providers yield a ProviderNotFoundError.
	ListToolsByProvider(ctx context.Context, provider string) ([]tools.Tool, error)
}
