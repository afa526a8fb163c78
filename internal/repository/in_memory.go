package repository

import (
	"context"
	"sync"

	"utcp/internal/tools"
	"utcp/pkg/logging"
)

// InMemory is the default Repository. A single RWMutex guards three views of
// the same data: the provider records, the per-provider tool lists, and a
// flat index by qualified tool name. Saves swap all three inside one write
// section, which is what makes replacement atomic for readers.
//
// Returned providers and tools are value copies. Schema maps inside a Tool
// are shared and treated as immutable by the runtime.
type InMemory struct {
	mu            sync.RWMutex
	order         []string
	providers     map[string]tools.Provider
	providerTools map[string][]tools.Tool
	toolIndex     map[string]tools.Tool
}

// NewInMemory creates an empty repository.
func NewInMemory() *InMemory {
	return &InMemory{
		providers:     make(map[string]tools.Provider),
		providerTools: make(map[string][]tools.Tool),
		toolIndex:     make(map[string]tools.Tool),
	}
}

func (r *InMemory) SaveProviderWithTools(ctx context.Context, provider tools.Provider, toolList []tools.Tool) error {
	if err := tools.ValidateProviderName(provider.Name); err != nil {
		return err
	}

	stored := make([]tools.Tool, len(toolList))
	copy(stored, toolList)

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.providers[provider.Name]; exists {
		// Replacement keeps the provider's original insertion position.
		for _, t := range r.providerTools[old.Name] {
			delete(r.toolIndex, t.Name)
		}
	} else {
		r.order = append(r.order, provider.Name)
	}

	r.providers[provider.Name] = provider
	r.providerTools[provider.Name] = stored
	for _, t := range stored {
		r.toolIndex[t.Name] = t
	}

	logging.Debug("Repository", "saved provider %q with %d tools", provider.Name, len(stored))
	return nil
}

func (r *InMemory) RemoveProvider(ctx context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; !exists {
		return false, nil
	}

	for _, t := range r.providerTools[name] {
		delete(r.toolIndex, t.Name)
	}
	delete(r.providers, name)
	delete(r.providerTools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	logging.Debug("Repository", "removed provider %q", name)
	return true, nil
}

func (r *InMemory) GetProvider(ctx context.Context, name string) (*tools.Provider, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.providers[name]
	if !exists {
		return nil, false, nil
	}
	cp := p
	return &cp, true, nil
}

func (r *InMemory) ListProviders(ctx context.Context) ([]tools.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]tools.Provider, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.providers[name])
	}
	return out, nil
}

func (r *InMemory) GetTool(ctx context.Context, qualifiedName string) (*tools.Tool, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.toolIndex[qualifiedName]
	if !exists {
		return nil, false, nil
	}
	cp := t
	return &cp, true, nil
}

func (r *InMemory) ListTools(ctx context.Context) ([]tools.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []tools.Tool
	for _, name := range r.order {
		out = append(out, r.providerTools[name]...)
	}
	return out, nil
}

func (r *InMemory) ListToolsByProvider(ctx context.Context, provider string) ([]tools.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list, exists := r.providerTools[provider]
	if !exists {
		return nil, &tools.ProviderNotFoundError{Provider: provider}
	}
	out := make([]tools.Tool, len(list))
	copy(out, list)
	return out, nil
}
