package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utcp/internal/tools"
)

func makeTools(provider string, names ...string) []tools.Tool {
	out := make([]tools.Tool, 0, len(names))
	for _, n := range names {
		out = append(out, tools.Tool{
			Name:        tools.QualifyName(provider, n),
			Description: "test tool " + n,
		})
	}
	return out
}

func TestInMemory_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemory()

	provider := tools.Provider{Name: "weather", Type: "http"}
	require.NoError(t, repo.SaveProviderWithTools(ctx, provider, makeTools("weather", "forecast", "current")))

	p, ok, err := repo.GetProvider(ctx, "weather")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "http", p.Type)

	tool, ok, err := repo.GetTool(ctx, "weather.forecast")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "weather.forecast", tool.Name)

	_, ok, err = repo.GetTool(ctx, "weather.unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInMemory_SaveRejectsEmptyName(t *testing.T) {
	repo := NewInMemory()
	err := repo.SaveProviderWithTools(context.Background(), tools.Provider{Name: "  "}, nil)
	assert.True(t, tools.IsValidation(err))
}

func TestInMemory_ReplaceIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemory()

	require.NoError(t, repo.SaveProviderWithTools(ctx,
		tools.Provider{Name: "p", Type: "http"},
		makeTools("p", "old_a", "old_b")))

	require.NoError(t, repo.SaveProviderWithTools(ctx,
		tools.Provider{Name: "p", Type: "http"},
		makeTools("p", "new_a")))

	// Old tools fully gone, new fully visible.
	_, ok, _ := repo.GetTool(ctx, "p.old_a")
	assert.False(t, ok)
	_, ok, _ = repo.GetTool(ctx, "p.old_b")
	assert.False(t, ok)
	_, ok, _ = repo.GetTool(ctx, "p.new_a")
	assert.True(t, ok)

	list, err := repo.ListToolsByProvider(ctx, "p")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestInMemory_ReplaceKeepsInsertionPosition(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemory()

	for _, name := range []string{"first", "second", "third"} {
		require.NoError(t, repo.SaveProviderWithTools(ctx,
			tools.Provider{Name: name, Type: "http"}, makeTools(name, "t")))
	}

	// Replacing the middle provider must not move it to the end.
	require.NoError(t, repo.SaveProviderWithTools(ctx,
		tools.Provider{Name: "second", Type: "cli"}, makeTools("second", "t2")))

	providers, err := repo.ListProviders(ctx)
	require.NoError(t, err)
	require.Len(t, providers, 3)
	assert.Equal(t, "first", providers[0].Name)
	assert.Equal(t, "second", providers[1].Name)
	assert.Equal(t, "third", providers[2].Name)
	assert.Equal(t, "cli", providers[1].Type)
}

func TestInMemory_RemoveProvider(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemory()

	require.NoError(t, repo.SaveProviderWithTools(ctx,
		tools.Provider{Name: "p", Type: "http"}, makeTools("p", "a")))

	removed, err := repo.RemoveProvider(ctx, "p")
	require.NoError(t, err)
	assert.True(t, removed)

	_, ok, _ := repo.GetProvider(ctx, "p")
	assert.False(t, ok)
	_, ok, _ = repo.GetTool(ctx, "p.a")
	assert.False(t, ok)

	t.Run("unknown provider is a no-op", func(t *testing.T) {
		removed, err := repo.RemoveProvider(ctx, "never-registered")
		require.NoError(t, err)
		assert.False(t, removed)
	})
}

func TestInMemory_ListToolsFollowsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemory()

	require.NoError(t, repo.SaveProviderWithTools(ctx,
		tools.Provider{Name: "b_provider", Type: "http"}, makeTools("b_provider", "z", "a")))
	require.NoError(t, repo.SaveProviderWithTools(ctx,
		tools.Provider{Name: "a_provider", Type: "http"}, makeTools("a_provider", "m")))

	list, err := repo.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)

	// Insertion order of providers, manual order within a provider. Never
	// alphabetical.
	assert.Equal(t, "b_provider.z", list[0].Name)
	assert.Equal(t, "b_provider.a", list[1].Name)
	assert.Equal(t, "a_provider.m", list[2].Name)
}

func TestInMemory_ListToolsByProviderUnknown(t *testing.T) {
	repo := NewInMemory()
	_, err := repo.ListToolsByProvider(context.Background(), "ghost")
	assert.True(t, tools.IsNotFound(err))
}

func TestInMemory_ReadersGetCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemory()

	require.NoError(t, repo.SaveProviderWithTools(ctx,
		tools.Provider{Name: "p", Type: "http"}, makeTools("p", "a", "b")))

	list, err := repo.ListToolsByProvider(ctx, "p")
	require.NoError(t, err)
	list[0].Name = "p.mutated"
	list = list[:1]
	_ = list

	fresh, err := repo.ListToolsByProvider(ctx, "p")
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	assert.Equal(t, "p.a", fresh[0].Name)
}

func TestInMemory_ConcurrentReplaceNeverPartial(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemory()

	setA := makeTools("p", "a1", "a2")
	setB := makeTools("p", "b1", "b2", "b3")
	require.NoError(t, repo.SaveProviderWithTools(ctx, tools.Provider{Name: "p", Type: "http"}, setA))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			set := setA
			if i%2 == 0 {
				set = setB
			}
			_ = repo.SaveProviderWithTools(ctx, tools.Provider{Name: "p", Type: "http"}, set)
		}
	}()

	var violations int
	for i := 0; i < 500; i++ {
		list, err := repo.ListToolsByProvider(ctx, "p")
		require.NoError(t, err)
		if len(list) != len(setA) && len(list) != len(setB) {
			violations++
		}
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, violations, "observed a partially replaced tool set")
}

func TestInMemory_ManyProviders(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemory()

	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("p%02d", i)
		require.NoError(t, repo.SaveProviderWithTools(ctx,
			tools.Provider{Name: name, Type: "http"}, makeTools(name, "t")))
	}

	providers, err := repo.ListProviders(ctx)
	require.NoError(t, err)
	require.Len(t, providers, 20)
	for i, p := range providers {
		assert.Equal(t, fmt.Sprintf("p%02d", i), p.Name)
	}
}
