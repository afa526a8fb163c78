package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitQualifiedName(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantProvider string
		wantLocal    string
		wantOK       bool
	}{
		{
			name:         "simple qualified name",
			input:        "weather.get_forecast",
			wantProvider: "weather",
			wantLocal:    "get_forecast",
			wantOK:       true,
		},
		{
			name:         "local name with dots splits on first separator",
			input:        "fs.read.file.v2",
			wantProvider: "fs",
			wantLocal:    "read.file.v2",
			wantOK:       true,
		},
		{
			name:      "unqualified name",
			input:     "get_forecast",
			wantLocal: "get_forecast",
			wantOK:    false,
		},
		{
			name:         "leading separator yields empty provider",
			input:        ".tool",
			wantProvider: "",
			wantLocal:    "tool",
			wantOK:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, local, ok := SplitQualifiedName(tt.input)
			assert.Equal(t, tt.wantProvider, provider)
			assert.Equal(t, tt.wantLocal, local)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestQualifyAndSplitRoundTrip(t *testing.T) {
	cases := []struct{ provider, local string }{
		{"weather", "get_forecast"},
		{"my_provider", "tool.with.dots"},
		{"a", "b"},
	}

	for _, c := range cases {
		qualified := QualifyName(c.provider, c.local)
		provider, local, ok := SplitQualifiedName(qualified)
		require.True(t, ok)
		assert.Equal(t, c.provider, provider)
		assert.Equal(t, c.local, local)
	}
}

func TestEnsureQualified(t *testing.T) {
	assert.Equal(t, "p.tool", EnsureQualified("tool", "p"))
	assert.Equal(t, "p.tool", EnsureQualified("p.tool", "p"), "already qualified stays stable")
	assert.Equal(t, "p.q.tool", EnsureQualified("q.tool", "p"), "foreign prefix still gets qualified")
}

func TestStripProviderPrefix(t *testing.T) {
	assert.Equal(t, "get_forecast", StripProviderPrefix("weather.get_forecast", "weather"))
	assert.Equal(t, "read.file", StripProviderPrefix("fs.read.file", "fs"))
	assert.Equal(t, "plain", StripProviderPrefix("plain", "weather"), "unqualified names pass through")
	assert.Equal(t, "other.tool", StripProviderPrefix("other.tool", "weather"), "foreign prefix untouched")
}

func TestNormalizeProviderName(t *testing.T) {
	assert.Equal(t, "my_provider", NormalizeProviderName("my.provider"))
	assert.Equal(t, "a_b_c", NormalizeProviderName("a.b.c"))
	assert.Equal(t, "clean", NormalizeProviderName("clean"))
}

func TestValidateProviderName(t *testing.T) {
	assert.NoError(t, ValidateProviderName("weather"))
	assert.Error(t, ValidateProviderName(""))
	assert.Error(t, ValidateProviderName("   "))
}
