package manual

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utcp/internal/tools"
	"utcp/internal/transports"
	"utcp/pkg/auth"
)

func TestNormalizeHTTP(t *testing.T) {
	tests := []struct {
		name         string
		providerName string
		raw          map[string]any
		wantMethod   string
		wantName     string
		wantErr      string
	}{
		{
			name:         "full template",
			providerName: "weather",
			raw: map[string]any{
				"call_template_type": "http",
				"url":                "https://api.example.com/tools",
				"http_method":        "post",
				"content_type":       "application/json",
			},
			wantMethod: "POST",
			wantName:   "weather",
		},
		{
			name:         "method defaults to GET",
			providerName: "weather",
			raw: map[string]any{
				"call_template_type": "http",
				"url":                "https://api.example.com/tools",
			},
			wantMethod: "GET",
			wantName:   "weather",
		},
		{
			name:         "legacy method key",
			providerName: "weather",
			raw: map[string]any{
				"call_template_type": "http",
				"url":                "https://api.example.com/tools",
				"method":             "delete",
			},
			wantMethod: "DELETE",
			wantName:   "weather",
		},
		{
			name: "name falls back to template field",
			raw: map[string]any{
				"call_template_type": "http",
				"name":               "embedded",
				"url":                "https://api.example.com/tools",
			},
			wantMethod: "GET",
			wantName:   "embedded",
		},
		{
			name: "name falls back to type",
			raw: map[string]any{
				"call_template_type": "http",
				"url":                "https://api.example.com/tools",
			},
			wantMethod: "GET",
			wantName:   "http",
		},
		{
			name:         "missing url",
			providerName: "weather",
			raw: map[string]any{
				"call_template_type": "http",
			},
			wantErr: "needs a url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := NewHandlerRegistry().Normalize(tt.providerName, tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, tools.IsValidation(err))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			httpTmpl, ok := tmpl.(*transports.HTTPTemplate)
			require.True(t, ok, "expected *transports.HTTPTemplate, got %T", tmpl)
			assert.Equal(t, tt.wantMethod, httpTmpl.Method)
			assert.Equal(t, tt.wantName, httpTmpl.ProviderName())
			assert.Equal(t, transports.ProtocolHTTP, httpTmpl.TemplateType())
		})
	}
}

func TestNormalizeCli(t *testing.T) {
	tests := []struct {
		name        string
		raw         map[string]any
		wantCommand string
		wantErr     bool
	}{
		{
			name: "command_name field",
			raw: map[string]any{
				"call_template_type": "cli",
				"command_name":       "kubectl get pods",
			},
			wantCommand: "kubectl get pods",
		},
		{
			name: "command alias",
			raw: map[string]any{
				"call_template_type": "cli",
				"command":            "ls -la",
			},
			wantCommand: "ls -la",
		},
		{
			name: "first of commands list",
			raw: map[string]any{
				"call_template_type": "cli",
				"commands": []any{
					map[string]any{"command": "echo one"},
					map[string]any{"command": "echo two"},
				},
			},
			wantCommand: "echo one",
		},
		{
			name:    "no command at all",
			raw:     map[string]any{"call_template_type": "cli"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := NewHandlerRegistry().Normalize("local", tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, tools.IsValidation(err))
				return
			}
			require.NoError(t, err)
			cli, ok := tmpl.(*transports.CliTemplate)
			require.True(t, ok)
			assert.Equal(t, tt.wantCommand, cli.CommandName)
		})
	}
}

func TestNormalizeValidation(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{
			name: "nil template",
			raw:  nil,
		},
		{
			name: "missing template type",
			raw:  map[string]any{"url": "https://example.com"},
		},
		{
			name: "non-string template type",
			raw:  map[string]any{"call_template_type": 7},
		},
		{
			name: "grpc port out of range",
			raw:  map[string]any{"call_template_type": "grpc", "host": "localhost", "port": 70000},
		},
		{
			name: "grpc missing host",
			raw:  map[string]any{"call_template_type": "grpc", "port": 50051},
		},
		{
			name: "graphql bad operation type",
			raw: map[string]any{
				"call_template_type": "graphql",
				"url":                "https://example.com/graphql",
				"operation_type":     "subscribe",
			},
		},
		{
			name: "mcp without url or command",
			raw:  map[string]any{"call_template_type": "mcp"},
		},
		{
			name: "mcp with url and command",
			raw: map[string]any{
				"call_template_type": "mcp",
				"url":                "https://example.com/mcp",
				"command":            "mcp-server",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHandlerRegistry().Normalize("p", tt.raw)
			require.Error(t, err)
			assert.True(t, tools.IsValidation(err), "expected validation error, got %v", err)
		})
	}
}

func TestNormalizeDefaults(t *testing.T) {
	t.Run("tcp timeout", func(t *testing.T) {
		tmpl, err := NewHandlerRegistry().Normalize("sock", map[string]any{
			"call_template_type": "tcp",
			"host":               "10.0.0.1",
			"port":               9000,
		})
		require.NoError(t, err)
		tcp := tmpl.(*transports.TCPTemplate)
		assert.Equal(t, int64(30_000), tcp.TimeoutMs)
	})

	t.Run("http_stream method", func(t *testing.T) {
		tmpl, err := NewHandlerRegistry().Normalize("stream", map[string]any{
			"call_template_type": "http_stream",
			"url":                "https://example.com/stream",
		})
		require.NoError(t, err)
		assert.Equal(t, "POST", tmpl.(*transports.StreamableHTTPTemplate).Method)
	})

	t.Run("graphql operation type", func(t *testing.T) {
		tmpl, err := NewHandlerRegistry().Normalize("gql", map[string]any{
			"call_template_type": "graphql",
			"url":                "https://example.com/graphql",
		})
		require.NoError(t, err)
		assert.Equal(t, "query", tmpl.(*transports.GraphQLTemplate).OperationType)
	})
}

func TestNormalizeAuth(t *testing.T) {
	t.Run("decodes api key auth", func(t *testing.T) {
		tmpl, err := NewHandlerRegistry().Normalize("secure", map[string]any{
			"call_template_type": "http",
			"url":                "https://api.example.com",
			"auth": map[string]any{
				"auth_type": "api_key",
				"api_key":   "secret-1",
				"var_name":  "X-Token",
			},
		})
		require.NoError(t, err)
		httpTmpl := tmpl.(*transports.HTTPTemplate)
		key, ok := httpTmpl.Auth.(*auth.ApiKeyAuth)
		require.True(t, ok)
		assert.Equal(t, "X-Token", key.VarName)
	})

	t.Run("rejects unknown auth type", func(t *testing.T) {
		_, err := NewHandlerRegistry().Normalize("secure", map[string]any{
			"call_template_type": "http",
			"url":                "https://api.example.com",
			"auth":               map[string]any{"auth_type": "kerberos"},
		})
		require.Error(t, err)
	})
}

func TestNormalizeUnknownType(t *testing.T) {
	raw := map[string]any{
		"call_template_type": "carrier_pigeon",
		"coop":               "roof",
	}
	tmpl, err := NewHandlerRegistry().Normalize("birds", raw)
	require.NoError(t, err)

	generic, ok := tmpl.(*transports.GenericTemplate)
	require.True(t, ok)
	assert.Equal(t, "carrier_pigeon", generic.TemplateType())
	assert.Equal(t, "birds", generic.ProviderName())
	assert.Equal(t, "roof", generic.Config["coop"])
}

func TestRegisterCustomHandler(t *testing.T) {
	reg := NewHandlerRegistry()
	reg.Register("carrier_pigeon", func(providerName string, raw map[string]any) (tools.CallTemplate, error) {
		return &transports.GenericTemplate{Name: "handled-" + providerName, Type: "carrier_pigeon"}, nil
	})

	tmpl, err := reg.Normalize("birds", map[string]any{"call_template_type": "carrier_pigeon"})
	require.NoError(t, err)
	assert.Equal(t, "handled-birds", tmpl.ProviderName())

	// The default registry is untouched.
	tmpl, err = Default().Normalize("birds", map[string]any{"call_template_type": "carrier_pigeon"})
	require.NoError(t, err)
	assert.Equal(t, "birds", tmpl.ProviderName())
}

func TestEncodeTemplate(t *testing.T) {
	t.Run("http round trip", func(t *testing.T) {
		reg := NewHandlerRegistry()
		tmpl, err := reg.Normalize("weather", map[string]any{
			"call_template_type": "http",
			"url":                "https://api.example.com/tools",
			"http_method":        "POST",
			"headers":            map[string]any{"X-Trace": "on"},
		})
		require.NoError(t, err)

		encoded, err := EncodeTemplate(tmpl)
		require.NoError(t, err)
		assert.Equal(t, "http", encoded["call_template_type"])
		assert.Equal(t, "https://api.example.com/tools", encoded["url"])
		assert.Equal(t, "POST", encoded["http_method"])

		again, err := reg.Normalize("", encoded)
		require.NoError(t, err)
		assert.Equal(t, tmpl, again)
	})

	t.Run("generic keeps config", func(t *testing.T) {
		encoded, err := EncodeTemplate(&transports.GenericTemplate{
			Name:   "birds",
			Type:   "carrier_pigeon",
			Config: map[string]any{"coop": "roof"},
		})
		require.NoError(t, err)
		assert.Equal(t, "carrier_pigeon", encoded["call_template_type"])
		assert.Equal(t, "birds", encoded["name"])
		assert.Equal(t, "roof", encoded["coop"])
	})

	t.Run("nil template", func(t *testing.T) {
		_, err := EncodeTemplate(nil)
		require.Error(t, err)
	})
}
