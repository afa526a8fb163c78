package openapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const petstoreV3 = `{
  "openapi": "3.0.0",
  "info": {"title": "Pet Store!"},
  "servers": [{"url": "https://api.pets.example/v2/"}],
  "components": {
    "schemas": {
      "Pet": {
        "type": "object",
        "properties": {"name": {"type": "string"}},
        "required": ["name"]
      }
    },
    "securitySchemes": {"bearer": {"type": "http", "scheme": "bearer"}}
  },
  "security": [{"bearer": []}],
  "paths": {
    "/pets/{petId}": {
      "get": {
        "operationId": "getPet",
        "summary": "Fetch one pet",
        "tags": ["pets"],
        "parameters": [
          {"name": "petId", "in": "path", "required": true, "schema": {"type": "integer"}},
          {"name": "X-Request-Id", "in": "header", "schema": {"type": "string"}}
        ],
        "responses": {
          "200": {
            "description": "a pet",
            "content": {"application/json": {"schema": {"$ref": "#/components/schemas/Pet"}}}
          }
        }
      }
    },
    "/pets": {
      "post": {
        "requestBody": {
          "required": true,
          "content": {"application/json": {"schema": {"$ref": "#/components/schemas/Pet"}}}
        },
        "responses": {"201": {"description": "created"}}
      }
    }
  }
}`

func TestConvertV3(t *testing.T) {
	spec, err := Parse([]byte(petstoreV3))
	require.NoError(t, err)

	manual := NewConverter(spec, "", "petstore").Convert()
	require.Len(t, manual.Tools, 2)

	post := manual.Tools[0]
	assert.Equal(t, "post_pets", post.Name, "operation without operationId derives its name")
	assert.Equal(t, "https://api.pets.example/v2/pets", post.RawCallTemplate["url"])
	assert.Equal(t, "POST", post.RawCallTemplate["http_method"])
	assert.Equal(t, "http", post.RawCallTemplate["call_template_type"])
	assert.Equal(t, "body", post.RawCallTemplate["body_field"])
	require.Contains(t, post.Inputs.Properties, "body")
	body := post.Inputs.Properties["body"].(map[string]any)
	assert.Equal(t, "object", body["type"])
	require.Contains(t, body, "properties", "$ref to Pet resolves")
	assert.Equal(t, []string{"body"}, post.Inputs.Required)

	get := manual.Tools[1]
	assert.Equal(t, "getPet", get.Name)
	assert.Equal(t, "Fetch one pet", get.Description)
	assert.Equal(t, []string{"pets"}, get.Tags)
	assert.Equal(t, "https://api.pets.example/v2/pets/{petId}", get.RawCallTemplate["url"])
	assert.Equal(t, "GET", get.RawCallTemplate["http_method"])
	assert.Equal(t, []string{"X-Request-Id"}, get.RawCallTemplate["header_fields"])
	assert.NotContains(t, get.RawCallTemplate, "body_field")

	require.Contains(t, get.Inputs.Properties, "petId")
	petID := get.Inputs.Properties["petId"].(map[string]any)
	assert.Equal(t, "integer", petID["type"])
	assert.Equal(t, []string{"petId"}, get.Inputs.Required)

	assert.Equal(t, "object", get.Outputs.Type)
	assert.Contains(t, get.Outputs.Properties, "name")
	assert.Equal(t, []string{"name"}, get.Outputs.Required)
	assert.Equal(t, "a pet", get.Outputs.Description, "response description fills in for schema without one")

	// The spec-wide bearer scheme applies to every operation.
	for _, tool := range manual.Tools {
		authObj, ok := tool.RawCallTemplate["auth"].(map[string]any)
		require.True(t, ok, "tool %s should carry auth", tool.Name)
		assert.Equal(t, "api_key", authObj["auth_type"])
		assert.Equal(t, "Bearer ${PETSTORE_API_KEY}", authObj["api_key"])
		assert.Equal(t, "Authorization", authObj["var_name"])
		assert.Equal(t, "header", authObj["location"])
	}
}

func TestConvertV2(t *testing.T) {
	spec, err := Parse([]byte(`{
      "swagger": "2.0",
      "info": {"title": "Legacy"},
      "host": "legacy.example.com",
      "basePath": "/api",
      "schemes": ["http"],
      "securityDefinitions": {"key": {"type": "apiKey", "in": "query", "name": "api_key"}},
      "security": [{"key": []}],
      "paths": {
        "/status": {
          "get": {
            "operationId": "status",
            "responses": {"200": {"description": "ok", "schema": {"type": "string"}}}
          }
        }
      }
    }`))
	require.NoError(t, err)

	manual := NewConverter(spec, "", "").Convert()
	require.Len(t, manual.Tools, 1)

	tool := manual.Tools[0]
	assert.Equal(t, "status", tool.Name)
	assert.Equal(t, "http://legacy.example.com/api/status", tool.RawCallTemplate["url"])

	assert.Equal(t, "string", tool.Outputs.Type)
	assert.Equal(t, "ok", tool.Outputs.Description)

	authObj := tool.RawCallTemplate["auth"].(map[string]any)
	assert.Equal(t, "api_key", authObj["auth_type"])
	assert.Equal(t, "query", authObj["location"])
	assert.Equal(t, "api_key", authObj["var_name"])
	assert.Equal(t, "${LEGACY_API_KEY}", authObj["api_key"], "provider name derives from the title")
}

func TestConvertOAuth2Flows(t *testing.T) {
	spec, err := Parse([]byte(`{
      "openapi": "3.0.0",
      "info": {"title": "oauth"},
      "servers": [{"url": "https://svc.example.com"}],
      "components": {
        "securitySchemes": {
          "oauth": {
            "type": "oauth2",
            "flows": {
              "clientCredentials": {
                "tokenUrl": "https://svc.example.com/token",
                "scopes": {"read": "read access", "admin": "full access"}
              }
            }
          }
        }
      },
      "paths": {
        "/act": {
          "post": {
            "operationId": "act",
            "security": [{"oauth": ["read"]}],
            "responses": {"200": {"description": "done"}}
          }
        }
      }
    }`))
	require.NoError(t, err)

	manual := NewConverter(spec, "", "svc").Convert()
	require.Len(t, manual.Tools, 1)

	authObj := manual.Tools[0].RawCallTemplate["auth"].(map[string]any)
	assert.Equal(t, "oauth2", authObj["auth_type"])
	assert.Equal(t, "https://svc.example.com/token", authObj["token_url"])
	assert.Equal(t, "${SVC_CLIENT_ID}", authObj["client_id"])
	assert.Equal(t, "${SVC_CLIENT_SECRET}", authObj["client_secret"])
	assert.Equal(t, "admin read", authObj["scope"], "scopes join sorted")
}

func TestBaseURLFallbacks(t *testing.T) {
	t.Run("spec url origin", func(t *testing.T) {
		spec := map[string]any{
			"paths": map[string]any{
				"/ping": map[string]any{
					"get": map[string]any{"operationId": "ping"},
				},
			},
		}
		manual := NewConverter(spec, "https://files.example.com/specs/pets.json", "p").Convert()
		require.Len(t, manual.Tools, 1)
		assert.Equal(t, "https://files.example.com/ping", manual.Tools[0].RawCallTemplate["url"])
	})

	t.Run("nothing known", func(t *testing.T) {
		spec := map[string]any{
			"paths": map[string]any{
				"/ping": map[string]any{
					"get": map[string]any{"operationId": "ping"},
				},
			},
		}
		manual := NewConverter(spec, "", "p").Convert()
		require.Len(t, manual.Tools, 1)
		assert.Equal(t, "/ping", manual.Tools[0].RawCallTemplate["url"])
	})
}

func TestConvertUnusableSpecs(t *testing.T) {
	tests := []struct {
		name string
		spec map[string]any
	}{
		{name: "empty spec", spec: map[string]any{}},
		{name: "paths not an object", spec: map[string]any{"paths": "nope"}},
		{
			name: "only unsupported methods",
			spec: map[string]any{
				"paths": map[string]any{
					"/x": map[string]any{"options": map[string]any{}, "head": map[string]any{}},
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manual := NewConverter(tt.spec, "", "p").Convert()
			assert.Empty(t, manual.Tools)
		})
	}
}

func TestParseYAML(t *testing.T) {
	spec, err := Parse([]byte("openapi: 3.0.0\ninfo:\n  title: yamlspec\npaths: {}\n"))
	require.NoError(t, err)
	title, ok := dig(spec, "info", "title")
	require.True(t, ok)
	assert.Equal(t, "yamlspec", title)

	_, err = Parse([]byte("\t{not yaml either"))
	assert.Error(t, err)
}

func TestDeriveProviderName(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{title: "Pet Store!", want: "Pet_Store_"},
		{title: "clean", want: "clean"},
		{title: "", want: "openapi_provider"},
	}
	for _, tt := range tests {
		spec := map[string]any{"info": map[string]any{"title": tt.title}}
		assert.Equal(t, tt.want, deriveProviderName(spec))
	}
}
