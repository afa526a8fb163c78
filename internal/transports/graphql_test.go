package transports

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utcp/internal/tools"
)

func TestGraphQLTransport_Discovery_Introspection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request struct {
			Query string `json:"query"`
		}
		json.NewDecoder(r.Body).Decode(&request)
		require.Contains(t, request.Query, "__schema")
		io.WriteString(w, `{"data": {"__schema": {
			"queryType": {"fields": [
				{"name": "user", "description": "Look up a user"},
				{"name": "users", "description": null}
			]},
			"mutationType": {"fields": [{"name": "createUser", "description": "Create a user"}]},
			"subscriptionType": {"fields": [{"name": "onUserChanged", "description": ""}]}
		}}}`)
	}))
	defer server.Close()

	discovered, err := NewGraphQLTransport().RegisterToolProvider(context.Background(), &GraphQLTemplate{
		Name: "users",
		URL:  server.URL,
	})
	require.NoError(t, err)
	require.Len(t, discovered, 4)

	byName := map[string]tools.Tool{}
	for _, tool := range discovered {
		byName[tool.Name] = tool
	}
	assert.Equal(t, []string{"query"}, byName["user"].Tags)
	assert.Equal(t, "Look up a user", byName["user"].Description)
	assert.Equal(t, []string{"mutation"}, byName["createUser"].Tags)
	assert.Equal(t, []string{"subscription"}, byName["onUserChanged"].Tags)
}

func TestGraphQLTransport_Discovery_IntrospectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"errors": [{"message": "introspection is disabled"}]}`)
	}))
	defer server.Close()

	discovered, err := NewGraphQLTransport().RegisterToolProvider(context.Background(), &GraphQLTemplate{
		Name: "locked",
		URL:  server.URL,
	})
	require.NoError(t, err)
	assert.Empty(t, discovered)
}

func TestGraphQLTransport_CallTool_QueryWithVariables(t *testing.T) {
	var gotQuery string
	var gotVariables map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		json.NewDecoder(r.Body).Decode(&request)
		gotQuery = request.Query
		gotVariables = request.Variables
		io.WriteString(w, `{"data": {"user": {"id": "u1", "name": "Ada"}}}`)
	}))
	defer server.Close()

	result, err := NewGraphQLTransport().CallTool(context.Background(), "user",
		map[string]any{"user_id": "u1", "limit": float64(10)},
		&GraphQLTemplate{Name: "users", URL: server.URL, OperationType: "query"})
	require.NoError(t, err)

	assert.Equal(t, "query user($limit: Int!, $user_id: ID!) { user(limit: $limit, user_id: $user_id) }", gotQuery)
	assert.Equal(t, map[string]any{"user_id": "u1", "limit": float64(10)}, gotVariables)
	assert.Equal(t, map[string]any{"user": map[string]any{"id": "u1", "name": "Ada"}}, result)
}

func TestGraphQLTransport_CallTool_ErrorsFailEvenWithData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data": {"user": null}, "errors": [{"message": "not found"}]}`)
	}))
	defer server.Close()

	_, err := NewGraphQLTransport().CallTool(context.Background(), "user", nil,
		&GraphQLTemplate{Name: "users", URL: server.URL})
	require.Error(t, err)

	var te *tools.TransportError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, err.Error(), "graphql errors")
}

func TestGraphQLTransport_CallTool_NullData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data": null}`)
	}))
	defer server.Close()

	_, err := NewGraphQLTransport().CallTool(context.Background(), "user", nil,
		&GraphQLTemplate{Name: "users", URL: server.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data")
}

func TestGraphQLTransport_CallToolStream_RequiresSubscription(t *testing.T) {
	_, err := NewGraphQLTransport().CallToolStream(context.Background(), "user", nil,
		&GraphQLTemplate{Name: "users", URL: "http://localhost:1", OperationType: "query"})
	require.Error(t, err)
	assert.True(t, tools.IsValidation(err))
}

func TestGraphQLTransport_CallToolStream_Subscription(t *testing.T) {
	var gotSubprotocol string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubprotocol = r.Header.Get("Sec-WebSocket-Protocol")
		conn, err := wsTestUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var init map[string]any
		if err := conn.ReadJSON(&init); err != nil || init["type"] != "connection_init" {
			return
		}
		conn.WriteJSON(map[string]any{"type": "connection_ack"})

		var subscribe struct {
			ID      string `json:"id"`
			Type    string `json:"type"`
			Payload struct {
				Query string `json:"query"`
			} `json:"payload"`
		}
		if err := conn.ReadJSON(&subscribe); err != nil || subscribe.Type != "subscribe" {
			return
		}
		require.Contains(t, subscribe.Payload.Query, "subscription")

		for i := 1; i <= 2; i++ {
			conn.WriteJSON(map[string]any{
				"type":    "next",
				"id":      subscribe.ID,
				"payload": map[string]any{"data": map[string]any{"tick": i}},
			})
		}
		conn.WriteJSON(map[string]any{"type": "complete", "id": subscribe.ID})
		closeCleanly(conn)
	}))
	defer server.Close()

	stream, err := NewGraphQLTransport().CallToolStream(context.Background(), "onTick", nil,
		&GraphQLTemplate{Name: "ticker", URL: server.URL, OperationType: "subscription"})
	require.NoError(t, err)
	defer stream.Close()

	var ticks []any
	for {
		item, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		ticks = append(ticks, item)
	}

	assert.Equal(t, "graphql-transport-ws", gotSubprotocol)
	require.Len(t, ticks, 2)
	assert.Equal(t, map[string]any{"tick": float64(1)}, ticks[0])
	assert.Equal(t, map[string]any{"tick": float64(2)}, ticks[1])
}

func TestGraphQLTransport_CallToolStream_SubscriptionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsTestUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var init map[string]any
		conn.ReadJSON(&init)
		conn.WriteJSON(map[string]any{"type": "connection_ack"})
		var subscribe map[string]any
		conn.ReadJSON(&subscribe)
		conn.WriteJSON(map[string]any{
			"type":    "error",
			"id":      "1",
			"payload": []any{map[string]any{"message": "no such topic"}},
		})
		closeCleanly(conn)
	}))
	defer server.Close()

	stream, err := NewGraphQLTransport().CallToolStream(context.Background(), "onTick", nil,
		&GraphQLTemplate{Name: "ticker", URL: server.URL, OperationType: "subscription"})
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscription error")

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestInferOperation(t *testing.T) {
	tests := []struct {
		name          string
		operationType string
		toolName      string
		want          string
	}{
		{"explicit query", "query", "createUser", "query"},
		{"explicit mutation mixed case", " Mutation ", "anything", "mutation"},
		{"explicit subscription", "SUBSCRIPTION", "anything", "subscription"},
		{"subscribe prefix", "", "subscribeToUsers", "subscription"},
		{"on_ prefix", "", "on_user_changed", "subscription"},
		{"create prefix", "", "createUser", "mutation"},
		{"update prefix", "", "updateUser", "mutation"},
		{"delete prefix", "", "deleteUser", "mutation"},
		{"plain name", "", "user", "query"},
		{"unknown type falls back", "weird", "user", "query"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, inferOperation(tt.operationType, tt.toolName))
		})
	}
}

func TestGraphQLArgType(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		value     any
		wantType  string
		wantValue any
	}{
		{"bool", "flag", true, "Boolean!", true},
		{"whole float in range", "count", float64(7), "Int!", float64(7)},
		{"fractional float", "ratio", 2.5, "Float!", 2.5},
		{"huge float", "big", float64(1 << 40), "Float!", float64(1 << 40)},
		{"id key", "user_id", "u1", "ID!", "u1"},
		{"id key uppercase", "USER_ID", "u1", "ID!", "u1"},
		{"plain string", "name", "Ada", "String!", "Ada"},
		{"nil", "missing", nil, "String", nil},
		{"composite", "filter", map[string]any{"a": float64(1)}, "String!", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotValue := graphQLArgType(tt.key, tt.value)
			assert.Equal(t, tt.wantType, gotType)
			assert.Equal(t, tt.wantValue, gotValue)
		})
	}
}

func TestBuildGraphQLQuery(t *testing.T) {
	t.Run("no arguments", func(t *testing.T) {
		query, variables := buildGraphQLQuery("query", "user", "user", nil)
		assert.Equal(t, "query { user }", query)
		assert.Empty(t, variables)
	})

	t.Run("arguments sorted by key", func(t *testing.T) {
		query, variables := buildGraphQLQuery("mutation", "createUser", "createUser",
			map[string]any{"name": "Ada", "admin": true})
		assert.Equal(t,
			"mutation createUser($admin: Boolean!, $name: String!) { createUser(admin: $admin, name: $name) }",
			query)
		assert.Equal(t, map[string]any{"name": "Ada", "admin": true}, variables)
	})
}
