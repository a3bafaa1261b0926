package cmd

import (
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callTool(t *testing.T, handler func() (*mcp.CallToolResult, error)) (string, bool) {
	t.Helper()
	res, err := handler()
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text, res.IsError
}

func toolRequest(t *testing.T, name, args string) mcp.CallToolRequest {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(args), &m))
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = m
	return req
}

func TestMCP_GenerateThenFind(t *testing.T) {
	srv := &MCPServer{api: newTestServer(t)}

	req := toolRequest(t, "generate_difficulty_sets", generateBody)
	out, isErr := callTool(t, func() (*mcp.CallToolResult, error) {
		return srv.handleGenerate(t.Context(), req)
	})
	require.False(t, isErr, out)

	var gen struct {
		Document json.RawMessage `json:"document"`
		Stats    struct {
			Pools int `json:"pools"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &gen))
	assert.Equal(t, 1, gen.Stats.Pools)

	var doc struct {
		Categories []struct {
			Pools []struct {
				Sets []struct {
					Difficulty string   `json:"difficulty"`
					Group      []string `json:"group"`
				} `json:"sets"`
			} `json:"pools"`
		} `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(gen.Document, &doc))
	require.Len(t, doc.Categories, 1)
	require.NotEmpty(t, doc.Categories[0].Pools)

	var hard []string
	for _, s := range doc.Categories[0].Pools[0].Sets {
		if s.Difficulty == "hard" {
			hard = s.Group
		}
	}
	require.Len(t, hard, 2)

	findArgs, err := json.Marshal(map[string]interface{}{
		"group":           []string{hard[1], hard[0]},
		"difficulty":      "hard",
		"difficulty_sets": gen.Document,
	})
	require.NoError(t, err)

	req = toolRequest(t, "find_set_for_group", string(findArgs))
	out, isErr = callTool(t, func() (*mcp.CallToolResult, error) {
		return srv.handleFindSet(t.Context(), req)
	})
	require.False(t, isErr, out)

	var found struct {
		Found  bool   `json:"found"`
		PoolID string `json:"poolId"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &found))
	assert.True(t, found.Found)
	assert.Equal(t, "p1", found.PoolID)
}

func TestMCP_FindSet_Errors(t *testing.T) {
	srv := &MCPServer{api: newTestServer(t)}

	tests := []struct {
		name string
		args string
		want string
	}{
		{"missing group", `{}`, "group parameter is required"},
		{"bad difficulty", `{"group": ["a"], "difficulty": "medium"}`, "unknown difficulty"},
		{"no document", `{"group": ["a"]}`, "no difficulty_sets given"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := toolRequest(t, "find_set_for_group", tt.args)
			out, isErr := callTool(t, func() (*mcp.CallToolResult, error) {
				return srv.handleFindSet(t.Context(), req)
			})
			assert.True(t, isErr)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestMCP_Generate_Invalid(t *testing.T) {
	srv := &MCPServer{api: newTestServer(t)}

	req := toolRequest(t, "generate_difficulty_sets", `{"objects": []}`)
	out, isErr := callTool(t, func() (*mcp.CallToolResult, error) {
		return srv.handleGenerate(t.Context(), req)
	})
	assert.True(t, isErr)
	assert.Contains(t, out, "At least one object is required")
}

func TestMCP_ConfigResource(t *testing.T) {
	srv := &MCPServer{api: newTestServer(t)}

	var cfg struct {
		Defaults struct {
			NumSets  int    `json:"num_sets"`
			Strategy string `json:"strategy"`
		} `json:"defaults"`
		SourceConfigured bool `json:"source_configured"`
	}
	require.NoError(t, json.Unmarshal([]byte(srv.configJSON()), &cfg))
	assert.Equal(t, 2, cfg.Defaults.NumSets)
	assert.Equal(t, "clustered", cfg.Defaults.Strategy)
}
