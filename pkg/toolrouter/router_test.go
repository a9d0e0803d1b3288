package toolrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jfcostello/llm-coordinator/pkg/mcppool"
	"github.com/jfcostello/llm-coordinator/pkg/pluginregistry"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvokeVectorSearchTakesPrecedence(t *testing.T) {
	r := &Router{
		VectorSearch: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"result": "vector hit"}, nil
		},
		Routes: []pluginregistry.ProcessRoute{
			{ID: "never", MatchType: "exact", Match: "vector_search", Invocation: "http", Target: "http://unused"},
		},
	}
	res, err := r.Invoke(context.Background(), InvokeRequest{ToolName: "vector_search", Args: map[string]any{"query": "q"}})
	require.NoError(t, err)
	assert.Equal(t, "vector hit", res)
}

func TestInvokeModuleUnwrapsResultKey(t *testing.T) {
	r := &Router{
		Modules: map[string]ModuleFunc{
			"mymod": func(ctx context.Context, mc ModuleContext) (any, error) {
				return map[string]any{"result": mc.Args["x"]}, nil
			},
		},
		Routes: []pluginregistry.ProcessRoute{
			{ID: "r1", MatchType: "exact", Match: "do_thing", Invocation: "module", Target: "mymod"},
		},
	}
	res, err := r.Invoke(context.Background(), InvokeRequest{ToolName: "do_thing", Args: map[string]any{"x": 42.0}})
	require.NoError(t, err)
	assert.Equal(t, 42.0, res)
}

func TestInvokeHTTPRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{"echo": body["q"]})
	}))
	defer srv.Close()

	r := &Router{
		Routes: []pluginregistry.ProcessRoute{
			{ID: "r1", MatchType: "prefix", Match: "search_", Invocation: "http", Target: srv.URL},
		},
	}
	res, err := r.Invoke(context.Background(), InvokeRequest{ToolName: "search_web", Args: map[string]any{"q": "cats"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": "cats"}, res)
}

func TestInvokeNoMatchingRoute(t *testing.T) {
	r := &Router{}
	_, err := r.Invoke(context.Background(), InvokeRequest{ToolName: "mystery"})
	require.Error(t, err)
	assert.Equal(t, spec.ErrToolExecutionFailed, spec.KindOf(err))
}

func TestFallbackMCPRouteMatchesServerPrefix(t *testing.T) {
	pool := mcppool.New([]mcppool.ServerConfig{{ID: "filesystem", Command: "true"}}, nil)
	r := &Router{MCPPool: pool}

	serverID, rest, ok := r.fallbackMCPRoute("filesystem_read_file")
	require.True(t, ok)
	assert.Equal(t, "filesystem", serverID)
	assert.Equal(t, "read_file", rest)
}

func TestFallbackMCPRouteNoMatch(t *testing.T) {
	pool := mcppool.New([]mcppool.ServerConfig{{ID: "filesystem", Command: "true"}}, nil)
	r := &Router{MCPPool: pool}

	_, _, ok := r.fallbackMCPRoute("unrelated_tool")
	assert.False(t, ok)
}

func TestMatchRouteGlob(t *testing.T) {
	route := pluginregistry.ProcessRoute{MatchType: "glob", Match: "search_*"}
	assert.True(t, matchRoute(route, "search_web"))
	assert.False(t, matchRoute(route, "other"))
}

func TestMatchRouteRegex(t *testing.T) {
	route := pluginregistry.ProcessRoute{MatchType: "regex", Match: "^tool_[0-9]+$"}
	assert.True(t, matchRoute(route, "tool_42"))
	assert.False(t, matchRoute(route, "tool_x"))
}

func TestNormalizeResultUnwrapsOnlyResultKey(t *testing.T) {
	assert.Equal(t, "x", normalizeResult(map[string]any{"result": "x"}))
	assert.Equal(t, "x", normalizeResult(map[string]any{"result": "x", "extra": "y"}))
	assert.Equal(t, "bare", normalizeResult("bare"))
	assert.Equal(t, map[string]any{"other": 1}, normalizeResult(map[string]any{"other": 1}))
}
