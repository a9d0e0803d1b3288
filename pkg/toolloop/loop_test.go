package toolloop

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jfcostello/llm-coordinator/pkg/compat"
	"github.com/jfcostello/llm-coordinator/pkg/compat/httpcompat"
	"github.com/jfcostello/llm-coordinator/pkg/llmmanager"
	"github.com/jfcostello/llm-coordinator/pkg/pluginregistry"
	"github.com/jfcostello/llm-coordinator/pkg/settings"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
	"github.com/jfcostello/llm-coordinator/pkg/toolrouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRouter struct {
	calls []toolrouter.InvokeRequest
}

func (s *stubRouter) Invoke(ctx context.Context, req toolrouter.InvokeRequest) (any, error) {
	s.calls = append(s.calls, req)
	return map[string]any{"result": "42"}, nil
}

func newManager(t *testing.T, handler http.HandlerFunc) *llmmanager.Manager {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	root := t.TempDir()
	dir := filepath.Join(root, "providers")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	doc, _ := json.Marshal(map[string]any{
		"id":   "p",
		"kind": "openai-chat",
		"endpoint": map[string]any{
			"urlTemplate": srv.URL,
			"headers":     map[string]string{},
		},
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "p.json"), doc, 0o644))

	reg, err := pluginregistry.New(pluginregistry.Options{
		Root: root,
		LLMCompat: map[string]pluginregistry.LLMCompatFactory{
			"openai-chat": func() compat.LLM { return &httpcompat.OpenAIChatCompat{} },
		},
	})
	require.NoError(t, err)
	return &llmmanager.Manager{Registry: reg}
}

func TestLoopNoToolCallsReturnsImmediately(t *testing.T) {
	mgr := newManager(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{}}`))
	})
	loop := &Loop{Manager: mgr, Router: &stubRouter{}}

	resp, err := loop.Run(context.Background(), &spec.CallSpec{
		LLMPriority: []spec.PriorityEntry{{Provider: "p", Model: "m"}},
		Messages:    []spec.Message{{Role: spec.RoleUser, Content: []spec.ContentPart{{Type: spec.ContentText, Text: "hi"}}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.TextContent())
	assert.Empty(t, resp.ToolCalls)
}

func TestLoopExecutesToolCallThenSummarizes(t *testing.T) {
	calls := 0
	mgr := newManager(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"t1","type":"function","function":{"name":"search","arguments":"{\"q\":\"x\"}"}}]},"finish_reason":"tool_calls"}],"usage":{}}`))
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"done"},"finish_reason":"stop"}],"usage":{}}`))
	})
	router := &stubRouter{}
	loop := &Loop{Manager: mgr, Router: router}

	resp, err := loop.Run(context.Background(), &spec.CallSpec{
		LLMPriority: []spec.PriorityEntry{{Provider: "p", Model: "m"}},
		Messages:    []spec.Message{{Role: spec.RoleUser, Content: []spec.ContentPart{{Type: spec.ContentText, Text: "search for x"}}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.TextContent())
	require.Len(t, router.calls, 1)
	assert.Equal(t, "search", router.calls[0].ToolName)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "t1", resp.ToolCalls[0].ID)
	require.NotNil(t, resp.Raw["toolResults"])
	results := resp.Raw["toolResults"].([]ToolResultRecord)
	require.Len(t, results, 1)
	assert.Equal(t, "42", results[0].Result)
}

func TestLoopBudgetExhaustionTriggersFinalPrompt(t *testing.T) {
	calls := 0
	mgr := newManager(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 1 {
			w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"t1","type":"function","function":{"name":"search","arguments":"{}"}}]},"finish_reason":"tool_calls"}],"usage":{}}`))
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"summary"},"finish_reason":"stop"}],"usage":{}}`))
	})
	router := &stubRouter{}
	loop := &Loop{Manager: mgr, Router: router}

	resp, err := loop.Run(context.Background(), &spec.CallSpec{
		LLMPriority: []spec.PriorityEntry{{Provider: "p", Model: "m"}},
		Messages:    []spec.Message{{Role: spec.RoleUser, Content: []spec.ContentPart{{Type: spec.ContentText, Text: "go"}}}},
		Settings:    map[string]any{"maxToolIterations": 1, "toolFinalPromptEnabled": true},
	})
	require.NoError(t, err)
	assert.Equal(t, "summary", resp.TextContent())
	assert.Equal(t, 2, calls)
}

func TestPruneContextReplacesEarlierToolResultsWithPlaceholder(t *testing.T) {
	messages := []spec.Message{
		{Role: spec.RoleTool, ToolCallID: "1", Content: []spec.ContentPart{{Type: spec.ContentToolResult, ToolResult: "a"}}},
		{Role: spec.RoleTool, ToolCallID: "2", Content: []spec.ContentPart{{Type: spec.ContentToolResult, ToolResult: "b"}}},
	}
	out := PruneContext(messages, settings.ParsePreserveSpec(1), settings.ParsePreserveSpec("all"))
	assert.Equal(t, prunedToolResultPlaceholder, out[0].Content[0].Text)
	assert.Equal(t, "b", out[1].Content[0].ToolResult)
}
