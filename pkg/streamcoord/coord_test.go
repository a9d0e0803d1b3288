package streamcoord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jfcostello/llm-coordinator/pkg/compat"
	"github.com/jfcostello/llm-coordinator/pkg/compat/httpcompat"
	"github.com/jfcostello/llm-coordinator/pkg/llmmanager"
	"github.com/jfcostello/llm-coordinator/pkg/pluginregistry"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
	"github.com/jfcostello/llm-coordinator/pkg/toolloop"
	"github.com/jfcostello/llm-coordinator/pkg/toolrouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRouter struct {
	calls []toolrouter.InvokeRequest
}

func (s *stubRouter) Invoke(ctx context.Context, req toolrouter.InvokeRequest) (any, error) {
	s.calls = append(s.calls, req)
	return map[string]any{"result": "sunny"}, nil
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

func sseHandler(frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			w.Write([]byte("data: " + f + "\n\n"))
		}
	}
}

func drain(t *testing.T, events <-chan spec.StreamEvent, timeout time.Duration) []spec.StreamEvent {
	t.Helper()
	var out []spec.StreamEvent
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("timed out draining stream")
		}
	}
}

func TestRunNoToolCallsEmitsDeltaThenDone(t *testing.T) {
	mgr := newManager(t, sseHandler(
		`{"choices":[{"delta":{"content":"hi"},"finish_reason":null}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"total_tokens":5}}`,
	))
	coord := &Coordinator{Manager: mgr, Router: &stubRouter{}}

	events, err := coord.Run(context.Background(), &spec.CallSpec{
		LLMPriority: []spec.PriorityEntry{{Provider: "p", Model: "m"}},
		Messages:    []spec.Message{{Role: spec.RoleUser, Content: []spec.ContentPart{{Type: spec.ContentText, Text: "hi"}}}},
	})
	require.NoError(t, err)

	got := drain(t, events, 5*time.Second)
	require.NotEmpty(t, got)
	assert.Equal(t, spec.EventDelta, got[0].Type)
	assert.Equal(t, "hi", got[0].TextDelta)

	last := got[len(got)-1]
	assert.Equal(t, spec.EventDone, last.Type)
	require.NotNil(t, last.Response)
	assert.Equal(t, "hi", last.Response.TextContent())
	assert.Equal(t, spec.FinishStop, last.Response.FinishReason)
	require.NotNil(t, last.Response.Usage)
	assert.Equal(t, 5, last.Response.Usage.TotalTokens)
}

func TestRunExecutesToolCallThenEmitsResultAndDone(t *testing.T) {
	calls := 0
	mgr := newManager(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "text/event-stream")
		if calls == 1 {
			w.Write([]byte(`data: {"choices":[{"delta":{"tool_calls":[{"id":"t1","function":{"name":"get_weather","arguments":""}}]},"finish_reason":null}]}` + "\n\n"))
			w.Write([]byte(`data: {"choices":[{"delta":{"tool_calls":[{"id":"t1","function":{"arguments":"{\"city\":\"nyc\"}"}}]},"finish_reason":null}]}` + "\n\n"))
			w.Write([]byte(`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}` + "\n\n"))
			return
		}
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"done"},"finish_reason":"stop"}]}` + "\n\n"))
	})
	router := &stubRouter{}
	coord := &Coordinator{Manager: mgr, Router: router}

	events, err := coord.Run(context.Background(), &spec.CallSpec{
		LLMPriority: []spec.PriorityEntry{{Provider: "p", Model: "m"}},
		Messages:    []spec.Message{{Role: spec.RoleUser, Content: []spec.ContentPart{{Type: spec.ContentText, Text: "weather in nyc"}}}},
	})
	require.NoError(t, err)

	got := drain(t, events, 5*time.Second)
	require.Len(t, router.calls, 1)
	assert.Equal(t, "get_weather", router.calls[0].ToolName)
	assert.Equal(t, "nyc", router.calls[0].Args["city"])

	var sawStart, sawArgsDelta, sawEnd, sawResult bool
	var endArgs map[string]any
	for _, ev := range got {
		if ev.Type != spec.EventTool {
			continue
		}
		switch ev.ToolPhase {
		case spec.ToolCallStart:
			sawStart = true
		case spec.ToolArgsDelta:
			sawArgsDelta = true
		case spec.ToolCallEnd:
			sawEnd = true
			endArgs = ev.ToolArgs
		case spec.ToolResult:
			sawResult = true
			assert.Equal(t, "t1", ev.ToolCallID)
			assert.Contains(t, ev.ToolResultRaw, "sunny")
		}
	}
	assert.True(t, sawStart, "expected a call-start event")
	assert.True(t, sawArgsDelta, "expected an args-delta event")
	assert.True(t, sawEnd, "expected a call-end event")
	assert.Equal(t, "nyc", endArgs["city"])
	assert.True(t, sawResult, "expected a tool_result event")

	last := got[len(got)-1]
	require.Equal(t, spec.EventDone, last.Type)
	assert.Equal(t, "done", last.Response.TextContent())
	require.Len(t, last.Response.ToolCalls, 1)
	assert.Equal(t, "t1", last.Response.ToolCalls[0].ID)
	require.NotNil(t, last.Response.Raw["toolResults"])
	results := last.Response.Raw["toolResults"].([]toolloop.ToolResultRecord)
	require.Len(t, results, 1)
	assert.Equal(t, "sunny", results[0].Result.(map[string]any)["result"])
}
