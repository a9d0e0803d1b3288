package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jfcostello/llm-coordinator/pkg/spec"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, root, category, id string, doc map[string]any) {
	t.Helper()
	dir := filepath.Join(root, category)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), data, 0o644))
}

func TestNewWiresStandardCompatKinds(t *testing.T) {
	root := t.TempDir()
	c, err := New(Config{PluginRoot: root})
	require.NoError(t, err)
	require.NotNil(t, c.Registry)
	require.NotNil(t, c.Manager)
	require.NotNil(t, c.VectorStores)
	require.Nil(t, c.MCPPool, "no MCP servers configured")
	c.Close()
}

func TestRunDispatchesThroughCoordinator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer srv.Close()

	root := t.TempDir()
	writeManifest(t, root, "providers", "p", map[string]any{
		"id":   "p",
		"kind": "openai",
		"endpoint": map[string]any{
			"urlTemplate": srv.URL,
			"headers":     map[string]string{},
		},
	})

	c, err := New(Config{PluginRoot: root})
	require.NoError(t, err)
	defer c.Close()

	cs := &spec.CallSpec{
		Messages:    []spec.Message{{Role: spec.RoleUser, Content: []spec.ContentPart{{Type: spec.ContentText, Text: "hi"}}}},
		LLMPriority: []spec.PriorityEntry{{Provider: "p", Model: "m"}},
	}
	resp, err := c.Run(context.Background(), cs)
	require.NoError(t, err)
	require.Equal(t, "hello", resp.TextContent())
}

func TestStreamDispatchesThroughCoordinator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"},\"finish_reason\":\"stop\"}]}\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	root := t.TempDir()
	writeManifest(t, root, "providers", "p", map[string]any{
		"id":   "p",
		"kind": "openai",
		"endpoint": map[string]any{
			"urlTemplate":       srv.URL,
			"streamUrlTemplate": srv.URL,
			"headers":           map[string]string{},
		},
	})

	c, err := New(Config{PluginRoot: root})
	require.NoError(t, err)
	defer c.Close()

	cs := &spec.CallSpec{
		Messages:    []spec.Message{{Role: spec.RoleUser, Content: []spec.ContentPart{{Type: spec.ContentText, Text: "hi"}}}},
		LLMPriority: []spec.PriorityEntry{{Provider: "p", Model: "m"}},
	}
	events, err := c.Stream(context.Background(), cs)
	require.NoError(t, err)

	var sawDone bool
	for ev := range events {
		if ev.Type == spec.EventDone {
			sawDone = true
		}
	}
	require.True(t, sawDone)
}
