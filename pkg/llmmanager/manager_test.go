package llmmanager

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
	"github.com/jfcostello/llm-coordinator/pkg/pluginregistry"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProviderManifest(t *testing.T, root, id, kind, url string) {
	t.Helper()
	dir := filepath.Join(root, "providers")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	doc, _ := json.Marshal(map[string]any{
		"id":   id,
		"kind": kind,
		"endpoint": map[string]any{
			"urlTemplate": url,
			"headers":     map[string]string{},
		},
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), doc, 0o644))
}

func newTestRegistry(t *testing.T, url string) *pluginregistry.Registry {
	root := t.TempDir()
	writeProviderManifest(t, root, "p", "openai-chat", url)
	reg, err := pluginregistry.New(pluginregistry.Options{
		Root: root,
		LLMCompat: map[string]pluginregistry.LLMCompatFactory{
			"openai-chat": func() compat.LLM { return &httpcompat.OpenAIChatCompat{} },
		},
	})
	require.NoError(t, err)
	return reg
}

func TestManagerCallHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer srv.Close()

	reg := newTestRegistry(t, srv.URL)
	mgr := &Manager{Registry: reg}

	resp, err := mgr.Call(context.Background(), spec.PriorityEntry{Provider: "p", Model: "m"}, nil,
		[]spec.Message{{Role: spec.RoleUser, Content: []spec.ContentPart{{Type: spec.ContentText, Text: "hi"}}}}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.TextContent())
}

func TestManagerCallRateLimitExhaustsToDistinguishedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	reg := newTestRegistry(t, srv.URL)
	mgr := &Manager{Registry: reg}

	_, err := mgr.Call(context.Background(), spec.PriorityEntry{Provider: "p", Model: "m"}, nil,
		[]spec.Message{{Role: spec.RoleUser, Content: []spec.ContentPart{{Type: spec.ContentText, Text: "hi"}}}}, nil, nil,
		[]time.Duration{time.Millisecond, time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, spec.ErrProviderRateLimit, spec.KindOf(err))
}

func TestManagerCallRateLimitRecoversOnLaterAttempt(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"message":"rate limited"}}`))
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{}}`))
	}))
	defer srv.Close()

	reg := newTestRegistry(t, srv.URL)
	mgr := &Manager{Registry: reg}

	resp, err := mgr.Call(context.Background(), spec.PriorityEntry{Provider: "p", Model: "m"}, nil,
		[]spec.Message{{Role: spec.RoleUser, Content: []spec.ContentPart{{Type: spec.ContentText, Text: "hi"}}}}, nil, nil,
		[]time.Duration{time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.TextContent())
	assert.Equal(t, 2, calls)
}
