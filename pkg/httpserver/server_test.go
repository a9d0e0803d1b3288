// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jfcostello/llm-coordinator/pkg/coordinator"
	"github.com/jfcostello/llm-coordinator/pkg/limiter"
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

func newTestServer(t *testing.T, providerURL string, run limiter.Config) *Server {
	root := t.TempDir()
	writeManifest(t, root, "providers", "p", map[string]any{
		"id":   "p",
		"kind": "openai",
		"endpoint": map[string]any{
			"urlTemplate": providerURL,
			"headers":     map[string]string{},
		},
	})
	coord, err := coordinator.New(coordinator.Config{PluginRoot: root})
	require.NoError(t, err)
	t.Cleanup(coord.Close)

	return New(Config{
		MaxRequestBytes:   1 << 20,
		BodyReadTimeout:   5 * time.Second,
		RequestTimeout:    5 * time.Second,
		StreamIdleTimeout: 5 * time.Second,
		Run:               run,
		Stream:            run,
		Vector:            limiter.Config{MaxConcurrent: 8},
		VectorEmbeddings:  limiter.Config{MaxConcurrent: 8},
	}, coord)
}

func TestRunHappyPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream.URL, limiter.Config{MaxConcurrent: 8})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	body := `{"messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}],"llmPriority":[{"provider":"p","model":"m"}]}`
	resp, err := http.Post(ts.URL+"/run", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded struct {
		Type string `json:"type"`
		Data struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	require.Equal(t, "response", decoded.Type)
	require.Equal(t, "text", decoded.Data.Content[0].Type)
	require.Equal(t, "ok", decoded.Data.Content[0].Text)
}

func TestRunQueueingUnderLoad(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { <-release })
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream.URL, limiter.Config{MaxConcurrent: 1, MaxQueueSize: 1, QueueTimeout: 2 * time.Second})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	body := `{"messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}],"llmPriority":[{"provider":"p","model":"m"}]}`

	go func() {
		time.Sleep(300 * time.Millisecond)
		close(release)
	}()

	var wg sync.WaitGroup
	statuses := make([]int, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(i) * 50 * time.Millisecond)
			resp, err := http.Post(ts.URL+"/run", "application/json", bytes.NewBufferString(body))
			if err != nil {
				statuses[i] = -1
				return
			}
			defer resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	var okCount, busyCount int
	for _, st := range statuses {
		switch st {
		case http.StatusOK:
			okCount++
		case http.StatusServiceUnavailable:
			busyCount++
		}
	}
	require.GreaterOrEqual(t, okCount, 1)
	require.GreaterOrEqual(t, busyCount, 1)
}

func TestUnknownPathIs404(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:0", limiter.Config{MaxConcurrent: 8})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWrongMethodIs405(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:0", limiter.Config{MaxConcurrent: 8})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/run")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
