// Package httpcompat is the generic HTTP transport shared by compat
// adapters that call an upstream provider over plain HTTP/SSE rather than
// a vendor SDK (§4.2, §4.3 step 2 — compats without an SDKCaller fall
// back to this path). It wraps the teacher's retrying httpclient.Client.
package httpcompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jfcostello/llm-coordinator/pkg/httpclient"
	"github.com/jfcostello/llm-coordinator/pkg/pluginregistry"
)

// Transport sends a compat's built payload to the endpoint described by a
// manifest's EndpointConfig, and exposes both unary and SSE-streaming
// calls. One Transport is built per manifest; adapters hold it by value.
type Transport struct {
	endpoint pluginregistry.EndpointConfig
	client   *httpclient.Client
}

// New builds a Transport from a manifest's endpoint config. timeout/
// maxRetries/retryBaseDelay come from the resolved provider priority
// entry's connection settings (defaults applied by the caller).
func New(endpoint pluginregistry.EndpointConfig, timeout time.Duration, maxRetries int, retryBaseDelay time.Duration) *Transport {
	return &Transport{
		endpoint: endpoint,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(maxRetries),
			httpclient.WithBaseDelay(retryBaseDelay),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders),
		),
	}
}

func (t *Transport) url(model string, streaming bool) string {
	tmpl := t.endpoint.URLTemplate
	if streaming && t.endpoint.StreamURLTemplate != "" {
		tmpl = t.endpoint.StreamURLTemplate
	}
	return strings.ReplaceAll(tmpl, "{model}", model)
}

func (t *Transport) newRequest(ctx context.Context, model string, payload map[string]any, streaming bool) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url(model, streaming), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	headers := t.endpoint.Headers
	if streaming && t.endpoint.StreamHeaders != nil {
		headers = t.endpoint.StreamHeaders
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// Call performs a non-streaming request and returns the raw response body.
func (t *Transport) Call(ctx context.Context, model string, payload map[string]any) ([]byte, error) {
	req, err := t.newRequest(ctx, model, payload, false)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// StatusError is returned by Call/Stream when the upstream responds with a
// non-2xx status; callers (the LLM manager) inspect StatusCode to detect
// rate-limit responses (§4.3 step 4).
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream HTTP %d: %s", e.StatusCode, e.Body)
}

// Stream performs a streaming request and returns a channel of raw
// "data:" line payloads (the `[DONE]` sentinel, if any, is not forwarded).
// The channel is closed when the body is exhausted, ctx is canceled, or
// an error occurs; a single error is sent to errc before close in the
// error case.
func (t *Transport) Stream(ctx context.Context, model string, payload map[string]any) (<-chan []byte, <-chan error, error) {
	payload["stream"] = true
	req, err := t.newRequest(ctx, model, payload, true)
	if err != nil {
		return nil, nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, nil, &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	out := make(chan []byte, 16)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			default:
			}
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				continue
			}
			select {
			case out <- []byte(data):
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errc <- err
		}
	}()
	return out, errc, nil
}
