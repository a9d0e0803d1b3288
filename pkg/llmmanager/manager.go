// Package llmmanager implements the single-provider call/stream algorithm
// of §4.3: build payload, apply extensions, invoke (SDK or HTTP), detect
// provider rate-limiting, and parse the unified response.
package llmmanager

import (
	"context"
	"strings"
	"time"

	"github.com/jfcostello/llm-coordinator/pkg/compat"
	"github.com/jfcostello/llm-coordinator/pkg/compat/httpcompat"
	"github.com/jfcostello/llm-coordinator/pkg/pluginregistry"
	"github.com/jfcostello/llm-coordinator/pkg/settings"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// Logger is the minimal structured-logging capability the manager uses.
type Logger = compat.Logger

// Manager resolves a provider manifest + compat kind and performs one
// call or stream against it, with rate-limit-aware retry.
type Manager struct {
	Registry *pluginregistry.Registry
	Logger   Logger

	// RetryWords are provider-side sentinel substrings (case-insensitive)
	// that indicate a rate-limit response even without an HTTP 429
	// (§4.3 step 4).
	RetryWords []string

	// ConnectTimeout bounds one HTTP attempt to the provider.
	ConnectTimeout time.Duration
}

// CallResult is the outcome of one successful provider call.
type CallResult struct {
	Response *spec.Response
}

func (m *Manager) httpTimeout() time.Duration {
	if m.ConnectTimeout > 0 {
		return m.ConnectTimeout
	}
	return 60 * time.Second
}

func (m *Manager) log() Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return noopLogger{}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// resolve loads the provider manifest and its compat adapter for entry.
func (m *Manager) resolve(entry spec.PriorityEntry) (*pluginregistry.ProviderManifest, compat.LLM, error) {
	manifest, err := m.Registry.GetProvider(entry.Provider)
	if err != nil {
		return nil, nil, err
	}
	adapter, err := m.Registry.GetCompat(manifest.Kind)
	if err != nil {
		return nil, nil, err
	}
	return manifest, adapter, nil
}

func toExtensions(specs []pluginregistry.ExtensionSpec) []compat.Extension {
	out := make([]compat.Extension, 0, len(specs))
	for _, s := range specs {
		out = append(out, compat.Extension{
			Name:          s.Name,
			SettingsKey:   s.SettingsKey,
			TargetPath:    s.TargetPathSegments(),
			ValueType:     compat.ValueType(s.ValueType),
			MergeStrategy: compat.MergeStrategy(s.MergeStrategy),
			Default:       s.Default,
			Required:      s.Required,
		})
	}
	return out
}

// buildPayload runs steps 1 of §4.3: build, apply generic extensions, then
// give the compat a chance to fold any remainder itself.
func buildPayload(adapter compat.LLM, manifest *pluginregistry.ProviderManifest, model string, partitioned settings.Partitioned, messages []spec.Message, tools []spec.ToolDefinition, choice *spec.ToolChoice) (map[string]any, error) {
	payload, err := adapter.BuildPayload(model, partitioned.Provider, messages, tools, choice)
	if err != nil {
		return nil, spec.WrapError(spec.ErrProvider, err, "build payload")
	}
	exts := toExtensions(manifest.PayloadExtensions)
	remaining, err := compat.ApplyExtensions(payload, partitioned.Extras, exts)
	if err != nil {
		return nil, spec.WrapError(spec.ErrProvider, err, "apply payload extensions")
	}
	if applier, ok := adapter.(compat.ProviderExtensionApplier); ok {
		if err := applier.ApplyProviderExtensions(payload, remaining); err != nil {
			return nil, spec.WrapError(spec.ErrProvider, err, "apply provider extensions")
		}
	}
	return payload, nil
}

// isRateLimit reports whether err (from a transport attempt) or body
// indicates a provider rate limit: an HTTP 429, or a retryWords sentinel
// anywhere in the response body (§4.3 step 4).
func (m *Manager) isRateLimit(err error, body []byte) bool {
	if se, ok := err.(*httpcompat.StatusError); ok {
		if se.StatusCode == 429 {
			return true
		}
		body = append(body, []byte(se.Body)...)
	}
	lower := strings.ToLower(string(body))
	for _, w := range m.RetryWords {
		if w != "" && strings.Contains(lower, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// Call performs one provider call with the retry-delay sequence of §4.3
// step 4. retryDelays is exhausted in order; when it runs out on a
// rate-limited attempt, the distinguished ErrProviderRateLimit is
// returned so the caller (tool loop / coordinator) can advance the
// priority list.
func (m *Manager) Call(ctx context.Context, entry spec.PriorityEntry, globalSettings map[string]any, messages []spec.Message, tools []spec.ToolDefinition, choice *spec.ToolChoice, retryDelays []time.Duration) (*spec.Response, error) {
	manifest, adapter, err := m.resolve(entry)
	if err != nil {
		return nil, err
	}
	partitioned := settings.ResolveForEntry(globalSettings, entry.Settings)
	payload, err := buildPayload(adapter, manifest, entry.Model, partitioned, messages, tools, choice)
	if err != nil {
		return nil, err
	}

	attempts := append([]time.Duration{0}, retryDelays...)
	var lastErr error
	for i, delay := range attempts {
		if i > 0 {
			m.log().Warn("provider rate limited, retrying", "provider", entry.Provider, "attempt", i, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		raw, rlErr := m.invoke(ctx, manifest, adapter, entry.Model, payload)
		if rlErr == nil {
			resp, err := adapter.ParseResponse(raw, entry.Model)
			if err != nil {
				return nil, spec.WrapError(spec.ErrProvider, err, "parse response")
			}
			return resp, nil
		}
		lastErr = rlErr
		if !m.isRateLimit(rlErr, nil) {
			return nil, spec.WrapError(spec.ErrProvider, rlErr, "provider call failed")
		}
	}
	return nil, spec.WrapError(spec.ErrProviderRateLimit, lastErr, "rate limit retries exhausted for provider %q", entry.Provider)
}

func (m *Manager) invoke(ctx context.Context, manifest *pluginregistry.ProviderManifest, adapter compat.LLM, model string, payload map[string]any) ([]byte, error) {
	if caller, ok := adapter.(compat.SDKCaller); ok {
		return caller.CallSDK(ctx, model, payload)
	}
	transport := httpcompat.New(manifest.Endpoint, m.httpTimeout(), 0, 0)
	return transport.Call(ctx, model, payload)
}

// StreamChunks opens a provider stream and returns the raw chunk channel;
// parsing is the compat's responsibility (§4.3: "streamProvider(...)
// yields raw chunks").
func (m *Manager) StreamChunks(ctx context.Context, entry spec.PriorityEntry, globalSettings map[string]any, messages []spec.Message, tools []spec.ToolDefinition, choice *spec.ToolChoice) (compat.LLM, <-chan []byte, <-chan error, error) {
	manifest, adapter, err := m.resolve(entry)
	if err != nil {
		return nil, nil, nil, err
	}
	partitioned := settings.ResolveForEntry(globalSettings, entry.Settings)
	payload, err := buildPayload(adapter, manifest, entry.Model, partitioned, messages, tools, choice)
	if err != nil {
		return nil, nil, nil, err
	}

	if caller, ok := adapter.(compat.SDKCaller); ok {
		ch, err := caller.StreamSDK(ctx, entry.Model, payload)
		if err != nil {
			return nil, nil, nil, spec.WrapError(spec.ErrProvider, err, "stream sdk")
		}
		errc := make(chan error)
		close(errc)
		return adapter, ch, errc, nil
	}

	transport := httpcompat.New(manifest.Endpoint, m.httpTimeout(), 0, 0)
	ch, errc, err := transport.Stream(ctx, entry.Model, payload)
	if err != nil {
		if m.isRateLimit(err, nil) {
			return nil, nil, nil, spec.WrapError(spec.ErrProviderRateLimit, err, "provider %q rate limited", entry.Provider)
		}
		return nil, nil, nil, spec.WrapError(spec.ErrProvider, err, "open stream")
	}
	return adapter, ch, errc, nil
}
