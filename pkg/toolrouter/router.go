// Package toolrouter implements the tool dispatch and invocation algorithm
// of §4.6: vector-search-first precedence, declared-route matching,
// MCP-server-id fallback heuristic, and the four invocation kinds
// (module, command, http, mcp).
package toolrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os/exec"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/jfcostello/llm-coordinator/pkg/compat"
	"github.com/jfcostello/llm-coordinator/pkg/mcppool"
	"github.com/jfcostello/llm-coordinator/pkg/pluginregistry"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// Logger is the minimal structured-logging capability the router uses.
type Logger = compat.Logger

// DefaultTimeout is used when neither a route nor a call site specifies
// one.
const DefaultTimeout = 30 * time.Second

// ModuleContext is the context object passed to a "module" invocation
// (§4.6: "call the designated function with a context {args, provider,
// model, logger, metadata, callProgress}").
type ModuleContext struct {
	Args         map[string]any
	Provider     string
	Model        string
	Logger       Logger
	Metadata     map[string]any
	CallProgress func(chunk string)
}

// ModuleFunc is a Go-native "module" tool implementation. Go has no
// runtime equivalent of dynamically loading a module path, so module
// tools are registered ahead of time by Module path and looked up (once
// resolved, the lookup itself is the "cached load" of §4.6) rather than
// loaded from disk, mirroring the pluginregistry compat-factory pattern.
type ModuleFunc func(ctx context.Context, mc ModuleContext) (any, error)

// VectorSearchHandler backs the built-in vector-search route (§4.9/§4.11);
// it is supplied by the RAG layer and takes precedence over any declared
// route for the configured vector-search tool name.
type VectorSearchHandler func(ctx context.Context, args map[string]any) (any, error)

// InvokeRequest is one tool-call dispatch request.
type InvokeRequest struct {
	ToolName     string
	Args         map[string]any
	Provider     string
	Model        string
	Metadata     map[string]any
	CallProgress func(chunk string)
}

// Router dispatches tool calls per §4.6's three-tier precedence.
type Router struct {
	// Modules holds registered "module" invocation targets, keyed by the
	// manifest's Module path.
	Modules map[string]ModuleFunc

	// Routes are process routes (§4.6), already ordered by declaration /
	// priority (pluginregistry.Registry.GetProcessRoutes does this).
	Routes []pluginregistry.ProcessRoute

	// MCPPool backs "mcp" invocations and the server-id fallback
	// heuristic (step 3). May be nil if no MCP servers are configured.
	MCPPool *mcppool.Pool

	// VectorSearchToolName is the tool name that triggers the built-in
	// vector-search handler instead of route matching (default
	// "vector_search").
	VectorSearchToolName string
	VectorSearch         VectorSearchHandler

	HTTPClient     *http.Client
	Logger         Logger
	DefaultTimeout time.Duration
}

func (r *Router) vectorSearchToolName() string {
	if r.VectorSearchToolName != "" {
		return r.VectorSearchToolName
	}
	return "vector_search"
}

func (r *Router) httpClient() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return http.DefaultClient
}

func (r *Router) log() Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return noopLogger{}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Invoke dispatches req per §4.6's precedence: vector-search first,
// declared routes in order, then the MCP server-id fallback heuristic.
func (r *Router) Invoke(ctx context.Context, req InvokeRequest) (any, error) {
	if req.ToolName == r.vectorSearchToolName() && r.VectorSearch != nil {
		res, err := r.VectorSearch(ctx, req.Args)
		if err != nil {
			return nil, err
		}
		return normalizeResult(res), nil
	}

	for _, route := range r.Routes {
		if matchRoute(route, req.ToolName) {
			return r.invokeRoute(ctx, route, req)
		}
	}

	if r.MCPPool != nil {
		if serverID, upstreamTool, ok := r.fallbackMCPRoute(req.ToolName); ok {
			res, err := r.MCPPool.Call(ctx, serverID, upstreamTool, req.Args)
			if err != nil {
				return nil, err
			}
			return normalizeResult(res), nil
		}
	}

	return nil, spec.NewError(spec.ErrToolExecutionFailed, "no matching route for tool %q", req.ToolName)
}

// fallbackMCPRoute implements step 3: "if the tool name matches
// <server-id>[_.]<rest> for a known server id, route to that server."
func (r *Router) fallbackMCPRoute(toolName string) (serverID, rest string, ok bool) {
	for _, sep := range []byte{'_', '.'} {
		idx := strings.IndexByte(toolName, sep)
		for idx >= 0 {
			candidate := toolName[:idx]
			remainder := toolName[idx+1:]
			if remainder != "" && r.MCPPool.HasServer(candidate) {
				return candidate, remainder, true
			}
			next := strings.IndexByte(toolName[idx+1:], sep)
			if next < 0 {
				break
			}
			idx = idx + 1 + next
		}
	}
	return "", "", false
}

func matchRoute(route pluginregistry.ProcessRoute, toolName string) bool {
	switch route.MatchType {
	case "exact":
		return route.Match == toolName
	case "prefix":
		return strings.HasPrefix(toolName, route.Match)
	case "regex":
		re, err := regexp.Compile(route.Match)
		if err != nil {
			return false
		}
		return re.MatchString(toolName)
	case "glob":
		ok, err := path.Match(route.Match, toolName)
		return err == nil && ok
	default:
		return false
	}
}

func (r *Router) routeTimeout(route pluginregistry.ProcessRoute) time.Duration {
	if route.TimeoutMs > 0 {
		return time.Duration(route.TimeoutMs) * time.Millisecond
	}
	if r.DefaultTimeout > 0 {
		return r.DefaultTimeout
	}
	return DefaultTimeout
}

func (r *Router) invokeRoute(ctx context.Context, route pluginregistry.ProcessRoute, req InvokeRequest) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, r.routeTimeout(route))
	defer cancel()

	switch route.Invocation {
	case "module":
		return r.invokeModule(ctx, route, req)
	case "command":
		return r.invokeCommand(ctx, route, req)
	case "http":
		return r.invokeHTTP(ctx, route, req)
	case "mcp":
		return r.invokeMCP(ctx, route, req)
	default:
		return nil, spec.NewError(spec.ErrToolExecutionFailed, "route %q has unknown invocation kind %q", route.ID, route.Invocation)
	}
}

// invokeModule loads the module path once (the map lookup) and calls it,
// racing the invocation against the timeout set up by the caller
// (§4.6: "Enforce timeoutMs via race with a cancellation timer").
func (r *Router) invokeModule(ctx context.Context, route pluginregistry.ProcessRoute, req InvokeRequest) (any, error) {
	fn, ok := r.Modules[route.Target]
	if !ok {
		return nil, spec.NewError(spec.ErrToolExecutionFailed, "no module registered at %q", route.Target)
	}

	type outcome struct {
		val any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		val, err := fn(ctx, ModuleContext{
			Args:         req.Args,
			Provider:     req.Provider,
			Model:        req.Model,
			Logger:       r.log(),
			Metadata:     req.Metadata,
			CallProgress: req.CallProgress,
		})
		done <- outcome{val, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, spec.WrapError(spec.ErrToolExecutionFailed, o.err, "module %q failed", route.Target)
		}
		return normalizeResult(o.val), nil
	case <-ctx.Done():
		return nil, spec.WrapError(spec.ErrToolExecutionFailed, ctx.Err(), "module %q timed out", route.Target)
	}
}

// invokeCommand spawns a one-shot child process, writes JSON args to
// stdin, and parses a JSON result from stdout; the timeout (via ctx)
// kills the child.
func (r *Router) invokeCommand(ctx context.Context, route pluginregistry.ProcessRoute, req InvokeRequest) (any, error) {
	var args []string
	if raw, ok := route.Config["args"].([]any); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				args = append(args, s)
			}
		}
	}

	cmd := exec.CommandContext(ctx, route.Target, args...)
	stdin, err := json.Marshal(req.Args)
	if err != nil {
		return nil, spec.WrapError(spec.ErrToolExecutionFailed, err, "marshal args for command %q", route.Target)
	}
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, spec.WrapError(spec.ErrToolExecutionFailed, err, "command %q failed: %s", route.Target, stderr.String())
	}

	var result any
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, spec.WrapError(spec.ErrToolExecutionFailed, err, "parse command %q output", route.Target)
	}
	return normalizeResult(result), nil
}

// invokeHTTP POSTs JSON to route.Target with optional headers from
// route.Config["headers"], and parses a JSON response.
func (r *Router) invokeHTTP(ctx context.Context, route pluginregistry.ProcessRoute, req InvokeRequest) (any, error) {
	body, err := json.Marshal(req.Args)
	if err != nil {
		return nil, spec.WrapError(spec.ErrToolExecutionFailed, err, "marshal args for %q", route.Target)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, route.Target, bytes.NewReader(body))
	if err != nil {
		return nil, spec.WrapError(spec.ErrToolExecutionFailed, err, "build request for %q", route.Target)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if headers, ok := route.Config["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				httpReq.Header.Set(k, s)
			}
		}
	}

	resp, err := r.httpClient().Do(httpReq)
	if err != nil {
		return nil, spec.WrapError(spec.ErrToolExecutionFailed, err, "request to %q failed", route.Target)
	}
	defer resp.Body.Close()

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, spec.WrapError(spec.ErrToolExecutionFailed, err, "parse response from %q", route.Target)
	}
	if resp.StatusCode >= 300 {
		return nil, spec.NewError(spec.ErrToolExecutionFailed, "request to %q returned HTTP %d", route.Target, resp.StatusCode)
	}
	return normalizeResult(result), nil
}

// invokeMCP delegates to the subprocess tool-server pool (§4.7). Target
// is the server id; Config["tool"] optionally renames the upstream tool
// when it differs from the LLM-visible name.
func (r *Router) invokeMCP(ctx context.Context, route pluginregistry.ProcessRoute, req InvokeRequest) (any, error) {
	if r.MCPPool == nil {
		return nil, spec.NewError(spec.ErrToolExecutionFailed, "route %q requires an MCP pool but none is configured", route.ID)
	}
	toolName := req.ToolName
	if name, ok := route.Config["tool"].(string); ok && name != "" {
		toolName = name
	}
	res, err := r.MCPPool.Call(ctx, route.Target, toolName, req.Args)
	if err != nil {
		return nil, err
	}
	return normalizeResult(res), nil
}

// normalizeResult unwraps a top-level "result" key when present (§4.6:
// "Implementations may return either {result: X} or a bare X; the loop
// normalizes by unwrapping a top-level result key when present").
func normalizeResult(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if result, has := m["result"]; has {
		return result
	}
	return v
}
