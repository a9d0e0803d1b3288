// Package mcppool implements the subprocess tool-server pool of §4.7: one
// long-lived JSON-RPC 2.0 session per configured MCP server, spawned over
// stdio, with a bidirectional sanitized-name mapping and per-call timeout.
package mcppool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jfcostello/llm-coordinator/pkg/compat"
	"github.com/jfcostello/llm-coordinator/pkg/logger"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// Logger is the minimal structured-logging capability the pool uses.
type Logger = compat.Logger

// DefaultCallTimeout is used when Pool.CallTimeout is unset (§4.7: "a
// per-call timeout (default 30 s)").
const DefaultCallTimeout = 30 * time.Second

// ServerConfig describes one subprocess MCP server.
type ServerConfig struct {
	ID      string
	Command string
	Args    []string
	Env     map[string]string
}

// sessionState is the state machine of §4.7: unstarted -> initialized ->
// ready -> closing -> closed.
type sessionState int

const (
	stateUnstarted sessionState = iota
	stateInitialized
	stateReady
	stateClosing
	stateClosed
)

// ToolInfo is one tool exposed by a server, under its sanitized name.
type ToolInfo struct {
	ExposedName string
	Description string
	Schema      map[string]any
}

type session struct {
	mu    sync.Mutex
	state sessionState
	cfg   ServerConfig
	conn  *mcpclient.Client

	// exposedToUpstream/upstreamToExposed is the bidirectional sanitized
	// name map (§4.7): "All tool names surfaced to the LLM use a
	// sanitized form ... the reverse map is consulted on invocation."
	exposedToUpstream map[string]string
	upstreamToExposed map[string]string
	tools             []ToolInfo
}

// Pool manages one session per configured server, connecting lazily and
// idempotently.
type Pool struct {
	log         Logger
	CallTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

// New builds a Pool over the given server configs.
func New(servers []ServerConfig, log Logger) *Pool {
	p := &Pool{log: log, sessions: map[string]*session{}}
	for _, cfg := range servers {
		p.sessions[cfg.ID] = &session{cfg: cfg, state: stateUnstarted}
	}
	return p
}

func (p *Pool) log2() Logger {
	if p.log != nil {
		return p.log
	}
	return noopLogger{}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

func (p *Pool) callTimeout() time.Duration {
	if p.CallTimeout > 0 {
		return p.CallTimeout
	}
	return DefaultCallTimeout
}

// HasServer reports whether serverID names a configured server — used by
// the tool router's fallback heuristic (§4.6 step 3).
func (p *Pool) HasServer(serverID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[serverID]
	return ok
}

func (p *Pool) get(serverID string) (*session, error) {
	p.mu.Lock()
	s, ok := p.sessions[serverID]
	p.mu.Unlock()
	if !ok {
		return nil, spec.NewError(spec.ErrToolExecutionFailed, "unknown MCP server %q", serverID)
	}
	return s, nil
}

// Connect is idempotent: a session already "ready" is a no-op, while a
// closing or closed session returns an error.
func (p *Pool) Connect(ctx context.Context, serverID string) error {
	s, err := p.get(serverID)
	if err != nil {
		return err
	}
	return s.connect(ctx, p.log2())
}

func (s *session) connect(ctx context.Context, log Logger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateReady {
		return nil
	}
	if s.state == stateClosing || s.state == stateClosed {
		return spec.NewError(spec.ErrToolExecutionFailed, "MCP server %q is closed", s.cfg.ID)
	}

	env := make([]string, 0, len(s.cfg.Env))
	for k, v := range s.cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	if batchID := logger.BatchIDFromContext(ctx); batchID != "" {
		env = append(env, "LLM_ADAPTER_BATCH_ID="+batchID)
	}

	conn, err := mcpclient.NewStdioMCPClient(s.cfg.Command, env, s.cfg.Args...)
	if err != nil {
		return spec.WrapError(spec.ErrToolExecutionFailed, err, "spawn MCP server %q", s.cfg.ID)
	}
	if err := conn.Start(ctx); err != nil {
		return spec.WrapError(spec.ErrToolExecutionFailed, err, "start MCP server %q", s.cfg.ID)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "llm-coordinator", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := conn.Initialize(ctx, initReq); err != nil {
		conn.Close()
		return spec.WrapError(spec.ErrToolExecutionFailed, err, "initialize MCP server %q", s.cfg.ID)
	}
	s.state = stateInitialized

	listResp, err := conn.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		conn.Close()
		return spec.WrapError(spec.ErrToolExecutionFailed, err, "list tools for MCP server %q", s.cfg.ID)
	}

	exposedToUpstream := make(map[string]string, len(listResp.Tools))
	upstreamToExposed := make(map[string]string, len(listResp.Tools))
	tools := make([]ToolInfo, 0, len(listResp.Tools))
	for _, t := range listResp.Tools {
		exposed := sanitizeName(t.Name)
		exposedToUpstream[exposed] = t.Name
		upstreamToExposed[t.Name] = exposed
		tools = append(tools, ToolInfo{
			ExposedName: exposed,
			Description: t.Description,
			Schema:      schemaToMap(t.InputSchema),
		})
	}

	s.conn = conn
	s.exposedToUpstream = exposedToUpstream
	s.upstreamToExposed = upstreamToExposed
	s.tools = tools
	s.state = stateReady
	log.Info("mcp server ready", "server", s.cfg.ID, "tools", len(tools))
	return nil
}

// Tools returns the sanitized tool list for serverID, connecting lazily.
func (p *Pool) Tools(ctx context.Context, serverID string) ([]ToolInfo, error) {
	s, err := p.get(serverID)
	if err != nil {
		return nil, err
	}
	if err := s.connect(ctx, p.log2()); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolInfo, len(s.tools))
	copy(out, s.tools)
	return out, nil
}

// Call invokes exposedName on serverID, translating to the server's
// upstream name and enforcing a per-call timeout.
func (p *Pool) Call(ctx context.Context, serverID, exposedName string, args map[string]any) (any, error) {
	s, err := p.get(serverID)
	if err != nil {
		return nil, err
	}
	if err := s.connect(ctx, p.log2()); err != nil {
		return nil, err
	}

	s.mu.Lock()
	conn := s.conn
	upstreamName, known := s.exposedToUpstream[exposedName]
	s.mu.Unlock()
	if !known {
		return nil, spec.NewError(spec.ErrToolExecutionFailed, "unknown tool %q on MCP server %q", exposedName, serverID)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout())
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = upstreamName
	req.Params.Arguments = args

	resp, err := conn.CallTool(callCtx, req)
	if err != nil {
		return nil, spec.WrapError(spec.ErrToolExecutionFailed, err, "call %q on MCP server %q", exposedName, serverID)
	}
	return parseCallResult(resp), nil
}

func parseCallResult(resp *mcp.CallToolResult) map[string]any {
	result := map[string]any{}
	var texts []string
	for _, c := range resp.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	if resp.IsError {
		if len(texts) > 0 {
			result["error"] = texts[0]
		} else {
			result["error"] = "unknown error"
		}
		return result
	}
	switch len(texts) {
	case 0:
	case 1:
		result["result"] = texts[0]
	default:
		result["results"] = texts
	}
	return result
}

// Close attempts best-effort termination of every session; failures are
// logged and swallowed (§4.7: "close attempts best-effort termination;
// failures are logged and swallowed").
func (p *Pool) Close() {
	p.mu.Lock()
	sessions := make([]*session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.Unlock()

	for _, s := range sessions {
		s.close(p.log2())
	}
}

func (s *session) close(log Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed || s.state == stateClosing {
		return
	}
	s.state = stateClosing
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			log.Warn("mcp server close failed", "server", s.cfg.ID, "error", err.Error())
		}
	}
	s.state = stateClosed
}

// sanitizeName maps an arbitrary upstream tool name to the character set
// most LLM function-calling APIs accept ([A-Za-z0-9_-]), escaping every
// other byte as "_XX" hex so the mapping is bijective and reversible
// without consulting the reverse table (§4.7).
func sanitizeName(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '_':
			out = append(out, '_', '_')
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-':
			out = append(out, c)
		default:
			out = append(out, '_', hexDigit(c>>4), hexDigit(c&0x0f))
		}
	}
	return string(out)
}

func hexDigit(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'a' + (n - 10)
}

// schemaToMap round-trips the SDK's typed schema through JSON to get a
// plain map, matching the teacher's convertSchema in mcptoolset.go.
func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
