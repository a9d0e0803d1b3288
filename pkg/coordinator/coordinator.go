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

// Package coordinator assembles the plugin registry, LLM manager, tool
// router, tool loop, stream coordinator, vector-store manager, and RAG
// injector into the single per-process object a call/stream request runs
// against, and owns the teardown of everything it opened.
package coordinator

import (
	"context"
	"net/http"
	"time"

	"github.com/jfcostello/llm-coordinator/pkg/compat"
	"github.com/jfcostello/llm-coordinator/pkg/compat/httpcompat"
	"github.com/jfcostello/llm-coordinator/pkg/llmmanager"
	"github.com/jfcostello/llm-coordinator/pkg/mcppool"
	"github.com/jfcostello/llm-coordinator/pkg/pluginregistry"
	"github.com/jfcostello/llm-coordinator/pkg/rag"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
	"github.com/jfcostello/llm-coordinator/pkg/streamcoord"
	"github.com/jfcostello/llm-coordinator/pkg/toolloop"
	"github.com/jfcostello/llm-coordinator/pkg/toolrouter"
	"github.com/jfcostello/llm-coordinator/pkg/vectorstore"
)

// Logger is the minimal structured-logging capability this package uses.
type Logger = compat.Logger

// Config configures a Coordinator's one-time construction.
type Config struct {
	PluginRoot    string
	PluginOverlay string
	Warn          pluginregistry.Warner

	MCPServers []mcppool.ServerConfig
	Modules    map[string]toolrouter.ModuleFunc

	RetryWords     []string
	ConnectTimeout time.Duration
	HTTPClient     *http.Client

	Logger Logger
}

// Coordinator is the fully-wired, reusable object one process builds once
// and runs every call/stream request against.
type Coordinator struct {
	Registry     *pluginregistry.Registry
	Manager      *llmmanager.Manager
	VectorStores *vectorstore.Manager
	MCPPool      *mcppool.Pool
	Modules      map[string]toolrouter.ModuleFunc
	HTTPClient   *http.Client
	Logger       Logger
}

// New constructs a Coordinator: the plugin registry (with the standard
// OpenAI/Anthropic LLM kinds, the OpenAI embedding kind, and the
// qdrant/pinecone/chromem vector-store kinds registered), the LLM manager,
// the vector-store manager, and the MCP subprocess pool (if any servers
// are configured).
func New(cfg Config) (*Coordinator, error) {
	registry, err := pluginregistry.New(pluginregistry.Options{
		Root:            cfg.PluginRoot,
		Overlay:         cfg.PluginOverlay,
		Warn:            cfg.Warn,
		LLMCompat:       httpcompat.LLMFactories(),
		EmbeddingCompat: httpcompat.EmbeddingFactories(),
		VectorCompat:    vectorstore.Factories(),
	})
	if err != nil {
		return nil, err
	}

	var pool *mcppool.Pool
	if len(cfg.MCPServers) > 0 {
		pool = mcppool.New(cfg.MCPServers, cfg.Logger)
	}

	return &Coordinator{
		Registry: registry,
		Manager: &llmmanager.Manager{
			Registry:       registry,
			Logger:         cfg.Logger,
			RetryWords:     cfg.RetryWords,
			ConnectTimeout: cfg.ConnectTimeout,
		},
		VectorStores: &vectorstore.Manager{Registry: registry, Logger: cfg.Logger},
		MCPPool:      pool,
		Modules:      cfg.Modules,
		HTTPClient:   cfg.HTTPClient,
		Logger:       cfg.Logger,
	}, nil
}

func (c *Coordinator) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Close tears down everything the Coordinator opened: the MCP subprocess
// pool's long-lived sessions. The registry and vector-store manager hold
// no persistent connections of their own (§4.1, §4.2: vector-store compat
// instances are opened and closed per call site, never shared).
func (c *Coordinator) Close() {
	if c.MCPPool != nil {
		c.MCPPool.Close()
	}
}

// prepare builds a fresh toolrouter.Router and rag.Injector for one
// request, applies the request's vector-context injection, and appends
// any declared MCP tool-server's tools to the call spec.
func (c *Coordinator) prepare(ctx context.Context, cs *spec.CallSpec) (*toolrouter.Router, error) {
	router := &toolrouter.Router{
		Modules:        c.Modules,
		Routes:         c.Registry.GetProcessRoutes(),
		MCPPool:        c.MCPPool,
		HTTPClient:     c.httpClient(),
		Logger:         c.Logger,
		DefaultTimeout: toolrouter.DefaultTimeout,
	}

	if err := c.appendMCPTools(ctx, cs); err != nil {
		return nil, err
	}

	injector := &rag.Injector{Registry: c.Registry, VectorStores: c.VectorStores, Embedder: &rag.Embedder{Registry: c.Registry, Logger: c.Logger}, Logger: c.Logger}
	handler, err := injector.Prepare(ctx, cs)
	if err != nil {
		return nil, err
	}
	router.VectorSearch = handler
	return router, nil
}

// appendMCPTools makes every tool exposed by a call's declared
// toolServers available to the model, skipping any name the caller
// already declared explicitly in cs.Tools.
func (c *Coordinator) appendMCPTools(ctx context.Context, cs *spec.CallSpec) error {
	if c.MCPPool == nil || len(cs.ToolServers) == 0 {
		return nil
	}
	declared := map[string]bool{}
	for _, t := range cs.Tools {
		declared[t.Name] = true
	}
	for _, serverID := range cs.ToolServers {
		if err := c.MCPPool.Connect(ctx, serverID); err != nil {
			return err
		}
		tools, err := c.MCPPool.Tools(ctx, serverID)
		if err != nil {
			return err
		}
		for _, t := range tools {
			if declared[t.ExposedName] {
				continue
			}
			cs.Tools = append(cs.Tools, spec.ToolDefinition{
				Name:        t.ExposedName,
				Description: t.Description,
				Parameters:  t.Schema,
			})
			declared[t.ExposedName] = true
		}
	}
	return nil
}

// Run executes one unary call to completion (§4.8).
func (c *Coordinator) Run(ctx context.Context, cs *spec.CallSpec) (*spec.Response, error) {
	router, err := c.prepare(ctx, cs)
	if err != nil {
		return nil, err
	}
	loop := &toolloop.Loop{Manager: c.Manager, Router: router, Logger: c.Logger}
	return loop.Run(ctx, cs)
}

// Stream executes one streamed call (§4.9), returning the event channel
// the caller relays to its transport (e.g. SSE).
func (c *Coordinator) Stream(ctx context.Context, cs *spec.CallSpec) (<-chan spec.StreamEvent, error) {
	router, err := c.prepare(ctx, cs)
	if err != nil {
		return nil, err
	}
	coord := &streamcoord.Coordinator{Manager: c.Manager, Router: router, Logger: c.Logger}
	return coord.Run(ctx, cs)
}
