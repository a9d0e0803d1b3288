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

// Package compat defines the capability-set interfaces that isolate the
// coordinator core from any provider-specific wire protocol (§4.2). Core
// code never references a provider/model/endpoint string directly; all of
// that knowledge lives behind these interfaces inside a loaded adapter.
package compat

import (
	"context"

	"github.com/jfcostello/llm-coordinator/pkg/settings"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// StreamChunkResult is what ParseStreamChunk extracts from one raw
// provider stream chunk.
type StreamChunkResult struct {
	Text                string
	ToolEvents          []ToolStreamEvent
	FinishedWithToolCalls bool
	Usage               *spec.Usage
	Reasoning           *spec.Reasoning
}

// ToolStreamEventKind discriminates the tool-call sub-events a compat may
// surface from a single stream chunk.
type ToolStreamEventKind string

const (
	ToolStreamStart      ToolStreamEventKind = "start"
	ToolStreamArgsDelta  ToolStreamEventKind = "args_delta"
	ToolStreamEnd        ToolStreamEventKind = "end"
)

// ToolStreamEvent is one tool-call lifecycle event extracted from a chunk.
type ToolStreamEvent struct {
	Kind       ToolStreamEventKind
	CallID     string
	Name       string
	ArgsDelta  string
	Args       map[string]any
	Metadata   map[string]any
}

// LLM is the capability set an LLM compat adapter must implement (§4.2).
// Implementations are built by the plugin registry from a factory
// registered per manifest `kind` (a new instance on every lookup), and
// are otherwise opaque to the core.
type LLM interface {
	BuildPayload(model string, provider settings.Provider, messages []spec.Message, tools []spec.ToolDefinition, choice *spec.ToolChoice) (map[string]any, error)
	ParseResponse(raw []byte, model string) (*spec.Response, error)
	ParseStreamChunk(chunk []byte) (StreamChunkResult, error)
	SerializeTools(tools []spec.ToolDefinition) (any, error)
	SerializeToolChoice(choice *spec.ToolChoice) (any, error)
}

// ProviderExtensionApplier is an optional capability: a compat that wants
// to fold remaining extras into the payload itself (beyond what the
// generic extension engine handles) implements this.
type ProviderExtensionApplier interface {
	ApplyProviderExtensions(payload map[string]any, extras map[string]any) error
}

// SDKCaller is an optional capability for compats that prefer a direct
// SDK call over the generic HTTP path (§4.3 step 2).
type SDKCaller interface {
	CallSDK(ctx context.Context, model string, payload map[string]any) ([]byte, error)
	StreamSDK(ctx context.Context, model string, payload map[string]any) (<-chan []byte, error)
}

// EmbeddingResult is the outcome of one embedding call.
type EmbeddingResult struct {
	Vectors    [][]float32
	Model      string
	Dimensions int
	TokenCount int
}

// Embedding is the capability set an embedding compat adapter implements.
type Embedding interface {
	Embed(ctx context.Context, inputs []string, config map[string]any, modelOverride string) (EmbeddingResult, error)
	GetDimensions(config map[string]any, model string) (int, error)
}

// EmbeddingValidator is an optional capability for config sanity checks.
type EmbeddingValidator interface {
	Validate(config map[string]any) error
}

// VectorStore is the capability set a vector-store compat adapter
// implements (§4.2). A vector-store manager owns one independently
// constructed instance per call site — instances are never shared.
type VectorStore interface {
	Connect(ctx context.Context, config map[string]any) error
	Close() error
	Query(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]spec.VectorQueryResult, error)
	Upsert(ctx context.Context, collection string, points []spec.VectorPoint) error
	DeleteByIDs(ctx context.Context, collection string, ids []string) error
	CollectionExists(ctx context.Context, name string) (bool, error)
}

// VectorStoreCreator is an optional capability for backends that support
// explicit collection management.
type VectorStoreCreator interface {
	CreateCollection(ctx context.Context, name string, dimensions int, options map[string]any) error
	ListCollections(ctx context.Context) ([]string, error)
	DeleteCollection(ctx context.Context, name string) error
}

// Logger is the minimal structured-logging capability passed to
// compats that want to log (kept narrow so compats don't need to import
// a specific logging library).
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
