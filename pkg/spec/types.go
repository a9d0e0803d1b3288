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

// Package spec defines the provider-agnostic call specification, message,
// and response data model shared by the LLM coordinator, the tool loop,
// and the streaming pipeline.
package spec

import "fmt"

// Role identifies the sender of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation. Ordering within a CallSpec's
// Messages slice is significant and is never reordered by the coordinator.
type Message struct {
	Role          Role          `json:"role"`
	Content       []ContentPart `json:"content"`
	ToolCalls     []ToolCall    `json:"toolCalls,omitempty"`
	ToolCallID    string        `json:"toolCallId,omitempty"`
	Reasoning     *Reasoning    `json:"reasoning,omitempty"`
}

// Reasoning carries a provider's reasoning/thinking trace for one message.
type Reasoning struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ContentPartType discriminates the tagged variants of ContentPart.
type ContentPartType string

const (
	ContentText       ContentPartType = "text"
	ContentImage      ContentPartType = "image"
	ContentDocument   ContentPartType = "document"
	ContentToolResult ContentPartType = "tool_result"
)

// DocumentSourceKind discriminates how a document's bytes are referenced.
type DocumentSourceKind string

const (
	DocumentSourceLocalPath    DocumentSourceKind = "local_path"
	DocumentSourceBase64       DocumentSourceKind = "base64"
	DocumentSourceURL          DocumentSourceKind = "url"
	DocumentSourceProviderFile DocumentSourceKind = "provider_file_id"
)

// ContentPart is a tagged-union content fragment of a Message.
type ContentPart struct {
	Type ContentPartType `json:"type"`

	// Text is populated when Type == ContentText.
	Text string `json:"text,omitempty"`

	// Image fields, populated when Type == ContentImage.
	ImageURL  string `json:"imageUrl,omitempty"`
	ImageMIME string `json:"imageMime,omitempty"`

	// Document fields, populated when Type == ContentDocument.
	DocumentSource   DocumentSourceKind `json:"documentSource,omitempty"`
	DocumentValue    string             `json:"documentValue,omitempty"`
	DocumentMIME     string             `json:"documentMime,omitempty"`
	DocumentFilename string             `json:"documentFilename,omitempty"`
	DocumentHints    map[string]any     `json:"documentHints,omitempty"`

	// ToolResult fields, populated when Type == ContentToolResult.
	ToolResultName string `json:"toolResultName,omitempty"`
	ToolResult     any    `json:"toolResult,omitempty"`
}

// ToolCall is one invocation the assistant requested.
type ToolCall struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Args     map[string]any `json:"args"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToolDefinition describes a tool exposed to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolChoice directs whether/which tool the model must call.
type ToolChoice struct {
	Mode string `json:"mode"` // "auto" | "none" | "required" | "named"
	Name string `json:"name,omitempty"`
}

// PriorityEntry is one candidate in the ordered llmPriority list.
type PriorityEntry struct {
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Settings map[string]any `json:"settings,omitempty"`
}

// VectorStoreBinding names a vector store by id. It carries no
// embedding-provider override.
type VectorStoreBinding struct {
	Store string `json:"store"`
}

// VectorContextConfig configures RAG auto-injection and the vector_search
// tool, per §4.11.
type VectorContextConfig struct {
	Mode                 string                    `json:"mode"` // auto|tool|both
	Stores               []string                  `json:"stores"`
	InjectAs             string                    `json:"injectAs,omitempty"` // system|user_context
	TopK                 int                        `json:"topK,omitempty"`
	ScoreThreshold       float64                    `json:"scoreThreshold,omitempty"`
	Filter               map[string]any             `json:"filter,omitempty"`
	ResultFormat         string                     `json:"resultFormat,omitempty"`
	OverrideEmbeddingQuery string                   `json:"overrideEmbeddingQuery,omitempty"`
	QueryConstruction    QueryConstructionConfig     `json:"queryConstruction,omitempty"`
	EmbeddingPriority    []EmbeddingPriorityEntry    `json:"embeddingPriority,omitempty"`
	Locks                VectorSearchLocks           `json:"locks,omitempty"`
	ToolSchemaOverrides  map[string]map[string]string `json:"toolSchemaOverrides,omitempty"` // params.<field> -> alias
}

// QueryConstructionConfig controls how the RAG query string is built from
// the conversation.
type QueryConstructionConfig struct {
	MessagesToInclude       int    `json:"messagesToInclude,omitempty"`
	IncludeSystemPrompt     string `json:"includeSystemPrompt,omitempty"` // always|never|if-in-range
	IncludeAssistantMessages bool  `json:"includeAssistantMessages,omitempty"`
}

// EmbeddingPriorityEntry is one candidate embedding provider/model pair.
type EmbeddingPriorityEntry struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

// VectorSearchLocks pins vector_search parameters server-side, hidden from
// and un-overridable by the model.
type VectorSearchLocks struct {
	Store          string         `json:"store,omitempty"`
	Collection     string         `json:"collection,omitempty"`
	TopK           *int           `json:"topK,omitempty"`
	Filter         map[string]any `json:"filter,omitempty"`
	ScoreThreshold *float64       `json:"scoreThreshold,omitempty"`
}

// CallSpec is the immutable input to one coordinator run.
type CallSpec struct {
	System       string              `json:"system,omitempty"`
	Messages     []Message           `json:"messages"`
	Tools        []ToolDefinition    `json:"tools,omitempty"`
	ToolServers  []string            `json:"toolServers,omitempty"`
	VectorStores []VectorStoreBinding `json:"vectorStores,omitempty"`
	VectorContext *VectorContextConfig `json:"vectorContext,omitempty"`
	LLMPriority  []PriorityEntry     `json:"llmPriority"`
	ToolChoice   *ToolChoice         `json:"toolChoice,omitempty"`
	RetryDelays  []int               `json:"retryDelays,omitempty"` // milliseconds
	Settings     map[string]any      `json:"settings,omitempty"`
	Metadata     map[string]any      `json:"metadata,omitempty"`
}

// Validate enforces the spec-level invariants that must hold before a
// CallSpec reaches the coordinator (§3, §8).
func (c *CallSpec) Validate() error {
	if c == nil {
		return fmt.Errorf("call spec is nil")
	}
	if len(c.LLMPriority) == 0 {
		return fmt.Errorf("llmPriority must be non-empty")
	}
	for i, m := range c.Messages {
		if m.Role == RoleTool && m.ToolCallID == "" {
			return fmt.Errorf("messages[%d]: tool message missing toolCallId", i)
		}
	}
	return nil
}

// Usage contains token usage statistics for one provider call.
type Usage struct {
	PromptTokens     int `json:"promptTokens,omitempty"`
	CompletionTokens int `json:"completionTokens,omitempty"`
	TotalTokens      int `json:"totalTokens,omitempty"`
}

// FinishReason indicates why generation stopped.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishToolCalls FinishReason = "tool_calls"
	FinishContent   FinishReason = "content_filter"
	FinishError     FinishReason = "error"
)

// Response is the provider-agnostic unified response produced by a
// compat's ParseResponse (see pkg/compat), and ultimately returned to the
// caller, augmented with tool-call bookkeeping by the tool loop.
type Response struct {
	Provider     string         `json:"provider"`
	Model        string         `json:"model"`
	Role         Role           `json:"role"`
	Content      []ContentPart  `json:"content"`
	ToolCalls    []ToolCall     `json:"toolCalls,omitempty"`
	Usage        *Usage         `json:"usage,omitempty"`
	Reasoning    *Reasoning     `json:"reasoning,omitempty"`
	FinishReason FinishReason   `json:"finishReason,omitempty"`
	Raw          map[string]any `json:"raw,omitempty"`
}

// TextContent concatenates all text content parts.
func (r *Response) TextContent() string {
	if r == nil {
		return ""
	}
	var out string
	for _, p := range r.Content {
		if p.Type == ContentText {
			out += p.Text
		}
	}
	return out
}
