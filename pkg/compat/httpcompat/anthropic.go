package httpcompat

import (
	"encoding/json"
	"fmt"

	"github.com/jfcostello/llm-coordinator/pkg/compat"
	"github.com/jfcostello/llm-coordinator/pkg/settings"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// AnthropicMessagesCompat implements compat.LLM for the Anthropic Messages
// API wire format. Grounded on pkg/llms/anthropic.go, condensed to the
// request/response fields the unified model needs. System prompt travels
// as a top-level field rather than a message, per Anthropic's contract;
// BuildPayload receives it bundled into messages (a leading RoleSystem
// message) and lifts it out here.
type AnthropicMessagesCompat struct {
	Extensions []compat.Extension
	MaxTokens  int // fallback when provider settings omit maxTokens
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

type anthropicResponse struct {
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta"`
	ContentBlock *anthropicContent `json:"content_block,omitempty"`
	Usage        *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
}

func (c *AnthropicMessagesCompat) BuildPayload(model string, provider settings.Provider, messages []spec.Message, tools []spec.ToolDefinition, choice *spec.ToolChoice) (map[string]any, error) {
	var system string
	var out []anthropicMessage
	for _, m := range messages {
		if m.Role == spec.RoleSystem {
			for _, part := range m.Content {
				if part.Type == spec.ContentText {
					system += part.Text
				}
			}
			continue
		}

		am := anthropicMessage{Role: string(m.Role)}
		if m.Role == spec.RoleTool {
			am.Role = "user"
			var resultText string
			for _, part := range m.Content {
				if part.Type == spec.ContentToolResult {
					b, _ := json.Marshal(part.ToolResult)
					resultText = string(b)
				}
			}
			am.Content = append(am.Content, anthropicContent{Type: "tool_result", ToolUseID: m.ToolCallID, Content: resultText})
			out = append(out, am)
			continue
		}
		for _, part := range m.Content {
			if part.Type == spec.ContentText && part.Text != "" {
				am.Content = append(am.Content, anthropicContent{Type: "text", Text: part.Text})
			}
		}
		for _, tc := range m.ToolCalls {
			am.Content = append(am.Content, anthropicContent{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Args})
		}
		out = append(out, am)
	}

	maxTokens := c.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	payload := map[string]any{
		"model":      model,
		"messages":   out,
		"max_tokens": maxTokens,
	}
	if system != "" {
		payload["system"] = system
	}
	for k, v := range provider {
		if k == "maxTokens" {
			payload["max_tokens"] = v
			continue
		}
		payload[toSnakeKey(k)] = v
	}
	if len(tools) > 0 {
		serialized, err := c.SerializeTools(tools)
		if err != nil {
			return nil, err
		}
		payload["tools"] = serialized
	}
	if choice != nil {
		serialized, err := c.SerializeToolChoice(choice)
		if err != nil {
			return nil, err
		}
		payload["tool_choice"] = serialized
	}
	return payload, nil
}

func (c *AnthropicMessagesCompat) ParseResponse(raw []byte, model string) (*spec.Response, error) {
	var r anthropicResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("parse anthropic response: %w", err)
	}
	if r.Error != nil {
		return nil, spec.NewError(spec.ErrProvider, "anthropic error: %s", r.Error.Message)
	}
	resp := &spec.Response{
		Provider: "anthropic",
		Model:    model,
		Role:     spec.RoleAssistant,
		Usage: &spec.Usage{
			PromptTokens:     r.Usage.InputTokens,
			CompletionTokens: r.Usage.OutputTokens,
			TotalTokens:      r.Usage.InputTokens + r.Usage.OutputTokens,
		},
		FinishReason: mapAnthropicStopReason(r.StopReason),
	}
	for _, block := range r.Content {
		switch block.Type {
		case "text":
			resp.Content = append(resp.Content, spec.ContentPart{Type: spec.ContentText, Text: block.Text})
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, spec.ToolCall{ID: block.ID, Name: block.Name, Args: block.Input})
		}
	}
	return resp, nil
}

func (c *AnthropicMessagesCompat) ParseStreamChunk(chunk []byte) (compat.StreamChunkResult, error) {
	var ev anthropicStreamEvent
	if err := json.Unmarshal(chunk, &ev); err != nil {
		return compat.StreamChunkResult{}, fmt.Errorf("parse anthropic stream event: %w", err)
	}
	var result compat.StreamChunkResult
	switch ev.Type {
	case "content_block_start":
		if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
			result.ToolEvents = append(result.ToolEvents, compat.ToolStreamEvent{
				Kind: compat.ToolStreamStart, CallID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name,
			})
		}
	case "content_block_delta":
		switch ev.Delta.Type {
		case "text_delta":
			result.Text = ev.Delta.Text
		case "input_json_delta":
			result.ToolEvents = append(result.ToolEvents, compat.ToolStreamEvent{
				Kind: compat.ToolStreamArgsDelta, CallID: fmt.Sprintf("%d", ev.Index), ArgsDelta: ev.Delta.PartialJSON,
			})
		}
	case "message_delta":
		if ev.Delta.StopReason == "tool_use" {
			result.FinishedWithToolCalls = true
		}
		if ev.Usage != nil {
			result.Usage = &spec.Usage{CompletionTokens: ev.Usage.OutputTokens}
		}
	}
	return result, nil
}

func (c *AnthropicMessagesCompat) SerializeTools(tools []spec.ToolDefinition) (any, error) {
	out := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	return out, nil
}

func (c *AnthropicMessagesCompat) SerializeToolChoice(choice *spec.ToolChoice) (any, error) {
	if choice == nil {
		return nil, nil
	}
	switch choice.Mode {
	case "auto":
		return map[string]any{"type": "auto"}, nil
	case "none":
		return nil, nil
	case "required":
		return map[string]any{"type": "any"}, nil
	case "named":
		return map[string]any{"type": "tool", "name": choice.Name}, nil
	default:
		return map[string]any{"type": "auto"}, nil
	}
}

func (c *AnthropicMessagesCompat) ApplyProviderExtensions(payload map[string]any, extras map[string]any) error {
	remaining, err := compat.ApplyExtensions(payload, extras, c.Extensions)
	if err != nil {
		return err
	}
	for k, v := range remaining {
		payload[toSnakeKey(k)] = v
	}
	return nil
}

func mapAnthropicStopReason(reason string) spec.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return spec.FinishStop
	case "max_tokens":
		return spec.FinishLength
	case "tool_use":
		return spec.FinishToolCalls
	default:
		return spec.FinishStop
	}
}
