package httpcompat

import (
	"encoding/json"
	"fmt"

	"github.com/jfcostello/llm-coordinator/pkg/compat"
	"github.com/jfcostello/llm-coordinator/pkg/settings"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// OpenAIChatCompat implements compat.LLM for the OpenAI-shaped Chat
// Completions wire format (also spoken by most OpenAI-compatible
// gateways). Grounded on pkg/llms/openai.go, condensed to the request/
// response fields the unified model needs.
type OpenAIChatCompat struct {
	Extensions []compat.Extension
}

type openAIChatMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIChatMessage `json:"message"`
		FinishReason string            `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIChatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string           `json:"content,omitempty"`
			ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

func (c *OpenAIChatCompat) BuildPayload(model string, provider settings.Provider, messages []spec.Message, tools []spec.ToolDefinition, choice *spec.ToolChoice) (map[string]any, error) {
	out := make([]openAIChatMessage, 0, len(messages))
	for _, m := range messages {
		om := openAIChatMessage{Role: string(m.Role), ToolCallID: m.ToolCallID}
		for _, part := range m.Content {
			if part.Type == spec.ContentText {
				om.Content += part.Text
			}
		}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Args)
			var call openAIToolCall
			call.ID = tc.ID
			call.Type = "function"
			call.Function.Name = tc.Name
			call.Function.Arguments = string(args)
			om.ToolCalls = append(om.ToolCalls, call)
		}
		out = append(out, om)
	}

	payload := map[string]any{
		"model":    model,
		"messages": out,
	}
	for k, v := range provider {
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

func (c *OpenAIChatCompat) ParseResponse(raw []byte, model string) (*spec.Response, error) {
	var r openAIChatResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("parse openai response: %w", err)
	}
	if r.Error != nil {
		return nil, spec.NewError(spec.ErrProvider, "openai error: %s", r.Error.Message)
	}
	if len(r.Choices) == 0 {
		return nil, fmt.Errorf("openai response has no choices")
	}
	choice := r.Choices[0]
	resp := &spec.Response{
		Provider: "openai",
		Model:    model,
		Role:     spec.RoleAssistant,
		Usage: &spec.Usage{
			PromptTokens:     r.Usage.PromptTokens,
			CompletionTokens: r.Usage.CompletionTokens,
			TotalTokens:      r.Usage.TotalTokens,
		},
		FinishReason: mapOpenAIFinishReason(choice.FinishReason),
	}
	if choice.Message.Content != "" {
		resp.Content = append(resp.Content, spec.ContentPart{Type: spec.ContentText, Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		resp.ToolCalls = append(resp.ToolCalls, spec.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return resp, nil
}

func (c *OpenAIChatCompat) ParseStreamChunk(chunk []byte) (compat.StreamChunkResult, error) {
	var sc openAIChatStreamChunk
	if err := json.Unmarshal(chunk, &sc); err != nil {
		return compat.StreamChunkResult{}, fmt.Errorf("parse openai stream chunk: %w", err)
	}
	var result compat.StreamChunkResult
	if len(sc.Choices) > 0 {
		d := sc.Choices[0].Delta
		result.Text = d.Content
		for _, tc := range d.ToolCalls {
			if tc.Function.Name != "" {
				result.ToolEvents = append(result.ToolEvents, compat.ToolStreamEvent{
					Kind: compat.ToolStreamStart, CallID: tc.ID, Name: tc.Function.Name,
				})
			}
			if tc.Function.Arguments != "" {
				result.ToolEvents = append(result.ToolEvents, compat.ToolStreamEvent{
					Kind: compat.ToolStreamArgsDelta, CallID: tc.ID, ArgsDelta: tc.Function.Arguments,
				})
			}
		}
		if sc.Choices[0].FinishReason == "tool_calls" {
			result.FinishedWithToolCalls = true
		}
	}
	if sc.Usage != nil {
		result.Usage = &spec.Usage{
			PromptTokens:     sc.Usage.PromptTokens,
			CompletionTokens: sc.Usage.CompletionTokens,
			TotalTokens:      sc.Usage.TotalTokens,
		}
	}
	return result, nil
}

func (c *OpenAIChatCompat) SerializeTools(tools []spec.ToolDefinition) (any, error) {
	out := make([]openAITool, 0, len(tools))
	for _, t := range tools {
		var ot openAITool
		ot.Type = "function"
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Parameters
		out = append(out, ot)
	}
	return out, nil
}

func (c *OpenAIChatCompat) SerializeToolChoice(choice *spec.ToolChoice) (any, error) {
	if choice == nil {
		return nil, nil
	}
	switch choice.Mode {
	case "auto", "none":
		return choice.Mode, nil
	case "required":
		return "required", nil
	case "named":
		return map[string]any{
			"type":     "function",
			"function": map[string]any{"name": choice.Name},
		}, nil
	default:
		return "auto", nil
	}
}

func (c *OpenAIChatCompat) ApplyProviderExtensions(payload map[string]any, extras map[string]any) error {
	remaining, err := compat.ApplyExtensions(payload, extras, c.Extensions)
	if err != nil {
		return err
	}
	for k, v := range remaining {
		payload[toSnakeKey(k)] = v
	}
	return nil
}

func mapOpenAIFinishReason(reason string) spec.FinishReason {
	switch reason {
	case "stop":
		return spec.FinishStop
	case "length":
		return spec.FinishLength
	case "tool_calls", "function_call":
		return spec.FinishToolCalls
	case "content_filter":
		return spec.FinishContent
	default:
		return spec.FinishStop
	}
}

func toSnakeKey(k string) string {
	out := make([]byte, 0, len(k)+4)
	for i := 0; i < len(k); i++ {
		ch := k[i]
		if ch >= 'A' && ch <= 'Z' {
			out = append(out, '_', ch+32)
			continue
		}
		out = append(out, ch)
	}
	return string(out)
}
