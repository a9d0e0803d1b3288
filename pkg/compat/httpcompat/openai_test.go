package httpcompat

import (
	"encoding/json"
	"testing"

	"github.com/jfcostello/llm-coordinator/pkg/settings"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIChatCompatBuildAndParse(t *testing.T) {
	c := &OpenAIChatCompat{}
	messages := []spec.Message{
		{Role: spec.RoleUser, Content: []spec.ContentPart{{Type: spec.ContentText, Text: "hi"}}},
	}
	tools := []spec.ToolDefinition{{Name: "search", Description: "search the web", Parameters: map[string]any{"type": "object"}}}

	payload, err := c.BuildPayload("gpt-5", settings.Provider{"temperature": 0.2}, messages, tools, &spec.ToolChoice{Mode: "auto"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-5", payload["model"])
	assert.Equal(t, 0.2, payload["temperature"])
	assert.Equal(t, "auto", payload["tool_choice"])

	raw := []byte(`{"model":"gpt-5","choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)
	resp, err := c.ParseResponse(raw, "gpt-5")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.TextContent())
	assert.Equal(t, spec.FinishStop, resp.FinishReason)
	assert.Equal(t, 4, resp.Usage.TotalTokens)
}

func TestOpenAIChatCompatParseStreamChunkToolCall(t *testing.T) {
	c := &OpenAIChatCompat{}
	chunk := []byte(`{"choices":[{"delta":{"tool_calls":[{"id":"call_1","function":{"name":"search","arguments":"{\"q\":1}"}}]},"finish_reason":"tool_calls"}]}`)
	result, err := c.ParseStreamChunk(chunk)
	require.NoError(t, err)
	require.True(t, result.FinishedWithToolCalls)
	require.Len(t, result.ToolEvents, 2)
	assert.Equal(t, "call_1", result.ToolEvents[0].CallID)
}

func TestOpenAIChatCompatToolCallRoundTripsArguments(t *testing.T) {
	c := &OpenAIChatCompat{}
	messages := []spec.Message{
		{Role: spec.RoleAssistant, ToolCalls: []spec.ToolCall{{ID: "call_1", Name: "search", Args: map[string]any{"q": "x"}}}},
	}
	payload, err := c.BuildPayload("gpt-5", nil, messages, nil, nil)
	require.NoError(t, err)
	encoded, err := json.Marshal(payload["messages"])
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"arguments":"{\"q\":\"x\"}"`)
}
