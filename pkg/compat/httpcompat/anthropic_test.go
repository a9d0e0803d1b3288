package httpcompat

import (
	"testing"

	"github.com/jfcostello/llm-coordinator/pkg/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicMessagesCompatLiftsSystemPrompt(t *testing.T) {
	c := &AnthropicMessagesCompat{}
	messages := []spec.Message{
		{Role: spec.RoleSystem, Content: []spec.ContentPart{{Type: spec.ContentText, Text: "be terse"}}},
		{Role: spec.RoleUser, Content: []spec.ContentPart{{Type: spec.ContentText, Text: "hi"}}},
	}
	payload, err := c.BuildPayload("claude-x", nil, messages, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "be terse", payload["system"])
	assert.Equal(t, 4096, payload["max_tokens"])
}

func TestAnthropicMessagesCompatParseResponseToolUse(t *testing.T) {
	c := &AnthropicMessagesCompat{}
	raw := []byte(`{"role":"assistant","model":"claude-x","stop_reason":"tool_use","content":[{"type":"tool_use","id":"t1","name":"search","input":{"q":"x"}}],"usage":{"input_tokens":5,"output_tokens":2}}`)
	resp, err := c.ParseResponse(raw, "claude-x")
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "search", resp.ToolCalls[0].Name)
	assert.Equal(t, spec.FinishToolCalls, resp.FinishReason)
}

func TestAnthropicMessagesCompatToolResultBecomesUserMessage(t *testing.T) {
	c := &AnthropicMessagesCompat{}
	messages := []spec.Message{
		{Role: spec.RoleTool, ToolCallID: "t1", Content: []spec.ContentPart{{Type: spec.ContentToolResult, ToolResult: map[string]any{"ok": true}}}},
	}
	payload, err := c.BuildPayload("claude-x", nil, messages, nil, nil)
	require.NoError(t, err)
	msgs := payload["messages"].([]anthropicMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "tool_result", msgs[0].Content[0].Type)
	assert.Equal(t, "t1", msgs[0].Content[0].ToolUseID)
}
