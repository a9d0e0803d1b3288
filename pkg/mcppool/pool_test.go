package mcppool

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jfcostello/llm-coordinator/pkg/spec"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeNameIsBijective(t *testing.T) {
	cases := []string{
		"search",
		"server.search",
		"weird name!/with?chars",
		"already_has_underscore",
		"",
	}
	seen := map[string]string{}
	for _, c := range cases {
		s := sanitizeName(c)
		if prior, ok := seen[s]; ok {
			assert.Equal(t, prior, c, "sanitizeName collision for distinct inputs")
		}
		seen[s] = c
		for _, ch := range []byte(s) {
			ok := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '-' || ch == '_'
			assert.True(t, ok, "sanitized name %q contains disallowed byte %q", s, ch)
		}
	}
}

func TestPoolUnknownServer(t *testing.T) {
	p := New(nil, nil)
	assert.False(t, p.HasServer("nope"))

	_, err := p.Tools(context.Background(), "nope")
	assert.Equal(t, spec.ErrToolExecutionFailed, spec.KindOf(err))

	_, err = p.Call(context.Background(), "nope", "tool", nil)
	assert.Equal(t, spec.ErrToolExecutionFailed, spec.KindOf(err))
}

func TestPoolHasServer(t *testing.T) {
	p := New([]ServerConfig{{ID: "s1", Command: "true"}}, nil)
	assert.True(t, p.HasServer("s1"))
	assert.False(t, p.HasServer("s2"))
}

func TestParseCallResultSingleText(t *testing.T) {
	r := parseCallResult(&mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "hi"}},
	})
	assert.Equal(t, "hi", r["result"])
}

func TestParseCallResultMultipleTexts(t *testing.T) {
	r := parseCallResult(&mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: "a"},
			mcp.TextContent{Type: "text", Text: "b"},
		},
	})
	assert.Equal(t, []string{"a", "b"}, r["results"])
}

func TestParseCallResultError(t *testing.T) {
	r := parseCallResult(&mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "boom"}},
	})
	assert.Equal(t, "boom", r["error"])
}
