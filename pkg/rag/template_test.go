package rag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderTemplateDefaultJoinsContent(t *testing.T) {
	results := []Result{{Score: 0.812345, Content: "alpha"}, {Score: 0.5, Content: "beta"}}
	got := RenderTemplate("", results)
	require.Equal(t, "alpha\nbeta", got)
}

func TestRenderTemplateScoreAndPayload(t *testing.T) {
	results := []Result{{
		Score:   0.9,
		Content: "alpha",
		Payload: map[string]any{"source": map[string]any{"title": "doc-1"}},
	}}
	got := RenderTemplate("({{score}}) {{results}} from {{payload.source.title}}", results)
	require.Equal(t, "(0.900) alpha from doc-1", got)
}

func TestFormatToolResultEmpty(t *testing.T) {
	got := FormatToolResult("some query", nil)
	require.Equal(t, `No results found for query: "some query"`, got)
}

func TestFormatToolResultNumbersAndScores(t *testing.T) {
	results := []Result{{Score: 0.8, Content: "first"}, {Score: 0.65, Content: "second"}}
	got := FormatToolResult("q", results)
	require.Equal(t, "Found 2 results:\n[1] (score: 0.800) first\n[2] (score: 0.650) second", got)
}

func TestFormatToolError(t *testing.T) {
	got := FormatToolError(errors.New("store unreachable"))
	require.Equal(t, "Vector search failed: store unreachable", got)
}
