package rag

import (
	"testing"

	"github.com/jfcostello/llm-coordinator/pkg/spec"
	"github.com/stretchr/testify/require"
)

func textMsg(role spec.Role, text string) spec.Message {
	return spec.Message{Role: role, Content: []spec.ContentPart{{Type: spec.ContentText, Text: text}}}
}

func TestBuildQueryLastNMessages(t *testing.T) {
	cs := &spec.CallSpec{
		System: "be helpful",
		Messages: []spec.Message{
			textMsg(spec.RoleUser, "first"),
			textMsg(spec.RoleAssistant, "reply"),
			textMsg(spec.RoleUser, "second"),
		},
	}
	got := BuildQuery(cs, spec.QueryConstructionConfig{MessagesToInclude: 1})
	require.Equal(t, "second", got)
}

func TestBuildQueryIncludesAssistantWhenEnabled(t *testing.T) {
	cs := &spec.CallSpec{
		Messages: []spec.Message{
			textMsg(spec.RoleUser, "first"),
			textMsg(spec.RoleAssistant, "reply"),
		},
	}
	got := BuildQuery(cs, spec.QueryConstructionConfig{MessagesToInclude: 2, IncludeAssistantMessages: true})
	require.Equal(t, "first\nreply", got)
}

func TestBuildQuerySystemPromptAlways(t *testing.T) {
	cs := &spec.CallSpec{
		System:   "be helpful",
		Messages: []spec.Message{textMsg(spec.RoleUser, "question")},
	}
	got := BuildQuery(cs, spec.QueryConstructionConfig{MessagesToInclude: 1, IncludeSystemPrompt: "always"})
	require.Equal(t, "be helpful\nquestion", got)
}

func TestBuildQuerySystemPromptIfInRangeRequiresFullWindow(t *testing.T) {
	cs := &spec.CallSpec{
		System: "be helpful",
		Messages: []spec.Message{
			textMsg(spec.RoleUser, "first"),
			textMsg(spec.RoleUser, "second"),
		},
	}
	got := BuildQuery(cs, spec.QueryConstructionConfig{MessagesToInclude: 1, IncludeSystemPrompt: "if-in-range"})
	require.Equal(t, "second", got, "system prompt excluded because the window doesn't start at message 0")

	got = BuildQuery(cs, spec.QueryConstructionConfig{MessagesToInclude: 2, IncludeSystemPrompt: "if-in-range"})
	require.Equal(t, "be helpful\nfirst\nsecond", got)
}
