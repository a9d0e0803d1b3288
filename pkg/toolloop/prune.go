package toolloop

import (
	"github.com/jfcostello/llm-coordinator/pkg/settings"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

const prunedToolResultPlaceholder = "[tool result pruned]"

// PruneContext runs the two independent operations of §4.10 over
// messages, returning a new slice (the input is never mutated). It is
// called after every tool turn, before the follow-up provider call, by
// both the unary loop and the streaming tool-loop variant.
func PruneContext(messages []spec.Message, preserveToolResults, preserveReasoning settings.PreserveSpec) []spec.Message {
	out := pruneToolResults(messages, preserveToolResults)
	out = pruneReasoning(out, preserveReasoning)
	return out
}

// pruneToolResults keeps the last N tool-result messages (role=tool)
// intact; earlier ones have their content replaced with a placeholder so
// the paired assistant tool-call is never left orphaned (§4.10).
func pruneToolResults(messages []spec.Message, p settings.PreserveSpec) []spec.Message {
	if p.All {
		return messages
	}
	var toolIdx []int
	for i, m := range messages {
		if m.Role == spec.RoleTool {
			toolIdx = append(toolIdx, i)
		}
	}
	keep := p.Count
	if p.None {
		keep = 0
	}
	if keep < 0 {
		keep = 0
	}
	cutoff := len(toolIdx) - keep
	if cutoff <= 0 {
		return messages
	}

	out := make([]spec.Message, len(messages))
	copy(out, messages)
	for _, idx := range toolIdx[:cutoff] {
		m := out[idx]
		m.Content = []spec.ContentPart{{Type: spec.ContentText, Text: prunedToolResultPlaceholder}}
		out[idx] = m
	}
	return out
}

// pruneReasoning keeps the last N assistant messages' Reasoning trace;
// earlier ones are cleared.
func pruneReasoning(messages []spec.Message, p settings.PreserveSpec) []spec.Message {
	if p.All {
		return messages
	}
	var idx []int
	for i, m := range messages {
		if m.Role == spec.RoleAssistant && m.Reasoning != nil {
			idx = append(idx, i)
		}
	}
	keep := p.Count
	if p.None {
		keep = 0
	}
	if keep < 0 {
		keep = 0
	}
	cutoff := len(idx) - keep
	if cutoff <= 0 {
		return messages
	}

	out := make([]spec.Message, len(messages))
	copy(out, messages)
	for _, i := range idx[:cutoff] {
		m := out[i]
		m.Reasoning = nil
		out[i] = m
	}
	return out
}
