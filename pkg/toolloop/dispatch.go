package toolloop

import (
	"context"
	"fmt"
	"sync"

	"github.com/jfcostello/llm-coordinator/pkg/spec"
	"github.com/jfcostello/llm-coordinator/pkg/toolrouter"
)

// Router is the capability toolloop needs from pkg/toolrouter, kept as an
// interface so tests can substitute a stub.
type Router interface {
	Invoke(ctx context.Context, req toolrouter.InvokeRequest) (any, error)
}

// ToolResultRecord is one entry of the `raw.toolResults` array appended to
// the final response (§4.8: "Return value ... a raw.toolResults array").
type ToolResultRecord struct {
	ToolCallID string `json:"toolCallId"`
	Name       string `json:"name"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

// DispatchParams bundles the per-turn context passed down to every tool
// invocation in the turn.
type DispatchParams struct {
	Provider     string
	Model        string
	Metadata     map[string]any
	CallProgress func(chunk string)

	Parallel       bool
	Countdown      bool
	ResultMaxChars int
}

// ExecuteToolCalls runs every call in calls (respecting budget), appends
// one tool-result Message per call, and returns them in the *original*
// call order even when Parallel dispatch is used (§4.8: "results are
// appended in the original call order to preserve determinism").
func ExecuteToolCalls(ctx context.Context, router Router, calls []spec.ToolCall, budget *Budget, p DispatchParams) ([]spec.Message, []ToolResultRecord) {
	n := len(calls)
	messages := make([]spec.Message, n)
	records := make([]ToolResultRecord, n)

	remainingAfter := make([]int, n)
	run := func(i int) {
		tc := calls[i]
		messages[i], records[i], remainingAfter[i] = executeOne(ctx, router, tc, budget, p)
	}

	if p.Parallel {
		var wg sync.WaitGroup
		wg.Add(n)
		for i := range calls {
			go func(i int) {
				defer wg.Done()
				run(i)
			}(i)
		}
		wg.Wait()
	} else {
		for i := range calls {
			run(i)
		}
	}

	if p.Countdown {
		for i := range messages {
			annotateCountdown(&messages[i], budget.Total(), remainingAfter[i])
		}
	}

	return messages, records
}

func executeOne(ctx context.Context, router Router, tc spec.ToolCall, budget *Budget, p DispatchParams) (spec.Message, ToolResultRecord, int) {
	if !budget.Consume() {
		const errMsg = "tool call budget exhausted"
		return toolResultMessage(tc, nil, errMsg, p.ResultMaxChars), ToolResultRecord{
			ToolCallID: tc.ID, Name: tc.Name, Error: errMsg,
		}, budget.Remaining()
	}
	remaining := budget.Remaining()

	result, err := router.Invoke(ctx, toolrouter.InvokeRequest{
		ToolName:     tc.Name,
		Args:         tc.Args,
		Provider:     p.Provider,
		Model:        p.Model,
		Metadata:     p.Metadata,
		CallProgress: p.CallProgress,
	})
	if err != nil {
		return toolResultMessage(tc, nil, err.Error(), p.ResultMaxChars), ToolResultRecord{
			ToolCallID: tc.ID, Name: tc.Name, Error: err.Error(),
		}, remaining
	}
	return toolResultMessage(tc, result, "", p.ResultMaxChars), ToolResultRecord{
		ToolCallID: tc.ID, Name: tc.Name, Result: result,
	}, remaining
}

func toolResultMessage(tc spec.ToolCall, result any, errMsg string, maxChars int) spec.Message {
	payload := result
	if errMsg != "" {
		payload = map[string]any{"error": errMsg}
	}
	return spec.Message{
		Role:       spec.RoleTool,
		ToolCallID: tc.ID,
		Content: []spec.ContentPart{{
			Type:           spec.ContentToolResult,
			ToolResultName: tc.Name,
			ToolResult:     truncateForContent(payload, maxChars),
		}},
	}
}

// truncateForContent clamps a plain-string result with an ellipsis
// sentinel when maxChars > 0; structured (non-string) results are left
// untouched — only the textual rendering that reaches the provider is
// bounded (§4.8: "the structured result remains untruncated for
// downstream use").
func truncateForContent(result any, maxChars int) any {
	if maxChars <= 0 {
		return result
	}
	s, ok := result.(string)
	if !ok || len(s) <= maxChars {
		return result
	}
	return s[:maxChars] + "…(truncated)"
}

// annotateCountdown appends the human-readable remaining-budget string to
// a tool-result message (§4.8: "Tool call N of M — K remaining"), where N
// is this call's 1-based position in the run's consumption order and K is
// the budget remaining immediately after it.
func annotateCountdown(msg *spec.Message, total, remainingAfter int) {
	n := total - remainingAfter
	text := fmt.Sprintf("Tool call %d of %d — %d remaining", n, total, remainingAfter)
	msg.Content = append(msg.Content, spec.ContentPart{Type: spec.ContentText, Text: text})
}
