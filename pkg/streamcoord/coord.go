// Package streamcoord implements the stream coordinator of §4.9: parse
// every provider chunk via the compat's ParseStreamChunk, assemble
// partial tool calls through a per-call-id state machine, aggregate
// reasoning and usage across the run, drive the streaming variant of the
// §4.8 tool loop (reusing pkg/toolloop's Budget/ExecuteToolCalls/
// PruneContext building blocks), and emit the uniform pkg/spec.StreamEvent
// vocabulary terminated by exactly one `done` event, or by one `error`
// event when a turn fails.
package streamcoord

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jfcostello/llm-coordinator/pkg/compat"
	"github.com/jfcostello/llm-coordinator/pkg/llmmanager"
	"github.com/jfcostello/llm-coordinator/pkg/settings"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
	"github.com/jfcostello/llm-coordinator/pkg/toolloop"
)

// Logger is the minimal structured-logging capability the coordinator uses.
type Logger = compat.Logger

// Coordinator drives one streamed run from an initial CallSpec to a
// terminal `done` (or `error`) event.
type Coordinator struct {
	Manager *llmmanager.Manager
	Router  toolloop.Router
	Logger  Logger
}

// Run validates callSpec and starts a producer goroutine that streams
// events on the returned channel until a terminal event is emitted or ctx
// is canceled. The channel is always closed by the producer; a caller
// that wants to stop early cancels ctx — matching §4.12's "client
// disconnect cancels ... the active provider call (via context)".
func (c *Coordinator) Run(ctx context.Context, callSpec *spec.CallSpec) (<-chan spec.StreamEvent, error) {
	if err := callSpec.Validate(); err != nil {
		return nil, err
	}
	runtime := settings.Partition(callSpec.Settings).Runtime
	out := make(chan spec.StreamEvent, 16)
	go func() {
		defer close(out)
		c.drive(ctx, callSpec, runtime, out)
	}()
	return out, nil
}

func (c *Coordinator) drive(ctx context.Context, cs *spec.CallSpec, runtime settings.Runtime, out chan<- spec.StreamEvent) {
	budget := toolloop.NewBudget(runtime.MaxToolIterations)
	messages := append([]spec.Message(nil), cs.Messages...)
	tools := cs.Tools
	choice := cs.ToolChoice

	var totalText strings.Builder
	var reasoningText strings.Builder
	reasoningMeta := map[string]any{}
	var runUsage *spec.Usage
	var allToolCalls []spec.ToolCall
	var allToolResults []toolloop.ToolResultRecord
	var lastProvider, lastModel string
	lastFinish := spec.FinishStop

	for {
		tr, provider, err := c.runTurn(ctx, cs, messages, tools, choice, out)
		if err != nil {
			emit(ctx, out, errorEvent(err))
			return
		}
		lastProvider, lastModel = provider, tr.Model
		totalText.WriteString(tr.text.String())
		if tr.usage != nil {
			runUsage = tr.usage
		}
		if tr.reasoningText.Len() > 0 {
			reasoningText.WriteString(tr.reasoningText.String())
		}
		reasoningMeta = mergeMeta(reasoningMeta, tr.reasoningMeta)

		if len(tr.toolCalls) == 0 {
			lastFinish = spec.FinishStop
			break
		}
		lastFinish = spec.FinishToolCalls
		allToolCalls = append(allToolCalls, tr.toolCalls...)

		var turnContent []spec.ContentPart
		if tr.text.Len() > 0 {
			turnContent = []spec.ContentPart{{Type: spec.ContentText, Text: tr.text.String()}}
		}
		var turnReasoning *spec.Reasoning
		if tr.reasoningText.Len() > 0 || len(tr.reasoningMeta) > 0 {
			turnReasoning = &spec.Reasoning{Text: tr.reasoningText.String(), Metadata: tr.reasoningMeta}
		}
		messages = append(messages, spec.Message{
			Role:      spec.RoleAssistant,
			Content:   turnContent,
			ToolCalls: tr.toolCalls,
			Reasoning: turnReasoning,
		})

		turnMessages, turnResults := toolloop.ExecuteToolCalls(ctx, c.Router, tr.toolCalls, budget, toolloop.DispatchParams{
			Provider:       provider,
			Model:          tr.Model,
			Metadata:       cs.Metadata,
			Parallel:       runtime.ParallelToolExecution,
			Countdown:      runtime.ToolCountdownEnabled,
			ResultMaxChars: runtime.ToolResultMaxChars,
		})
		messages = append(messages, turnMessages...)
		allToolResults = append(allToolResults, turnResults...)

		for _, r := range turnResults {
			emit(ctx, out, toolResultEvent(r))
		}

		messages = toolloop.PruneContext(messages, runtime.PreserveToolResults, runtime.PreserveReasoning)

		if budget.Exhausted() {
			tools = nil
			choice = &spec.ToolChoice{Mode: "none"}
		}
	}

	var finalReasoning *spec.Reasoning
	if reasoningText.Len() > 0 || len(reasoningMeta) > 0 {
		finalReasoning = &spec.Reasoning{Text: reasoningText.String(), Metadata: reasoningMeta}
	}
	var finalContent []spec.ContentPart
	if totalText.Len() > 0 {
		finalContent = []spec.ContentPart{{Type: spec.ContentText, Text: totalText.String()}}
	}
	finalResp := &spec.Response{
		Provider:     lastProvider,
		Model:        lastModel,
		Role:         spec.RoleAssistant,
		Content:      finalContent,
		ToolCalls:    allToolCalls,
		Usage:        runUsage,
		Reasoning:    finalReasoning,
		FinishReason: lastFinish,
	}
	if len(allToolResults) > 0 {
		finalResp.Raw = map[string]any{"toolResults": allToolResults}
	}
	emit(ctx, out, spec.StreamEvent{Type: spec.EventDone, Response: finalResp})
}

// runTurn opens a provider stream, walking the priority list exactly like
// the unary loop's fallback (§4.8: "the same policy applies at run start
// and on follow-up calls mid-loop") and advancing past a provider that
// fails to even open the stream with ErrProviderRateLimit. Once a stream
// has started emitting events to the consumer, a mid-stream error is
// terminal for the run rather than triggering a silent provider switch —
// the consumer has already seen partial output attributed to that
// provider.
func (c *Coordinator) runTurn(ctx context.Context, cs *spec.CallSpec, messages []spec.Message, tools []spec.ToolDefinition, choice *spec.ToolChoice, out chan<- spec.StreamEvent) (*turnResult, string, error) {
	var lastErr error
	for _, entry := range cs.LLMPriority {
		adapter, chunks, errc, err := c.Manager.StreamChunks(ctx, entry, cs.Settings, messages, tools, choice)
		if err != nil {
			lastErr = err
			if spec.KindOf(err) == spec.ErrProviderRateLimit {
				continue
			}
			return nil, "", err
		}
		tr, err := consumeTurn(ctx, adapter, chunks, errc, entry.Model, out)
		if err != nil {
			return nil, "", err
		}
		return tr, entry.Provider, nil
	}
	return nil, "", lastErr
}

func emit(ctx context.Context, out chan<- spec.StreamEvent, ev spec.StreamEvent) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

func errorEvent(err error) spec.StreamEvent {
	return spec.StreamEvent{Type: spec.EventError, ErrorMessage: err.Error(), ErrorCode: string(spec.KindOf(err))}
}

func toolResultEvent(r toolloop.ToolResultRecord) spec.StreamEvent {
	payload := r.Result
	if r.Error != "" {
		payload = map[string]any{"error": r.Error}
	}
	return spec.StreamEvent{
		Type:          spec.EventTool,
		ToolPhase:     spec.ToolResult,
		ToolCallID:    r.ToolCallID,
		ToolName:      r.Name,
		ToolResultRaw: toJSONString(payload),
	}
}

func toJSONString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func mergeMeta(a, b map[string]any) map[string]any {
	if len(b) == 0 {
		return a
	}
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
