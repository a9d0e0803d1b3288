package streamcoord

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jfcostello/llm-coordinator/pkg/compat"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// turnResult accumulates one provider stream's output as its chunks are
// consumed.
type turnResult struct {
	Model         string
	text          strings.Builder
	usage         *spec.Usage
	reasoningText strings.Builder
	reasoningMeta map[string]any
	toolCalls     []spec.ToolCall
}

// pendingToolCall is the per-call-id state of §4.9's tool-call assembly
// state machine: {pending → args-accumulating → ended}.
type pendingToolCall struct {
	name      string
	args      strings.Builder
	finalArgs map[string]any
	metadata  map[string]any
	ended     bool
}

// consumeTurn drains chunks (and errc) until both close or ctx is
// canceled, parsing each raw chunk with adapter.ParseStreamChunk and
// emitting the corresponding StreamEvents as it goes.
func consumeTurn(ctx context.Context, adapter compat.LLM, chunks <-chan []byte, errc <-chan error, model string, out chan<- spec.StreamEvent) (*turnResult, error) {
	tr := &turnResult{Model: model}
	pending := map[string]*pendingToolCall{}
	var order []string

loop:
	for {
		select {
		case raw, ok := <-chunks:
			if !ok {
				chunks = nil
				if errc == nil {
					break loop
				}
				continue
			}
			if err := processChunk(ctx, adapter, raw, tr, pending, &order, out); err != nil {
				return nil, err
			}
		case err, ok := <-errc:
			if !ok {
				errc = nil
				if chunks == nil {
					break loop
				}
				continue
			}
			if err != nil {
				return nil, err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	tr.toolCalls = finalToolCalls(pending, order)
	return tr, nil
}

func processChunk(ctx context.Context, adapter compat.LLM, raw []byte, tr *turnResult, pending map[string]*pendingToolCall, order *[]string, out chan<- spec.StreamEvent) error {
	chunk, err := adapter.ParseStreamChunk(raw)
	if err != nil {
		return err
	}

	if chunk.Text != "" {
		tr.text.WriteString(chunk.Text)
		emit(ctx, out, spec.StreamEvent{Type: spec.EventDelta, TextDelta: chunk.Text})
	}
	if chunk.Usage != nil {
		tr.usage = chunk.Usage
		emit(ctx, out, spec.StreamEvent{Type: spec.EventToken, Usage: chunk.Usage})
	}
	if chunk.Reasoning != nil {
		tr.reasoningText.WriteString(chunk.Reasoning.Text)
		tr.reasoningMeta = mergeMeta(tr.reasoningMeta, chunk.Reasoning.Metadata)
	}
	for _, ev := range chunk.ToolEvents {
		handleToolEvent(ctx, ev, pending, order, out)
	}
	if chunk.FinishedWithToolCalls {
		finalizeRemaining(ctx, pending, order, out)
	}
	return nil
}

// handleToolEvent forwards one compat-reported tool-call lifecycle event,
// maintaining per-call-id pending state (§4.9).
func handleToolEvent(ctx context.Context, ev compat.ToolStreamEvent, pending map[string]*pendingToolCall, order *[]string, out chan<- spec.StreamEvent) {
	switch ev.Kind {
	case compat.ToolStreamStart:
		pc := ensurePending(pending, order, ev.CallID, ev.Name)
		pc.metadata = ev.Metadata
		emit(ctx, out, spec.StreamEvent{Type: spec.EventTool, ToolPhase: spec.ToolCallStart, ToolCallID: ev.CallID, ToolName: ev.Name})
	case compat.ToolStreamArgsDelta:
		pc := ensurePending(pending, order, ev.CallID, ev.Name)
		pc.args.WriteString(ev.ArgsDelta)
		emit(ctx, out, spec.StreamEvent{Type: spec.EventTool, ToolPhase: spec.ToolArgsDelta, ToolCallID: ev.CallID, ToolArgsDelta: ev.ArgsDelta})
	case compat.ToolStreamEnd:
		pc := ensurePending(pending, order, ev.CallID, ev.Name)
		finalizeOne(ctx, ev.CallID, pc, ev.Args, ev.Metadata, out)
	}
}

func ensurePending(pending map[string]*pendingToolCall, order *[]string, callID, name string) *pendingToolCall {
	pc, ok := pending[callID]
	if !ok {
		pc = &pendingToolCall{name: name}
		pending[callID] = pc
		*order = append(*order, callID)
	}
	if pc.name == "" && name != "" {
		pc.name = name
	}
	return pc
}

// finalizeOne ends one pending tool call: assembled arguments come from
// the compat's Args, if provided, else the accumulated ArgsDelta stream
// parsed as JSON.
func finalizeOne(ctx context.Context, callID string, pc *pendingToolCall, argsOverride, metaOverride map[string]any, out chan<- spec.StreamEvent) {
	if pc.ended {
		return
	}
	pc.ended = true
	if argsOverride != nil {
		pc.finalArgs = argsOverride
	} else {
		pc.finalArgs = parseArgsJSON(pc.args.String())
	}
	pc.metadata = mergeMeta(pc.metadata, metaOverride)
	emit(ctx, out, spec.StreamEvent{
		Type:         spec.EventTool,
		ToolPhase:    spec.ToolCallEnd,
		ToolCallID:   callID,
		ToolName:     pc.name,
		ToolArgs:     pc.finalArgs,
		ToolMetadata: pc.metadata,
	})
}

// finalizeRemaining force-ends every still-pending call when the chunk
// signals finishedWithToolCalls without a paired end, preserving each
// call's accumulated metadata (§4.9).
func finalizeRemaining(ctx context.Context, pending map[string]*pendingToolCall, order []string, out chan<- spec.StreamEvent) {
	for _, id := range order {
		pc := pending[id]
		if !pc.ended {
			finalizeOne(ctx, id, pc, nil, nil, out)
		}
	}
}

func finalToolCalls(pending map[string]*pendingToolCall, order []string) []spec.ToolCall {
	out := make([]spec.ToolCall, 0, len(order))
	for _, id := range order {
		pc := pending[id]
		args := pc.finalArgs
		if args == nil {
			args = parseArgsJSON(pc.args.String())
		}
		out = append(out, spec.ToolCall{ID: id, Name: pc.name, Args: args, Metadata: pc.metadata})
	}
	return out
}

func parseArgsJSON(s string) map[string]any {
	if s == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return map[string]any{}
	}
	return m
}
