// Package toolloop implements the budgeted multi-turn tool-calling loop
// of §4.8 and the context pruning of §4.10, shared by the unary run path
// and (via the exported Budget/ExecuteToolCalls/PruneContext building
// blocks) the streaming tool-loop variant in pkg/streamcoord.
package toolloop

import (
	"context"
	"time"

	"github.com/jfcostello/llm-coordinator/pkg/compat"
	"github.com/jfcostello/llm-coordinator/pkg/llmmanager"
	"github.com/jfcostello/llm-coordinator/pkg/settings"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// Logger is the minimal structured-logging capability the loop uses.
type Logger = compat.Logger

// Loop drives one coordinator run's tool-calling turns.
type Loop struct {
	Manager *llmmanager.Manager
	Router  Router
	Logger  Logger
}

// Run executes callSpec to completion: the initial call, zero or more
// tool turns, and the final unified response augmented per §4.8's
// "Return value" clause.
func (l *Loop) Run(ctx context.Context, callSpec *spec.CallSpec) (*spec.Response, error) {
	if err := callSpec.Validate(); err != nil {
		return nil, err
	}

	runtime := settings.Partition(callSpec.Settings).Runtime
	budget := NewBudget(runtime.MaxToolIterations)
	retryDelays := toDurations(callSpec.RetryDelays)

	messages := append([]spec.Message(nil), callSpec.Messages...)
	tools := callSpec.Tools
	choice := callSpec.ToolChoice

	var allToolCalls []spec.ToolCall
	var allToolResults []ToolResultRecord

	resp, provider, err := l.callWithFallback(ctx, callSpec.LLMPriority, callSpec.Settings, messages, tools, choice, retryDelays)
	if err != nil {
		return nil, err
	}

	for resp.FinishReason == spec.FinishToolCalls && len(resp.ToolCalls) > 0 {
		allToolCalls = append(allToolCalls, resp.ToolCalls...)

		assistantMsg := spec.Message{
			Role:      spec.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			Reasoning: resp.Reasoning,
		}
		messages = append(messages, assistantMsg)

		turnMessages, turnResults := ExecuteToolCalls(ctx, l.Router, resp.ToolCalls, budget, DispatchParams{
			Provider:       provider,
			Model:          resp.Model,
			Metadata:       callSpec.Metadata,
			Parallel:       runtime.ParallelToolExecution,
			Countdown:      runtime.ToolCountdownEnabled,
			ResultMaxChars: runtime.ToolResultMaxChars,
		})
		messages = append(messages, turnMessages...)
		allToolResults = append(allToolResults, turnResults...)

		messages = PruneContext(messages, runtime.PreserveToolResults, runtime.PreserveReasoning)

		if budget.Exhausted() && runtime.ToolFinalPromptEnabled {
			messages = append(messages, finalPromptMessage())
			resp, _, err = l.callWithFallback(ctx, callSpec.LLMPriority, callSpec.Settings, messages, nil, &spec.ToolChoice{Mode: "none"}, retryDelays)
			if err != nil {
				return nil, err
			}
			break
		}

		resp, provider, err = l.callWithFallback(ctx, callSpec.LLMPriority, callSpec.Settings, messages, tools, choice, retryDelays)
		if err != nil {
			return nil, err
		}
	}

	return augmentFinal(resp, allToolCalls, allToolResults), nil
}

// callWithFallback tries each priority entry in order, advancing past any
// that fails with ErrProviderRateLimit (§4.8: "Retry/rate-limit across
// providers ... The same policy applies at run start and on follow-up
// calls mid-loop"). Any other error is returned immediately.
func (l *Loop) callWithFallback(ctx context.Context, entries []spec.PriorityEntry, globalSettings map[string]any, messages []spec.Message, tools []spec.ToolDefinition, choice *spec.ToolChoice, retryDelays []time.Duration) (*spec.Response, string, error) {
	var lastErr error
	for _, entry := range entries {
		resp, err := l.Manager.Call(ctx, entry, globalSettings, messages, tools, choice, retryDelays)
		if err == nil {
			return resp, entry.Provider, nil
		}
		lastErr = err
		if spec.KindOf(err) != spec.ErrProviderRateLimit {
			return nil, "", err
		}
	}
	return nil, "", lastErr
}

func finalPromptMessage() spec.Message {
	return spec.Message{
		Role:    spec.RoleUser,
		Content: []spec.ContentPart{{Type: spec.ContentText, Text: "summarize without further tool use"}},
	}
}

// augmentFinal appends the concatenation of all tool-call records and a
// raw.toolResults array to the final response (§4.8: "Return value").
func augmentFinal(resp *spec.Response, allToolCalls []spec.ToolCall, allToolResults []ToolResultRecord) *spec.Response {
	if len(allToolCalls) == 0 {
		return resp
	}
	out := *resp
	out.ToolCalls = append(append([]spec.ToolCall(nil), resp.ToolCalls...), allToolCalls...)
	raw := map[string]any{}
	for k, v := range resp.Raw {
		raw[k] = v
	}
	raw["toolResults"] = allToolResults
	out.Raw = raw
	return &out
}

func toDurations(ms []int) []time.Duration {
	out := make([]time.Duration, len(ms))
	for i, v := range ms {
		out[i] = time.Duration(v) * time.Millisecond
	}
	return out
}
