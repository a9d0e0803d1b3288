package settings

// PreserveSpec encodes the `all | none | integer N` shape shared by
// preserve-tool-results and preserve-reasoning (§3).
type PreserveSpec struct {
	All   bool
	None  bool
	Count int // valid when !All && !None
}

// ParsePreserveSpec interprets a raw settings value for one of the
// preserve-* runtime keys.
func ParsePreserveSpec(raw any) PreserveSpec {
	switch v := raw.(type) {
	case string:
		switch v {
		case "all":
			return PreserveSpec{All: true}
		case "none":
			return PreserveSpec{None: true}
		}
	case int:
		return PreserveSpec{Count: v}
	case int64:
		return PreserveSpec{Count: int(v)}
	case float64:
		return PreserveSpec{Count: int(v)}
	}
	// Unrecognized/absent: preserve everything, matching "all" as the
	// least-surprising default for an omitted knob.
	return PreserveSpec{All: true}
}

// Runtime governs the tool loop and context pruning.
type Runtime struct {
	ToolCountdownEnabled   bool
	ToolFinalPromptEnabled bool
	MaxToolIterations      int
	PreserveToolResults    PreserveSpec
	PreserveReasoning      PreserveSpec
	ParallelToolExecution  bool
	ToolResultMaxChars     int
	BatchID                string
}

// Provider carries recognized upstream generation knobs, passed through to
// a compat's BuildPayload. Values are any; compats own interpretation.
type Provider map[string]any

// Partitioned is the result of splitting a settings bag into its three
// disjoint partitions (§4.5, §8): runtime ∩ provider ∩ extras = ∅ and
// their union equals the input keys (modulo dropped undefined/nil values).
type Partitioned struct {
	Runtime  Runtime
	Provider Provider
	Extras   map[string]any
}

var runtimeKeys = map[string]bool{
	"toolCountdownEnabled":   true,
	"toolFinalPromptEnabled": true,
	"maxToolIterations":      true,
	"preserveToolResults":    true,
	"preserveReasoning":      true,
	"parallelToolExecution":  true,
	"toolResultMaxChars":     true,
	"batchId":                true,
}

var providerKeys = map[string]bool{
	"temperature":       true,
	"topP":              true,
	"maxTokens":         true,
	"stop":              true,
	"responseFormat":    true,
	"seed":              true,
	"frequencyPenalty":  true,
	"presencePenalty":   true,
	"logitBias":         true,
	"logprobs":          true,
	"topLogprobs":       true,
	"reasoning":         true,
	"reasoningBudget":   true,
}

// defaultMaxToolIterations is used when the bag omits maxToolIterations.
const defaultMaxToolIterations = 10

// Partition splits bag into runtime, provider, and extras by the static
// key sets above. Values that are nil/absent are dropped entirely, never
// appearing in any partition.
func Partition(bag map[string]any) Partitioned {
	p := Partitioned{
		Runtime: Runtime{
			ToolFinalPromptEnabled: true,
			MaxToolIterations:      defaultMaxToolIterations,
			PreserveToolResults:    PreserveSpec{All: true},
			PreserveReasoning:      PreserveSpec{All: true},
		},
		Provider: Provider{},
		Extras:   map[string]any{},
	}
	for k, v := range bag {
		if v == nil {
			continue
		}
		switch {
		case runtimeKeys[k]:
			applyRuntimeKey(&p.Runtime, k, v)
		case providerKeys[k]:
			p.Provider[k] = v
		default:
			p.Extras[k] = v
		}
	}
	return p
}

func applyRuntimeKey(r *Runtime, key string, v any) {
	switch key {
	case "toolCountdownEnabled":
		r.ToolCountdownEnabled, _ = v.(bool)
	case "toolFinalPromptEnabled":
		if b, ok := v.(bool); ok {
			r.ToolFinalPromptEnabled = b
		}
	case "maxToolIterations":
		if n, ok := asInt(v); ok {
			r.MaxToolIterations = n
		}
	case "preserveToolResults":
		r.PreserveToolResults = ParsePreserveSpec(v)
	case "preserveReasoning":
		r.PreserveReasoning = ParsePreserveSpec(v)
	case "parallelToolExecution":
		r.ParallelToolExecution, _ = v.(bool)
	case "toolResultMaxChars":
		if n, ok := asInt(v); ok {
			r.ToolResultMaxChars = n
		}
	case "batchId":
		r.BatchID, _ = v.(string)
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// ResolveForEntry merges a priority entry's per-call settings override
// onto the global settings bag (pure — does not mutate either input),
// then partitions the result. This is the single function the LLM manager
// calls for each priority entry attempt (§4.5).
func ResolveForEntry(global map[string]any, override map[string]any) Partitioned {
	return Partition(Merge(global, override))
}
