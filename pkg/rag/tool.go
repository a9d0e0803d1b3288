// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rag

import (
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// VectorSearchArgs is the canonical argument shape of the built-in
// vector_search tool, reflected into a JSON schema for the model and then
// adjusted for locks and aliasing before being handed to a provider.
type VectorSearchArgs struct {
	Query          string         `json:"query" jsonschema:"required,description=Natural-language search query"`
	TopK           int            `json:"topK,omitempty" jsonschema:"description=Number of results to return"`
	Store          string         `json:"store,omitempty" jsonschema:"description=Vector store id to query"`
	Collection     string         `json:"collection,omitempty" jsonschema:"description=Collection within the store"`
	Filter         map[string]any `json:"filter,omitempty" jsonschema:"description=Structured metadata filter"`
	ScoreThreshold float64        `json:"scoreThreshold,omitempty" jsonschema:"description=Minimum similarity score for a match"`
}

// canonicalFieldOrder fixes a stable iteration order over the schema
// properties that lock/alias post-processing edits.
var canonicalFieldOrder = []string{"query", "topK", "store", "collection", "filter", "scoreThreshold"}

func lockedFields(locks spec.VectorSearchLocks) map[string]bool {
	locked := map[string]bool{}
	if locks.Store != "" {
		locked["store"] = true
	}
	if locks.Collection != "" {
		locked["collection"] = true
	}
	if locks.TopK != nil {
		locked["topK"] = true
	}
	if locks.Filter != nil {
		locked["filter"] = true
	}
	if locks.ScoreThreshold != nil {
		locked["scoreThreshold"] = true
	}
	return locked
}

// aliasMap captures the bidirectional field<->alias rename applied to the
// schema surface; Canonical maps an exposed (possibly aliased) name back to
// the VectorSearchArgs field it represents.
type aliasMap struct {
	exposedName map[string]string // canonical field -> exposed name
	canonical   map[string]string // exposed name -> canonical field
}

func buildAliasMap(overrides map[string]map[string]string) (aliasMap, error) {
	am := aliasMap{exposedName: map[string]string{}, canonical: map[string]string{}}
	for _, field := range canonicalFieldOrder {
		am.exposedName[field] = field
		am.canonical[field] = field
	}
	params := overrides["params"]
	for field, alias := range params {
		if alias == "" {
			continue
		}
		if _, ok := am.exposedName[field]; !ok {
			return aliasMap{}, spec.NewError(spec.ErrValidation, "toolSchemaOverrides.params references unknown field %q", field)
		}
		if existing, taken := am.canonical[alias]; taken && existing != field {
			return aliasMap{}, spec.NewError(spec.ErrValidation, "toolSchemaOverrides.params alias %q collides with field %q", alias, existing)
		}
		delete(am.canonical, am.exposedName[field])
		am.exposedName[field] = alias
		am.canonical[alias] = field
	}
	return am, nil
}

// generateSchema reflects a Go struct into a plain JSON-schema map, trimmed
// to the subset a provider tool-call schema expects.
func generateSchema[T any]() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	raw := reflector.Reflect(new(T))
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m, nil
}

// BuildToolDefinition produces the vector_search tool schema sent to the
// model: locked parameters are omitted entirely (§4.11: "locked parameters
// must never be visible to or overridable by the model"), and the
// remaining ones are renamed per toolSchemaOverrides.
func BuildToolDefinition(name, description string, locks spec.VectorSearchLocks, overrides map[string]map[string]string) (*spec.ToolDefinition, aliasMap, error) {
	schema, err := generateSchema[VectorSearchArgs]()
	if err != nil {
		return nil, aliasMap{}, spec.WrapError(spec.ErrInternal, err, "generating vector_search schema")
	}
	am, err := buildAliasMap(overrides)
	if err != nil {
		return nil, aliasMap{}, err
	}
	locked := lockedFields(locks)

	props, _ := schema["properties"].(map[string]any)
	newProps := map[string]any{}
	var required []string
	reqSet, _ := schema["required"].([]any)
	reqStrs := map[string]bool{}
	for _, r := range reqSet {
		if s, ok := r.(string); ok {
			reqStrs[s] = true
		}
	}
	for _, field := range canonicalFieldOrder {
		if locked[field] {
			continue
		}
		def, ok := props[field]
		if !ok {
			continue
		}
		exposed := am.exposedName[field]
		newProps[exposed] = def
		if reqStrs[field] {
			required = append(required, exposed)
		}
	}
	params := map[string]any{
		"type":                 "object",
		"properties":           newProps,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		params["required"] = required
	}
	if name == "" {
		name = "vector_search"
	}
	if description == "" {
		description = "Search a vector store for content relevant to a natural-language query."
	}
	return &spec.ToolDefinition{Name: name, Description: description, Parameters: params}, am, nil
}

// ResolveArgs merges the model's raw (possibly aliased) tool-call
// arguments with the configured locks and config defaults, implementing
// §4.11's priority chain: lock > caller argument > config default.
func ResolveArgs(raw map[string]any, am aliasMap, locks spec.VectorSearchLocks, cfg *spec.VectorContextConfig) VectorSearchArgs {
	var out VectorSearchArgs
	canonical := map[string]any{}
	for exposed, v := range raw {
		field, ok := am.canonical[exposed]
		if !ok {
			continue
		}
		canonical[field] = v
	}

	out.Query, _ = canonical["query"].(string)

	out.TopK = cfg.TopK
	if v, ok := canonical["topK"]; ok {
		if f, ok := toFloat(v); ok {
			out.TopK = int(f)
		}
	}
	if locks.TopK != nil {
		out.TopK = *locks.TopK
	}

	if len(cfg.Stores) > 0 {
		out.Store = cfg.Stores[0]
	}
	if v, ok := canonical["store"].(string); ok && v != "" {
		out.Store = v
	}
	if locks.Store != "" {
		out.Store = locks.Store
	}

	if v, ok := canonical["collection"].(string); ok && v != "" {
		out.Collection = v
	}
	if locks.Collection != "" {
		out.Collection = locks.Collection
	}

	out.Filter = cfg.Filter
	if v, ok := canonical["filter"].(map[string]any); ok {
		out.Filter = v
	}
	if locks.Filter != nil {
		out.Filter = locks.Filter
	}

	out.ScoreThreshold = cfg.ScoreThreshold
	if v, ok := canonical["scoreThreshold"]; ok {
		if f, ok := toFloat(v); ok {
			out.ScoreThreshold = f
		}
	}
	if locks.ScoreThreshold != nil {
		out.ScoreThreshold = *locks.ScoreThreshold
	}

	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
