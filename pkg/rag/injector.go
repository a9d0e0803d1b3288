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
	"context"

	"github.com/jfcostello/llm-coordinator/pkg/pluginregistry"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
	"github.com/jfcostello/llm-coordinator/pkg/toolrouter"
	"github.com/jfcostello/llm-coordinator/pkg/vectorstore"
)

// Injector wires a call's vectorContext config into its messages, tools,
// and the router's vector-search handler, per §4.11.
type Injector struct {
	Registry     *pluginregistry.Registry
	VectorStores *vectorstore.Manager
	Embedder     *Embedder
	Logger       Logger
}

func (inj *Injector) log() Logger {
	if inj.Logger != nil {
		return inj.Logger
	}
	return noopLogger{}
}

// Prepare applies cs.VectorContext in place: for "auto"/"both" it runs the
// query now and injects the rendered results into cs.Messages/cs.System;
// for "tool"/"both" it appends the vector_search tool definition to
// cs.Tools and returns a handler the caller wires into the tool router.
// Prepare is a no-op (nil handler, nil error) when cs.VectorContext is nil.
func (inj *Injector) Prepare(ctx context.Context, cs *spec.CallSpec) (toolrouter.VectorSearchHandler, error) {
	vc := cs.VectorContext
	if vc == nil {
		return nil, nil
	}

	stores, err := inj.resolveStores(vc.Stores)
	if err != nil {
		return nil, err
	}
	priority, err := ResolveEmbeddingPriority(vc.EmbeddingPriority, stores)
	if err != nil && (vc.Mode == "auto" || vc.Mode == "both") {
		return nil, err
	}

	switch vc.Mode {
	case "auto", "both":
		if err := inj.injectAuto(ctx, cs, vc, priority); err != nil {
			return nil, err
		}
	}

	var handler toolrouter.VectorSearchHandler
	if vc.Mode == "tool" || vc.Mode == "both" {
		def, am, err := BuildToolDefinition("vector_search", "", vc.Locks, vc.ToolSchemaOverrides)
		if err != nil {
			return nil, err
		}
		cs.Tools = append(cs.Tools, *def)
		handler = inj.makeHandler(vc, am, priority)
	}
	return handler, nil
}

func (inj *Injector) resolveStores(ids []string) ([]*pluginregistry.VectorStoreManifest, error) {
	out := make([]*pluginregistry.VectorStoreManifest, 0, len(ids))
	for _, id := range ids {
		m, err := inj.Registry.GetVectorStore(id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (inj *Injector) injectAuto(ctx context.Context, cs *spec.CallSpec, vc *spec.VectorContextConfig, priority []spec.EmbeddingPriorityEntry) error {
	query := vc.OverrideEmbeddingQuery
	if query == "" {
		query = BuildQuery(cs, vc.QueryConstruction)
	}
	results, err := inj.search(ctx, vc, priority, query, vc.Locks)
	if err != nil {
		return err
	}
	rendered := RenderTemplate(vc.ResultFormat, resultsFromMatches(results))
	if rendered == "" {
		return nil
	}
	inj.injectText(cs, vc, rendered)
	return nil
}

func (inj *Injector) injectText(cs *spec.CallSpec, vc *spec.VectorContextConfig, text string) {
	if vc.InjectAs == "user_context" {
		msg := spec.Message{Role: spec.RoleUser, Content: []spec.ContentPart{{Type: spec.ContentText, Text: text}}}
		idx := len(cs.Messages)
		cs.Messages = append(cs.Messages[:idx:idx], msg)
		return
	}
	if cs.System == "" {
		cs.System = text
		return
	}
	cs.System = cs.System + "\n\n" + text
}

func (inj *Injector) search(ctx context.Context, vc *spec.VectorContextConfig, priority []spec.EmbeddingPriorityEntry, query string, locks spec.VectorSearchLocks) ([]spec.VectorQueryResult, error) {
	storeID := firstNonEmpty(locks.Store, firstOf(vc.Stores))
	if storeID == "" {
		return nil, spec.NewError(spec.ErrValidation, "vectorContext has no store to query")
	}
	store, err := inj.VectorStores.Open(ctx, storeID)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	vector, err := inj.Embedder.EmbedQuery(ctx, priority, query)
	if err != nil {
		return nil, err
	}

	topK := vc.TopK
	if locks.TopK != nil {
		topK = *locks.TopK
	}
	filter := vc.Filter
	if locks.Filter != nil {
		filter = locks.Filter
	}
	collection := locks.Collection

	results, err := store.Query(ctx, collection, vector, topK, filter)
	if err != nil {
		return nil, err
	}
	threshold := vc.ScoreThreshold
	if locks.ScoreThreshold != nil {
		threshold = *locks.ScoreThreshold
	}
	if threshold > 0 {
		results = filterByScore(results, threshold)
	}
	return results, nil
}

func filterByScore(results []spec.VectorQueryResult, threshold float64) []spec.VectorQueryResult {
	out := results[:0:0]
	for _, r := range results {
		if r.Score >= threshold {
			out = append(out, r)
		}
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstOf(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

// makeHandler builds the toolrouter.VectorSearchHandler for "tool"/"both"
// mode: it resolves the model's (possibly aliased) arguments against locks
// and config defaults, runs the query, and renders the fixed tool-result
// format (or error format) the model sees.
func (inj *Injector) makeHandler(vc *spec.VectorContextConfig, am aliasMap, priority []spec.EmbeddingPriorityEntry) toolrouter.VectorSearchHandler {
	return func(ctx context.Context, rawArgs map[string]any) (any, error) {
		args := ResolveArgs(rawArgs, am, vc.Locks, vc)
		locks := spec.VectorSearchLocks{
			Store:          args.Store,
			Collection:     args.Collection,
			TopK:           &args.TopK,
			Filter:         args.Filter,
			ScoreThreshold: &args.ScoreThreshold,
		}
		results, err := inj.search(ctx, vc, priority, args.Query, locks)
		if err != nil {
			return FormatToolError(err), nil
		}
		return FormatToolResult(args.Query, resultsFromMatches(results)), nil
	}
}
