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

// Package rag implements the vector context injector and vector_search
// tool of §4.11: query construction from the conversation, embedding
// priority resolution, RAG auto-injection, lock enforcement, schema
// aliasing, and result/template formatting.
package rag

import (
	"context"

	"github.com/jfcostello/llm-coordinator/pkg/compat"
	"github.com/jfcostello/llm-coordinator/pkg/pluginregistry"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// Logger is the minimal structured-logging capability this package uses.
type Logger = compat.Logger

// Embedder resolves and calls embedding providers in priority order.
type Embedder struct {
	Registry *pluginregistry.Registry
	Logger   Logger
}

func (e *Embedder) log() Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return noopLogger{}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ResolveEmbeddingPriority implements §4.11's source preference: (1) an
// explicit list on the vector-context config; (2) the union default from
// every named store, failing if stores disagree; (3) a distinguished
// "no embedding priority configured" error.
func ResolveEmbeddingPriority(explicit []spec.EmbeddingPriorityEntry, stores []*pluginregistry.VectorStoreManifest) ([]spec.EmbeddingPriorityEntry, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	var chosen []pluginregistry.EmbeddingPriorityRecord
	for _, s := range stores {
		if len(s.DefaultEmbedding) == 0 {
			continue
		}
		if chosen == nil {
			chosen = s.DefaultEmbedding
			continue
		}
		if !equalRecords(chosen, s.DefaultEmbedding) {
			return nil, spec.NewError(spec.ErrValidation, "multiple vector stores specify different default embedding priorities")
		}
	}
	if chosen == nil {
		return nil, spec.NewError(spec.ErrValidation, "no embedding priority configured")
	}
	out := make([]spec.EmbeddingPriorityEntry, len(chosen))
	for i, r := range chosen {
		out[i] = spec.EmbeddingPriorityEntry{Provider: r.Provider, Model: r.Model}
	}
	return out, nil
}

func equalRecords(a, b []pluginregistry.EmbeddingPriorityRecord) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// EmbedQuery tries each priority entry in order, embedding a single
// query string. On a provider-rate-limit error it silently advances; on
// any other provider error it advances but records the error via the
// logger; if every entry fails, it raises the last error (§4.11).
func (e *Embedder) EmbedQuery(ctx context.Context, priority []spec.EmbeddingPriorityEntry, query string) ([]float32, error) {
	res, err := e.EmbedBatch(ctx, priority, []string{query})
	if err != nil {
		return nil, err
	}
	if len(res.Vectors) == 0 {
		return nil, spec.NewError(spec.ErrProvider, "embedding provider returned no vectors")
	}
	return res.Vectors[0], nil
}

// BatchResult is the outcome of embedding a batch of inputs against one
// priority entry that ultimately succeeded.
type BatchResult struct {
	Provider   string
	Model      string
	Vectors    [][]float32
	Dimensions int
	TokenCount int
}

// EmbedBatch tries each priority entry in order, embedding every input in
// one call to the provider (used directly by the standalone
// /vector/embeddings/run operation, and by EmbedQuery for the
// single-string RAG case). Same advance-on-error policy as EmbedQuery.
func (e *Embedder) EmbedBatch(ctx context.Context, priority []spec.EmbeddingPriorityEntry, inputs []string) (BatchResult, error) {
	var lastErr error
	for _, entry := range priority {
		manifest, err := e.Registry.GetEmbeddingProvider(entry.Provider)
		if err != nil {
			lastErr = err
			continue
		}
		adapter, err := e.Registry.GetEmbeddingCompat(manifest.Kind)
		if err != nil {
			lastErr = err
			continue
		}
		res, err := adapter.Embed(ctx, inputs, manifest.Defaults, entry.Model)
		if err == nil && len(res.Vectors) > 0 {
			model := entry.Model
			if model == "" {
				model = res.Model
			}
			return BatchResult{
				Provider:   entry.Provider,
				Model:      model,
				Vectors:    res.Vectors,
				Dimensions: res.Dimensions,
				TokenCount: res.TokenCount,
			}, nil
		}
		if err == nil {
			err = spec.NewError(spec.ErrProvider, "embedding provider %q returned no vectors", entry.Provider)
		}
		lastErr = err
		if spec.KindOf(err) != spec.ErrProviderRateLimit {
			e.log().Warn("embedding provider failed, advancing priority", "provider", entry.Provider, "error", err)
		}
	}
	if lastErr == nil {
		lastErr = spec.NewError(spec.ErrValidation, "embedding priority list is empty")
	}
	return BatchResult{}, spec.WrapError(spec.ErrProvider, lastErr, "all embedding priority entries failed")
}
