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

package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/jfcostello/llm-coordinator/pkg/rag"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// runResponse is the body of a successful /run response (§4.12
// "Responses"): {"type":"response","data":<unified response>}.
type runResponse struct {
	Type string        `json:"type"`
	Data *spec.Response `json:"data"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request, body []byte) {
	cs, err := decodeCallSpec(body)
	if err != nil {
		writeSpecError(w, err)
		return
	}
	resp, err := s.coord.Run(r.Context(), cs)
	if err != nil {
		writeSpecError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(runResponse{Type: "response", Data: resp})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, body []byte) {
	cs, err := decodeCallSpec(body)
	if err != nil {
		writeSpecError(w, err)
		return
	}
	events, err := s.coord.Stream(r.Context(), cs)
	if err != nil {
		writeSpecError(w, err)
		return
	}
	s.relaySSE(w, r, events)
}

// decodeCallSpec parses and validates the request body as a §3 CallSpec
// (§4.12 steps 7-8: JSON parse, then spec-shape validation).
func decodeCallSpec(body []byte) (*spec.CallSpec, error) {
	var cs spec.CallSpec
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cs); err != nil {
		return nil, spec.WrapError(spec.ErrValidation, err, "invalid JSON")
	}
	if err := cs.Validate(); err != nil {
		return nil, spec.WrapError(spec.ErrValidation, err, "validation_error")
	}
	return &cs, nil
}

// vectorRequest is the body shape for /vector/run and /vector/stream: a
// single named operation against one vector store (§4.11's direct
// operations, distinct from RAG auto-injection — "cs.VectorStores ...
// names direct vector-store operations outside the RAG injection flow").
type vectorRequest struct {
	Store      string         `json:"store"`
	Operation  string         `json:"operation"` // query|upsert|delete|collectionExists|createCollection|listCollections|deleteCollection
	Collection string         `json:"collection,omitempty"`
	Vector     []float32      `json:"vector,omitempty"`
	TopK       int            `json:"topK,omitempty"`
	Filter     map[string]any `json:"filter,omitempty"`
	Points     []spec.VectorPoint `json:"points,omitempty"`
	IDs        []string       `json:"ids,omitempty"`
	Dimensions int            `json:"dimensions,omitempty"`
	Options    map[string]any `json:"options,omitempty"`
}

type vectorResponse struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (s *Server) runVectorOperation(ctx context.Context, req vectorRequest) (any, error) {
	if req.Store == "" {
		return nil, spec.NewError(spec.ErrValidation, "vector request missing store")
	}
	store, err := s.coord.VectorStores.Open(ctx, req.Store)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	switch req.Operation {
	case "query":
		return store.Query(ctx, req.Collection, req.Vector, req.TopK, req.Filter)
	case "upsert":
		return nil, store.Upsert(ctx, req.Collection, req.Points)
	case "delete":
		return nil, store.DeleteByIDs(ctx, req.Collection, req.IDs)
	case "collectionExists":
		return store.CollectionExists(ctx, req.Collection)
	case "createCollection":
		return nil, store.CreateCollection(ctx, req.Collection, req.Dimensions, req.Options)
	case "listCollections":
		return store.ListCollections(ctx)
	case "deleteCollection":
		return nil, store.DeleteCollection(ctx, req.Collection)
	default:
		return nil, spec.NewError(spec.ErrValidation, "unknown vector operation %q", req.Operation)
	}
}

func (s *Server) handleVectorRun(w http.ResponseWriter, r *http.Request, body []byte) {
	var req vectorRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeSpecError(w, spec.WrapError(spec.ErrValidation, err, "invalid JSON"))
		return
	}
	data, err := s.runVectorOperation(r.Context(), req)
	if err != nil {
		writeSpecError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(vectorResponse{Type: "response", Data: data})
}

// handleVectorStream runs the same operation as handleVectorRun but
// relays the outcome as a single terminal SSE `done` event, giving
// vector operations the same transport shape as /stream for clients that
// always consume SSE (§4.12 names /vector/stream alongside /vector/run;
// vector operations have no incremental partial state to emit, so the
// stream carries exactly one event before its DONE terminator).
func (s *Server) handleVectorStream(w http.ResponseWriter, r *http.Request, body []byte) {
	var req vectorRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeSpecError(w, spec.WrapError(spec.ErrValidation, err, "invalid JSON"))
		return
	}
	events := make(chan spec.StreamEvent, 1)
	go func() {
		defer close(events)
		data, err := s.runVectorOperation(r.Context(), req)
		if err != nil {
			events <- spec.StreamEvent{Type: spec.EventError, ErrorMessage: err.Error(), ErrorCode: string(spec.KindOf(err))}
			return
		}
		raw, _ := json.Marshal(data)
		events <- spec.StreamEvent{Type: spec.EventDone, Response: &spec.Response{Raw: map[string]any{"result": json.RawMessage(raw)}}}
	}()
	s.relaySSE(w, r, events)
}

// embeddingsRequest is the body of /vector/embeddings/run: a standalone
// batch embedding call, independent of any vector store (§4.11's
// embedding-priority resolution, reused directly).
type embeddingsRequest struct {
	Inputs            []string                     `json:"inputs"`
	EmbeddingPriority []spec.EmbeddingPriorityEntry `json:"embeddingPriority"`
}

type embeddingsResponseData struct {
	Provider   string      `json:"provider"`
	Model      string      `json:"model"`
	Vectors    [][]float32 `json:"vectors"`
	Dimensions int         `json:"dimensions"`
	TokenCount int         `json:"tokenCount,omitempty"`
}

func (s *Server) handleEmbeddingsRun(w http.ResponseWriter, r *http.Request, body []byte) {
	var req embeddingsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeSpecError(w, spec.WrapError(spec.ErrValidation, err, "invalid JSON"))
		return
	}
	if len(req.Inputs) == 0 {
		writeSpecError(w, spec.NewError(spec.ErrValidation, "inputs must be non-empty"))
		return
	}
	if len(req.EmbeddingPriority) == 0 {
		writeSpecError(w, spec.NewError(spec.ErrValidation, "no embedding priority configured"))
		return
	}
	embedder := &rag.Embedder{Registry: s.coord.Registry, Logger: s.log()}
	res, err := embedder.EmbedBatch(r.Context(), req.EmbeddingPriority, req.Inputs)
	if err != nil {
		writeSpecError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(vectorResponse{Type: "response", Data: embeddingsResponseData{
		Provider: res.Provider, Model: res.Model, Vectors: res.Vectors,
		Dimensions: res.Dimensions, TokenCount: res.TokenCount,
	}})
}
