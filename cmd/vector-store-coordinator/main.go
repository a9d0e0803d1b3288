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

// Command vector-store-coordinator is the CLI entrypoint for direct
// vector-store operations and standalone embedding calls (§4.11, §6):
//
//	vector-store-coordinator query --store s --collection docs --vector-file q.json
//	vector-store-coordinator upsert --store s --collection docs --file points.json
//	vector-store-coordinator embed --spec '{"inputs":["hi"],"embeddingPriority":[{"provider":"p"}]}'
package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/jfcostello/llm-coordinator/internal/cliconfig"
	"github.com/jfcostello/llm-coordinator/pkg/config"
	"github.com/jfcostello/llm-coordinator/pkg/coordinator"
	"github.com/jfcostello/llm-coordinator/pkg/logger"
	"github.com/jfcostello/llm-coordinator/pkg/rag"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

type CLI struct {
	Run         RunCmd         `cmd:"" help:"Run one vector operation described as JSON and print the result."`
	Stream      StreamCmd      `cmd:"" help:"Run one vector operation and print its terminal event."`
	Query       QueryCmd       `cmd:"" help:"Query a collection for nearest neighbors."`
	Upsert      UpsertCmd      `cmd:"" help:"Upsert points into a collection."`
	Delete      DeleteCmd      `cmd:"" help:"Delete points by id from a collection."`
	Collections CollectionsCmd `cmd:"" help:"List the collections of a vector store."`
	Embed       EmbedCmd       `cmd:"" help:"Run a standalone batch embedding call."`

	ConfigFile string `name:"config" help:"Path to configs/defaults.json." type:"path"`
	LogLevel   string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// vectorRequest mirrors pkg/httpserver's /vector/run body shape, reused
// here so `run`/`stream` accept the exact same JSON a server operator
// would send over HTTP.
type vectorRequest struct {
	Store      string             `json:"store"`
	Operation  string             `json:"operation"`
	Collection string             `json:"collection,omitempty"`
	Vector     []float32          `json:"vector,omitempty"`
	TopK       int                `json:"topK,omitempty"`
	Filter     map[string]any     `json:"filter,omitempty"`
	Points     []spec.VectorPoint `json:"points,omitempty"`
	IDs        []string           `json:"ids,omitempty"`
	Dimensions int                `json:"dimensions,omitempty"`
	Options    map[string]any     `json:"options,omitempty"`
}

func runVectorOperation(ctx context.Context, coord *coordinator.Coordinator, req vectorRequest) (any, error) {
	if req.Store == "" {
		return nil, spec.NewError(spec.ErrValidation, "vector request missing store")
	}
	store, err := coord.VectorStores.Open(ctx, req.Store)
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

func decodeVectorRequest(raw []byte) (vectorRequest, error) {
	var req vectorRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, spec.WrapError(spec.ErrValidation, err, "invalid JSON")
	}
	return req, nil
}

type RunCmd struct {
	cliconfig.InputFlags
	cliconfig.CommonFlags
}

func (c *RunCmd) Run(cli *CLI) error {
	coord, err := newCoordinator(cli, c.Plugins)
	if err != nil {
		return err
	}
	defer coord.Close()

	raw, err := c.ReadInput()
	if err != nil {
		return err
	}
	req, err := decodeVectorRequest(raw)
	if err != nil {
		cliconfig.FailLine(err)
		os.Exit(1)
	}
	ctx := logger.WithBatchID(context.Background(), c.BatchID)
	data, err := runVectorOperation(ctx, coord, req)
	if err != nil {
		cliconfig.FailLine(err)
		os.Exit(1)
	}
	return cliconfig.PrintJSON(data, c.Pretty)
}

type StreamCmd struct {
	cliconfig.InputFlags
	cliconfig.CommonFlags
}

func (c *StreamCmd) Run(cli *CLI) error {
	coord, err := newCoordinator(cli, c.Plugins)
	if err != nil {
		return err
	}
	defer coord.Close()

	raw, err := c.ReadInput()
	if err != nil {
		return err
	}
	req, err := decodeVectorRequest(raw)
	if err != nil {
		cliconfig.FailLine(err)
		os.Exit(1)
	}
	ctx := logger.WithBatchID(context.Background(), c.BatchID)
	data, err := runVectorOperation(ctx, coord, req)
	if err != nil {
		ev := spec.StreamEvent{Type: spec.EventError, ErrorMessage: err.Error(), ErrorCode: string(spec.KindOf(err))}
		_ = cliconfig.PrintJSON(ev, c.Pretty)
		os.Exit(1)
	}
	raw2, _ := json.Marshal(data)
	ev := spec.StreamEvent{Type: spec.EventDone, Response: &spec.Response{Raw: map[string]any{"result": json.RawMessage(raw2)}}}
	return cliconfig.PrintJSON(ev, c.Pretty)
}

// QueryCmd, UpsertCmd, DeleteCmd, and CollectionsCmd are named-flag
// shortcuts over the same operations run/stream expose generically,
// convenient for one-off shell use without hand-writing a JSON envelope.
type QueryCmd struct {
	cliconfig.CommonFlags
	Store      string `required:"" help:"Vector store id."`
	Collection string `required:"" help:"Collection name."`
	VectorFile string `name:"vector-file" required:"" help:"Path to a JSON array of floats." type:"path"`
	TopK       int    `name:"top-k" default:"10" help:"Number of neighbors to return."`
	Pretty     bool   `help:"Pretty-print JSON output."`
}

func (c *QueryCmd) Run(cli *CLI) error {
	coord, err := newCoordinator(cli, c.Plugins)
	if err != nil {
		return err
	}
	defer coord.Close()

	raw, err := os.ReadFile(c.VectorFile)
	if err != nil {
		return err
	}
	var vector []float32
	if err := json.Unmarshal(raw, &vector); err != nil {
		return spec.WrapError(spec.ErrValidation, err, "invalid vector file")
	}
	ctx := logger.WithBatchID(context.Background(), c.BatchID)
	results, err := runVectorOperation(ctx, coord, vectorRequest{Store: c.Store, Operation: "query", Collection: c.Collection, Vector: vector, TopK: c.TopK})
	if err != nil {
		cliconfig.FailLine(err)
		os.Exit(1)
	}
	return cliconfig.PrintJSON(results, c.Pretty)
}

type UpsertCmd struct {
	cliconfig.InputFlags
	cliconfig.CommonFlags
	Store      string `required:"" help:"Vector store id."`
	Collection string `required:"" help:"Collection name."`
}

func (c *UpsertCmd) Run(cli *CLI) error {
	coord, err := newCoordinator(cli, c.Plugins)
	if err != nil {
		return err
	}
	defer coord.Close()

	raw, err := c.ReadInput()
	if err != nil {
		return err
	}
	var points []spec.VectorPoint
	if err := json.Unmarshal(raw, &points); err != nil {
		cliconfig.FailLine(spec.WrapError(spec.ErrValidation, err, "invalid points"))
		os.Exit(1)
	}
	ctx := logger.WithBatchID(context.Background(), c.BatchID)
	if _, err := runVectorOperation(ctx, coord, vectorRequest{Store: c.Store, Operation: "upsert", Collection: c.Collection, Points: points}); err != nil {
		cliconfig.FailLine(err)
		os.Exit(1)
	}
	return cliconfig.PrintJSON(map[string]any{"upserted": len(points)}, c.Pretty)
}

type DeleteCmd struct {
	cliconfig.CommonFlags
	Store      string   `required:"" help:"Vector store id."`
	Collection string   `required:"" help:"Collection name."`
	IDs        []string `required:"" help:"Point ids to delete."`
	Pretty     bool     `help:"Pretty-print JSON output."`
}

func (c *DeleteCmd) Run(cli *CLI) error {
	coord, err := newCoordinator(cli, c.Plugins)
	if err != nil {
		return err
	}
	defer coord.Close()

	ctx := logger.WithBatchID(context.Background(), c.BatchID)
	if _, err := runVectorOperation(ctx, coord, vectorRequest{Store: c.Store, Operation: "delete", Collection: c.Collection, IDs: c.IDs}); err != nil {
		cliconfig.FailLine(err)
		os.Exit(1)
	}
	return cliconfig.PrintJSON(map[string]any{"deleted": len(c.IDs)}, c.Pretty)
}

type CollectionsCmd struct {
	cliconfig.CommonFlags
	Store  string `required:"" help:"Vector store id."`
	Pretty bool   `help:"Pretty-print JSON output."`
}

func (c *CollectionsCmd) Run(cli *CLI) error {
	coord, err := newCoordinator(cli, c.Plugins)
	if err != nil {
		return err
	}
	defer coord.Close()

	ctx := logger.WithBatchID(context.Background(), c.BatchID)
	names, err := runVectorOperation(ctx, coord, vectorRequest{Store: c.Store, Operation: "listCollections"})
	if err != nil {
		cliconfig.FailLine(err)
		os.Exit(1)
	}
	return cliconfig.PrintJSON(names, c.Pretty)
}

// EmbedCmd runs a standalone batch embedding call, reusing the priority
// resolution and provider-advance logic of the /vector/embeddings/run
// route (§4.11).
type EmbedCmd struct {
	cliconfig.InputFlags
	cliconfig.CommonFlags
}

type embeddingsRequest struct {
	Inputs            []string                     `json:"inputs"`
	EmbeddingPriority []spec.EmbeddingPriorityEntry `json:"embeddingPriority"`
}

func (c *EmbedCmd) Run(cli *CLI) error {
	coord, err := newCoordinator(cli, c.Plugins)
	if err != nil {
		return err
	}
	defer coord.Close()

	raw, err := c.ReadInput()
	if err != nil {
		return err
	}
	var req embeddingsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		cliconfig.FailLine(spec.WrapError(spec.ErrValidation, err, "invalid JSON"))
		os.Exit(1)
	}
	if len(req.Inputs) == 0 || len(req.EmbeddingPriority) == 0 {
		cliconfig.FailLine(spec.NewError(spec.ErrValidation, "inputs and embeddingPriority must both be non-empty"))
		os.Exit(1)
	}

	embedder := &rag.Embedder{Registry: coord.Registry, Logger: coord.Logger}
	ctx := logger.WithBatchID(context.Background(), c.BatchID)
	res, err := embedder.EmbedBatch(ctx, req.EmbeddingPriority, req.Inputs)
	if err != nil {
		cliconfig.FailLine(err)
		os.Exit(1)
	}
	return cliconfig.PrintJSON(res, c.Pretty)
}

func newCoordinator(cli *CLI, pluginRoot string) (*coordinator.Coordinator, error) {
	defaults, err := config.Load(cli.ConfigFile)
	if err != nil {
		return nil, err
	}
	return coordinator.New(coordinator.Config{
		PluginRoot:     pluginRoot,
		RetryWords:     defaults.RetryWords,
		ConnectTimeout: time.Duration(defaults.ConnectTimeoutMs) * time.Millisecond,
		Logger:         logger.NewAdapter(context.Background(), logger.GetLogger()),
	})
}

func main() {
	_ = config.LoadDotEnv()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("vector-store-coordinator"),
		kong.Description("Direct vector-store operations and standalone embedding calls."),
		kong.UsageOnError(),
	)

	level, _ := logger.ParseLevel(cli.LogLevel)
	logger.Init(level, os.Stderr, "simple")

	if err := ctx.Run(&cli); err != nil {
		cliconfig.FailLine(err)
		os.Exit(1)
	}
}
