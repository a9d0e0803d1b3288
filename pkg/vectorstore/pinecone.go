package vectorstore

import (
	"context"

	"github.com/mitchellh/mapstructure"
	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jfcostello/llm-coordinator/pkg/compat"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

var (
	_ compat.VectorStore        = (*PineconeCompat)(nil)
	_ compat.VectorStoreCreator = (*PineconeCompat)(nil)
)

// PineconeConfig is the vector-store manifest's `config` block for
// kind=pinecone.
type PineconeConfig struct {
	APIKey    string `mapstructure:"apiKey"`
	Host      string `mapstructure:"host"`
	IndexName string `mapstructure:"indexName"`
}

// PineconeCompat implements compat.VectorStore against Pinecone. Pinecone
// indexes are the "collection" unit; CreateCollection/DeleteCollection are
// deliberately limited since the SDK cannot manage index lifecycle — only
// check existence (§ Pinecone's own docs direct index management to the
// console/control-plane API).
type PineconeCompat struct {
	client    *pinecone.Client
	indexName string
}

func (c *PineconeCompat) Connect(ctx context.Context, config map[string]any) error {
	var cfg PineconeConfig
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return spec.WrapError(spec.ErrManifest, err, "decode pinecone config")
	}
	if cfg.APIKey == "" {
		return spec.NewError(spec.ErrManifest, "pinecone config requires apiKey")
	}
	params := pinecone.NewClientParams{ApiKey: cfg.APIKey}
	if cfg.Host != "" {
		params.Host = cfg.Host
	}
	client, err := pinecone.NewClient(params)
	if err != nil {
		return spec.WrapError(spec.ErrProvider, err, "create pinecone client")
	}
	c.client = client
	c.indexName = cfg.IndexName
	if c.indexName == "" {
		c.indexName = "default"
	}
	return nil
}

func (c *PineconeCompat) Close() error {
	return nil
}

func (c *PineconeCompat) resolveIndex(collection string) string {
	if collection != "" {
		return collection
	}
	return c.indexName
}

func (c *PineconeCompat) indexConn(ctx context.Context, collection string) (*pinecone.IndexConnection, error) {
	name := c.resolveIndex(collection)
	idx, err := c.client.DescribeIndex(ctx, name)
	if err != nil {
		return nil, spec.WrapError(spec.ErrProvider, err, "describe pinecone index %q", name)
	}
	conn, err := c.client.Index(pinecone.NewIndexConnParams{Host: idx.Host})
	if err != nil {
		return nil, spec.WrapError(spec.ErrProvider, err, "connect to pinecone index %q", name)
	}
	return conn, nil
}

func (c *PineconeCompat) CollectionExists(ctx context.Context, name string) (bool, error) {
	indexes, err := c.client.ListIndexes(ctx)
	if err != nil {
		return false, spec.WrapError(spec.ErrProvider, err, "list pinecone indexes")
	}
	target := c.resolveIndex(name)
	for _, idx := range indexes {
		if idx.Name == target {
			return true, nil
		}
	}
	return false, nil
}

// CreateCollection only verifies the index already exists: Pinecone
// indexes must be provisioned through the console or control-plane API,
// not this data-plane SDK.
func (c *PineconeCompat) CreateCollection(ctx context.Context, name string, dimensions int, options map[string]any) error {
	exists, err := c.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return spec.NewError(spec.ErrManifest, "pinecone index %q does not exist; create it via the console or control-plane API", c.resolveIndex(name))
}

func (c *PineconeCompat) ListCollections(ctx context.Context) ([]string, error) {
	indexes, err := c.client.ListIndexes(ctx)
	if err != nil {
		return nil, spec.WrapError(spec.ErrProvider, err, "list pinecone indexes")
	}
	names := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		names = append(names, idx.Name)
	}
	return names, nil
}

func (c *PineconeCompat) DeleteCollection(ctx context.Context, name string) error {
	return spec.NewError(spec.ErrManifest, "pinecone index deletion is not supported via this API; delete index %q via the console or control-plane API", c.resolveIndex(name))
}

func (c *PineconeCompat) Upsert(ctx context.Context, collection string, points []spec.VectorPoint) error {
	conn, err := c.indexConn(ctx, collection)
	if err != nil {
		return err
	}
	defer conn.Close()

	vectors := make([]*pinecone.Vector, 0, len(points))
	for _, p := range points {
		var meta *pinecone.Metadata
		if len(p.Payload) > 0 {
			m, err := structpb.NewStruct(p.Payload)
			if err != nil {
				return spec.WrapError(spec.ErrValidation, err, "convert payload for point %q", p.ID)
			}
			meta = m
		}
		vectors = append(vectors, &pinecone.Vector{Id: p.ID, Values: p.Vector, Metadata: meta})
	}
	if _, err := conn.UpsertVectors(ctx, vectors); err != nil {
		return spec.WrapError(spec.ErrProvider, err, "upsert into pinecone index %q", c.resolveIndex(collection))
	}
	return nil
}

func (c *PineconeCompat) Query(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]spec.VectorQueryResult, error) {
	conn, err := c.indexConn(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var metaFilter *pinecone.MetadataFilter
	if len(filter) > 0 {
		f, err := structpb.NewStruct(filter)
		if err != nil {
			return nil, spec.WrapError(spec.ErrValidation, err, "convert filter")
		}
		metaFilter = f
	}

	res, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		MetadataFilter:  metaFilter,
		IncludeMetadata: true,
		IncludeValues:   true,
	})
	if err != nil {
		return nil, spec.WrapError(spec.ErrProvider, err, "query pinecone index %q", c.resolveIndex(collection))
	}
	return convertPineconeResults(res.Matches), nil
}

func (c *PineconeCompat) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	conn, err := c.indexConn(ctx, collection)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.DeleteVectorsById(ctx, ids); err != nil {
		return spec.WrapError(spec.ErrProvider, err, "delete from pinecone index %q", c.resolveIndex(collection))
	}
	return nil
}

func convertPineconeResults(matches []*pinecone.ScoredVector) []spec.VectorQueryResult {
	out := make([]spec.VectorQueryResult, 0, len(matches))
	for _, m := range matches {
		if m.Vector == nil {
			continue
		}
		payload := map[string]any{}
		if m.Vector.Metadata != nil {
			payload = m.Vector.Metadata.AsMap()
		}
		out = append(out, spec.VectorQueryResult{
			ID:      m.Vector.Id,
			Score:   float64(m.Score),
			Payload: payload,
			Vector:  m.Vector.Values,
		})
	}
	return out
}
