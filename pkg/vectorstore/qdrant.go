package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/qdrant/go-client/qdrant"

	"github.com/jfcostello/llm-coordinator/pkg/compat"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

var (
	_ compat.VectorStore        = (*QdrantCompat)(nil)
	_ compat.VectorStoreCreator = (*QdrantCompat)(nil)
)

// QdrantConfig is the vector-store manifest's `config` block for
// kind=qdrant, decoded via mapstructure.
type QdrantConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"apiKey"`
	UseTLS bool   `mapstructure:"useTLS"`
}

// QdrantCompat implements compat.VectorStore and compat.VectorStoreCreator
// against a Qdrant server over gRPC.
type QdrantCompat struct {
	client *qdrant.Client
}

func (c *QdrantCompat) Connect(ctx context.Context, config map[string]any) error {
	var cfg QdrantConfig
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return spec.WrapError(spec.ErrManifest, err, "decode qdrant config")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return spec.WrapError(spec.ErrProvider, err, "create qdrant client for %s:%d", cfg.Host, cfg.Port)
	}
	c.client = client
	return nil
}

func (c *QdrantCompat) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *QdrantCompat) CollectionExists(ctx context.Context, name string) (bool, error) {
	ok, err := c.client.CollectionExists(ctx, name)
	if err != nil {
		return false, spec.WrapError(spec.ErrProvider, err, "check qdrant collection %q", name)
	}
	return ok, nil
}

func (c *QdrantCompat) CreateCollection(ctx context.Context, name string, dimensions int, options map[string]any) error {
	exists, err := c.client.CollectionExists(ctx, name)
	if err != nil {
		return spec.WrapError(spec.ErrProvider, err, "check qdrant collection %q", name)
	}
	if exists {
		return nil
	}
	err = c.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return spec.WrapError(spec.ErrProvider, err, "create qdrant collection %q", name)
	}
	return nil
}

func (c *QdrantCompat) ListCollections(ctx context.Context) ([]string, error) {
	names, err := c.client.ListCollections(ctx)
	if err != nil {
		return nil, spec.WrapError(spec.ErrProvider, err, "list qdrant collections")
	}
	return names, nil
}

func (c *QdrantCompat) DeleteCollection(ctx context.Context, name string) error {
	if err := c.client.DeleteCollection(ctx, name); err != nil {
		return spec.WrapError(spec.ErrProvider, err, "delete qdrant collection %q", name)
	}
	return nil
}

func (c *QdrantCompat) Upsert(ctx context.Context, collection string, points []spec.VectorPoint) error {
	out := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload := make(map[string]*qdrant.Value, len(p.Payload))
		for k, v := range p.Payload {
			val, err := qdrant.NewValue(v)
			if err != nil {
				return spec.WrapError(spec.ErrValidation, err, "convert payload value %q", k)
			}
			payload[k] = val
		}
		out = append(out, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		})
	}
	_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         out,
	})
	if err != nil {
		return spec.WrapError(spec.ErrProvider, err, "upsert into qdrant collection %q", collection)
	}
	return nil
}

func (c *QdrantCompat) Query(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]spec.VectorQueryResult, error) {
	req := &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}
	if len(filter) > 0 {
		req.Filter = buildQdrantFilter(filter)
	}
	res, err := c.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		return nil, spec.WrapError(spec.ErrProvider, err, "search qdrant collection %q", collection)
	}
	return convertQdrantResults(res.Result), nil
}

func (c *QdrantCompat) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: id}})
	}
	_, err := c.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return spec.WrapError(spec.ErrProvider, err, "delete from qdrant collection %q", collection)
	}
	return nil
}

// buildQdrantFilter converts a flat equality filter into a Qdrant `must`
// filter; non-scalar values are best-effort stringified like the rest of
// the compat layer.
func buildQdrantFilter(filter map[string]any) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for key, value := range filter {
		if _, err := qdrant.NewValue(value); err != nil {
			continue
		}
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: fmt.Sprint(value)},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}

func convertQdrantResults(points []*qdrant.ScoredPoint) []spec.VectorQueryResult {
	out := make([]spec.VectorQueryResult, 0, len(points))
	for _, point := range points {
		var id string
		if point.Id != nil && point.Id.PointIdOptions != nil {
			switch v := point.Id.PointIdOptions.(type) {
			case *qdrant.PointId_Uuid:
				id = v.Uuid
			case *qdrant.PointId_Num:
				id = fmt.Sprintf("%d", v.Num)
			}
		}

		var vector []float32
		if point.Vectors != nil {
			if vd := point.Vectors.GetVector(); vd != nil {
				if dense, ok := vd.Vector.(*qdrant.VectorOutput_Dense); ok && dense.Dense != nil {
					vector = dense.Dense.Data
				}
			}
		}

		payload := make(map[string]any, len(point.Payload))
		for key, value := range point.Payload {
			payload[key] = qdrantValueToAny(value)
		}

		out = append(out, spec.VectorQueryResult{
			ID:      id,
			Score:   float64(point.Score),
			Payload: payload,
			Vector:  vector,
		})
	}
	return out
}

func qdrantValueToAny(value *qdrant.Value) any {
	switch v := value.Kind.(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue
	case *qdrant.Value_IntegerValue:
		return v.IntegerValue
	case *qdrant.Value_DoubleValue:
		return v.DoubleValue
	case *qdrant.Value_BoolValue:
		return v.BoolValue
	case *qdrant.Value_ListValue:
		if v.ListValue == nil {
			return nil
		}
		list := make([]any, len(v.ListValue.Values))
		for i, item := range v.ListValue.Values {
			list[i] = qdrantValueToAny(item)
		}
		return list
	default:
		return value
	}
}
