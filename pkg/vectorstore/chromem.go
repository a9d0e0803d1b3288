package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/mitchellh/mapstructure"
	chromem "github.com/philippgille/chromem-go"

	"github.com/jfcostello/llm-coordinator/pkg/compat"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

var (
	_ compat.VectorStore        = (*ChromemCompat)(nil)
	_ compat.VectorStoreCreator = (*ChromemCompat)(nil)
)

// ChromemConfig is the vector-store manifest's `config` block for
// kind=chromem, the embedded zero-external-services default.
type ChromemConfig struct {
	PersistPath string `mapstructure:"persistPath"`
	Compress    bool   `mapstructure:"compress"`
}

// ChromemCompat implements compat.VectorStore on top of chromem-go, an
// in-process embedded store with optional gzip-compressed file
// persistence. Vectors are always pre-computed upstream (§4.11's
// embedding-priority resolution runs before any query reaches here), so
// the collection's embedding function is never actually invoked.
type ChromemCompat struct {
	db          *chromem.DB
	persistPath string
	compress    bool

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

func identityEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("chromem compat received a text query instead of a pre-computed vector")
}

func (c *ChromemCompat) Connect(ctx context.Context, config map[string]any) error {
	var cfg ChromemConfig
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return spec.WrapError(spec.ErrManifest, err, "decode chromem config")
	}

	var db *chromem.DB
	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
			return spec.WrapError(spec.ErrInternal, err, "create chromem persist directory %q", cfg.PersistPath)
		}
		dbPath := filepath.Join(cfg.PersistPath, "vectors.gob")
		if cfg.Compress {
			dbPath += ".gz"
		}
		if _, err := os.Stat(dbPath); err == nil {
			db = chromem.NewDB()
			//nolint:staticcheck // Import is the counterpart of the Export call in persistLocked.
			if err := db.Import(dbPath, ""); err != nil {
				return spec.WrapError(spec.ErrInternal, err, "load chromem database from %q", dbPath)
			}
		} else {
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	c.db = db
	c.persistPath = cfg.PersistPath
	c.compress = cfg.Compress
	c.collections = map[string]*chromem.Collection{}
	return nil
}

func (c *ChromemCompat) Close() error {
	return c.persist()
}

func (c *ChromemCompat) getCollection(name string) (*chromem.Collection, error) {
	c.mu.RLock()
	if col, ok := c.collections[name]; ok {
		c.mu.RUnlock()
		return col, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if col, ok := c.collections[name]; ok {
		return col, nil
	}
	col, err := c.db.GetOrCreateCollection(name, nil, chromem.EmbeddingFunc(identityEmbed))
	if err != nil {
		return nil, spec.WrapError(spec.ErrProvider, err, "get/create chromem collection %q", name)
	}
	c.collections[name] = col
	return col, nil
}

func (c *ChromemCompat) CollectionExists(ctx context.Context, name string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.db.ListCollections()[name]
	return ok, nil
}

// CreateCollection is a no-op beyond lazily materializing the collection:
// chromem-go creates collections implicitly on first write.
func (c *ChromemCompat) CreateCollection(ctx context.Context, name string, dimensions int, options map[string]any) error {
	_, err := c.getCollection(name)
	return err
}

func (c *ChromemCompat) ListCollections(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cols := c.db.ListCollections()
	out := make([]string, 0, len(cols))
	for name := range cols {
		out = append(out, name)
	}
	return out, nil
}

func (c *ChromemCompat) DeleteCollection(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.db.DeleteCollection(name); err != nil {
		return spec.WrapError(spec.ErrProvider, err, "delete chromem collection %q", name)
	}
	delete(c.collections, name)
	return c.persistLocked()
}

func (c *ChromemCompat) Upsert(ctx context.Context, collection string, points []spec.VectorPoint) error {
	col, err := c.getCollection(collection)
	if err != nil {
		return err
	}
	docs := make([]chromem.Document, 0, len(points))
	for _, p := range points {
		strMeta := make(map[string]string, len(p.Payload))
		for k, v := range p.Payload {
			strMeta[k] = fmt.Sprint(v)
		}
		content := ""
		if s, ok := p.Payload["content"].(string); ok {
			content = s
		}
		docs = append(docs, chromem.Document{
			ID:        p.ID,
			Content:   content,
			Metadata:  strMeta,
			Embedding: p.Vector,
		})
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return spec.WrapError(spec.ErrProvider, err, "upsert into chromem collection %q", collection)
	}
	return c.persist()
}

func (c *ChromemCompat) Query(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]spec.VectorQueryResult, error) {
	col, err := c.getCollection(collection)
	if err != nil {
		return nil, err
	}
	var where map[string]string
	if len(filter) > 0 {
		where = make(map[string]string, len(filter))
		for k, v := range filter {
			where[k] = fmt.Sprint(v)
		}
	}
	results, err := col.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, spec.WrapError(spec.ErrProvider, err, "query chromem collection %q", collection)
	}
	out := make([]spec.VectorQueryResult, 0, len(results))
	for _, r := range results {
		payload := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			payload[k] = v
		}
		if r.Content != "" {
			payload["content"] = r.Content
		}
		out = append(out, spec.VectorQueryResult{ID: r.ID, Score: float64(r.Similarity), Payload: payload})
	}
	return out, nil
}

func (c *ChromemCompat) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	col, err := c.getCollection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return spec.WrapError(spec.ErrProvider, err, "delete from chromem collection %q", collection)
	}
	return c.persist()
}

func (c *ChromemCompat) persist() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.persistLocked()
}

// persistLocked assumes the caller already holds c.mu.
func (c *ChromemCompat) persistLocked() error {
	if c.persistPath == "" {
		return nil
	}
	dbPath := filepath.Join(c.persistPath, "vectors.gob")
	if c.compress {
		dbPath += ".gz"
	}
	//nolint:staticcheck // Export is the only persistence entry point chromem-go exposes.
	if err := c.db.Export(dbPath, c.compress, ""); err != nil {
		return spec.WrapError(spec.ErrInternal, err, "persist chromem database to %q", dbPath)
	}
	return nil
}
