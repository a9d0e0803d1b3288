// Package vectorstore implements the vector-store manager of §4.2/§4.11:
// resolve a named store manifest to its compat.VectorStore kind, connect
// a fresh instance per call site (never shared, never cached — closing
// one instance must never disturb another), and expose query/upsert/
// delete operations against the store's default collection/topK.
package vectorstore

import (
	"context"

	"github.com/jfcostello/llm-coordinator/pkg/compat"
	"github.com/jfcostello/llm-coordinator/pkg/pluginregistry"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// Logger is the minimal structured-logging capability the manager uses.
type Logger = compat.Logger

// Manager resolves vector-store manifests and opens independent compat
// instances against them.
type Manager struct {
	Registry *pluginregistry.Registry
	Logger   Logger
}

// Store is one connected vector-store instance, scoped to the call site
// that opened it.
type Store struct {
	ID       string
	Manifest *pluginregistry.VectorStoreManifest
	compat   compat.VectorStore
}

// Open resolves the named store's manifest, constructs a fresh compat
// instance for its kind, and connects it with the manifest's config
// block.
func (m *Manager) Open(ctx context.Context, storeID string) (*Store, error) {
	manifest, err := m.Registry.GetVectorStore(storeID)
	if err != nil {
		return nil, err
	}
	c, err := m.Registry.GetVectorStoreCompat(manifest.Kind)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx, manifest.Config); err != nil {
		return nil, spec.WrapError(spec.ErrProvider, err, "connect vector store %q", storeID)
	}
	return &Store{ID: storeID, Manifest: manifest, compat: c}, nil
}

// Close releases the store's underlying connection. Safe to call exactly
// once per Open.
func (s *Store) Close() error {
	return s.compat.Close()
}

// collection resolves collection, falling back to the store manifest's
// default when unset.
func (s *Store) collection(collection string) string {
	if collection != "" {
		return collection
	}
	return s.Manifest.DefaultCollection
}

// topK resolves topK, falling back to the store manifest's default (and
// finally a hardcoded floor) when unset or non-positive.
func (s *Store) topK(topK int) int {
	if topK > 0 {
		return topK
	}
	if s.Manifest.DefaultTopK > 0 {
		return s.Manifest.DefaultTopK
	}
	return 10
}

// Query runs a similarity search against collection (or the store's
// default), returning up to topK (or the store's default) results.
func (s *Store) Query(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]spec.VectorQueryResult, error) {
	results, err := s.compat.Query(ctx, s.collection(collection), vector, s.topK(topK), filter)
	if err != nil {
		return nil, spec.WrapError(spec.ErrProvider, err, "query vector store %q", s.ID)
	}
	return results, nil
}

// Upsert writes points into collection (or the store's default).
func (s *Store) Upsert(ctx context.Context, collection string, points []spec.VectorPoint) error {
	if err := s.compat.Upsert(ctx, s.collection(collection), points); err != nil {
		return spec.WrapError(spec.ErrProvider, err, "upsert into vector store %q", s.ID)
	}
	return nil
}

// DeleteByIDs removes points by ID from collection (or the store's
// default).
func (s *Store) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	if err := s.compat.DeleteByIDs(ctx, s.collection(collection), ids); err != nil {
		return spec.WrapError(spec.ErrProvider, err, "delete from vector store %q", s.ID)
	}
	return nil
}

// CollectionExists reports whether collection (or the store's default)
// exists.
func (s *Store) CollectionExists(ctx context.Context, collection string) (bool, error) {
	ok, err := s.compat.CollectionExists(ctx, s.collection(collection))
	if err != nil {
		return false, spec.WrapError(spec.ErrProvider, err, "check collection existence in vector store %q", s.ID)
	}
	return ok, nil
}

// creator returns the store's optional collection-management capability,
// or a distinguished error when the backend doesn't implement
// compat.VectorStoreCreator. The qdrant, pinecone and chromem backends all
// implement it; Pinecone's version only checks that an index exists and
// refuses deletion.
func (s *Store) creator() (compat.VectorStoreCreator, error) {
	creator, ok := s.compat.(compat.VectorStoreCreator)
	if !ok {
		return nil, spec.NewError(spec.ErrValidation, "vector store %q (kind %q) does not support collection management", s.ID, s.Manifest.Kind)
	}
	return creator, nil
}

// CreateCollection creates collection (or the store's default) with the
// given vector dimensionality, if the backend supports explicit
// collection management.
func (s *Store) CreateCollection(ctx context.Context, collection string, dimensions int, options map[string]any) error {
	creator, err := s.creator()
	if err != nil {
		return err
	}
	if err := creator.CreateCollection(ctx, s.collection(collection), dimensions, options); err != nil {
		return spec.WrapError(spec.ErrProvider, err, "create collection in vector store %q", s.ID)
	}
	return nil
}

// ListCollections lists every collection known to the store, if the
// backend supports explicit collection management.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	creator, err := s.creator()
	if err != nil {
		return nil, err
	}
	names, err := creator.ListCollections(ctx)
	if err != nil {
		return nil, spec.WrapError(spec.ErrProvider, err, "list collections in vector store %q", s.ID)
	}
	return names, nil
}

// DeleteCollection deletes collection (or the store's default), if the
// backend supports explicit collection management.
func (s *Store) DeleteCollection(ctx context.Context, collection string) error {
	creator, err := s.creator()
	if err != nil {
		return err
	}
	if err := creator.DeleteCollection(ctx, s.collection(collection)); err != nil {
		return spec.WrapError(spec.ErrProvider, err, "delete collection in vector store %q", s.ID)
	}
	return nil
}
