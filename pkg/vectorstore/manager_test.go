package vectorstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfcostello/llm-coordinator/pkg/compat"
	"github.com/jfcostello/llm-coordinator/pkg/pluginregistry"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// fakeStore is an in-memory compat.VectorStore double used to test
// Manager/Store plumbing without a real backend.
type fakeStore struct {
	connected   bool
	closed      bool
	points      map[string][]spec.VectorPoint
	collections map[string]bool

	lastQueryCollection string
	lastQueryTopK       int
}

func (f *fakeStore) Connect(ctx context.Context, config map[string]any) error {
	f.connected = true
	f.points = map[string][]spec.VectorPoint{}
	f.collections = map[string]bool{}
	return nil
}

func (f *fakeStore) Close() error {
	f.closed = true
	return nil
}

func (f *fakeStore) Query(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]spec.VectorQueryResult, error) {
	f.lastQueryCollection = collection
	f.lastQueryTopK = topK
	out := make([]spec.VectorQueryResult, 0, len(f.points[collection]))
	for _, p := range f.points[collection] {
		out = append(out, spec.VectorQueryResult{ID: p.ID, Score: 1, Payload: p.Payload})
	}
	return out, nil
}

func (f *fakeStore) Upsert(ctx context.Context, collection string, points []spec.VectorPoint) error {
	f.points[collection] = append(f.points[collection], points...)
	f.collections[collection] = true
	return nil
}

func (f *fakeStore) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	toDelete := map[string]bool{}
	for _, id := range ids {
		toDelete[id] = true
	}
	var kept []spec.VectorPoint
	for _, p := range f.points[collection] {
		if !toDelete[p.ID] {
			kept = append(kept, p)
		}
	}
	f.points[collection] = kept
	return nil
}

func (f *fakeStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	return f.collections[name], nil
}

func newRegistry(t *testing.T, factories map[string]pluginregistry.VectorCompatFactory, manifests map[string]VectorStoreManifestDoc) *pluginregistry.Registry {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "vector")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for id, m := range manifests {
		doc, err := json.Marshal(m)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), doc, 0o644))
	}
	reg, err := pluginregistry.New(pluginregistry.Options{Root: root, VectorCompat: factories})
	require.NoError(t, err)
	return reg
}

// VectorStoreManifestDoc mirrors pluginregistry.VectorStoreManifest's
// on-disk JSON shape for building test fixtures.
type VectorStoreManifestDoc struct {
	ID                string         `json:"id"`
	Kind              string         `json:"kind"`
	Config            map[string]any `json:"config,omitempty"`
	DefaultCollection string         `json:"defaultCollection,omitempty"`
	DefaultTopK       int            `json:"defaultTopK,omitempty"`
}

func TestManagerOpenConnectsAndResolvesDefaults(t *testing.T) {
	fake := &fakeStore{}
	reg := newRegistry(t, map[string]pluginregistry.VectorCompatFactory{
		"fake": func() compat.VectorStore { return fake },
	}, map[string]VectorStoreManifestDoc{
		"docs": {ID: "docs", Kind: "fake", DefaultCollection: "articles", DefaultTopK: 3},
	})
	mgr := &Manager{Registry: reg}

	store, err := mgr.Open(context.Background(), "docs")
	require.NoError(t, err)
	assert.True(t, fake.connected)

	require.NoError(t, store.Upsert(context.Background(), "", []spec.VectorPoint{{ID: "a", Vector: []float32{1, 2}}}))
	results, err := store.Query(context.Background(), "", []float32{1, 2}, 0, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "articles", fake.lastQueryCollection)
	assert.Equal(t, 3, fake.lastQueryTopK)

	require.NoError(t, store.Close())
	assert.True(t, fake.closed)
}

func TestStoreCreateCollectionFailsWithoutCreatorCapability(t *testing.T) {
	fake := &fakeStore{}
	reg := newRegistry(t, map[string]pluginregistry.VectorCompatFactory{
		"fake": func() compat.VectorStore { return fake },
	}, map[string]VectorStoreManifestDoc{
		"docs": {ID: "docs", Kind: "fake"},
	})
	mgr := &Manager{Registry: reg}
	store, err := mgr.Open(context.Background(), "docs")
	require.NoError(t, err)

	err = store.CreateCollection(context.Background(), "articles", 1536, nil)
	require.Error(t, err)
	assert.Equal(t, spec.ErrValidation, spec.KindOf(err))
}

func TestStoreDeleteByIDsRemovesMatchingPoints(t *testing.T) {
	fake := &fakeStore{}
	reg := newRegistry(t, map[string]pluginregistry.VectorCompatFactory{
		"fake": func() compat.VectorStore { return fake },
	}, map[string]VectorStoreManifestDoc{
		"docs": {ID: "docs", Kind: "fake", DefaultCollection: "articles"},
	})
	mgr := &Manager{Registry: reg}
	store, err := mgr.Open(context.Background(), "docs")
	require.NoError(t, err)

	require.NoError(t, store.Upsert(context.Background(), "", []spec.VectorPoint{
		{ID: "a", Vector: []float32{1}},
		{ID: "b", Vector: []float32{2}},
	}))
	require.NoError(t, store.DeleteByIDs(context.Background(), "", []string{"a"}))

	results, err := store.Query(context.Background(), "", []float32{1}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}
