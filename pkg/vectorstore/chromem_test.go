package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

func TestChromemCompatUpsertAndQueryInMemory(t *testing.T) {
	c := &ChromemCompat{}
	require.NoError(t, c.Connect(context.Background(), map[string]any{}))
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Upsert(ctx, "articles", []spec.VectorPoint{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: map[string]any{"content": "hello"}},
		{ID: "b", Vector: []float32{0, 1, 0}, Payload: map[string]any{"content": "world"}},
	}))

	exists, err := c.CollectionExists(ctx, "articles")
	require.NoError(t, err)
	assert.True(t, exists)

	results, err := c.Query(ctx, "articles", []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].ID)

	require.NoError(t, c.DeleteByIDs(ctx, "articles", []string{"a"}))
	results, err = c.Query(ctx, "articles", []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID)
	}
}

func TestChromemCompatPersistsAcrossReconnect(t *testing.T) {
	dir := t.TempDir()

	first := &ChromemCompat{}
	require.NoError(t, first.Connect(context.Background(), map[string]any{"persistPath": dir}))
	require.NoError(t, first.Upsert(context.Background(), "articles", []spec.VectorPoint{
		{ID: "a", Vector: []float32{1, 0}, Payload: map[string]any{"content": "hello"}},
	}))
	require.NoError(t, first.Close())
	assert.FileExists(t, filepath.Join(dir, "vectors.gob"))

	second := &ChromemCompat{}
	require.NoError(t, second.Connect(context.Background(), map[string]any{"persistPath": dir}))
	defer second.Close()

	results, err := second.Query(context.Background(), "articles", []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}
