package rag

import (
	"testing"

	"github.com/jfcostello/llm-coordinator/pkg/spec"
	"github.com/stretchr/testify/require"
)

func TestBuildToolDefinitionOmitsLockedFields(t *testing.T) {
	locks := spec.VectorSearchLocks{Store: "docs"}
	def, _, err := BuildToolDefinition("", "", locks, nil)
	require.NoError(t, err)
	props := def.Parameters["properties"].(map[string]any)
	require.Contains(t, props, "query")
	require.NotContains(t, props, "store")
	require.Contains(t, props, "topK")
}

func TestBuildToolDefinitionAppliesAlias(t *testing.T) {
	overrides := map[string]map[string]string{"params": {"query": "q"}}
	def, am, err := BuildToolDefinition("", "", spec.VectorSearchLocks{}, overrides)
	require.NoError(t, err)
	props := def.Parameters["properties"].(map[string]any)
	require.Contains(t, props, "q")
	require.NotContains(t, props, "query")
	require.Equal(t, "query", am.canonical["q"])
}

func TestBuildToolDefinitionRejectsAliasCollision(t *testing.T) {
	overrides := map[string]map[string]string{"params": {"query": "topK", "topK": "topK"}}
	_, _, err := BuildToolDefinition("", "", spec.VectorSearchLocks{}, overrides)
	require.Error(t, err)
}

func TestResolveArgsPriorityChain(t *testing.T) {
	cfg := &spec.VectorContextConfig{TopK: 3, Stores: []string{"default-store"}}
	lockedTopK := 1
	locks := spec.VectorSearchLocks{TopK: &lockedTopK}
	am, err := buildAliasMap(nil)
	require.NoError(t, err)

	raw := map[string]any{"query": "hello", "topK": float64(7), "store": "caller-store"}
	args := ResolveArgs(raw, am, locks, cfg)

	require.Equal(t, "hello", args.Query)
	require.Equal(t, 1, args.TopK, "lock wins over caller arg and config default")
	require.Equal(t, "caller-store", args.Store, "caller arg wins over config default when unlocked")
}
