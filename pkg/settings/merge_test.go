package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeIdentity(t *testing.T) {
	base := map[string]any{"a": 1, "nested": map[string]any{"x": 1}}
	out := Merge(base, nil)
	require.Equal(t, base, out)

	// Must be a copy, not the same map.
	out["a"] = 2
	assert.Equal(t, 1, base["a"])
}

func TestMergeAssociative(t *testing.T) {
	g := map[string]any{"nested": map[string]any{"x": 1, "y": 1}}
	a := map[string]any{"nested": map[string]any{"y": 2}}
	b := map[string]any{"nested": map[string]any{"z": 3}}

	left := Merge(Merge(g, a), b)
	right := Merge(g, Merge(a, b))
	assert.Equal(t, left, right)
	assert.Equal(t, map[string]any{"x": 1, "y": 2, "z": 3}, left["nested"])
}

func TestMergeArraysOverwrite(t *testing.T) {
	base := map[string]any{"stop": []any{"a", "b"}}
	override := map[string]any{"stop": []any{"c"}}
	out := Merge(base, override)
	assert.Equal(t, []any{"c"}, out["stop"])
}

func TestPartitionDisjointUnion(t *testing.T) {
	bag := map[string]any{
		"temperature":       0.5,
		"maxToolIterations": 3,
		"customExtra":       "x",
		"dropped":           nil,
	}
	p := Partition(bag)
	assert.Equal(t, 0.5, p.Provider["temperature"])
	assert.Equal(t, 3, p.Runtime.MaxToolIterations)
	assert.Equal(t, "x", p.Extras["customExtra"])
	_, hasDropped := p.Extras["dropped"]
	assert.False(t, hasDropped)
}

func TestResolveForEntryOverridesThenPartitions(t *testing.T) {
	global := map[string]any{"temperature": 0.2}
	override := map[string]any{"temperature": 0.9, "maxToolIterations": 1}
	p := ResolveForEntry(global, override)
	assert.Equal(t, 0.9, p.Provider["temperature"])
	assert.Equal(t, 1, p.Runtime.MaxToolIterations)
}

func TestParsePreserveSpec(t *testing.T) {
	assert.True(t, ParsePreserveSpec("all").All)
	assert.True(t, ParsePreserveSpec("none").None)
	assert.Equal(t, 5, ParsePreserveSpec(5).Count)
	assert.Equal(t, 5, ParsePreserveSpec(float64(5)).Count)
}
