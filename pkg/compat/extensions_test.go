package compat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyExtensionsDefaultMergedThenOverlaid(t *testing.T) {
	payload := map[string]any{}
	extras := map[string]any{
		"thinking": map[string]any{"budget": 2048},
	}
	exts := []Extension{
		{
			Name:          "thinking",
			SettingsKey:   "thinking",
			TargetPath:    []string{"extra_body", "thinking"},
			ValueType:     ValueObject,
			MergeStrategy: MergeDeep,
			Default:       map[string]any{"type": "enabled", "budget": 1024},
		},
	}
	remaining, err := ApplyExtensions(payload, extras, exts)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	got := payload["extra_body"].(map[string]any)["thinking"].(map[string]any)
	assert.Equal(t, "enabled", got["type"])
	assert.Equal(t, 2048, got["budget"])
}

func TestApplyExtensionsRequiredMissingFails(t *testing.T) {
	exts := []Extension{{Name: "x", SettingsKey: "x", Required: true, TargetPath: []string{"x"}}}
	_, err := ApplyExtensions(map[string]any{}, map[string]any{}, exts)
	require.Error(t, err)
}

func TestApplyExtensionsWrongTypeFails(t *testing.T) {
	exts := []Extension{{Name: "x", SettingsKey: "x", ValueType: ValueString, TargetPath: []string{"x"}}}
	_, err := ApplyExtensions(map[string]any{}, map[string]any{"x": 5}, exts)
	require.Error(t, err)
}

func TestApplyExtensionsLeavesUnconsumedExtras(t *testing.T) {
	exts := []Extension{{Name: "x", SettingsKey: "x", TargetPath: []string{"x"}, MergeStrategy: MergeReplace}}
	remaining, err := ApplyExtensions(map[string]any{}, map[string]any{"x": 1, "y": 2}, exts)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"y": 2}, remaining)
}
