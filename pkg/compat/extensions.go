package compat

import (
	"fmt"

	"github.com/jfcostello/llm-coordinator/pkg/settings"
)

// ValueType is the declared type of a payload extension's value (§4.4).
type ValueType string

const (
	ValueObject  ValueType = "object"
	ValueArray   ValueType = "array"
	ValueString  ValueType = "string"
	ValueNumber  ValueType = "number"
	ValueBoolean ValueType = "boolean"
	ValueAny     ValueType = "any"
)

// MergeStrategy controls how an extension's value combines with whatever
// already sits at its target path.
type MergeStrategy string

const (
	MergeReplace MergeStrategy = "replace"
	MergeDeep    MergeStrategy = "merge"
)

// Extension is one typed injection point declared by a provider manifest's
// payloadExtensions (§3, §4.4).
type Extension struct {
	Name          string
	SettingsKey   string
	TargetPath    []string
	ValueType     ValueType
	MergeStrategy MergeStrategy
	Default       any
	Required      bool
}

// ApplyExtensions consumes one key at a time from extras, validates and
// merges each declared extension into payload, and returns the extras map
// with consumed keys removed. Remaining extras are untouched so the
// compat's ApplyProviderExtensions can still use them.
func ApplyExtensions(payload map[string]any, extras map[string]any, exts []Extension) (map[string]any, error) {
	remaining := make(map[string]any, len(extras))
	for k, v := range extras {
		remaining[k] = v
	}

	for _, ext := range exts {
		value, present := remaining[ext.SettingsKey]
		if !present {
			if ext.Required {
				return nil, fmt.Errorf("payload extension %q requires settings key %q", ext.Name, ext.SettingsKey)
			}
			if ext.Default == nil {
				continue
			}
			value = ext.Default
		} else {
			delete(remaining, ext.SettingsKey)
			if ext.Default != nil {
				if defMap, ok := ext.Default.(map[string]any); ok {
					if valMap, ok := value.(map[string]any); ok {
						value = settings.Merge(defMap, valMap)
					}
				}
			}
		}

		if err := validateValueType(value, ext.ValueType); err != nil {
			return nil, fmt.Errorf("payload extension %q: %w", ext.Name, err)
		}

		setAtPath(payload, ext.TargetPath, value, ext.MergeStrategy)
	}

	return remaining, nil
}

func validateValueType(v any, want ValueType) error {
	if want == "" || want == ValueAny {
		return nil
	}
	switch want {
	case ValueObject:
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("expected object, got %T", v)
		}
	case ValueArray:
		if _, ok := v.([]any); !ok {
			return fmt.Errorf("expected array, got %T", v)
		}
	case ValueString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
	case ValueNumber:
		switch v.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("expected number, got %T", v)
		}
	case ValueBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", v)
		}
	}
	return nil
}

// setAtPath writes value at the dotted target path inside payload,
// creating intermediate objects as needed. When mergeStrategy is
// MergeDeep and both the existing value and the new value are maps, they
// are recursively merged; otherwise (replace, or a non-map target) the
// value overwrites.
func setAtPath(payload map[string]any, path []string, value any, strategy MergeStrategy) {
	if len(path) == 0 {
		return
	}
	cur := payload
	for i, segment := range path {
		last := i == len(path)-1
		if last {
			if strategy == MergeDeep {
				if existing, ok := cur[segment].(map[string]any); ok {
					if incoming, ok := value.(map[string]any); ok {
						cur[segment] = settings.Merge(existing, incoming)
						return
					}
				}
			}
			cur[segment] = value
			return
		}
		next, ok := cur[segment].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[segment] = next
		}
		cur = next
	}
}
