package resolver

import (
	"fmt"
)

// MergeOptions lays user overrides over a default option map and returns a
// fresh map. Keys present in the defaults are type-checked against the
// default's value type; unknown keys pass through untouched, since most
// options are opaque to the engine and owned by the solver. Nested maps
// merge recursively rather than replacing wholesale.
func MergeOptions(defaults, overrides map[string]any, where string) (map[string]any, error) {
	merged := deepCopy(defaults)
	for key, val := range overrides {
		def, known := merged[key]
		if !known {
			merged[key] = deepCopyValue(val)
			continue
		}
		defMap, defIsMap := def.(map[string]any)
		valMap, valIsMap := val.(map[string]any)
		if defIsMap && valIsMap {
			sub, err := MergeOptions(defMap, valMap, where+"."+key)
			if err != nil {
				return nil, err
			}
			merged[key] = sub
			continue
		}
		coerced, err := coerce(def, val)
		if err != nil {
			return nil, errf(where, "option %q: %v", key, err)
		}
		merged[key] = coerced
	}
	return merged, nil
}

// coerce checks an override value against the default's type. Numeric
// values are interchangeable between int and float since YAML does not
// distinguish reliably; everything else must match kind for kind.
func coerce(def, val any) (any, error) {
	switch def.(type) {
	case bool:
		if v, ok := val.(bool); ok {
			return v, nil
		}
		return nil, fmt.Errorf("expected bool, got %T", val)
	case string:
		if v, ok := val.(string); ok {
			return v, nil
		}
		return nil, fmt.Errorf("expected string, got %T", val)
	case int:
		switch v := val.(type) {
		case int:
			return v, nil
		case float64:
			if v == float64(int(v)) {
				return int(v), nil
			}
			return nil, fmt.Errorf("expected integer, got %v", v)
		}
		return nil, fmt.Errorf("expected integer, got %T", val)
	case float64:
		switch v := val.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		}
		return nil, fmt.Errorf("expected number, got %T", val)
	case []any:
		if v, ok := val.([]any); ok {
			return deepCopyValue(v), nil
		}
		return nil, fmt.Errorf("expected list, got %T", val)
	case map[string]any:
		return nil, fmt.Errorf("expected mapping, got %T", val)
	default:
		// Defaults only contain the kinds above; anything else is opaque.
		return deepCopyValue(val), nil
	}
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopy(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
