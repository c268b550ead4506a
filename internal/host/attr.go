package host

import (
	"github.com/roach88/scenebridge/internal/scene"
)

// Typed attribute lookups. A failed or mistyped lookup yields the given
// default; attribute failures never abort a walk.

// Bool reads a boolean attribute.
func Bool(s LiveScene, id scene.NodeID, name string, def bool) bool {
	v, err := s.QueryAttribute(id, name)
	if err != nil {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case int:
		return b != 0
	}
	return def
}

// Int reads an integer attribute.
func Int(s LiveScene, id scene.NodeID, name string, def int) int {
	v, err := s.QueryAttribute(id, name)
	if err != nil {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

// String reads a string attribute.
func String(s LiveScene, id scene.NodeID, name, def string) string {
	v, err := s.QueryAttribute(id, name)
	if err != nil {
		return def
	}
	if str, ok := v.(string); ok {
		return str
	}
	return def
}

// Strings reads a string-list attribute. ok is false when the attribute is
// absent or not a list, which callers must distinguish from an empty list.
func Strings(s LiveScene, id scene.NodeID, name string) (vals []string, ok bool) {
	v, err := s.QueryAttribute(id, name)
	if err != nil {
		return nil, false
	}
	switch list := v.(type) {
	case []string:
		return append([]string{}, list...), true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			str, isStr := item.(string)
			if !isStr {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

// Float3s reads a per-element vector attribute such as rgbPP.
func Float3s(s LiveScene, id scene.NodeID, name string) ([][3]float64, bool) {
	v, err := s.QueryAttribute(id, name)
	if err != nil {
		return nil, false
	}
	switch list := v.(type) {
	case [][3]float64:
		return append([][3]float64{}, list...), true
	case []any:
		out := make([][3]float64, 0, len(list))
		for _, item := range list {
			vec, ok := toFloat3(item)
			if !ok {
				return nil, false
			}
			out = append(out, vec)
		}
		return out, true
	}
	return nil, false
}

func toFloat3(v any) ([3]float64, bool) {
	var out [3]float64
	switch vals := v.(type) {
	case [3]float64:
		return vals, true
	case []float64:
		if len(vals) != 3 {
			return out, false
		}
		copy(out[:], vals)
		return out, true
	case []any:
		if len(vals) != 3 {
			return out, false
		}
		for i, x := range vals {
			f, ok := toFloat(x)
			if !ok {
				return out, false
			}
			out[i] = f
		}
		return out, true
	}
	return out, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
