// Package convert provides type conversion utilities.
package convert

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Float64 converts various numeric representations to float64.
// The second return value reports whether the conversion succeeded;
// NaN and Inf count as failures so callers can fall back to a default
// instead of propagating them.
func Float64(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		return t, finite(t)
	case float32:
		return float64(t), finite(float64(t))
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil && finite(f)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil && finite(f)
	default:
		return 0, false
	}
}

// Bool converts loose boolean representations ("true"/"false" strings
// included) to bool.
func Bool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	default:
		return false, false
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
