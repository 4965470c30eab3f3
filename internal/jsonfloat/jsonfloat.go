// Package jsonfloat encodes float64 values that may be NaN or infinite.
//
// encoding/json refuses non-finite numbers, so a diverged training run
// would otherwise be impossible to persist. Float writes them as null and
// reads null, "NaN", "Infinity" and "-Infinity" back.
package jsonfloat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

var null = []byte("null")

// Float is a float64 that survives a JSON round trip when non-finite.
// Null decodes as NaN, so the sign of an infinity is lost.
type Float float64

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return null, nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Float) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, null) {
		*f = Float(math.NaN())
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		switch s {
		case "NaN":
			*f = Float(math.NaN())
		case "Infinity", "+Infinity":
			*f = Float(math.Inf(1))
		case "-Infinity":
			*f = Float(math.Inf(-1))
		default:
			return fmt.Errorf("invalid float %q", s)
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// Slice converts values for encoding.
func Slice(values []float64) []Float {
	if values == nil {
		return nil
	}
	out := make([]Float, len(values))
	for i, v := range values {
		out[i] = Float(v)
	}
	return out
}

// Float64s converts decoded values back.
func Float64s(values []Float) []float64 {
	if values == nil {
		return nil
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}

// Map converts a metric map for encoding.
func Map(values map[string]float64) map[string]Float {
	if values == nil {
		return nil
	}
	out := make(map[string]Float, len(values))
	for k, v := range values {
		out[k] = Float(v)
	}
	return out
}

// Float64Map converts a decoded metric map back.
func Float64Map(values map[string]Float) map[string]float64 {
	if values == nil {
		return nil
	}
	out := make(map[string]float64, len(values))
	for k, v := range values {
		out[k] = float64(v)
	}
	return out
}
