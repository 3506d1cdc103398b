// Package wire holds JSON helpers shared by values that cross process
// boundaries between coordinators and workers.
package wire

import (
	"fmt"
	"math"
	"strconv"

	"github.com/goccy/go-json"
)

const (
	posInf = "+Inf"
	negInf = "-Inf"
	nan    = "NaN"
)

// Float is a float64 whose JSON form also carries infinities and NaN.
// Finite values encode as JSON numbers; non-finite ones as the strings
// "+Inf", "-Inf" and "NaN".
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"` + nan + `"`), nil
	case math.IsInf(v, 1):
		return []byte(`"` + posInf + `"`), nil
	case math.IsInf(v, -1):
		return []byte(`"` + negInf + `"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *Float) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		switch s {
		case posInf:
			*f = Float(math.Inf(1))
		case negInf:
			*f = Float(math.Inf(-1))
		case nan:
			*f = Float(math.NaN())
		default:
			return fmt.Errorf("invalid float %q", s)
		}
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid float %s: %w", b, err)
	}
	*f = Float(v)
	return nil
}

// Floats converts values to their wire form.
func Floats(values []float64) []Float {
	if values == nil {
		return nil
	}
	out := make([]Float, len(values))
	for i, v := range values {
		out[i] = Float(v)
	}
	return out
}

// Float64s converts wire values back to float64.
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
