package params

import (
	"math"

	"github.com/shopspring/decimal"
)

// Tolerance describes when two parameter values are considered equal.
type Tolerance struct {
	Absolute float64
	Relative float64
}

// DefaultTolerance matches the float32 precision flight controllers store
// parameters with.
var DefaultTolerance = Tolerance{Absolute: 1e-6, Relative: 1e-6}

// Equal reports whether a and b are within tolerance. The comparison scales
// with the larger magnitude, so Equal(a, b) == Equal(b, a).
func (t Tolerance) Equal(a, b float64) bool {
	if a == b {
		return true
	}
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	diff := math.Abs(a - b)
	return diff <= t.Absolute+t.Relative*math.Max(math.Abs(a), math.Abs(b))
}

// WithinTolerance compares using DefaultTolerance.
func WithinTolerance(a, b float64) bool {
	return DefaultTolerance.Equal(a, b)
}

// FormatValue renders a parameter value the way step files store it: at most
// six decimals, trailing zeros trimmed.
func FormatValue(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "nan"
	}
	return decimal.NewFromFloat(v).Round(6).String()
}
