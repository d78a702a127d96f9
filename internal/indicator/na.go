// Package indicator holds pure volatility and trend calculations over price data.
// Missing values are reported as NA (NaN) rather than errors so callers decide
// whether to skip.
package indicator

import "math"

// NA marks a value that could not be computed
var NA = math.NaN()

// IsNA reports whether v is the NA marker
func IsNA(v float64) bool {
	return math.IsNaN(v)
}

func naSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = NA
	}
	return out
}
