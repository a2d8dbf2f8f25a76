package snapshot

import (
	"math"
	"sort"
)

// Percentile computes the p-th percentile of values using the ceiling-index
// definition idx = ceil(p/100 * n) - 1, clamped to [0, n-1] (§4.7). Pure:
// the same input multiset always produces the same output, and values is
// never mutated.
func Percentile(values []float64, p float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}
