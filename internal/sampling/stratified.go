package sampling

import "math/rand"

// Stratified partitions [near, far] into count equal-width bins and draws one
// depth uniformly inside each bin. The result is ascending by construction.
func Stratified(near, far float64, count int, rng *rand.Rand) []float64 {
	if count <= 0 {
		return nil
	}

	width := (far - near) / float64(count)
	ts := make([]float64, count)
	for i := range ts {
		ts[i] = near + (float64(i)+rng.Float64())*width
	}
	return ts
}

// Merge interleaves two ascending depth slices into one ascending slice, so
// compositing can proceed front to back over the union of both sample sets.
func Merge(a, b []float64) []float64 {
	merged := make([]float64, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			merged = append(merged, a[i])
			i++
		} else {
			merged = append(merged, b[j])
			j++
		}
	}
	merged = append(merged, a[i:]...)
	merged = append(merged, b[j:]...)
	return merged
}
