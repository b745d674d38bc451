package sampling

import (
	"math/rand"
	"sort"
)

// minTotalWeight is the threshold below which a coarse weight distribution is
// treated as empty and importance sampling falls back to uniform placement.
const minTotalWeight = 1e-10

// Importance draws count depths from the piecewise-constant distribution the
// coarse pass induced over [near, far]. Each coarse depth owns the interval
// between the midpoints to its neighbors (widened to near and far at the
// ends), weighted by the compositing weight of that sample; draws use
// inverse-transform sampling through the cumulative distribution, stratified
// so successive draws sweep the whole mass. Rays whose coarse weights are all
// (near) zero carry no signal about where density lives, so they degrade to
// plain stratified sampling over [near, far].
func Importance(near, far float64, coarse, weights []float64, count int, rng *rand.Rand) []float64 {
	if count <= 0 || len(coarse) == 0 {
		return nil
	}

	total := 0.0
	mass := make([]float64, len(coarse))
	for i, w := range weights {
		if w > 0 {
			mass[i] = w
			total += w
		}
	}
	if total < minTotalWeight {
		return Stratified(near, far, count, rng)
	}

	edges := binEdges(near, far, coarse)
	cdf := make([]float64, len(mass)+1)
	for i, m := range mass {
		cdf[i+1] = cdf[i] + m/total
	}
	cdf[len(mass)] = 1

	ts := make([]float64, count)
	for j := range ts {
		u := (float64(j) + rng.Float64()) / float64(count)
		// Largest bin whose cumulative mass is <= u; zero-mass bins are
		// skipped because no u lands strictly inside them.
		bin := sort.Search(len(cdf), func(i int) bool { return cdf[i] > u }) - 1
		span := cdf[bin+1] - cdf[bin]
		frac := 0.0
		if span > 0 {
			frac = (u - cdf[bin]) / span
		}
		ts[j] = edges[bin] + frac*(edges[bin+1]-edges[bin])
	}
	return ts
}

func binEdges(near, far float64, coarse []float64) []float64 {
	edges := make([]float64, len(coarse)+1)
	edges[0] = near
	for i := 1; i < len(coarse); i++ {
		edges[i] = 0.5 * (coarse[i-1] + coarse[i])
	}
	edges[len(coarse)] = far
	return edges
}
