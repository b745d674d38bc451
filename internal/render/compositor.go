package render

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// lastDelta stands in for the unbounded segment behind the final sample,
	// so any nonzero density there absorbs the remaining transmittance.
	lastDelta = 1e10

	// maxOpticalDepth caps density*delta before exponentiation. Beyond it the
	// segment is fully opaque anyway and the uncapped product can reach Inf.
	maxOpticalDepth = 1e4
)

// Result is one composited ray: the predicted pixel color plus the expected
// depth, the accumulated opacity, and the per-sample weights the importance
// pass resamples from.
type Result struct {
	Color   [3]float64
	Depth   float64
	Opacity float64
	Weights []float64
}

// Composite integrates density and color samples along a ray front to back.
// Depths must be ascending and colors holds one RGB row per sample. Each
// sample occupies the segment up to the next depth; alpha is 1-exp(-density*
// delta) and the weight is alpha times the transmittance surviving all
// earlier segments. Rays whose weights vanish everywhere composite to the
// zero background color.
func Composite(ts, density []float64, colors *mat.Dense) Result {
	res := Result{Weights: make([]float64, len(ts))}
	transmittance := 1.0
	for i := range ts {
		s := opticalDepth(ts, density, i)
		alpha := -math.Expm1(-s)
		weight := transmittance * alpha

		res.Weights[i] = weight
		for c := 0; c < 3; c++ {
			res.Color[c] += weight * colors.At(i, c)
		}
		res.Depth += weight * ts[i]
		res.Opacity += weight

		transmittance *= math.Exp(-s)
	}
	return res
}

// CompositeBackward propagates the loss gradient on the composited color back
// to the per-sample densities and colors. It recomputes the forward
// transmittance chain from the same inputs, so the gradients correspond
// exactly to what Composite produced.
func CompositeBackward(ts, density []float64, colors *mat.Dense, dColor [3]float64) (dDensity []float64, dColors *mat.Dense) {
	n := len(ts)
	dDensity = make([]float64, n)
	dColors = mat.NewDense(n, 3, nil)
	if n == 0 {
		return dDensity, dColors
	}

	weights := make([]float64, n)
	trans := make([]float64, n+1)
	trans[0] = 1
	for i := 0; i < n; i++ {
		s := opticalDepth(ts, density, i)
		trans[i+1] = trans[i] * math.Exp(-s)
		weights[i] = trans[i] * -math.Expm1(-s)
	}

	// contrib[k] = dColor . colors[k]; suffix[k] = sum over later samples of
	// weight*contrib. d(loss)/d(opticalDepth_k) = trans[k+1]*contrib[k] -
	// suffix[k]: raising a sample's optical depth feeds its own weight from
	// the surviving transmittance and starves every sample behind it.
	contrib := make([]float64, n)
	for i := 0; i < n; i++ {
		for c := 0; c < 3; c++ {
			contrib[i] += dColor[c] * colors.At(i, c)
			dColors.Set(i, c, weights[i]*dColor[c])
		}
	}

	suffix := 0.0
	for k := n - 1; k >= 0; k-- {
		delta := segmentDelta(ts, k)
		if density[k]*delta < maxOpticalDepth {
			dDensity[k] = delta * (trans[k+1]*contrib[k] - suffix)
		}
		suffix += weights[k] * contrib[k]
	}
	return dDensity, dColors
}

func opticalDepth(ts, density []float64, i int) float64 {
	s := density[i] * segmentDelta(ts, i)
	if s > maxOpticalDepth {
		return maxOpticalDepth
	}
	return s
}

func segmentDelta(ts []float64, i int) float64 {
	if i == len(ts)-1 {
		return lastDelta
	}
	return ts[i+1] - ts[i]
}
