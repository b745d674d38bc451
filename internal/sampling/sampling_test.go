package sampling

import (
	"math"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestStratifiedOneDepthPerBin(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	ts := Stratified(2.0, 6.0, 4, rng)
	if len(ts) != 4 {
		t.Fatalf("unexpected sample count: got=%d want=%d", len(ts), 4)
	}

	bins := [][2]float64{{2, 3}, {3, 4}, {4, 5}, {5, 6}}
	for i, tc := range bins {
		if ts[i] < tc[0] || ts[i] >= tc[1] {
			t.Fatalf("depth %d outside bin [%f,%f): got=%f", i, tc[0], tc[1], ts[i])
		}
	}
	for i := 1; i < len(ts); i++ {
		if ts[i] <= ts[i-1] {
			t.Fatalf("depths not ascending at %d: %f <= %f", i, ts[i], ts[i-1])
		}
	}
}

func TestStratifiedDeterministicPerSeed(t *testing.T) {
	first := Stratified(0.5, 3.5, 16, rand.New(rand.NewSource(42)))
	second := Stratified(0.5, 3.5, 16, rand.New(rand.NewSource(42)))

	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("unexpected depth %d: got=%f want=%f", i, second[i], first[i])
		}
	}
}

func TestStratifiedNonPositiveCount(t *testing.T) {
	if ts := Stratified(2, 6, 0, rand.New(rand.NewSource(1))); ts != nil {
		t.Fatalf("expected no samples, got %v", ts)
	}
}

func TestImportanceAllZeroWeightsMatchesUniform(t *testing.T) {
	coarse := Stratified(2.0, 6.0, 8, rand.New(rand.NewSource(3)))
	weights := make([]float64, len(coarse))

	got := Importance(2.0, 6.0, coarse, weights, 8, rand.New(rand.NewSource(11)))
	want := Stratified(2.0, 6.0, 8, rand.New(rand.NewSource(11)))

	if len(got) != len(want) {
		t.Fatalf("unexpected sample count: got=%d want=%d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected depth %d: got=%f want=%f", i, got[i], want[i])
		}
	}
}

func TestImportanceConcentratesOnDominantWeight(t *testing.T) {
	coarse := []float64{2.5, 3.5, 4.5, 5.5}
	weights := []float64{0, 0, 1, 0}

	ts := Importance(2.0, 6.0, coarse, weights, 32, rand.New(rand.NewSource(5)))
	if len(ts) != 32 {
		t.Fatalf("unexpected sample count: got=%d want=%d", len(ts), 32)
	}

	// All mass sits on the third sample, whose bin spans the midpoints
	// around depth 4.5.
	for i, depth := range ts {
		if depth < 4.0 || depth > 5.0 {
			t.Fatalf("depth %d outside dominant bin [4,5]: got=%f", i, depth)
		}
	}
}

func TestImportanceDepthsAscendingWithinBounds(t *testing.T) {
	coarse := []float64{2.2, 3.1, 4.4, 5.9}
	weights := []float64{0.1, 0.6, 0.25, 0.05}

	ts := Importance(2.0, 6.0, coarse, weights, 64, rand.New(rand.NewSource(9)))
	for i, depth := range ts {
		if depth < 2.0 || depth > 6.0 {
			t.Fatalf("depth %d outside bounds: got=%f", i, depth)
		}
		if i > 0 && depth < ts[i-1] {
			t.Fatalf("depths not ascending at %d: %f < %f", i, depth, ts[i-1])
		}
	}
}

func TestImportanceIgnoresNegativeWeightNoise(t *testing.T) {
	coarse := []float64{2.5, 3.5, 4.5, 5.5}
	weights := []float64{-1e-14, 1, -1e-14, 0}

	ts := Importance(2.0, 6.0, coarse, weights, 16, rand.New(rand.NewSource(13)))
	for i, depth := range ts {
		if depth < 3.0 || depth > 4.0 {
			t.Fatalf("depth %d outside dominant bin [3,4]: got=%f", i, depth)
		}
	}
}

func TestMergeKeepsAscendingOrder(t *testing.T) {
	a := []float64{2.1, 3.0, 4.8}
	b := []float64{2.5, 2.6, 5.2, 5.9}

	merged := Merge(a, b)
	if len(merged) != len(a)+len(b) {
		t.Fatalf("unexpected merged length: got=%d want=%d", len(merged), len(a)+len(b))
	}
	for i := 1; i < len(merged); i++ {
		if merged[i] < merged[i-1] {
			t.Fatalf("merged depths not ascending at %d: %f < %f", i, merged[i], merged[i-1])
		}
	}
}

func TestRayAt(t *testing.T) {
	ray := Ray{
		Origin: mgl64.Vec3{1, 2, 3},
		Dir:    mgl64.Vec3{0, 0, -2},
		Near:   2,
		Far:    6,
	}

	at := ray.At(1.5)
	want := mgl64.Vec3{1, 2, 0}
	for i := 0; i < 3; i++ {
		if math.Abs(at[i]-want[i]) > 1e-12 {
			t.Fatalf("unexpected position component %d: got=%f want=%f", i, at[i], want[i])
		}
	}

	unit := ray.UnitDir()
	if math.Abs(unit.Len()-1) > 1e-12 {
		t.Fatalf("unexpected unit direction length: got=%f", unit.Len())
	}
}
