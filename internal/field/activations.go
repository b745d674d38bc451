package field

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// reluOf rectifies pre elementwise into a fresh matrix.
func reluOf(pre *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	}, pre)
	return &out
}

// maskReLU zeroes gradient entries whose pre-activation was not positive.
func maskReLU(d, pre *mat.Dense) {
	rows, cols := d.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if pre.At(r, c) <= 0 {
				d.Set(r, c, 0)
			}
		}
	}
}

// sigmoidOf squashes pre elementwise into (0, 1).
func sigmoidOf(pre *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 {
		return 1 / (1 + math.Exp(-v))
	}, pre)
	return &out
}

// maskSigmoid scales gradient entries by s*(1-s), where s is the stored
// sigmoid output.
func maskSigmoid(d, s *mat.Dense) {
	rows, cols := d.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := s.At(r, c)
			d.Set(r, c, d.At(r, c)*v*(1-v))
		}
	}
}
