package encoding

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Encoder lifts low-dimensional points into a sinusoidal feature basis so the
// radiance field can represent high-frequency detail. Each input component v
// contributes the raw value followed by sin(2^k*pi*v) and cos(2^k*pi*v) for
// every octave k below the configured frequency count.
type Encoder struct {
	frequencies int
}

func New(frequencies int) (Encoder, error) {
	if frequencies <= 0 {
		return Encoder{}, fmt.Errorf("frequency count must be > 0")
	}
	return Encoder{frequencies: frequencies}, nil
}

func (e Encoder) Frequencies() int {
	return e.frequencies
}

// Width reports the encoded width produced for rows of the given input width.
func (e Encoder) Width(inputWidth int) int {
	return inputWidth * (2*e.frequencies + 1)
}

// Encode expands every row of points into its sinusoidal features. The output
// layout per row is the raw components first, then a sin block and a cos block
// per octave in ascending octave order. Encode is a pure function: equal
// inputs always produce equal outputs.
func (e Encoder) Encode(points *mat.Dense) *mat.Dense {
	rows, cols := points.Dims()
	out := mat.NewDense(rows, e.Width(cols), nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := points.At(r, c)
			out.Set(r, c, v)
			for k := 0; k < e.frequencies; k++ {
				arg := math.Exp2(float64(k)) * math.Pi * v
				base := cols + 2*k*cols
				out.Set(r, base+c, math.Sin(arg))
				out.Set(r, base+cols+c, math.Cos(arg))
			}
		}
	}
	return out
}
