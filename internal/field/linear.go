package field

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"aktis/internal/model"
)

// linear is one fully-connected layer computing y = x*W + b over row batches.
type linear struct {
	w *mat.Dense // in x out
	b []float64  // out
}

// newLinear draws Xavier-uniform weights from the supplied source and zeroes
// the bias.
func newLinear(in, out int, rng *rand.Rand) *linear {
	limit := math.Sqrt(6.0 / float64(in+out))
	data := make([]float64, in*out)
	for i := range data {
		data[i] = (2*rng.Float64() - 1) * limit
	}
	return &linear{w: mat.NewDense(in, out, data), b: make([]float64, out)}
}

func (l *linear) forward(x *mat.Dense) *mat.Dense {
	rows, _ := x.Dims()
	var y mat.Dense
	y.Mul(x, l.w)
	for r := 0; r < rows; r++ {
		floats.Add(y.RawRowView(r), l.b)
	}
	return &y
}

// backward accumulates dW = x^T*dy and db = column sums of dy into g, and
// returns dx = dy*W^T for the layer below.
func (l *linear) backward(x, dy *mat.Dense, g *linearGrad) *mat.Dense {
	var dw mat.Dense
	dw.Mul(x.T(), dy)
	g.w.Add(g.w, &dw)

	rows, _ := dy.Dims()
	for r := 0; r < rows; r++ {
		floats.Add(g.b, dy.RawRowView(r))
	}

	var dx mat.Dense
	dx.Mul(dy, l.w.T())
	return &dx
}

func (l *linear) clone() *linear {
	return &linear{
		w: mat.DenseCopyOf(l.w),
		b: append([]float64(nil), l.b...),
	}
}

func (l *linear) snapshot() model.LayerSnapshot {
	in, out := l.w.Dims()
	return model.LayerSnapshot{
		In:      in,
		Out:     out,
		Weights: append([]float64(nil), l.w.RawMatrix().Data...),
		Bias:    append([]float64(nil), l.b...),
	}
}

func (l *linear) restore(snap model.LayerSnapshot) error {
	in, out := l.w.Dims()
	if snap.In != in || snap.Out != out {
		return fmt.Errorf("shape mismatch: got=%dx%d want=%dx%d", snap.In, snap.Out, in, out)
	}
	if len(snap.Weights) != in*out {
		return fmt.Errorf("weight count mismatch: got=%d want=%d", len(snap.Weights), in*out)
	}
	if len(snap.Bias) != out {
		return fmt.Errorf("bias count mismatch: got=%d want=%d", len(snap.Bias), out)
	}
	copy(l.w.RawMatrix().Data, snap.Weights)
	copy(l.b, snap.Bias)
	return nil
}

// linearGrad mirrors a linear layer's parameter shapes.
type linearGrad struct {
	w *mat.Dense
	b []float64
}

func newLinearGrad(l *linear) linearGrad {
	in, out := l.w.Dims()
	return linearGrad{w: mat.NewDense(in, out, nil), b: make([]float64, out)}
}

func (g *linearGrad) add(other linearGrad) {
	g.w.Add(g.w, other.w)
	floats.Add(g.b, other.b)
}

func (g *linearGrad) reset() {
	g.w.Zero()
	for i := range g.b {
		g.b[i] = 0
	}
}
