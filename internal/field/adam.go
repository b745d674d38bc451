package field

import "math"

// Adam applies the Adam update rule with bias-corrected first and second
// moment estimates. It mutates the field's parameter buffers in place, so a
// single optimizer must own the field for the duration of a run.
type Adam struct {
	beta1 float64
	beta2 float64
	eps   float64

	m [][]float64
	v [][]float64
	t int
}

// NewAdam sizes moment buffers for every parameter tensor of f.
func NewAdam(f *Field) *Adam {
	a := &Adam{beta1: 0.9, beta2: 0.999, eps: 1e-8}
	for _, p := range f.paramSlices() {
		a.m = append(a.m, make([]float64, len(p)))
		a.v = append(a.v, make([]float64, len(p)))
	}
	return a
}

// Step applies one update at the given learning rate using the gradients
// accumulated in g.
func (a *Adam) Step(lr float64, f *Field, g *Grads) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))

	grads := g.slices()
	for i, p := range f.paramSlices() {
		gi := grads[i]
		mi := a.m[i]
		vi := a.v[i]
		for j := range p {
			gj := gi[j]
			mi[j] = a.beta1*mi[j] + (1-a.beta1)*gj
			vi[j] = a.beta2*vi[j] + (1-a.beta2)*gj*gj
			p[j] -= lr * (mi[j] / c1) / (math.Sqrt(vi[j]/c2) + a.eps)
		}
	}
}
