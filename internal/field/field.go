// Package field implements the radiance field network: a fully-connected
// trunk over encoded positions with a skip re-injection, a density head, and
// a view-dependent color head. Forward passes can capture the activation
// trace needed to push gradients back through every layer.
package field

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"aktis/internal/model"
)

// Config fixes the network architecture around the encoded feature widths.
type Config struct {
	// PositionWidth and DirectionWidth are the encoded input widths per
	// sample, including the raw components.
	PositionWidth  int
	DirectionWidth int
	// HiddenWidth is the trunk width; the color hidden layer uses half of it.
	HiddenWidth int
	// HiddenLayers is the trunk depth.
	HiddenLayers int
	// SkipLayer is the trunk index whose input is widened with the encoded
	// position.
	SkipLayer int
}

func (c Config) Validate() error {
	if c.PositionWidth <= 0 {
		return fmt.Errorf("position feature width must be > 0")
	}
	if c.DirectionWidth <= 0 {
		return fmt.Errorf("direction feature width must be > 0")
	}
	if c.HiddenWidth < 2 {
		return fmt.Errorf("hidden width must be >= 2")
	}
	if c.HiddenLayers < 2 {
		return fmt.Errorf("hidden layer count must be >= 2")
	}
	if c.SkipLayer < 1 || c.SkipLayer >= c.HiddenLayers {
		return fmt.Errorf("skip layer %d must fall strictly inside the trunk", c.SkipLayer)
	}
	return nil
}

// Field maps encoded positions and view directions to volume density and
// emitted color. Density depends on position alone; color additionally sees
// the encoded view direction.
type Field struct {
	cfg Config

	trunk    []*linear
	sigma    *linear
	feature  *linear
	colorHid *linear
	colorOut *linear
}

// New builds a field with Xavier-initialized weights drawn from rng.
func New(cfg Config, rng *rand.Rand) (*Field, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f := &Field{cfg: cfg}
	f.trunk = make([]*linear, cfg.HiddenLayers)
	for i := range f.trunk {
		in := cfg.HiddenWidth
		switch i {
		case 0:
			in = cfg.PositionWidth
		case cfg.SkipLayer:
			in = cfg.HiddenWidth + cfg.PositionWidth
		}
		f.trunk[i] = newLinear(in, cfg.HiddenWidth, rng)
	}
	f.sigma = newLinear(cfg.HiddenWidth, 1, rng)
	f.feature = newLinear(cfg.HiddenWidth, cfg.HiddenWidth, rng)
	f.colorHid = newLinear(cfg.HiddenWidth+cfg.DirectionWidth, cfg.HiddenWidth/2, rng)
	f.colorOut = newLinear(cfg.HiddenWidth/2, 3, rng)
	return f, nil
}

func (f *Field) Config() Config { return f.cfg }

// ParamCount reports the total number of trainable scalars.
func (f *Field) ParamCount() int {
	total := 0
	for _, p := range f.paramSlices() {
		total += len(p)
	}
	return total
}

// trace holds the activations Backward needs, captured during Forward.
type trace struct {
	trunkIn  []*mat.Dense
	trunkPre []*mat.Dense
	trunkOut *mat.Dense

	sigmaPre *mat.Dense

	colorHidIn  *mat.Dense
	colorHidPre *mat.Dense
	colorHidOut *mat.Dense
}

// Output carries per-sample predictions for one forward batch. Density is
// non-negative and Color entries sit in (0, 1); rows pair up with the input
// rows.
type Output struct {
	Density []float64
	Color   *mat.Dense

	tr *trace
}

// Forward evaluates one batch of encoded samples. Rows of pos and dir pair
// up one-to-one. withGrad captures the activation trace Backward consumes;
// inference callers pass false to skip it.
func (f *Field) Forward(pos, dir *mat.Dense, withGrad bool) (*Output, error) {
	pr, pc := pos.Dims()
	dr, dc := dir.Dims()
	if pc != f.cfg.PositionWidth {
		return nil, fmt.Errorf("position width mismatch: got=%d want=%d", pc, f.cfg.PositionWidth)
	}
	if dc != f.cfg.DirectionWidth {
		return nil, fmt.Errorf("direction width mismatch: got=%d want=%d", dc, f.cfg.DirectionWidth)
	}
	if pr != dr {
		return nil, fmt.Errorf("sample count mismatch: positions=%d directions=%d", pr, dr)
	}

	tr := &trace{}
	x := pos
	for i, layer := range f.trunk {
		if i == f.cfg.SkipLayer {
			x = hconcat(x, pos)
		}
		pre := layer.forward(x)
		if withGrad {
			tr.trunkIn = append(tr.trunkIn, x)
			tr.trunkPre = append(tr.trunkPre, pre)
		}
		x = reluOf(pre)
	}
	trunkOut := x

	sigmaPre := f.sigma.forward(trunkOut)
	density := make([]float64, pr)
	for r := 0; r < pr; r++ {
		if v := sigmaPre.At(r, 0); v > 0 {
			density[r] = v
		}
	}

	colorHidIn := hconcat(f.feature.forward(trunkOut), dir)
	colorHidPre := f.colorHid.forward(colorHidIn)
	colorHidOut := reluOf(colorHidPre)
	color := sigmoidOf(f.colorOut.forward(colorHidOut))

	out := &Output{Density: density, Color: color}
	if withGrad {
		tr.trunkOut = trunkOut
		tr.sigmaPre = sigmaPre
		tr.colorHidIn = colorHidIn
		tr.colorHidPre = colorHidPre
		tr.colorHidOut = colorHidOut
		out.tr = tr
	}
	return out, nil
}

// Backward pushes per-sample gradients on density and color back through the
// network, accumulating parameter gradients into g. out must come from a
// Forward call with withGrad set.
func (f *Field) Backward(out *Output, dDensity []float64, dColor *mat.Dense, g *Grads) error {
	if out.tr == nil {
		return fmt.Errorf("forward pass captured no gradient trace")
	}
	tr := out.tr
	n := len(out.Density)

	// Color head. The sigmoid derivative is s*(1-s) on the stored output.
	dColorPre := mat.DenseCopyOf(dColor)
	maskSigmoid(dColorPre, out.Color)
	dColorHidOut := f.colorOut.backward(tr.colorHidOut, dColorPre, &g.colorOut)

	maskReLU(dColorHidOut, tr.colorHidPre)
	dColorHidIn := f.colorHid.backward(tr.colorHidIn, dColorHidOut, &g.colorHid)

	// Only the feature half of the concatenated color input flows upstream;
	// no parameters sit behind the encoded direction.
	dFeatureOut := sliceCols(dColorHidIn, 0, f.cfg.HiddenWidth)
	dTrunkOut := f.feature.backward(tr.trunkOut, dFeatureOut, &g.feature)

	// Density head joins the color path at the trunk output.
	dSigmaPre := mat.NewDense(n, 1, nil)
	for r := 0; r < n; r++ {
		if tr.sigmaPre.At(r, 0) > 0 {
			dSigmaPre.Set(r, 0, dDensity[r])
		}
	}
	dTrunkOut.Add(dTrunkOut, f.sigma.backward(tr.trunkOut, dSigmaPre, &g.sigma))

	d := dTrunkOut
	for i := len(f.trunk) - 1; i >= 0; i-- {
		maskReLU(d, tr.trunkPre[i])
		d = f.trunk[i].backward(tr.trunkIn[i], d, &g.trunk[i])
		if i == f.cfg.SkipLayer {
			d = sliceCols(d, 0, f.cfg.HiddenWidth)
		}
	}
	return nil
}

// Clone deep-copies the field so evaluation can read a frozen snapshot while
// training keeps updating the original.
func (f *Field) Clone() *Field {
	c := &Field{
		cfg:      f.cfg,
		trunk:    make([]*linear, len(f.trunk)),
		sigma:    f.sigma.clone(),
		feature:  f.feature.clone(),
		colorHid: f.colorHid.clone(),
		colorOut: f.colorOut.clone(),
	}
	for i, l := range f.trunk {
		c.trunk[i] = l.clone()
	}
	return c
}

// Snapshot freezes the architecture and parameters for persistence. Layers
// appear in construction order: trunk, density, feature, color hidden,
// color output.
func (f *Field) Snapshot() model.FieldSnapshot {
	snap := model.FieldSnapshot{
		PositionWidth:  f.cfg.PositionWidth,
		DirectionWidth: f.cfg.DirectionWidth,
		HiddenWidth:    f.cfg.HiddenWidth,
		HiddenLayers:   f.cfg.HiddenLayers,
		SkipLayer:      f.cfg.SkipLayer,
	}
	for _, l := range f.layers() {
		snap.Layers = append(snap.Layers, l.snapshot())
	}
	return snap
}

// FromSnapshot rebuilds a field from persisted parameters.
func FromSnapshot(snap model.FieldSnapshot) (*Field, error) {
	cfg := Config{
		PositionWidth:  snap.PositionWidth,
		DirectionWidth: snap.DirectionWidth,
		HiddenWidth:    snap.HiddenWidth,
		HiddenLayers:   snap.HiddenLayers,
		SkipLayer:      snap.SkipLayer,
	}
	f, err := New(cfg, rand.New(rand.NewSource(0)))
	if err != nil {
		return nil, err
	}
	layers := f.layers()
	if len(snap.Layers) != len(layers) {
		return nil, fmt.Errorf("layer count mismatch: got=%d want=%d", len(snap.Layers), len(layers))
	}
	for i, l := range layers {
		if err := l.restore(snap.Layers[i]); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return f, nil
}

// layers lists every parameterized layer in a fixed order shared by
// Snapshot, FromSnapshot and the optimizer.
func (f *Field) layers() []*linear {
	out := make([]*linear, 0, len(f.trunk)+4)
	out = append(out, f.trunk...)
	return append(out, f.sigma, f.feature, f.colorHid, f.colorOut)
}

// paramSlices exposes the raw storage of every parameter tensor; the
// optimizer mutates these buffers in place.
func (f *Field) paramSlices() [][]float64 {
	var out [][]float64
	for _, l := range f.layers() {
		out = append(out, l.w.RawMatrix().Data, l.b)
	}
	return out
}

// Grads accumulates parameter gradients shaped like one field.
type Grads struct {
	trunk    []linearGrad
	sigma    linearGrad
	feature  linearGrad
	colorHid linearGrad
	colorOut linearGrad
}

// NewGrads allocates a zeroed accumulator matching the field's layers.
func (f *Field) NewGrads() *Grads {
	g := &Grads{
		sigma:    newLinearGrad(f.sigma),
		feature:  newLinearGrad(f.feature),
		colorHid: newLinearGrad(f.colorHid),
		colorOut: newLinearGrad(f.colorOut),
	}
	for _, l := range f.trunk {
		g.trunk = append(g.trunk, newLinearGrad(l))
	}
	return g
}

// Add folds another accumulator into g. Workers reduce their partial
// gradients through it before an optimizer step.
func (g *Grads) Add(other *Grads) {
	for i := range g.trunk {
		g.trunk[i].add(other.trunk[i])
	}
	g.sigma.add(other.sigma)
	g.feature.add(other.feature)
	g.colorHid.add(other.colorHid)
	g.colorOut.add(other.colorOut)
}

// Reset zeroes the accumulator for reuse.
func (g *Grads) Reset() {
	for i := range g.trunk {
		g.trunk[i].reset()
	}
	g.sigma.reset()
	g.feature.reset()
	g.colorHid.reset()
	g.colorOut.reset()
}

func (g *Grads) slices() [][]float64 {
	var out [][]float64
	for i := range g.trunk {
		out = append(out, g.trunk[i].w.RawMatrix().Data, g.trunk[i].b)
	}
	out = append(out, g.sigma.w.RawMatrix().Data, g.sigma.b)
	out = append(out, g.feature.w.RawMatrix().Data, g.feature.b)
	out = append(out, g.colorHid.w.RawMatrix().Data, g.colorHid.b)
	out = append(out, g.colorOut.w.RawMatrix().Data, g.colorOut.b)
	return out
}

func hconcat(a, b *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Augment(a, b)
	return &out
}

func sliceCols(m *mat.Dense, lo, hi int) *mat.Dense {
	rows, _ := m.Dims()
	return mat.DenseCopyOf(m.Slice(0, rows, lo, hi))
}
