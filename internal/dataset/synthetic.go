package dataset

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"aktis/internal/camera"
	"aktis/internal/render"
	"aktis/internal/sampling"
)

// SphereSceneName names every dataset produced by Sphere.
const SphereSceneName = "synthetic-sphere"

// SphereConfig describes the procedural test scene: a ball of constant
// density at the origin. Its transmittance has a closed form, so the
// rendered views are exact ground truth rather than another renderer's
// output.
type SphereConfig struct {
	Views       int        `json:"views"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	Focal       float64    `json:"focal"`
	Radius      float64    `json:"radius"`
	Density     float64    `json:"density"`
	Color       [3]float64 `json:"color"`
	OrbitRadius float64    `json:"orbit_radius"`
	Bounds      Bounds     `json:"bounds"`
}

// withDefaults fills unset fields with a scene small enough for tests yet
// structured enough to train against.
func (c SphereConfig) withDefaults() SphereConfig {
	if c.Views == 0 {
		c.Views = 30
	}
	if c.Width == 0 {
		c.Width = 64
	}
	if c.Height == 0 {
		c.Height = 64
	}
	if c.Focal == 0 {
		c.Focal = float64(c.Width)
	}
	if c.Radius == 0 {
		c.Radius = 1
	}
	if c.Density == 0 {
		c.Density = 2
	}
	if c.Color == [3]float64{} {
		c.Color = [3]float64{0.9, 0.35, 0.2}
	}
	if c.OrbitRadius == 0 {
		c.OrbitRadius = 4
	}
	if c.Bounds == (Bounds{}) {
		c.Bounds = DefaultBounds
	}
	return c
}

func (c SphereConfig) Validate() error {
	in := camera.Intrinsics{Width: c.Width, Height: c.Height, Focal: c.Focal}
	if err := in.Validate(); err != nil {
		return err
	}
	if err := c.Bounds.Validate(); err != nil {
		return err
	}
	if c.Views <= 0 {
		return fmt.Errorf("view count must be > 0")
	}
	if c.Radius <= 0 {
		return fmt.Errorf("sphere radius must be > 0")
	}
	if c.Density <= 0 {
		return fmt.Errorf("sphere density must be > 0")
	}
	if c.OrbitRadius <= c.Radius {
		return fmt.Errorf("orbit radius %f must clear the sphere radius %f", c.OrbitRadius, c.Radius)
	}
	return nil
}

// Sphere renders the analytic ball from cameras orbiting the origin. Azimuths
// are spread evenly; rng jitters the inclination around the equator.
func Sphere(cfg SphereConfig, rng *rand.Rand) (*Dataset, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	in := camera.Intrinsics{Width: cfg.Width, Height: cfg.Height, Focal: cfg.Focal}
	ds := &Dataset{
		Name:       SphereSceneName,
		Intrinsics: in,
		Bounds:     cfg.Bounds,
		Views:      make([]View, 0, cfg.Views),
	}
	for i := 0; i < cfg.Views; i++ {
		theta := 2 * math.Pi * float64(i) / float64(cfg.Views)
		phi := math.Pi/2 + (rng.Float64()-0.5)*math.Pi/3
		pose := camera.Orbit(cfg.OrbitRadius, theta, phi)

		img := render.NewImage(cfg.Width, cfg.Height)
		for y := 0; y < cfg.Height; y++ {
			for x := 0; x < cfg.Width; x++ {
				ray := camera.Ray(in, pose, float64(x), float64(y), cfg.Bounds.Near, cfg.Bounds.Far)
				a := 1 - math.Exp(-cfg.Density*chordLength(ray, cfg.Radius))
				img.Set(x, y, [3]float64{a * cfg.Color[0], a * cfg.Color[1], a * cfg.Color[2]})
			}
		}
		ds.Views = append(ds.Views, View{Pose: pose, Image: *img})
	}
	return ds, nil
}

// chordLength returns the geometric length of the ray segment inside the
// origin-centered ball, clipped to the ray's near/far interval.
func chordLength(ray sampling.Ray, radius float64) float64 {
	a := ray.Dir.Dot(ray.Dir)
	b := 2 * ray.Origin.Dot(ray.Dir)
	c := ray.Origin.Dot(ray.Origin) - radius*radius
	disc := b*b - 4*a*c
	if disc <= 0 {
		return 0
	}
	root := math.Sqrt(disc)
	t0 := math.Max((-b-root)/(2*a), ray.Near)
	t1 := math.Min((-b+root)/(2*a), ray.Far)
	if t1 <= t0 {
		return 0
	}
	return (t1 - t0) * ray.Dir.Len()
}

// WriteNPZ stores the dataset in the same archive layout Load reads: focal,
// images and poses members with float64 payloads.
func WriteNPZ(path string, ds *Dataset) error {
	if err := ds.Validate(); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)

	n := len(ds.Views)
	h, w := ds.Intrinsics.Height, ds.Intrinsics.Width
	images := make([]float64, 0, n*h*w*3)
	poses := make([]float64, 0, n*16)
	for _, v := range ds.Views {
		images = append(images, v.Image.Pix...)
		rows := v.Pose.Rows()
		for r := 0; r < 4; r++ {
			poses = append(poses, rows[r][:]...)
		}
	}

	members := []struct {
		name  string
		shape []int
		data  []float64
	}{
		{name: "focal.npy", shape: nil, data: []float64{ds.Intrinsics.Focal}},
		{name: "images.npy", shape: []int{n, h, w, 3}, data: images},
		{name: "poses.npy", shape: []int{n, 4, 4}, data: poses},
	}
	for _, m := range members {
		mw, err := zw.Create(m.name)
		if err == nil {
			err = writeNPY(mw, m.shape, m.data)
		}
		if err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", m.name, err)
		}
	}

	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeNPY emits one npy v1.0 record with a little-endian float64 payload.
// npyio derives shapes from Go values (slices are 1-D, matrices 2-D), so the
// 4-D image stack needs its header written by hand. A nil shape marks a
// numpy scalar.
func writeNPY(w io.Writer, shape []int, data []float64) error {
	want := 1
	for _, s := range shape {
		want *= s
	}
	if len(data) != want {
		return fmt.Errorf("payload holds %d values, shape %v wants %d", len(data), shape, want)
	}

	header := fmt.Sprintf("{'descr': '<f8', 'fortran_order': False, 'shape': %s, }", pyShape(shape))
	// The header block (string, padding, final newline) must bring the total
	// record preamble to a multiple of 64 bytes.
	padded := len(header) + 1
	if rem := (10 + padded) % 64; rem != 0 {
		padded += 64 - rem
	}

	buf := make([]byte, 0, 10+padded)
	buf = append(buf, "\x93NUMPY\x01\x00"...)
	buf = append(buf, byte(padded), byte(padded>>8))
	buf = append(buf, header...)
	for len(buf) < 10+padded-1 {
		buf = append(buf, ' ')
	}
	buf = append(buf, '\n')

	if _, err := w.Write(buf); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, data)
}

func pyShape(shape []int) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return fmt.Sprintf("(%d,)", shape[0])
	default:
		parts := make([]string, len(shape))
		for i, s := range shape {
			parts[i] = strconv.Itoa(s)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
}
