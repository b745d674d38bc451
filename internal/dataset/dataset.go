// Package dataset loads posed multi-view scenes from npz archives and
// generates synthetic scenes for tests and smoke runs. A scene bundles shared
// camera intrinsics, the sampling interval along every ray, and one posed
// image per view.
package dataset

import (
	"fmt"
	"math"

	"aktis/internal/camera"
	"aktis/internal/render"
)

// DefaultBounds is the sampling interval used when a config leaves the
// near and far planes unset.
var DefaultBounds = Bounds{Near: 2, Far: 6}

// Bounds delimits the depth interval sampled along each ray.
type Bounds struct {
	Near float64 `json:"near"`
	Far  float64 `json:"far"`
}

func (b Bounds) Validate() error {
	if b.Near < 0 {
		return fmt.Errorf("near plane must be >= 0")
	}
	if b.Far <= b.Near {
		return fmt.Errorf("far plane must exceed near plane: near=%f far=%f", b.Near, b.Far)
	}
	return nil
}

// View is one observation of the scene: a camera-to-world pose and the image
// captured from it.
type View struct {
	Pose  camera.Pose
	Image render.Image
}

// Dataset is a posed multi-view scene.
type Dataset struct {
	Name       string
	Intrinsics camera.Intrinsics
	Bounds     Bounds
	Views      []View
}

func (d *Dataset) Validate() error {
	if err := d.Intrinsics.Validate(); err != nil {
		return err
	}
	if err := d.Bounds.Validate(); err != nil {
		return err
	}
	if len(d.Views) == 0 {
		return fmt.Errorf("dataset has no views")
	}
	for i, v := range d.Views {
		if v.Image.Width != d.Intrinsics.Width || v.Image.Height != d.Intrinsics.Height {
			return fmt.Errorf("view %d image is %dx%d, intrinsics say %dx%d",
				i, v.Image.Width, v.Image.Height, d.Intrinsics.Width, d.Intrinsics.Height)
		}
	}
	return nil
}

// Split partitions the views at round(ratio * len): the first part trains,
// the remainder is held out. Ratios outside [0, 1] are clamped.
func (d *Dataset) Split(ratio float64) (train, test Dataset) {
	r := math.Min(math.Max(ratio, 0), 1)
	n := int(math.Round(r * float64(len(d.Views))))

	train = Dataset{Name: d.Name, Intrinsics: d.Intrinsics, Bounds: d.Bounds, Views: d.Views[:n]}
	test = Dataset{Name: d.Name, Intrinsics: d.Intrinsics, Bounds: d.Bounds, Views: d.Views[n:]}
	return train, test
}
