package sampling

import "github.com/go-gl/mathgl/mgl64"

// Ray is a camera ray with the depth bounds sampling operates over. Direction
// magnitude encodes the parameterization scale, so depths are expressed in
// units of the direction vector. Immutable once constructed.
type Ray struct {
	Origin mgl64.Vec3
	Dir    mgl64.Vec3
	Near   float64
	Far    float64
}

// At returns the world position at parametric depth t.
func (r Ray) At(t float64) mgl64.Vec3 {
	return r.Origin.Add(r.Dir.Mul(t))
}

// UnitDir returns the normalized view direction.
func (r Ray) UnitDir() mgl64.Vec3 {
	return r.Dir.Normalize()
}
