package camera

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"aktis/internal/sampling"
)

// Intrinsics is the pinhole model shared by every view in a dataset. Focal
// length is expressed in pixels.
type Intrinsics struct {
	Width  int
	Height int
	Focal  float64
}

func (in Intrinsics) Validate() error {
	if in.Width <= 0 || in.Height <= 0 {
		return fmt.Errorf("image dimensions must be > 0")
	}
	if in.Focal <= 0 {
		return fmt.Errorf("focal length must be > 0")
	}
	return nil
}

// Pose is a camera-to-world transform in homogeneous coordinates. The camera
// looks along its local -z axis.
type Pose struct {
	Mat mgl64.Mat4
}

// PoseFromRows builds a pose from a row-major 4x4 matrix, the layout pose
// files store.
func PoseFromRows(rows [4][4]float64) Pose {
	var m mgl64.Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			m.Set(r, c, rows[r][c])
		}
	}
	return Pose{Mat: m}
}

// Rows returns the pose as a row-major 4x4 matrix.
func (p Pose) Rows() [4][4]float64 {
	var rows [4][4]float64
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			rows[r][c] = p.Mat.At(r, c)
		}
	}
	return rows
}

// Eye returns the camera position in world space.
func (p Pose) Eye() mgl64.Vec3 {
	return mgl64.Vec3{p.Mat.At(0, 3), p.Mat.At(1, 3), p.Mat.At(2, 3)}
}

// LookAt builds a camera-to-world pose for an eye looking at center.
func LookAt(eye, center, up mgl64.Vec3) Pose {
	return Pose{Mat: mgl64.LookAtV(eye, center, up).Inv()}
}

// Orbit places a camera on a sphere of the given radius around the origin at
// azimuth theta and inclination phi (radians, z-up), looking at the origin.
func Orbit(radius, theta, phi float64) Pose {
	eye := mgl64.Vec3{
		radius * math.Cos(theta) * math.Sin(phi),
		radius * math.Sin(theta) * math.Sin(phi),
		radius * math.Cos(phi),
	}
	return LookAt(eye, mgl64.Vec3{}, mgl64.Vec3{0, 0, 1})
}

// Ray builds the world-space ray through pixel (x, y): image x grows right,
// image y grows down, and the pixel grid is centered on the optical axis.
func Ray(in Intrinsics, pose Pose, x, y, near, far float64) sampling.Ray {
	local := mgl64.Vec3{
		(x - float64(in.Width)/2) / in.Focal,
		-(y - float64(in.Height)/2) / in.Focal,
		-1,
	}
	return sampling.Ray{
		Origin: pose.Eye(),
		Dir:    pose.Mat.Mul4x1(local.Vec4(0)).Vec3(),
		Near:   near,
		Far:    far,
	}
}
