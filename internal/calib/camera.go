// Package calib estimates camera poses from 3D↔2D correspondences and jointly
// calibrates pinhole intrinsics (with optional radial distortion) over many
// images by virtual visual servoing.
//
// Coordinate conventions: world points are metres in the object frame, a Pose
// maps object coordinates into the camera frame (Z forward), metric image
// coordinates are x = Xc/Zc, y = Yc/Zc, and pixels are (u, v) with u to the
// right and v down.
package calib

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// MinDepth is the smallest camera-frame depth accepted by Project. Points
// closer than this (or behind the camera) are treated as a projection failure.
const MinDepth = 1e-9

const (
	undistortMaxIterations = 60
	undistortTolerance     = 1e-12
)

// CameraModel holds pinhole intrinsics and an optional two-term radial
// distortion model.
//
// With Distorted set, undistorted metric coordinates (x, y) map to pixels as
//
//	u = U0 + Px·x·D,  v = V0 + Py·y·D,  D = 1 + K1·r² + K2·r⁴,  r² = x² + y²
//
// Without it, D = 1 and K1/K2 are ignored.
type CameraModel struct {
	Px float64 `json:"px"`
	Py float64 `json:"py"`
	U0 float64 `json:"u0"`
	V0 float64 `json:"v0"`

	K1 float64 `json:"k1"`
	K2 float64 `json:"k2"`

	Distorted bool `json:"distorted"`
}

// NewCameraModel returns a distortion-free camera.
func NewCameraModel(px, py, u0, v0 float64) CameraModel {
	return CameraModel{Px: px, Py: py, U0: u0, V0: v0}
}

// SeedFromImage returns a distortion-free camera with the given focal scales
// and the principal point at the image centre.
func SeedFromImage(width, height int, px, py float64) CameraModel {
	return NewCameraModel(px, py, float64(width)/2, float64(height)/2)
}

// WithoutDistortion returns a copy of c with the distortion terms cleared.
func (c CameraModel) WithoutDistortion() CameraModel {
	c.K1, c.K2 = 0, 0
	c.Distorted = false
	return c
}

// WithDistortion returns a copy of c with the distortion model enabled,
// keeping any existing coefficients.
func (c CameraModel) WithDistortion() CameraModel {
	c.Distorted = true
	return c
}

func (c CameraModel) radial(r2 float64) float64 {
	if !c.Distorted {
		return 1
	}
	return 1 + r2*(c.K1+r2*c.K2)
}

// MetricToPixel converts undistorted metric coordinates into pixels.
func (c CameraModel) MetricToPixel(x, y float64) (u, v float64) {
	d := c.radial(x*x + y*y)
	return c.U0 + c.Px*x*d, c.V0 + c.Py*y*d
}

// MaxRadius returns the largest undistorted metric radius over which the
// radial model r·D(r) is strictly increasing, or +Inf when it increases
// everywhere (always the case without distortion).
func (c CameraModel) MaxRadius() float64 {
	if !c.Distorted {
		return math.Inf(1)
	}
	// d/dr r·D(r) = 1 + 3·K1·s + 5·K2·s² with s = r².
	a, b := 5*c.K2, 3*c.K1
	var roots []float64
	if a == 0 {
		if b < 0 {
			roots = append(roots, -1/b)
		}
	} else if disc := b*b - 4*a; disc >= 0 {
		q := -0.5 * (b + math.Copysign(math.Sqrt(disc), b))
		if q != 0 {
			roots = append(roots, q/a, 1/q)
		}
	}
	s := math.Inf(1)
	for _, r := range roots {
		if r > 0 && r < s {
			s = r
		}
	}
	return math.Sqrt(s)
}

// PixelToMetric converts pixels into undistorted metric coordinates. It is the
// inverse of MetricToPixel for radii up to MaxRadius; with distortion enabled
// the radial polynomial is inverted along the ray with safeguarded
// Newton-Raphson iterations. Pixels farther out than the image of MaxRadius
// have no inverse and are mapped onto the MaxRadius circle.
func (c CameraModel) PixelToMetric(u, v float64) (x, y float64) {
	xd := (u - c.U0) / c.Px
	yd := (v - c.V0) / c.Py
	if !c.Distorted || (c.K1 == 0 && c.K2 == 0) {
		return xd, yd
	}

	rd := math.Hypot(xd, yd)
	if rd == 0 {
		return 0, 0
	}

	// Radial distortion keeps the direction, so only the radius is solved:
	// f(r) = r·(1 + K1·r² + K2·r⁴) − rd, increasing on [0, MaxRadius].
	rmax := c.MaxRadius()
	if !math.IsInf(rmax, 1) && rmax*c.radial(rmax*rmax) <= rd {
		scale := rmax / rd
		return xd * scale, yd * scale
	}

	lo, hi := 0.0, rmax
	r := math.Min(rd, rmax)
	for i := 0; i < undistortMaxIterations; i++ {
		r2 := r * r
		f := r*(1+r2*(c.K1+r2*c.K2)) - rd
		df := 1 + r2*(3*c.K1+5*c.K2*r2)
		if f == 0 {
			break
		}
		if f > 0 {
			hi = r
		} else {
			lo = r
		}
		next := r - f/df
		if !(df > 0) || !(next > lo && next < hi) {
			next = lo + (hi-lo)/2
		}
		step := next - r
		r = next
		if math.Abs(step) < undistortTolerance {
			break
		}
	}

	scale := r / rd
	return xd * scale, yd * scale
}

// ToPixel is MetricToPixel on an r2.Point.
func (c CameraModel) ToPixel(m r2.Point) r2.Point {
	u, v := c.MetricToPixel(m.X, m.Y)
	return r2.Point{X: u, Y: v}
}

// ToMetric is PixelToMetric on an r2.Point.
func (c CameraModel) ToMetric(p r2.Point) r2.Point {
	x, y := c.PixelToMetric(p.X, p.Y)
	return r2.Point{X: x, Y: y}
}

// Validate reports ErrDegenerateModel when a focal scale is not positive or a
// parameter is not finite.
func (c CameraModel) Validate() error {
	for _, p := range []float64{c.Px, c.Py, c.U0, c.V0, c.K1, c.K2} {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("%w: non-finite parameter in %s", ErrDegenerateModel, c)
		}
	}
	if c.Px <= 0 || c.Py <= 0 {
		return fmt.Errorf("%w: focal scales must be positive, got px=%g py=%g", ErrDegenerateModel, c.Px, c.Py)
	}
	return nil
}

// String formats the intrinsics for logs and CLI output.
func (c CameraModel) String() string {
	if c.Distorted {
		return fmt.Sprintf("px=%.4f py=%.4f u0=%.4f v0=%.4f k1=%.6f k2=%.6f", c.Px, c.Py, c.U0, c.V0, c.K1, c.K2)
	}
	return fmt.Sprintf("px=%.4f py=%.4f u0=%.4f v0=%.4f", c.Px, c.Py, c.U0, c.V0)
}

// Project transforms p into the camera frame and returns its pinhole metric
// coordinates. Depths below MinDepth fail with ErrPoseComputationFailed.
func Project(p r3.Vector, pose Pose) (r2.Point, error) {
	pc := pose.Apply(p)
	if pc.Z < MinDepth || math.IsNaN(pc.Z) {
		return r2.Point{}, fmt.Errorf("%w: point %v has depth %g in camera frame", ErrPoseComputationFailed, p, pc.Z)
	}
	return r2.Point{X: pc.X / pc.Z, Y: pc.Y / pc.Z}, nil
}

// ProjectToPixel projects p through pose and c.
func (c CameraModel) ProjectToPixel(p r3.Vector, pose Pose) (r2.Point, error) {
	m, err := Project(p, pose)
	if err != nil {
		return r2.Point{}, err
	}
	return c.ToPixel(m), nil
}
