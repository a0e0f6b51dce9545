package calib

import (
	"fmt"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// Default calibration grid: 6×6 dots spaced 3 cm apart in the Z = 0 plane.
const (
	DefaultGridCols    = 6
	DefaultGridRows    = 6
	DefaultGridSpacing = 0.03
)

// DefaultSeedIndices are the four grid dots used to seed the pose of each
// image on the default grid: (1,1), (1,4), (3,4) and (4,1) in (row, column)
// order.
var DefaultSeedIndices = []int{7, 10, 22, 25}

// GridPoints returns a planar cols×rows grid in the Z = 0 plane, row by row,
// with point (i, j) at (j·dx, i·dy, 0).
func GridPoints(cols, rows int, dx, dy float64) []r3.Vector {
	pts := make([]r3.Vector, 0, cols*rows)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			pts = append(pts, r3.Vector{X: float64(j) * dx, Y: float64(i) * dy})
		}
	}
	return pts
}

// DefaultGrid returns the default calibration grid.
func DefaultGrid() []r3.Vector {
	return GridPoints(DefaultGridCols, DefaultGridRows, DefaultGridSpacing, DefaultGridSpacing)
}

// LookAtPose returns the cMo of a camera at eye looking at target, with the
// image v axis aligned as closely as possible with down.
func LookAtPose(eye, target, down r3.Vector) Pose {
	z := target.Sub(eye).Normalize()
	y := down.Sub(z.Mul(down.Dot(z))).Normalize()
	x := y.Cross(z)
	r := [9]float64{
		x.X, x.Y, x.Z,
		y.X, y.Y, y.Z,
		z.X, z.Y, z.Z,
	}
	t := r3.Vector{X: -x.Dot(eye), Y: -y.Dot(eye), Z: -z.Dot(eye)}
	return NewPose(r, t)
}

// DefaultViews returns six tilted views of the default grid from roughly
// 0.4 m away.
func DefaultViews() []Pose {
	span := float64(DefaultGridCols-1) * DefaultGridSpacing
	centre := r3.Vector{X: span / 2, Y: span / 2}
	down := r3.Vector{Y: 1}
	offsets := []r3.Vector{
		{X: 0, Y: 0, Z: -0.40},
		{X: 0.12, Y: 0, Z: -0.38},
		{X: -0.12, Y: 0.05, Z: -0.38},
		{X: 0, Y: 0.13, Z: -0.37},
		{X: 0.08, Y: -0.10, Z: -0.36},
		{X: -0.06, Y: -0.12, Z: -0.42},
	}
	views := make([]Pose, len(offsets))
	for i, o := range offsets {
		views[i] = LookAtPose(centre.Add(o), centre, down)
	}
	return views
}

// SyntheticScene renders a known grid through a known camera from known
// poses into detector output.
type SyntheticScene struct {
	Camera CameraModel
	Width  int
	Height int
	Grid   []r3.Vector
	Poses  []Pose
	// Noise is the standard deviation of the Gaussian pixel noise added to
	// each detection.
	Noise float64
	// DotSize is the side of the square detection extent. Zero means no
	// extent is reported.
	DotSize     float64
	SeedIndices []int
	Seed        int64
}

// DefaultScene returns a noise-free 640×480 scene of the default grid seen
// through camera from DefaultViews.
func DefaultScene(camera CameraModel) SyntheticScene {
	return SyntheticScene{
		Camera:      camera,
		Width:       640,
		Height:      480,
		Grid:        DefaultGrid(),
		Poses:       DefaultViews(),
		DotSize:     8,
		SeedIndices: DefaultSeedIndices,
		Seed:        1,
	}
}

// Images renders every pose. Points that cannot be projected or land outside
// the image are reported as not found.
func (s SyntheticScene) Images() []ImageInput {
	rng := rand.New(rand.NewSource(s.Seed))
	images := make([]ImageInput, len(s.Poses))
	for i, pose := range s.Poses {
		img := ImageInput{
			Name:        fmt.Sprintf("view-%02d", i),
			Width:       s.Width,
			Height:      s.Height,
			Points:      make([]PointInput, len(s.Grid)),
			SeedIndices: s.SeedIndices,
		}
		for j, w := range s.Grid {
			img.Points[j] = PointInput{World: w, Detection: s.detect(w, pose, rng)}
		}
		images[i] = img
	}
	return images
}

func (s SyntheticScene) detect(w r3.Vector, pose Pose, rng *rand.Rand) Detection {
	p, err := s.Camera.ProjectToPixel(w, pose)
	if err != nil || p.X < 0 || p.Y < 0 || p.X >= float64(s.Width) || p.Y >= float64(s.Height) {
		return Detection{}
	}
	if s.Noise > 0 {
		p.X += rng.NormFloat64() * s.Noise
		p.Y += rng.NormFloat64() * s.Noise
	}
	det := Detection{Pixel: p, Found: true}
	if s.DotSize > 0 {
		det.Bounds = r2.RectFromCenterSize(p, r2.Point{X: s.DotSize, Y: s.DotSize})
	}
	return det
}
