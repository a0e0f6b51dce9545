package calib

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/camcal/internal/testutil"
)

func TestGridPoints(t *testing.T) {
	t.Parallel()
	grid := GridPoints(3, 2, 0.1, 0.2)
	require.Len(t, grid, 6)
	assert.Equal(t, r3.Vector{}, grid[0])
	assert.Equal(t, r3.Vector{X: 0.2}, grid[2])
	assert.Equal(t, r3.Vector{X: 0.1, Y: 0.2}, grid[4])

	def := DefaultGrid()
	require.Len(t, def, DefaultGridCols*DefaultGridRows)
	for _, i := range DefaultSeedIndices {
		assert.Less(t, i, len(def))
	}
}

func TestLookAtPose(t *testing.T) {
	t.Parallel()
	eye := r3.Vector{X: 0.2, Y: -0.1, Z: -0.5}
	target := r3.Vector{X: 0.05, Y: 0.05}
	pose := LookAtPose(eye, target, r3.Vector{Y: 1})

	assert.True(t, IsValidTransformMatrix(pose.T))
	got := pose.Apply(target)
	testutil.AssertSliceNear(t, "target", []float64{got.X, got.Y, got.Z}, []float64{0, 0, target.Sub(eye).Norm()}, 1e-12)
	origin := pose.Apply(eye)
	testutil.AssertSliceNear(t, "eye", []float64{origin.X, origin.Y, origin.Z}, []float64{0, 0, 0}, 1e-12)
}

func TestSyntheticScene_Images(t *testing.T) {
	t.Parallel()
	scene := DefaultScene(truthCamera())
	images := scene.Images()
	require.Len(t, images, len(scene.Poses))

	for i, img := range images {
		assert.Equal(t, 640, img.Width)
		assert.Equal(t, DefaultSeedIndices, img.SeedIndices)
		require.Len(t, img.Points, len(scene.Grid))
		for j, p := range img.Points {
			require.True(t, p.Detection.Found, "image %d point %d", i, j)
			want, err := scene.Camera.ProjectToPixel(p.World, scene.Poses[i])
			require.NoError(t, err)
			assert.Equal(t, want, p.Detection.Pixel)
			testutil.AssertNear(t, "extent", p.Detection.Bounds.Size().X, scene.DotSize, 1e-9)
		}
	}
	assert.Equal(t, "view-03", images[3].Name)
}

func TestSyntheticScene_Noise(t *testing.T) {
	t.Parallel()
	scene := DefaultScene(truthCamera())
	scene.Noise = 0.5
	a := scene.Images()
	b := scene.Images()
	assert.Equal(t, a, b, "the same seed renders the same detections")

	clean := DefaultScene(truthCamera()).Images()
	assert.NotEqual(t, clean[0].Points[0].Detection.Pixel, a[0].Points[0].Detection.Pixel)
	d := clean[0].Points[0].Detection.Pixel.Sub(a[0].Points[0].Detection.Pixel).Norm()
	assert.Less(t, d, 5.0)
}

func TestSyntheticScene_OutsideImage(t *testing.T) {
	t.Parallel()
	scene := DefaultScene(truthCamera())
	scene.Width, scene.Height = 100, 100
	scene.DotSize = 0
	for _, img := range scene.Images() {
		for _, p := range img.Points {
			assert.False(t, p.Detection.Found)
			assert.False(t, p.Detection.HasBounds())
		}
	}
}
