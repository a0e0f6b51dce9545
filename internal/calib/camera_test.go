package calib

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/camcal/internal/testutil"
)

func TestCameraModel_RoundTrip(t *testing.T) {
	t.Parallel()
	cameras := map[string]CameraModel{
		"no distortion": truthCamera(),
		"distortion":    {Px: 800, Py: 795, U0: 322, V0: 241, K1: -0.3, K2: 0.05, Distorted: true},
		"pincushion":    {Px: 600, Py: 610, U0: 300, V0: 250, K1: 0.2, K2: 0.01, Distorted: true},
	}
	for name, cam := range cameras {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			for _, x := range []float64{-0.4, -0.13, 0, 0.07, 0.35} {
				for _, y := range []float64{-0.3, 0, 0.21} {
					u, v := cam.MetricToPixel(x, y)
					gx, gy := cam.PixelToMetric(u, v)
					testutil.AssertNear(t, "x", gx, x, 1e-10)
					testutil.AssertNear(t, "y", gy, y, 1e-10)
				}
			}
		})
	}
}

func TestCameraModel_MaxRadius(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cam  CameraModel
		want float64
	}{
		{"no distortion", CameraModel{Px: 1, Py: 1, K1: -0.5}, math.Inf(1)},
		{"monotonic barrel", CameraModel{Px: 1, Py: 1, K1: -0.3, K2: 0.05, Distorted: true}, math.Inf(1)},
		{"pincushion", CameraModel{Px: 1, Py: 1, K1: 0.2, K2: 0.01, Distorted: true}, math.Inf(1)},
		// 1 − 1.5·r² = 0
		{"strong barrel", CameraModel{Px: 1, Py: 1, K1: -0.5, Distorted: true}, math.Sqrt(1 / 1.5)},
		// 1 + 0.3·r² − 0.5·r⁴ = 0
		{"negative r4", CameraModel{Px: 1, Py: 1, K1: 0.1, K2: -0.1, Distorted: true}, math.Sqrt((0.3 + math.Sqrt(0.09+2)) / 1.0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.cam.MaxRadius()
			if math.IsInf(tt.want, 1) {
				assert.True(t, math.IsInf(got, 1), "got %g", got)
				return
			}
			testutil.AssertNear(t, "radius", got, tt.want, 1e-12)
		})
	}
}

func TestCameraModel_PixelToMetricOutsideMonotonicRange(t *testing.T) {
	t.Parallel()
	cam := CameraModel{Px: 500, Py: 500, U0: 320, V0: 240, K1: -0.5, Distorted: true}
	rmax := cam.MaxRadius()

	// Close to the turning point the inverse still holds.
	for _, r := range []float64{0.3, 0.6, 0.8} {
		x, y := r*0.6, -r*0.8
		u, v := cam.MetricToPixel(x, y)
		gx, gy := cam.PixelToMetric(u, v)
		testutil.AssertNear(t, "x", gx, x, 1e-10)
		testutil.AssertNear(t, "y", gy, y, 1e-10)
	}

	// Beyond the largest distorted radius there is no preimage; the ray is
	// kept and the radius is clamped.
	gx, gy := cam.PixelToMetric(320+500*0.7*0.6, 240-500*0.7*0.8)
	testutil.AssertNear(t, "radius", math.Hypot(gx, gy), rmax, 1e-12)
	testutil.AssertNear(t, "direction", math.Atan2(gy, gx), math.Atan2(-0.8, 0.6), 1e-12)
}

func TestCameraModel_MetricToPixel(t *testing.T) {
	t.Parallel()
	cam := CameraModel{Px: 100, Py: 200, U0: 50, V0: 60, K1: 0.5, K2: 0.25, Distorted: true}

	u, v := cam.MetricToPixel(0, 0)
	assert.Equal(t, 50.0, u)
	assert.Equal(t, 60.0, v)

	// r² = 1, D = 1 + 0.5 + 0.25
	u, v = cam.MetricToPixel(1, 0)
	testutil.AssertNear(t, "u", u, 50+100*1.75, 1e-12)
	testutil.AssertNear(t, "v", v, 60, 1e-12)

	// The coefficients are ignored without the distortion flag.
	u, v = cam.WithoutDistortion().MetricToPixel(1, 0)
	testutil.AssertNear(t, "u", u, 150, 1e-12)
	testutil.AssertNear(t, "v", v, 60, 1e-12)
}

func TestCameraModel_DistortionToggles(t *testing.T) {
	t.Parallel()
	cam := CameraModel{Px: 1, Py: 1, K1: 0.1, K2: 0.2, Distorted: true}

	free := cam.WithoutDistortion()
	assert.False(t, free.Distorted)
	assert.Zero(t, free.K1)
	assert.Zero(t, free.K2)

	again := free.WithDistortion()
	assert.True(t, again.Distorted)
	assert.Zero(t, again.K1)
	assert.Equal(t, 0.1, cam.WithDistortion().K1)
}

func TestCameraModel_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cam     CameraModel
		wantErr bool
	}{
		{"valid", truthCamera(), false},
		{"zero px", NewCameraModel(0, 800, 320, 240), true},
		{"negative py", NewCameraModel(800, -1, 320, 240), true},
		{"nan principal point", NewCameraModel(800, 800, math.NaN(), 240), true},
		{"infinite k1", CameraModel{Px: 800, Py: 800, K1: math.Inf(1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cam.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrDegenerateModel)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSeedFromImage(t *testing.T) {
	t.Parallel()
	cam := SeedFromImage(640, 480, 600, 610)
	assert.Equal(t, NewCameraModel(600, 610, 320, 240), cam)
}

func TestProject(t *testing.T) {
	t.Parallel()
	pose := NewPose([9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, r3.Vector{Z: 2})

	m, err := Project(r3.Vector{X: 0.5, Y: -1}, pose)
	require.NoError(t, err)
	testutil.AssertNear(t, "x", m.X, 0.25, 1e-15)
	testutil.AssertNear(t, "y", m.Y, -0.5, 1e-15)

	_, err = Project(r3.Vector{Z: -3}, pose)
	assert.ErrorIs(t, err, ErrPoseComputationFailed)

	_, err = Project(r3.Vector{Z: -2}, pose)
	assert.ErrorIs(t, err, ErrPoseComputationFailed, "zero depth must fail")

	p, err := truthCamera().ProjectToPixel(r3.Vector{X: 0.5, Y: -1}, pose)
	require.NoError(t, err)
	testutil.AssertNear(t, "u", p.X, 322+800*0.25, 1e-12)
	testutil.AssertNear(t, "v", p.Y, 241-795*0.5, 1e-12)
}

func TestCameraModel_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "px=800.0000 py=795.0000 u0=322.0000 v0=241.0000", truthCamera().String())
	assert.Contains(t, truthCamera().WithDistortion().String(), "k1=0.000000")
}
