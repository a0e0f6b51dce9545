package calib

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/camcal/internal/testutil"
)

func assertIdentity(t *testing.T, p Pose, tol float64) {
	t.Helper()
	id := IdentityPose()
	testutil.AssertSliceNear(t, "T", p.T[:], id.T[:], tol)
}

func TestExpMap_Zero(t *testing.T) {
	t.Parallel()
	assert.Equal(t, IdentityPose(), ExpMap(Twist{}))
}

func TestExpMap_Inverse(t *testing.T) {
	t.Parallel()
	twists := []Twist{
		{0.1, -0.2, 0.3, 0, 0, 0},
		{0, 0, 0, 0.4, -0.1, 0.2},
		{0.05, 0.01, -0.3, 1.2, 0.3, -0.7},
		{1e-3, 2e-3, 3e-3, 1e-10, -2e-10, 1e-10},
	}
	for _, v := range twists {
		var neg Twist
		for i := range v {
			neg[i] = -v[i]
		}
		assertIdentity(t, ExpMap(v).Compose(ExpMap(neg)), 1e-12)
		assertIdentity(t, ExpMap(v).Compose(ExpMap(v).Inverse()), 1e-12)
		assert.True(t, IsValidTransformMatrix(ExpMap(v).T))
	}
}

func TestExpMap_KnownMotions(t *testing.T) {
	t.Parallel()

	t.Run("pure translation", func(t *testing.T) {
		p := ExpMap(Twist{1, 2, 3, 0, 0, 0})
		assert.Equal(t, r3.Vector{X: 1, Y: 2, Z: 3}, p.Translation())
		testutil.AssertNear(t, "angle", p.RotationAngle(IdentityPose()), 0, 1e-15)
	})

	t.Run("quarter turn about z", func(t *testing.T) {
		p := ExpMap(Twist{0, 0, 0, 0, 0, math.Pi / 2})
		got := p.Apply(r3.Vector{X: 1})
		testutil.AssertSliceNear(t, "rotated", []float64{got.X, got.Y, got.Z}, []float64{0, 1, 0}, 1e-12)

		axis, angle := p.AxisAngle()
		testutil.AssertNear(t, "angle", angle, math.Pi/2, 1e-12)
		testutil.AssertNear(t, "axis z", axis.Z, 1, 1e-12)
	})
}

func TestPose_ServoStep(t *testing.T) {
	t.Parallel()
	pose := NewPose([9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, r3.Vector{Z: 1})

	// Moving the camera forward brings the object closer.
	moved := pose.ServoStep(Twist{0, 0, 0.25, 0, 0, 0})
	testutil.AssertNear(t, "tz", moved.Translation().Z, 0.75, 1e-15)

	// A step and its opposite cancel.
	v := Twist{0.01, -0.02, 0.03, 0.1, 0.05, -0.02}
	back := pose.ServoStep(v).ServoStep(Twist{-v[0], -v[1], -v[2], -v[3], -v[4], -v[5]})
	testutil.AssertSliceNear(t, "T", back.T[:], pose.T[:], 1e-12)
}

func TestPose_Orthonormalize(t *testing.T) {
	t.Parallel()
	r := ExpMap(Twist{0, 0, 0, 0.3, -0.2, 0.1}).Rotation()
	noisy := r
	noisy[0] += 0.01
	noisy[5] -= 0.02
	p := NewPose(noisy, r3.Vector{X: 1, Y: 2, Z: 3})

	o := p.Orthonormalize()
	assert.True(t, IsValidTransformMatrix(o.T))
	assert.Equal(t, p.Translation(), o.Translation())
	assert.Less(t, o.RotationAngle(NewPose(r, r3.Vector{})), 0.03)
}

func TestPose_Inverse(t *testing.T) {
	t.Parallel()
	p := ExpMap(Twist{0.2, -0.1, 0.5, 0.3, 0.2, -0.4})
	w := r3.Vector{X: 0.3, Y: -0.7, Z: 1.1}
	back := p.Inverse().Apply(p.Apply(w))
	testutil.AssertSliceNear(t, "point", []float64{back.X, back.Y, back.Z}, []float64{w.X, w.Y, w.Z}, 1e-12)
}

func TestValidatePose(t *testing.T) {
	t.Parallel()
	good := NewPose([9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, r3.Vector{Z: 0.4})
	behind := NewPose([9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, r3.Vector{Z: -0.4})
	scaled := NewPose([9]float64{2, 0, 0, 0, 2, 0, 0, 0, 2}, r3.Vector{Z: 0.4})

	tests := []struct {
		name    string
		pose    *Pose
		rms     float64
		quality PoseQuality
		valid   bool
	}{
		{"nil pose", nil, 0.01, PoseQualityUnknown, false},
		{"excellent", &good, 0.05, PoseQualityExcellent, true},
		{"good", &good, 0.3, PoseQualityGood, true},
		{"fair", &good, 0.7, PoseQualityFair, true},
		{"poor", &good, 2.5, PoseQualityPoor, false},
		{"not computed", &good, -1, PoseQualityUnknown, true},
		{"not a rotation", &scaled, 0.01, PoseQualityPoor, false},
		{"behind camera", &behind, 0.01, PoseQualityPoor, false},
		{"behind camera without residuals", &behind, -1, PoseQualityPoor, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := ValidatePose(tt.pose, tt.rms)
			assert.Equal(t, tt.quality, res.Quality)
			assert.Equal(t, tt.valid, res.Valid)
		})
	}
}

func TestPoseQuality_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "excellent (RMS < 0.1px)", PoseQualityExcellent.String())
	assert.Equal(t, "custom", PoseQuality("custom").String())
}
