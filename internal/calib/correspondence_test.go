package calib

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrespondenceSet(t *testing.T) {
	t.Parallel()
	set := NewCorrespondenceSet(4)
	assert.Equal(t, 0, set.Add(r3.Vector{X: 1}, Detection{Pixel: pt(10, 20), Found: true}))
	assert.Equal(t, 1, set.Add(r3.Vector{X: 2}, Detection{}))
	assert.Equal(t, 2, set.Add(r3.Vector{X: 3}, Detection{Pixel: pt(30, 40), Found: true}))
	assert.Equal(t, 3, set.AddMetric(r3.Vector{X: 4}, pt(0.1, 0.2)))

	assert.Equal(t, 4, set.Len())
	assert.Equal(t, 3, set.ValidCount())
	assert.False(t, set.At(1).Valid)
	assert.Equal(t, RejectNotFound, set.At(1).Reject)

	valid := set.Valid()
	require.Len(t, valid, 3)
	assert.Equal(t, 3.0, valid[1].World.X)

	sub := set.Subset([]int{1, 2, 7, -1})
	require.Len(t, sub, 1, "invalid and out-of-range indices are skipped")
	assert.Equal(t, 3.0, sub[0].World.X)

	set.UpdateMetric(NewCameraModel(10, 20, 0, 0))
	assert.Equal(t, r2.Point{X: 1, Y: 1}, set.At(0).Metric)
	assert.Equal(t, pt(0.1, 0.2), set.At(3).Metric, "metric-only entries keep their coordinates")

	set.InvalidateAll(RejectImageDiscarded)
	assert.Zero(t, set.ValidCount())
	assert.Equal(t, RejectNotFound, set.At(1).Reject, "already invalid entries keep their reason")
	assert.Equal(t, RejectImageDiscarded, set.At(2).Reject)

	set.Clear()
	assert.Zero(t, set.Len())
}

func TestCorrespondenceSet_Nil(t *testing.T) {
	t.Parallel()
	var set *CorrespondenceSet
	assert.Zero(t, set.Len())
	assert.Zero(t, set.ValidCount())
	assert.Nil(t, set.Valid())
	assert.Nil(t, set.Subset([]int{0, 1}))

	var rec *CalibrationRecord
	assert.Zero(t, rec.ValidCount())
}

func TestDetection_HasBounds(t *testing.T) {
	t.Parallel()
	assert.False(t, Detection{}.HasBounds())
	assert.True(t, Detection{Bounds: r2.RectFromCenterSize(pt(5, 5), pt(2, 2))}.HasBounds())
	assert.False(t, Detection{Bounds: r2.EmptyRect()}.HasBounds())
}

func TestImageStatus_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Included", StatusIncluded.String())
	assert.Equal(t, "ExcludedNoValidPoints", StatusExcludedNoValidPoints.String())
	assert.Equal(t, "PoseComputationFailed", StatusPoseComputationFailed.String())
	assert.Equal(t, "Unknown", ImageStatus(42).String())
}
