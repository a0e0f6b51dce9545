package calib

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// Detection is what the external feature detector reports for one world
// point in one image.
type Detection struct {
	// Pixel is the detected feature centre.
	Pixel r2.Point
	// Bounds is the detected feature extent in pixels. The zero Rect means the
	// detector reported no extent.
	Bounds r2.Rect
	// Found is false when the detector lost the feature.
	Found bool
}

// HasBounds reports whether the detector supplied a usable extent.
func (d Detection) HasBounds() bool {
	return d.Bounds != (r2.Rect{}) && !d.Bounds.IsEmpty()
}

// RejectReason records why a correspondence was marked invalid.
type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectNotFound
	RejectNearBorder
	RejectExtentNearBorder
	RejectTooFar
	RejectProjection
	RejectImageDiscarded
)

func (r RejectReason) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectNotFound:
		return "not-found"
	case RejectNearBorder:
		return "near-border"
	case RejectExtentNearBorder:
		return "extent-near-border"
	case RejectTooFar:
		return "too-far"
	case RejectProjection:
		return "projection-failed"
	case RejectImageDiscarded:
		return "image-discarded"
	default:
		return "unknown"
	}
}

// Correspondence pairs a world point with its detection. Metric holds the
// detection in undistorted metric coordinates for the camera it was last
// converted with. Invalid correspondences are kept for inspection but skipped
// by every computation.
type Correspondence struct {
	World     r3.Vector
	Detection Detection
	Metric    r2.Point
	Valid     bool
	Reject    RejectReason
}

// CorrespondenceSet is the ordered list of correspondences of one image.
type CorrespondenceSet struct {
	items []Correspondence
}

// NewCorrespondenceSet returns an empty set with room for n entries.
func NewCorrespondenceSet(n int) *CorrespondenceSet {
	return &CorrespondenceSet{items: make([]Correspondence, 0, n)}
}

// Add registers a world point with its detection and returns its index.
// Detections that were not found start out invalid.
func (s *CorrespondenceSet) Add(world r3.Vector, det Detection) int {
	c := Correspondence{World: world, Detection: det, Valid: det.Found}
	if !det.Found {
		c.Reject = RejectNotFound
	}
	s.items = append(s.items, c)
	return len(s.items) - 1
}

// AddMetric registers a correspondence observed directly in metric
// coordinates. It is always valid.
func (s *CorrespondenceSet) AddMetric(world r3.Vector, metric r2.Point) int {
	s.items = append(s.items, Correspondence{World: world, Metric: metric, Valid: true})
	return len(s.items) - 1
}

// Len returns the number of correspondences, valid or not.
func (s *CorrespondenceSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// At returns a copy of the i-th correspondence.
func (s *CorrespondenceSet) At(i int) Correspondence {
	return s.items[i]
}

// ValidCount returns the number of valid correspondences.
func (s *CorrespondenceSet) ValidCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for i := range s.items {
		if s.items[i].Valid {
			n++
		}
	}
	return n
}

// Valid returns copies of the valid correspondences in order.
func (s *CorrespondenceSet) Valid() []Correspondence {
	if s == nil {
		return nil
	}
	out := make([]Correspondence, 0, len(s.items))
	for _, c := range s.items {
		if c.Valid {
			out = append(out, c)
		}
	}
	return out
}

// Subset returns copies of the valid correspondences at the given indices.
// Out-of-range indices are ignored.
func (s *CorrespondenceSet) Subset(indices []int) []Correspondence {
	if s == nil {
		return nil
	}
	out := make([]Correspondence, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(s.items) || !s.items[i].Valid {
			continue
		}
		out = append(out, s.items[i])
	}
	return out
}

// Invalidate marks the i-th correspondence invalid for the given reason.
func (s *CorrespondenceSet) Invalidate(i int, reason RejectReason) {
	s.items[i].Valid = false
	s.items[i].Reject = reason
}

// InvalidateAll marks every correspondence invalid.
func (s *CorrespondenceSet) InvalidateAll(reason RejectReason) {
	for i := range s.items {
		if s.items[i].Valid {
			s.Invalidate(i, reason)
		}
	}
}

// UpdateMetric recomputes the metric coordinates of every detected
// correspondence with cam.
func (s *CorrespondenceSet) UpdateMetric(cam CameraModel) {
	for i := range s.items {
		if s.items[i].Detection.Found {
			s.items[i].Metric = cam.ToMetric(s.items[i].Detection.Pixel)
		}
	}
}

// Rejections counts invalid correspondences per reason.
func (s *CorrespondenceSet) Rejections() map[RejectReason]int {
	out := make(map[RejectReason]int)
	for _, c := range s.items {
		if !c.Valid {
			out[c.Reject]++
		}
	}
	return out
}

// Clear empties the set so it can be rebuilt for a new image.
func (s *CorrespondenceSet) Clear() {
	s.items = s.items[:0]
}

// ImageStatus is the outcome of one image in a calibration run.
type ImageStatus int

const (
	StatusIncluded ImageStatus = iota
	StatusExcludedNoValidPoints
	StatusPoseComputationFailed
)

func (s ImageStatus) String() string {
	switch s {
	case StatusIncluded:
		return "Included"
	case StatusExcludedNoValidPoints:
		return "ExcludedNoValidPoints"
	case StatusPoseComputationFailed:
		return "PoseComputationFailed"
	default:
		return "Unknown"
	}
}

// CalibrationRecord is the per-image unit consumed by the Engine: the image's
// correspondences plus its current pose estimate.
type CalibrationRecord struct {
	Name   string
	Width  int
	Height int
	Points *CorrespondenceSet
	Pose   Pose
	Status ImageStatus
	Reason string
}

// ValidCount returns the number of valid correspondences of the record.
func (r *CalibrationRecord) ValidCount() int {
	if r == nil {
		return 0
	}
	return r.Points.ValidCount()
}
