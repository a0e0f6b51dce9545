package calib

import "github.com/golang/geo/r2"

// OutlierGate validates an image's correspondences against a pose estimate
// before they enter the joint calibration.
type OutlierGate struct {
	// BorderMarginPx rejects points whose predicted location lies within this
	// many pixels of the image border.
	BorderMarginPx float64
	// DetectionMarginPx rejects detections whose extent comes within this
	// many pixels of the image border.
	DetectionMarginPx float64
	// PixelTolerance is the largest accepted Euclidean distance between the
	// predicted and the detected location.
	PixelTolerance float64
}

// DefaultOutlierGate returns a gate with 10 px border margin, 5 px detection
// margin and 10 px displacement tolerance.
func DefaultOutlierGate() OutlierGate {
	return OutlierGate{BorderMarginPx: 10, DetectionMarginPx: 5, PixelTolerance: 10}
}

// GateReport summarises one gate pass.
type GateReport struct {
	Checked  int
	Accepted int
	Rejected map[RejectReason]int
}

// Check classifies a single correspondence given its predicted pixel
// location. It returns RejectNone when the correspondence is acceptable.
func (g OutlierGate) Check(predicted r2.Point, det Detection, width, height int) RejectReason {
	w, h := float64(width), float64(height)
	m := g.BorderMarginPx
	if !(m < predicted.X && predicted.X < w-m && m < predicted.Y && predicted.Y < h-m) {
		return RejectNearBorder
	}
	if !det.Found {
		return RejectNotFound
	}
	if det.HasBounds() {
		dm := g.DetectionMarginPx
		b := det.Bounds
		if b.X.Lo < dm || b.X.Hi > w-dm || b.Y.Lo < dm || b.Y.Hi > h-dm {
			return RejectExtentNearBorder
		}
	}
	if predicted.Sub(det.Pixel).Norm() > g.PixelTolerance {
		return RejectTooFar
	}
	return RejectNone
}

// Apply projects every valid correspondence of set through pose and cam and
// invalidates the ones that fail Check. Accepted correspondences get their
// metric coordinates recomputed from the detection with cam.
func (g OutlierGate) Apply(set *CorrespondenceSet, cam CameraModel, pose Pose, width, height int) GateReport {
	report := GateReport{Rejected: make(map[RejectReason]int)}
	for i := 0; i < set.Len(); i++ {
		c := set.At(i)
		if !c.Valid {
			continue
		}
		report.Checked++

		reason := RejectProjection
		if predicted, err := cam.ProjectToPixel(c.World, pose); err == nil {
			reason = g.Check(predicted, c.Detection, width, height)
		}

		if reason != RejectNone {
			set.Invalidate(i, reason)
			report.Rejected[reason]++
			continue
		}
		set.items[i].Metric = cam.ToMetric(c.Detection.Pixel)
		report.Accepted++
	}
	return report
}
