package calib

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ResidualStats summarises the pixel reprojection residuals (predicted −
// detected) of a set of valid correspondences.
type ResidualStats struct {
	Count int `json:"count"`
	// Failed counts valid points that could not be projected.
	Failed int `json:"failed,omitempty"`
	// StdDev is the sample standard deviation of the residual magnitudes.
	StdDev float64 `json:"std_dev"`
	Mean   float64 `json:"mean"`
	// RMS is the root mean squared residual magnitude.
	RMS float64 `json:"rms"`
	P95 float64 `json:"p95"`
	Max float64 `json:"max"`

	// Vectors holds the residual vector of every projected point in order.
	Vectors []r2.Point `json:"-"`
}

// Magnitudes returns the length of every residual vector.
func (s ResidualStats) Magnitudes() []float64 {
	out := make([]float64, len(s.Vectors))
	for i, v := range s.Vectors {
		out[i] = v.Norm()
	}
	return out
}

// Residuals computes the pixel residuals of the valid points of set under cam
// and pose.
func Residuals(set *CorrespondenceSet, cam CameraModel, pose Pose) ResidualStats {
	var vecs []r2.Point
	failed := 0
	for _, c := range set.Valid() {
		p, err := cam.ProjectToPixel(c.World, pose)
		if err != nil {
			failed++
			continue
		}
		vecs = append(vecs, p.Sub(c.Detection.Pixel))
	}
	s := summarise(vecs)
	s.Failed = failed
	return s
}

func summarise(vecs []r2.Point) ResidualStats {
	s := ResidualStats{Count: len(vecs), Vectors: vecs}
	if len(vecs) == 0 {
		return s
	}
	mags := make([]float64, len(vecs))
	for i, v := range vecs {
		mags[i] = v.Norm()
	}
	s.Mean = stat.Mean(mags, nil)
	if len(mags) > 1 {
		s.StdDev = stat.StdDev(mags, nil)
	}
	s.RMS = floats.Norm(mags, 2) / math.Sqrt(float64(len(mags)))
	s.Max = floats.Max(mags)

	sorted := append([]float64(nil), mags...)
	sort.Float64s(sorted)
	s.P95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	return s
}

// Fit is one calibrated model: the shared camera and the pose of every
// contributing record, keyed by record index.
type Fit struct {
	Camera CameraModel
	Poses  map[int]Pose
}

// FitFromResult returns the Fit of an engine run.
func FitFromResult(r *EngineResult) Fit {
	return Fit{Camera: r.Camera, Poses: r.Poses}
}

// ImageResiduals holds the residuals of one record under both models.
type ImageResiduals struct {
	Index        int            `json:"index"`
	Name         string         `json:"name"`
	NoDistortion ResidualStats  `json:"no_distortion"`
	Distortion   *ResidualStats `json:"distortion,omitempty"`
}

// Report is the output of Analyze. Distortion fields are nil when no
// distortion-aware fit was supplied.
type Report struct {
	Images       []ImageResiduals `json:"images"`
	NoDistortion ResidualStats    `json:"no_distortion"`
	Distortion   *ResidualStats   `json:"distortion,omitempty"`
}

// Improvement returns how much the distortion-aware model lowers the
// aggregate residual standard deviation, in pixels. It is zero when no
// distortion-aware fit was analysed.
func (r *Report) Improvement() float64 {
	if r == nil || r.Distortion == nil {
		return 0
	}
	return r.NoDistortion.StdDev - r.Distortion.StdDev
}

// Analyze computes per-record and aggregate residual statistics for the
// distortion-free fit and, when distorted is non-nil, the distortion-aware
// one. Only records with a pose in the distortion-free fit are analysed.
// Inputs are not modified.
func Analyze(records []*CalibrationRecord, free Fit, distorted *Fit) *Report {
	report := &Report{}
	var allFree, allDist []r2.Point
	for i, rec := range records {
		pose, ok := free.Poses[i]
		if !ok || rec == nil {
			continue
		}
		img := ImageResiduals{Index: i, Name: rec.Name}
		img.NoDistortion = Residuals(rec.Points, free.Camera, pose)
		allFree = append(allFree, img.NoDistortion.Vectors...)

		if distorted != nil {
			if dp, ok := distorted.Poses[i]; ok {
				s := Residuals(rec.Points, distorted.Camera, dp)
				img.Distortion = &s
				allDist = append(allDist, s.Vectors...)
			}
		}
		report.Images = append(report.Images, img)
	}

	report.NoDistortion = summarise(allFree)
	if distorted != nil {
		s := summarise(allDist)
		report.Distortion = &s
	}
	return report
}
