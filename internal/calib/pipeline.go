package calib

import (
	"context"
	"fmt"

	"github.com/golang/geo/r3"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/camcal/internal/monitoring"
)

// Config gathers everything a calibration run needs.
type Config struct {
	Engine EngineConfig
	Pose   PoseConfig
	Gate   OutlierGate
	// SeedFocalPx is the initial guess for both focal scales.
	SeedFocalPx float64
	// Workers bounds per-image concurrency. Zero means unbounded.
	Workers int
}

// DefaultConfig returns the default run configuration.
func DefaultConfig() Config {
	return Config{
		Engine:      DefaultEngineConfig(),
		Pose:        DefaultPoseConfig(),
		Gate:        DefaultOutlierGate(),
		SeedFocalPx: 600,
	}
}

// PointInput is one detector tuple: a known world point and what the
// detector reported for it.
type PointInput struct {
	World     r3.Vector
	Detection Detection
}

// ImageInput is the detector output for one image.
type ImageInput struct {
	Name   string
	Width  int
	Height int
	Points []PointInput
	// SeedIndices selects the trusted points used for the initial pose. Empty
	// means every found point.
	SeedIndices []int
}

// ImageResult reports what happened to one image.
type ImageResult struct {
	Index  int
	Name   string
	Status ImageStatus
	// Reason explains a non-Included status.
	Reason         string
	Pose           Pose
	PoseIterations int
	Gate           GateReport
	ValidPoints    int
	Quality        PoseQuality
}

// Result is the outcome of Pipeline.Run.
type Result struct {
	// Camera is the final model: the distortion-aware one when that mode ran.
	Camera             CameraModel
	CameraNoDistortion CameraModel
	CameraDistortion   *CameraModel

	Images  []ImageResult
	Records []*CalibrationRecord
	Report  *Report

	FreeRun  *EngineResult
	AwareRun *EngineResult
}

// Included returns the number of images that contributed to the calibration.
func (r *Result) Included() int {
	n := 0
	for _, img := range r.Images {
		if img.Status == StatusIncluded {
			n++
		}
	}
	return n
}

// Pipeline runs the complete calibration: per-image pose estimation and
// outlier gating, distortion-free joint refinement and, in distortion-aware
// mode, a second refinement seeded from the first.
type Pipeline struct {
	cfg    Config
	solver *PoseSolver
}

// NewPipeline creates a pipeline.
func NewPipeline(cfg Config) *Pipeline {
	if cfg.SeedFocalPx <= 0 {
		cfg.SeedFocalPx = DefaultConfig().SeedFocalPx
	}
	if cfg.Engine.Workers == 0 {
		cfg.Engine.Workers = cfg.Workers
	}
	return &Pipeline{cfg: cfg, solver: NewPoseSolver(cfg.Pose)}
}

// Run calibrates from images. Per-image failures are reported in the result;
// only failures of the joint problem are returned as errors. ctx is checked
// between phases.
func (p *Pipeline) Run(ctx context.Context, images []ImageInput) (*Result, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: %w: no images", ErrCalibrationIllConditioned, ErrInsufficientCorrespondences)
	}
	seed := SeedFromImage(images[0].Width, images[0].Height, p.cfg.SeedFocalPx, p.cfg.SeedFocalPx)
	if err := seed.Validate(); err != nil {
		return nil, err
	}

	records := make([]*CalibrationRecord, len(images))
	results := make([]ImageResult, len(images))

	g, gctx := errgroup.WithContext(ctx)
	if p.cfg.Workers > 0 {
		g.SetLimit(p.cfg.Workers)
	}
	for i := range images {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records[i], results[i] = p.prepare(seed, i, images[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	freeCfg := p.cfg.Engine
	freeCfg.Mode = ModeDistortionFree
	free, err := NewEngine(freeCfg).Calibrate(records, seed)
	if err != nil {
		return nil, fmt.Errorf("distortion-free calibration: %w", err)
	}
	free.Commit(records)
	freeFit := FitFromResult(free)

	res := &Result{
		Camera:             free.Camera,
		CameraNoDistortion: free.Camera,
		Records:            records,
		FreeRun:            free,
	}
	final := freeFit

	var awareFit *Fit
	if p.cfg.Engine.Mode == ModeDistortionAware {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		awareCfg := p.cfg.Engine
		aware, err := NewEngine(awareCfg).Calibrate(records, free.Camera.WithDistortion())
		if err != nil {
			return nil, fmt.Errorf("distortion-aware calibration: %w", err)
		}
		aware.Commit(records)
		fit := FitFromResult(aware)
		awareFit = &fit
		final = fit
		cam := aware.Camera
		res.Camera = cam
		res.CameraDistortion = &cam
		res.AwareRun = aware
	}

	res.Report = Analyze(records, freeFit, awareFit)
	rms := make(map[int]float64, len(res.Report.Images))
	for _, img := range res.Report.Images {
		rms[img.Index] = img.NoDistortion.RMS
		if img.Distortion != nil {
			rms[img.Index] = img.Distortion.RMS
		}
	}
	for i := range results {
		if results[i].Status != StatusIncluded {
			continue
		}
		pose := final.Poses[i]
		results[i].Pose = pose
		results[i].Quality = ValidatePose(&pose, rms[i]).Quality
	}
	res.Images = results
	return res, nil
}

// prepare estimates the pose of one image and gates its correspondences. It
// only reads the shared seed camera.
func (p *Pipeline) prepare(seed CameraModel, index int, img ImageInput) (*CalibrationRecord, ImageResult) {
	set := NewCorrespondenceSet(len(img.Points))
	for _, pt := range img.Points {
		set.Add(pt.World, pt.Detection)
	}
	set.UpdateMetric(seed)

	rec := &CalibrationRecord{Name: img.Name, Width: img.Width, Height: img.Height, Points: set}
	res := ImageResult{Index: index, Name: img.Name}
	fail := func(status ImageStatus, reason string) (*CalibrationRecord, ImageResult) {
		set.InvalidateAll(RejectImageDiscarded)
		rec.Status, rec.Reason = status, reason
		res.Status, res.Reason = status, reason
		res.Quality = PoseQualityUnknown
		monitoring.Logf("calib: image %d (%s): %s: %s", index, img.Name, status, reason)
		return rec, res
	}

	if set.ValidCount() == 0 {
		return fail(StatusExcludedNoValidPoints, "no detections found")
	}

	pts := set.Valid()
	if len(img.SeedIndices) > 0 {
		pts = set.Subset(img.SeedIndices)
	}
	pose, err := p.solver.Compute(pts)
	if err != nil && len(img.SeedIndices) > 0 {
		monitoring.Logf("calib: image %d (%s): seed pose failed (%v), retrying with all %d found points", index, img.Name, err, set.ValidCount())
		pose, err = p.solver.Compute(set.Valid())
	}
	if err != nil {
		return fail(StatusPoseComputationFailed, err.Error())
	}

	res.Gate = p.cfg.Gate.Apply(set, seed, pose.Pose, img.Width, img.Height)
	if n := set.ValidCount(); n < MinPosePoints {
		return fail(StatusExcludedNoValidPoints, fmt.Sprintf("%d valid points left after outlier gate", n))
	}

	// Refit on every accepted point; the seed subset pose stays if this fails.
	if refined, err := p.solver.Refine(set.Valid(), pose.Pose); err == nil {
		pose = refined
	}

	rec.Pose = pose.Pose
	rec.Status = StatusIncluded
	res.Status = StatusIncluded
	res.Pose = pose.Pose
	res.PoseIterations = pose.Iterations
	res.ValidPoints = set.ValidCount()
	return rec, res
}
