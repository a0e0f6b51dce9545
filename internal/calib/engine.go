package calib

import (
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/camcal/internal/monitoring"
)

// Mode selects the intrinsic parameter set refined by the Engine.
type Mode int

const (
	// ModeDistortionFree refines Px, Py, U0 and V0.
	ModeDistortionFree Mode = iota
	// ModeDistortionAware additionally refines the radial terms K1 and K2.
	ModeDistortionAware
)

func (m Mode) String() string {
	switch m {
	case ModeDistortionFree:
		return "distortion-free"
	case ModeDistortionAware:
		return "distortion-aware"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses the configuration spelling of a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "distortion-free":
		return ModeDistortionFree, nil
	case "distortion-aware":
		return ModeDistortionAware, nil
	default:
		return 0, fmt.Errorf("unknown calibration mode %q (want distortion-free or distortion-aware)", s)
	}
}

// engineResidualFloor is the mean squared pixel residual per observation
// below which the joint refinement is considered exact.
const engineResidualFloor = 1e-20

// EngineConfig controls the joint refinement.
type EngineConfig struct {
	Mode Mode
	// Gain damps every update: parameters move by −Gain·Δ.
	Gain float64
	// MaxIterations caps the number of updates.
	MaxIterations int
	// Tolerance is the relative decrease of the total squared residual below
	// which the refinement stops.
	Tolerance float64
	// Workers bounds the number of images processed concurrently while
	// building the normal equations. Zero means unbounded.
	Workers int
	// MaxCondition is the largest accepted condition number of the scaled
	// normal matrix.
	MaxCondition float64
	// MaxGrowth is the accepted growth of the total squared residual over the
	// first iteration. Zero selects DivergenceFactor.
	MaxGrowth float64
}

// DefaultEngineConfig returns the defaults used by the pipeline.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Mode:          ModeDistortionAware,
		Gain:          0.5,
		MaxIterations: 200,
		Tolerance:     1e-10,
		MaxCondition:  1e14,
	}
}

// EngineResult is the outcome of a joint refinement.
type EngineResult struct {
	Camera CameraModel
	// Poses holds the refined pose of every contributing record, keyed by the
	// record's index in the input slice.
	Poses map[int]Pose
	// Iterations is the number of updates applied.
	Iterations int
	// Residual is the total squared pixel residual of the final parameters.
	Residual     float64
	Observations int
	Converged    bool
	// Excluded lists the indices of records that had no valid points.
	Excluded []int
}

// RMS returns the root mean squared pixel residual per coordinate.
func (r *EngineResult) RMS() float64 {
	if r.Observations == 0 {
		return 0
	}
	return math.Sqrt(r.Residual / float64(r.Observations))
}

// Commit copies the refined poses back into records.
func (r *EngineResult) Commit(records []*CalibrationRecord) {
	for i, p := range r.Poses {
		if i >= 0 && i < len(records) && records[i] != nil {
			records[i].Pose = p
		}
	}
}

// Engine jointly refines one shared CameraModel and the pose of every image.
type Engine struct {
	cfg EngineConfig
}

// NewEngine creates an engine. Non-positive numeric fields fall back to
// DefaultEngineConfig values.
func NewEngine(cfg EngineConfig) *Engine {
	def := DefaultEngineConfig()
	if cfg.Gain <= 0 {
		cfg.Gain = def.Gain
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	if cfg.MaxCondition <= 0 {
		cfg.MaxCondition = def.MaxCondition
	}
	return &Engine{cfg: cfg}
}

// Config returns the effective configuration.
func (e *Engine) Config() EngineConfig {
	return e.cfg
}

type engineImage struct {
	index  int
	name   string
	points []Correspondence
	pose   Pose
}

// Calibrate minimises the total squared pixel reprojection error of every
// valid correspondence of every record over the shared intrinsics and the
// per-record poses. Records are not modified; see EngineResult.Commit.
//
// Each iteration builds the per-image blocks of the normal equations in
// parallel against a snapshot of the camera, assembles them in record order,
// solves, and only then updates the camera and the poses.
func (e *Engine) Calibrate(records []*CalibrationRecord, seed CameraModel) (*EngineResult, error) {
	distortion := e.cfg.Mode == ModeDistortionAware
	cam := seed.WithoutDistortion()
	if distortion {
		cam = seed.WithDistortion()
	}
	if err := cam.Validate(); err != nil {
		return nil, err
	}

	result := &EngineResult{Poses: make(map[int]Pose)}
	var images []*engineImage
	obs := 0
	for i, rec := range records {
		if rec == nil || rec.ValidCount() == 0 {
			result.Excluded = append(result.Excluded, i)
			if rec != nil {
				monitoring.Logf("calib: image %d (%s) has no valid points, excluded from %s refinement", i, rec.Name, e.cfg.Mode)
			}
			continue
		}
		pts := rec.Points.Valid()
		images = append(images, &engineImage{index: i, name: rec.Name, points: pts, pose: rec.Pose})
		obs += 2 * len(pts)
	}

	if len(images) == 0 {
		return nil, fmt.Errorf("%w: %w: no image has valid points", ErrCalibrationIllConditioned, ErrInsufficientCorrespondences)
	}
	nc := intrinsicCount(distortion)
	params := nc + 6*len(images)
	if obs < params {
		return nil, fmt.Errorf("%w: %d observations for %d parameters", ErrCalibrationIllConditioned, obs, params)
	}

	prev := math.Inf(1)
	initial := 0.0
	growth := growthLimit(e.cfg.MaxGrowth)
	iter := 0
	for ; ; iter++ {
		blocks, err := e.computeBlocks(cam, images, distortion)
		if err != nil {
			return nil, err
		}
		sq := 0.0
		for _, b := range blocks {
			sq += b.sq
		}
		if math.IsNaN(sq) || math.IsInf(sq, 0) {
			return nil, fmt.Errorf("%w: non-finite residual after %d iterations", ErrCalibrationIllConditioned, iter)
		}
		if iter == 0 {
			initial = sq
		} else if sq > growth*initial && sq > engineResidualFloor*float64(obs) {
			return nil, fmt.Errorf("%w: residual grew from %g to %g", ErrCalibrationIllConditioned, initial, sq)
		}
		result.Residual = sq
		monitoring.Debugf("calib: %s iteration %d: residual %.6g px²", e.cfg.Mode, iter, sq)

		if sq < engineResidualFloor*float64(obs) || (iter > 0 && math.Abs(prev-sq) <= e.cfg.Tolerance*prev) {
			result.Converged = true
			break
		}
		if iter >= e.cfg.MaxIterations {
			break
		}
		prev = sq

		delta, err := e.solve(blocks, nc)
		if err != nil {
			return nil, err
		}

		cam = applyIntrinsicStep(cam, delta[:nc], e.cfg.Gain)
		if err := cam.Validate(); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", iter, err)
		}
		for j, img := range images {
			var tw Twist
			for k := 0; k < 6; k++ {
				tw[k] = -e.cfg.Gain * delta[nc+6*j+k]
			}
			img.pose = img.pose.ServoStep(tw)
		}
	}

	result.Camera = cam
	result.Iterations = iter
	result.Observations = obs
	for _, img := range images {
		result.Poses[img.index] = img.pose
	}
	monitoring.Logf("calib: %s refinement of %d images stopped after %d iterations (converged=%v, rms %.6f px): %s",
		e.cfg.Mode, len(images), iter, result.Converged, result.RMS(), cam)
	return result, nil
}

// computeBlocks evaluates every image against the same camera snapshot.
func (e *Engine) computeBlocks(cam CameraModel, images []*engineImage, distortion bool) ([]*imageBlock, error) {
	blocks := make([]*imageBlock, len(images))
	var g errgroup.Group
	if e.cfg.Workers > 0 {
		g.SetLimit(e.cfg.Workers)
	}
	for j, img := range images {
		g.Go(func() error {
			b, err := computeImageBlock(cam, img.pose, img.points, distortion)
			if err != nil {
				return fmt.Errorf("%w: image %d (%s): %v", ErrCalibrationIllConditioned, img.index, img.name, err)
			}
			blocks[j] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blocks, nil
}

// solve assembles the normal equations JᵀJ·Δ = Jᵀe from the image blocks and
// returns Δ. The system is Jacobi-scaled before the Cholesky factorisation so
// the condition check is independent of parameter units.
func (e *Engine) solve(blocks []*imageBlock, nc int) ([]float64, error) {
	n := nc + 6*len(blocks)
	a := mat.NewSymDense(n, nil)
	g := make([]float64, n)

	for i := 0; i < nc; i++ {
		for j := i; j < nc; j++ {
			var s float64
			for _, b := range blocks {
				s += b.cc[i*nc+j]
			}
			a.SetSym(i, j, s)
		}
		for _, b := range blocks {
			g[i] += b.gc[i]
		}
	}
	for k, b := range blocks {
		off := nc + 6*k
		for i := 0; i < nc; i++ {
			for j := 0; j < 6; j++ {
				a.SetSym(i, off+j, b.cp[i*6+j])
			}
		}
		for i := 0; i < 6; i++ {
			for j := i; j < 6; j++ {
				a.SetSym(off+i, off+j, b.pp[i*6+j])
			}
			g[off+i] = b.gp[i]
		}
	}

	scale := make([]float64, n)
	for i := 0; i < n; i++ {
		d := a.At(i, i)
		if !(d > 0) {
			return nil, fmt.Errorf("%w: parameter %s is unobservable", ErrCalibrationIllConditioned, paramName(i, nc))
		}
		scale[i] = 1 / math.Sqrt(d)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			a.SetSym(i, j, a.At(i, j)*scale[i]*scale[j])
		}
	}
	floats.Mul(g, scale)

	var chol mat.Cholesky
	if !chol.Factorize(a) {
		return nil, fmt.Errorf("%w: normal matrix is not positive definite", ErrCalibrationIllConditioned)
	}
	if c := chol.Cond(); c > e.cfg.MaxCondition || math.IsNaN(c) {
		return nil, fmt.Errorf("%w: normal matrix condition number %.3g exceeds %.3g", ErrCalibrationIllConditioned, c, e.cfg.MaxCondition)
	}
	var y mat.VecDense
	if err := chol.SolveVecTo(&y, mat.NewVecDense(n, g)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCalibrationIllConditioned, err)
	}
	delta := make([]float64, n)
	for i := range delta {
		delta[i] = y.AtVec(i) * scale[i]
	}
	return delta, nil
}

func applyIntrinsicStep(cam CameraModel, d []float64, gain float64) CameraModel {
	cam.Px -= gain * d[0]
	cam.Py -= gain * d[1]
	cam.U0 -= gain * d[2]
	cam.V0 -= gain * d[3]
	if len(d) == 6 {
		cam.K1 -= gain * d[4]
		cam.K2 -= gain * d[5]
	}
	return cam
}

func paramName(i, nc int) string {
	names := [...]string{"px", "py", "u0", "v0", "k1", "k2"}
	if i < nc {
		return names[i]
	}
	i -= nc
	return fmt.Sprintf("pose[%d].%d", i/6, i%6)
}
