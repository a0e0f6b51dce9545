package calib

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// DivergenceFactor bounds the growth of the squared error relative to the
	// first iteration before a refinement is declared diverged.
	DivergenceFactor = 1e6

	// poseResidualFloor is the squared metric error per observation below
	// which refinement stops; it sits at double-precision noise.
	poseResidualFloor = 1e-28

	// svdRankTolerance is the relative singular value cut-off used by the
	// least-squares solves.
	svdRankTolerance = 1e-12
)

// PoseConfig controls the iterative pose refinement.
type PoseConfig struct {
	// Gain scales each Gauss-Newton step (1 = undamped).
	Gain float64
	// MaxIterations caps the number of refinement steps.
	MaxIterations int
	// Tolerance is the change in total squared metric error below which the
	// refinement is considered converged.
	Tolerance float64
	// MaxGrowth is the factor by which the squared error may exceed that of
	// the first iteration before the refinement is declared diverged. Zero
	// selects DivergenceFactor.
	MaxGrowth float64
}

func growthLimit(f float64) float64 {
	if f <= 0 {
		return DivergenceFactor
	}
	return f
}

// DefaultPoseConfig returns the defaults used by the pipeline.
func DefaultPoseConfig() PoseConfig {
	return PoseConfig{Gain: 1.0, MaxIterations: 200, Tolerance: 1e-16}
}

// PoseResult is the outcome of a pose refinement.
type PoseResult struct {
	Pose       Pose
	Iterations int
	// Residual is the total squared metric reprojection error of Pose.
	Residual  float64
	Converged bool
}

// PoseSolver estimates the pose of one image from its correspondences.
type PoseSolver struct {
	cfg PoseConfig
}

// NewPoseSolver creates a solver. Non-positive fields fall back to
// DefaultPoseConfig values.
func NewPoseSolver(cfg PoseConfig) *PoseSolver {
	def := DefaultPoseConfig()
	if cfg.Gain <= 0 {
		cfg.Gain = def.Gain
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	return &PoseSolver{cfg: cfg}
}

// Compute seeds the pose with InitLagrange and refines it with Refine.
func (s *PoseSolver) Compute(points []Correspondence) (PoseResult, error) {
	seed, err := InitLagrange(points)
	if err != nil {
		return PoseResult{}, err
	}
	return s.Refine(points, seed)
}

// Refine minimises the metric reprojection error of the valid points over
// the six pose degrees of freedom by virtual visual servoing: the camera
// velocity v = −gain·L⁺·e drives the feature error e to zero, and the pose is
// updated on SE(3) with ServoStep.
func (s *PoseSolver) Refine(points []Correspondence, seed Pose) (PoseResult, error) {
	pts := validOnly(points)
	n := len(pts)
	if n < MinPosePoints {
		return PoseResult{}, fmt.Errorf("%w: pose refinement needs at least %d points, got %d", ErrInsufficientCorrespondences, MinPosePoints, n)
	}

	pose := seed
	L := mat.NewDense(2*n, 6, nil)
	e := mat.NewVecDense(2*n, nil)
	prev := math.Inf(1)
	initial := 0.0
	growth := growthLimit(s.cfg.MaxGrowth)

	for iter := 0; ; iter++ {
		var sq float64
		for i, p := range pts {
			pc := pose.Apply(p.World)
			if pc.Z < MinDepth || math.IsNaN(pc.Z) {
				return PoseResult{Pose: pose, Iterations: iter}, fmt.Errorf("%w: point %d reached depth %g after %d iterations", ErrPoseComputationFailed, i, pc.Z, iter)
			}
			invZ := 1 / pc.Z
			x, y := pc.X*invZ, pc.Y*invZ
			ex, ey := x-p.Metric.X, y-p.Metric.Y

			L.SetRow(2*i, []float64{-invZ, 0, x * invZ, x * y, -(1 + x*x), y})
			L.SetRow(2*i+1, []float64{0, -invZ, y * invZ, 1 + y*y, -x * y, -x})
			e.SetVec(2*i, ex)
			e.SetVec(2*i+1, ey)
			sq += ex*ex + ey*ey
		}

		if math.IsNaN(sq) || math.IsInf(sq, 0) {
			return PoseResult{Pose: pose, Iterations: iter}, fmt.Errorf("%w: non-finite reprojection error", ErrPoseComputationFailed)
		}
		if iter == 0 {
			initial = sq
		} else if sq > growth*initial && sq > poseResidualFloor*float64(n) {
			return PoseResult{Pose: pose, Iterations: iter, Residual: sq}, fmt.Errorf("%w: error grew from %g to %g", ErrPoseComputationFailed, initial, sq)
		}

		if math.Abs(prev-sq) < s.cfg.Tolerance || sq < poseResidualFloor*float64(n) {
			return PoseResult{Pose: pose, Iterations: iter, Residual: sq, Converged: true}, nil
		}
		if iter >= s.cfg.MaxIterations {
			return PoseResult{Pose: pose, Iterations: iter, Residual: sq}, fmt.Errorf("%w: no convergence after %d iterations (error %g)", ErrPoseComputationFailed, iter, sq)
		}
		prev = sq

		v, err := solveLeastSquares(L, e, 6)
		if err != nil {
			return PoseResult{Pose: pose, Iterations: iter, Residual: sq}, err
		}
		var tw Twist
		for k := 0; k < 6; k++ {
			tw[k] = -s.cfg.Gain * v.AtVec(k)
		}
		pose = pose.ServoStep(tw)
	}
}

// solveLeastSquares returns the minimum-norm least-squares solution of
// a·x = b, failing when a has rank below want.
func solveLeastSquares(a *mat.Dense, b *mat.VecDense, want int) (*mat.VecDense, error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, fmt.Errorf("%w: interaction matrix SVD failed", ErrPoseComputationFailed)
	}
	rank := svd.Rank(svdRankTolerance)
	if rank < want {
		return nil, fmt.Errorf("%w: interaction matrix has rank %d, want %d", ErrPoseComputationFailed, rank, want)
	}
	var x mat.VecDense
	svd.SolveVecTo(&x, b, rank)
	return &x, nil
}
