package calib

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

const (
	// MinPosePoints is the smallest number of valid correspondences accepted
	// by the pose solver. Planar scenes need 4, non-planar ones MinNonPlanarPoints.
	MinPosePoints = 4
	// MinNonPlanarPoints is the smallest non-planar set the linear seed accepts.
	MinNonPlanarPoints = 6

	// planarityRatio is the smallest-to-largest eigenvalue ratio of the world
	// point scatter below which the points are treated as coplanar.
	planarityRatio = 1e-8
	// collinearityRatio is the middle-to-largest ratio below which the points
	// are treated as collinear and the pose is unobservable.
	collinearityRatio = 1e-8
)

// planeFrame is an object-to-plane transform whose XY plane contains the
// fitted world points.
type planeFrame struct {
	pMo    Pose
	planar bool
}

// fitPlaneFrame analyses the scatter of the world points. The returned frame
// is centred on the centroid with Z along the smallest principal direction.
func fitPlaneFrame(points []Correspondence) (planeFrame, error) {
	var c r3.Vector
	for _, p := range points {
		c = c.Add(p.World)
	}
	c = c.Mul(1 / float64(len(points)))

	cov := mat.NewSymDense(3, nil)
	for _, p := range points {
		d := p.World.Sub(c)
		v := [3]float64{d.X, d.Y, d.Z}
		for i := 0; i < 3; i++ {
			for j := i; j < 3; j++ {
				cov.SetSym(i, j, cov.At(i, j)+v[i]*v[j])
			}
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return planeFrame{}, fmt.Errorf("%w: world point scatter could not be factorised", ErrPoseComputationFailed)
	}
	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	order := []int{0, 1, 2}
	sort.Slice(order, func(a, b int) bool { return values[order[a]] > values[order[b]] })
	largest := values[order[0]]
	if largest <= 0 || values[order[1]] < collinearityRatio*largest {
		return planeFrame{}, fmt.Errorf("%w: world points are collinear", ErrPoseComputationFailed)
	}

	col := func(k int) r3.Vector {
		return r3.Vector{X: vecs.At(0, k), Y: vecs.At(1, k), Z: vecs.At(2, k)}
	}
	e1 := col(order[0]).Normalize()
	e2 := col(order[1]).Normalize()
	e3 := e1.Cross(e2).Normalize()

	rot := [9]float64{
		e1.X, e1.Y, e1.Z,
		e2.X, e2.Y, e2.Z,
		e3.X, e3.Y, e3.Z,
	}
	t := r3.Vector{X: -e1.Dot(c), Y: -e2.Dot(c), Z: -e3.Dot(c)}
	return planeFrame{
		pMo:    NewPose(rot, t),
		planar: math.Max(values[order[2]], 0) < planarityRatio*largest,
	}, nil
}

// InitLagrange computes a closed-form pose from the valid correspondences
// using their metric coordinates. It minimises the algebraic projection error
// under a unit-norm constraint on one rotation column (planar scenes) or row
// (non-planar scenes); the Lagrange-multiplier solution is the eigenvector of
// the smallest eigenvalue of the reduced system. The result only seeds Refine.
func InitLagrange(points []Correspondence) (Pose, error) {
	pts := validOnly(points)
	if len(pts) < MinPosePoints {
		return Pose{}, fmt.Errorf("%w: linear pose needs at least %d points, got %d", ErrInsufficientCorrespondences, MinPosePoints, len(pts))
	}

	frame, err := fitPlaneFrame(pts)
	if err != nil {
		return Pose{}, err
	}

	if frame.planar {
		cMp, err := lagrangePlanar(pts, frame.pMo)
		if err != nil {
			return Pose{}, err
		}
		return cMp.Compose(frame.pMo).Orthonormalize(), nil
	}

	if len(pts) < MinNonPlanarPoints {
		return Pose{}, fmt.Errorf("%w: non-planar linear pose needs at least %d points, got %d", ErrInsufficientCorrespondences, MinNonPlanarPoints, len(pts))
	}
	// The non-planar system is solved in the centred frame for conditioning;
	// only its translation differs from the object frame.
	cMp, err := lagrangeNonPlanar(pts, frame.pMo)
	if err != nil {
		return Pose{}, err
	}
	return cMp.Compose(frame.pMo).Orthonormalize(), nil
}

// lagrangeSolve minimises |A1·x1 + A2·x2| subject to |x1| = 1 and returns
// (x1, x2).
func lagrangeSolve(a1, a2 *mat.Dense) (*mat.VecDense, *mat.VecDense, error) {
	_, n1 := a1.Dims()
	_, n2 := a2.Dims()

	var m22d, m21, m11d mat.Dense
	m22d.Mul(a2.T(), a2)
	m21.Mul(a2.T(), a1)
	m11d.Mul(a1.T(), a1)

	m22 := mat.NewSymDense(n2, nil)
	for i := 0; i < n2; i++ {
		for j := i; j < n2; j++ {
			m22.SetSym(i, j, m22d.At(i, j))
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(m22) {
		return nil, nil, fmt.Errorf("%w: degenerate point configuration", ErrPoseComputationFailed)
	}
	// K = M22⁻¹·M21
	var k mat.Dense
	if err := chol.SolveTo(&k, &m21); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrPoseComputationFailed, err)
	}

	var red mat.Dense
	red.Mul(m21.T(), &k)
	e := mat.NewSymDense(n1, nil)
	for i := 0; i < n1; i++ {
		for j := i; j < n1; j++ {
			v := (m11d.At(i, j) - red.At(i, j) + m11d.At(j, i) - red.At(j, i)) / 2
			e.SetSym(i, j, v)
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(e, true) {
		return nil, nil, fmt.Errorf("%w: reduced system could not be factorised", ErrPoseComputationFailed)
	}
	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	minIdx := 0
	for i := range values {
		if values[i] < values[minIdx] {
			minIdx = i
		}
	}

	x1 := mat.NewVecDense(n1, nil)
	x1.CopyVec(vecs.ColView(minIdx))
	x2 := mat.NewVecDense(n2, nil)
	x2.MulVec(&k, x1)
	x2.ScaleVec(-1, x2)
	return x1, x2, nil
}

// lagrangePlanar solves for cMp with the points expressed in the plane frame
// (Z = 0). Unknowns: x1 = first rotation column, x2 = (second column, t).
func lagrangePlanar(pts []Correspondence, pMo Pose) (Pose, error) {
	n := len(pts)
	a1 := mat.NewDense(2*n, 3, nil)
	a2 := mat.NewDense(2*n, 6, nil)
	for i, p := range pts {
		q := pMo.Apply(p.World)
		X, Y := q.X, q.Y
		x, y := p.Metric.X, p.Metric.Y

		a1.SetRow(2*i, []float64{X, 0, -x * X})
		a2.SetRow(2*i, []float64{Y, 0, -x * Y, 1, 0, -x})
		a1.SetRow(2*i+1, []float64{0, X, -y * X})
		a2.SetRow(2*i+1, []float64{0, Y, -y * Y, 0, 1, -y})
	}

	x1, x2, err := lagrangeSolve(a1, a2)
	if err != nil {
		return Pose{}, err
	}

	c1 := r3.Vector{X: x1.AtVec(0), Y: x1.AtVec(1), Z: x1.AtVec(2)}
	c2 := r3.Vector{X: x2.AtVec(0), Y: x2.AtVec(1), Z: x2.AtVec(2)}
	t := r3.Vector{X: x2.AtVec(3), Y: x2.AtVec(4), Z: x2.AtVec(5)}

	// The plane frame origin is the centroid, so tz is its depth.
	if t.Z < 0 {
		c1, c2, t = c1.Mul(-1), c2.Mul(-1), t.Mul(-1)
	}
	n2 := c2.Norm()
	if n2 < 1e-12 || t.Z < MinDepth {
		return Pose{}, fmt.Errorf("%w: planar linear solution is degenerate", ErrPoseComputationFailed)
	}
	// |c1| = 1 by constraint; the geometric mean of both column norms
	// estimates the common scale.
	t = t.Mul(1 / math.Sqrt(n2))
	c2 = c2.Mul(1 / n2)
	c3 := c1.Cross(c2)

	return NewPose([9]float64{
		c1.X, c2.X, c3.X,
		c1.Y, c2.Y, c3.Y,
		c1.Z, c2.Z, c3.Z,
	}, t).Orthonormalize(), nil
}

// lagrangeNonPlanar solves for cMp in the centred frame. Unknowns: x1 = third
// rotation row, x2 = (first row, second row, t).
func lagrangeNonPlanar(pts []Correspondence, pMo Pose) (Pose, error) {
	n := len(pts)
	a1 := mat.NewDense(2*n, 3, nil)
	a2 := mat.NewDense(2*n, 9, nil)
	for i, p := range pts {
		q := pMo.Apply(p.World)
		X, Y, Z := q.X, q.Y, q.Z
		x, y := p.Metric.X, p.Metric.Y

		a1.SetRow(2*i, []float64{-x * X, -x * Y, -x * Z})
		a2.SetRow(2*i, []float64{X, Y, Z, 0, 0, 0, 1, 0, -x})
		a1.SetRow(2*i+1, []float64{-y * X, -y * Y, -y * Z})
		a2.SetRow(2*i+1, []float64{0, 0, 0, X, Y, Z, 0, 1, -y})
	}

	x1, x2, err := lagrangeSolve(a1, a2)
	if err != nil {
		return Pose{}, err
	}

	r3v := r3.Vector{X: x1.AtVec(0), Y: x1.AtVec(1), Z: x1.AtVec(2)}
	r1 := r3.Vector{X: x2.AtVec(0), Y: x2.AtVec(1), Z: x2.AtVec(2)}
	r2v := r3.Vector{X: x2.AtVec(3), Y: x2.AtVec(4), Z: x2.AtVec(5)}
	t := r3.Vector{X: x2.AtVec(6), Y: x2.AtVec(7), Z: x2.AtVec(8)}

	if t.Z < 0 {
		r1, r2v, r3v, t = r1.Mul(-1), r2v.Mul(-1), r3v.Mul(-1), t.Mul(-1)
	}
	n1, n2 := r1.Norm(), r2v.Norm()
	if n1 < 1e-12 || n2 < 1e-12 || t.Z < MinDepth {
		return Pose{}, fmt.Errorf("%w: non-planar linear solution is degenerate", ErrPoseComputationFailed)
	}
	t = t.Mul(3 / (n1 + n2 + 1))
	r1, r2v = r1.Mul(1/n1), r2v.Mul(1/n2)

	return NewPose([9]float64{
		r1.X, r1.Y, r1.Z,
		r2v.X, r2v.Y, r2v.Z,
		r3v.X, r3v.Y, r3v.Z,
	}, t).Orthonormalize(), nil
}

func validOnly(points []Correspondence) []Correspondence {
	out := make([]Correspondence, 0, len(points))
	for _, p := range points {
		if p.Valid {
			out = append(out, p)
		}
	}
	return out
}
