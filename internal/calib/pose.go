package calib

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Pose is a rigid transform cMo from the object frame into the camera frame.
// T is a row-major 4x4 homogeneous matrix: r00,r01,r02,tx, r10,r11,r12,ty, ...
type Pose struct {
	T [16]float64 `json:"T"`
}

// Twist is a velocity screw (vx, vy, vz, wx, wy, wz) integrated over unit time.
type Twist [6]float64

// IdentityPose returns the identity transform.
func IdentityPose() Pose {
	return Pose{T: [16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}}
}

// NewPose builds a pose from a row-major rotation and a translation.
func NewPose(r [9]float64, t r3.Vector) Pose {
	return Pose{T: [16]float64{
		r[0], r[1], r[2], t.X,
		r[3], r[4], r[5], t.Y,
		r[6], r[7], r[8], t.Z,
		0, 0, 0, 1,
	}}
}

// Rotation returns the row-major 3x3 rotation block.
func (p Pose) Rotation() [9]float64 {
	T := p.T
	return [9]float64{T[0], T[1], T[2], T[4], T[5], T[6], T[8], T[9], T[10]}
}

// Translation returns the translation column.
func (p Pose) Translation() r3.Vector {
	return r3.Vector{X: p.T[3], Y: p.T[7], Z: p.T[11]}
}

// Apply maps an object-frame point into the camera frame.
func (p Pose) Apply(v r3.Vector) r3.Vector {
	T := p.T
	return r3.Vector{
		X: T[0]*v.X + T[1]*v.Y + T[2]*v.Z + T[3],
		Y: T[4]*v.X + T[5]*v.Y + T[6]*v.Z + T[7],
		Z: T[8]*v.X + T[9]*v.Y + T[10]*v.Z + T[11],
	}
}

// Compose returns p·q (q applied first).
func (p Pose) Compose(q Pose) Pose {
	var out Pose
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var s float64
			for k := 0; k < 4; k++ {
				s += p.T[i*4+k] * q.T[k*4+j]
			}
			out.T[i*4+j] = s
		}
	}
	return out
}

// Inverse returns the inverse rigid transform (Rᵀ, −Rᵀt).
func (p Pose) Inverse() Pose {
	r := p.Rotation()
	t := p.Translation()
	rt := [9]float64{r[0], r[3], r[6], r[1], r[4], r[7], r[2], r[5], r[8]}
	return NewPose(rt, r3.Vector{
		X: -(rt[0]*t.X + rt[1]*t.Y + rt[2]*t.Z),
		Y: -(rt[3]*t.X + rt[4]*t.Y + rt[5]*t.Z),
		Z: -(rt[6]*t.X + rt[7]*t.Y + rt[8]*t.Z),
	})
}

// ExpMap integrates a twist over unit time and returns the resulting rigid
// motion: Rodrigues' formula for the rotation and the SE(3) left Jacobian for
// the translation.
func ExpMap(v Twist) Pose {
	w := r3.Vector{X: v[3], Y: v[4], Z: v[5]}
	u := r3.Vector{X: v[0], Y: v[1], Z: v[2]}
	theta := w.Norm()

	// Series expansions below 1e-8 keep the coefficients finite.
	var a, b, c float64
	if theta < 1e-8 {
		a = 1 - theta*theta/6
		b = 0.5 - theta*theta/24
		c = 1.0/6 - theta*theta/120
	} else {
		a = math.Sin(theta) / theta
		b = (1 - math.Cos(theta)) / (theta * theta)
		c = (theta - math.Sin(theta)) / (theta * theta * theta)
	}

	wx := skew(w)
	wx2 := mul3(wx, wx)
	var r, jl [9]float64
	for i := 0; i < 9; i++ {
		id := 0.0
		if i%4 == 0 {
			id = 1
		}
		r[i] = id + a*wx[i] + b*wx2[i]
		jl[i] = id + b*wx[i] + c*wx2[i]
	}
	t := r3.Vector{
		X: jl[0]*u.X + jl[1]*u.Y + jl[2]*u.Z,
		Y: jl[3]*u.X + jl[4]*u.Y + jl[5]*u.Z,
		Z: jl[6]*u.X + jl[7]*u.Y + jl[8]*u.Z,
	}
	return NewPose(r, t)
}

// ServoStep applies a camera velocity to cMo: the camera moves by exp(v), so
// the new pose is exp(v)⁻¹·cMo.
func (p Pose) ServoStep(v Twist) Pose {
	return ExpMap(v).Inverse().Compose(p)
}

// Orthonormalize replaces the rotation block with its closest proper rotation
// (polar decomposition through SVD).
func (p Pose) Orthonormalize() Pose {
	r := p.Rotation()
	m := mat.NewDense(3, 3, r[:])
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFull) {
		return p
	}
	var u, v, rot mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	rot.Mul(&u, v.T())
	if mat.Det(&rot) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		rot.Mul(&u, v.T())
	}
	var out [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i*3+j] = rot.At(i, j)
		}
	}
	return NewPose(out, p.Translation())
}

// RotationAngle returns the angle of the relative rotation between p and q in
// radians.
func (p Pose) RotationAngle(q Pose) float64 {
	d := p.Compose(q.Inverse()).Rotation()
	c := (d[0] + d[4] + d[8] - 1) / 2
	return math.Acos(math.Max(-1, math.Min(1, c)))
}

// String formats the pose as translation plus axis-angle rotation.
func (p Pose) String() string {
	t := p.Translation()
	axis, angle := p.AxisAngle()
	return fmt.Sprintf("t=(%.6f, %.6f, %.6f) r=%.6f·(%.4f, %.4f, %.4f)", t.X, t.Y, t.Z, angle, axis.X, axis.Y, axis.Z)
}

// AxisAngle returns the rotation as a unit axis and an angle in radians.
func (p Pose) AxisAngle() (r3.Vector, float64) {
	r := p.Rotation()
	c := (r[0] + r[4] + r[8] - 1) / 2
	angle := math.Acos(math.Max(-1, math.Min(1, c)))
	axis := r3.Vector{X: r[7] - r[5], Y: r[2] - r[6], Z: r[3] - r[1]}
	if n := axis.Norm(); n > 1e-12 {
		return axis.Mul(1 / n), angle
	}
	return r3.Vector{Z: 1}, angle
}

func skew(w r3.Vector) [9]float64 {
	return [9]float64{
		0, -w.Z, w.Y,
		w.Z, 0, -w.X,
		-w.Y, w.X, 0,
	}
}

func mul3(a, b [9]float64) [9]float64 {
	var out [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i*3+j] = a[i*3]*b[j] + a[i*3+1]*b[3+j] + a[i*3+2]*b[6+j]
		}
	}
	return out
}

// PoseQuality represents the assessed quality of a calibrated pose.
type PoseQuality string

const (
	// PoseQualityExcellent indicates RMS reprojection error < 0.1 px
	PoseQualityExcellent PoseQuality = "excellent"
	// PoseQualityGood indicates RMS reprojection error 0.1-0.5 px
	PoseQualityGood PoseQuality = "good"
	// PoseQualityFair indicates RMS reprojection error 0.5-1.0 px
	PoseQualityFair PoseQuality = "fair"
	// PoseQualityPoor indicates RMS reprojection error > 1.0 px
	PoseQualityPoor PoseQuality = "poor"
	// PoseQualityUnknown indicates residuals not computed
	PoseQualityUnknown PoseQuality = "unknown"
)

// Pose quality RMS thresholds (pixels)
const (
	RMSThresholdExcellent = 0.1
	RMSThresholdGood      = 0.5
	RMSThresholdFair      = 1.0
	// MatrixValidationTolerance is the tolerance for checking rotation matrix validity
	MatrixValidationTolerance = 0.01
)

// PoseValidationResult contains the result of pose validation.
type PoseValidationResult struct {
	Valid   bool
	Quality PoseQuality
	Issues  []string
}

// ValidatePose checks that pose is a proper rigid transform and grades it by
// the RMS pixel reprojection error of the image it was fitted to. A negative
// rms means residuals were not computed.
func ValidatePose(pose *Pose, rms float64) PoseValidationResult {
	result := PoseValidationResult{
		Quality: PoseQualityUnknown,
		Issues:  make([]string, 0),
	}

	if pose == nil {
		result.Issues = append(result.Issues, "pose is nil")
		return result
	}

	if !IsValidTransformMatrix(pose.T) {
		result.Issues = append(result.Issues, "invalid transform matrix (not proper rigid transform)")
		result.Quality = PoseQualityPoor
		return result
	}
	if pose.T[11] <= 0 {
		result.Issues = append(result.Issues, "object origin is behind the camera")
		result.Quality = PoseQualityPoor
		return result
	}

	switch {
	case rms < 0 || math.IsNaN(rms):
		result.Issues = append(result.Issues, "residuals not computed - quality unknown")
	case rms < RMSThresholdExcellent:
		result.Quality = PoseQualityExcellent
	case rms < RMSThresholdGood:
		result.Quality = PoseQualityGood
	case rms < RMSThresholdFair:
		result.Quality = PoseQualityFair
		result.Issues = append(result.Issues, "reprojection error is fair - check detections")
	default:
		result.Quality = PoseQualityPoor
		result.Issues = append(result.Issues, "reprojection error is poor - image should be reviewed")
	}

	result.Valid = result.Quality != PoseQualityPoor || len(result.Issues) == 0
	return result
}

// IsValidTransformMatrix checks if a 4x4 matrix is a valid rigid transform:
// rotation block with det ≈ 1 and a last row of [0 0 0 1].
func IsValidTransformMatrix(T [16]float64) bool {
	r00, r01, r02 := T[0], T[1], T[2]
	r10, r11, r12 := T[4], T[5], T[6]
	r20, r21, r22 := T[8], T[9], T[10]

	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}

	if T[12] != 0 || T[13] != 0 || T[14] != 0 || math.Abs(T[15]-1.0) > 0.001 {
		return false
	}

	return true
}

// String returns a human-readable description of the pose quality.
func (q PoseQuality) String() string {
	switch q {
	case PoseQualityExcellent:
		return "excellent (RMS < 0.1px)"
	case PoseQualityGood:
		return "good (RMS 0.1-0.5px)"
	case PoseQualityFair:
		return "fair (RMS 0.5-1.0px)"
	case PoseQualityPoor:
		return "poor (RMS > 1.0px)"
	case PoseQualityUnknown:
		return "unknown (residuals not computed)"
	default:
		return string(q)
	}
}
