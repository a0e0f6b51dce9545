package calib

import (
	"fmt"
	"math"
)

// imageBlock is one image's contribution to the joint normal equations:
//
//	[ Σ JcᵀJc  Σ JcᵀJp ] [Δc]   [Σ Jcᵀe]
//	[ Σ JpᵀJc  Σ JpᵀJp ] [Δp] = [Σ Jpᵀe]
//
// where Jc is the Jacobian w.r.t. the shared intrinsics and Jp w.r.t. the
// image's own pose twist.
type imageBlock struct {
	cc  []float64 // nc×nc, row-major
	cp  []float64 // nc×6, row-major
	pp  [36]float64
	gc  []float64 // nc
	gp  [6]float64
	sq  float64
	obs int
}

func newImageBlock(nc int) *imageBlock {
	return &imageBlock{
		cc: make([]float64, nc*nc),
		cp: make([]float64, nc*6),
		gc: make([]float64, nc),
	}
}

// accumulate adds one residual row with intrinsic part jc and pose part jp.
func (b *imageBlock) accumulate(jc []float64, jp *[6]float64, e float64) {
	nc := len(jc)
	for i := 0; i < nc; i++ {
		if jc[i] == 0 {
			continue
		}
		for j := 0; j < nc; j++ {
			b.cc[i*nc+j] += jc[i] * jc[j]
		}
		for j := 0; j < 6; j++ {
			b.cp[i*6+j] += jc[i] * jp[j]
		}
		b.gc[i] += jc[i] * e
	}
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			b.pp[i*6+j] += jp[i] * jp[j]
		}
		b.gp[i] += jp[i] * e
	}
	b.sq += e * e
}

// computeImageBlock evaluates the pixel residuals and Jacobian rows of every
// point against a read-only camera snapshot and the image's pose.
//
// Intrinsic columns are (Px, Py, U0, V0[, K1, K2]); pose columns are the
// camera velocity twist used by ServoStep.
func computeImageBlock(cam CameraModel, pose Pose, pts []Correspondence, distortion bool) (*imageBlock, error) {
	nc := intrinsicCount(distortion)
	b := newImageBlock(nc)
	ju := make([]float64, nc)
	jv := make([]float64, nc)
	var pu, pv [6]float64

	k1, k2 := 0.0, 0.0
	if distortion {
		k1, k2 = cam.K1, cam.K2
	}

	for i, p := range pts {
		pc := pose.Apply(p.World)
		if pc.Z < MinDepth || math.IsNaN(pc.Z) {
			return nil, fmt.Errorf("point %d has depth %g", i, pc.Z)
		}
		invZ := 1 / pc.Z
		x, y := pc.X*invZ, pc.Y*invZ
		r2 := x*x + y*y
		d := 1 + r2*(k1+r2*k2)
		dd := k1 + 2*k2*r2 // dD/d(r²)

		u := cam.U0 + cam.Px*x*d
		v := cam.V0 + cam.Py*y*d
		eu := u - p.Detection.Pixel.X
		ev := v - p.Detection.Pixel.Y

		// ∂(x·D)/∂(x, y) and ∂(y·D)/∂(x, y)
		dxx := d + 2*x*x*dd
		dxy := 2 * x * y * dd
		dyy := d + 2*y*y*dd

		lx := [6]float64{-invZ, 0, x * invZ, x * y, -(1 + x*x), y}
		ly := [6]float64{0, -invZ, y * invZ, 1 + y*y, -x * y, -x}
		for k := 0; k < 6; k++ {
			pu[k] = cam.Px * (dxx*lx[k] + dxy*ly[k])
			pv[k] = cam.Py * (dxy*lx[k] + dyy*ly[k])
		}

		ju[0], ju[1], ju[2], ju[3] = x*d, 0, 1, 0
		jv[0], jv[1], jv[2], jv[3] = 0, y*d, 0, 1
		if distortion {
			ju[4], ju[5] = cam.Px*x*r2, cam.Px*x*r2*r2
			jv[4], jv[5] = cam.Py*y*r2, cam.Py*y*r2*r2
		}

		b.accumulate(ju, &pu, eu)
		b.accumulate(jv, &pv, ev)
		b.obs += 2
	}
	return b, nil
}

func intrinsicCount(distortion bool) int {
	if distortion {
		return 6
	}
	return 4
}
