package vlam

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// matFromArray3x3 builds a gonum 3x3 Dense from a nested array, used at the
// gocv boundary (geometric_solver.go) where rotation matrices arrive as
// plain float64 grids.
func matFromArray3x3(r [3][3]float64) *mat.Dense {
	data := make([]float64, 0, 9)
	for i := 0; i < 3; i++ {
		data = append(data, r[i][0], r[i][1], r[i][2])
	}
	return mat.NewDense(3, 3, data)
}

// matFromArray3x1 builds a gonum 3x1 Dense from a 3-vector.
func matFromArray3x1(t [3]float64) *mat.Dense {
	return mat.NewDense(3, 1, []float64{t[0], t[1], t[2]})
}

// Transform3 is a rigid-body transform in SE(3): an orthonormal rotation R (3x3)
// plus a translation T (3x1), applied as y = R*x + T.
type Transform3 struct {
	R *mat.Dense // 3x3
	T *mat.Dense // 3x1
}

// IdentityTransform3 returns the identity rigid transform.
func IdentityTransform3() Transform3 {
	r := mat.NewDense(3, 3, nil)
	r.Set(0, 0, 1)
	r.Set(1, 1, 1)
	r.Set(2, 2, 1)
	return Transform3{R: r, T: mat.NewDense(3, 1, nil)}
}

// ComposeTransform3 returns a*b: applying b first, then a.
func ComposeTransform3(a, b Transform3) Transform3 {
	r := mat.NewDense(3, 3, nil)
	r.Mul(a.R, b.R)

	t := mat.NewDense(3, 1, nil)
	t.Mul(a.R, b.T)
	t.Add(t, a.T)

	return Transform3{R: r, T: t}
}

// InverseTransform3 returns the inverse of a.
func InverseTransform3(a Transform3) Transform3 {
	r := mat.DenseCopyOf(a.R.T())

	t := mat.NewDense(3, 1, nil)
	t.Mul(r, a.T)
	t.Scale(-1, t)

	return Transform3{R: r, T: t}
}

// Apply transforms a 3D point by a, returning a.R*p + a.T.
func (a Transform3) Apply(p [3]float64) [3]float64 {
	pm := mat.NewDense(3, 1, []float64{p[0], p[1], p[2]})
	out := mat.NewDense(3, 1, nil)
	out.Mul(a.R, pm)
	out.Add(out, a.T)
	return [3]float64{out.At(0, 0), out.At(1, 0), out.At(2, 0)}
}

// RotationFromAxisAngle converts a rotation (axis-angle / Rodrigues) vector to
// a rotation matrix via the exponential map exp(skew(w)).
func RotationFromAxisAngle(w [3]float64) *mat.Dense {
	theta := math.Sqrt(w[0]*w[0] + w[1]*w[1] + w[2]*w[2])
	r := mat.NewDense(3, 3, nil)
	r.Set(0, 0, 1)
	r.Set(1, 1, 1)
	r.Set(2, 2, 1)
	if theta < 1e-12 {
		return r
	}

	k := [3]float64{w[0] / theta, w[1] / theta, w[2] / theta}
	kx := mat.NewDense(3, 3, []float64{
		0, -k[2], k[1],
		k[2], 0, -k[0],
		-k[1], k[0], 0,
	})

	var kx2 mat.Dense
	kx2.Mul(kx, kx)

	sinT, cosT := math.Sin(theta), math.Cos(theta)

	kx.Scale(sinT, kx)
	kx2.Scale(1-cosT, &kx2)

	r.Add(r, kx)
	r.Add(r, &kx2)
	return r
}

// AxisAngleFromRotation converts a rotation matrix to an axis-angle (Rodrigues)
// vector via the logarithm map, the inverse of RotationFromAxisAngle.
func AxisAngleFromRotation(r *mat.Dense) [3]float64 {
	trace := r.At(0, 0) + r.At(1, 1) + r.At(2, 2)
	cosTheta := (trace - 1) / 2
	cosTheta = math.Max(-1, math.Min(1, cosTheta))
	theta := math.Acos(cosTheta)

	if theta < 1e-12 {
		return [3]float64{0, 0, 0}
	}

	if theta > math.Pi-1e-6 {
		// sin(theta) vanishes here, so the skew-symmetric extraction below
		// is unusable. Recover the axis from the diagonal instead:
		// R_ii = cos(theta) + k_i^2*(1 - cos(theta)), with off-diagonal sums
		// fixing the relative signs against the largest component.
		m := 0
		if r.At(1, 1) > r.At(m, m) {
			m = 1
		}
		if r.At(2, 2) > r.At(m, m) {
			m = 2
		}
		var k [3]float64
		k[m] = math.Sqrt(math.Max(0, (r.At(m, m)-cosTheta)/(1-cosTheta)))
		for j := 0; j < 3; j++ {
			if j == m {
				continue
			}
			k[j] = (r.At(m, j) + r.At(j, m)) / (2 * k[m] * (1 - cosTheta))
		}
		return [3]float64{theta * k[0], theta * k[1], theta * k[2]}
	}

	scale := theta / (2 * math.Sin(theta))
	wx := (r.At(2, 1) - r.At(1, 2)) * scale
	wy := (r.At(0, 2) - r.At(2, 0)) * scale
	wz := (r.At(1, 0) - r.At(0, 1)) * scale
	return [3]float64{wx, wy, wz}
}

// RotationFromRPY builds a rotation matrix from roll-pitch-yaw angles using the
// aerospace/ROS tf2 convention: R = Rz(yaw) * Ry(pitch) * Rx(roll).
func RotationFromRPY(roll, pitch, yaw float64) *mat.Dense {
	cr, sr := math.Cos(roll), math.Sin(roll)
	cp, sp := math.Cos(pitch), math.Sin(pitch)
	cy, sy := math.Cos(yaw), math.Sin(yaw)

	return mat.NewDense(3, 3, []float64{
		cy*cp, cy*sp*sr - sy*cr, cy*sp*cr + sy*sr,
		sy*cp, sy*sp*sr + cy*cr, sy*sp*cr - cy*sr,
		-sp, cp * sr, cp * cr,
	})
}

// RPYFromRotation extracts roll-pitch-yaw angles from a rotation matrix, the
// inverse of RotationFromRPY.
func RPYFromRotation(r *mat.Dense) (roll, pitch, yaw float64) {
	pitch = math.Asin(-math.Max(-1, math.Min(1, r.At(2, 0))))
	cp := math.Cos(pitch)
	if math.Abs(cp) < 1e-9 {
		// Gimbal lock: roll and yaw are not independently observable, fold
		// the whole rotation into yaw.
		roll = 0
		yaw = math.Atan2(-r.At(0, 1), r.At(1, 1))
		return
	}
	roll = math.Atan2(r.At(2, 1), r.At(2, 2))
	yaw = math.Atan2(r.At(1, 0), r.At(0, 0))
	return
}

// VecToTransform3 converts a 6-vector (wx,wy,wz,tx,ty,tz) — axis-angle rotation
// followed by translation, the factor-graph solver's internal parametrization
// — into a Transform3.
func VecToTransform3(v [6]float64) Transform3 {
	return Transform3{
		R: RotationFromAxisAngle([3]float64{v[0], v[1], v[2]}),
		T: mat.NewDense(3, 1, []float64{v[3], v[4], v[5]}),
	}
}

// TransformToVec3 is the inverse of VecToTransform3.
func TransformToVec3(t Transform3) [6]float64 {
	w := AxisAngleFromRotation(t.R)
	return [6]float64{w[0], w[1], w[2], t.T.At(0, 0), t.T.At(1, 0), t.T.At(2, 0)}
}

// PoseError computes a 6-vector discrepancy between a target transform and an
// estimate, in the factor graph's (rotation, translation) ordering: the
// rotation part is the axis-angle residual of a.R^T * b.R (exact for small
// angles, the regime Levenberg-Marquardt operates in near convergence), the
// translation part is a plain difference.
func PoseError(a, b Transform3) [6]float64 {
	var dr mat.Dense
	dr.Mul(a.R.T(), b.R)
	w := AxisAngleFromRotation(&dr)
	return [6]float64{
		w[0], w[1], w[2],
		b.T.At(0, 0) - a.T.At(0, 0),
		b.T.At(1, 0) - a.T.At(1, 0),
		b.T.At(2, 0) - a.T.At(2, 0),
	}
}

// TWC is a rigid transform with covariance: a sum type that is either
// invalid ("no solution") or a valid transform + a 6x6 covariance over
// (x, y, z, roll, pitch, yaw). Consumers must check IsValid before composing
// or writing through a TWC.
type TWC struct {
	valid     bool
	transform Transform3
	cov       [36]float64 // row-major 6x6 over (x,y,z,roll,pitch,yaw)
}

// InvalidTWC returns the "no solution" sentinel.
func InvalidTWC() TWC {
	return TWC{valid: false}
}

// IdentityTWC returns a valid TWC at the identity pose with zero covariance.
func IdentityTWC() TWC {
	return TWC{valid: true, transform: IdentityTransform3()}
}

// NewTWC builds a valid TWC from a mean in (x,y,z,roll,pitch,yaw) order and a
// row-major 6x6 covariance.
func NewTWC(xyzrpy [6]float64, cov [36]float64) TWC {
	r := RotationFromRPY(xyzrpy[3], xyzrpy[4], xyzrpy[5])
	t := mat.NewDense(3, 1, []float64{xyzrpy[0], xyzrpy[1], xyzrpy[2]})
	return TWC{valid: true, transform: Transform3{R: r, T: t}, cov: cov}
}

// NewTWCFromTransform builds a valid TWC directly from a Transform3 and cov.
func NewTWCFromTransform(t Transform3, cov [36]float64) TWC {
	return TWC{valid: true, transform: t, cov: cov}
}

// IsValid reports whether t carries a real solution.
func (t TWC) IsValid() bool { return t.valid }

// Transform returns the underlying rigid transform. Only meaningful if valid.
func (t TWC) Transform() Transform3 { return t.transform }

// Cov returns the row-major 6x6 covariance over (x,y,z,roll,pitch,yaw).
func (t TWC) Cov() [36]float64 { return t.cov }

// XYZRPY returns the transform's mean in (x,y,z,roll,pitch,yaw) order.
func (t TWC) XYZRPY() [6]float64 {
	roll, pitch, yaw := RPYFromRotation(t.transform.R)
	return [6]float64{
		t.transform.T.At(0, 0), t.transform.T.At(1, 0), t.transform.T.At(2, 0),
		roll, pitch, yaw,
	}
}

// Compose returns a composed with b (a applied after b). Invalid if either
// input is invalid.
func Compose(a, b TWC) TWC {
	if !a.valid || !b.valid {
		return InvalidTWC()
	}
	return TWC{valid: true, transform: ComposeTransform3(a.transform, b.transform)}
}

// Inverse returns the inverse of a, carrying its covariance through unchanged:
// the covariance is not re-expressed for the inverted transform.
func Inverse(a TWC) TWC {
	if !a.valid {
		return InvalidTWC()
	}
	return TWC{valid: true, transform: InverseTransform3(a.transform), cov: a.cov}
}

// Apply transforms a point by a. Returns the zero point if a is invalid.
func Apply(a TWC, p [3]float64) [3]float64 {
	if !a.valid {
		return [3]float64{}
	}
	return a.transform.Apply(p)
}

// wrapAngle normalizes an angle to (-pi, pi].
func wrapAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// UpdateSimpleAverage returns a new TWC whose mean is the running average of
// t's mean (weighted by count) and other's mean, with yaw carried through a
// shortest-arc normalization. Covariance is left unchanged, matching
// the geometric backend's averaging update.
func (t TWC) UpdateSimpleAverage(other TWC, count uint32) TWC {
	a := t.XYZRPY()
	b := other.XYZRPY()
	n := float64(count)

	merged := [6]float64{}
	for i := 0; i < 5; i++ {
		merged[i] = (n*a[i] + b[i]) / (n + 1)
	}

	yawDiff := wrapAngle(b[5] - a[5])
	merged[5] = wrapAngle(a[5] + yawDiff/(n+1))

	out := NewTWC(merged, t.cov)
	return out
}

// permutation6 maps the external covariance order (x,y,z,roll,pitch,yaw) to
// the factor-graph's internal order (roll,pitch,yaw,x,y,z), or back again —
// the permutation [3,4,5,0,1,2] is its own inverse, so one helper serves
// both directions of the boundary crossing.
var permutation6 = [6]int{3, 4, 5, 0, 1, 2}

// PermuteCovariance swaps the rotation and translation 3x3 blocks of a
// row-major 6x6 covariance, converting between the external (x,y,z,r,p,y) and
// the factor graph's internal (r,p,y,x,y,z) ordering. Centralizing this one
// permutation here keeps it from being applied inconsistently at different
// call sites.
func PermuteCovariance(cov [36]float64) [36]float64 {
	var out [36]float64
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			out[i*6+j] = cov[permutation6[i]*6+permutation6[j]]
		}
	}
	return out
}
