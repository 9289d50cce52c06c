package vlam

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/clydemcqueen/vlamgo/internal/scipy"
)

// Key names a pose variable in a factor graph: "c" for the camera
// or "m<id>" for a marker.
type Key string

// CameraKey is the distinguished camera-variable namespace.
const CameraKey Key = "c"

// MarkerKey returns the graph key for a marker id.
func MarkerKey(id int32) Key {
	return Key(fmt.Sprintf("m%d", id))
}

// Values holds the current estimate for every variable in a graph, each as a
// 6-vector (wx,wy,wz,tx,ty,tz) — axis-angle rotation then translation, the
// factor graph's internal parametrization.
type Values struct {
	m map[Key][6]float64
}

// NewValues returns an empty Values.
func NewValues() *Values {
	return &Values{m: make(map[Key][6]float64)}
}

// Set stores the pose estimate for key.
func (v *Values) Set(key Key, pose Transform3) {
	v.m[key] = TransformToVec3(pose)
}

// At returns the pose estimate for key as a Transform3.
func (v *Values) At(key Key) Transform3 {
	return VecToTransform3(v.m[key])
}

// Keys returns all keys in sorted order, for deterministic flattening.
func (v *Values) Keys() []Key {
	keys := make([]Key, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// NoiseModel whitens a raw residual vector into a dimensionless one suitable
// for least-squares minimization.
type NoiseModel interface {
	Dim() int
	Whiten(raw []float64) []float64
}

// DiagonalNoise is an isotropic or per-component diagonal Gaussian noise
// model.
type DiagonalNoise struct {
	Sigmas []float64
}

// NewIsotropicNoise returns a DiagonalNoise with every component set to sigma
// — the resectioning factor's per-corner model.
func NewIsotropicNoise(dim int, sigma float64) DiagonalNoise {
	sigmas := make([]float64, dim)
	for i := range sigmas {
		sigmas[i] = sigma
	}
	return DiagonalNoise{Sigmas: sigmas}
}

func (n DiagonalNoise) Dim() int { return len(n.Sigmas) }

func (n DiagonalNoise) Whiten(raw []float64) []float64 {
	out := make([]float64, len(raw))
	for i, r := range raw {
		out[i] = r / n.Sigmas[i]
	}
	return out
}

// GaussianNoise is a full 6x6 Gaussian noise model, whitened via its Cholesky
// factor.
type GaussianNoise struct {
	chol *mat.Cholesky
	dim  int
}

// NewGaussianNoise builds a Gaussian noise model from a 6x6 row-major
// covariance.
func NewGaussianNoise(cov [36]float64) (GaussianNoise, error) {
	sym := mat.NewSymDense(6, nil)
	for i := 0; i < 6; i++ {
		for j := i; j < 6; j++ {
			sym.SetSym(i, j, cov[i*6+j])
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return GaussianNoise{}, fmt.Errorf("vlam: covariance is not positive-definite")
	}
	return GaussianNoise{chol: &chol, dim: 6}, nil
}

func (n GaussianNoise) Dim() int { return n.dim }

// Whiten solves L*whitened = raw where cov = L*L^T, i.e. whitened = L^-1*raw.
func (n GaussianNoise) Whiten(raw []float64) []float64 {
	var l mat.TriDense
	n.chol.LTo(&l)

	b := mat.NewVecDense(n.dim, raw)
	var x mat.VecDense
	_ = x.SolveVec(&l, b)

	out := make([]float64, n.dim)
	for i := 0; i < n.dim; i++ {
		out[i] = x.AtVec(i)
	}
	return out
}

// Factor is one term of a NonlinearFactorGraph: a residual over a subset of
// variables plus the noise model that whitens it.
type Factor interface {
	Keys() []Key
	Noise() NoiseModel
	RawResidual(v *Values) []float64
}

// PriorFactor constrains a single variable to a known mean.
type PriorFactor struct {
	Key        Key
	Mean       Transform3
	NoiseModel NoiseModel
}

func (f PriorFactor) Keys() []Key       { return []Key{f.Key} }
func (f PriorFactor) Noise() NoiseModel { return f.NoiseModel }
func (f PriorFactor) RawResidual(v *Values) []float64 {
	e := PoseError(f.Mean, v.At(f.Key))
	return e[:]
}

// BetweenFactor constrains the relative pose from Key1 to Key2 to a measured
// mean: residual is the error between Measured and the predicted
// relative pose inverse(T1)*T2.
type BetweenFactor struct {
	Key1, Key2 Key
	Measured   Transform3
	NoiseModel NoiseModel
}

func (f BetweenFactor) Keys() []Key       { return []Key{f.Key1, f.Key2} }
func (f BetweenFactor) Noise() NoiseModel { return f.NoiseModel }
func (f BetweenFactor) RawResidual(v *Values) []float64 {
	predicted := ComposeTransform3(InverseTransform3(v.At(f.Key1)), v.At(f.Key2))
	e := PoseError(f.Measured, predicted)
	return e[:]
}

// ResectioningFactor is a unary reprojection-error factor: Key is
// a camera variable expressing "transform from this factor's object frame
// into the camera frame"; ObjectPoint is in that same object frame.
type ResectioningFactor struct {
	Key         Key
	ObjectPoint [3]float64
	ImagePoint  Point2
	Camera      CameraInfo
	NoiseModel  NoiseModel
}

func (f ResectioningFactor) Keys() []Key       { return []Key{f.Key} }
func (f ResectioningFactor) Noise() NoiseModel { return f.NoiseModel }
func (f ResectioningFactor) RawResidual(v *Values) []float64 {
	proj := Project(f.ObjectPoint, v.At(f.Key), f.Camera)
	return []float64{proj.X - f.ImagePoint.X, proj.Y - f.ImagePoint.Y}
}

// NonlinearFactorGraph is an unordered collection of Factors.
type NonlinearFactorGraph struct {
	factors []Factor
}

// Add appends a factor to the graph.
func (g *NonlinearFactorGraph) Add(f Factor) {
	g.factors = append(g.factors, f)
}

// Marginals holds the per-key marginal covariance extracted after
// optimization: the 6x6 block of the inverse Gauss-Newton
// Hessian (J^T J)^-1 corresponding to that key's columns.
type Marginals struct {
	blocks map[Key][36]float64
}

// Cov returns the marginal covariance for key, in (wx,wy,wz,tx,ty,tz) order
// (the factor graph's internal ordering — callers crossing the external
// boundary must apply PermuteCovariance).
func (m Marginals) Cov(key Key) [36]float64 {
	return m.blocks[key]
}

// Optimize runs Levenberg-Marquardt over the graph starting from initial,
// returning the optimized Values and their Marginals.
func Optimize(g *NonlinearFactorGraph, initial *Values) (*Values, Marginals, error) {
	keys := initial.Keys()
	if len(keys) == 0 {
		return nil, Marginals{}, fmt.Errorf("vlam: factor graph has no variables")
	}

	flatten := func(v *Values) []float64 {
		x := make([]float64, 6*len(keys))
		for i, k := range keys {
			vec := v.m[k]
			copy(x[i*6:i*6+6], vec[:])
		}
		return x
	}
	unflatten := func(x []float64) *Values {
		v := NewValues()
		for i, k := range keys {
			var vec [6]float64
			copy(vec[:], x[i*6:i*6+6])
			v.m[k] = vec
		}
		return v
	}

	residualFn := func(x []float64) []float64 {
		v := unflatten(x)
		var out []float64
		for _, f := range g.factors {
			raw := f.RawResidual(v)
			out = append(out, f.Noise().Whiten(raw)...)
		}
		return out
	}

	x0 := flatten(initial)
	result, err := scipy.LevenbergMarquardt(residualFn, x0, scipy.LMOptions{})
	if err != nil {
		return nil, Marginals{}, err
	}

	solved := unflatten(result.X)

	var jtj mat.Dense
	jtj.Mul(result.Jacobian.T(), result.Jacobian)

	n := 6 * len(keys)
	hessian := mat.DenseCopyOf(&jtj)
	// Small ridge for numerical stability when a variable is weakly observed
	// (e.g. a lone prior-less marker) — keeps the inverse well-defined.
	for i := 0; i < n; i++ {
		hessian.Set(i, i, hessian.At(i, i)+1e-9)
	}

	var hessianInv mat.Dense
	if err := hessianInv.Inverse(hessian); err != nil {
		return solved, Marginals{}, err
	}

	blocks := make(map[Key][36]float64, len(keys))
	for i, k := range keys {
		var block [36]float64
		for r := 0; r < 6; r++ {
			for c := 0; c < 6; c++ {
				block[r*6+c] = hessianInv.At(i*6+r, i*6+c)
			}
		}
		blocks[k] = block
	}

	return solved, Marginals{blocks: blocks}, nil
}
