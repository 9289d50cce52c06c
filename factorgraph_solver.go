package vlam

// Default noise-model parameters. These are plain package-level defaults
// rather than a configuration struct threaded through every call.
var (
	// DefaultCornerSigma is the resectioning factor's per-corner pixel
	// standard deviation.
	DefaultCornerSigma = 1.0

	// DefaultBetweenSigma stands in for an all-zero covariance on a
	// between-factor measurement: zero covariance (what SolveTCameraMarker
	// always returns) is a degenerate (infinitely confident) Gaussian, so a
	// small-sigma floor is used in its place.
	DefaultBetweenSigma = 0.05

	// ConstrainedSigma realizes the "pose fixed exactly" noise model as a
	// very tight Gaussian rather than a literal infinite-precision
	// constraint, since the dense LM core here has no per-variable
	// elimination step.
	ConstrainedSigma = 1e-6
)

// FactorGraphSolver is the nonlinear-least-squares Backend.
type FactorGraphSolver struct{}

// SolveCameraFMarker builds and solves the single-marker graph: four
// resectioning factors (one per corner) on one camera variable, initialized
// from the geometric solver's SolveTCameraMarker. The graph's camera
// variable is parametrized in the same marker-to-camera convention
// ResectioningFactor projects with, so the geometric estimate seeds it
// directly; the solved pose is inverted on the way out to the
// camera-in-marker-frame convention (t_marker_camera) this method's callers
// expect as the between-factor measurement.
func (FactorGraphSolver) SolveCameraFMarker(obs Observation, length float64, cam CameraInfo) TWC {
	init := GeometricSolver{}.SolveTCameraMarker(obs, length, cam)
	if !init.IsValid() {
		return InvalidTWC()
	}

	graph := &NonlinearFactorGraph{}
	objectCorners := ObjectCorners(length)
	noise := NewIsotropicNoise(2, DefaultCornerSigma)
	for i, p := range objectCorners {
		graph.Add(ResectioningFactor{
			Key:         CameraKey,
			ObjectPoint: p,
			ImagePoint:  obs.Corners[i],
			Camera:      cam,
			NoiseModel:  noise,
		})
	}

	initial := NewValues()
	initial.Set(CameraKey, init.Transform())

	solved, marginals, err := Optimize(graph, initial)
	if err != nil {
		return InvalidTWC()
	}

	cov := PermuteCovariance(marginals.Cov(CameraKey))
	tCameraMarker := NewTWCFromTransform(solved.At(CameraKey), cov)
	return Inverse(tCameraMarker)
}

// SolveTMapCamera solves the camera-localization graph: resectioning factors
// over every known marker's map-frame corners, initialized from the
// geometric solver. Returns the optimized map-from-camera pose with its
// marginal covariance, or an invalid TWC if no marker is known.
func (FactorGraphSolver) SolveTMapCamera(obsList Observations, m *Map) TWC {
	init := GeometricSolver{}.SolveTMapCamera(obsList, m)
	if !init.IsValid() {
		return InvalidTWC()
	}
	initCameraMap := Inverse(init) // camera-from-map, the graph's camera variable

	graph := &NonlinearFactorGraph{}
	noise := NewIsotropicNoise(2, DefaultCornerSigma)
	any := false
	for _, obs := range obsList.Items {
		marker, ok := m.Find(obs.ID)
		if !ok {
			continue
		}
		corners := marker.CornersInFrame(m.MarkerLength())
		for i, p := range corners {
			graph.Add(ResectioningFactor{
				Key:         CameraKey,
				ObjectPoint: p,
				ImagePoint:  obs.Corners[i],
				Camera:      obsList.Camera,
				NoiseModel:  noise,
			})
		}
		any = true
	}
	if !any {
		return InvalidTWC()
	}

	initial := NewValues()
	initial.Set(CameraKey, initCameraMap.Transform())

	solved, marginals, err := Optimize(graph, initial)
	if err != nil {
		return InvalidTWC()
	}

	cameraMap := NewTWCFromTransform(solved.At(CameraKey), PermuteCovariance(marginals.Cov(CameraKey)))
	return Inverse(cameraMap)
}

// UpdateMap runs the joint map-refinement graph: preconditions are that
// tMapCamera is valid and at least 2 observations are present, otherwise
// this is a no-op. One variable per observed marker plus the camera
// variable; known markers get a prior (constrained if the marker is fixed,
// the map persists pose-only, or the stored covariance's (0,0) entry is the
// zero sentinel; Gaussian with the stored covariance otherwise), unknown
// markers are seeded from the camera pose and inserted after the solve —
// but only once the map holds at least one fixed marker to anchor the frame
// they are seated in.
func (FactorGraphSolver) UpdateMap(tMapCamera TWC, obsList Observations, m *Map) {
	if !tMapCamera.IsValid() || len(obsList.Items) < 2 {
		return
	}

	anchored := m.HasFixedMarker()

	graph := &NonlinearFactorGraph{}
	initial := NewValues()
	initial.Set(CameraKey, tMapCamera.Transform())

	type pendingMarker struct {
		id     int32
		known  bool
		marker *Marker
	}
	var pending []pendingMarker

	for _, obs := range obsList.Items {
		marker, known := m.Find(obs.ID)
		if !known && !anchored {
			continue
		}

		tMarkerCamera := FactorGraphSolver{}.SolveCameraFMarker(obs, m.MarkerLength(), obsList.Camera)
		if !tMarkerCamera.IsValid() {
			continue
		}
		tCameraMarker := Inverse(tMarkerCamera)

		key := MarkerKey(obs.ID)
		betweenNoise, err := NewGaussianNoise(expandBetweenCov(tMarkerCamera.Cov()))
		graph.Add(BetweenFactor{
			Key1:       key,
			Key2:       CameraKey,
			Measured:   tMarkerCamera.Transform(),
			NoiseModel: safeNoise(betweenNoise, err),
		})

		if known {
			constrained := marker.IsFixed || m.MapStyle() == MapStylePose || marker.TMapMarker.Cov()[0] == 0
			var priorNoise NoiseModel
			if constrained {
				priorNoise = NewIsotropicNoise(6, ConstrainedSigma)
			} else {
				gn, err := NewGaussianNoise(PermuteCovariance(marker.TMapMarker.Cov()))
				priorNoise = safeNoise(gn, err)
			}
			graph.Add(PriorFactor{Key: key, Mean: marker.TMapMarker.Transform(), NoiseModel: priorNoise})
			initial.Set(key, marker.TMapMarker.Transform())
		} else {
			seed := Compose(tMapCamera, tCameraMarker)
			initial.Set(key, seed.Transform())
		}
		pending = append(pending, pendingMarker{id: obs.ID, known: known, marker: marker})
	}

	if len(pending) == 0 {
		return
	}

	solved, marginals, err := Optimize(graph, initial)
	if err != nil {
		return
	}

	for _, p := range pending {
		key := MarkerKey(p.id)
		pose := NewTWCFromTransform(solved.At(key), PermuteCovariance(marginals.Cov(key)))

		if p.known {
			if p.marker.IsFixed {
				continue
			}
			p.marker.TMapMarker = pose
			p.marker.UpdateCount++
			continue
		}

		newMarker := NewMarker(p.id, pose)
		_ = m.Insert(newMarker)
	}
}

// safeNoise falls back to a loose isotropic model if building a Gaussian
// noise model failed (a non-positive-definite covariance).
func safeNoise(gn GaussianNoise, err error) NoiseModel {
	if err != nil || gn.dim == 0 {
		return NewIsotropicNoise(6, 1.0)
	}
	return gn
}

// expandBetweenCov substitutes DefaultBetweenSigma for an all-zero
// between-measurement covariance, and otherwise returns the populated
// covariance (such as SolveCameraFMarker's marginal) permuted into the
// graph's internal ordering.
func expandBetweenCov(cov [36]float64) [36]float64 {
	nonZero := false
	for _, v := range cov {
		if v != 0 {
			nonZero = true
			break
		}
	}
	if nonZero {
		return PermuteCovariance(cov)
	}
	var out [36]float64
	for i := 0; i < 6; i++ {
		out[i*6+i] = DefaultBetweenSigma * DefaultBetweenSigma
	}
	return out
}
