package vlam

import (
	"math"
	"testing"
)

func TestValuesSetAtRoundTrip(t *testing.T) {
	v := NewValues()
	pose := Transform3{R: RotationFromRPY(0.1, 0.2, 0.3), T: matFromArray3x1([3]float64{1, 2, 3})}
	v.Set(CameraKey, pose)

	got := v.At(CameraKey)
	wantVec := TransformToVec3(pose)
	gotVec := TransformToVec3(got)
	for i := range wantVec {
		almostEqual(t, gotVec[i], wantVec[i], 1e-9, "Values Set/At round trip")
	}
}

func TestMarkerKeyFormat(t *testing.T) {
	if MarkerKey(3) != Key("m3") {
		t.Errorf("MarkerKey(3) = %q, want \"m3\"", MarkerKey(3))
	}
	if CameraKey != Key("c") {
		t.Errorf("CameraKey = %q, want \"c\"", CameraKey)
	}
}

func TestDiagonalNoiseWhiten(t *testing.T) {
	n := NewIsotropicNoise(2, 2.0)
	out := n.Whiten([]float64{4, 6})
	almostEqual(t, out[0], 2, 1e-12, "whitened first component")
	almostEqual(t, out[1], 3, 1e-12, "whitened second component")
}

func TestGaussianNoiseRejectsNonPositiveDefinite(t *testing.T) {
	var cov [36]float64 // all zero: not positive-definite
	if _, err := NewGaussianNoise(cov); err == nil {
		t.Error("expected an error for a non-positive-definite covariance")
	}
}

func TestOptimizeSingleMarkerConverges(t *testing.T) {
	cam := CameraInfo{Fx: 600, Fy: 600, Cx: 320, Cy: 240}
	length := 0.1
	tCameraMarker := Transform3{
		R: RotationFromRPY(0.02, -0.05, 0.1),
		T: matFromArray3x1([3]float64{0.01, -0.02, 0.9}),
	}
	obs := synthesizeObservation(tCameraMarker, length, cam)

	solver := FactorGraphSolver{}
	got := solver.SolveCameraFMarker(obs, length, cam)
	if !got.IsValid() {
		t.Fatal("expected a valid solution")
	}

	// SolveCameraFMarker returns t_marker_camera: the inverse of
	// the synthesized t_camera_marker.
	want := TransformToVec3(Inverse(NewTWCFromTransform(tCameraMarker, [36]float64{})).Transform())
	gotVec := TransformToVec3(got.Transform())
	for i := 0; i < 6; i++ {
		almostEqual(t, gotVec[i], want[i], 1e-3, "t_marker_camera component")
	}

	cov := got.Cov()
	hasPositiveDiagonal := false
	for i := 0; i < 6; i++ {
		if cov[i*6+i] > 0 {
			hasPositiveDiagonal = true
		}
	}
	if !hasPositiveDiagonal {
		t.Error("expected a marginal covariance with a positive diagonal")
	}
}

// TestFactorGraphUpdateMapSeatsUnknownMarker observes a fixed
// id=0 plus a previously-unseen id=1, observed together; after UpdateMap,
// id=1 is present, not fixed, update_count=1, with positive-diagonal
// covariance.
func TestFactorGraphUpdateMapSeatsUnknownMarker(t *testing.T) {
	m, _ := NewMap(0.1, MapStyleCovariance)
	_ = m.Insert(NewFixedMarker(0, IdentityTWC()))

	cam := CameraInfo{Fx: 600, Fy: 600, Cx: 320, Cy: 240}
	// Camera 0.8 m above the marker plane, looking straight down: roll pi
	// turns the camera's +Z optical axis toward the map's -Z.
	tMapCamera := NewTWC([6]float64{0.05, 0, 0.8, math.Pi, 0, 0}, [36]float64{})
	tCameraMap := Inverse(tMapCamera)

	marker0, _ := m.Find(0)
	corners0 := marker0.CornersInFrame(0.1)
	unseenPose := NewTWC([6]float64{0.3, 0, 0, 0, 0, 0}, [36]float64{})
	corners1 := [4][3]float64{}
	objCorners := ObjectCorners(0.1)
	for i, p := range objCorners {
		corners1[i] = Apply(unseenPose, p)
	}

	obsFor := func(id int32, corners [4][3]float64) Observation {
		var pts [4]Point2
		for i, c := range corners {
			pts[i] = Project(c, tCameraMap.Transform(), cam)
		}
		return Observation{ID: id, Corners: pts}
	}

	obsList := Observations{
		Items:  []Observation{obsFor(0, corners0), obsFor(1, corners1)},
		Camera: cam,
	}

	solver := FactorGraphSolver{}
	solver.UpdateMap(tMapCamera, obsList, m)

	marker1, ok := m.Find(1)
	if !ok {
		t.Fatal("expected marker id=1 to have been inserted")
	}
	if marker1.IsFixed {
		t.Error("marker id=1 should not be fixed")
	}
	if marker1.UpdateCount != 1 {
		t.Errorf("expected update_count=1, got %d", marker1.UpdateCount)
	}

	cov := marker1.TMapMarker.Cov()
	hasPositiveDiagonal := false
	for i := 0; i < 6; i++ {
		if cov[i*6+i] > 0 {
			hasPositiveDiagonal = true
		}
	}
	if !hasPositiveDiagonal {
		t.Error("expected marker id=1's covariance to have a positive diagonal")
	}
}

// TestFactorGraphUpdateMapRequiresFixedAnchor: a brand-new marker is not
// seated while the map holds no fixed marker, even when a known (but
// non-fixed) marker is visible in the same frame.
func TestFactorGraphUpdateMapRequiresFixedAnchor(t *testing.T) {
	m, _ := NewMap(0.1, MapStyleCovariance)
	_ = m.Insert(&Marker{ID: 0, TMapMarker: IdentityTWC(), UpdateCount: 1})

	cam := CameraInfo{Fx: 600, Fy: 600, Cx: 320, Cy: 240}
	tMapCamera := NewTWC([6]float64{0.05, 0, 0.8, math.Pi, 0, 0}, [36]float64{})
	tCameraMap := Inverse(tMapCamera)

	marker0, _ := m.Find(0)
	corners0 := marker0.CornersInFrame(0.1)
	unseenPose := NewTWC([6]float64{0.3, 0, 0, 0, 0, 0}, [36]float64{})
	corners1 := [4][3]float64{}
	for i, p := range ObjectCorners(0.1) {
		corners1[i] = Apply(unseenPose, p)
	}

	obsFor := func(id int32, corners [4][3]float64) Observation {
		var pts [4]Point2
		for i, c := range corners {
			pts[i] = Project(c, tCameraMap.Transform(), cam)
		}
		return Observation{ID: id, Corners: pts}
	}

	obsList := Observations{
		Items:  []Observation{obsFor(0, corners0), obsFor(1, corners1)},
		Camera: cam,
	}

	solver := FactorGraphSolver{}
	solver.UpdateMap(tMapCamera, obsList, m)

	if _, ok := m.Find(1); ok {
		t.Error("marker id=1 must not be seated while the map has no fixed marker")
	}
}

func TestFactorGraphUpdateMapNoOpBelowTwoObservations(t *testing.T) {
	m, _ := NewMap(0.1, MapStylePose)
	_ = m.Insert(NewFixedMarker(0, IdentityTWC()))

	before := snapshotMap(m)

	solver := FactorGraphSolver{}
	solver.UpdateMap(IdentityTWC(), Observations{Items: nil}, m)

	after := snapshotMap(m)
	assertMapsEqual(t, before, after)
}

func TestFactorGraphUpdateMapNoOpOnInvalidCamera(t *testing.T) {
	m, _ := NewMap(0.1, MapStylePose)
	_ = m.Insert(NewFixedMarker(0, IdentityTWC()))
	before := snapshotMap(m)

	cam := CameraInfo{Fx: 600, Fy: 600, Cx: 320, Cy: 240}
	obsList := Observations{
		Items: []Observation{
			{ID: 0, Corners: [4]Point2{{X: 1, Y: 1}, {X: 2, Y: 1}, {X: 2, Y: 2}, {X: 1, Y: 2}}},
			{ID: 1, Corners: [4]Point2{{X: 1, Y: 1}, {X: 2, Y: 1}, {X: 2, Y: 2}, {X: 1, Y: 2}}},
		},
		Camera: cam,
	}

	solver := FactorGraphSolver{}
	solver.UpdateMap(InvalidTWC(), obsList, m)

	after := snapshotMap(m)
	assertMapsEqual(t, before, after)
}

type markerSnapshot struct {
	id          int32
	xyzrpy      [6]float64
	updateCount uint32
	isFixed     bool
}

func snapshotMap(m *Map) []markerSnapshot {
	var out []markerSnapshot
	for _, id := range m.IDs() {
		marker, _ := m.Find(id)
		out = append(out, markerSnapshot{
			id:          marker.ID,
			xyzrpy:      marker.TMapMarker.XYZRPY(),
			updateCount: marker.UpdateCount,
			isFixed:     marker.IsFixed,
		})
	}
	return out
}

func assertMapsEqual(t *testing.T, before, after []markerSnapshot) {
	t.Helper()
	if len(before) != len(after) {
		t.Fatalf("marker count changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("marker %d changed: %+v -> %+v", before[i].id, before[i], after[i])
		}
	}
}
