package vlam

// Point2 is an image-plane pixel coordinate.
type Point2 struct {
	X, Y float64
}

// Observation is one detected marker in one frame: its id and its four
// image-plane corners in canonical order — top-left, top-right,
// bottom-right, bottom-left. Purely transport; no interpretation is
// performed here.
type Observation struct {
	ID      int32
	Corners [4]Point2
}

// CameraInfo is a calibrated monocular camera's intrinsics and distortion,
// in the (k1,k2,p1,p2,k3) convention gocv's calib3d bindings already
// use for SolvePnP's distCoeffs argument.
type CameraInfo struct {
	Fx, Fy, Cx, Cy     float64
	K1, K2, P1, P2, K3 float64
}

// Observations is an ordered sequence of Observation plus the CameraInfo that
// produced them.
type Observations struct {
	Items  []Observation
	Camera CameraInfo
}

// NewObservations constructs an Observations from raw detector output: a
// parallel id/corner-array list plus the frame's CameraInfo. No
// interpretation beyond the reshape.
func NewObservations(ids []int32, corners [][4]Point2, cam CameraInfo) Observations {
	items := make([]Observation, len(ids))
	for i, id := range ids {
		items[i] = Observation{ID: id, Corners: corners[i]}
	}
	return Observations{Items: items, Camera: cam}
}

// ObjectCorners returns the four canonical object-frame corners of a marker
// of side length, centered at the origin of its own XY-plane:
// top-left, top-right, bottom-right, bottom-left.
func ObjectCorners(length float64) [4][3]float64 {
	h := length / 2
	return [4][3]float64{
		{-h, h, 0},
		{h, h, 0},
		{h, -h, 0},
		{-h, -h, 0},
	}
}
