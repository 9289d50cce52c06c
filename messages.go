package vlam

import "time"

// Header carries the minimal framing metadata every boundary message
// shares: the originating frame and the time it was captured.
type Header struct {
	FrameID string
	Stamp   time.Time
}

// CameraInfoMsg is the wire shape of a calibrated monocular camera's
// intrinsics and distortion: K is row-major 3x3
// (fx,0,cx,0,fy,cy,0,0,1), D is (k1,k2,p1,p2,k3).
type CameraInfoMsg struct {
	K [9]float64
	D [5]float64
}

// ToCameraInfo converts the wire intrinsics/distortion into the core's
// CameraInfo.
func (c CameraInfoMsg) ToCameraInfo() CameraInfo {
	return CameraInfo{
		Fx: c.K[0], Fy: c.K[4], Cx: c.K[2], Cy: c.K[5],
		K1: c.D[0], K2: c.D[1], P1: c.D[2], P2: c.D[3], K3: c.D[4],
	}
}

// ObservationMsg is one detected marker's wire record: pixel-coordinate
// corners in canonical order (top-left, top-right, bottom-right,
// bottom-left), as parallel x/y arrays rather than the core's paired
// Point2s — this is the one place pixel arrays get reshaped into the
// core's corner representation.
type ObservationMsg struct {
	ID int32
	X  [4]float64
	Y  [4]float64
}

// ObservationsMsg is the input message from the detector collaborator: a
// header, the frame's camera model, and its observations.
type ObservationsMsg struct {
	Header  Header
	Camera  CameraInfoMsg
	Markers []ObservationMsg
}

// ToObservations converts the wire message into the core's Observations.
func (m ObservationsMsg) ToObservations() Observations {
	items := make([]Observation, len(m.Markers))
	for i, om := range m.Markers {
		items[i] = Observation{
			ID: om.ID,
			Corners: [4]Point2{
				{X: om.X[0], Y: om.Y[0]},
				{X: om.X[1], Y: om.Y[1]},
				{X: om.X[2], Y: om.Y[2]},
				{X: om.X[3], Y: om.Y[3]},
			},
		}
	}
	return Observations{Items: items, Camera: m.Camera.ToCameraInfo()}
}

// PoseWithCovarianceMsg is a flat pose-with-covariance record in the map
// frame: xyz then rpy, plus the row-major 6x6 covariance in the
// external (x,y,z,roll,pitch,yaw) ordering.
type PoseWithCovarianceMsg struct {
	XYZ [3]float64
	RPY [3]float64
	Cov [36]float64
}

// newPoseWithCovarianceMsg flattens a TWC into its wire form.
func newPoseWithCovarianceMsg(t TWC) PoseWithCovarianceMsg {
	xyzrpy := t.XYZRPY()
	return PoseWithCovarianceMsg{
		XYZ: [3]float64{xyzrpy[0], xyzrpy[1], xyzrpy[2]},
		RPY: [3]float64{xyzrpy[3], xyzrpy[4], xyzrpy[5]},
		Cov: t.Cov(),
	}
}

// MapMsg is the output message to the publisher collaborator: a
// header, the map's shared globals, and parallel per-marker arrays.
type MapMsg struct {
	Header       Header
	MarkerLength float64
	MapStyle     int
	Fixed        []bool
	IDs          []int32
	Poses        []PoseWithCovarianceMsg
}

// NewMapMsg builds a MapMsg snapshot of m with the given frame_id/stamp.
// The snapshot never writes back into m: the boundary is one-directional.
func NewMapMsg(m *Map, frameID string, stamp time.Time) MapMsg {
	ids := m.IDs()
	out := MapMsg{
		Header:       Header{FrameID: frameID, Stamp: stamp},
		MarkerLength: m.MarkerLength(),
		MapStyle:     int(m.MapStyle()),
		Fixed:        make([]bool, len(ids)),
		IDs:          ids,
		Poses:        make([]PoseWithCovarianceMsg, len(ids)),
	}
	for i, id := range ids {
		marker, _ := m.Find(id)
		out.Fixed[i] = marker.IsFixed
		out.Poses[i] = newPoseWithCovarianceMsg(marker.TMapMarker)
	}
	return out
}
