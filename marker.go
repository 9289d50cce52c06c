package vlam

// Marker is a fiducial marker entity: its id, its pose in the map frame, and
// the bookkeeping the map store needs to decide whether it may still be
// mutated.
//
// Invariant: if IsFixed, TMapMarker is treated as ground truth and is never
// updated by the core; UpdateCount only increases.
type Marker struct {
	ID          int32
	TMapMarker  TWC
	UpdateCount uint32
	IsFixed     bool
}

// NewFixedMarker creates a marker pinned at pose as ground truth.
func NewFixedMarker(id int32, pose TWC) *Marker {
	return &Marker{ID: id, TMapMarker: pose, IsFixed: true}
}

// NewMarker creates a non-fixed marker at pose with UpdateCount 1 (it has
// been "seen" once, by virtue of being inserted from an observation).
func NewMarker(id int32, pose TWC) *Marker {
	return &Marker{ID: id, TMapMarker: pose, UpdateCount: 1}
}

// CornersInFrame returns the marker's four canonical corners (top-left,
// top-right, bottom-right, bottom-left, side L, centered in the marker's own
// XY-plane) transformed into the marker's map frame by TMapMarker.
func (m *Marker) CornersInFrame(length float64) [4][3]float64 {
	obj := ObjectCorners(length)
	var out [4][3]float64
	for i, c := range obj {
		out[i] = Apply(m.TMapMarker, c)
	}
	return out
}

// updateAverage applies the geometric backend's running-average update
// in place. Never called on a fixed marker.
func (m *Marker) updateAverage(observed TWC) {
	m.TMapMarker = m.TMapMarker.UpdateSimpleAverage(observed, m.UpdateCount)
	m.UpdateCount++
}
