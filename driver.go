package vlam

// Backend is the capability interface both solvers share: a camera
// localization entry point and a map-update entry point. CoreDriver holds
// one concrete implementation of each and dispatches between them by a
// boolean flag.
type Backend interface {
	SolveTMapCamera(obsList Observations, m *Map) TWC
	UpdateMap(tMapCamera TWC, obsList Observations, m *Map)
}

var (
	_ Backend = GeometricSolver{}
	_ Backend = FactorGraphSolver{}
)

// CoreDriver wires one observation batch through solve -> update -> insert,
// selecting between the geometric and factor-graph backends.
type CoreDriver struct {
	Geometric   GeometricSolver
	FactorGraph FactorGraphSolver

	// UseFactorGraph selects the factor-graph backend for both Localize and
	// UpdateMap when true; the geometric backend otherwise.
	UseFactorGraph bool
}

// NewCoreDriver returns a CoreDriver with both backends ready to use.
func NewCoreDriver(useFactorGraph bool) *CoreDriver {
	return &CoreDriver{UseFactorGraph: useFactorGraph}
}

func (d *CoreDriver) backend() Backend {
	if d.UseFactorGraph {
		return d.FactorGraph
	}
	return d.Geometric
}

// Localize dispatches to the selected backend's camera-localization solve.
// Returns an invalid TWC if no observed marker is known to m.
func (d *CoreDriver) Localize(obsList Observations, m *Map) TWC {
	return d.backend().SolveTMapCamera(obsList, m)
}

// UpdateMap dispatches to the selected backend's map-update path.
//
// Ambient policy, regardless of backend: never mutate a fixed marker (both
// backends respect this at the point they write back to Map), and never
// insert a marker with no known anchor in sight this frame — an invalid
// tMapCamera short-circuits here, and the factor-graph backend additionally
// requires at least 2 observations.
func (d *CoreDriver) UpdateMap(tMapCamera TWC, obsList Observations, m *Map) {
	if !tMapCamera.IsValid() {
		return
	}
	d.backend().UpdateMap(tMapCamera, obsList, m)
}
