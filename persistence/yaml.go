// Package persistence implements the YAML map file collaborator: the
// boundary between a *vlam.Map and the on-disk document a VLAM node loads at
// startup and periodically re-saves.
package persistence

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	vlam "github.com/clydemcqueen/vlamgo"
)

// ParseError describes a malformed map file: returned rather than
// panicking, so the caller can fall through to an alternate map
// initialization mode.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("vlam: failed to parse map file %q: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// yamlMarker is one entry of the `markers` sequence: id, update
// count, fixed flag, xyz/rpy mean, and an optional 36-entry covariance
// (omitted when map_style == Pose).
type yamlMarker struct {
	ID  int32      `yaml:"id"`
	U   uint32     `yaml:"u"`
	F   int        `yaml:"f"`
	XYZ [3]float64 `yaml:"xyz"`
	RPY [3]float64 `yaml:"rpy"`
	Cov []float64  `yaml:"cov,omitempty"`
}

// yamlDoc is the top-level map-file document: marker_length,
// map_style (missing is read as Pose, i.e. the zero value), and markers.
type yamlDoc struct {
	MarkerLength float64      `yaml:"marker_length"`
	MapStyle     int          `yaml:"map_style"`
	Markers      []yamlMarker `yaml:"markers"`
}

// LoadMap reads and parses a YAML map file at path into a *vlam.Map. A
// malformed document is reported as a *ParseError; the map-init-mode
// collaborator is expected to fall through to a configured fallback mode on
// any error.
func LoadMap(path string) (*vlam.Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	style := vlam.MapStyle(doc.MapStyle)
	m, err := vlam.NewMap(doc.MarkerLength, style)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	for _, ym := range doc.Markers {
		cov := [36]float64{}
		copy(cov[:], ym.Cov)

		pose := vlam.NewTWC([6]float64{
			ym.XYZ[0], ym.XYZ[1], ym.XYZ[2],
			ym.RPY[0], ym.RPY[1], ym.RPY[2],
		}, cov)

		marker := &vlam.Marker{
			ID:          ym.ID,
			TMapMarker:  pose,
			UpdateCount: ym.U,
			IsFixed:     ym.F != 0,
		}
		if err := m.Insert(marker); err != nil {
			return nil, &ParseError{Path: path, Err: err}
		}
	}

	return m, nil
}

// SaveMap writes m to path as a YAML map file, the inverse of LoadMap.
// The covariance sequence is omitted entirely when m.MapStyle() == Pose,
// matching the wire schema's documented default.
func SaveMap(path string, m *vlam.Map) error {
	ids := m.IDs()
	doc := yamlDoc{
		MarkerLength: m.MarkerLength(),
		MapStyle:     int(m.MapStyle()),
		Markers:      make([]yamlMarker, len(ids)),
	}

	for i, id := range ids {
		marker, _ := m.Find(id)
		xyzrpy := marker.TMapMarker.XYZRPY()

		ym := yamlMarker{
			ID:  marker.ID,
			U:   marker.UpdateCount,
			XYZ: [3]float64{xyzrpy[0], xyzrpy[1], xyzrpy[2]},
			RPY: [3]float64{xyzrpy[3], xyzrpy[4], xyzrpy[5]},
		}
		if marker.IsFixed {
			ym.F = 1
		}
		if m.MapStyle() != vlam.MapStylePose {
			cov := marker.TMapMarker.Cov()
			ym.Cov = append([]float64(nil), cov[:]...)
		}
		doc.Markers[i] = ym
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("vlam: failed to marshal map: %w", err)
	}
	return os.WriteFile(path, out, 0644)
}
