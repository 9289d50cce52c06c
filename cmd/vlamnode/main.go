// Command vlamnode wires the VLAM core into a single-threaded event loop:
// an observations channel and a periodic map-publish ticker
// share one select loop, so the core driver and the map it owns are never
// touched concurrently. Marker detection, image decoding, and
// transform-tree publishing are true non-goals and appear here only as
// the stub interfaces the loop depends on.
package main

import (
	"flag"
	"log"
	"time"

	vlam "github.com/clydemcqueen/vlamgo"
	"github.com/clydemcqueen/vlamgo/config"
	"github.com/clydemcqueen/vlamgo/persistence"
)

// Detector produces observation batches; a real implementation wraps the
// external marker-detection routine and its image I/O. Never implemented
// here.
type Detector interface {
	Observations() <-chan vlam.ObservationsMsg
}

// Publisher consumes map snapshots; a real implementation publishes
// visualization and transform trees. Never implemented here.
type Publisher interface {
	PublishMap(vlam.MapMsg)
}

func main() {
	configPath := flag.String("config", "vlamnode.ini", "path to node config INI file")
	flag.Parse()

	nc, err := config.LoadNodeConfig(*configPath)
	if err != nil {
		log.Fatalf("vlamnode: failed to load config %q: %v", *configPath, err)
	}

	m, deferInit, err := initMap(nc)
	if err != nil {
		log.Fatalf("vlamnode: failed to initialize map: %v", err)
	}

	driver := vlam.NewCoreDriver(nc.UseFactorGraph)
	run(driver, m, nc, deferInit, nil, nil)
}

// initMap realizes the three map-initialization modes. deferInit is true
// only for mode 2, where construction is deferred to the first observation
// batch (handled in run).
func initMap(nc *config.NodeConfig) (m *vlam.Map, deferInit bool, err error) {
	switch nc.InitMode {
	case config.InitModeLoadFile:
		m, err = persistence.LoadMap(nc.MapFile)
		if err == nil {
			return m, false, nil
		}
		log.Printf("vlamnode: map file load failed (%v), falling back to fixed-marker init", err)
		fallthrough

	case config.InitModeFixedMarker:
		m, err = vlam.NewMap(nc.MarkerLength, nc.MapStyle)
		if err != nil {
			return nil, false, err
		}
		if err := m.Insert(vlam.NewFixedMarker(nc.FixedMarkerID, nc.FixedMarkerTWC())); err != nil {
			return nil, false, err
		}
		return m, false, nil

	case config.InitModeSeatOnFirstFrame:
		return nil, true, nil

	default:
		m, err = vlam.NewMap(nc.MarkerLength, nc.MapStyle)
		return m, false, err
	}
}

// seatFirstMarker implements InitModeSeatOnFirstFrame: find the lowest marker id in the
// first observation batch, solve its camera-from-marker pose, and seat it as
// a fixed marker at the configured t_map_camera.
func seatFirstMarker(nc *config.NodeConfig, obsList vlam.Observations) (*vlam.Map, error) {
	lowest := obsList.Items[0]
	for _, o := range obsList.Items[1:] {
		if o.ID < lowest.ID {
			lowest = o
		}
	}

	geo := vlam.GeometricSolver{}
	tCameraMarker := geo.SolveTCameraMarker(lowest, nc.MarkerLength, obsList.Camera)
	if !tCameraMarker.IsValid() {
		return nil, nil
	}

	tMapCamera := nc.FixedMarkerTWC()
	tMapMarker := vlam.Compose(tMapCamera, tCameraMarker)

	m, err := vlam.NewMap(nc.MarkerLength, nc.MapStyle)
	if err != nil {
		return nil, err
	}
	if err := m.Insert(vlam.NewFixedMarker(lowest.ID, tMapMarker)); err != nil {
		return nil, err
	}
	return m, nil
}

// run is the node's single event loop: a select over the detector's observation
// channel and a publish ticker, never run concurrently against m.
func run(driver *vlam.CoreDriver, m *vlam.Map, nc *config.NodeConfig, deferInit bool, det Detector, publisher Publisher) {
	var obsCh <-chan vlam.ObservationsMsg
	if det != nil {
		obsCh = det.Observations()
	}

	period := time.Duration(nc.PublishPeriodSeconds * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-obsCh:
			if !ok {
				return
			}
			obsList := msg.ToObservations()

			if deferInit {
				if len(obsList.Items) == 0 {
					continue
				}
				seeded, err := seatFirstMarker(nc, obsList)
				if err != nil {
					log.Printf("vlamnode: failed to seat first marker: %v", err)
					continue
				}
				if seeded == nil {
					continue
				}
				m = seeded
				deferInit = false
				continue
			}

			tMapCamera := driver.Localize(obsList, m)
			if !tMapCamera.IsValid() {
				continue
			}
			driver.UpdateMap(tMapCamera, obsList, m)

		case <-ticker.C:
			if m == nil {
				continue
			}
			if publisher != nil {
				publisher.PublishMap(vlam.NewMapMsg(m, "map", time.Now()))
			}
			if err := persistence.SaveMap(nc.MapFile, m); err != nil {
				log.Printf("vlamnode: failed to save map: %v", err)
			}
		}
	}
}
