// Package config loads the map-initialization-mode configuration and
// other small node-startup parameters from an INI file: flat key/value
// startup metadata, nothing that warrants a full configuration framework.
package config

import (
	vlam "github.com/clydemcqueen/vlamgo"
	"gopkg.in/ini.v1"
)

// InitMode selects how the marker map is constructed at node startup.
type InitMode int

const (
	// InitModeLoadFile loads the map from MapFile; on failure, falls through
	// to InitModeFixedMarker.
	InitModeLoadFile InitMode = 0
	// InitModeFixedMarker constructs an empty map and seeds a single fixed
	// marker from FixedMarkerID/FixedMarkerPose.
	InitModeFixedMarker InitMode = 1
	// InitModeSeatOnFirstFrame defers construction until the first
	// observation batch, then seats the lowest observed marker id as a fixed
	// marker with FixedMarkerPose as t_map_camera.
	InitModeSeatOnFirstFrame InitMode = 2
)

// NodeConfig is the flat startup configuration a VLAM node loads once at
// launch: which map-initialization mode to use and the parameters
// each mode needs.
type NodeConfig struct {
	MarkerLength float64
	MapStyle     vlam.MapStyle
	UseFactorGraph bool

	InitMode InitMode
	MapFile  string

	// FixedMarkerID is used by InitModeFixedMarker only. FixedMarkerPose is
	// the fixed marker's pose in InitModeFixedMarker and the t_map_camera
	// in InitModeSeatOnFirstFrame.
	FixedMarkerID   int32
	FixedMarkerPose [6]float64 // x,y,z,roll,pitch,yaw

	PublishPeriodSeconds float64
}

// LoadNodeConfig reads a NodeConfig from an INI file at path. Every key
// carries a usable default, so a minimal file (or an empty [map] section)
// still yields a runnable config.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}

	sec := cfg.Section("map")
	nc := &NodeConfig{
		MarkerLength:         sec.Key("marker_length").MustFloat64(0.1),
		MapStyle:             vlam.MapStyle(sec.Key("map_style").MustInt(int(vlam.MapStylePose))),
		UseFactorGraph:       sec.Key("use_factor_graph").MustBool(true),
		InitMode:             InitMode(sec.Key("init_mode").MustInt(int(InitModeLoadFile))),
		MapFile:              sec.Key("map_file").MustString("map.yaml"),
		FixedMarkerID:        int32(sec.Key("fixed_marker_id").MustInt(0)),
		PublishPeriodSeconds: sec.Key("publish_period_seconds").MustFloat64(1.0),
	}

	pose := cfg.Section("fixed_marker_pose")
	nc.FixedMarkerPose = [6]float64{
		pose.Key("x").MustFloat64(0),
		pose.Key("y").MustFloat64(0),
		pose.Key("z").MustFloat64(0),
		pose.Key("roll").MustFloat64(0),
		pose.Key("pitch").MustFloat64(0),
		pose.Key("yaw").MustFloat64(0),
	}

	return nc, nil
}

// FixedMarkerTWC returns the configured fixed-marker pose as a valid,
// zero-covariance TWC (used by InitModeFixedMarker and
// InitModeSeatOnFirstFrame).
func (nc *NodeConfig) FixedMarkerTWC() vlam.TWC {
	return vlam.NewTWC(nc.FixedMarkerPose, [36]float64{})
}
