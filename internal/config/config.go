// Package config holds the authoritative Config entity and the
// controller that validates, swaps, persists, and republishes it.
package config

import (
	"encoding/json"
	"fmt"

	"github.com/banshee-data/lidar2d-fusion/internal/cluster"
	"github.com/banshee-data/lidar2d-fusion/internal/devicecfg"
	"github.com/banshee-data/lidar2d-fusion/internal/geometry"
	"github.com/banshee-data/lidar2d-fusion/internal/roi"
	"github.com/banshee-data/lidar2d-fusion/internal/tracking"
)

// PresenceZone is a named rectangle tracks can be tested against; the
// publishing side of this feature is left as a hook (see ZoneEvaluator
// in package pipeline) pending a settled output schema.
type PresenceZone struct {
	ID   string        `json:"id"`
	Rect geometry.Quad `json:"rect"`
}

// Config is the authoritative, persisted configuration entity: devices,
// the optional region of interest, and the cluster/tracking parameters.
//
// SkipVisualiserOutputs, EnableAverageMovement, and
// AverageMovementIntervalMS are supplementary fields carried forward
// from this system's predecessor configuration, not present in the
// original distilled data model.
type Config struct {
	Devices        map[string]devicecfg.DeviceConfig `json:"devices"`
	ROI            *roi.Region                       `json:"roi,omitempty"`
	ClusterParams  cluster.Params                    `json:"cluster_params"`
	TrackingParams tracking.Params                   `json:"tracking_params"`
	PresenceZones  []PresenceZone                    `json:"presence_zones"`

	SkipVisualiserOutputs     bool `json:"skip_visualiser_outputs"`
	EnableAverageMovement     bool `json:"enable_average_movement"`
	AverageMovementIntervalMS int  `json:"average_movement_interval_ms"`
}

// Default returns the seeded configuration used when no persisted file
// exists: no devices, no ROI (tracking output withheld per spec until
// one is configured), and conservative cluster/tracking parameters.
func Default() Config {
	return Config{
		Devices: make(map[string]devicecfg.DeviceConfig),
		ROI:     nil,
		ClusterParams: cluster.Params{
			Eps:            0.5,
			MinPoints:      3,
			MinClusterSize: 1,
			MaxClusterSize: 50,
		},
		TrackingParams: tracking.Params{
			MaxMatchDistance: 0.1,
			Alpha:            0.5,
			Beta:             0.3,
			TrackTimeout:     10,
			MinMatchCount:    3,
		},
		PresenceZones: nil,

		SkipVisualiserOutputs:     false,
		EnableAverageMovement:     false,
		AverageMovementIntervalMS: 1000,
	}
}

// Clone returns a deep-enough copy of cfg: a fresh Devices map and
// PresenceZones slice, since Config is meant to be passed around as an
// immutable snapshot once published.
func (c Config) Clone() Config {
	out := c
	out.Devices = make(map[string]devicecfg.DeviceConfig, len(c.Devices))
	for k, v := range c.Devices {
		maskCopy := make([]devicecfg.MaskEntry, len(v.Mask))
		copy(maskCopy, v.Mask)
		v.Mask = maskCopy
		out.Devices[k] = v
	}
	if len(c.PresenceZones) > 0 {
		out.PresenceZones = make([]PresenceZone, len(c.PresenceZones))
		copy(out.PresenceZones, c.PresenceZones)
	}
	return out
}

// Marshal encodes cfg as the self-describing JSON document persisted to
// disk and published on the provideLidarConfig topic.
func (c Config) Marshal() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Unmarshal decodes a Config from JSON, as received on saveLidarConfig or
// read back from disk at startup.
func Unmarshal(data []byte) (Config, error) {
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: malformed document: %w", err)
	}
	return c, nil
}

// Validate checks the invariants the controller enforces before
// accepting a config update: device map keys match their entries' own
// serial, the ROI corners (if present) are non-degenerate, and the
// cluster/tracking parameters are within sane bounds.
func Validate(c Config) error {
	for serial, d := range c.Devices {
		if d.Serial != serial {
			return fmt.Errorf("config: device map key %q does not match DeviceConfig.Serial %q", serial, d.Serial)
		}
	}

	if c.ROI != nil {
		if c.ROI.Margin < 0 {
			return fmt.Errorf("config: roi margin must be non-negative, got %v", c.ROI.Margin)
		}
		if _, err := geometry.SolveQuadHomography(c.ROI.Corners, geometry.UnitSquare); err != nil {
			return fmt.Errorf("config: roi corners are degenerate: %w", err)
		}
	}

	cp := c.ClusterParams
	if cp.Eps <= 0 {
		return fmt.Errorf("config: cluster_params.eps must be positive, got %v", cp.Eps)
	}
	if cp.MinPoints < 1 {
		return fmt.Errorf("config: cluster_params.min_points must be >= 1, got %d", cp.MinPoints)
	}
	if cp.MaxClusterSize > 0 && cp.MinClusterSize > cp.MaxClusterSize {
		return fmt.Errorf("config: cluster_params.min_cluster_size (%d) exceeds max_cluster_size (%d)", cp.MinClusterSize, cp.MaxClusterSize)
	}

	tp := c.TrackingParams
	if tp.MaxMatchDistance <= 0 {
		return fmt.Errorf("config: tracking_params.max_match_distance must be positive, got %v", tp.MaxMatchDistance)
	}
	if tp.Alpha < 0 || tp.Alpha > 1 {
		return fmt.Errorf("config: tracking_params.alpha must be in [0,1], got %v", tp.Alpha)
	}
	if tp.Beta < 0 || tp.Beta > 1 {
		return fmt.Errorf("config: tracking_params.beta must be in [0,1], got %v", tp.Beta)
	}
	if tp.MinMatchCount < 1 {
		return fmt.Errorf("config: tracking_params.min_match_count must be >= 1, got %d", tp.MinMatchCount)
	}

	if c.EnableAverageMovement && c.AverageMovementIntervalMS <= 0 {
		return fmt.Errorf("config: average_movement_interval_ms must be positive when enable_average_movement is set, got %d", c.AverageMovementIntervalMS)
	}

	return nil
}
