// Package ingest converts a single device's raw polar scan frame into a
// mask-filtered, world-space point buffer.
package ingest

import (
	"time"

	"github.com/banshee-data/lidar2d-fusion/internal/devicecfg"
	"github.com/banshee-data/lidar2d-fusion/internal/geometry"
)

// Sample is one (angle, distance[, quality]) tuple from a raw scan. Quality
// is optional; HasQuality reports whether it was present on the wire.
type Sample struct {
	AngleRad   float64
	DistanceM  float64
	Quality    uint8
	HasQuality bool
}

// ScanFrame is one device's raw scan: a serial and its ordered samples.
type ScanFrame struct {
	Serial  string
	Samples []Sample
}

// DevicePointBuffer is a device's world-space points from its last frame.
type DevicePointBuffer struct {
	Serial    string
	Points    []geometry.Point
	UpdatedAt time.Time
}

// Ingest filters, transforms, and poses a frame's samples using device's
// configuration, returning the resulting world-space point buffer.
//
// A sample is dropped if its distance is <= 0, if it carries a zero
// quality, or if devicecfg.ApplyMask rejects it. Surviving samples are
// converted to cartesian (sensor frame) and then posed into world space.
// Ingest is pure over (frame, device): identical inputs yield a
// bit-identical buffer (no wall-clock dependency besides UpdatedAt, which
// callers may overwrite for deterministic tests).
func Ingest(frame ScanFrame, device devicecfg.DeviceConfig, now time.Time) DevicePointBuffer {
	points := make([]geometry.Point, 0, len(frame.Samples))
	for _, s := range frame.Samples {
		if s.DistanceM <= 0 {
			continue
		}
		if s.HasQuality && s.Quality == 0 {
			continue
		}
		if !devicecfg.ApplyMask(device.Mask, s.AngleRad, s.DistanceM) {
			continue
		}
		sensorPoint := geometry.PolarToCartesian(s.AngleRad, s.DistanceM)
		worldPoint := geometry.ApplyPose(sensorPoint, device.Pose)
		if device.FlipX {
			worldPoint.X = -worldPoint.X
		}
		if device.FlipY {
			worldPoint.Y = -worldPoint.Y
		}
		points = append(points, worldPoint)
	}
	return DevicePointBuffer{
		Serial:    frame.Serial,
		Points:    points,
		UpdatedAt: now,
	}
}
