// Package devicecfg holds per-device configuration: pose, background mask,
// and the auto-mask sampling session used to derive a mask from observed
// scans.
package devicecfg

import (
	"math"
	"sort"

	"github.com/banshee-data/lidar2d-fusion/internal/geometry"
)

// palette mirrors the small fixed colour rotation assigned to newly seen
// devices; cosmetic only, never read by the pipeline.
var palette = []string{"#ffff00", "#00ffff", "#ff00ff"}

// MaskEntry excludes samples whose angle falls within [AngleFrom, AngleTo)
// (modulo 2π) and whose distance exceeds DistanceMax.
type MaskEntry struct {
	AngleFrom   float64 `json:"angle_from"`
	AngleTo     float64 `json:"angle_to"`
	DistanceMax float64 `json:"distance_max"`
}

// DeviceConfig is the per-serial configuration entity described in the
// data model: pose, mask, and cosmetic name/colour. FlipX/FlipY are a
// supplementary per-axis sign flip applied after the pose transform,
// carried forward from this system's predecessor for devices mounted
// mirrored relative to the world frame.
type DeviceConfig struct {
	Serial string        `json:"serial"`
	Pose   geometry.Pose `json:"pose"`
	Mask   []MaskEntry   `json:"mask"`
	Color  string        `json:"color"`
	Name   string        `json:"name"`
	FlipX  bool          `json:"flip_x"`
	FlipY  bool          `json:"flip_y"`
}

// NewDeviceConfig seeds the defaults assigned to a device on first sight:
// identity pose, empty mask, name equal to the serial, and the next
// colour in the rotation.
func NewDeviceConfig(serial string, deviceCount int) DeviceConfig {
	return DeviceConfig{
		Serial: serial,
		Pose:   geometry.Pose{X: 0, Y: 0, Rotation: 0},
		Mask:   nil,
		Color:  palette[deviceCount%len(palette)],
		Name:   serial,
	}
}

// inRange reports whether angle, normalised to [0, 2π), lies within
// [from, to) under the same normalisation, wrapping across the 0 boundary
// when from > to.
func inRange(angle, from, to float64) bool {
	if to-from >= 2*math.Pi {
		return true // full circle, e.g. (0, 2π)
	}
	a := geometry.NormalizeAngle(angle)
	f := geometry.NormalizeAngle(from)
	t := geometry.NormalizeAngle(to)
	if f == t {
		return true // degenerate zero-width range normalises to full circle
	}
	if f <= t {
		return a >= f && a < t
	}
	// Range wraps through 0 (e.g. 350°..10°).
	return a >= f || a < t
}

// ApplyMask reports whether a sample at the given angle and distance
// should be included (not masked out). A sample is rejected if any mask
// entry covers its angle and its distance exceeds that entry's
// DistanceMax. An empty mask admits everything.
func ApplyMask(mask []MaskEntry, angle, distance float64) bool {
	for _, m := range mask {
		if inRange(angle, m.AngleFrom, m.AngleTo) && distance > m.DistanceMax {
			return false
		}
	}
	return true
}

// AutoMaskSampler accumulates, over a fixed number of incoming frames, the
// minimum observed distance per 1° angle bucket, then emits a mask built
// from those minima.
//
// Each call to AddFrame contributes its samples to the running per-bucket
// minimum before decrementing the remaining-frame counter, so all
// frame_count frames — including the last — count toward the emitted
// mask, per spec.md §4.2 ("retain the minimum observed distance ... across
// all collected frames").
type AutoMaskSampler struct {
	Serial          string
	ThresholdMargin float64

	remaining int
	buckets   map[int]float64 // degree bucket [0,360) -> min distance
}

// NewAutoMaskSampler creates a sampler that finalises after frameCount
// calls to AddFrame, inset by thresholdMargin.
func NewAutoMaskSampler(serial string, frameCount int, thresholdMargin float64) *AutoMaskSampler {
	return &AutoMaskSampler{
		Serial:          serial,
		ThresholdMargin: thresholdMargin,
		remaining:       frameCount,
		buckets:         make(map[int]float64),
	}
}

// AngleDistance is a minimal (angle, distance) pair, decoupled from the
// ingestion package's sample type so this package stays leaf-level.
type AngleDistance struct {
	Angle    float64
	Distance float64
}

// AddFrame records one frame's worth of samples. It returns the derived
// mask and true once the target frame count has been reached; otherwise
// it returns (nil, false).
func (s *AutoMaskSampler) AddFrame(samples []AngleDistance) ([]MaskEntry, bool) {
	for _, sample := range samples {
		inset := sample.Distance - s.ThresholdMargin
		if sample.Distance <= 0 || inset <= 0 {
			continue
		}
		bucket := angleBucket(sample.Angle)
		if prev, ok := s.buckets[bucket]; !ok || inset < prev {
			s.buckets[bucket] = inset
		}
	}

	s.remaining--
	if s.remaining > 0 {
		return nil, false
	}
	return s.buildMask(), true
}

// IsComplete reports whether the sampler has finalised.
func (s *AutoMaskSampler) IsComplete() bool {
	return s.remaining <= 0
}

func angleBucket(angleRad float64) int {
	deg := geometry.NormalizeAngle(angleRad) * 180 / math.Pi
	b := int(math.Round(deg)) % 360
	if b < 0 {
		b += 360
	}
	return b
}

func (s *AutoMaskSampler) buildMask() []MaskEntry {
	degPerBucket := math.Pi / 180
	buckets := make([]int, 0, len(s.buckets))
	for b := range s.buckets {
		buckets = append(buckets, b)
	}
	sort.Ints(buckets)

	mask := make([]MaskEntry, 0, len(buckets))
	for _, b := range buckets {
		from := float64(b) * degPerBucket
		to := from + degPerBucket
		mask = append(mask, MaskEntry{
			AngleFrom:   from,
			AngleTo:     to,
			DistanceMax: s.buckets[b],
		})
	}
	return mask
}
