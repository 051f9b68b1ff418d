// Package codec decodes and encodes the wire payloads exchanged over the
// message bus: MessagePack for high-frequency scan/automask messages,
// JSON for the config document. Every conversion is fallible and returns
// an error instead of panicking, per the Malformed-payload error class.
package codec

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/banshee-data/lidar2d-fusion/internal/cluster"
	"github.com/banshee-data/lidar2d-fusion/internal/config"
	"github.com/banshee-data/lidar2d-fusion/internal/geometry"
	"github.com/banshee-data/lidar2d-fusion/internal/ingest"
	"github.com/banshee-data/lidar2d-fusion/internal/tracking"
)

// DecodeScanSamples decodes a MessagePack-encoded ordered sequence of
// samples, each a 2- or 3-tuple (angle_rad, distance_m[, quality]). The
// device serial is not part of this payload; callers extract it from the
// topic.
func DecodeScanSamples(payload []byte) ([]ingest.Sample, error) {
	var raw []interface{}
	if err := msgpack.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("codec: scan payload is not a list: %w", err)
	}

	samples := make([]ingest.Sample, 0, len(raw))
	for i, entry := range raw {
		tuple, ok := entry.([]interface{})
		if !ok {
			return nil, fmt.Errorf("codec: scan sample %d is not a tuple", i)
		}
		if len(tuple) != 2 && len(tuple) != 3 {
			return nil, fmt.Errorf("codec: scan sample %d has %d elements, want 2 or 3", i, len(tuple))
		}
		angle, err := asFloat64(tuple[0])
		if err != nil {
			return nil, fmt.Errorf("codec: scan sample %d angle: %w", i, err)
		}
		distance, err := asFloat64(tuple[1])
		if err != nil {
			return nil, fmt.Errorf("codec: scan sample %d distance: %w", i, err)
		}
		sample := ingest.Sample{AngleRad: angle, DistanceM: distance}
		if len(tuple) == 3 {
			q, err := asUint8(tuple[2])
			if err != nil {
				return nil, fmt.Errorf("codec: scan sample %d quality: %w", i, err)
			}
			sample.Quality = q
			sample.HasQuality = true
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

// AutoMaskRequest is the decoded requestAutoMask payload.
type AutoMaskRequest struct {
	Serial string `msgpack:"serial"`
	Frames int    `msgpack:"frames"`
}

// DecodeAutoMaskRequest decodes a MessagePack {serial, frames} map.
func DecodeAutoMaskRequest(payload []byte) (AutoMaskRequest, error) {
	var req AutoMaskRequest
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return AutoMaskRequest{}, fmt.Errorf("codec: malformed auto-mask request: %w", err)
	}
	if req.Serial == "" {
		return AutoMaskRequest{}, fmt.Errorf("codec: auto-mask request missing serial")
	}
	if req.Frames <= 0 {
		return AutoMaskRequest{}, fmt.Errorf("codec: auto-mask request frames must be positive, got %d", req.Frames)
	}
	return req, nil
}

// DecodeSaveConfig decodes and validates a saveLidarConfig JSON payload.
func DecodeSaveConfig(payload []byte) (config.Config, error) {
	cfg, err := config.Unmarshal(payload)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, fmt.Errorf("codec: save-config failed validation: %w", err)
	}
	return cfg, nil
}

// trackedPointWire is one [u, v] pair for the trackedPoints topic.
type trackedPointWire [2]float64

// EncodeTrackedPoints encodes raw projected centroids for this frame.
func EncodeTrackedPoints(points []geometry.Point) ([]byte, error) {
	wire := make([]trackedPointWire, len(points))
	for i, p := range points {
		wire[i] = trackedPointWire{p.X, p.Y}
	}
	return msgpack.Marshal(wire)
}

// smoothedTrackWire is one smoothed track entry for smoothedTrackedPoints.
type smoothedTrackWire struct {
	ID       uint64     `msgpack:"id"`
	X        float64    `msgpack:"x"`
	Y        float64    `msgpack:"y"`
	Velocity [2]float64 `msgpack:"velocity"`
}

// EncodeSmoothedTracks encodes the tracker's emitted tracks for the
// smoothedTrackedPoints topic.
func EncodeSmoothedTracks(tracks []tracking.Track) ([]byte, error) {
	wire := make([]smoothedTrackWire, len(tracks))
	for i, tr := range tracks {
		wire[i] = smoothedTrackWire{
			ID:       tr.ID,
			X:        tr.Position.X,
			Y:        tr.Position.Y,
			Velocity: [2]float64{tr.Velocity.X, tr.Velocity.Y},
		}
	}
	return msgpack.Marshal(wire)
}

// clusterWire is one cluster entry for the clusters topic.
type clusterWire struct {
	X    float64 `msgpack:"x"`
	Y    float64 `msgpack:"y"`
	Size int     `msgpack:"size"`
}

// EncodeClusters encodes world-space cluster centroids and sizes for the
// clusters topic.
func EncodeClusters(clusters []cluster.Cluster) ([]byte, error) {
	wire := make([]clusterWire, len(clusters))
	for i, c := range clusters {
		wire[i] = clusterWire{X: c.Centroid.X, Y: c.Centroid.Y, Size: c.Size}
	}
	return msgpack.Marshal(wire)
}

// EncodeMovement encodes a single averaged [dx, dy] movement vector.
func EncodeMovement(dx, dy float64) ([]byte, error) {
	return msgpack.Marshal([2]float64{dx, dy})
}

func asFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

func asUint8(v interface{}) (uint8, error) {
	n, err := asFloat64(v)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 255 {
		return 0, fmt.Errorf("quality %v out of byte range", n)
	}
	return uint8(n), nil
}
