// Package pipeline is the composition root that wires device ingestion,
// clustering, ROI projection, and tracking together on each incoming
// scan, and drives the periodic republish tick. It imports every layer
// package but none of them import it back.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/lidar2d-fusion/internal/bus"
	"github.com/banshee-data/lidar2d-fusion/internal/cluster"
	"github.com/banshee-data/lidar2d-fusion/internal/codec"
	"github.com/banshee-data/lidar2d-fusion/internal/config"
	"github.com/banshee-data/lidar2d-fusion/internal/devicecfg"
	"github.com/banshee-data/lidar2d-fusion/internal/geometry"
	"github.com/banshee-data/lidar2d-fusion/internal/ingest"
	"github.com/banshee-data/lidar2d-fusion/internal/monitoring"
	"github.com/banshee-data/lidar2d-fusion/internal/roi"
	"github.com/banshee-data/lidar2d-fusion/internal/taskctx"
	"github.com/banshee-data/lidar2d-fusion/internal/tracking"
)

// HistorySink records frame outputs for later offline analysis. The
// store/sqlite package implements this without the pipeline importing
// database internals, matching the config controller's Publisher
// indirection.
type HistorySink interface {
	RecordFrame(at time.Time, clusters []cluster.Cluster, tracks []tracking.Track)
}

// outputs is the latest frame's published shapes, cached so the
// periodic tick can re-emit them without re-running clustering or
// tracking.
type outputs struct {
	trackedPoints []geometry.Point
	smoothedTrack []tracking.Track
	clusters      []cluster.Cluster
}

// Pipeline orchestrates the scan-driven stages and the periodic
// republish tick described in spec.md §4.8 and §5.
type Pipeline struct {
	controller  *config.Controller
	bus         bus.Bus
	topicPrefix string

	publishInterval time.Duration
	now             func() time.Time

	mu          sync.Mutex
	buffers     map[string]ingest.DevicePointBuffer
	autoMasks   map[string]*devicecfg.AutoMaskSampler
	tracker     *tracking.Tracker
	zones       *ZoneEvaluator
	last        outputs
	lastFrameAt time.Time

	history      HistorySink
	onFirstFrame func()
	firstFrame   sync.Once
}

// New wires a Pipeline against controller (the authoritative config) and
// b (the bus adapter), publishing under topicPrefix (e.g. "lidar2d") and
// re-emitting the latest outputs every publishInterval.
func New(controller *config.Controller, b bus.Bus, topicPrefix string, publishInterval time.Duration) *Pipeline {
	snap := controller.Current()
	return &Pipeline{
		controller:      controller,
		bus:             b,
		topicPrefix:     topicPrefix,
		publishInterval: publishInterval,
		now:             time.Now,
		buffers:         make(map[string]ingest.DevicePointBuffer),
		autoMasks:       make(map[string]*devicecfg.AutoMaskSampler),
		tracker:         tracking.New(snap.Config.TrackingParams),
		zones:           NewZoneEvaluator(),
	}
}

// SetHistorySink wires an optional recorder for per-frame outputs.
func (p *Pipeline) SetHistorySink(h HistorySink) {
	p.history = h
}

// SetReadinessHook registers a callback invoked exactly once, the first
// time a scan is fully processed — used by the health server to report
// SERVING only once real output has been produced.
func (p *Pipeline) SetReadinessHook(f func()) {
	p.onFirstFrame = f
}

func (p *Pipeline) topic(name string) string {
	return p.topicPrefix + "/" + name
}

// Run subscribes to the inbound topics and drives the periodic republish
// tick until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.bus.Subscribe(ctx, p.topicPrefix+"/+/scans", bus.QoSAtMostOnce, func(m bus.Message) {
		p.handleScan(m)
	}); err != nil {
		return fmt.Errorf("pipeline: subscribe scans: %w", err)
	}
	if err := p.bus.Subscribe(ctx, p.topic("saveLidarConfig"), bus.QoSExactlyOnce, func(m bus.Message) {
		p.handleSaveConfig(m)
	}); err != nil {
		return fmt.Errorf("pipeline: subscribe saveLidarConfig: %w", err)
	}
	if err := p.bus.Subscribe(ctx, p.topic("requestAutoMask"), bus.QoSExactlyOnce, func(m bus.Message) {
		p.handleAutoMaskRequest(m)
	}); err != nil {
		return fmt.Errorf("pipeline: subscribe requestAutoMask: %w", err)
	}

	interval := p.publishInterval
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return taskctx.FromContext(ctx)
		case <-ticker.C:
			p.republish()
		}
	}
}

// deviceSerialFromTopic extracts {deviceSerial} from "prefix/{serial}/scans".
func deviceSerialFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[2] != "scans" {
		return "", false
	}
	return parts[1], true
}

func (p *Pipeline) handleScan(m bus.Message) {
	serial, ok := deviceSerialFromTopic(m.Topic)
	if !ok {
		monitoring.Logf("pipeline: scan message on unexpected topic %s", m.Topic)
		return
	}

	samples, err := codec.DecodeScanSamples(m.Payload)
	if err != nil {
		monitoring.Logf("pipeline: malformed scan payload on %s: %v", m.Topic, err)
		return
	}

	snap := p.controller.EnsureDevice(serial)
	device := snap.Config.Devices[serial]

	p.mu.Lock()
	if sampler, active := p.autoMasks[serial]; active {
		angleDistances := make([]devicecfg.AngleDistance, len(samples))
		for i, s := range samples {
			angleDistances[i] = devicecfg.AngleDistance{Angle: s.AngleRad, Distance: s.DistanceM}
		}
		if mask, done := sampler.AddFrame(angleDistances); done {
			delete(p.autoMasks, serial)
			p.mu.Unlock()
			p.finishAutoMask(serial, mask)
			p.mu.Lock()
		}
	}
	p.mu.Unlock()

	frame := ingest.ScanFrame{Serial: serial, Samples: samples}

	now := p.now()
	buf := ingest.Ingest(frame, device, now)

	p.mu.Lock()
	p.buffers[serial] = buf
	p.mu.Unlock()

	p.recompute(snap, now)

	p.firstFrame.Do(func() {
		if p.onFirstFrame != nil {
			p.onFirstFrame()
		}
	})
}

// recompute re-runs clustering over every device buffer, projects
// through the ROI (if configured), updates the tracker, caches the new
// outputs, and publishes them — the "update incoming device only,
// recluster always" policy.
func (p *Pipeline) recompute(snap *config.Snapshot, now time.Time) {
	p.mu.Lock()
	var points []geometry.Point
	for _, buf := range p.buffers {
		points = append(points, buf.Points...)
	}

	var dt float64
	if !p.lastFrameAt.IsZero() {
		dt = now.Sub(p.lastFrameAt).Seconds()
	}
	p.lastFrameAt = now

	clusters := cluster.DBSCAN(points, snap.Config.ClusterParams)

	var projected []roi.Projected
	if snap.Projector != nil && snap.Config.ROI != nil {
		centroids := make([]geometry.Point, len(clusters))
		for i, c := range clusters {
			centroids[i] = c.Centroid
		}
		var err error
		projected, err = snap.Projector.Project(centroids, *snap.Config.ROI)
		if err != nil {
			monitoring.Logf("pipeline: roi projection failed: %v", err)
			projected = nil
		}
	}

	trackedPoints := make([]geometry.Point, len(projected))
	detections := make([]geometry.Point, len(projected))
	for i, pr := range projected {
		trackedPoints[i] = pr.Point
		detections[i] = pr.Point
	}

	var smoothed []tracking.Track
	if snap.Config.ROI != nil {
		p.tracker.SetParams(snap.Config.TrackingParams)
		smoothed = p.tracker.Update(detections, dt)
	}

	p.last = outputs{trackedPoints: trackedPoints, smoothedTrack: smoothed, clusters: clusters}
	p.mu.Unlock()

	if p.history != nil {
		p.history.RecordFrame(now, clusters, smoothed)
	}

	p.zones.Evaluate(snap.Config.PresenceZones, smoothed)

	p.publish(snap, trackedPoints, smoothed, clusters)
}

func (p *Pipeline) publish(snap *config.Snapshot, trackedPoints []geometry.Point, smoothed []tracking.Track, clusters []cluster.Cluster) {
	ctx := context.Background()

	if !snap.Config.SkipVisualiserOutputs {
		if payload, err := codec.EncodeTrackedPoints(trackedPoints); err == nil {
			p.publishQoS0(ctx, "trackedPoints", payload)
		}
		if payload, err := codec.EncodeClusters(clusters); err == nil {
			p.publishQoS0(ctx, "clusters", payload)
		}
	}

	if payload, err := codec.EncodeSmoothedTracks(smoothed); err == nil {
		p.publishQoS0(ctx, "smoothedTrackedPoints", payload)
	}

	if snap.Config.EnableAverageMovement {
		dx, dy := averageVelocity(smoothed)
		if payload, err := codec.EncodeMovement(dx, dy); err == nil {
			p.publishQoS0(ctx, "movement", payload)
		}
	}
}

func averageVelocity(tracks []tracking.Track) (float64, float64) {
	if len(tracks) == 0 {
		return 0, 0
	}
	var sumX, sumY float64
	for _, t := range tracks {
		sumX += t.Velocity.X
		sumY += t.Velocity.Y
	}
	n := float64(len(tracks))
	return sumX / n, sumY / n
}

func (p *Pipeline) publishQoS0(ctx context.Context, name string, payload []byte) {
	if err := p.bus.Publish(ctx, bus.Message{Topic: p.topic(name), Payload: payload, QoS: bus.QoSAtMostOnce}); err != nil {
		monitoring.Logf("pipeline: publish %s failed: %v", name, err)
	}
}

// republish re-emits the cached outputs from the last scan-triggered
// recompute without re-running clustering or tracking — the periodic
// liveness tick.
func (p *Pipeline) republish() {
	snap := p.controller.Current()

	p.mu.Lock()
	out := p.last
	p.mu.Unlock()

	if out.trackedPoints == nil && out.smoothedTrack == nil && out.clusters == nil {
		return
	}
	p.publish(snap, out.trackedPoints, out.smoothedTrack, out.clusters)
}

func (p *Pipeline) handleSaveConfig(m bus.Message) {
	cfg, err := codec.DecodeSaveConfig(m.Payload)
	if err != nil {
		monitoring.Logf("pipeline: malformed saveLidarConfig payload: %v", err)
		return
	}
	if err := p.controller.Save(cfg); err != nil {
		monitoring.Logf("pipeline: rejected saveLidarConfig: %v", err)
		p.publishQoS0(context.Background(), "diagnostics", []byte(err.Error()))
	}
}

func (p *Pipeline) handleAutoMaskRequest(m bus.Message) {
	req, err := codec.DecodeAutoMaskRequest(m.Payload)
	if err != nil {
		monitoring.Logf("pipeline: malformed requestAutoMask payload: %v", err)
		return
	}

	p.controller.EnsureDevice(req.Serial)

	p.mu.Lock()
	p.autoMasks[req.Serial] = devicecfg.NewAutoMaskSampler(req.Serial, req.Frames, 0)
	p.mu.Unlock()
}

func (p *Pipeline) finishAutoMask(serial string, mask []devicecfg.MaskEntry) {
	snap := p.controller.Current()
	next := snap.Config.Clone()
	device, ok := next.Devices[serial]
	if !ok {
		return
	}
	device.Mask = mask
	next.Devices[serial] = device

	if err := p.controller.Save(next); err != nil {
		monitoring.Logf("pipeline: failed to save auto-mask result for %s: %v", serial, err)
	}
}
