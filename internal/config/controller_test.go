package config

import (
	"context"
	"testing"
	"time"

	"github.com/banshee-data/lidar2d-fusion/internal/devicecfg"
	"github.com/banshee-data/lidar2d-fusion/internal/fsutil"
	"github.com/banshee-data/lidar2d-fusion/internal/geometry"
	"github.com/banshee-data/lidar2d-fusion/internal/roi"
)

type fakePublisher struct {
	published []publication
}

type publication struct {
	topic    string
	payload  []byte
	retained bool
}

func (f *fakePublisher) Publish(topic string, payload []byte, retained bool) error {
	f.published = append(f.published, publication{topic: topic, payload: payload, retained: retained})
	return nil
}

func TestControllerLoadSeedsDefaultsWhenFileMissing(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	c := New(fs, "config.json", nil, "lidar2d/provideLidarConfig")
	if err := c.Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.Current().Config.Devices) != 0 {
		t.Fatalf("expected empty device set from defaults")
	}
}

func TestControllerSaveSwapsSnapshotAndPublishesRetained(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	pub := &fakePublisher{}
	c := New(fs, "config.json", pub, "lidar2d/provideLidarConfig")
	if err := c.Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	next := Default()
	next.Devices["A"] = defaultDevice("A")
	if err := c.Save(next); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(c.Current().Config.Devices) != 1 {
		t.Fatalf("expected swapped snapshot to carry the new device")
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected exactly one retained publish, got %d", len(pub.published))
	}
	if !pub.published[0].retained {
		t.Fatal("expected the config publish to be retained")
	}
	if pub.published[0].topic != "lidar2d/provideLidarConfig" {
		t.Fatalf("unexpected topic: %s", pub.published[0].topic)
	}
}

func TestControllerSaveRejectsInvalidConfigKeepingPrevious(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	c := New(fs, "config.json", nil, "topic")
	if err := c.Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := c.Current()

	bad := Default()
	bad.ClusterParams.Eps = -1
	if err := c.Save(bad); err == nil {
		t.Fatal("expected validation error")
	}

	if c.Current() != before {
		t.Fatal("expected snapshot to remain unchanged after a rejected save")
	}
}

func TestControllerSaveRebuildsROIProjector(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	c := New(fs, "config.json", nil, "topic")
	if err := c.Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	next := Default()
	next.ROI = &roi.Region{
		Corners: geometry.Quad{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}},
	}
	if err := c.Save(next); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := c.Current()
	if snap.Projector == nil || !snap.Projector.Ready() {
		t.Fatal("expected a ready ROI projector after saving a config with an ROI")
	}
}

func TestControllerSaveAppliesDefaultIncludeOutsideWhenOmitted(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	c := New(fs, "config.json", nil, "topic")
	if err := c.Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.SetDefaultIncludeOutside(true)

	next := Default()
	next.ROI = &roi.Region{
		Corners: geometry.Quad{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}},
	}
	if err := c.Save(next); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !c.Current().Config.ROI.IncludeOutside {
		t.Fatal("expected the CLI default to fill in an omitted IncludeOutside")
	}
	if next.ROI.IncludeOutside {
		t.Fatal("expected Save not to mutate the caller's ROI in place")
	}
}

func TestControllerSaveHonoursExplicitIncludeOutsideOverDefault(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	c := New(fs, "config.json", nil, "topic")
	if err := c.Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.SetDefaultIncludeOutside(false)

	next := Default()
	next.ROI = &roi.Region{
		Corners:        geometry.Quad{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}},
		IncludeOutside: true,
	}
	if err := c.Save(next); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !c.Current().Config.ROI.IncludeOutside {
		t.Fatal("expected an explicit IncludeOutside=true to survive a false CLI default")
	}
}

func TestEnsureDeviceCreatesAndPersistsOnce(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	pub := &fakePublisher{}
	c := New(fs, "config.json", pub, "topic")
	if err := c.Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := c.EnsureDevice("NEW-SERIAL")
	if _, ok := snap.Config.Devices["NEW-SERIAL"]; !ok {
		t.Fatal("expected device to be created")
	}

	again := c.EnsureDevice("NEW-SERIAL")
	if again != snap {
		t.Fatal("expected no-op (same snapshot) when device is already known")
	}
}

func TestControllerRunFlushesPendingWriteOnCancel(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	c := New(fs, "config.json", nil, "topic")
	if err := c.Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	next := Default()
	next.Devices["A"] = defaultDevice("A")
	if err := c.Save(next); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writer did not exit after cancellation")
	}

	if !fs.Exists("config.json") {
		t.Fatal("expected the pending write to be flushed to disk before the writer exited")
	}
}

func TestControllerCoalescesBurstOfSaves(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	c := New(fs, "config.json", nil, "topic")
	if err := c.Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Save several times without the writer goroutine running: the
	// channel should coalesce down to just the latest pending write.
	for i := 0; i < 5; i++ {
		next := Default()
		next.Devices["A"] = defaultDevice("A")
		next.TrackingParams.MinMatchCount = i + 1
		if err := c.Save(next); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	select {
	case pending := <-c.writeCh:
		if pending.TrackingParams.MinMatchCount != 5 {
			t.Fatalf("expected the latest save (5) to be the one pending, got %d", pending.TrackingParams.MinMatchCount)
		}
	default:
		t.Fatal("expected exactly one coalesced pending write")
	}

	select {
	case extra := <-c.writeCh:
		t.Fatalf("expected no further pending writes, got %+v", extra)
	default:
	}
}

func defaultDevice(serial string) devicecfg.DeviceConfig {
	return devicecfg.NewDeviceConfig(serial, 0)
}
