package config

import (
	"context"
	"sync"

	"github.com/banshee-data/lidar2d-fusion/internal/devicecfg"
	"github.com/banshee-data/lidar2d-fusion/internal/fsutil"
	"github.com/banshee-data/lidar2d-fusion/internal/monitoring"
	"github.com/banshee-data/lidar2d-fusion/internal/roi"
)

// Publisher is the minimal bus capability the controller needs: publish a
// payload to a topic, optionally retained. Concrete bus adapters satisfy
// this without the config package importing the bus package.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// Snapshot bundles a Config with the ROI projector built from it, so a
// single atomic read gives callers a consistent (config, homography)
// pair for the duration of a frame.
type Snapshot struct {
	Config    Config
	Projector *roi.Projector // nil if Config.ROI is nil
}

// Controller is the sole mutator of Config. All other components read a
// Snapshot obtained from Current(); the controller swaps the snapshot
// pointer under a single mutex held only for the swap itself.
type Controller struct {
	mu      sync.Mutex
	current *Snapshot

	fs          fsutil.FileSystem
	path        string
	publisher   Publisher
	configTopic string

	defaultIncludeOutside bool

	writeCh chan Config
}

// New creates a controller backed by fs/path for persistence and
// publisher/configTopic for the retained provideLidarConfig republish.
// It does not load or start the background writer; call Load and Run.
func New(fs fsutil.FileSystem, path string, publisher Publisher, configTopic string) *Controller {
	return &Controller{
		fs:          fs,
		path:        path,
		publisher:   publisher,
		configTopic: configTopic,
		writeCh:     make(chan Config, 1),
	}
}

// Load reads the persisted config from disk, falling back to defaults if
// the file does not exist or fails to parse. It does not publish or
// schedule a write — startup seeds the in-memory snapshot only.
func (c *Controller) Load() error {
	cfg := Default()
	if c.fs.Exists(c.path) {
		data, err := c.fs.ReadFile(c.path)
		if err != nil {
			monitoring.Logf("config: failed to read %s, using defaults: %v", c.path, err)
		} else if parsed, err := Unmarshal(data); err != nil {
			monitoring.Logf("config: failed to parse %s, using defaults: %v", c.path, err)
		} else if err := Validate(parsed); err != nil {
			monitoring.Logf("config: persisted config at %s is invalid, using defaults: %v", c.path, err)
		} else {
			cfg = parsed
		}
	}

	snap, err := buildSnapshot(cfg)
	if err != nil {
		// Defaults are constructed in-package and must always build; a
		// failure here means the defaults themselves are degenerate.
		return err
	}
	c.mu.Lock()
	c.current = snap
	c.mu.Unlock()
	return nil
}

// buildSnapshot rebuilds the ROI projector (if any) from cfg's ROI, the
// cache-invalidation step the save path must perform whenever the ROI
// changes.
func buildSnapshot(cfg Config) (*Snapshot, error) {
	snap := &Snapshot{Config: cfg}
	if cfg.ROI != nil {
		p := roi.NewProjector()
		if err := p.Rebuild(cfg.ROI.Corners); err != nil {
			return nil, err
		}
		snap.Projector = p
	}
	return snap, nil
}

// SetDefaultIncludeOutside records the --perspectiveTransform.includeOutside
// CLI default (spec.md §6). It is applied to every accepted ROI that does
// not itself set IncludeOutside, so a saveLidarConfig payload that omits
// the field falls back to the operator's CLI-configured default instead
// of silently behaving as false.
func (c *Controller) SetDefaultIncludeOutside(v bool) {
	c.defaultIncludeOutside = v
}

// Current returns the live snapshot. The returned pointer and everything
// reachable from it must be treated as read-only by callers.
func (c *Controller) Current() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Save validates newConfig and, if valid, atomically swaps the current
// snapshot, schedules a coalesced background disk write, and publishes
// the new config retained on configTopic. On validation failure the
// previous config is kept and the error is returned; callers are
// expected to surface this on the diagnostic bus topic (spec.md's
// degenerate-geometry error class).
func (c *Controller) Save(newConfig Config) error {
	if newConfig.ROI != nil && !newConfig.ROI.IncludeOutside && c.defaultIncludeOutside {
		// Copy rather than mutate in place: newConfig.ROI may alias the
		// live snapshot's ROI (e.g. via Config.Clone), which other
		// readers can observe concurrently.
		r := *newConfig.ROI
		r.IncludeOutside = true
		newConfig.ROI = &r
	}
	if err := Validate(newConfig); err != nil {
		return err
	}
	snap, err := buildSnapshot(newConfig)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.current = snap
	c.mu.Unlock()

	c.scheduleWrite(newConfig)
	return c.publishRetained(newConfig)
}

// EnsureDevice inserts a default DeviceConfig for serial if it is
// currently unknown, then performs the same swap/persist/publish path as
// Save. Returns the (possibly newly created) snapshot.
func (c *Controller) EnsureDevice(serial string) *Snapshot {
	snap := c.Current()
	if _, known := snap.Config.Devices[serial]; known {
		return snap
	}

	next := snap.Config.Clone()
	next.Devices[serial] = devicecfg.NewDeviceConfig(serial, len(next.Devices))

	if err := c.Save(next); err != nil {
		// Defaults are always valid; a failure here indicates a bug
		// rather than bad user input.
		monitoring.Logf("config: ensure_device(%s) produced an invalid config: %v", serial, err)
		return snap
	}
	return c.Current()
}

func (c *Controller) publishRetained(cfg Config) error {
	if c.publisher == nil {
		return nil
	}
	payload, err := cfg.Marshal()
	if err != nil {
		return err
	}
	return c.publisher.Publish(c.configTopic, payload, true)
}

// scheduleWrite hands cfg to the background writer, coalescing with any
// not-yet-written pending config so a burst of saves leaves only the
// latest state durable.
func (c *Controller) scheduleWrite(cfg Config) {
	select {
	case c.writeCh <- cfg:
		return
	default:
	}
	select {
	case <-c.writeCh:
	default:
	}
	select {
	case c.writeCh <- cfg:
	default:
	}
}

// Run drives the background writer until ctx is cancelled. On
// cancellation it flushes one last pending write, if any, before
// returning — the disk-write task must not drop the final update.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case cfg := <-c.writeCh:
			c.writeToDisk(cfg)
		case <-ctx.Done():
			select {
			case cfg := <-c.writeCh:
				c.writeToDisk(cfg)
			default:
			}
			return
		}
	}
}

func (c *Controller) writeToDisk(cfg Config) {
	data, err := cfg.Marshal()
	if err != nil {
		monitoring.Logf("config: failed to marshal config for persistence: %v", err)
		return
	}
	if err := c.fs.WriteFileAtomic(c.path, data, 0o644); err != nil {
		monitoring.Logf("config: failed to persist to %s: %v", c.path, err)
	}
}
