package pipeline

import (
	"github.com/banshee-data/lidar2d-fusion/internal/config"
	"github.com/banshee-data/lidar2d-fusion/internal/geometry"
	"github.com/banshee-data/lidar2d-fusion/internal/tracking"
)

// ZoneEvent reports a track entering or leaving a presence zone. This is
// the provisional output shape for the presence-zone hook; it is not yet
// published on the bus (no topic is named for it), only exposed here for
// a future publisher to consume.
type ZoneEvent struct {
	ZoneID  string
	TrackID uint64
	Entered bool
}

// ZoneEvaluator tracks, per zone, which track ids were last observed
// inside it, so Evaluate can emit edge-triggered enter/leave events
// rather than a level-triggered membership snapshot every frame.
type ZoneEvaluator struct {
	inside map[string]map[uint64]bool
}

// NewZoneEvaluator creates an evaluator with no prior state.
func NewZoneEvaluator() *ZoneEvaluator {
	return &ZoneEvaluator{inside: make(map[string]map[uint64]bool)}
}

// Evaluate tests every track's position against every zone's bounding
// rectangle and returns the set of entered/left transitions since the
// previous call.
func (z *ZoneEvaluator) Evaluate(zones []config.PresenceZone, tracks []tracking.Track) []ZoneEvent {
	var events []ZoneEvent

	seen := make(map[string]map[uint64]bool, len(zones))
	for _, zone := range zones {
		current := make(map[uint64]bool)
		previous := z.inside[zone.ID]

		for _, tr := range tracks {
			if !pointInRect(tr.Position, zone.Rect) {
				continue
			}
			current[tr.ID] = true
			if !previous[tr.ID] {
				events = append(events, ZoneEvent{ZoneID: zone.ID, TrackID: tr.ID, Entered: true})
			}
		}
		for id := range previous {
			if !current[id] {
				events = append(events, ZoneEvent{ZoneID: zone.ID, TrackID: id, Entered: false})
			}
		}
		seen[zone.ID] = current
	}
	z.inside = seen

	return events
}

// pointInRect tests p against the axis-aligned bounding box of rect's
// four corners — the "point-in-rect" evaluator named in the presence
// zone design decision.
func pointInRect(p geometry.Point, rect geometry.Quad) bool {
	minX, maxX := rect[0].X, rect[0].X
	minY, maxY := rect[0].Y, rect[0].Y
	for _, c := range rect[1:] {
		if c.X < minX {
			minX = c.X
		}
		if c.X > maxX {
			maxX = c.X
		}
		if c.Y < minY {
			minY = c.Y
		}
		if c.Y > maxY {
			maxY = c.Y
		}
	}
	return p.X >= minX && p.X <= maxX && p.Y >= minY && p.Y <= maxY
}
