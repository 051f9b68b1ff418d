package pipeline

import (
	"testing"

	"github.com/banshee-data/lidar2d-fusion/internal/config"
	"github.com/banshee-data/lidar2d-fusion/internal/geometry"
	"github.com/banshee-data/lidar2d-fusion/internal/tracking"
)

func rect(minX, minY, maxX, maxY float64) geometry.Quad {
	return geometry.Quad{
		{X: minX, Y: minY}, {X: maxX, Y: minY}, {X: maxX, Y: maxY}, {X: minX, Y: maxY},
	}
}

func TestZoneEvaluatorEmitsEnterOnce(t *testing.T) {
	z := NewZoneEvaluator()
	zones := []config.PresenceZone{{ID: "door", Rect: rect(0, 0, 1, 1)}}
	tracks := []tracking.Track{{ID: 1, Position: geometry.Point{X: 0.5, Y: 0.5}}}

	events := z.Evaluate(zones, tracks)
	if len(events) != 1 || !events[0].Entered {
		t.Fatalf("expected one enter event, got %+v", events)
	}

	events = z.Evaluate(zones, tracks)
	if len(events) != 0 {
		t.Fatalf("expected no repeat event while track stays inside, got %+v", events)
	}
}

func TestZoneEvaluatorEmitsLeave(t *testing.T) {
	z := NewZoneEvaluator()
	zones := []config.PresenceZone{{ID: "door", Rect: rect(0, 0, 1, 1)}}

	z.Evaluate(zones, []tracking.Track{{ID: 1, Position: geometry.Point{X: 0.5, Y: 0.5}}})
	events := z.Evaluate(zones, []tracking.Track{{ID: 1, Position: geometry.Point{X: 5, Y: 5}}})

	if len(events) != 1 || events[0].Entered {
		t.Fatalf("expected one leave event, got %+v", events)
	}
}

func TestPointInRectBoundingBox(t *testing.T) {
	r := rect(-1, -1, 1, 1)
	if !pointInRect(geometry.Point{X: 0, Y: 0}, r) {
		t.Fatal("expected origin inside the rect")
	}
	if pointInRect(geometry.Point{X: 2, Y: 0}, r) {
		t.Fatal("expected point outside the rect")
	}
}
