package cluster

import (
	"math"
	"testing"

	"github.com/banshee-data/lidar2d-fusion/internal/geometry"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9
}

// S1 Single sample: cluster output [{x:1.0, y:0.0, size:1}] only if
// min_points <= 1.
func TestDBSCANSinglePointRequiresMinPointsOne(t *testing.T) {
	points := []geometry.Point{{X: 1.0, Y: 0.0}}

	clusters := DBSCAN(points, Params{Eps: 0.6, MinPoints: 1})
	if len(clusters) != 1 {
		t.Fatalf("expected 1 cluster with MinPoints=1, got %d", len(clusters))
	}
	if !almostEqual(clusters[0].Centroid.X, 1.0) || !almostEqual(clusters[0].Centroid.Y, 0.0) {
		t.Fatalf("expected centroid (1,0), got %+v", clusters[0].Centroid)
	}
	if clusters[0].Size != 1 {
		t.Fatalf("expected size 1, got %d", clusters[0].Size)
	}

	clusters = DBSCAN(points, Params{Eps: 0.6, MinPoints: 2})
	if len(clusters) != 0 {
		t.Fatalf("expected no clusters with MinPoints=2 and a single point, got %+v", clusters)
	}
}

func TestDBSCANDiscardsNoise(t *testing.T) {
	points := []geometry.Point{
		{X: 0, Y: 0},
		{X: 0.1, Y: 0},
		{X: 0.2, Y: 0},
		{X: 50, Y: 50}, // far outlier: noise
	}
	clusters := DBSCAN(points, Params{Eps: 0.5, MinPoints: 2})
	if len(clusters) != 1 {
		t.Fatalf("expected 1 cluster (noise discarded), got %d: %+v", len(clusters), clusters)
	}
	if clusters[0].Size != 3 {
		t.Fatalf("expected cluster of size 3, got %d", clusters[0].Size)
	}
}

func TestDBSCANSizeGates(t *testing.T) {
	// A tight group of 5 points.
	var points []geometry.Point
	for i := 0; i < 5; i++ {
		points = append(points, geometry.Point{X: float64(i) * 0.05, Y: 0})
	}

	dropSmall := DBSCAN(points, Params{Eps: 0.5, MinPoints: 2, MinClusterSize: 10})
	if len(dropSmall) != 0 {
		t.Fatalf("expected cluster dropped by MinClusterSize gate, got %+v", dropSmall)
	}

	dropLarge := DBSCAN(points, Params{Eps: 0.5, MinPoints: 2, MaxClusterSize: 3})
	if len(dropLarge) != 0 {
		t.Fatalf("expected cluster dropped by MaxClusterSize gate, got %+v", dropLarge)
	}

	kept := DBSCAN(points, Params{Eps: 0.5, MinPoints: 2, MinClusterSize: 2, MaxClusterSize: 10})
	if len(kept) != 1 || kept[0].Size != 5 {
		t.Fatalf("expected one cluster of size 5 within gates, got %+v", kept)
	}
}

func TestDBSCANEmptyInput(t *testing.T) {
	if clusters := DBSCAN(nil, Params{Eps: 1, MinPoints: 1}); clusters != nil {
		t.Fatalf("expected nil for empty input, got %+v", clusters)
	}
}

func TestDBSCANTwoSeparateClusters(t *testing.T) {
	var points []geometry.Point
	for i := 0; i < 3; i++ {
		points = append(points, geometry.Point{X: float64(i) * 0.1, Y: 0})
	}
	for i := 0; i < 3; i++ {
		points = append(points, geometry.Point{X: 100 + float64(i)*0.1, Y: 0})
	}

	clusters := DBSCAN(points, Params{Eps: 0.5, MinPoints: 2})
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d: %+v", len(clusters), clusters)
	}
	for _, c := range clusters {
		if c.Size != 3 {
			t.Errorf("expected each cluster to have size 3, got %d", c.Size)
		}
	}
}

func TestDBSCANHandlesNegativeCoordinates(t *testing.T) {
	points := []geometry.Point{
		{X: -5.0, Y: -5.0},
		{X: -5.05, Y: -5.0},
		{X: -4.95, Y: -5.0},
	}
	clusters := DBSCAN(points, Params{Eps: 0.5, MinPoints: 2})
	if len(clusters) != 1 || clusters[0].Size != 3 {
		t.Fatalf("expected 1 cluster of size 3 with negative coordinates, got %+v", clusters)
	}
}
