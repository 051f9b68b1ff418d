package density

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/lidar2d-fusion/internal/store/sqlite"
)

type fakeHistory struct {
	centroids []sqlite.ClusterCentroid
	err       error
}

func (f fakeHistory) ClusterCentroids(from, to time.Time) ([]sqlite.ClusterCentroid, error) {
	return f.centroids, f.err
}

func TestRenderWritesPNG(t *testing.T) {
	h := fakeHistory{centroids: []sqlite.ClusterCentroid{
		{X: 0, Y: 0}, {X: 0.1, Y: 0.1}, {X: 5, Y: 5}, {X: -2, Y: 3},
	}}
	out := filepath.Join(t.TempDir(), "density.png")

	if err := Render(h, time.Now().Add(-time.Hour), time.Now(), out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info, err := os.Stat(out)
	if err != nil {
		t.Fatalf("expected output file: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("expected non-empty PNG")
	}
}

func TestRenderErrorsOnEmptyHistory(t *testing.T) {
	h := fakeHistory{}
	out := filepath.Join(t.TempDir(), "density.png")
	if err := Render(h, time.Now().Add(-time.Hour), time.Now(), out); err == nil {
		t.Fatal("expected error for no recorded centroids")
	}
}
