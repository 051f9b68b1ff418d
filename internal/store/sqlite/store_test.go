package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/lidar2d-fusion/internal/cluster"
	"github.com/banshee-data/lidar2d-fusion/internal/geometry"
	"github.com/banshee-data/lidar2d-fusion/internal/tracking"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.db.Exec("SELECT 1 FROM frames LIMIT 0"); err != nil {
		t.Fatalf("expected frames table to exist after Open: %v", err)
	}
	if _, err := s.db.Exec("SELECT 1 FROM clusters LIMIT 0"); err != nil {
		t.Fatalf("expected clusters table to exist after Open: %v", err)
	}
	if _, err := s.db.Exec("SELECT 1 FROM tracks LIMIT 0"); err != nil {
		t.Fatalf("expected tracks table to exist after Open: %v", err)
	}
}

func TestRecordFrameIsPersistedByRun(t *testing.T) {
	s := openTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	now := time.Unix(1700000000, 0).UTC()
	s.RecordFrame(now,
		[]cluster.Cluster{{Centroid: geometry.Point{X: 1, Y: 2}, Size: 3}},
		[]tracking.Track{{ID: 1, Position: geometry.Point{X: 1, Y: 2}, Velocity: geometry.Point{X: 0.1, Y: 0}}},
	)

	deadline := time.After(time.Second)
	for {
		points, err := s.Trajectories(now.Add(-time.Minute), now.Add(time.Minute))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(points) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected the recorded frame's track to become queryable")
		case <-time.After(5 * time.Millisecond):
		}
	}

	centroids, err := s.ClusterCentroids(now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(centroids) != 1 || centroids[0].X != 1 || centroids[0].Y != 2 {
		t.Fatalf("expected one persisted centroid (1,2), got %+v", centroids)
	}

	cancel()
	<-done
}

func TestRecordFrameDropsWhenQueueFull(t *testing.T) {
	s := openTestStore(t)
	// No Run goroutine draining the queue: every send past its capacity
	// must be dropped rather than block the caller.
	for i := 0; i < cap(s.queue)+5; i++ {
		s.RecordFrame(time.Now(), nil, nil)
	}
	if s.Dropped() == 0 {
		t.Fatal("expected some frames to be dropped once the queue filled up")
	}
}

func TestOpenFailsOnUnwritableDirectory(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("running as root, directory permissions are not enforced")
	}
	_, err := Open(filepath.Join("/nonexistent-directory-for-test", "history.db"))
	if err == nil {
		t.Fatal("expected an error opening a database under a nonexistent directory")
	}
}
