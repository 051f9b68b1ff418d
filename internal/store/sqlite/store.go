// Package sqlite is an optional recorder of per-frame cluster and track
// output, kept off the pipeline's hot path by a bounded queue and a single
// writer goroutine — the same coalescing-writer shape the config
// controller uses for its own background persistence, adapted here to
// append rather than overwrite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/lidar2d-fusion/internal/cluster"
	"github.com/banshee-data/lidar2d-fusion/internal/monitoring"
	"github.com/banshee-data/lidar2d-fusion/internal/taskctx"
	"github.com/banshee-data/lidar2d-fusion/internal/tracking"
)

type frameRecord struct {
	at       time.Time
	clusters []cluster.Cluster
	tracks   []tracking.Track
}

// Store records frame history to a SQLite database, migrated on Open.
// RecordFrame never blocks the caller: a full queue drops the frame and
// counts it, rather than applying backpressure to the pipeline.
type Store struct {
	db    *sql.DB
	queue chan frameRecord

	dropped atomic.Uint64
}

// Open opens (creating if needed) the SQLite database at path and brings
// its schema up to date before returning.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store/sqlite: open %s: %w", path, err)
	}
	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{
		db:    db,
		queue: make(chan frameRecord, 256),
	}, nil
}

// RecordFrame implements pipeline.HistorySink. Clusters and tracks are
// copied by value into the queue; callers remain free to reuse their
// backing slices.
func (s *Store) RecordFrame(at time.Time, clusters []cluster.Cluster, tracks []tracking.Track) {
	rec := frameRecord{at: at, clusters: append([]cluster.Cluster(nil), clusters...), tracks: append([]tracking.Track(nil), tracks...)}
	select {
	case s.queue <- rec:
	default:
		s.dropped.Add(1)
		monitoring.Logf("store/sqlite: queue full, dropping frame recorded at %s (%d dropped so far)", at.Format(time.RFC3339Nano), s.dropped.Load())
	}
}

// Dropped reports how many frames were discarded due to a full queue.
func (s *Store) Dropped() uint64 {
	return s.dropped.Load()
}

// Run drains the queue on a single goroutine until ctx is cancelled, then
// flushes whatever remains queued before returning.
func (s *Store) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-s.queue:
			s.write(rec)
		case <-ctx.Done():
			s.drain()
			return taskctx.FromContext(ctx)
		}
	}
}

func (s *Store) drain() {
	for {
		select {
		case rec := <-s.queue:
			s.write(rec)
		default:
			return
		}
	}
}

func (s *Store) write(rec frameRecord) {
	tx, err := s.db.Begin()
	if err != nil {
		monitoring.Logf("store/sqlite: begin transaction: %v", err)
		return
	}

	res, err := tx.Exec("INSERT INTO frames (recorded_at) VALUES (?)", rec.at)
	if err != nil {
		monitoring.Logf("store/sqlite: insert frame: %v", err)
		tx.Rollback()
		return
	}
	frameID, err := res.LastInsertId()
	if err != nil {
		monitoring.Logf("store/sqlite: read frame id: %v", err)
		tx.Rollback()
		return
	}

	for _, c := range rec.clusters {
		if _, err := tx.Exec(
			"INSERT INTO clusters (frame_id, centroid_x, centroid_y, size) VALUES (?, ?, ?, ?)",
			frameID, c.Centroid.X, c.Centroid.Y, c.Size,
		); err != nil {
			monitoring.Logf("store/sqlite: insert cluster: %v", err)
			tx.Rollback()
			return
		}
	}

	for _, tr := range rec.tracks {
		if _, err := tx.Exec(
			"INSERT INTO tracks (frame_id, track_id, x, y, vx, vy) VALUES (?, ?, ?, ?, ?, ?)",
			frameID, tr.ID, tr.Position.X, tr.Position.Y, tr.Velocity.X, tr.Velocity.Y,
		); err != nil {
			monitoring.Logf("store/sqlite: insert track: %v", err)
			tx.Rollback()
			return
		}
	}

	if err := tx.Commit(); err != nil {
		monitoring.Logf("store/sqlite: commit frame: %v", err)
	}
}

// Close releases the underlying database handle. Call after Run returns.
func (s *Store) Close() error {
	return s.db.Close()
}

// TrajectoryPoint is one historical track position sample, read back for
// the diagnostics reports.
type TrajectoryPoint struct {
	RecordedAt time.Time
	TrackID    uint64
	X, Y       float64
}

// Trajectories reads every recorded track position within [from, to],
// ordered by time, for the HTML trajectory report.
func (s *Store) Trajectories(from, to time.Time) ([]TrajectoryPoint, error) {
	rows, err := s.db.Query(`
		SELECT f.recorded_at, t.track_id, t.x, t.y
		FROM tracks t
		JOIN frames f ON f.id = t.frame_id
		WHERE f.recorded_at BETWEEN ? AND ?
		ORDER BY f.recorded_at ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("store/sqlite: query trajectories: %w", err)
	}
	defer rows.Close()

	var out []TrajectoryPoint
	for rows.Next() {
		var p TrajectoryPoint
		if err := rows.Scan(&p.RecordedAt, &p.TrackID, &p.X, &p.Y); err != nil {
			return nil, fmt.Errorf("store/sqlite: scan trajectory row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ClusterCentroid is one historical cluster centroid sample, read back for
// the density report.
type ClusterCentroid struct {
	X, Y float64
}

// ClusterCentroids reads every recorded cluster centroid within [from, to]
// for the density report.
func (s *Store) ClusterCentroids(from, to time.Time) ([]ClusterCentroid, error) {
	rows, err := s.db.Query(`
		SELECT c.centroid_x, c.centroid_y
		FROM clusters c
		JOIN frames f ON f.id = c.frame_id
		WHERE f.recorded_at BETWEEN ? AND ?`, from, to)
	if err != nil {
		return nil, fmt.Errorf("store/sqlite: query centroids: %w", err)
	}
	defer rows.Close()

	var out []ClusterCentroid
	for rows.Next() {
		var c ClusterCentroid
		if err := rows.Scan(&c.X, &c.Y); err != nil {
			return nil, fmt.Errorf("store/sqlite: scan centroid row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
