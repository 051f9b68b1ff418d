// Package tracking assigns stable identities to projected detections
// across frames, smoothing position with exponential moving averages and
// estimating velocity, simplified from a full Kalman-filter tracker to
// the EMA scheme this system's predecessor used for its 2D output.
package tracking

import (
	"github.com/banshee-data/lidar2d-fusion/internal/geometry"
)

// Track is a persistent identity carrying smoothed position and velocity.
type Track struct {
	ID            uint64
	Position      geometry.Point
	Velocity      geometry.Point
	LastSeenFrame uint64
	CreatedFrame  uint64
	MatchCount    int
}

// Params configures matching, smoothing, and lifecycle.
type Params struct {
	MaxMatchDistance float64 `json:"max_match_distance"` // hard gate, unit-square units
	Alpha            float64 `json:"alpha"`              // position smoothing factor [0,1]
	Beta             float64 `json:"beta"`               // velocity smoothing factor [0,1]
	TrackTimeout     uint64  `json:"track_timeout"`      // frames of absence before retirement
	MinMatchCount    int     `json:"min_match_count"`    // observations required before a track is emitted smoothed
}

// Tracker owns the live Track set and the monotonic id counter. Tracks are
// never shared outside the tracker; callers get copies via Update.
type Tracker struct {
	params Params
	tracks map[uint64]*Track
	nextID uint64
	frame  uint64
}

// New creates an empty tracker.
func New(params Params) *Tracker {
	return &Tracker{
		params: params,
		tracks: make(map[uint64]*Track),
	}
}

// SetParams updates the matching/smoothing/lifecycle parameters used by
// subsequent calls to Update, without disturbing any live track. This is
// how the pipeline re-parameterises the tracker when the configuration
// controller publishes a new snapshot.
func (t *Tracker) SetParams(params Params) {
	t.params = params
}

// Update advances the tracker by one frame given this frame's projected
// detections and the elapsed time dt (seconds) since the previous frame.
// Returns the smoothed tracks eligible for emission (MatchCount >=
// params.MinMatchCount) after matching, updating, birthing, and retiring.
func (t *Tracker) Update(detections []geometry.Point, dt float64) []Track {
	t.frame++

	matchedTrack := make(map[uint64]bool, len(t.tracks))
	matchedDetection := make([]bool, len(detections))

	for _, pair := range t.greedyMatches(detections, dt) {
		track := t.tracks[pair.trackID]
		detection := detections[pair.detectionIdx]
		t.applyUpdate(track, detection, dt)
		matchedTrack[pair.trackID] = true
		matchedDetection[pair.detectionIdx] = true
	}

	for i, detection := range detections {
		if matchedDetection[i] {
			continue
		}
		t.birth(detection)
	}

	for id, track := range t.tracks {
		if !matchedTrack[id] && t.frame-track.LastSeenFrame > t.params.TrackTimeout {
			delete(t.tracks, id)
		}
	}

	return t.emit()
}

type match struct {
	trackID      uint64
	detectionIdx int
	distance     float64
}

// greedyMatches computes every track/detection pair within the gating
// distance, then assigns greedily by ascending distance: each track and
// each detection participates in at most one assignment.
func (t *Tracker) greedyMatches(detections []geometry.Point, dt float64) []match {
	var candidates []match
	for id, track := range t.tracks {
		predicted := geometry.Point{
			X: track.Position.X + track.Velocity.X*dt,
			Y: track.Position.Y + track.Velocity.Y*dt,
		}
		for i, detection := range detections {
			d := geometry.Distance(predicted, detection)
			if d <= t.params.MaxMatchDistance {
				candidates = append(candidates, match{trackID: id, detectionIdx: i, distance: d})
			}
		}
	}

	sortMatchesByDistance(candidates)

	usedTrack := make(map[uint64]bool, len(candidates))
	usedDetection := make(map[int]bool, len(candidates))
	var assignments []match
	for _, c := range candidates {
		if usedTrack[c.trackID] || usedDetection[c.detectionIdx] {
			continue
		}
		usedTrack[c.trackID] = true
		usedDetection[c.detectionIdx] = true
		assignments = append(assignments, c)
	}
	return assignments
}

func sortMatchesByDistance(m []match) {
	// Simple insertion sort: candidate lists are small (bounded by
	// device/track counts at the target scale), and stability doesn't
	// matter here since ties break on map iteration order regardless.
	for i := 1; i < len(m); i++ {
		for j := i; j > 0 && m[j].distance < m[j-1].distance; j-- {
			m[j], m[j-1] = m[j-1], m[j]
		}
	}
}

// applyUpdate applies the exponential-smoothing update rule for a matched
// track: position <- (1-alpha)*position + alpha*detection; velocity <-
// (1-beta)*velocity + beta*(detection-prior_position)/dt.
func (t *Tracker) applyUpdate(track *Track, detection geometry.Point, dt float64) {
	prior := track.Position
	a, b := t.params.Alpha, t.params.Beta

	track.Position = geometry.Point{
		X: (1-a)*prior.X + a*detection.X,
		Y: (1-a)*prior.Y + a*detection.Y,
	}

	if dt > 0 {
		instVX := (detection.X - prior.X) / dt
		instVY := (detection.Y - prior.Y) / dt
		track.Velocity = geometry.Point{
			X: (1-b)*track.Velocity.X + b*instVX,
			Y: (1-b)*track.Velocity.Y + b*instVY,
		}
	}

	track.MatchCount++
	track.LastSeenFrame = t.frame
}

func (t *Tracker) birth(detection geometry.Point) {
	t.nextID++
	t.tracks[t.nextID] = &Track{
		ID:            t.nextID,
		Position:      detection,
		Velocity:      geometry.Point{},
		CreatedFrame:  t.frame,
		LastSeenFrame: t.frame,
		MatchCount:    1,
	}
}

// emit returns a stable-ordered snapshot of tracks that have accumulated
// enough observations to be published, withholding fresh births to
// reduce flicker from noise.
func (t *Tracker) emit() []Track {
	out := make([]Track, 0, len(t.tracks))
	for _, track := range t.tracks {
		if track.MatchCount < t.params.MinMatchCount {
			continue
		}
		out = append(out, *track)
	}
	sortTracksByID(out)
	return out
}

func sortTracksByID(tracks []Track) {
	for i := 1; i < len(tracks); i++ {
		for j := i; j > 0 && tracks[j].ID < tracks[j-1].ID; j-- {
			tracks[j], tracks[j-1] = tracks[j-1], tracks[j]
		}
	}
}
