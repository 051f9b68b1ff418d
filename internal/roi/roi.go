// Package roi projects cluster centroids through a cached region-of-interest
// homography into normalised unit-square coordinates.
package roi

import (
	"github.com/banshee-data/lidar2d-fusion/internal/geometry"
)

// Origin selects where (0,0) sits in the emitted coordinate space, applied
// as a presentation-only remap after the inside/outside test against the
// unit square. TopLeft is a no-op and matches the coordinate system
// spec.md's projection stage is defined against.
type Origin int

const (
	TopLeft Origin = iota
	TopCentre
	BottomCentre
	Centre
)

// Region is the four-corner, ordered (TL, TR, BR, BL) region of interest in
// world space, plus the outside-tolerance margin and presentation options.
type Region struct {
	Corners        geometry.Quad `json:"corners"`
	Margin         float64       `json:"margin"`
	IncludeOutside bool          `json:"include_outside"`
	Origin         Origin        `json:"origin"`
}

// Projector holds a homography cached from the last Region it was built
// from; call Rebuild whenever config.roi changes.
type Projector struct {
	region geometry.Quad
	margin float64
	h      geometry.Homography
	ready  bool
}

// NewProjector builds a Projector with no region set; Project always
// returns no points until Rebuild succeeds.
func NewProjector() *Projector {
	return &Projector{}
}

// Rebuild recomputes the cached homography from region's corners to the
// unit square. Returns an error (and leaves the previous homography
// untouched) if the corners are degenerate.
func (p *Projector) Rebuild(region geometry.Quad) error {
	h, err := geometry.SolveQuadHomography(region, geometry.UnitSquare)
	if err != nil {
		return err
	}
	p.region = region
	p.h = h
	p.ready = true
	return nil
}

// Ready reports whether a non-degenerate region has been built.
func (p *Projector) Ready() bool {
	return p.ready
}

// Projected is one cluster centroid projected into unit-square space.
type Projected struct {
	Point  geometry.Point // (u, v), remapped per Region.Origin
	Inside bool
}

// Project maps each centroid through the cached homography and classifies
// it inside/outside per region.Margin. Outside points are dropped unless
// region.IncludeOutside is set. Returns nil if the projector has no
// region built (mirrors "roi absent" in the data model).
func (p *Projector) Project(centroids []geometry.Point, region Region) ([]Projected, error) {
	if !p.ready {
		return nil, nil
	}

	out := make([]Projected, 0, len(centroids))
	for _, c := range centroids {
		uv, err := geometry.Project(p.h, c)
		if err != nil {
			continue
		}
		inside := uv.X >= -region.Margin && uv.X <= 1+region.Margin &&
			uv.Y >= -region.Margin && uv.Y <= 1+region.Margin
		if !inside && !region.IncludeOutside {
			continue
		}
		out = append(out, Projected{
			Point:  remapOrigin(uv, region.Origin),
			Inside: inside,
		})
	}
	return out, nil
}

// remapOrigin shifts (u, v), defined over the unit square [0,1]x[0,1], so
// that the chosen corner or centre becomes (0, 0). Ported from the
// point-from-origin remapping this system's predecessor applied to
// real-unit ROI coordinates; here it operates on the normalised [0,1]
// projection instead, since the inside/outside test above is always done
// in that space.
func remapOrigin(uv geometry.Point, origin Origin) geometry.Point {
	switch origin {
	case TopCentre:
		return geometry.Point{X: uv.X - 0.5, Y: uv.Y}
	case BottomCentre:
		return geometry.Point{X: uv.X - 0.5, Y: 1 - uv.Y}
	case Centre:
		return geometry.Point{X: uv.X - 0.5, Y: uv.Y - 0.5}
	default: // TopLeft
		return uv
	}
}
