// Package geometry holds the 2D primitives shared by every pipeline stage:
// polar-to-cartesian conversion, rigid pose transforms, and quad-to-quad
// homography.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Point is a 2D point in whatever frame the caller is working in
// (sensor, world, or unit-square ROI coordinates).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pose is a rigid transform (rotate then translate) from a device's sensor
// frame into the shared world frame.
type Pose struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation float64 `json:"rotation"` // radians, counter-clockwise
}

// PolarToCartesian converts an angle (radians, counter-clockwise from +X)
// and a distance into a Cartesian point in the same frame as the angle
// was measured.
func PolarToCartesian(angle, distance float64) Point {
	return Point{
		X: distance * math.Cos(angle),
		Y: distance * math.Sin(angle),
	}
}

// ApplyPose rotates p about the origin by pose.Rotation, then translates
// by (pose.X, pose.Y).
func ApplyPose(p Point, pose Pose) Point {
	sin, cos := math.Sincos(pose.Rotation)
	return Point{
		X: p.X*cos - p.Y*sin + pose.X,
		Y: p.X*sin + p.Y*cos + pose.Y,
	}
}

// NormalizeAngle reduces an angle (radians) to the half-open range [0, 2π).
func NormalizeAngle(angle float64) float64 {
	const twoPi = 2 * math.Pi
	a := math.Mod(angle, twoPi)
	if a < 0 {
		a += twoPi
	}
	return a
}

// Quad is four ordered corner points, conventionally (TL, TR, BR, BL).
type Quad [4]Point

// Homography is a 3x3 projective transform mapping points from one quad
// onto another via homogeneous coordinates:
//
//	H · [x, y, 1]ᵀ = w · [u, v, 1]ᵀ
type Homography struct {
	H [9]float64 // row-major, H[8] is always 1 after normalisation
}

// ErrDegenerateQuad is returned by SolveQuadHomography when the source
// quad is degenerate (collinear or repeated corners) and no homography
// can be fit.
var ErrDegenerateQuad = fmt.Errorf("geometry: degenerate quad, cannot solve homography")

// ErrPointAtInfinity is returned by Project when the homogeneous
// component of the transformed point is (numerically) zero.
var ErrPointAtInfinity = fmt.Errorf("geometry: projected point at infinity")

// SolveQuadHomography finds the 3x3 matrix H such that H maps each
// src[i] onto dst[i] under homogeneous coordinates. It handles
// non-convex quads identically to convex ones: it is a pure linear fit
// over the eight free unknowns (h22 is fixed to 1), with no assumption
// about convexity or winding order.
func SolveQuadHomography(src, dst Quad) (Homography, error) {
	// Build the 8x8 linear system A·h = b for h00..h21 (h22 == 1), using
	// gonum's LU solver rather than a hand-rolled elimination.
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)

	for i := 0; i < 4; i++ {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y
		r0, r1 := 2*i, 2*i+1

		a.SetRow(r0, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y})
		b.SetVec(r0, u)

		a.SetRow(r1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y})
		b.SetVec(r1, v)
	}

	var lu mat.LU
	lu.Factorize(a)
	if lu.Cond() > 1e14 || math.IsInf(lu.Cond(), 1) {
		return Homography{}, ErrDegenerateQuad
	}

	var h mat.VecDense
	if err := lu.SolveVecTo(&h, false, b); err != nil {
		return Homography{}, fmt.Errorf("%w: %v", ErrDegenerateQuad, err)
	}

	var out Homography
	for i := 0; i < 8; i++ {
		out.H[i] = h.AtVec(i)
	}
	out.H[8] = 1
	return out, nil
}

// Project applies H to p and returns the normalised (u, v) coordinate.
// Returns ErrPointAtInfinity if the homogeneous component is
// (numerically) zero.
func Project(h Homography, p Point) (Point, error) {
	w := h.H[6]*p.X + h.H[7]*p.Y + h.H[8]
	if math.Abs(w) < 1e-12 {
		return Point{}, ErrPointAtInfinity
	}
	u := (h.H[0]*p.X + h.H[1]*p.Y + h.H[2]) / w
	v := (h.H[3]*p.X + h.H[4]*p.Y + h.H[5]) / w
	return Point{X: u, Y: v}, nil
}

// UnitSquare is the canonical destination quad (TL, TR, BR, BL) used to
// project an ROI into normalised [0,1]x[0,1] coordinates.
var UnitSquare = Quad{
	{X: 0, Y: 0},
	{X: 1, Y: 0},
	{X: 1, Y: 1},
	{X: 0, Y: 1},
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return math.Sqrt(dx*dx + dy*dy)
}
