package geometry

import (
	"math"
	"testing"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestPolarToCartesian(t *testing.T) {
	p := PolarToCartesian(0, 1.0)
	if !almostEqual(p.X, 1.0, 1e-9) || !almostEqual(p.Y, 0, 1e-9) {
		t.Fatalf("got %+v", p)
	}

	p = PolarToCartesian(math.Pi/2, 2.0)
	if !almostEqual(p.X, 0, 1e-9) || !almostEqual(p.Y, 2.0, 1e-9) {
		t.Fatalf("got %+v", p)
	}
}

// S3 Rigid transform: pose (1, 2, pi/2), scan (0.0, 1.0) -> world (1, 3).
func TestApplyPoseRigidTransform(t *testing.T) {
	sample := PolarToCartesian(0.0, 1.0)
	world := ApplyPose(sample, Pose{X: 1, Y: 2, Rotation: math.Pi / 2})
	if !almostEqual(world.X, 1, 1e-9) || !almostEqual(world.Y, 3, 1e-9) {
		t.Fatalf("expected (1,3), got %+v", world)
	}
}

func TestNormalizeAngle(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0, 0},
		{math.Pi, math.Pi},
		{-math.Pi / 2, 3 * math.Pi / 2},
		{2*math.Pi + 0.1, 0.1},
		{-2 * math.Pi, 0},
	}
	for _, c := range cases {
		got := NormalizeAngle(c.in)
		if !almostEqual(got, c.want, 1e-9) {
			t.Errorf("NormalizeAngle(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

// S4 / homography round-trip: a square ROI projects its own corners back
// onto the unit square within 1e-9 (testable property 3).
func TestHomographyRoundTrip(t *testing.T) {
	roi := Quad{{0, 0}, {10, 0}, {10, 10}, {0, 10}}
	h, err := SolveQuadHomography(roi, UnitSquare)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, corner := range roi {
		got, err := Project(h, corner)
		if err != nil {
			t.Fatalf("corner %d: %v", i, err)
		}
		want := UnitSquare[i]
		if !almostEqual(got.X, want.X, 1e-9) || !almostEqual(got.Y, want.Y, 1e-9) {
			t.Errorf("corner %d: got %+v, want %+v", i, got, want)
		}
	}
}

// S4: cluster at (5,5) in a 0..10 square ROI projects to (0.5, 0.5).
func TestHomographyMidpoint(t *testing.T) {
	roi := Quad{{0, 0}, {10, 0}, {10, 10}, {0, 10}}
	h, err := SolveQuadHomography(roi, UnitSquare)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := Project(h, Point{X: 5, Y: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(got.X, 0.5, 1e-9) || !almostEqual(got.Y, 0.5, 1e-9) {
		t.Fatalf("expected (0.5, 0.5), got %+v", got)
	}
}

// S5: same ROI, cluster at (-1,-1) projects to (-0.1, -0.1).
func TestHomographyOutside(t *testing.T) {
	roi := Quad{{0, 0}, {10, 0}, {10, 10}, {0, 10}}
	h, err := SolveQuadHomography(roi, UnitSquare)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := Project(h, Point{X: -1, Y: -1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(got.X, -0.1, 1e-9) || !almostEqual(got.Y, -0.1, 1e-9) {
		t.Fatalf("expected (-0.1, -0.1), got %+v", got)
	}
}

func TestHomographyDegenerateQuad(t *testing.T) {
	// Three collinear points make the system singular.
	collinear := Quad{{0, 0}, {1, 0}, {2, 0}, {0, 10}}
	_, err := SolveQuadHomography(collinear, UnitSquare)
	if err == nil {
		t.Fatal("expected error for degenerate quad")
	}
}

func TestProjectPointAtInfinity(t *testing.T) {
	h := Homography{H: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 0}}
	_, err := Project(h, Point{X: 1, Y: 1})
	if err != ErrPointAtInfinity {
		t.Fatalf("expected ErrPointAtInfinity, got %v", err)
	}
}
