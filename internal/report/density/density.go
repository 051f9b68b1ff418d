// Package density renders a static PNG scatter of historical cluster
// centroids, colour-graded by local occupancy, for offline tuning of a
// device's mask or a region of interest. It uses gonum/plot in the same
// idiom as the teacher's ring plots, swapping time-series lines for a
// spatial scatter.
package density

import (
	"fmt"
	"image/color"
	"math"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/lidar2d-fusion/internal/store/sqlite"
)

// History is the slice of the history store this report reads from.
type History interface {
	ClusterCentroids(from, to time.Time) ([]sqlite.ClusterCentroid, error)
}

// cellSize is the world-space edge length of one occupancy bucket.
const cellSize = 0.25

// Render builds a PNG scatter of every cluster centroid recorded within
// [from, to], binning centroids into cellSize-metre cells and colouring
// each point by how many centroids fell in its cell (darker red for
// denser cells), then saves it to outFile.
func Render(h History, from, to time.Time, outFile string) error {
	centroids, err := h.ClusterCentroids(from, to)
	if err != nil {
		return fmt.Errorf("report/density: load centroids: %w", err)
	}
	if len(centroids) == 0 {
		return fmt.Errorf("report/density: no cluster centroids recorded in range")
	}

	counts := make(map[[2]int]int, len(centroids))
	for _, c := range centroids {
		key := [2]int{int(math.Floor(c.X / cellSize)), int(math.Floor(c.Y / cellSize))}
		counts[key]++
	}

	maxCount := 0
	for _, n := range counts {
		if n > maxCount {
			maxCount = n
		}
	}

	p := plot.New()
	p.Title.Text = "Cluster Centroid Density"
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	// Bucket points by their density bin's relative count into a small
	// number of colour tiers, since gonum/plot scatter glyphs take one
	// colour per series rather than per point.
	const tiers = 5
	series := make([]plotter.XYs, tiers)
	for _, c := range centroids {
		key := [2]int{int(math.Floor(c.X / cellSize)), int(math.Floor(c.Y / cellSize))}
		n := counts[key]
		tier := 0
		if maxCount > 0 {
			tier = int(float64(n-1) / float64(maxCount) * float64(tiers-1))
		}
		if tier >= tiers {
			tier = tiers - 1
		}
		series[tier] = append(series[tier], plotter.XY{X: c.X, Y: c.Y})
	}

	for tier := 0; tier < tiers; tier++ {
		if len(series[tier]) == 0 {
			continue
		}
		scatter, err := plotter.NewScatter(series[tier])
		if err != nil {
			return fmt.Errorf("report/density: build scatter tier %d: %w", tier, err)
		}
		scatter.Color = tierColor(tier, tiers)
		scatter.Radius = vg.Points(2)
		p.Add(scatter)
		p.Legend.Add(fmt.Sprintf("tier %d", tier), scatter)
	}
	p.Legend.Top = true

	if err := p.Save(10*vg.Inch, 10*vg.Inch, outFile); err != nil {
		return fmt.Errorf("report/density: save %s: %w", outFile, err)
	}
	return nil
}

// tierColor grades from cool blue (sparse) to hot red (dense) across
// tiers, matching the HSL-rotation colour scheme the ring plots use for
// per-series lines.
func tierColor(tier, tiers int) color.Color {
	hue := 0.66 * (1 - float64(tier)/float64(tiers-1)) // 0.66 (blue) -> 0 (red)
	r, g, b := hslToRGB(hue, 0.8, 0.5)
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64
	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}
	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	default:
		return p
	}
}
