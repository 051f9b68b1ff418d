// Package cluster runs DBSCAN over the union of every device's
// world-space point buffer, producing size-gated object clusters.
package cluster

import (
	"math"

	"github.com/banshee-data/lidar2d-fusion/internal/geometry"
)

// estimatedPointsPerCell sizes the initial spatial index grid.
const estimatedPointsPerCell = 4

// Cluster is a DBSCAN-derived group of spatially dense world-space points.
type Cluster struct {
	Centroid geometry.Point
	Size     int
}

// Params configures the DBSCAN run and the post-filter size gates.
type Params struct {
	Eps            float64 `json:"eps"`              // neighbourhood radius, world-space metres
	MinPoints      int     `json:"min_points"`       // minimum points to form a cluster (DBSCAN minPts)
	MinClusterSize int     `json:"min_cluster_size"` // drop clusters smaller than this after DBSCAN
	MaxClusterSize int     `json:"max_cluster_size"` // drop clusters larger than this after DBSCAN
}

// spatialIndex is a regular grid over 2D points, keyed by a Szudzik-paired
// cell id, for O(1) neighbourhood queries.
type spatialIndex struct {
	cellSize float64
	grid     map[int64][]int
}

func newSpatialIndex(cellSize float64) *spatialIndex {
	return &spatialIndex{cellSize: cellSize, grid: make(map[int64][]int)}
}

func (si *spatialIndex) build(points []geometry.Point) {
	si.grid = make(map[int64][]int, len(points)/estimatedPointsPerCell+1)
	for i, p := range points {
		id := si.cellID(p.X, p.Y)
		si.grid[id] = append(si.grid[id], i)
	}
}

// cellID maps a world (x, y) to a unique non-negative cell id via zigzag
// encoding of the signed cell coordinates followed by Szudzik pairing.
func (si *spatialIndex) cellID(x, y float64) int64 {
	cellX := int64(math.Floor(x / si.cellSize))
	cellY := int64(math.Floor(y / si.cellSize))
	return szudzikPair(zigzag(cellX), zigzag(cellY))
}

func zigzag(v int64) int64 {
	if v >= 0 {
		return 2 * v
	}
	return -2*v - 1
}

func szudzikPair(a, b int64) int64 {
	if a >= b {
		return a*a + a + b
	}
	return a + b*b
}

// regionQuery returns the indices of all points within eps of points[idx],
// searching the 3x3 neighbourhood of grid cells around it.
func (si *spatialIndex) regionQuery(points []geometry.Point, idx int, eps float64) []int {
	p := points[idx]
	eps2 := eps * eps
	cellX := int64(math.Floor(p.X / si.cellSize))
	cellY := int64(math.Floor(p.Y / si.cellSize))

	var neighbors []int
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			id := szudzikPair(zigzag(cellX+dx), zigzag(cellY+dy))
			for _, candidateIdx := range si.grid[id] {
				c := points[candidateIdx]
				ddx := c.X - p.X
				ddy := c.Y - p.Y
				if ddx*ddx+ddy*ddy <= eps2 {
					neighbors = append(neighbors, candidateIdx)
				}
			}
		}
	}
	return neighbors
}

// DBSCAN runs density-based clustering over points and applies the
// min/max cluster-size post-filters from params. Noise points (never
// assigned to a cluster) are discarded. Output ordering is stable with
// respect to the input point order within this call, but is not
// guaranteed across calls with reordered input.
func DBSCAN(points []geometry.Point, params Params) []Cluster {
	if len(points) == 0 {
		return nil
	}

	n := len(points)
	labels := make([]int, n) // 0 = unvisited, -1 = noise, >0 = cluster id
	clusterID := 0

	index := newSpatialIndex(params.Eps)
	index.build(points)

	for i := 0; i < n; i++ {
		if labels[i] != 0 {
			continue
		}
		neighbors := index.regionQuery(points, i, params.Eps)
		if len(neighbors) < params.MinPoints {
			labels[i] = -1
			continue
		}
		clusterID++
		expandCluster(points, index, labels, neighbors, clusterID, params)
	}

	return buildClusters(points, labels, clusterID, params)
}

func expandCluster(points []geometry.Point, index *spatialIndex, labels []int, neighbors []int, clusterID int, params Params) {
	for j := 0; j < len(neighbors); j++ {
		idx := neighbors[j]
		if labels[idx] == -1 {
			labels[idx] = clusterID // noise becomes a border point
		}
		if labels[idx] != 0 {
			continue
		}
		labels[idx] = clusterID
		newNeighbors := index.regionQuery(points, idx, params.Eps)
		if len(newNeighbors) >= params.MinPoints {
			neighbors = append(neighbors, newNeighbors...)
		}
	}
}

func buildClusters(points []geometry.Point, labels []int, maxClusterID int, params Params) []Cluster {
	clusters := make([]Cluster, 0, maxClusterID)
	for cid := 1; cid <= maxClusterID; cid++ {
		var sumX, sumY float64
		size := 0
		for i, label := range labels {
			if label != cid {
				continue
			}
			sumX += points[i].X
			sumY += points[i].Y
			size++
		}
		if size == 0 {
			continue
		}
		if params.MinClusterSize > 0 && size < params.MinClusterSize {
			continue
		}
		if params.MaxClusterSize > 0 && size > params.MaxClusterSize {
			continue
		}
		clusters = append(clusters, Cluster{
			Centroid: geometry.Point{X: sumX / float64(size), Y: sumY / float64(size)},
			Size:     size,
		})
	}
	return clusters
}
