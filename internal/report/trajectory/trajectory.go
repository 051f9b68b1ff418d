// Package trajectory renders recorded track trajectories as an HTML
// scatter/line page, in the same go-echarts idiom the original
// visualiser used for its debug charts.
package trajectory

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/lidar2d-fusion/internal/store/sqlite"
)

// History is the slice of the history store this report reads from.
type History interface {
	Trajectories(from, to time.Time) ([]sqlite.TrajectoryPoint, error)
	ClusterCentroids(from, to time.Time) ([]sqlite.ClusterCentroid, error)
}

// Render builds an HTML page plotting every track's trajectory over
// [from, to] as a line series, overlaid with a scatter of cluster
// centroids recorded in the same window.
func Render(h History, from, to time.Time) (string, error) {
	points, err := h.Trajectories(from, to)
	if err != nil {
		return "", fmt.Errorf("report/trajectory: load trajectories: %w", err)
	}
	centroids, err := h.ClusterCentroids(from, to)
	if err != nil {
		return "", fmt.Errorf("report/trajectory: load centroids: %w", err)
	}

	byTrack := make(map[uint64][]sqlite.TrajectoryPoint)
	for _, p := range points {
		byTrack[p.TrackID] = append(byTrack[p.TrackID], p)
	}

	trackIDs := make([]uint64, 0, len(byTrack))
	for id := range byTrack {
		trackIDs = append(trackIDs, id)
	}
	sort.Slice(trackIDs, func(i, j int) bool { return trackIDs[i] < trackIDs[j] })

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Track Trajectories", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Track Trajectories", Subtitle: fmt.Sprintf("%s to %s, %d tracks", from.Format(time.RFC3339), to.Format(time.RFC3339), len(trackIDs))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Y", NameLocation: "middle", NameGap: 30}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	for _, id := range trackIDs {
		track := byTrack[id]
		sort.Slice(track, func(i, j int) bool { return track[i].RecordedAt.Before(track[j].RecordedAt) })

		xAxis := make([]string, len(track))
		series := make([]opts.LineData, len(track))
		for i, p := range track {
			xAxis[i] = fmt.Sprintf("%.2f", p.X)
			series[i] = opts.LineData{Value: p.Y}
		}
		line.SetXAxis(xAxis).AddSeries(fmt.Sprintf("track %d", id), series)
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithXAxisOpts(opts.XAxis{Name: "X", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Y", NameLocation: "middle", NameGap: 30}),
		charts.WithTitleOpts(opts.Title{Title: "Cluster Centroids"}),
	)
	centroidData := make([]opts.ScatterData, len(centroids))
	for i, c := range centroids {
		centroidData[i] = opts.ScatterData{Value: []interface{}{c.X, c.Y}}
	}
	scatter.AddSeries("centroids", centroidData, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))

	page := components.NewPage()
	page.AddCharts(line, scatter)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return "", fmt.Errorf("report/trajectory: render page: %w", err)
	}
	return buf.String(), nil
}
