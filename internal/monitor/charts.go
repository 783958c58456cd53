// Package monitor serves operator-facing chart pages rendered with
// go-echarts, plus an offline PNG plotter for flow-grid calibration review.
// These endpoints are debugging aids and carry no auth.
package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/drishti-labs/crowdwatch/internal/httputil"
	"github.com/drishti-labs/crowdwatch/internal/session"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// WebServer renders monitoring pages off live sessions.
type WebServer struct {
	sessions *session.Manager
}

// NewWebServer creates the monitor page server.
func NewWebServer(m *session.Manager) *WebServer {
	return &WebServer{sessions: m}
}

// RegisterRoutes attaches the monitor pages to mux.
func (ws *WebServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /monitor/trends/{video}", ws.handleTrendsChart)
	mux.HandleFunc("GET /monitor/heatmap/{video}", ws.handleFlowHeatmapChart)
}

// handleTrendsChart renders count, velocity, and density line charts for one
// video as a single HTML page.
func (ws *WebServer) handleTrendsChart(w http.ResponseWriter, r *http.Request) {
	video := r.PathValue("video")
	sess, ok := ws.sessions.Get(video)
	if !ok {
		httputil.NotFound(w, "no active session for video "+video)
		return
	}

	trends := sess.Metrics.Trends(0)
	if len(trends.Timestamps) == 0 {
		httputil.NotFound(w, "no metric samples yet for video "+video)
		return
	}

	x := make([]string, len(trends.Timestamps))
	counts := make([]opts.LineData, len(trends.Counts))
	velocities := make([]opts.LineData, len(trends.Velocities))
	densities := make([]opts.LineData, len(trends.Densities))
	for i := range trends.Timestamps {
		x[i] = trends.Timestamps[i].Format("15:04:05")
		counts[i] = opts.LineData{Value: trends.Counts[i]}
		velocities[i] = opts.LineData{Value: trends.Velocities[i]}
		densities[i] = opts.LineData{Value: trends.Densities[i]}
	}

	countLine := charts.NewLine()
	countLine.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Crowd Count", Subtitle: video}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	countLine.SetXAxis(x).AddSeries("count", counts)

	velLine := charts.NewLine()
	velLine.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Crowd Velocity (m/s)", Subtitle: video}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	velLine.SetXAxis(x).AddSeries("velocity", velocities)

	densityLine := charts.NewLine()
	densityLine.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Crowd Density (p/m2)", Subtitle: time.Now().Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	densityLine.SetXAxis(x).AddSeries("density", densities)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(countLine, velLine, densityLine)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleFlowHeatmapChart renders the direction grid as a colored scatter:
// one point per populated cell, colored by traffic intensity.
func (ws *WebServer) handleFlowHeatmapChart(w http.ResponseWriter, r *http.Request) {
	video := r.PathValue("video")
	sess, ok := ws.sessions.Get(video)
	if !ok {
		httputil.NotFound(w, "no active session for video "+video)
		return
	}

	heatmap := sess.Flow.HeatmapSnapshot()
	data := make([]opts.ScatterData, 0, 256)
	for row := range heatmap.Cells {
		for col, cell := range heatmap.Cells[row] {
			if cell == nil || cell.Count == 0 {
				continue
			}
			// Grid rows run top to bottom; flip y so the chart matches the
			// camera frame.
			x := (float64(col) + 0.5) / float64(heatmap.Width)
			y := 1 - (float64(row)+0.5)/float64(heatmap.Height)
			data = append(data, opts.ScatterData{Value: []interface{}{x, y, cell.Intensity}})
		}
	}
	if len(data) == 0 {
		httputil.NotFound(w, "no flow data yet for video "+video)
		return
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Flow Heatmap", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Crowd Flow Heatmap", Subtitle: fmt.Sprintf("video=%s cells=%d", video, len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: 1, Name: "X", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1, Name: "Y", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        1,
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}},
		}),
	)
	scatter.AddSeries("flow", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
