package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/drishti-labs/crowdwatch/internal/crowd"
)

// FlowPlotter records direction-grid cell states over time for offline
// calibration review. It samples a FlowAnalyzer's heatmap on each call to
// Sample(), accumulating time series that can be plotted after a run.
type FlowPlotter struct {
	mu        sync.Mutex
	enabled   bool
	outputDir string
	videoID   string

	// samples holds per-cell time series. Key = "row_col" (e.g., "12_30")
	samples map[string][]flowSample

	startTime time.Time
	frameIdx  int
}

// flowSample represents one snapshot of a cell's state
type flowSample struct {
	FrameIdx  int
	Timestamp time.Time
	Count     int
	Angle     float64
	Intensity float64
}

// NewFlowPlotter creates a plotter for the given video.
func NewFlowPlotter(videoID string) *FlowPlotter {
	return &FlowPlotter{
		videoID: videoID,
		samples: make(map[string][]flowSample),
	}
}

// Start initializes the plotter for a new run. outputDir should be a
// timestamped directory (e.g., "plots/darshan-cam-2/20260829_101500").
func (fp *FlowPlotter) Start(outputDir string) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	fp.outputDir = outputDir
	fp.enabled = true
	fp.startTime = time.Time{}
	fp.frameIdx = 0
	fp.samples = make(map[string][]flowSample)
	return nil
}

// Stop disables sampling. Call GeneratePlots() to produce output files.
func (fp *FlowPlotter) Stop() {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.enabled = false
}

// IsEnabled returns true if the plotter is currently recording.
func (fp *FlowPlotter) IsEnabled() bool {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.enabled
}

// Sample captures the populated cells of one heatmap snapshot.
func (fp *FlowPlotter) Sample(heatmap crowd.Heatmap) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if !fp.enabled {
		return
	}

	now := time.Now()
	if fp.startTime.IsZero() {
		fp.startTime = now
	}
	fp.frameIdx++

	for row := range heatmap.Cells {
		for col, cell := range heatmap.Cells[row] {
			if cell == nil || cell.Count == 0 {
				continue
			}
			key := fmt.Sprintf("%d_%d", row, col)
			fp.samples[key] = append(fp.samples[key], flowSample{
				FrameIdx:  fp.frameIdx,
				Timestamp: now,
				Count:     cell.Count,
				Angle:     cell.Angle,
				Intensity: cell.Intensity,
			})
		}
	}
}

// GeneratePlots creates PNG files for the busiest grid rows, showing cell
// intensity and mean direction over time. Returns the number of plots
// generated and any error.
func (fp *FlowPlotter) GeneratePlots() (int, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if fp.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}

	if len(fp.samples) == 0 {
		return 0, nil
	}

	// Group samples by row
	byRow := make(map[int]map[int][]flowSample) // row -> col -> samples
	for key, samples := range fp.samples {
		var row, col int
		fmt.Sscanf(key, "%d_%d", &row, &col)

		if byRow[row] == nil {
			byRow[row] = make(map[int][]flowSample)
		}
		byRow[row][col] = samples
	}

	plotCount := 0
	for row, cols := range byRow {
		if err := fp.generateRowPlot(row, cols); err != nil {
			return plotCount, fmt.Errorf("row %d: %w", row, err)
		}
		plotCount++
	}

	return plotCount, nil
}

// generateRowPlot creates plots for one grid row: traffic intensity and mean
// movement angle per cell over frames.
func (fp *FlowPlotter) generateRowPlot(row int, cols map[int][]flowSample) error {
	if len(cols) == 0 {
		return nil
	}

	pIntensity := plot.New()
	pIntensity.Title.Text = fmt.Sprintf("Row %d - Traffic Intensity", row)
	pIntensity.X.Label.Text = "Frame"
	pIntensity.Y.Label.Text = "Intensity"

	pAngle := plot.New()
	pAngle.Title.Text = fmt.Sprintf("Row %d - Mean Direction", row)
	pAngle.X.Label.Text = "Frame"
	pAngle.Y.Label.Text = "Angle (deg)"

	// Sort columns for consistent legend
	var sortedCols []int
	for col := range cols {
		sortedCols = append(sortedCols, col)
	}
	sort.Ints(sortedCols)

	colors := generateColors(len(sortedCols))

	for i, col := range sortedCols {
		samples := cols[col]
		if len(samples) == 0 {
			continue
		}

		sort.Slice(samples, func(a, b int) bool {
			return samples[a].FrameIdx < samples[b].FrameIdx
		})

		intensityPts := make(plotter.XYs, 0, len(samples))
		anglePts := make(plotter.XYs, 0, len(samples))
		for _, s := range samples {
			intensityPts = append(intensityPts, plotter.XY{X: float64(s.FrameIdx), Y: s.Intensity})
			anglePts = append(anglePts, plotter.XY{X: float64(s.FrameIdx), Y: s.Angle})
		}

		label := fmt.Sprintf("col %d", col)

		intensityLine, err := plotter.NewLine(intensityPts)
		if err != nil {
			return err
		}
		intensityLine.Color = colors[i]
		intensityLine.Width = vg.Points(1)
		pIntensity.Add(intensityLine)
		pIntensity.Legend.Add(label, intensityLine)

		angleLine, err := plotter.NewLine(anglePts)
		if err != nil {
			return err
		}
		angleLine.Color = colors[i]
		angleLine.Width = vg.Points(1)
		pAngle.Add(angleLine)
		pAngle.Legend.Add(label, angleLine)
	}

	pIntensity.Legend.Top = true
	pIntensity.Legend.Left = false
	pIntensity.Legend.XOffs = -10
	pIntensity.Legend.YOffs = -10

	pAngle.Legend.Top = true
	pAngle.Legend.Left = false
	pAngle.Legend.XOffs = -10
	pAngle.Legend.YOffs = -10

	intensityFile := filepath.Join(fp.outputDir, fmt.Sprintf("row_%02d_intensity.png", row))
	if err := pIntensity.Save(14*vg.Inch, 6*vg.Inch, intensityFile); err != nil {
		return fmt.Errorf("save intensity plot: %w", err)
	}

	angleFile := filepath.Join(fp.outputDir, fmt.Sprintf("row_%02d_angle.png", row))
	if err := pAngle.Save(14*vg.Inch, 6*vg.Inch, angleFile); err != nil {
		return fmt.Errorf("save angle plot: %w", err)
	}

	return nil
}

// generateColors creates a palette of distinct colors for cell lines
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
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
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
