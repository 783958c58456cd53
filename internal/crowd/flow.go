package crowd

import (
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/drishti-labs/crowdwatch/internal/timeutil"
)

// CounterFlowSeverity tiers a counter-flow event by deviation and speed.
type CounterFlowSeverity string

const (
	CounterFlowMild     CounterFlowSeverity = "mild"
	CounterFlowModerate CounterFlowSeverity = "moderate"
	CounterFlowSevere   CounterFlowSeverity = "severe"
)

// Flow analyzer tuning. The displacement and magnitude thresholds are
// calibration constants for normalized frame coordinates at the standard
// processing cadence; they are carried as configuration, not re-derived.
const (
	// MinFlowDisplacement is the minimum per-tick movement that produces a
	// flow vector.
	MinFlowDisplacement = 0.005
	// MaxFlowGap discards displacement vectors computed across stale gaps.
	MaxFlowGap = 2 * time.Second
	// FlowHistorySize bounds the global rolling buffer of flow vectors.
	FlowHistorySize = 100
	// DominantFlowWindow is how many recent vectors feed the dominant flow.
	DominantFlowWindow = 50
	// MaxCounterFlowEvents caps the counter-flow event log.
	MaxCounterFlowEvents = 500
	// HeatmapGridSize is the direction grid resolution per axis.
	HeatmapGridSize = 50

	flowTrajectoryPoints = 20
	severeDeviation      = 160.0
	severeMagnitude      = 0.02
	moderateDeviation    = 140.0
	moderateMagnitude    = 0.015
)

// DefaultCounterFlowAngle is the default deviation threshold in degrees.
const DefaultCounterFlowAngle = 120.0

// FlowVector is a movement direction with magnitude. X and Y form a unit
// vector; Angle is in degrees with 0 = right and 90 = down.
type FlowVector struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Magnitude float64 `json:"magnitude"`
	Angle     float64 `json:"angle"`
}

// Direction returns the compass-style name for the vector's angle.
func (v FlowVector) Direction() string {
	names := []string{"right", "down-right", "down", "down-left", "left", "up-left", "up", "up-right"}
	idx := int((v.Angle+22.5)/45) % 8
	return names[idx]
}

// CounterFlowEvent records a track moving against the dominant flow.
type CounterFlowEvent struct {
	TrackID       string              `json:"track_id"`
	Timestamp     time.Time           `json:"timestamp"`
	Position      Point               `json:"position"`
	MovementAngle float64             `json:"movement_angle"`
	DominantAngle float64             `json:"dominant_flow_angle"`
	Deviation     float64             `json:"deviation_angle"`
	Severity      CounterFlowSeverity `json:"severity"`
}

// CounterFlowSummary aggregates the counter-flow event log.
type CounterFlowSummary struct {
	TotalEvents  int                         `json:"total_events"`
	BySeverity   map[CounterFlowSeverity]int `json:"severity_breakdown"`
	RecentEvents []CounterFlowEvent          `json:"recent_events"`
	DominantFlow *FlowVector                 `json:"dominant_flow,omitempty"`
}

// HeatmapCell is one direction-grid cell: observation count and the mean
// movement angle recovered from the accumulated sin/cos pair.
type HeatmapCell struct {
	Count     int     `json:"count"`
	Angle     float64 `json:"angle"`
	Intensity float64 `json:"intensity"`
}

// Heatmap is a snapshot of the spatial direction grid. Cells without
// observations are nil.
type Heatmap struct {
	Width  int              `json:"width"`
	Height int              `json:"height"`
	Cells  [][]*HeatmapCell `json:"grid"`
}

// FlowUpdate is the per-tick result of the flow analyzer.
type FlowUpdate struct {
	DominantFlow *FlowVector        `json:"dominant_flow,omitempty"`
	VectorCount  int                `json:"current_vectors_count"`
	NewEvents    []CounterFlowEvent `json:"counter_flow_events"`
	TotalEvents  int                `json:"total_counter_flow_count"`
}

// gridCell accumulates a running count and circular (sin/cos) running
// average of movement angle, avoiding wraparound bias near 0°/360°.
type gridCell struct {
	count  int
	sinAvg float64
	cosAvg float64
	magAvg float64
}

// FlowAnalyzer maintains the dominant crowd flow and flags movement against
// it. The flow-vector buffer is global across tracks; per-track state is
// limited to a short trajectory used for displacement computation.
type FlowAnalyzer struct {
	mu    sync.Mutex
	clock timeutil.Clock

	angleThreshold float64
	trajectories   map[string][]trackPoint
	flowHistory    []FlowVector
	events         []CounterFlowEvent
	dominant       *FlowVector
	grid           [][]gridCell
}

// NewFlowAnalyzer creates a flow analyzer. A non-positive angleThreshold
// selects the default of 120 degrees.
func NewFlowAnalyzer(clock timeutil.Clock, angleThreshold float64) *FlowAnalyzer {
	if angleThreshold <= 0 {
		angleThreshold = DefaultCounterFlowAngle
	}
	return &FlowAnalyzer{
		clock:          clock,
		angleThreshold: angleThreshold,
		trajectories:   make(map[string][]trackPoint),
	}
}

// AngleThreshold returns the counter-flow angle in degrees.
func (a *FlowAnalyzer) AngleThreshold() float64 {
	return a.angleThreshold
}

// Update advances the analyzer by one tick.
func (a *FlowAnalyzer) Update(persons []Person) FlowUpdate {
	now := a.clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	var currentVectors []FlowVector
	var newEvents []CounterFlowEvent

	for _, raw := range persons {
		p := raw.Normalized()
		if p.ID == "" {
			continue
		}
		prev := a.trajectories[p.ID]
		if len(prev) > 0 {
			last := prev[len(prev)-1]
			dt := now.Sub(last.at)
			if dt > 0 && dt < MaxFlowGap {
				dx := p.X - last.pos.X
				dy := p.Y - last.pos.Y
				mag := math.Hypot(dx, dy)
				if mag > MinFlowDisplacement {
					vec := FlowVector{
						X:         dx / mag,
						Y:         dy / mag,
						Magnitude: mag,
						Angle:     angleDegrees(dx, dy),
					}
					currentVectors = append(currentVectors, vec)
					a.updateGrid(p.X, p.Y, vec.Angle)

					if a.dominant != nil {
						deviation := angleDifference(vec.Angle, a.dominant.Angle)
						if deviation > a.angleThreshold {
							ev := CounterFlowEvent{
								TrackID:       p.ID,
								Timestamp:     now,
								Position:      p.Position(),
								MovementAngle: vec.Angle,
								DominantAngle: a.dominant.Angle,
								Deviation:     deviation,
								Severity:      classifyCounterFlow(deviation, mag),
							}
							a.events = append(a.events, ev)
							newEvents = append(newEvents, ev)
						}
					}
				}
			}
		}
		a.trajectories[p.ID] = appendBounded(a.trajectories[p.ID], trackPoint{pos: p.Position(), at: now}, flowTrajectoryPoints)
	}

	a.flowHistory = append(a.flowHistory, currentVectors...)
	if len(a.flowHistory) > FlowHistorySize {
		a.flowHistory = a.flowHistory[len(a.flowHistory)-FlowHistorySize:]
	}
	if len(a.events) > MaxCounterFlowEvents {
		a.events = a.events[len(a.events)-MaxCounterFlowEvents:]
	}

	recent := a.flowHistory
	if len(recent) > DominantFlowWindow {
		recent = recent[len(recent)-DominantFlowWindow:]
	}
	a.dominant = dominantFlow(recent)

	return FlowUpdate{
		DominantFlow: copyFlow(a.dominant),
		VectorCount:  len(currentVectors),
		NewEvents:    newEvents,
		TotalEvents:  len(a.events),
	}
}

// dominantFlow computes the magnitude-weighted average direction of the
// given vectors, renormalized to a unit direction. Faster movement carries
// more weight.
func dominantFlow(vectors []FlowVector) *FlowVector {
	if len(vectors) == 0 {
		return nil
	}
	xs := make([]float64, len(vectors))
	ys := make([]float64, len(vectors))
	weights := make([]float64, len(vectors))
	var totalWeight float64
	for i, v := range vectors {
		xs[i] = v.X
		ys[i] = v.Y
		weights[i] = v.Magnitude
		totalWeight += v.Magnitude
	}
	if totalWeight == 0 {
		return nil
	}
	avgX := stat.Mean(xs, weights)
	avgY := stat.Mean(ys, weights)
	mag := math.Hypot(avgX, avgY)
	if mag == 0 {
		return nil
	}
	return &FlowVector{
		X:         avgX / mag,
		Y:         avgY / mag,
		Magnitude: mag,
		Angle:     angleDegrees(avgX, avgY),
	}
}

func classifyCounterFlow(deviation, magnitude float64) CounterFlowSeverity {
	switch {
	case deviation > severeDeviation && magnitude > severeMagnitude:
		return CounterFlowSevere
	case deviation > moderateDeviation || magnitude > moderateMagnitude:
		return CounterFlowModerate
	default:
		return CounterFlowMild
	}
}

func (a *FlowAnalyzer) updateGrid(x, y, angle float64) {
	if a.grid == nil {
		a.grid = make([][]gridCell, HeatmapGridSize)
		for i := range a.grid {
			a.grid[i] = make([]gridCell, HeatmapGridSize)
		}
	}
	gx := min(int(x*HeatmapGridSize), HeatmapGridSize-1)
	gy := min(int(y*HeatmapGridSize), HeatmapGridSize-1)
	if gx < 0 || gy < 0 {
		return
	}
	cell := &a.grid[gy][gx]
	n := float64(cell.count)
	rad := angle * math.Pi / 180
	cell.sinAvg = (cell.sinAvg*n + math.Sin(rad)) / (n + 1)
	cell.cosAvg = (cell.cosAvg*n + math.Cos(rad)) / (n + 1)
	cell.magAvg = (cell.magAvg*n + 1) / (n + 1)
	cell.count++
}

// DominantFlow returns the current dominant flow, or nil when no recent
// movement exists.
func (a *FlowAnalyzer) DominantFlow() *FlowVector {
	a.mu.Lock()
	defer a.mu.Unlock()
	return copyFlow(a.dominant)
}

// HeatmapSnapshot returns the current direction grid. The cell mean angle is
// recomputed from the accumulated sin/cos pair.
func (a *FlowAnalyzer) HeatmapSnapshot() Heatmap {
	a.mu.Lock()
	defer a.mu.Unlock()

	hm := Heatmap{Width: HeatmapGridSize, Height: HeatmapGridSize}
	if a.grid == nil {
		return hm
	}
	hm.Cells = make([][]*HeatmapCell, HeatmapGridSize)
	for y := range a.grid {
		row := make([]*HeatmapCell, HeatmapGridSize)
		for x := range a.grid[y] {
			cell := a.grid[y][x]
			if cell.count == 0 {
				continue
			}
			angle := math.Mod(math.Atan2(cell.sinAvg, cell.cosAvg)*180/math.Pi+360, 360)
			row[x] = &HeatmapCell{
				Count:     cell.count,
				Angle:     angle,
				Intensity: math.Min(float64(cell.count)/10, 1.0),
			}
		}
		hm.Cells[y] = row
	}
	return hm
}

// Summary returns the counter-flow event totals, severity breakdown, the 10
// most recent events, and the current dominant flow.
func (a *FlowAnalyzer) Summary() CounterFlowSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	summary := CounterFlowSummary{
		TotalEvents: len(a.events),
		BySeverity: map[CounterFlowSeverity]int{
			CounterFlowMild:     0,
			CounterFlowModerate: 0,
			CounterFlowSevere:   0,
		},
		DominantFlow: copyFlow(a.dominant),
	}
	for _, ev := range a.events {
		summary.BySeverity[ev.Severity]++
	}

	recent := make([]CounterFlowEvent, len(a.events))
	copy(recent, a.events)
	sort.Slice(recent, func(i, j int) bool {
		return recent[i].Timestamp.After(recent[j].Timestamp)
	})
	if len(recent) > 10 {
		recent = recent[:10]
	}
	summary.RecentEvents = recent
	return summary
}

// Reset clears all flow state including the direction grid.
func (a *FlowAnalyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trajectories = make(map[string][]trackPoint)
	a.flowHistory = nil
	a.events = nil
	a.dominant = nil
	a.grid = nil
}

func copyFlow(v *FlowVector) *FlowVector {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
