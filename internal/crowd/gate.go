package crowd

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/drishti-labs/crowdwatch/internal/timeutil"
)

// CrossingDirection classifies which way a track crossed a gate line.
type CrossingDirection string

const (
	DirectionEntry CrossingDirection = "entry"
	DirectionExit  CrossingDirection = "exit"
)

// Gate engine limits.
const (
	// MaxTrajectoryPoints is the number of recent positions kept per track
	// for crossing detection.
	MaxTrajectoryPoints = 30
	// MaxCrossingLog caps the append-only crossing log per engine.
	MaxCrossingLog = 1000
)

// Gate is a virtual counting line with a designated entry side. Movement
// whose dot product with EntryDirection is positive counts as an entry.
type Gate struct {
	GateID         string `json:"gate_id"`
	P1             Point  `json:"p1"`
	P2             Point  `json:"p2"`
	EntryDirection Point  `json:"entry_direction"`
}

// GateCrossing is one directional crossing event. Immutable once recorded.
type GateCrossing struct {
	TrackID   string            `json:"track_id"`
	GateID    string            `json:"gate_id"`
	Direction CrossingDirection `json:"direction"`
	Position  Point             `json:"position"`
	Timestamp time.Time         `json:"timestamp"`
}

// GateStats holds the directional counters for one gate.
type GateStats struct {
	GateID         string `json:"gate_id"`
	EntryCount     int    `json:"entry_count"`
	ExitCount      int    `json:"exit_count"`
	NetCount       int    `json:"net_count"`
	TotalCrossings int    `json:"total_crossings"`
}

// GateFlowRate is a windowed per-minute crossing rate for one gate.
type GateFlowRate struct {
	GateID    string        `json:"gate_id"`
	EntryRate float64       `json:"entry_rate"`
	ExitRate  float64       `json:"exit_rate"`
	NetRate   float64       `json:"net_rate"`
	Window    time.Duration `json:"window"`
}

// GateEngine detects directional crossings of virtual gate lines. A track is
// counted at most once per gate for the life of the engine; re-crossing
// requires an explicit reset.
type GateEngine struct {
	mu    sync.Mutex
	clock timeutil.Clock

	gates        map[string]Gate
	trajectories map[string][]trackPoint
	crossings    []GateCrossing
	entries      map[string]int
	exits        map[string]int
	crossed      map[string]map[string]bool
}

// DefaultGates returns the stock gate layout for temple courtyard feeds: a
// main entrance line at 60% frame height and an inner gate at 40%, both with
// downward movement counting as entry.
func DefaultGates() []Gate {
	return []Gate{
		{
			GateID:         "main_entrance",
			P1:             Point{X: 0.1, Y: 0.6},
			P2:             Point{X: 0.9, Y: 0.6},
			EntryDirection: Point{X: 0, Y: 1},
		},
		{
			GateID:         "inner_gate",
			P1:             Point{X: 0.2, Y: 0.4},
			P2:             Point{X: 0.8, Y: 0.4},
			EntryDirection: Point{X: 0, Y: 1},
		},
	}
}

// NewGateEngine creates a gate engine with the given gates. Invalid gates
// are rejected.
func NewGateEngine(clock timeutil.Clock, gates ...Gate) (*GateEngine, error) {
	e := &GateEngine{
		clock:        clock,
		gates:        make(map[string]Gate),
		trajectories: make(map[string][]trackPoint),
		entries:      make(map[string]int),
		exits:        make(map[string]int),
		crossed:      make(map[string]map[string]bool),
	}
	for _, g := range gates {
		if err := e.AddGate(g); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// AddGate registers a gate. The entry direction is renormalized to a unit
// vector; a zero direction or empty ID is rejected.
func (e *GateEngine) AddGate(g Gate) error {
	if g.GateID == "" {
		return fmt.Errorf("gate ID must not be empty")
	}
	mag := math.Hypot(g.EntryDirection.X, g.EntryDirection.Y)
	if mag == 0 {
		return fmt.Errorf("gate %q: entry direction must be non-zero", g.GateID)
	}
	g.EntryDirection.X /= mag
	g.EntryDirection.Y /= mag

	e.mu.Lock()
	defer e.mu.Unlock()
	e.gates[g.GateID] = g
	e.entries[g.GateID] = 0
	e.exits[g.GateID] = 0
	e.crossed[g.GateID] = make(map[string]bool)
	return nil
}

// RemoveGate deletes a gate and its counters.
func (e *GateEngine) RemoveGate(gateID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.gates[gateID]; !ok {
		return fmt.Errorf("unknown gate %q", gateID)
	}
	delete(e.gates, gateID)
	delete(e.entries, gateID)
	delete(e.exits, gateID)
	delete(e.crossed, gateID)
	return nil
}

// MoveGateLine shifts a horizontal counting line to a new y position.
// Percentage values are accepted and divided by 100. Counters are kept, but
// the per-track crossing dedup is cleared since the geometry changed.
func (e *GateEngine) MoveGateLine(gateID string, y float64) error {
	if y > 1 {
		y /= 100
	}
	if y < 0 || y > 1 {
		return fmt.Errorf("gate %q: line position %v out of range", gateID, y)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.gates[gateID]
	if !ok {
		return fmt.Errorf("unknown gate %q", gateID)
	}
	g.P1.Y = y
	g.P2.Y = y
	e.gates[gateID] = g
	e.crossed[gateID] = make(map[string]bool)
	return nil
}

// Update advances the engine by one tick and returns the crossings detected
// on this tick.
func (e *GateEngine) Update(persons []Person) []GateCrossing {
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	var detected []GateCrossing
	for _, raw := range persons {
		p := raw.Normalized()
		if p.ID == "" {
			continue
		}
		prev := e.trajectories[p.ID]
		if len(prev) > 0 {
			prevPos := prev[len(prev)-1].pos
			for gateID, gate := range e.gates {
				if e.crossed[gateID][p.ID] {
					continue
				}
				if !segmentsIntersect(prevPos, p.Position(), gate.P1, gate.P2) {
					continue
				}
				crossing := GateCrossing{
					TrackID:   p.ID,
					GateID:    gateID,
					Direction: crossingDirection(prevPos, p.Position(), gate),
					Position:  p.Position(),
					Timestamp: now,
				}
				e.crossings = append(e.crossings, crossing)
				detected = append(detected, crossing)
				e.crossed[gateID][p.ID] = true
				if crossing.Direction == DirectionEntry {
					e.entries[gateID]++
				} else {
					e.exits[gateID]++
				}
			}
		}
		e.trajectories[p.ID] = appendBounded(e.trajectories[p.ID], trackPoint{pos: p.Position(), at: now}, MaxTrajectoryPoints)
	}

	if len(e.crossings) > MaxCrossingLog {
		e.crossings = e.crossings[len(e.crossings)-MaxCrossingLog:]
	}
	return detected
}

// crossingDirection classifies a crossing by the sign of the dot product
// between the displacement and the gate's entry direction. The test is pure:
// a fixed displacement and entry direction always classify identically.
func crossingDirection(prev, curr Point, gate Gate) CrossingDirection {
	dot := (curr.X-prev.X)*gate.EntryDirection.X + (curr.Y-prev.Y)*gate.EntryDirection.Y
	if dot > 0 {
		return DirectionEntry
	}
	return DirectionExit
}

// Stats returns the counters for one gate.
func (e *GateEngine) Stats(gateID string) (GateStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.gates[gateID]; !ok {
		return GateStats{}, fmt.Errorf("unknown gate %q", gateID)
	}
	return e.statsLocked(gateID), nil
}

// AllStats returns counters for every configured gate.
func (e *GateEngine) AllStats() map[string]GateStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := make(map[string]GateStats, len(e.gates))
	for gateID := range e.gates {
		stats[gateID] = e.statsLocked(gateID)
	}
	return stats
}

func (e *GateEngine) statsLocked(gateID string) GateStats {
	return GateStats{
		GateID:         gateID,
		EntryCount:     e.entries[gateID],
		ExitCount:      e.exits[gateID],
		NetCount:       e.entries[gateID] - e.exits[gateID],
		TotalCrossings: e.entries[gateID] + e.exits[gateID],
	}
}

// FlowRate computes entry/exit/net rates over the trailing window, scaled to
// events per minute.
func (e *GateEngine) FlowRate(gateID string, window time.Duration) (GateFlowRate, error) {
	if window <= 0 {
		return GateFlowRate{}, fmt.Errorf("window must be positive, got %v", window)
	}
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.gates[gateID]; !ok {
		return GateFlowRate{}, fmt.Errorf("unknown gate %q", gateID)
	}

	cutoff := now.Add(-window)
	var entries, exits int
	for _, c := range e.crossings {
		if c.GateID != gateID || !c.Timestamp.After(cutoff) {
			continue
		}
		if c.Direction == DirectionEntry {
			entries++
		} else {
			exits++
		}
	}

	perMinute := float64(time.Minute) / float64(window)
	return GateFlowRate{
		GateID:    gateID,
		EntryRate: float64(entries) * perMinute,
		ExitRate:  float64(exits) * perMinute,
		NetRate:   float64(entries-exits) * perMinute,
		Window:    window,
	}, nil
}

// RecentCrossings returns up to limit crossings, most recent first.
func (e *GateEngine) RecentCrossings(limit int) []GateCrossing {
	e.mu.Lock()
	defer e.mu.Unlock()
	recent := make([]GateCrossing, len(e.crossings))
	copy(recent, e.crossings)
	sort.Slice(recent, func(i, j int) bool {
		return recent[i].Timestamp.After(recent[j].Timestamp)
	})
	if limit > 0 && len(recent) > limit {
		recent = recent[:limit]
	}
	return recent
}

// Gates returns a copy of the configured gates.
func (e *GateEngine) Gates() []Gate {
	e.mu.Lock()
	defer e.mu.Unlock()
	gates := make([]Gate, 0, len(e.gates))
	for _, g := range e.gates {
		gates = append(gates, g)
	}
	sort.Slice(gates, func(i, j int) bool { return gates[i].GateID < gates[j].GateID })
	return gates
}

// Reset clears one gate's counters, crossed set, and log entries. The gate
// itself stays configured.
func (e *GateEngine) Reset(gateID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.gates[gateID]; !ok {
		return fmt.Errorf("unknown gate %q", gateID)
	}
	e.entries[gateID] = 0
	e.exits[gateID] = 0
	e.crossed[gateID] = make(map[string]bool)
	kept := e.crossings[:0]
	for _, c := range e.crossings {
		if c.GateID != gateID {
			kept = append(kept, c)
		}
	}
	e.crossings = kept
	return nil
}

// ResetAll clears all counters, crossed sets, the crossing log, and the
// trajectory buffers.
func (e *GateEngine) ResetAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for gateID := range e.gates {
		e.entries[gateID] = 0
		e.exits[gateID] = 0
		e.crossed[gateID] = make(map[string]bool)
	}
	e.crossings = nil
	e.trajectories = make(map[string][]trackPoint)
}
