package crowd

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/drishti-labs/crowdwatch/internal/timeutil"
)

// AnomalyType enumerates the behavioral anomaly checks.
type AnomalyType string

const (
	AnomalyFall       AnomalyType = "fall"
	AnomalySuddenStop AnomalyType = "sudden_stop"
	AnomalyStationary AnomalyType = "stationary_person"
	AnomalySurge      AnomalyType = "crowd_surge"
)

// AnomalySeverity grades an anomaly event.
type AnomalySeverity string

const (
	AnomalyLow      AnomalySeverity = "low"
	AnomalyMedium   AnomalySeverity = "medium"
	AnomalyHigh     AnomalySeverity = "high"
	AnomalyCritical AnomalySeverity = "critical"
)

// Anomaly detector tuning. Displacement thresholds are in normalized frame
// units per second and were calibrated against the reference camera setup;
// they are carried as constants, not re-derived.
const (
	// MaxAnomalyEvents caps the global event log.
	MaxAnomalyEvents = 500
	// anomalyHistoryPoints bounds the per-track observation history.
	anomalyHistoryPoints = 100
	// velocityHistorySize bounds the crowd velocity baseline buffer.
	velocityHistorySize = 200
	// velocityBaselineWindow is how many recent samples form the baseline.
	velocityBaselineWindow = 50

	fallAspectFloor        = 1.0
	fallMinHistory         = 5
	fallRecentWindow       = 10
	suddenStopThreshold    = 0.005
	suddenStopWindow       = 5
	stationaryThreshold    = 0.002
	stationaryTicks        = 30
	surgeMultiplier        = 2.5
	stationaryRepeatWindow = 30 * time.Second
	surgeRepeatWindow      = 60 * time.Second
	// staleTrackAge is when a vanished track's history is dropped.
	staleTrackAge = 10 * time.Second
)

// AnomalyEvent is one detected behavioral anomaly. Events are append-only
// and kept in a capped global log.
type AnomalyEvent struct {
	EventID    string          `json:"event_id"`
	Type       AnomalyType     `json:"event_type"`
	Timestamp  time.Time       `json:"timestamp"`
	Position   Point           `json:"position"`
	TrackID    string          `json:"track_id,omitempty"`
	Confidence float64         `json:"confidence"`
	Severity   AnomalySeverity `json:"severity"`
	Details    map[string]any  `json:"details,omitempty"`
}

// AnomalyUpdate is the per-tick result of the detector.
type AnomalyUpdate struct {
	NewEvents     []AnomalyEvent `json:"new_anomalies"`
	TotalEvents   int            `json:"total_anomalies"`
	CrowdVelocity float64        `json:"average_crowd_velocity"`
	ActiveTracks  int            `json:"active_tracks"`
}

// AnomalySummary groups the event log by type and severity.
type AnomalySummary struct {
	TotalEvents    int                     `json:"total_events"`
	ByType         map[AnomalyType]int     `json:"by_type"`
	BySeverity     map[AnomalySeverity]int `json:"by_severity"`
	RecentCritical []AnomalyEvent          `json:"recent_critical"`
	CrowdVelocity  float64                 `json:"average_crowd_velocity"`
}

// observation is one per-track history entry.
type observation struct {
	pos    Point
	width  float64
	height float64
	at     time.Time
}

// AnomalyDetector runs per-person and crowd-level heuristic checks against
// bounded per-track histories and a rolling crowd-velocity baseline.
type AnomalyDetector struct {
	mu    sync.Mutex
	clock timeutil.Clock

	history         map[string][]observation
	events          []AnomalyEvent
	eventCounter    int
	crowdVelocity   float64
	velocityHistory []float64
}

// NewAnomalyDetector creates an anomaly detector.
func NewAnomalyDetector(clock timeutil.Clock) *AnomalyDetector {
	return &AnomalyDetector{
		clock:   clock,
		history: make(map[string][]observation),
	}
}

func (d *AnomalyDetector) nextEventID() string {
	d.eventCounter++
	return fmt.Sprintf("ANM%05d", d.eventCounter)
}

// Update advances the detector by one tick.
func (d *AnomalyDetector) Update(persons []Person) AnomalyUpdate {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	var newEvents []AnomalyEvent
	var tickVelocities []float64

	for _, raw := range persons {
		p := raw.Normalized()
		if p.ID == "" {
			continue
		}
		obs := observation{pos: p.Position(), width: p.Width, height: p.Height, at: now}
		history := d.history[p.ID]

		if len(history) > 0 {
			prev := history[len(history)-1]
			if dt := now.Sub(prev.at).Seconds(); dt > 0 {
				tickVelocities = append(tickVelocities, velocityBetween(prev.pos, obs.pos, dt))
			}
		}

		if ev := d.checkFall(p.ID, obs, history, now); ev != nil {
			newEvents = append(newEvents, *ev)
		}
		if ev := d.checkSuddenStop(p.ID, obs, history, now); ev != nil {
			newEvents = append(newEvents, *ev)
		}
		if ev := d.checkStationary(p.ID, history, now); ev != nil && !d.firedRecently(AnomalyStationary, p.ID, now, stationaryRepeatWindow) {
			newEvents = append(newEvents, *ev)
		}

		d.history[p.ID] = append(d.history[p.ID], obs)
		if len(d.history[p.ID]) > anomalyHistoryPoints {
			d.history[p.ID] = d.history[p.ID][len(d.history[p.ID])-anomalyHistoryPoints:]
		}
	}

	if len(tickVelocities) > 0 {
		d.crowdVelocity = stat.Mean(tickVelocities, nil)
		d.velocityHistory = append(d.velocityHistory, d.crowdVelocity)
		if len(d.velocityHistory) > velocityHistorySize {
			d.velocityHistory = d.velocityHistory[len(d.velocityHistory)-velocityHistorySize:]
		}
		if ev := d.checkSurge(tickVelocities, now); ev != nil && !d.firedRecently(AnomalySurge, "", now, surgeRepeatWindow) {
			newEvents = append(newEvents, *ev)
		}
	}

	for id, hist := range d.history {
		if len(hist) == 0 || now.Sub(hist[len(hist)-1].at) > staleTrackAge {
			delete(d.history, id)
		}
	}

	d.events = append(d.events, newEvents...)
	if len(d.events) > MaxAnomalyEvents {
		d.events = d.events[len(d.events)-MaxAnomalyEvents:]
	}

	return AnomalyUpdate{
		NewEvents:     newEvents,
		TotalEvents:   len(d.events),
		CrowdVelocity: d.crowdVelocity,
		ActiveTracks:  len(d.history),
	}
}

func velocityBetween(a, b Point, dtSeconds float64) float64 {
	if dtSeconds <= 0 {
		return 0
	}
	return math.Hypot(b.X-a.X, b.Y-a.Y) / dtSeconds
}

func aspectRatio(width, height float64) float64 {
	if height == 0 {
		return 0
	}
	return width / height
}

// checkFall scores three indicators against the recent history average:
// aspect ratio jump (2 points), bounding-box height collapse (2 points), and
// a downward y jump (1 point). Three or more points trigger an event with
// confidence = points/5.
func (d *AnomalyDetector) checkFall(trackID string, current observation, history []observation, now time.Time) *AnomalyEvent {
	if len(history) < fallMinHistory {
		return nil
	}
	recent := history
	if len(recent) > fallRecentWindow {
		recent = recent[len(recent)-fallRecentWindow:]
	}

	var sumAspect, sumHeight, sumY float64
	for _, h := range recent {
		sumAspect += aspectRatio(h.width, h.height)
		sumHeight += h.height
		sumY += h.pos.Y
	}
	n := float64(len(recent))
	avgAspect, avgHeight, avgY := sumAspect/n, sumHeight/n, sumY/n

	currentAspect := aspectRatio(current.width, current.height)
	points := 0
	details := make(map[string]any)

	if currentAspect > avgAspect*1.5 && currentAspect > fallAspectFloor {
		points += 2
		details["aspect_change"] = fmt.Sprintf("%.2f -> %.2f", avgAspect, currentAspect)
	}
	if avgHeight > 0 && current.height < avgHeight*0.6 {
		points += 2
		details["height_reduction"] = fmt.Sprintf("%.3f -> %.3f", avgHeight, current.height)
	}
	if current.pos.Y > 0 && current.pos.Y > avgY*1.2 {
		points++
		details["downward_motion"] = true
	}

	if points < 3 {
		return nil
	}
	confidence := math.Min(float64(points)/5.0, 1.0)
	severity := AnomalyMedium
	if confidence > 0.8 {
		severity = AnomalyCritical
	} else if confidence > 0.6 {
		severity = AnomalyHigh
	}
	return &AnomalyEvent{
		EventID:    d.nextEventID(),
		Type:       AnomalyFall,
		Timestamp:  now,
		Position:   current.pos,
		TrackID:    trackID,
		Confidence: confidence,
		Severity:   severity,
		Details:    details,
	}
}

// checkSuddenStop fires when a track that was moving well above the minimal
// motion threshold drops below it while the crowd overall is still moving.
// The crowd gate keeps a mass stop (everyone pausing) from flagging every
// track.
func (d *AnomalyDetector) checkSuddenStop(trackID string, current observation, history []observation, now time.Time) *AnomalyEvent {
	if len(history) < suddenStopWindow+5 {
		return nil
	}

	last := history[len(history)-1]
	dt := now.Sub(last.at).Seconds()
	currentVelocity := velocityBetween(last.pos, current.pos, dt)

	older := history[len(history)-suddenStopWindow-3 : len(history)-suddenStopWindow]
	if len(older) < 2 {
		return nil
	}
	a, b := older[len(older)-2], older[len(older)-1]
	prevVelocity := velocityBetween(a.pos, b.pos, b.at.Sub(a.at).Seconds())

	if prevVelocity <= suddenStopThreshold*3 || currentVelocity >= suddenStopThreshold {
		return nil
	}
	if d.crowdVelocity <= suddenStopThreshold*2 {
		return nil
	}
	return &AnomalyEvent{
		EventID:    d.nextEventID(),
		Type:       AnomalySuddenStop,
		Timestamp:  now,
		Position:   current.pos,
		TrackID:    trackID,
		Confidence: 0.7,
		Severity:   AnomalyMedium,
		Details: map[string]any{
			"previous_velocity": prevVelocity,
			"current_velocity":  currentVelocity,
			"crowd_velocity":    d.crowdVelocity,
		},
	}
}

// checkStationary fires when a track's average displacement over the last
// stationaryTicks observations stays under the stationary threshold while
// the crowd baseline indicates motion.
func (d *AnomalyDetector) checkStationary(trackID string, history []observation, now time.Time) *AnomalyEvent {
	if len(history) < stationaryTicks {
		return nil
	}
	recent := history[len(history)-stationaryTicks:]

	var total float64
	for i := 1; i < len(recent); i++ {
		total += math.Hypot(recent[i].pos.X-recent[i-1].pos.X, recent[i].pos.Y-recent[i-1].pos.Y)
	}
	avgMovement := total / float64(len(recent))

	if avgMovement >= stationaryThreshold || d.crowdVelocity <= stationaryThreshold*3 {
		return nil
	}
	latest := recent[len(recent)-1]
	return &AnomalyEvent{
		EventID:    d.nextEventID(),
		Type:       AnomalyStationary,
		Timestamp:  now,
		Position:   latest.pos,
		TrackID:    trackID,
		Confidence: 0.6,
		Severity:   AnomalyLow,
		Details: map[string]any{
			"stationary_ticks": stationaryTicks,
			"avg_movement":     avgMovement,
			"crowd_velocity":   d.crowdVelocity,
		},
	}
}

// checkSurge fires when the current tick's mean velocity across all tracks
// exceeds the trailing historical average by the surge multiplier.
func (d *AnomalyDetector) checkSurge(tickVelocities []float64, now time.Time) *AnomalyEvent {
	if len(tickVelocities) == 0 || len(d.velocityHistory) == 0 {
		return nil
	}
	currentAvg := stat.Mean(tickVelocities, nil)

	baseline := d.velocityHistory
	if len(baseline) > velocityBaselineWindow {
		baseline = baseline[len(baseline)-velocityBaselineWindow:]
	}
	historicalAvg := stat.Mean(baseline, nil)

	if historicalAvg <= 0 || currentAvg <= historicalAvg*surgeMultiplier {
		return nil
	}
	return &AnomalyEvent{
		EventID:    d.nextEventID(),
		Type:       AnomalySurge,
		Timestamp:  now,
		Position:   Point{X: 0.5, Y: 0.5},
		Confidence: math.Min(currentAvg/(historicalAvg*3), 1.0),
		Severity:   AnomalyHigh,
		Details: map[string]any{
			"current_velocity":    currentAvg,
			"historical_velocity": historicalAvg,
			"surge_ratio":         currentAvg / historicalAvg,
		},
	}
}

// firedRecently reports whether an event of the given type (and track, when
// non-empty) exists within the repeat window. Used to suppress duplicates.
func (d *AnomalyDetector) firedRecently(t AnomalyType, trackID string, now time.Time, window time.Duration) bool {
	for i := len(d.events) - 1; i >= 0; i-- {
		ev := d.events[i]
		if now.Sub(ev.Timestamp) > window {
			return false
		}
		if ev.Type == t && (trackID == "" || ev.TrackID == trackID) {
			return true
		}
	}
	return false
}

// ActiveAnomalies returns events newer than maxAge, most recent first.
func (d *AnomalyDetector) ActiveAnomalies(maxAge time.Duration) []AnomalyEvent {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := now.Add(-maxAge)
	var recent []AnomalyEvent
	for _, ev := range d.events {
		if ev.Timestamp.After(cutoff) {
			recent = append(recent, ev)
		}
	}
	sort.Slice(recent, func(i, j int) bool {
		return recent[i].Timestamp.After(recent[j].Timestamp)
	})
	return recent
}

// Summary groups the event log by type and severity and includes the ten
// most recent high/critical events.
func (d *AnomalyDetector) Summary() AnomalySummary {
	d.mu.Lock()
	defer d.mu.Unlock()

	summary := AnomalySummary{
		TotalEvents:   len(d.events),
		ByType:        make(map[AnomalyType]int),
		BySeverity:    make(map[AnomalySeverity]int),
		CrowdVelocity: d.crowdVelocity,
	}
	for _, ev := range d.events {
		summary.ByType[ev.Type]++
		summary.BySeverity[ev.Severity]++
		if ev.Severity == AnomalyCritical || ev.Severity == AnomalyHigh {
			summary.RecentCritical = append(summary.RecentCritical, ev)
		}
	}
	if len(summary.RecentCritical) > 10 {
		summary.RecentCritical = summary.RecentCritical[len(summary.RecentCritical)-10:]
	}
	return summary
}

// Reset clears all detector state.
func (d *AnomalyDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = make(map[string][]observation)
	d.events = nil
	d.velocityHistory = nil
	d.crowdVelocity = 0
}
