package crowd

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/drishti-labs/crowdwatch/internal/timeutil"
)

// QueueStatus classifies the estimated wait.
type QueueStatus string

const (
	QueueShort    QueueStatus = "short"
	QueueModerate QueueStatus = "moderate"
	QueueLong     QueueStatus = "long"
	QueueVeryLong QueueStatus = "very_long"
)

// QueueTrend describes how queue length is evolving.
type QueueTrend string

const (
	TrendIncreasing QueueTrend = "increasing"
	TrendDecreasing QueueTrend = "decreasing"
	TrendStable     QueueTrend = "stable"
)

const (
	// DefaultServiceRate is persons served per minute.
	DefaultServiceRate = 2.0
	// MinServiceRate is the lowest accepted service rate.
	MinServiceRate = 0.1
	// QueueHistorySize bounds retained queue samples.
	QueueHistorySize = 300
	// queueSections is how many bands the queue zone is split into for
	// per-section density.
	queueSections = 4

	queueTrendWindow    = 10
	queueTrendThreshold = 0.10
	referenceWalkSpeed  = 0.8
	minVelocityFactor   = 0.3

	waitModerateMinutes = 15.0
	waitLongMinutes     = 30.0
	waitVeryLongMinutes = 60.0
)

// QueueSection is the occupancy of one band of the queue zone, ordered from
// the front of the queue (section 0) to the back.
type QueueSection struct {
	Index int     `json:"index"`
	Count int     `json:"count"`
	Share float64 `json:"share"`
}

// QueueEstimate is one analyzed queue sample.
type QueueEstimate struct {
	Timestamp     time.Time      `json:"timestamp"`
	QueueLength   int            `json:"queue_length"`
	EstimatedWait float64        `json:"estimated_wait_minutes"`
	Status        QueueStatus    `json:"status"`
	Trend         QueueTrend     `json:"trend"`
	ServiceRate   float64        `json:"service_rate"`
	Sections      []QueueSection `json:"sections"`
}

type queueSample struct {
	at     time.Time
	length int
	wait   float64
}

// QueueAnalyzer counts people inside a configurable queue polygon, estimates
// wait time from a service rate scaled by how fast the queue is actually
// moving, and tracks the length trend.
type QueueAnalyzer struct {
	mu    sync.Mutex
	clock timeutil.Clock

	zone        []Point
	serviceRate float64
	history     []queueSample
	latest      QueueEstimate
}

// DefaultQueueZone covers the lower 70 percent of the frame, where the
// reference deployment's queue barrier sits.
func DefaultQueueZone() []Point {
	return []Point{{X: 0, Y: 0.3}, {X: 1, Y: 0.3}, {X: 1, Y: 1}, {X: 0, Y: 1}}
}

// NewQueueAnalyzer creates an analyzer with the default zone and service
// rate.
func NewQueueAnalyzer(clock timeutil.Clock) *QueueAnalyzer {
	return &QueueAnalyzer{
		clock:       clock,
		zone:        DefaultQueueZone(),
		serviceRate: DefaultServiceRate,
	}
}

// SetServiceRate updates persons served per minute.
func (q *QueueAnalyzer) SetServiceRate(rate float64) error {
	if rate < MinServiceRate {
		return fmt.Errorf("service rate must be at least %v, got %v", MinServiceRate, rate)
	}
	q.mu.Lock()
	q.serviceRate = rate
	q.mu.Unlock()
	return nil
}

// ServiceRate returns persons served per minute.
func (q *QueueAnalyzer) ServiceRate() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.serviceRate
}

// SetZone replaces the queue polygon. At least three vertices are required.
func (q *QueueAnalyzer) SetZone(polygon []Point) error {
	if len(polygon) < 3 {
		return fmt.Errorf("queue zone needs at least 3 points, got %d", len(polygon))
	}
	q.mu.Lock()
	q.zone = append([]Point(nil), polygon...)
	q.mu.Unlock()
	return nil
}

// Update analyzes one tick. avgVelocity is the crowd's average walking speed
// in meters per second, used to scale the wait estimate: a stalled queue
// waits longer than the raw service rate suggests.
func (q *QueueAnalyzer) Update(persons []Person, avgVelocity float64) QueueEstimate {
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	var inZone []Point
	for _, raw := range persons {
		p := raw.Normalized().Position()
		if pointInPolygon(p, q.zone) {
			inZone = append(inZone, p)
		}
	}
	length := len(inZone)

	velocityFactor := math.Max(minVelocityFactor, avgVelocity) / referenceWalkSpeed
	wait := 0.0
	if length > 0 {
		wait = float64(length) / q.serviceRate / velocityFactor
	}

	estimate := QueueEstimate{
		Timestamp:     now,
		QueueLength:   length,
		EstimatedWait: wait,
		Status:        classifyWait(wait),
		Trend:         q.trendLocked(length),
		ServiceRate:   q.serviceRate,
		Sections:      q.sectionsLocked(inZone),
	}

	q.history = append(q.history, queueSample{at: now, length: length, wait: wait})
	if len(q.history) > QueueHistorySize {
		q.history = q.history[len(q.history)-QueueHistorySize:]
	}
	q.latest = estimate
	return estimate
}

func classifyWait(minutes float64) QueueStatus {
	switch {
	case minutes >= waitVeryLongMinutes:
		return QueueVeryLong
	case minutes >= waitLongMinutes:
		return QueueLong
	case minutes >= waitModerateMinutes:
		return QueueModerate
	default:
		return QueueShort
	}
}

// sectionsLocked splits the zone's vertical extent into equal bands and
// counts occupants per band. Caller holds the lock.
func (q *QueueAnalyzer) sectionsLocked(occupants []Point) []QueueSection {
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, v := range q.zone {
		minY = math.Min(minY, v.Y)
		maxY = math.Max(maxY, v.Y)
	}
	sections := make([]QueueSection, queueSections)
	for i := range sections {
		sections[i].Index = i
	}
	span := maxY - minY
	if span <= 0 {
		return sections
	}
	for _, p := range occupants {
		idx := int((p.Y - minY) / span * queueSections)
		if idx < 0 {
			idx = 0
		}
		if idx >= queueSections {
			idx = queueSections - 1
		}
		sections[idx].Count++
	}
	if len(occupants) > 0 {
		for i := range sections {
			sections[i].Share = float64(sections[i].Count) / float64(len(occupants))
		}
	}
	return sections
}

// trendLocked compares the current length against the average of the last
// ten samples. More than a ten percent move either way counts as a trend.
// Caller holds the lock.
func (q *QueueAnalyzer) trendLocked(current int) QueueTrend {
	if len(q.history) < queueTrendWindow {
		return TrendStable
	}
	recent := q.history[len(q.history)-queueTrendWindow:]
	var sum float64
	for _, s := range recent {
		sum += float64(s.length)
	}
	baseline := sum / float64(len(recent))
	if baseline == 0 {
		if current > 0 {
			return TrendIncreasing
		}
		return TrendStable
	}
	change := (float64(current) - baseline) / baseline
	switch {
	case change > queueTrendThreshold:
		return TrendIncreasing
	case change < -queueTrendThreshold:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// Latest returns the most recent estimate.
func (q *QueueAnalyzer) Latest() QueueEstimate {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.latest
}

// History returns up to limit recent samples as (timestamp, length, wait)
// triples for charting. A non-positive limit returns everything.
func (q *QueueAnalyzer) History(limit int) (times []time.Time, lengths []int, waits []float64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	samples := q.history
	if limit > 0 && len(samples) > limit {
		samples = samples[len(samples)-limit:]
	}
	for _, s := range samples {
		times = append(times, s.at)
		lengths = append(lengths, s.length)
		waits = append(waits, s.wait)
	}
	return times, lengths, waits
}

// Reset clears history and the latest estimate. Zone and service rate are
// kept.
func (q *QueueAnalyzer) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.history = nil
	q.latest = QueueEstimate{}
}
