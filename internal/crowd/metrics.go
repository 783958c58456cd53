package crowd

import (
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/drishti-labs/crowdwatch/internal/timeutil"
)

// DensityLevel classifies crowd density in persons per square meter.
type DensityLevel string

const (
	DensityLow      DensityLevel = "low"
	DensityMedium   DensityLevel = "medium"
	DensityHigh     DensityLevel = "high"
	DensityCritical DensityLevel = "critical"
)

// VelocityLevel classifies average crowd walking speed.
type VelocityLevel string

const (
	VelocityNormal   VelocityLevel = "normal"
	VelocitySlowing  VelocityLevel = "slowing"
	VelocitySlow     VelocityLevel = "slow"
	VelocityVerySlow VelocityLevel = "very_slow"
)

// CongestionLevel combines density and velocity into one operational state.
type CongestionLevel string

const (
	CongestionFree     CongestionLevel = "free_flow"
	CongestionModerate CongestionLevel = "moderate"
	CongestionHeavy    CongestionLevel = "congested"
	CongestionSevere   CongestionLevel = "severe"
)

const (
	// metricsSmoothingWindow is the moving-average window for raw samples.
	metricsSmoothingWindow = 10
	// MetricsHistorySize bounds the retained metric samples.
	MetricsHistorySize = 300
	// DefaultZoneArea is the monitored area in square meters when none is
	// configured.
	DefaultZoneArea = 100.0

	densityMediumThreshold   = 1.5
	densityHighThreshold     = 2.5
	densityCriticalThreshold = 3.5
	velocityNormalThreshold  = 0.8
	velocitySlowingThreshold = 0.5
	velocitySlowThreshold    = 0.3
)

// CrowdMetrics is one smoothed metric sample.
type CrowdMetrics struct {
	Timestamp        time.Time       `json:"timestamp"`
	PersonCount      int             `json:"person_count"`
	SmoothedCount    float64         `json:"smoothed_count"`
	Velocity         float64         `json:"velocity"`
	SmoothedVelocity float64         `json:"smoothed_velocity"`
	Density          float64         `json:"density"`
	DensityLevel     DensityLevel    `json:"density_level"`
	VelocityLevel    VelocityLevel   `json:"velocity_level"`
	Congestion       CongestionLevel `json:"congestion_level"`
	CountTrend       float64         `json:"count_trend_pct"`
}

// TrendData holds aligned metric series for charting.
type TrendData struct {
	Timestamps []time.Time `json:"timestamps"`
	Counts     []float64   `json:"counts"`
	Velocities []float64   `json:"velocities"`
	Densities  []float64   `json:"densities"`
}

type metricSample struct {
	at       time.Time
	count    float64
	velocity float64
	density  float64
}

// MetricsAggregator smooths raw per-tick counts and velocities with small
// moving averages, derives density and congestion levels, and keeps a
// bounded sample history for trend queries.
type MetricsAggregator struct {
	mu    sync.Mutex
	clock timeutil.Clock

	zoneArea       float64
	countBuffer    []float64
	velocityBuffer []float64
	history        []metricSample
	latest         CrowdMetrics
}

// NewMetricsAggregator creates an aggregator with the default zone area.
func NewMetricsAggregator(clock timeutil.Clock) *MetricsAggregator {
	return &MetricsAggregator{clock: clock, zoneArea: DefaultZoneArea}
}

// SetZoneArea updates the monitored area used for density. Area must be
// positive.
func (m *MetricsAggregator) SetZoneArea(area float64) error {
	if area <= 0 {
		return fmt.Errorf("zone area must be positive, got %v", area)
	}
	m.mu.Lock()
	m.zoneArea = area
	m.mu.Unlock()
	return nil
}

// ZoneArea returns the configured monitored area in square meters.
func (m *MetricsAggregator) ZoneArea() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.zoneArea
}

// Update ingests one tick's person count and average velocity (m/s) and
// returns the derived metrics.
func (m *MetricsAggregator) Update(personCount int, velocity float64) CrowdMetrics {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.countBuffer = appendBoundedFloat(m.countBuffer, float64(personCount), metricsSmoothingWindow)
	m.velocityBuffer = appendBoundedFloat(m.velocityBuffer, velocity, metricsSmoothingWindow)

	smoothedCount := stat.Mean(m.countBuffer, nil)
	smoothedVelocity := stat.Mean(m.velocityBuffer, nil)
	density := smoothedCount / m.zoneArea

	metrics := CrowdMetrics{
		Timestamp:        now,
		PersonCount:      personCount,
		SmoothedCount:    smoothedCount,
		Velocity:         velocity,
		SmoothedVelocity: smoothedVelocity,
		Density:          density,
		DensityLevel:     classifyDensity(density),
		VelocityLevel:    classifyVelocity(smoothedVelocity),
		Congestion:       classifyCongestion(density, smoothedVelocity),
		CountTrend:       m.countTrendLocked(smoothedCount),
	}

	m.history = append(m.history, metricSample{
		at:       now,
		count:    smoothedCount,
		velocity: smoothedVelocity,
		density:  density,
	})
	if len(m.history) > MetricsHistorySize {
		m.history = m.history[len(m.history)-MetricsHistorySize:]
	}
	m.latest = metrics
	return metrics
}

func appendBoundedFloat(buf []float64, v float64, max int) []float64 {
	buf = append(buf, v)
	if len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}

func classifyDensity(density float64) DensityLevel {
	switch {
	case density >= densityCriticalThreshold:
		return DensityCritical
	case density >= densityHighThreshold:
		return DensityHigh
	case density >= densityMediumThreshold:
		return DensityMedium
	default:
		return DensityLow
	}
}

func classifyVelocity(velocity float64) VelocityLevel {
	switch {
	case velocity >= velocityNormalThreshold:
		return VelocityNormal
	case velocity >= velocitySlowingThreshold:
		return VelocitySlowing
	case velocity >= velocitySlowThreshold:
		return VelocitySlow
	default:
		return VelocityVerySlow
	}
}

func classifyCongestion(density, velocity float64) CongestionLevel {
	switch {
	case density > densityCriticalThreshold,
		density > densityHighThreshold && velocity < velocitySlowThreshold:
		return CongestionSevere
	case density > densityHighThreshold, velocity < velocitySlowingThreshold:
		return CongestionHeavy
	case density > densityMediumThreshold, velocity < velocityNormalThreshold:
		return CongestionModerate
	default:
		return CongestionFree
	}
}

// countTrendLocked compares the latest smoothed count against the average of
// the preceding ten samples, as a percent change. Caller holds the lock.
func (m *MetricsAggregator) countTrendLocked(current float64) float64 {
	if len(m.history) < metricsSmoothingWindow {
		return 0
	}
	older := m.history[len(m.history)-metricsSmoothingWindow:]
	var sum float64
	for _, s := range older {
		sum += s.count
	}
	baseline := sum / float64(len(older))
	if baseline == 0 {
		return 0
	}
	return (current - baseline) / baseline * 100
}

// Latest returns the most recent metric sample.
func (m *MetricsAggregator) Latest() CrowdMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

// Trends returns aligned series for at most the requested number of recent
// samples. A non-positive limit returns the full history.
func (m *MetricsAggregator) Trends(limit int) TrendData {
	m.mu.Lock()
	defer m.mu.Unlock()

	samples := m.history
	if limit > 0 && len(samples) > limit {
		samples = samples[len(samples)-limit:]
	}
	trends := TrendData{
		Timestamps: make([]time.Time, len(samples)),
		Counts:     make([]float64, len(samples)),
		Velocities: make([]float64, len(samples)),
		Densities:  make([]float64, len(samples)),
	}
	for i, s := range samples {
		trends.Timestamps[i] = s.at
		trends.Counts[i] = s.count
		trends.Velocities[i] = s.velocity
		trends.Densities[i] = s.density
	}
	return trends
}

// Reset clears buffers and history.
func (m *MetricsAggregator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countBuffer = nil
	m.velocityBuffer = nil
	m.history = nil
	m.latest = CrowdMetrics{}
}
