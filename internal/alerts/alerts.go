// Package alerts raises, deduplicates, and resolves operational alerts from
// crowd metric samples and anomaly events. Alerts auto-resolve when their
// triggering condition clears and a per-type cooldown keeps flapping
// conditions from re-firing continuously.
package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drishti-labs/crowdwatch/internal/crowd"
	"github.com/drishti-labs/crowdwatch/internal/monitoring"
	"github.com/drishti-labs/crowdwatch/internal/timeutil"
)

// Type identifies what condition raised an alert.
type Type string

const (
	TypeDensityWarning      Type = "density_warning"
	TypeDensityCritical     Type = "density_critical"
	TypeSlowMovement        Type = "slow_movement"
	TypeCrowdStall          Type = "crowd_stall"
	TypeQueueWarning        Type = "queue_warning"
	TypeQueueCritical       Type = "queue_critical"
	TypeSustainedCongestion Type = "sustained_congestion"
	TypeAnomaly             Type = "anomaly"
)

// Level grades alert urgency.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// MaxAlertHistory caps the retained resolved-alert log.
const MaxAlertHistory = 1000

// Alert is one raised condition. ID is a random UUID.
type Alert struct {
	ID             string    `json:"id"`
	Type           Type      `json:"type"`
	Level          Level     `json:"level"`
	Zone           string    `json:"zone,omitempty"`
	Message        string    `json:"message"`
	Value          float64   `json:"value"`
	Threshold      float64   `json:"threshold"`
	CreatedAt      time.Time `json:"created_at"`
	Acknowledged   bool      `json:"acknowledged"`
	AcknowledgedAt time.Time `json:"acknowledged_at,omitzero"`
	Resolved       bool      `json:"resolved"`
	ResolvedAt     time.Time `json:"resolved_at,omitzero"`
}

// Thresholds holds the tunable trigger points. Velocity thresholds are
// meters per second, queue thresholds are estimated wait minutes.
type Thresholds struct {
	DensityWarning     float64       `json:"density_warning"`
	DensityCritical    float64       `json:"density_critical"`
	VelocityWarning    float64       `json:"velocity_warning"`
	VelocityCritical   float64       `json:"velocity_critical"`
	QueueWaitWarning   float64       `json:"queue_wait_warning"`
	QueueWaitCritical  float64       `json:"queue_wait_critical"`
	CongestionDuration time.Duration `json:"congestion_duration"`
	Cooldown           time.Duration `json:"cooldown"`
}

// DefaultThresholds returns the reference deployment's trigger points.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DensityWarning:     2.5,
		DensityCritical:    3.5,
		VelocityWarning:    0.5,
		VelocityCritical:   0.3,
		QueueWaitWarning:   45,
		QueueWaitCritical:  60,
		CongestionDuration: 120 * time.Second,
		Cooldown:           60 * time.Second,
	}
}

// Callback receives every newly raised alert. Callbacks run synchronously
// inside Check; a panicking callback is logged and does not stop delivery
// to the others.
type Callback func(Alert)

type alertKey struct {
	typ  Type
	zone string
}

// Manager is the alert state machine.
type Manager struct {
	mu    sync.Mutex
	clock timeutil.Clock

	thresholds      Thresholds
	active          map[alertKey]*Alert
	history         []Alert
	lastFired       map[alertKey]time.Time
	callbacks       []Callback
	congestionSince map[string]time.Time
}

// NewManager creates a manager with default thresholds.
func NewManager(clock timeutil.Clock) *Manager {
	return &Manager{
		clock:           clock,
		thresholds:      DefaultThresholds(),
		active:          make(map[alertKey]*Alert),
		lastFired:       make(map[alertKey]time.Time),
		congestionSince: make(map[string]time.Time),
	}
}

// RegisterCallback adds a listener for newly raised alerts.
func (m *Manager) RegisterCallback(cb Callback) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, cb)
	m.mu.Unlock()
}

// Thresholds returns the current trigger points.
func (m *Manager) Thresholds() Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholds
}

// SetThreshold updates one named threshold. Pairs must stay ordered: the
// critical density and queue thresholds sit above their warnings, and the
// critical velocity threshold sits below its warning.
func (m *Manager) SetThreshold(name string, value float64) error {
	if value <= 0 {
		return fmt.Errorf("threshold %q must be positive, got %v", name, value)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.thresholds
	switch name {
	case "density_warning":
		if value >= t.DensityCritical {
			return fmt.Errorf("density_warning %v must be below density_critical %v", value, t.DensityCritical)
		}
		t.DensityWarning = value
	case "density_critical":
		if value <= t.DensityWarning {
			return fmt.Errorf("density_critical %v must be above density_warning %v", value, t.DensityWarning)
		}
		t.DensityCritical = value
	case "velocity_warning":
		if value <= t.VelocityCritical {
			return fmt.Errorf("velocity_warning %v must be above velocity_critical %v", value, t.VelocityCritical)
		}
		t.VelocityWarning = value
	case "velocity_critical":
		if value >= t.VelocityWarning {
			return fmt.Errorf("velocity_critical %v must be below velocity_warning %v", value, t.VelocityWarning)
		}
		t.VelocityCritical = value
	case "queue_wait_warning":
		if value >= t.QueueWaitCritical {
			return fmt.Errorf("queue_wait_warning %v must be below queue_wait_critical %v", value, t.QueueWaitCritical)
		}
		t.QueueWaitWarning = value
	case "queue_wait_critical":
		if value <= t.QueueWaitWarning {
			return fmt.Errorf("queue_wait_critical %v must be above queue_wait_warning %v", value, t.QueueWaitWarning)
		}
		t.QueueWaitCritical = value
	case "cooldown_seconds":
		t.Cooldown = time.Duration(value * float64(time.Second))
	case "congestion_duration_seconds":
		t.CongestionDuration = time.Duration(value * float64(time.Second))
	default:
		return fmt.Errorf("unknown threshold %q", name)
	}
	m.thresholds = t
	return nil
}

// SetThresholds replaces the full threshold set after validating pair
// ordering and positivity.
func (m *Manager) SetThresholds(t Thresholds) error {
	if t.DensityWarning <= 0 || t.DensityWarning >= t.DensityCritical {
		return fmt.Errorf("density thresholds must satisfy 0 < warning < critical, got %v and %v", t.DensityWarning, t.DensityCritical)
	}
	if t.VelocityCritical <= 0 || t.VelocityCritical >= t.VelocityWarning {
		return fmt.Errorf("velocity thresholds must satisfy 0 < critical < warning, got %v and %v", t.VelocityCritical, t.VelocityWarning)
	}
	if t.QueueWaitWarning <= 0 || t.QueueWaitWarning >= t.QueueWaitCritical {
		return fmt.Errorf("queue wait thresholds must satisfy 0 < warning < critical, got %v and %v", t.QueueWaitWarning, t.QueueWaitCritical)
	}
	if t.Cooldown <= 0 || t.CongestionDuration <= 0 {
		return fmt.Errorf("cooldown and congestion duration must be positive, got %v and %v", t.Cooldown, t.CongestionDuration)
	}
	m.mu.Lock()
	m.thresholds = t
	m.mu.Unlock()
	return nil
}

// Check evaluates one metric and queue sample for the given zone, raising
// new alerts and auto-resolving active ones whose condition has cleared.
// Returns the alerts raised by this call.
func (m *Manager) Check(zone string, metrics crowd.CrowdMetrics, queue crowd.QueueEstimate) []Alert {
	now := m.clock.Now()

	m.mu.Lock()

	type condition struct {
		typ       Type
		level     Level
		firing    bool
		value     float64
		threshold float64
		message   string
	}

	t := m.thresholds
	congested := metrics.Congestion == crowd.CongestionHeavy || metrics.Congestion == crowd.CongestionSevere
	if congested {
		if _, ok := m.congestionSince[zone]; !ok {
			m.congestionSince[zone] = now
		}
	} else {
		delete(m.congestionSince, zone)
	}
	congestionFor := time.Duration(0)
	if since, ok := m.congestionSince[zone]; ok {
		congestionFor = now.Sub(since)
	}

	conditions := []condition{
		{
			typ: TypeDensityCritical, level: LevelCritical,
			firing: metrics.Density >= t.DensityCritical,
			value:  metrics.Density, threshold: t.DensityCritical,
			message: fmt.Sprintf("crowd density %.2f p/m2 at or above critical %.2f", metrics.Density, t.DensityCritical),
		},
		{
			typ: TypeDensityWarning, level: LevelWarning,
			firing: metrics.Density >= t.DensityWarning && metrics.Density < t.DensityCritical,
			value:  metrics.Density, threshold: t.DensityWarning,
			message: fmt.Sprintf("crowd density %.2f p/m2 above %.2f", metrics.Density, t.DensityWarning),
		},
		{
			typ: TypeCrowdStall, level: LevelCritical,
			firing: metrics.SmoothedVelocity < t.VelocityCritical && metrics.PersonCount > 0,
			value:  metrics.SmoothedVelocity, threshold: t.VelocityCritical,
			message: fmt.Sprintf("crowd movement stalled at %.2f m/s", metrics.SmoothedVelocity),
		},
		{
			typ: TypeSlowMovement, level: LevelWarning,
			firing: metrics.SmoothedVelocity < t.VelocityWarning && metrics.SmoothedVelocity >= t.VelocityCritical && metrics.PersonCount > 0,
			value:  metrics.SmoothedVelocity, threshold: t.VelocityWarning,
			message: fmt.Sprintf("crowd slowing to %.2f m/s", metrics.SmoothedVelocity),
		},
		{
			typ: TypeQueueCritical, level: LevelCritical,
			firing: queue.EstimatedWait >= t.QueueWaitCritical,
			value:  queue.EstimatedWait, threshold: t.QueueWaitCritical,
			message: fmt.Sprintf("estimated queue wait %.0f min at or above %.0f min", queue.EstimatedWait, t.QueueWaitCritical),
		},
		{
			typ: TypeQueueWarning, level: LevelWarning,
			firing: queue.EstimatedWait >= t.QueueWaitWarning && queue.EstimatedWait < t.QueueWaitCritical,
			value:  queue.EstimatedWait, threshold: t.QueueWaitWarning,
			message: fmt.Sprintf("estimated queue wait %.0f min above %.0f min", queue.EstimatedWait, t.QueueWaitWarning),
		},
		{
			typ: TypeSustainedCongestion, level: LevelCritical,
			firing: congested && congestionFor >= t.CongestionDuration,
			value:  congestionFor.Seconds(), threshold: t.CongestionDuration.Seconds(),
			message: fmt.Sprintf("congestion sustained for %.0fs", congestionFor.Seconds()),
		},
	}

	var raised []Alert
	for _, c := range conditions {
		key := alertKey{typ: c.typ, zone: zone}
		if c.firing {
			if _, exists := m.active[key]; exists {
				continue
			}
			if last, ok := m.lastFired[key]; ok && now.Sub(last) < t.Cooldown {
				continue
			}
			alert := Alert{
				ID:        uuid.NewString(),
				Type:      c.typ,
				Level:     c.level,
				Zone:      zone,
				Message:   c.message,
				Value:     c.value,
				Threshold: c.threshold,
				CreatedAt: now,
			}
			m.active[key] = &alert
			m.lastFired[key] = now
			raised = append(raised, alert)
		} else if alert, exists := m.active[key]; exists {
			m.resolveLocked(key, alert, now)
		}
	}

	callbacks := append([]Callback(nil), m.callbacks...)
	m.mu.Unlock()

	for _, alert := range raised {
		m.deliver(callbacks, alert)
	}
	return raised
}

// NotifyAnomaly raises an alert for a high or critical anomaly event. Lower
// severities are ignored. Anomaly alerts carry no firing condition to watch,
// so they resolve only by hand or ClearResolved after manual resolution.
func (m *Manager) NotifyAnomaly(zone string, ev crowd.AnomalyEvent) *Alert {
	if ev.Severity != crowd.AnomalyHigh && ev.Severity != crowd.AnomalyCritical {
		return nil
	}
	now := m.clock.Now()

	m.mu.Lock()
	key := alertKey{typ: TypeAnomaly, zone: zone + "/" + string(ev.Type)}
	if last, ok := m.lastFired[key]; ok && now.Sub(last) < m.thresholds.Cooldown {
		m.mu.Unlock()
		return nil
	}
	level := LevelWarning
	if ev.Severity == crowd.AnomalyCritical {
		level = LevelCritical
	}
	alert := Alert{
		ID:        uuid.NewString(),
		Type:      TypeAnomaly,
		Level:     level,
		Zone:      zone,
		Message:   fmt.Sprintf("%s detected (confidence %.2f)", ev.Type, ev.Confidence),
		Value:     ev.Confidence,
		Threshold: 0,
		CreatedAt: now,
	}
	m.active[key] = &alert
	m.lastFired[key] = now
	callbacks := append([]Callback(nil), m.callbacks...)
	m.mu.Unlock()

	m.deliver(callbacks, alert)
	return &alert
}

func (m *Manager) deliver(callbacks []Callback, alert Alert) {
	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					monitoring.Logf("alerts: callback panic on %s: %v", alert.ID, r)
				}
			}()
			cb(alert)
		}()
	}
}

// resolveLocked moves an active alert to history. Caller holds the lock.
func (m *Manager) resolveLocked(key alertKey, alert *Alert, now time.Time) {
	alert.Resolved = true
	alert.ResolvedAt = now
	m.history = append(m.history, *alert)
	if len(m.history) > MaxAlertHistory {
		m.history = m.history[len(m.history)-MaxAlertHistory:]
	}
	delete(m.active, key)
}

// Acknowledge marks an active alert as seen by an operator.
func (m *Manager) Acknowledge(id string) error {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, alert := range m.active {
		if alert.ID == id {
			alert.Acknowledged = true
			alert.AcknowledgedAt = now
			return nil
		}
	}
	return fmt.Errorf("no active alert with id %s", id)
}

// Resolve closes an active alert by id.
func (m *Manager) Resolve(id string) error {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, alert := range m.active {
		if alert.ID == id {
			m.resolveLocked(key, alert, now)
			return nil
		}
	}
	return fmt.Errorf("no active alert with id %s", id)
}

// ActiveAlerts returns the currently firing alerts.
func (m *Manager) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, 0, len(m.active))
	for _, alert := range m.active {
		out = append(out, *alert)
	}
	return out
}

// CountByLevel tallies active alerts per level.
func (m *Manager) CountByLevel() map[Level]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[Level]int)
	for _, alert := range m.active {
		counts[alert.Level]++
	}
	return counts
}

// History returns up to limit resolved alerts, most recent last. A
// non-positive limit returns everything retained.
func (m *Manager) History(limit int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	hist := m.history
	if limit > 0 && len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	return append([]Alert(nil), hist...)
}

// ClearResolved drops the resolved-alert history.
func (m *Manager) ClearResolved() {
	m.mu.Lock()
	m.history = nil
	m.mu.Unlock()
}
