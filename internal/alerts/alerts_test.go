package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drishti-labs/crowdwatch/internal/crowd"
	"github.com/drishti-labs/crowdwatch/internal/timeutil"
)

func calmSample() (crowd.CrowdMetrics, crowd.QueueEstimate) {
	return crowd.CrowdMetrics{
		PersonCount:      10,
		Density:          0.5,
		SmoothedVelocity: 1.0,
		Congestion:       crowd.CongestionFree,
	}, crowd.QueueEstimate{EstimatedWait: 5}
}

func TestManager_DensityCriticalFiresAndResolves(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	m := NewManager(clock)

	metrics, queue := calmSample()
	metrics.Density = 4.0
	raised := m.Check("plaza", metrics, queue)

	require.Len(t, raised, 1)
	alert := raised[0]
	assert.Equal(t, TypeDensityCritical, alert.Type)
	assert.Equal(t, LevelCritical, alert.Level)
	assert.Equal(t, "plaza", alert.Zone)
	assert.InDelta(t, 4.0, alert.Value, 1e-9)
	assert.NotEmpty(t, alert.ID)

	// Still firing: no duplicate while active
	raised = m.Check("plaza", metrics, queue)
	assert.Empty(t, raised)
	assert.Len(t, m.ActiveAlerts(), 1)

	// Condition clears and the alert auto-resolves into history
	clock.Advance(10 * time.Second)
	metrics.Density = 1.0
	raised = m.Check("plaza", metrics, queue)
	assert.Empty(t, raised)
	assert.Empty(t, m.ActiveAlerts())

	history := m.History(0)
	require.Len(t, history, 1)
	assert.True(t, history[0].Resolved)
	assert.False(t, history[0].ResolvedAt.IsZero())
}

func TestManager_CooldownSuppressesReraise(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	m := NewManager(clock)

	metrics, queue := calmSample()
	metrics.Density = 4.0
	require.Len(t, m.Check("z", metrics, queue), 1)

	// Flap: clear, then spike again inside the 60s cooldown
	clock.Advance(5 * time.Second)
	calm, _ := calmSample()
	m.Check("z", calm, queue)
	clock.Advance(5 * time.Second)
	assert.Empty(t, m.Check("z", metrics, queue))

	// Past the cooldown the same spike raises again
	clock.Advance(time.Minute)
	assert.Len(t, m.Check("z", metrics, queue), 1)
}

func TestManager_SeparateZones(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	m := NewManager(clock)

	metrics, queue := calmSample()
	metrics.Density = 4.0
	require.Len(t, m.Check("east", metrics, queue), 1)
	require.Len(t, m.Check("west", metrics, queue), 1)
	assert.Len(t, m.ActiveAlerts(), 2)
}

func TestManager_VelocityTiers(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	m := NewManager(clock)

	metrics, queue := calmSample()
	metrics.SmoothedVelocity = 0.4
	raised := m.Check("z", metrics, queue)
	require.Len(t, raised, 1)
	assert.Equal(t, TypeSlowMovement, raised[0].Type)
	assert.Equal(t, LevelWarning, raised[0].Level)

	clock.Advance(2 * time.Minute)
	metrics.SmoothedVelocity = 0.1
	raised = m.Check("z", metrics, queue)
	// Slow-movement resolves, crowd-stall fires
	require.Len(t, raised, 1)
	assert.Equal(t, TypeCrowdStall, raised[0].Type)
	assert.Equal(t, LevelCritical, raised[0].Level)

	// An empty frame cannot stall
	clock.Advance(2 * time.Minute)
	metrics.PersonCount = 0
	assert.Empty(t, m.Check("empty", metrics, queue))
}

func TestManager_QueueTiers(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	m := NewManager(clock)

	metrics, queue := calmSample()
	queue.EstimatedWait = 50
	raised := m.Check("q", metrics, queue)
	require.Len(t, raised, 1)
	assert.Equal(t, TypeQueueWarning, raised[0].Type)

	clock.Advance(2 * time.Minute)
	queue.EstimatedWait = 75
	raised = m.Check("q", metrics, queue)
	require.Len(t, raised, 1)
	assert.Equal(t, TypeQueueCritical, raised[0].Type)
}

func TestManager_SustainedCongestion(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	m := NewManager(clock)

	metrics, queue := calmSample()
	metrics.Congestion = crowd.CongestionSevere

	m.Check("z", metrics, queue)
	clock.Advance(time.Minute)
	found := false
	for _, a := range m.Check("z", metrics, queue) {
		if a.Type == TypeSustainedCongestion {
			found = true
		}
	}
	assert.False(t, found, "one minute is under the 120s duration gate")

	clock.Advance(90 * time.Second)
	for _, a := range m.Check("z", metrics, queue) {
		if a.Type == TypeSustainedCongestion {
			found = true
		}
	}
	assert.True(t, found)
}

func TestManager_AcknowledgeAndResolve(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	m := NewManager(clock)

	metrics, queue := calmSample()
	metrics.Density = 4.0
	raised := m.Check("z", metrics, queue)
	require.Len(t, raised, 1)
	id := raised[0].ID

	require.NoError(t, m.Acknowledge(id))
	active := m.ActiveAlerts()
	require.Len(t, active, 1)
	assert.True(t, active[0].Acknowledged)
	assert.False(t, active[0].AcknowledgedAt.IsZero())

	require.NoError(t, m.Resolve(id))
	assert.Empty(t, m.ActiveAlerts())
	assert.Len(t, m.History(0), 1)

	assert.Error(t, m.Acknowledge("nope"))
	assert.Error(t, m.Resolve(id), "already resolved")
}

func TestManager_SetThresholdValidation(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	m := NewManager(clock)

	require.NoError(t, m.SetThreshold("density_warning", 2.0))
	assert.InDelta(t, 2.0, m.Thresholds().DensityWarning, 1e-9)

	assert.Error(t, m.SetThreshold("density_warning", 3.5), "must stay below critical")
	assert.Error(t, m.SetThreshold("density_critical", 1.5), "must stay above warning")
	assert.Error(t, m.SetThreshold("velocity_critical", 0.6), "must stay below warning")
	assert.Error(t, m.SetThreshold("queue_wait_warning", 60))
	assert.Error(t, m.SetThreshold("velocity_warning", -1))
	assert.Error(t, m.SetThreshold("nonsense", 1))

	// The timing knobs take seconds
	require.NoError(t, m.SetThreshold("cooldown_seconds", 30))
	assert.Equal(t, 30*time.Second, m.Thresholds().Cooldown)
	require.NoError(t, m.SetThreshold("congestion_duration_seconds", 90))
	assert.Equal(t, 90*time.Second, m.Thresholds().CongestionDuration)
}

func TestManager_SetThresholds(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	m := NewManager(clock)

	want := Thresholds{
		DensityWarning:     1.5,
		DensityCritical:    2.8,
		VelocityWarning:    0.6,
		VelocityCritical:   0.2,
		QueueWaitWarning:   30,
		QueueWaitCritical:  50,
		CongestionDuration: 90 * time.Second,
		Cooldown:           45 * time.Second,
	}
	require.NoError(t, m.SetThresholds(want))
	assert.Equal(t, want, m.Thresholds())

	bad := want
	bad.DensityCritical = 1.0
	assert.Error(t, m.SetThresholds(bad), "critical density below warning")
	bad = want
	bad.VelocityCritical = 0.9
	assert.Error(t, m.SetThresholds(bad), "critical velocity above warning")
	bad = want
	bad.Cooldown = 0
	assert.Error(t, m.SetThresholds(bad))
	assert.Equal(t, want, m.Thresholds(), "rejected sets leave thresholds untouched")
}

func TestManager_NotifyAnomaly(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	m := NewManager(clock)

	low := crowd.AnomalyEvent{Type: crowd.AnomalyStationary, Severity: crowd.AnomalyLow, Confidence: 0.6}
	assert.Nil(t, m.NotifyAnomaly("z", low))

	fall := crowd.AnomalyEvent{Type: crowd.AnomalyFall, Severity: crowd.AnomalyCritical, Confidence: 1.0}
	alert := m.NotifyAnomaly("z", fall)
	require.NotNil(t, alert)
	assert.Equal(t, TypeAnomaly, alert.Type)
	assert.Equal(t, LevelCritical, alert.Level)

	// Same type in the same zone is in cooldown
	clock.Advance(10 * time.Second)
	assert.Nil(t, m.NotifyAnomaly("z", fall))

	// A different anomaly type keys separately
	surge := crowd.AnomalyEvent{Type: crowd.AnomalySurge, Severity: crowd.AnomalyHigh, Confidence: 0.8}
	surgeAlert := m.NotifyAnomaly("z", surge)
	require.NotNil(t, surgeAlert)
	assert.Equal(t, LevelWarning, surgeAlert.Level)
}

func TestManager_CallbacksAndPanicIsolation(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	m := NewManager(clock)

	var delivered []Alert
	m.RegisterCallback(func(Alert) { panic("listener blew up") })
	m.RegisterCallback(func(a Alert) { delivered = append(delivered, a) })

	metrics, queue := calmSample()
	metrics.Density = 4.0
	m.Check("z", metrics, queue)

	require.Len(t, delivered, 1, "panic in one callback must not stop the next")
	assert.Equal(t, TypeDensityCritical, delivered[0].Type)
}

func TestManager_CountByLevelAndClearResolved(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	m := NewManager(clock)

	metrics, queue := calmSample()
	metrics.Density = 4.0
	metrics.SmoothedVelocity = 0.4
	m.Check("z", metrics, queue)

	counts := m.CountByLevel()
	assert.Equal(t, 1, counts[LevelCritical])
	assert.Equal(t, 1, counts[LevelWarning])

	calm, calmQueue := calmSample()
	clock.Advance(time.Second)
	m.Check("z", calm, calmQueue)
	assert.Len(t, m.History(0), 2)

	m.ClearResolved()
	assert.Empty(t, m.History(0))
}
