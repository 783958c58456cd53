package crowd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drishti-labs/crowdwatch/internal/timeutil"
)

const tick = 200 * time.Millisecond

func upright(id string, x, y float64) Person {
	return Person{ID: id, X: x, Y: y, Width: 0.05, Height: 0.15}
}

func TestAnomalyDetector_FallDetection(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	d := NewAnomalyDetector(clock)

	// Upright baseline
	for i := 0; i < 10; i++ {
		update := d.Update([]Person{upright("t1", 0.5, 0.5)})
		assert.Empty(t, update.NewEvents)
		clock.Advance(tick)
	}

	// Box flattens, height collapses, center drops. The center jump also reads
	// as a velocity spike against the stationary baseline, so a crowd surge
	// fires alongside the fall.
	collapsed := Person{ID: "t1", X: 0.5, Y: 0.65, Width: 0.16, Height: 0.05}
	update := d.Update([]Person{collapsed})

	require.Len(t, update.NewEvents, 2)
	ev := update.NewEvents[0]
	assert.Equal(t, AnomalyFall, ev.Type)
	assert.Equal(t, "t1", ev.TrackID)
	assert.Equal(t, "ANM00001", ev.EventID)
	assert.InDelta(t, 1.0, ev.Confidence, 1e-9, "all three indicators give 5 of 5 points")
	assert.Equal(t, AnomalyCritical, ev.Severity)
	assert.Contains(t, ev.Details, "aspect_change")
	assert.Contains(t, ev.Details, "height_reduction")
	assert.Equal(t, AnomalySurge, update.NewEvents[1].Type)
}

func TestAnomalyDetector_FallNeedsHistory(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	d := NewAnomalyDetector(clock)

	// A flattened box with no prior history is not a fall
	update := d.Update([]Person{{ID: "t1", X: 0.5, Y: 0.5, Width: 0.16, Height: 0.05}})
	assert.Empty(t, update.NewEvents)
}

func TestAnomalyDetector_StationaryFiresOnceThenDedups(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	d := NewAnomalyDetector(clock)

	stationary := 0
	x := 0.1
	for i := 0; i < 40; i++ {
		persons := []Person{
			upright("still", 0.3, 0.3),
			upright("mover", x, 0.7),
		}
		update := d.Update(persons)
		for _, ev := range update.NewEvents {
			if ev.Type == AnomalyStationary {
				stationary++
				assert.Equal(t, "still", ev.TrackID)
				assert.Equal(t, AnomalyLow, ev.Severity)
			}
		}
		clock.Advance(tick)
		x += 0.02
	}
	assert.Equal(t, 1, stationary, "repeat window suppresses re-firing")

	// Past the repeat window the same still track fires again
	clock.Advance(31 * time.Second)
	update := d.Update([]Person{upright("still", 0.3, 0.3), upright("mover", 0.1, 0.7)})
	found := false
	for _, ev := range update.NewEvents {
		if ev.Type == AnomalyStationary {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAnomalyDetector_SuddenStop(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	d := NewAnomalyDetector(clock)

	x1, x2 := 0.1, 0.1
	for i := 0; i < 12; i++ {
		d.Update([]Person{
			upright("stopper", x1, 0.3),
			upright("walker", x2, 0.7),
		})
		clock.Advance(tick)
		x1 += 0.02
		x2 += 0.02
	}

	// The stopper freezes while the walker keeps pace
	update := d.Update([]Person{
		upright("stopper", x1-0.02, 0.3),
		upright("walker", x2, 0.7),
	})

	var stops []AnomalyEvent
	for _, ev := range update.NewEvents {
		if ev.Type == AnomalySuddenStop {
			stops = append(stops, ev)
		}
	}
	require.Len(t, stops, 1)
	assert.Equal(t, "stopper", stops[0].TrackID)
	assert.Equal(t, AnomalyMedium, stops[0].Severity)
	assert.InDelta(t, 0.7, stops[0].Confidence, 1e-9)
}

func TestAnomalyDetector_CrowdSurge(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	d := NewAnomalyDetector(clock)

	walk := func(step float64, xs []float64) AnomalyUpdate {
		persons := make([]Person, len(xs))
		for i := range xs {
			xs[i] += step
			persons[i] = upright(string(rune('a'+i)), xs[i], 0.5)
		}
		update := d.Update(persons)
		clock.Advance(tick)
		return update
	}

	xs := []float64{0.1, 0.2, 0.3}
	for i := 0; i < 20; i++ {
		update := walk(0.004, xs)
		assert.Empty(t, update.NewEvents)
	}

	// Everyone lurches forward an order of magnitude faster
	update := walk(0.04, xs)
	require.Len(t, update.NewEvents, 1)
	ev := update.NewEvents[0]
	assert.Equal(t, AnomalySurge, ev.Type)
	assert.Equal(t, AnomalyHigh, ev.Severity)
	assert.Empty(t, ev.TrackID, "surge is crowd-level, not per-track")
	assert.Contains(t, ev.Details, "surge_ratio")

	// Within the repeat window a second surge stays quiet
	update = walk(0.04, xs)
	for _, e := range update.NewEvents {
		assert.NotEqual(t, AnomalySurge, e.Type)
	}
}

func TestAnomalyDetector_ActiveAnomaliesAndSummary(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	d := NewAnomalyDetector(clock)

	for i := 0; i < 10; i++ {
		d.Update([]Person{upright("t1", 0.5, 0.5)})
		clock.Advance(tick)
	}
	d.Update([]Person{{ID: "t1", X: 0.5, Y: 0.65, Width: 0.16, Height: 0.05}})

	// The collapse produces a fall plus the surge its velocity spike triggers.
	active := d.ActiveAnomalies(time.Minute)
	require.Len(t, active, 2)
	types := map[AnomalyType]bool{active[0].Type: true, active[1].Type: true}
	assert.True(t, types[AnomalyFall])
	assert.True(t, types[AnomalySurge])

	clock.Advance(2 * time.Minute)
	assert.Empty(t, d.ActiveAnomalies(time.Minute), "events age out of the active window")

	summary := d.Summary()
	assert.Equal(t, 2, summary.TotalEvents)
	assert.Equal(t, 1, summary.ByType[AnomalyFall])
	assert.Equal(t, 1, summary.ByType[AnomalySurge])
	assert.Equal(t, 1, summary.BySeverity[AnomalyCritical])
	assert.Equal(t, 1, summary.BySeverity[AnomalyHigh])
	require.Len(t, summary.RecentCritical, 2)
}

func TestAnomalyDetector_StaleTracksPruned(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	d := NewAnomalyDetector(clock)

	d.Update([]Person{upright("gone", 0.5, 0.5)})
	clock.Advance(tick)
	update := d.Update([]Person{upright("gone", 0.5, 0.5), upright("here", 0.2, 0.2)})
	assert.Equal(t, 2, update.ActiveTracks)

	clock.Advance(15 * time.Second)
	update = d.Update([]Person{upright("here", 0.2, 0.2)})
	assert.Equal(t, 1, update.ActiveTracks, "vanished track history is dropped")
}

func TestAnomalyDetector_Reset(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	d := NewAnomalyDetector(clock)

	for i := 0; i < 10; i++ {
		d.Update([]Person{upright("t1", 0.5, 0.5)})
		clock.Advance(tick)
	}
	d.Update([]Person{{ID: "t1", X: 0.5, Y: 0.65, Width: 0.16, Height: 0.05}})
	require.Equal(t, 2, d.Summary().TotalEvents, "fall plus the surge its jump triggers")

	d.Reset()
	summary := d.Summary()
	assert.Zero(t, summary.TotalEvents)
	assert.Zero(t, summary.CrowdVelocity)
	assert.Empty(t, d.ActiveAnomalies(time.Hour))
}
