package crowd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drishti-labs/crowdwatch/internal/timeutil"
)

// queueCrowd places n people evenly down the default queue zone.
func queueCrowd(n int) []Person {
	persons := make([]Person, n)
	for i := range persons {
		y := 0.35 + 0.6*float64(i)/float64(n)
		persons[i] = Person{ID: string(rune('a' + i%26)), X: 0.5, Y: y}
	}
	return persons
}

func TestQueueAnalyzer_WaitEstimate(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	q := NewQueueAnalyzer(clock)

	// 20 people, 2/min service rate, walking at the 0.8 m/s reference speed
	est := q.Update(queueCrowd(20), 0.8)
	assert.Equal(t, 20, est.QueueLength)
	assert.InDelta(t, 10.0, est.EstimatedWait, 1e-9)
	assert.Equal(t, QueueShort, est.Status)

	// A stalled queue doubles the estimate: velocity clamps at the 0.3 floor
	est = q.Update(queueCrowd(20), 0.0)
	assert.InDelta(t, 10.0/(0.3/0.8), est.EstimatedWait, 1e-9)
}

func TestQueueAnalyzer_StatusTiers(t *testing.T) {
	tests := []struct {
		minutes float64
		want    QueueStatus
	}{
		{5, QueueShort},
		{15, QueueModerate},
		{29, QueueModerate},
		{30, QueueLong},
		{60, QueueVeryLong},
		{90, QueueVeryLong},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyWait(tt.minutes), "wait %v min", tt.minutes)
	}
}

func TestQueueAnalyzer_OutsideZoneExcluded(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	q := NewQueueAnalyzer(clock)

	persons := []Person{
		{ID: "in", X: 0.5, Y: 0.6},
		{ID: "out", X: 0.5, Y: 0.1},
	}
	est := q.Update(persons, 0.8)
	assert.Equal(t, 1, est.QueueLength)
}

func TestQueueAnalyzer_Sections(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	q := NewQueueAnalyzer(clock)

	// Two people near the zone front, one at the back. The default zone spans
	// y in [0.3, 1.0], so each of the four bands is 0.175 tall.
	persons := []Person{
		{ID: "f1", X: 0.2, Y: 0.35},
		{ID: "f2", X: 0.8, Y: 0.4},
		{ID: "b1", X: 0.5, Y: 0.95},
	}
	est := q.Update(persons, 0.8)

	require.Len(t, est.Sections, 4)
	assert.Equal(t, 2, est.Sections[0].Count)
	assert.Equal(t, 1, est.Sections[3].Count)
	assert.InDelta(t, 2.0/3.0, est.Sections[0].Share, 1e-9)
	assert.InDelta(t, 1.0/3.0, est.Sections[3].Share, 1e-9)
}

func TestQueueAnalyzer_Trend(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	q := NewQueueAnalyzer(clock)

	var est QueueEstimate
	for i := 0; i < 12; i++ {
		est = q.Update(queueCrowd(10), 0.8)
		clock.Advance(time.Second)
	}
	assert.Equal(t, TrendStable, est.Trend)

	est = q.Update(queueCrowd(20), 0.8)
	assert.Equal(t, TrendIncreasing, est.Trend)

	clock.Advance(time.Second)
	est = q.Update(queueCrowd(2), 0.8)
	assert.Equal(t, TrendDecreasing, est.Trend)
}

func TestQueueAnalyzer_Configuration(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	q := NewQueueAnalyzer(clock)

	assert.Error(t, q.SetServiceRate(0.05))
	require.NoError(t, q.SetServiceRate(4.0))
	est := q.Update(queueCrowd(20), 0.8)
	assert.InDelta(t, 5.0, est.EstimatedWait, 1e-9)

	assert.Error(t, q.SetZone([]Point{{0, 0}, {1, 1}}))
	require.NoError(t, q.SetZone([]Point{{0, 0}, {1, 0}, {1, 0.2}, {0, 0.2}}))
	est = q.Update(queueCrowd(20), 0.8)
	assert.Zero(t, est.QueueLength, "everyone sits below the new zone")
}

func TestQueueAnalyzer_HistoryAndReset(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	q := NewQueueAnalyzer(clock)

	for i := 0; i < 5; i++ {
		q.Update(queueCrowd(i+1), 0.8)
		clock.Advance(time.Second)
	}

	times, lengths, waits := q.History(3)
	require.Len(t, times, 3)
	require.Len(t, lengths, 3)
	require.Len(t, waits, 3)
	assert.Equal(t, 5, lengths[2])

	q.Reset()
	times, _, _ = q.History(0)
	assert.Empty(t, times)
	assert.Zero(t, q.Latest().QueueLength)

	// Zone and rate survive a reset
	est := q.Update(queueCrowd(4), 0.8)
	assert.Equal(t, 4, est.QueueLength)
	assert.InDelta(t, DefaultServiceRate, est.ServiceRate, 1e-9)
}
