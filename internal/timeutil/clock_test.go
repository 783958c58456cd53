package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClockNowAndSet(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	assert.Equal(t, start, clock.Now())

	later := start.Add(time.Hour)
	clock.Set(later)
	assert.Equal(t, later, clock.Now())
	assert.Equal(t, time.Hour, clock.Since(start))
}

func TestMockClockAdvanceFiresAfter(t *testing.T) {
	clock := NewMockClock(time.Unix(1000, 0))

	ch := clock.After(10 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired before the deadline")
	default:
	}

	clock.Advance(5 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired halfway to the deadline")
	default:
	}

	clock.Advance(5 * time.Second)
	select {
	case at := <-ch:
		assert.Equal(t, time.Unix(1010, 0), at)
	default:
		t.Fatal("did not fire at the deadline")
	}

	// A waiter fires once
	clock.Advance(time.Minute)
	select {
	case <-ch:
		t.Fatal("waiter fired twice")
	default:
	}
}

func TestMockClockTicker(t *testing.T) {
	clock := NewMockClock(time.Unix(1000, 0))
	ticker := clock.NewTicker(time.Second)
	defer ticker.Stop()

	select {
	case <-ticker.C():
		t.Fatal("ticked before the interval elapsed")
	default:
	}

	clock.Advance(time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatal("no tick after one interval")
	}

	clock.Advance(time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatal("no tick after the next interval")
	}
}

func TestMockTickerStop(t *testing.T) {
	clock := NewMockClock(time.Unix(1000, 0))
	ticker := clock.NewTicker(time.Second)
	ticker.Stop()

	clock.Advance(5 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker still ticking")
	default:
	}
}

func TestMockTickerTrigger(t *testing.T) {
	clock := NewMockClock(time.Unix(1000, 0))
	ticker := clock.NewTicker(time.Hour)
	defer ticker.Stop()

	mock, ok := ticker.(*MockTicker)
	require.True(t, ok)
	at := time.Unix(2000, 0)
	mock.Trigger(at)

	select {
	case got := <-ticker.C():
		assert.Equal(t, at, got)
	default:
		t.Fatal("manual trigger did not deliver")
	}
}

func TestRealClock(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	assert.False(t, now.Before(before))
	assert.GreaterOrEqual(t, clock.Since(before), time.Duration(0))

	ticker := clock.NewTicker(time.Millisecond)
	defer ticker.Stop()
	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker did not tick")
	}
}
