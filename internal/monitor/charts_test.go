package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drishti-labs/crowdwatch/internal/crowd"
	"github.com/drishti-labs/crowdwatch/internal/session"
	"github.com/drishti-labs/crowdwatch/internal/timeutil"
)

type chanSource struct {
	frames chan []crowd.Person
}

func (c *chanSource) Next(ctx context.Context) ([]crowd.Person, float64, error) {
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case persons := <-c.frames:
		return persons, 0.9, nil
	}
}

func newChartEnv(t *testing.T) (*http.ServeMux, func([]crowd.Person)) {
	t.Helper()
	src := &chanSource{frames: make(chan []crowd.Person, 16)}
	manager := session.NewManager(timeutil.RealClock{}, func(string) (session.Source, error) {
		return src, nil
	}, time.Millisecond, nil)
	t.Cleanup(manager.StopAll)

	_, subID, results, err := manager.Subscribe("cam1")
	require.NoError(t, err)
	t.Cleanup(func() { manager.Unsubscribe("cam1", subID) })

	mux := http.NewServeMux()
	NewWebServer(manager).RegisterRoutes(mux)

	tick := func(persons []crowd.Person) {
		t.Helper()
		src.frames <- persons
		select {
		case <-results:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for tick")
		}
	}
	return mux, tick
}

func get(mux *http.ServeMux, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", target, nil))
	return rec
}

func TestTrendsChart(t *testing.T) {
	mux, tick := newChartEnv(t)

	rec := get(mux, "/monitor/trends/ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(mux, "/monitor/trends/cam1")
	assert.Equal(t, http.StatusNotFound, rec.Code, "no samples recorded yet")

	tick([]crowd.Person{{ID: "a", X: 0.5, Y: 0.5}})

	rec = get(mux, "/monitor/trends/cam1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, "Crowd Count")
	assert.Contains(t, body, "Crowd Velocity")
	assert.Contains(t, body, "Crowd Density")
}

func TestFlowHeatmapChart(t *testing.T) {
	mux, tick := newChartEnv(t)

	rec := get(mux, "/monitor/heatmap/ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A single observation leaves the direction grid empty.
	tick([]crowd.Person{{ID: "a", X: 0.2, Y: 0.5}})
	rec = get(mux, "/monitor/heatmap/cam1")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Movement across ticks populates cells along the track.
	for i := 1; i <= 5; i++ {
		tick([]crowd.Person{{ID: "a", X: 0.2 + float64(i)*0.02, Y: 0.5}})
	}
	rec = get(mux, "/monitor/heatmap/cam1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Crowd Flow Heatmap")
}
