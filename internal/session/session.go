// Package session runs one analysis pipeline per video stream and fans the
// merged per-tick results out to subscribers. A session owns its analyzers;
// HTTP handlers reach them through the session to answer point queries while
// the tick loop keeps updating them.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drishti-labs/crowdwatch/internal/alerts"
	"github.com/drishti-labs/crowdwatch/internal/config"
	"github.com/drishti-labs/crowdwatch/internal/crowd"
	"github.com/drishti-labs/crowdwatch/internal/monitoring"
	"github.com/drishti-labs/crowdwatch/internal/timeutil"
)

// DefaultTickInterval paces the analysis loop. Detection upstream runs at a
// few frames per second, so 200ms keeps the pipeline ahead of it.
const DefaultTickInterval = 200 * time.Millisecond

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind is dropped from the session.
const subscriberBuffer = 16

// Source supplies one tick of detections. Next blocks until detections are
// available or ctx is done. The second return is the crowd's average
// walking speed in meters per second as estimated upstream. Next returns
// io.EOF when the stream ends.
type Source interface {
	Next(ctx context.Context) ([]crowd.Person, float64, error)
}

// Result is the merged output of one analysis tick.
type Result struct {
	VideoID     string              `json:"video_id"`
	Timestamp   time.Time           `json:"timestamp"`
	Tick        int64               `json:"tick"`
	PersonCount int                 `json:"person_count"`
	Crossings   []crowd.GateCrossing `json:"gate_crossings,omitempty"`
	Flow        crowd.FlowUpdate    `json:"flow"`
	Dwell       crowd.DwellSummary  `json:"dwell"`
	Anomalies   crowd.AnomalyUpdate `json:"anomalies"`
	Metrics     crowd.CrowdMetrics  `json:"metrics"`
	Queue       crowd.QueueEstimate `json:"queue"`
	Alerts      []alerts.Alert      `json:"alerts,omitempty"`
	Error       string              `json:"error,omitempty"`
	Final       bool                `json:"final,omitempty"`
}

// Session is one running analysis pipeline.
type Session struct {
	VideoID string

	Gates   *crowd.GateEngine
	Flow    *crowd.FlowAnalyzer
	Dwell   *crowd.DwellTracker
	Anomaly *crowd.AnomalyDetector
	Metrics *crowd.MetricsAggregator
	Queue   *crowd.QueueAnalyzer
	Alerts  *alerts.Manager

	clock    timeutil.Clock
	source   Source
	interval time.Duration

	mu          sync.Mutex
	subscribers map[string]chan Result
	tick        int64
	lastResult  Result
	stopped     bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a session with default gates and zones, seeded with the tuning
// values. A nil tuning uses the built-in defaults. The gate engine
// construction cannot fail with the built-in gate set.
func New(videoID string, source Source, clock timeutil.Clock, interval time.Duration, tuning *config.TuningConfig) *Session {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if tuning == nil {
		tuning = &config.TuningConfig{}
	}
	gates, err := crowd.NewGateEngine(clock, crowd.DefaultGates()...)
	if err != nil {
		panic("session: default gates rejected: " + err.Error())
	}
	dwell, err := crowd.NewDwellTracker(clock, crowd.DefaultZones()...)
	if err != nil {
		panic("session: default zones rejected: " + err.Error())
	}

	metrics := crowd.NewMetricsAggregator(clock)
	if err := metrics.SetZoneArea(tuning.GetZoneAreaM2()); err != nil {
		monitoring.Logf("session %s: zone area ignored: %v", videoID, err)
	}
	queue := crowd.NewQueueAnalyzer(clock)
	if err := queue.SetServiceRate(tuning.GetServiceRate()); err != nil {
		monitoring.Logf("session %s: service rate ignored: %v", videoID, err)
	}
	alertMgr := alerts.NewManager(clock)
	thresholds := alerts.Thresholds{
		DensityWarning:     tuning.GetDensityWarning(),
		DensityCritical:    tuning.GetDensityCritical(),
		VelocityWarning:    tuning.GetVelocityWarning(),
		VelocityCritical:   tuning.GetVelocityCritical(),
		QueueWaitWarning:   tuning.GetQueueWaitWarning(),
		QueueWaitCritical:  tuning.GetQueueWaitCritical(),
		CongestionDuration: tuning.GetCongestionDuration(),
		Cooldown:           tuning.GetAlertCooldown(),
	}
	if err := alertMgr.SetThresholds(thresholds); err != nil {
		monitoring.Logf("session %s: thresholds ignored: %v", videoID, err)
	}

	return &Session{
		VideoID:     videoID,
		Gates:       gates,
		Flow:        crowd.NewFlowAnalyzer(clock, tuning.GetCounterFlowAngle()),
		Dwell:       dwell,
		Anomaly:     crowd.NewAnomalyDetector(clock),
		Metrics:     metrics,
		Queue:       queue,
		Alerts:      alertMgr,
		clock:       clock,
		source:      source,
		interval:    interval,
		subscribers: make(map[string]chan Result),
		done:        make(chan struct{}),
	}
}

// Start launches the tick loop. It returns immediately.
func (s *Session) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	go s.run(ctx)
}

// Stop cancels the loop and waits for it to exit. Safe to call more than
// once.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-s.done
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.closeSubscribers()

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}

		persons, velocity, err := s.source.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				monitoring.Logf("session %s: source error: %v", s.VideoID, err)
			}
			s.broadcastFinal(err)
			return
		}
		s.step(persons, velocity)
	}
}

// step runs every analyzer over one tick of detections and broadcasts the
// merged result. A panic in one analyzer is logged and skips only that
// analyzer's contribution for the tick.
func (s *Session) step(persons []crowd.Person, velocity float64) {
	result := Result{
		VideoID:     s.VideoID,
		Timestamp:   s.clock.Now(),
		PersonCount: len(persons),
	}

	s.safely("gates", func() { result.Crossings = s.Gates.Update(persons) })
	s.safely("flow", func() { result.Flow = s.Flow.Update(persons) })
	s.safely("dwell", func() {
		s.Dwell.Update(persons)
		result.Dwell = s.Dwell.Summary()
	})
	s.safely("anomaly", func() { result.Anomalies = s.Anomaly.Update(persons) })
	s.safely("metrics", func() { result.Metrics = s.Metrics.Update(len(persons), velocity) })
	s.safely("queue", func() { result.Queue = s.Queue.Update(persons, velocity) })
	s.safely("alerts", func() {
		result.Alerts = s.Alerts.Check(s.VideoID, result.Metrics, result.Queue)
		for _, ev := range result.Anomalies.NewEvents {
			if a := s.Alerts.NotifyAnomaly(s.VideoID, ev); a != nil {
				result.Alerts = append(result.Alerts, *a)
			}
		}
	})

	s.mu.Lock()
	s.tick++
	result.Tick = s.tick
	s.lastResult = result
	s.mu.Unlock()

	s.broadcast(result)
}

func (s *Session) safely(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("session %s: %s analyzer panic: %v", s.VideoID, name, r)
		}
	}()
	fn()
}

// Subscribe registers a result channel. The returned id is passed to
// Unsubscribe.
func (s *Session) Subscribe() (string, <-chan Result) {
	id := uuid.NewString()
	ch := make(chan Result, subscriberBuffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids are
// ignored.
func (s *Session) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		delete(s.subscribers, id)
		close(ch)
	}
}

// SubscriberCount returns the number of attached subscribers.
func (s *Session) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// LastResult returns the most recent tick result.
func (s *Session) LastResult() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

// broadcast delivers without blocking. A subscriber whose buffer is full is
// removed from the set and its channel closed; the stream stays live for
// everyone else and a stuck consumer cannot pin the session open.
func (s *Session) broadcast(result Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subscribers {
		select {
		case ch <- result:
		default:
			delete(s.subscribers, id)
			close(ch)
			monitoring.Logf("session %s: subscriber %s stalled at tick %d, dropped", s.VideoID, id, result.Tick)
		}
	}
}

// broadcastFinal sends one terminal result, then the subscriber channels
// close as the loop unwinds.
func (s *Session) broadcastFinal(err error) {
	result := Result{
		VideoID:   s.VideoID,
		Timestamp: s.clock.Now(),
		Final:     true,
	}
	if err != nil && !errors.Is(err, io.EOF) {
		result.Error = err.Error()
	}
	s.mu.Lock()
	result.Tick = s.tick
	s.mu.Unlock()
	s.broadcast(result)
}

func (s *Session) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
}
