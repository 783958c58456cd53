package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/drishti-labs/crowdwatch/internal/config"
	"github.com/drishti-labs/crowdwatch/internal/monitoring"
	"github.com/drishti-labs/crowdwatch/internal/timeutil"
)

// SourceOpener builds the detection source for a video id. Called once per
// session on first subscribe.
type SourceOpener func(videoID string) (Source, error)

// Manager creates sessions on demand and tears them down when their last
// subscriber leaves.
type Manager struct {
	clock    timeutil.Clock
	open     SourceOpener
	interval time.Duration
	tuning   *config.TuningConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager. interval <= 0 uses DefaultTickInterval; a
// nil tuning uses the built-in defaults.
func NewManager(clock timeutil.Clock, open SourceOpener, interval time.Duration, tuning *config.TuningConfig) *Manager {
	return &Manager{
		clock:    clock,
		open:     open,
		interval: interval,
		tuning:   tuning,
		sessions: make(map[string]*Session),
	}
}

// Subscribe attaches to the session for videoID, creating and starting it if
// this is the first subscriber. The session's lifetime belongs to the
// manager, not to any one subscriber.
func (m *Manager) Subscribe(videoID string) (*Session, string, <-chan Result, error) {
	m.mu.Lock()
	sess, ok := m.sessions[videoID]
	if !ok {
		source, err := m.open(videoID)
		if err != nil {
			m.mu.Unlock()
			return nil, "", nil, fmt.Errorf("open source for %s: %w", videoID, err)
		}
		sess = New(videoID, source, m.clock, m.interval, m.tuning)
		m.sessions[videoID] = sess
		sess.Start(context.Background())
		monitoring.Logf("session %s: started", videoID)
	}
	m.mu.Unlock()

	id, ch := sess.Subscribe()
	return sess, id, ch, nil
}

// Unsubscribe detaches a subscriber. The session is stopped and removed when
// nobody is left.
func (m *Manager) Unsubscribe(videoID, subscriberID string) {
	m.mu.Lock()
	sess, ok := m.sessions[videoID]
	m.mu.Unlock()
	if !ok {
		return
	}

	sess.Unsubscribe(subscriberID)

	m.mu.Lock()
	if sess.SubscriberCount() == 0 {
		delete(m.sessions, videoID)
		m.mu.Unlock()
		sess.Stop()
		monitoring.Logf("session %s: stopped, no subscribers left", videoID)
		return
	}
	m.mu.Unlock()
}

// Get returns the running session for videoID, if any.
func (m *Manager) Get(videoID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[videoID]
	return sess, ok
}

// Active lists the video ids with running sessions.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// StopAll stops every session. Used at shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		sessions = append(sessions, sess)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Stop()
	}
}
