package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/drishti-labs/crowdwatch/internal/crowd"
	"github.com/drishti-labs/crowdwatch/internal/monitoring"
	"github.com/drishti-labs/crowdwatch/internal/security"
)

// replayFrame is one line of a detection replay file. Perception runs
// upstream; this service only consumes its tracked-person output.
type replayFrame struct {
	Persons  []crowd.Person `json:"persons"`
	Velocity float64        `json:"average_velocity"`
}

// ReplaySource reads newline-delimited JSON detection frames from a reader.
// A line that fails to parse is logged and delivered as an empty tick so a
// corrupt record cannot kill the session.
type ReplaySource struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
}

// NewReplaySource wraps rc. The source owns rc and closes it at EOF.
func NewReplaySource(rc io.ReadCloser) *ReplaySource {
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &ReplaySource{rc: rc, scanner: sc}
}

// Next returns the next frame, or io.EOF when the input is exhausted.
func (r *ReplaySource) Next(ctx context.Context) ([]crowd.Person, float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		var frame replayFrame
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			monitoring.Logf("replay: skipping malformed frame: %v", err)
			return nil, 0, nil
		}
		return frame.Persons, frame.Velocity, nil
	}
	err := r.scanner.Err()
	r.rc.Close()
	if err != nil {
		return nil, 0, fmt.Errorf("read replay: %w", err)
	}
	return nil, 0, io.EOF
}

// FileOpener maps a video id to "<dir>/<id>.jsonl". The id must be a bare
// name and the resolved path must stay inside dir.
func FileOpener(dir string) SourceOpener {
	return func(videoID string) (Source, error) {
		if videoID == "" || strings.ContainsAny(videoID, `/\`) || strings.Contains(videoID, "..") {
			return nil, fmt.Errorf("invalid video id %q", videoID)
		}
		path := filepath.Join(dir, videoID+".jsonl")
		if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
			return nil, fmt.Errorf("video id %q resolves outside data dir: %w", videoID, err)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open detections for %q: %w", videoID, err)
		}
		return NewReplaySource(f), nil
	}
}

// SyntheticSource random-walks a small crowd through the frame. Used by the
// serve command's simulate mode so the full pipeline can be exercised
// without a detection feed.
type SyntheticSource struct {
	rng     *rand.Rand
	people  []crowd.Person
	stepStd float64
}

// NewSyntheticSource seeds count walkers at random positions.
func NewSyntheticSource(count int, seed int64) *SyntheticSource {
	rng := rand.New(rand.NewSource(seed))
	people := make([]crowd.Person, count)
	for i := range people {
		people[i] = crowd.Person{
			ID:         fmt.Sprintf("sim-%d", i),
			X:          rng.Float64(),
			Y:          rng.Float64(),
			Width:      0.05,
			Height:     0.12,
			Confidence: 0.9,
		}
	}
	return &SyntheticSource{rng: rng, people: people, stepStd: 0.01}
}

// Next advances every walker by one gaussian step, reflecting at the frame
// edges, and reports a plausible walking speed.
func (s *SyntheticSource) Next(ctx context.Context) ([]crowd.Person, float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	out := make([]crowd.Person, len(s.people))
	for i := range s.people {
		p := &s.people[i]
		p.X = reflect01(p.X + s.rng.NormFloat64()*s.stepStd)
		p.Y = reflect01(p.Y + s.rng.NormFloat64()*s.stepStd)
		out[i] = *p
	}
	velocity := 0.8 + s.rng.NormFloat64()*0.1
	if velocity < 0 {
		velocity = 0
	}
	return out, velocity, nil
}

func reflect01(v float64) float64 {
	switch {
	case v < 0:
		return -v
	case v > 1:
		return 2 - v
	default:
		return v
	}
}
