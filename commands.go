package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/drishti-labs/crowdwatch/internal/config"
	"github.com/drishti-labs/crowdwatch/internal/monitor"
	"github.com/drishti-labs/crowdwatch/internal/security"
	"github.com/drishti-labs/crowdwatch/internal/session"
	"github.com/drishti-labs/crowdwatch/internal/timeutil"
)

// runPlot replays one detection file through the full pipeline as fast as it
// will go, sampling the flow direction grid each tick, and writes PNG plots
// for offline calibration review.
func runPlot(opener session.SourceOpener, tuning *config.TuningConfig, videoID, outDir string) error {
	sess, err := fastReplaySession(videoID, opener, tuning)
	if err != nil {
		return err
	}
	defer sess.Stop()

	subID, results := sess.Subscribe()
	defer sess.Unsubscribe(subID)

	plotter := monitor.NewFlowPlotter(videoID)
	runDir := filepath.Join(outDir, security.SanitizeFilename(videoID), time.Now().Format("20060102_150405"))
	if err := plotter.Start(runDir); err != nil {
		return err
	}

	ticks := 0
	for result := range results {
		if result.Final {
			break
		}
		plotter.Sample(sess.Flow.HeatmapSnapshot())
		ticks++
	}
	plotter.Stop()

	count, err := plotter.GeneratePlots()
	if err != nil {
		return fmt.Errorf("generate plots: %w", err)
	}
	log.Printf("replayed %d ticks, wrote %d plot sets to %s", ticks, count, runDir)
	return nil
}

// fastReplaySession builds a session that ticks every millisecond, for
// offline tools that should not wait out the live pacing interval.
func fastReplaySession(videoID string, opener session.SourceOpener, tuning *config.TuningConfig) (*session.Session, error) {
	src, err := opener(videoID)
	if err != nil {
		return nil, err
	}
	sess := session.New(videoID, src, timeutil.RealClock{}, time.Millisecond, tuning)
	sess.Start(context.Background())
	return sess, nil
}
