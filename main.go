// Command crowdwatch runs the crowd analytics service: it consumes tracked
// person detections per video stream, runs the gate / flow / dwell / anomaly
// analyzers, and serves results over HTTP and SSE.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/drishti-labs/crowdwatch/internal/config"
	"github.com/drishti-labs/crowdwatch/internal/session"
	"github.com/drishti-labs/crowdwatch/internal/timeutil"
	"github.com/drishti-labs/crowdwatch/internal/units"
)

var (
	listen     = flag.String("listen", "", "Listen address (overrides CROWDWATCH_ADDR)")
	dataDir    = flag.String("data-dir", "", "Directory holding <video>.jsonl detection files (overrides CROWDWATCH_DATA_DIR)")
	tuningPath = flag.String("config", "", "Path to tuning JSON (overrides CROWDWATCH_TUNING_PATH)")
	simulate   = flag.Bool("simulate", false, "Serve synthetic detections instead of replay files")
	speedUnits = flag.String("units", units.MPS, "Default speed units: mps, mph, kmph, kph")
	plotVideo  = flag.String("plot", "", "Offline mode: replay the named video and write flow-grid plots, then exit")
	plotOut    = flag.String("plot-out", "plots", "Output directory for -plot")
)

func main() {
	flag.Parse()

	srvCfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *listen != "" {
		srvCfg.Addr = *listen
	}
	if *dataDir != "" {
		srvCfg.DataDir = *dataDir
	}
	if *tuningPath != "" {
		srvCfg.TuningPath = *tuningPath
	}
	if *simulate {
		srvCfg.Simulate = true
	}

	tuning := config.EmptyTuningConfig()
	if srvCfg.TuningPath != "" {
		tuning, err = config.LoadTuningConfig(srvCfg.TuningPath)
		if err != nil {
			log.Fatalf("tuning config: %v", err)
		}
	}

	clock := timeutil.RealClock{}
	opener := session.FileOpener(srvCfg.DataDir)
	if srvCfg.Simulate {
		opener = func(videoID string) (session.Source, error) {
			return session.NewSyntheticSource(tuning.GetSimulatedPersons(), time.Now().UnixNano()), nil
		}
	}
	manager := session.NewManager(clock, opener, tuning.GetTickInterval(), tuning)

	if *plotVideo != "" {
		if err := runPlot(opener, tuning, *plotVideo, *plotOut); err != nil {
			log.Fatalf("plot: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runServer(ctx, srvCfg.Addr, manager, tuning, *speedUnits); err != nil {
		log.Fatalf("server: %v", err)
	}
	manager.StopAll()
	log.Print("crowdwatch stopped")
}
