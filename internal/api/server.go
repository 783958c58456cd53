// Package api exposes the analysis sessions over HTTP: point queries per
// analyzer, runtime config updates, alert workflow, and an SSE stream of
// per-tick results.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/drishti-labs/crowdwatch/internal/config"
	"github.com/drishti-labs/crowdwatch/internal/httputil"
	"github.com/drishti-labs/crowdwatch/internal/monitoring"
	"github.com/drishti-labs/crowdwatch/internal/session"
	"github.com/drishti-labs/crowdwatch/internal/units"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	sessions *session.Manager
	tuning   *config.TuningConfig
	units    string
	started  time.Time
}

// NewServer wires the handlers to a session manager. defaultUnits is the
// speed unit used when a request carries no ?units= parameter.
func NewServer(m *session.Manager, tuning *config.TuningConfig, defaultUnits string) *Server {
	if !units.IsValid(defaultUnits) {
		defaultUnits = units.MPS
	}
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}
	return &Server{
		sessions: m,
		tuning:   tuning,
		units:    defaultUnits,
		started:  time.Now(),
	}
}

// resolveUnits picks the speed unit for a request.
func (s *Server) resolveUnits(r *http.Request) string {
	if u := r.URL.Query().Get("units"); u != "" && units.IsValid(u) {
		return u
	}
	return s.units
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routing table.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.showStatus)

	mux.HandleFunc("GET /api/gates/{video}", s.showGates)
	mux.HandleFunc("GET /api/gates/{video}/flow-rate", s.showGateFlowRate)
	mux.HandleFunc("POST /api/gates/{video}/reset", s.resetGates)

	mux.HandleFunc("GET /api/flow/{video}", s.showFlow)
	mux.HandleFunc("GET /api/flow/{video}/heatmap", s.showHeatmap)
	mux.HandleFunc("GET /api/flow/{video}/counter-flow", s.showCounterFlow)

	mux.HandleFunc("GET /api/dwell/{video}", s.showDwell)
	mux.HandleFunc("GET /api/dwell/{video}/anomalies", s.showDwellAnomalies)
	mux.HandleFunc("GET /api/dwell/{video}/history/{zone}", s.showZoneHistory)
	mux.HandleFunc("POST /api/dwell/{video}/reset", s.resetDwell)

	mux.HandleFunc("GET /api/anomalies/{video}", s.showAnomalies)
	mux.HandleFunc("GET /api/anomalies/{video}/summary", s.showAnomalySummary)

	mux.HandleFunc("GET /api/alerts", s.listAlerts)
	mux.HandleFunc("GET /api/alerts/history", s.listAlertHistory)
	mux.HandleFunc("POST /api/alerts/{id}/acknowledge", s.acknowledgeAlert)
	mux.HandleFunc("POST /api/alerts/{id}/resolve", s.resolveAlert)

	mux.HandleFunc("GET /api/trends/{video}", s.showTrends)
	mux.HandleFunc("GET /api/queue/{video}", s.showQueue)

	mux.HandleFunc("GET /api/config", s.showConfig)
	mux.HandleFunc("POST /api/config/{video}", s.updateConfig)

	mux.HandleFunc("GET /api/stream/{video}", s.streamResults)

	return mux
}

// sessionFor resolves the {video} path value to a running session, writing
// a 404 when there is none.
func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	video := r.PathValue("video")
	sess, ok := s.sessions.Get(video)
	if !ok {
		httputil.NotFound(w, "no active session for video "+video)
		return nil, false
	}
	return sess, true
}
