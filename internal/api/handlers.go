package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/drishti-labs/crowdwatch/internal/alerts"
	"github.com/drishti-labs/crowdwatch/internal/httputil"
	"github.com/drishti-labs/crowdwatch/internal/units"
	"github.com/drishti-labs/crowdwatch/internal/version"
)

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]any{
		"service":        "crowdwatch",
		"version":        version.Version,
		"uptime_seconds": time.Since(s.started).Seconds(),
		"active_videos":  s.sessions.Active(),
	})
}

func (s *Server) showGates(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	limit := intQuery(r, "limit", 50)
	httputil.WriteJSONOK(w, map[string]any{
		"gates":            sess.Gates.Gates(),
		"stats":            sess.Gates.AllStats(),
		"recent_crossings": sess.Gates.RecentCrossings(limit),
	})
}

func (s *Server) showGateFlowRate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	gateID := r.URL.Query().Get("gate")
	if gateID == "" {
		httputil.BadRequest(w, "missing gate parameter")
		return
	}
	window := durationQuery(r, "window", time.Minute)
	rate, err := sess.Gates.FlowRate(gateID, window)
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, rate)
}

func (s *Server) resetGates(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	if gateID := r.URL.Query().Get("gate"); gateID != "" {
		if err := sess.Gates.Reset(gateID); err != nil {
			httputil.NotFound(w, err.Error())
			return
		}
	} else {
		sess.Gates.ResetAll()
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "reset"})
}

func (s *Server) showFlow(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"dominant_flow": sess.Flow.DominantFlow(),
		"counter_flow":  sess.Flow.Summary(),
	})
}

func (s *Server) showHeatmap(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, sess.Flow.HeatmapSnapshot())
}

func (s *Server) showCounterFlow(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, sess.Flow.Summary())
}

func (s *Server) showDwell(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, sess.Dwell.Summary())
}

func (s *Server) showDwellAnomalies(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, sess.Dwell.AnomalousDwells())
}

func (s *Server) showZoneHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	window := durationQuery(r, "window", 10*time.Minute)
	samples, err := sess.Dwell.OccupancyHistory(r.PathValue("zone"), window)
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, samples)
}

func (s *Server) resetDwell(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	if zoneID := r.URL.Query().Get("zone"); zoneID != "" {
		if err := sess.Dwell.Reset(zoneID); err != nil {
			httputil.NotFound(w, err.Error())
			return
		}
	} else {
		sess.Dwell.ResetAll()
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "reset"})
}

func (s *Server) showAnomalies(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	maxAge := durationQuery(r, "max_age", 5*time.Minute)
	httputil.WriteJSONOK(w, sess.Anomaly.ActiveAnomalies(maxAge))
}

func (s *Server) showAnomalySummary(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, sess.Anomaly.Summary())
}

// listAlerts returns active alerts for one video, or across every running
// session when no video is given.
func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	if video := r.URL.Query().Get("video"); video != "" {
		sess, ok := s.sessions.Get(video)
		if !ok {
			httputil.NotFound(w, "no active session for video "+video)
			return
		}
		httputil.WriteJSONOK(w, map[string]any{
			"alerts": sess.Alerts.ActiveAlerts(),
			"counts": sess.Alerts.CountByLevel(),
		})
		return
	}

	all := []alerts.Alert{}
	counts := make(map[alerts.Level]int)
	for _, video := range s.sessions.Active() {
		if sess, ok := s.sessions.Get(video); ok {
			all = append(all, sess.Alerts.ActiveAlerts()...)
			for level, n := range sess.Alerts.CountByLevel() {
				counts[level] += n
			}
		}
	}
	httputil.WriteJSONOK(w, map[string]any{"alerts": all, "counts": counts})
}

func (s *Server) listAlertHistory(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 100)
	if video := r.URL.Query().Get("video"); video != "" {
		sess, ok := s.sessions.Get(video)
		if !ok {
			httputil.NotFound(w, "no active session for video "+video)
			return
		}
		httputil.WriteJSONOK(w, sess.Alerts.History(limit))
		return
	}
	all := []alerts.Alert{}
	for _, video := range s.sessions.Active() {
		if sess, ok := s.sessions.Get(video); ok {
			all = append(all, sess.Alerts.History(limit)...)
		}
	}
	httputil.WriteJSONOK(w, all)
}

// withAlert applies fn per session until one accepts the alert id.
func (s *Server) withAlert(w http.ResponseWriter, id string, fn func(*alerts.Manager, string) error) {
	for _, video := range s.sessions.Active() {
		sess, ok := s.sessions.Get(video)
		if !ok {
			continue
		}
		if err := fn(sess.Alerts, id); err == nil {
			httputil.WriteJSONOK(w, map[string]string{"status": "ok", "id": id})
			return
		}
	}
	httputil.NotFound(w, "no active alert with id "+id)
}

func (s *Server) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	s.withAlert(w, r.PathValue("id"), (*alerts.Manager).Acknowledge)
}

func (s *Server) resolveAlert(w http.ResponseWriter, r *http.Request) {
	s.withAlert(w, r.PathValue("id"), (*alerts.Manager).Resolve)
}

func (s *Server) showTrends(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	limit := intQuery(r, "limit", 0)
	trends := sess.Metrics.Trends(limit)

	targetUnits := s.resolveUnits(r)
	for i, v := range trends.Velocities {
		trends.Velocities[i] = units.ConvertSpeed(v, targetUnits)
	}
	latest := sess.Metrics.Latest()
	latest.Velocity = units.ConvertSpeed(latest.Velocity, targetUnits)
	latest.SmoothedVelocity = units.ConvertSpeed(latest.SmoothedVelocity, targetUnits)

	httputil.WriteJSONOK(w, map[string]any{
		"units":  targetUnits,
		"latest": latest,
		"trends": trends,
	})
}

func (s *Server) showQueue(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	times, lengths, waits := sess.Queue.History(intQuery(r, "limit", 0))
	httputil.WriteJSONOK(w, map[string]any{
		"latest": sess.Queue.Latest(),
		"history": map[string]any{
			"timestamps": times,
			"lengths":    lengths,
			"waits":      waits,
		},
	})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.tuning)
}

// configUpdate is the accepted POST /api/config/{video} body. All fields are
// optional; present fields are validated then applied to the live session.
type configUpdate struct {
	ZoneAreaM2    *float64           `json:"zone_area_m2"`
	ServiceRate   *float64           `json:"service_rate"`
	Gate          string             `json:"gate"`
	CountingLineY *float64           `json:"counting_line_y"`
	Thresholds    map[string]float64 `json:"thresholds"`
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	var update configUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		httputil.BadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if update.ZoneAreaM2 != nil {
		if err := sess.Metrics.SetZoneArea(*update.ZoneAreaM2); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}
	if update.ServiceRate != nil {
		if err := sess.Queue.SetServiceRate(*update.ServiceRate); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}
	if update.CountingLineY != nil {
		gate := update.Gate
		if gate == "" {
			gate = "main_entrance"
		}
		if err := sess.Gates.MoveGateLine(gate, *update.CountingLineY); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}
	for name, value := range update.Thresholds {
		if err := sess.Alerts.SetThreshold(name, value); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "updated"})
}

func intQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func durationQuery(r *http.Request, name string, fallback time.Duration) time.Duration {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
