package crowd

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/drishti-labs/crowdwatch/internal/timeutil"
)

// Dwell tracker limits and anomaly multipliers.
const (
	// MaxCompletedDwells caps the completed-record log across all zones.
	MaxCompletedDwells = 1000
	// dwellSummaryWindow is how many recent completed records feed the
	// per-zone average/min/max.
	dwellSummaryWindow = 50
	// occupancySampleInterval spaces the samples of OccupancyHistory.
	occupancySampleInterval = 10 * time.Second

	dwellModerateMultiplier = 1.5
	dwellHighMultiplier     = 2.0
)

// DwellSeverity tiers an over-stay relative to the zone's expected dwell.
type DwellSeverity string

const (
	DwellModerate DwellSeverity = "moderate"
	DwellHigh     DwellSeverity = "high"
)

// DwellZone is a polygonal area with an expected dwell duration. Static for
// the life of a session unless explicitly reconfigured.
type DwellZone struct {
	ZoneID        string        `json:"zone_id"`
	Name          string        `json:"name"`
	Polygon       []Point       `json:"polygon"`
	ExpectedDwell time.Duration `json:"expected_dwell"`
}

// DwellRecord tracks one continuous stay of a track inside a zone. A record
// is Active until the track leaves the zone or disappears from the snapshot.
type DwellRecord struct {
	TrackID   string        `json:"track_id"`
	ZoneID    string        `json:"zone_id"`
	EntryTime time.Time     `json:"entry_time"`
	ExitTime  time.Time     `json:"exit_time,omitzero"`
	Dwell     time.Duration `json:"dwell"`
	Active    bool          `json:"active"`
}

// AnomalousDwell reports a stay exceeding the zone's expected dwell.
type AnomalousDwell struct {
	TrackID     string        `json:"track_id"`
	ZoneID      string        `json:"zone_id"`
	ZoneName    string        `json:"zone_name"`
	Dwell       time.Duration `json:"dwell"`
	Expected    time.Duration `json:"expected"`
	ExcessRatio float64       `json:"excess_ratio"`
	Severity    DwellSeverity `json:"severity"`
}

// ZoneStats summarizes one zone's occupancy and dwell distribution.
type ZoneStats struct {
	ZoneID         string           `json:"zone_id"`
	ZoneName       string           `json:"zone_name"`
	Occupancy      int              `json:"occupancy"`
	AverageDwell   time.Duration    `json:"average_dwell"`
	MinDwell       time.Duration    `json:"min_dwell"`
	MaxDwell       time.Duration    `json:"max_dwell"`
	ExpectedDwell  time.Duration    `json:"expected_dwell"`
	Anomalous      []AnomalousDwell `json:"anomalous_dwells"`
	AnomalousCount int              `json:"anomalous_count"`
	TotalCompleted int              `json:"total_completed"`
}

// DwellSummary is the cross-zone dwell snapshot.
type DwellSummary struct {
	Zones           map[string]ZoneStats `json:"zones"`
	ActiveTracks    int                  `json:"total_active_tracks"`
	CompletedDwells int                  `json:"total_completed_dwells"`
	Timestamp       time.Time            `json:"timestamp"`
}

// OccupancySample is one point of a windowed occupancy estimate.
type OccupancySample struct {
	Timestamp time.Time `json:"timestamp"`
	Occupancy int       `json:"occupancy"`
}

// DwellTracker measures how long tracks stay inside configured zones. Zone
// membership is decided by ray-cast point-in-polygon per person per tick.
type DwellTracker struct {
	mu    sync.Mutex
	clock timeutil.Clock

	zones     map[string]DwellZone
	active    map[string]map[string]*DwellRecord
	completed []DwellRecord
}

// DefaultZones returns the stock temple-courtyard zone layout: the darshan
// viewing area, the queue hall, and the entry strip.
func DefaultZones() []DwellZone {
	return []DwellZone{
		{
			ZoneID:        "darshan_zone",
			Name:          "Darshan Area",
			Polygon:       []Point{{0.3, 0.2}, {0.7, 0.2}, {0.7, 0.5}, {0.3, 0.5}},
			ExpectedDwell: 30 * time.Second,
		},
		{
			ZoneID:        "queue_area",
			Name:          "Queue Area",
			Polygon:       []Point{{0.1, 0.5}, {0.9, 0.5}, {0.9, 0.9}, {0.1, 0.9}},
			ExpectedDwell: 5 * time.Minute,
		},
		{
			ZoneID:        "entry_zone",
			Name:          "Entry Area",
			Polygon:       []Point{{0.0, 0.8}, {0.3, 0.8}, {0.3, 1.0}, {0.0, 1.0}},
			ExpectedDwell: 15 * time.Second,
		},
	}
}

// NewDwellTracker creates a dwell tracker with the given zones.
func NewDwellTracker(clock timeutil.Clock, zones ...DwellZone) (*DwellTracker, error) {
	t := &DwellTracker{
		clock:  clock,
		zones:  make(map[string]DwellZone),
		active: make(map[string]map[string]*DwellRecord),
	}
	for _, z := range zones {
		if err := t.AddZone(z); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// AddZone registers a zone. Polygons need at least three vertices.
func (t *DwellTracker) AddZone(z DwellZone) error {
	if z.ZoneID == "" {
		return fmt.Errorf("zone ID must not be empty")
	}
	if len(z.Polygon) < 3 {
		return fmt.Errorf("zone %q: polygon needs at least 3 points, got %d", z.ZoneID, len(z.Polygon))
	}
	if z.ExpectedDwell <= 0 {
		return fmt.Errorf("zone %q: expected dwell must be positive", z.ZoneID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.zones[z.ZoneID] = z
	if t.active[z.ZoneID] == nil {
		t.active[z.ZoneID] = make(map[string]*DwellRecord)
	}
	return nil
}

// RemoveZone deletes a zone and its active records.
func (t *DwellTracker) RemoveZone(zoneID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.zones[zoneID]; !ok {
		return fmt.Errorf("unknown zone %q", zoneID)
	}
	delete(t.zones, zoneID)
	delete(t.active, zoneID)
	return nil
}

// Update advances the tracker by one tick: opens records on zone entry and
// closes them on exit or track disappearance.
func (t *DwellTracker) Update(persons []Person) {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	present := make(map[string]bool, len(persons))
	for _, raw := range persons {
		p := raw.Normalized()
		if p.ID == "" {
			continue
		}
		present[p.ID] = true

		for zoneID, zone := range t.zones {
			inZone := pointInPolygon(p.Position(), zone.Polygon)
			_, hasRecord := t.active[zoneID][p.ID]

			switch {
			case inZone && !hasRecord:
				t.active[zoneID][p.ID] = &DwellRecord{
					TrackID:   p.ID,
					ZoneID:    zoneID,
					EntryTime: now,
					Active:    true,
				}
			case !inZone && hasRecord:
				t.closeRecordLocked(zoneID, p.ID, now)
			}
		}
	}

	// A track that vanished from the snapshot is exited, not left active.
	for zoneID, records := range t.active {
		for trackID := range records {
			if !present[trackID] {
				t.closeRecordLocked(zoneID, trackID, now)
			}
		}
	}

	if len(t.completed) > MaxCompletedDwells {
		t.completed = t.completed[len(t.completed)-MaxCompletedDwells:]
	}
}

func (t *DwellTracker) closeRecordLocked(zoneID, trackID string, now time.Time) {
	rec := t.active[zoneID][trackID]
	rec.ExitTime = now
	rec.Dwell = now.Sub(rec.EntryTime)
	rec.Active = false
	t.completed = append(t.completed, *rec)
	delete(t.active[zoneID], trackID)
}

// Summary reports per-zone occupancy and dwell statistics. Averages come
// from recent completed records, falling back to currently-active durations
// when a zone has no completed history yet.
func (t *DwellTracker) Summary() DwellSummary {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	summary := DwellSummary{
		Zones:           make(map[string]ZoneStats, len(t.zones)),
		CompletedDwells: len(t.completed),
		Timestamp:       now,
	}

	for zoneID, zone := range t.zones {
		records := t.active[zoneID]
		summary.ActiveTracks += len(records)

		var activeDurations []time.Duration
		var anomalous []AnomalousDwell
		for _, rec := range records {
			dwell := now.Sub(rec.EntryTime)
			activeDurations = append(activeDurations, dwell)
			if dwell > time.Duration(float64(zone.ExpectedDwell)*dwellHighMultiplier) {
				anomalous = append(anomalous, newAnomalousDwell(rec, zone, dwell, DwellHigh))
			} else if dwell > time.Duration(float64(zone.ExpectedDwell)*dwellModerateMultiplier) {
				anomalous = append(anomalous, newAnomalousDwell(rec, zone, dwell, DwellModerate))
			}
		}
		sort.Slice(anomalous, func(i, j int) bool {
			return anomalous[i].ExcessRatio > anomalous[j].ExcessRatio
		})

		var completedZone []time.Duration
		for _, rec := range t.completed {
			if rec.ZoneID == zoneID {
				completedZone = append(completedZone, rec.Dwell)
			}
		}
		totalCompleted := len(completedZone)
		if len(completedZone) > dwellSummaryWindow {
			completedZone = completedZone[len(completedZone)-dwellSummaryWindow:]
		}

		source := completedZone
		if len(source) == 0 {
			source = activeDurations
		}
		var avg, minD, maxD time.Duration
		if len(source) > 0 {
			minD, maxD = source[0], source[0]
			var total time.Duration
			for _, d := range source {
				total += d
				if d < minD {
					minD = d
				}
				if d > maxD {
					maxD = d
				}
			}
			avg = total / time.Duration(len(source))
		}

		stats := ZoneStats{
			ZoneID:         zoneID,
			ZoneName:       zone.Name,
			Occupancy:      len(records),
			AverageDwell:   avg,
			MinDwell:       minD,
			MaxDwell:       maxD,
			ExpectedDwell:  zone.ExpectedDwell,
			AnomalousCount: len(anomalous),
			TotalCompleted: totalCompleted,
		}
		if len(anomalous) > 5 {
			anomalous = anomalous[:5]
		}
		stats.Anomalous = anomalous
		summary.Zones[zoneID] = stats
	}
	return summary
}

func newAnomalousDwell(rec *DwellRecord, zone DwellZone, dwell time.Duration, sev DwellSeverity) AnomalousDwell {
	return AnomalousDwell{
		TrackID:     rec.TrackID,
		ZoneID:      zone.ZoneID,
		ZoneName:    zone.Name,
		Dwell:       dwell,
		Expected:    zone.ExpectedDwell,
		ExcessRatio: float64(dwell) / float64(zone.ExpectedDwell),
		Severity:    sev,
	}
}

// AnomalousDwells returns every current over-stay across all zones, sorted
// by excess ratio descending.
func (t *DwellTracker) AnomalousDwells() []AnomalousDwell {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	var anomalies []AnomalousDwell
	for zoneID, zone := range t.zones {
		for _, rec := range t.active[zoneID] {
			dwell := now.Sub(rec.EntryTime)
			if dwell <= time.Duration(float64(zone.ExpectedDwell)*dwellModerateMultiplier) {
				continue
			}
			sev := DwellModerate
			if dwell > time.Duration(float64(zone.ExpectedDwell)*dwellHighMultiplier) {
				sev = DwellHigh
			}
			anomalies = append(anomalies, newAnomalousDwell(rec, zone, dwell, sev))
		}
	}
	sort.Slice(anomalies, func(i, j int) bool {
		return anomalies[i].ExcessRatio > anomalies[j].ExcessRatio
	})
	return anomalies
}

// OccupancyHistory estimates a zone's occupancy over the trailing window by
// sampling at fixed intervals and counting records whose [entry, exit)
// interval covers each sample point.
func (t *DwellTracker) OccupancyHistory(zoneID string, window time.Duration) ([]OccupancySample, error) {
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %v", window)
	}
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.zones[zoneID]; !ok {
		return nil, fmt.Errorf("unknown zone %q", zoneID)
	}

	var samples []OccupancySample
	for at := now.Add(-window); !at.After(now); at = at.Add(occupancySampleInterval) {
		count := 0
		for _, rec := range t.completed {
			if rec.ZoneID == zoneID && !rec.EntryTime.After(at) && rec.ExitTime.After(at) {
				count++
			}
		}
		for _, rec := range t.active[zoneID] {
			if !rec.EntryTime.After(at) {
				count++
			}
		}
		samples = append(samples, OccupancySample{Timestamp: at, Occupancy: count})
	}
	return samples, nil
}

// Zones returns a copy of the configured zones.
func (t *DwellTracker) Zones() []DwellZone {
	t.mu.Lock()
	defer t.mu.Unlock()
	zones := make([]DwellZone, 0, len(t.zones))
	for _, z := range t.zones {
		zones = append(zones, z)
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].ZoneID < zones[j].ZoneID })
	return zones
}

// Reset clears one zone's active and completed state.
func (t *DwellTracker) Reset(zoneID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.zones[zoneID]; !ok {
		return fmt.Errorf("unknown zone %q", zoneID)
	}
	t.active[zoneID] = make(map[string]*DwellRecord)
	kept := t.completed[:0]
	for _, rec := range t.completed {
		if rec.ZoneID != zoneID {
			kept = append(kept, rec)
		}
	}
	t.completed = kept
	return nil
}

// ResetAll clears every zone's active and completed state.
func (t *DwellTracker) ResetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for zoneID := range t.zones {
		t.active[zoneID] = make(map[string]*DwellRecord)
	}
	t.completed = nil
}
