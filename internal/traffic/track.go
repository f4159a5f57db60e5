package traffic

import (
	"sync"
	"time"
)

// PositionSample is one (position, timestamp) pair in a track's bounded
// history. Positions are bbox anchor points in pixel space.
type PositionSample struct {
	Pos Point     `json:"pos"`
	At  time.Time `json:"at"`
}

// TrackState is the per-track mutable state owned exclusively by the
// Manager. No other component mutates it; readers get deep copies.
type TrackState struct {
	TrackID   int64         `json:"track_id"`
	Class     string        `json:"class"`
	LaneID    LaneID        `json:"lane_id"`
	Speed     Speed         `json:"speed"`
	Emergency bool          `json:"emergency"`
	Phase     IncidentPhase `json:"phase"`
	FirstSeen time.Time     `json:"first_seen"`
	LastSeen  time.Time     `json:"last_seen"`

	// History is the bounded position trail, oldest first.
	History []PositionSample `json:"history,omitempty"`

	// Dwell is the continuous stationary duration of the current stop,
	// zero while moving.
	Dwell time.Duration `json:"dwell"`

	// stillSince marks when the current stationary streak began.
	stillSince time.Time

	// openIncident is non-nil while the track is in PhaseStopped.
	openIncident *Incident

	// violationBucket is the last reported 10 km/h violation bucket, used
	// to re-log violators only when their bucket changes.
	violationBucket int
}

// OpenIncident returns a copy of the open incident, if any.
func (ts *TrackState) OpenIncident() (Incident, bool) {
	if ts.openIncident == nil {
		return Incident{}, false
	}
	return *ts.openIncident, true
}

// clone returns a deep copy safe to read without the manager lock.
func (ts *TrackState) clone() *TrackState {
	copied := *ts
	if len(ts.History) > 0 {
		copied.History = make([]PositionSample, len(ts.History))
		copy(copied.History, ts.History)
	}
	if ts.openIncident != nil {
		inc := *ts.openIncident
		copied.openIncident = &inc
	}
	return &copied
}

// ManagerConfig holds the track lifecycle and estimation tunables.
type ManagerConfig struct {
	// MaxHistoryLength bounds the per-track position trail.
	MaxHistoryLength int

	// EvictTimeout removes tracks unseen for this long. This is the
	// explicit reap pass that keeps the track arena bounded as vehicles
	// leave the frame.
	EvictTimeout time.Duration

	// SpeedLimitKmh flags violators to the logging sink.
	SpeedLimitKmh float64

	// EmergencyClasses are the class labels eligible for emergency
	// treatment (typically bus/truck).
	EmergencyClasses []string

	// EmergencySpeedKmh is the minimum speed for an eligible class to be
	// flagged emergency: a large vehicle moving this fast is treated as a
	// responding emergency vehicle.
	EmergencySpeedKmh float64

	Speed    SpeedEstimatorConfig
	Incident IncidentConfig
}

// Manager owns all TrackStates, keyed by track id. It is the single
// authoritative writer: ingestion updates tracks, the tick evicts stale
// ones, and everything else reads snapshots.
type Manager struct {
	mu     sync.RWMutex
	tracks map[int64]*TrackState
	cfg    ManagerConfig
	est    *SpeedEstimator

	// Session counters.
	uniqueTracks   int64
	peakConcurrent int
}

// NewManager creates an empty track manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		tracks: make(map[int64]*TrackState),
		cfg:    cfg,
		est:    NewSpeedEstimator(cfg.Speed),
	}
}

// Update creates or mutates the TrackState for the observation's track id:
// appends to the position history, re-estimates speed, refreshes the
// emergency flag, and advances the incident state machine. The returned
// events (violations, incident transitions) belong to the sinks; the
// returned enteredLane flag tells the aggregator a lane gained a distinct
// entry.
//
// A timestamp earlier than the track's last-seen is a clock irregularity
// (frame reorder): the observation is dropped without touching state.
func (m *Manager) Update(obs Observation, laneID LaneID, pixelsPerMeter float64) (events []Event, enteredLane bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.tracks[obs.TrackID]
	if !ok {
		ts = &TrackState{
			TrackID:   obs.TrackID,
			Class:     obs.Class,
			LaneID:    laneID,
			Phase:     PhaseMoving,
			FirstSeen: obs.CapturedAt,
		}
		m.tracks[obs.TrackID] = ts
		m.uniqueTracks++
		if n := len(m.tracks); n > m.peakConcurrent {
			m.peakConcurrent = n
		}
		enteredLane = laneID != LaneUnassigned
	} else {
		if obs.CapturedAt.Before(ts.LastSeen) {
			return nil, false
		}
		if laneID != ts.LaneID {
			ts.LaneID = laneID
			enteredLane = laneID != LaneUnassigned
		}
	}

	ts.Class = obs.Class
	ts.LastSeen = obs.CapturedAt
	ts.History = append(ts.History, PositionSample{Pos: obs.BBox.Anchor(), At: obs.CapturedAt})
	if len(ts.History) > m.cfg.MaxHistoryLength {
		ts.History = ts.History[len(ts.History)-m.cfg.MaxHistoryLength:]
	}

	ts.Speed = m.est.Estimate(ts.Speed, ts.History, pixelsPerMeter)
	if ts.Speed.Known {
		events = append(events, Event{
			Kind:     EventSpeedSample,
			At:       obs.CapturedAt,
			TrackID:  ts.TrackID,
			LaneID:   ts.LaneID,
			Class:    ts.Class,
			SpeedKmh: ts.Speed.Kmh,
		})
		if bucket := violationBucket(ts.Speed.Kmh, m.cfg.SpeedLimitKmh); bucket != 0 && bucket != ts.violationBucket {
			ts.violationBucket = bucket
			events = append(events, Event{
				Kind:     EventSpeedViolation,
				At:       obs.CapturedAt,
				TrackID:  ts.TrackID,
				LaneID:   ts.LaneID,
				Class:    ts.Class,
				SpeedKmh: ts.Speed.Kmh,
			})
		} else if bucket == 0 {
			ts.violationBucket = 0
		}
	}

	ts.Emergency = m.isEmergency(ts)

	events = append(events, advanceIncident(ts, m.cfg.Incident, obs.CapturedAt)...)
	if !ts.stillSince.IsZero() {
		ts.Dwell = obs.CapturedAt.Sub(ts.stillSince)
	} else {
		ts.Dwell = 0
	}

	return events, enteredLane
}

func (m *Manager) isEmergency(ts *TrackState) bool {
	if !ts.Speed.Known || ts.Speed.Kmh < m.cfg.EmergencySpeedKmh {
		return false
	}
	for _, c := range m.cfg.EmergencyClasses {
		if ts.Class == c {
			return true
		}
	}
	return false
}

// Config returns a copy of the manager's configuration.
func (m *Manager) Config() ManagerConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// UpdateConfig applies the given function to the manager's configuration
// under the manager lock. This is the safe way to mutate config fields
// from outside the ingest path (e.g. HTTP tuning handlers).
func (m *Manager) UpdateConfig(fn func(*ManagerConfig)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.cfg)
}

// EvictStale removes tracks unseen past the eviction timeout and returns
// the close events for any incidents force-closed by the eviction, tagged
// track-lost. Runs at the start of each tick, before aggregation, so the
// aggregator never counts a track that just timed out.
func (m *Manager) EvictStale(now time.Time) (evicted []*TrackState, events []Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, ts := range m.tracks {
		if now.Sub(ts.LastSeen) <= m.cfg.EvictTimeout {
			continue
		}
		if ts.openIncident != nil {
			events = append(events, closeIncident(ts, now, ResolutionTrackLost))
		}
		evicted = append(evicted, ts)
		delete(m.tracks, id)
	}
	return evicted, events
}

// Snapshot returns deep copies of every live TrackState. The copies are
// aggregation's input, so a pipelined next-frame ingest can never race a
// tick in flight.
func (m *Manager) Snapshot() []*TrackState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*TrackState, 0, len(m.tracks))
	for _, ts := range m.tracks {
		out = append(out, ts.clone())
	}
	return out
}

// Track returns a deep copy of one track's state.
func (m *Manager) Track(id int64) (*TrackState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, ok := m.tracks[id]
	if !ok {
		return nil, false
	}
	return ts.clone(), true
}

// Len returns the number of live tracks.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tracks)
}

// SessionCounters returns the distinct tracks seen and the peak concurrent
// track count since startup.
func (m *Manager) SessionCounters() (unique int64, peak int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uniqueTracks, m.peakConcurrent
}
