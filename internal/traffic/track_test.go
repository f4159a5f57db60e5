package traffic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackTestConfig() ManagerConfig {
	return ManagerConfig{
		MaxHistoryLength:  5,
		EvictTimeout:      3 * time.Second,
		SpeedLimitKmh:     50,
		EmergencyClasses:  []string{"bus", "truck"},
		EmergencySpeedKmh: 40,
		Speed:             SpeedEstimatorConfig{SmoothingAlpha: 1},
		Incident: IncidentConfig{
			MotionTolerancePx: 15,
			DwellThreshold:    5 * time.Second,
			MotionWindow:      2 * time.Second,
		},
	}
}

// movingObs places trackID at x pixels, sec seconds after the base time.
func movingObs(trackID int64, x float64, sec int) Observation {
	base := time.Unix(1700000000, 0)
	o := obsAt(trackID, x, 150)
	o.CapturedAt = base.Add(time.Duration(sec) * time.Second)
	return o
}

func TestManagerUpdate(t *testing.T) {
	t.Parallel()

	t.Run("first observation creates the track", func(t *testing.T) {
		t.Parallel()
		m := NewManager(trackTestConfig())

		_, entered := m.Update(movingObs(1, 100, 0), "l1", 10)
		assert.True(t, entered)

		ts, ok := m.Track(1)
		require.True(t, ok)
		assert.Equal(t, int64(1), ts.TrackID)
		assert.Equal(t, "car", ts.Class)
		assert.Equal(t, LaneID("l1"), ts.LaneID)
		assert.Equal(t, PhaseMoving, ts.Phase)
		assert.Equal(t, ts.FirstSeen, ts.LastSeen)
		assert.False(t, ts.Speed.Known)
		assert.Len(t, ts.History, 1)
	})

	t.Run("unassigned lane does not count as an entry", func(t *testing.T) {
		t.Parallel()
		m := NewManager(trackTestConfig())
		_, entered := m.Update(movingObs(1, 100, 0), LaneUnassigned, 10)
		assert.False(t, entered)
	})

	t.Run("lane change counts as an entry into the new lane", func(t *testing.T) {
		t.Parallel()
		m := NewManager(trackTestConfig())
		m.Update(movingObs(1, 100, 0), "l1", 10)

		_, entered := m.Update(movingObs(1, 110, 1), "l1", 10)
		assert.False(t, entered)

		_, entered = m.Update(movingObs(1, 120, 2), "l2", 10)
		assert.True(t, entered)

		ts, _ := m.Track(1)
		assert.Equal(t, LaneID("l2"), ts.LaneID)
	})

	t.Run("out-of-order timestamp is dropped without touching state", func(t *testing.T) {
		t.Parallel()
		m := NewManager(trackTestConfig())
		m.Update(movingObs(1, 100, 0), "l1", 10)
		m.Update(movingObs(1, 110, 2), "l1", 10)

		stale := movingObs(1, 500, 1)
		events, entered := m.Update(stale, "l2", 10)
		assert.Empty(t, events)
		assert.False(t, entered)

		ts, _ := m.Track(1)
		assert.Equal(t, LaneID("l1"), ts.LaneID)
		assert.Len(t, ts.History, 2)
	})

	t.Run("history is bounded to the configured length", func(t *testing.T) {
		t.Parallel()
		m := NewManager(trackTestConfig())
		for sec := 0; sec < 10; sec++ {
			m.Update(movingObs(1, float64(sec*20), sec), "l1", 10)
		}
		ts, _ := m.Track(1)
		require.Len(t, ts.History, 5)
		// Oldest samples fell off the front.
		assert.Equal(t, 100.0, ts.History[0].Pos.X)
		assert.Equal(t, 180.0, ts.History[4].Pos.X)
	})
}

func TestManagerEmergencyFlag(t *testing.T) {
	t.Parallel()

	// 150 px/s at 10 px/m is 15 m/s = 54 km/h, above the 40 km/h floor.
	fast := func(t *testing.T, m *Manager, trackID int64, class string) *TrackState {
		t.Helper()
		for sec := 0; sec < 3; sec++ {
			o := movingObs(trackID, float64(sec*150), sec)
			o.Class = class
			m.Update(o, "l1", 10)
		}
		ts, ok := m.Track(trackID)
		require.True(t, ok)
		return ts
	}

	t.Run("fast bus is flagged", func(t *testing.T) {
		t.Parallel()
		m := NewManager(trackTestConfig())
		assert.True(t, fast(t, m, 1, "bus").Emergency)
	})

	t.Run("fast car is not", func(t *testing.T) {
		t.Parallel()
		m := NewManager(trackTestConfig())
		assert.False(t, fast(t, m, 2, "car").Emergency)
	})

	t.Run("slow bus is not", func(t *testing.T) {
		t.Parallel()
		m := NewManager(trackTestConfig())
		for sec := 0; sec < 3; sec++ {
			o := movingObs(3, float64(sec*20), sec) // 7.2 km/h
			o.Class = "bus"
			m.Update(o, "l1", 10)
		}
		ts, _ := m.Track(3)
		assert.True(t, ts.Speed.Known)
		assert.False(t, ts.Emergency)
	})
}

func TestManagerViolationRelog(t *testing.T) {
	t.Parallel()
	m := NewManager(trackTestConfig())

	collect := func(x float64, sec int) []Event {
		events, _ := m.Update(movingObs(1, x, sec), "l1", 10)
		return eventsOfKind(events, EventSpeedViolation)
	}

	// First sample: no speed yet, no violation.
	assert.Empty(t, collect(0, 0))

	// 150 px/s = 54 km/h, over the 50 limit: logged once.
	assert.Len(t, collect(150, 1), 1)

	// Same bucket next frame: not re-logged.
	assert.Empty(t, collect(300, 2))

	// 180 px/s = 64.8 km/h crosses into the next 10 km/h bucket: re-logged.
	violations := collect(480, 3)
	require.Len(t, violations, 1)
	assert.InDelta(t, 64.8, violations[0].SpeedKmh, 0.01)

	// Dropping under the limit resets the bucket...
	assert.Empty(t, collect(500, 4)) // 7.2 km/h

	// ...so speeding again is logged again even at the original bucket.
	assert.Len(t, collect(650, 5), 1)
}

func TestManagerSnapshotIsolation(t *testing.T) {
	t.Parallel()
	m := NewManager(trackTestConfig())
	m.Update(movingObs(1, 100, 0), "l1", 10)
	m.Update(movingObs(1, 120, 1), "l1", 10)

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	snap[0].History[0].Pos.X = -999
	snap[0].LaneID = "tampered"

	ts, _ := m.Track(1)
	assert.Equal(t, 100.0, ts.History[0].Pos.X)
	assert.Equal(t, LaneID("l1"), ts.LaneID)
}

func TestManagerEvictStale(t *testing.T) {
	t.Parallel()
	m := NewManager(trackTestConfig())
	base := time.Unix(1700000000, 0)

	m.Update(movingObs(1, 100, 0), "l1", 10)
	m.Update(movingObs(2, 100, 8), "l1", 10)

	// Track 1 was last seen 8s ago, past the 3s timeout; track 2 is fresh.
	evicted, events := m.EvictStale(base.Add(8 * time.Second))
	require.Len(t, evicted, 1)
	assert.Equal(t, int64(1), evicted[0].TrackID)
	assert.Empty(t, events)
	assert.Equal(t, 1, m.Len())

	_, ok := m.Track(1)
	assert.False(t, ok)
	_, ok = m.Track(2)
	assert.True(t, ok)
}

func TestManagerSessionCounters(t *testing.T) {
	t.Parallel()
	m := NewManager(trackTestConfig())
	base := time.Unix(1700000000, 0)

	for id := int64(1); id <= 3; id++ {
		m.Update(movingObs(id, 100, 0), "l1", 10)
	}
	m.EvictStale(base.Add(time.Minute))
	m.Update(movingObs(4, 100, 70), "l1", 10)

	unique, peak := m.SessionCounters()
	assert.Equal(t, int64(4), unique)
	assert.Equal(t, 3, peak)
}

func TestManagerUpdateConfig(t *testing.T) {
	t.Parallel()
	m := NewManager(trackTestConfig())

	m.UpdateConfig(func(cfg *ManagerConfig) {
		cfg.SpeedLimitKmh = 80
		cfg.EmergencySpeedKmh = 60
	})

	cfg := m.Config()
	assert.Equal(t, 80.0, cfg.SpeedLimitKmh)
	assert.Equal(t, 60.0, cfg.EmergencySpeedKmh)
}
