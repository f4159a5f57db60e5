package db

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Varn1t/traffic-intelligence/internal/traffic"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "traffic.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.MigrateUp("migrations"))
	return db
}

func speedEvent(kind traffic.EventKind, at time.Time, trackID int64, lane traffic.LaneID, kmh float64) traffic.Event {
	return traffic.Event{
		Kind:     kind,
		At:       at,
		TrackID:  trackID,
		LaneID:   lane,
		Class:    "car",
		SpeedKmh: kmh,
	}
}

func TestMigrations(t *testing.T) {
	t.Parallel()
	db, err := NewDB(filepath.Join(t.TempDir(), "traffic.db"))
	require.NoError(t, err)
	defer db.Close()

	version, dirty, err := db.MigrateVersion("migrations")
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateUp("migrations"))
	version, dirty, err = db.MigrateVersion("migrations")
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Up is idempotent.
	require.NoError(t, db.MigrateUp("migrations"))

	require.NoError(t, db.MigrateDown("migrations"))
	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='speed_samples'").Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLogEventSpeedRoundtrip(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	base := time.Unix(1700000000, 0)

	require.NoError(t, db.LogEvent(speedEvent(traffic.EventSpeedSample, base, 1, "l1", 42.5)))
	require.NoError(t, db.LogEvent(speedEvent(traffic.EventSpeedSample, base.Add(time.Second), 2, "l2", 38)))
	require.NoError(t, db.LogEvent(speedEvent(traffic.EventSpeedViolation, base, 1, "l1", 67)))

	samples, err := db.SpeedSamples(base, base.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, int64(1), samples[0].TrackID)
	assert.Equal(t, "l1", samples[0].LaneID)
	assert.Equal(t, "car", samples[0].Class)
	assert.InDelta(t, 42.5, samples[0].SpeedKmh, 1e-9)
	assert.True(t, samples[0].At.Equal(base))

	// Violations live in their own table.
	violations, err := db.SpeedViolations(base, base.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.InDelta(t, 67, violations[0].SpeedKmh, 1e-9)

	t.Run("range bounds are half-open", func(t *testing.T) {
		got, err := db.SpeedSamples(base, base.Add(time.Second), 0)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("limit caps rows", func(t *testing.T) {
		got, err := db.SpeedSamples(base, base.Add(time.Hour), 1)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})
}

func TestIncidentOpenCloseUpsert(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	base := time.Unix(1700000000, 0)

	open := &traffic.Incident{
		ID:      "inc-1",
		TrackID: 7,
		LaneID:  "l1",
		Start:   base,
	}
	require.NoError(t, db.LogEvent(traffic.Event{Kind: traffic.EventIncidentOpen, At: base, Incident: open}))

	rows, err := db.Incidents(base.Add(-time.Minute), base.Add(time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "inc-1", rows[0].IncidentID)
	assert.True(t, rows[0].End.IsZero())
	assert.Empty(t, rows[0].Resolution)

	// The close event updates the same row in place.
	closed := *open
	closed.End = base.Add(30 * time.Second)
	closed.PeakDwell = 30 * time.Second
	closed.Resolution = "resolved"
	require.NoError(t, db.LogEvent(traffic.Event{Kind: traffic.EventIncidentClosed, At: closed.End, Incident: &closed}))

	rows, err = db.Incidents(base.Add(-time.Minute), base.Add(time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].End.Equal(closed.End))
	assert.Equal(t, 30*time.Second, rows[0].PeakDwell)
	assert.Equal(t, "resolved", rows[0].Resolution)
}

func TestPriorityRequestRoundtrip(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	base := time.Unix(1700000000, 0)

	req := &traffic.PriorityRequest{
		LaneID:        "l2",
		Extension:     20 * time.Second,
		ReasonTrackID: 9,
		IssuedAt:      base,
	}
	require.NoError(t, db.LogEvent(traffic.Event{
		Kind:    traffic.EventPriorityRequest,
		At:      base,
		TrackID: 9,
		LaneID:  "l2",
		Request: req,
	}))

	var laneID string
	var extensionMs int64
	err := db.QueryRow("SELECT lane_id, extension_ms FROM priority_requests").Scan(&laneID, &extensionMs)
	require.NoError(t, err)
	assert.Equal(t, "l2", laneID)
	assert.Equal(t, int64(20000), extensionMs)
}

func TestUnknownEventKindIsIgnored(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	assert.NoError(t, db.LogEvent(traffic.Event{Kind: "someday-maybe"}))
}

func TestLaneMeanSpeeds(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	base := time.Unix(1700000000, 0).Truncate(5 * time.Minute)

	// Two samples in the first bucket, one in the next, one in another lane.
	require.NoError(t, db.LogEvent(speedEvent(traffic.EventSpeedSample, base, 1, "l1", 40)))
	require.NoError(t, db.LogEvent(speedEvent(traffic.EventSpeedSample, base.Add(time.Minute), 2, "l1", 60)))
	require.NoError(t, db.LogEvent(speedEvent(traffic.EventSpeedSample, base.Add(6*time.Minute), 1, "l1", 30)))
	require.NoError(t, db.LogEvent(speedEvent(traffic.EventSpeedSample, base, 3, "l2", 20)))

	buckets, err := db.LaneMeanSpeeds(base, base.Add(time.Hour), 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, buckets, 3)

	byKey := make(map[string]LaneSpeedBucket)
	for _, b := range buckets {
		byKey[b.LaneID+"/"+b.Bucket.UTC().Format(time.RFC3339)] = b
	}
	first := byKey["l1/"+base.UTC().Format(time.RFC3339)]
	assert.Equal(t, 2, first.Samples)
	assert.InDelta(t, 50, first.MeanKmh, 1e-9)

	second := byKey["l1/"+base.Add(5*time.Minute).UTC().Format(time.RFC3339)]
	assert.Equal(t, 1, second.Samples)
	assert.InDelta(t, 30, second.MeanKmh, 1e-9)
}

func TestTableStats(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	base := time.Unix(1700000000, 0)

	require.NoError(t, db.LogEvent(speedEvent(traffic.EventSpeedSample, base, 1, "l1", 40)))
	require.NoError(t, db.LogEvent(speedEvent(traffic.EventSpeedViolation, base, 1, "l1", 70)))

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.SpeedSamples)
	assert.Equal(t, int64(1), stats.SpeedViolations)
	assert.Zero(t, stats.Incidents)
	assert.Zero(t, stats.PriorityRequests)
}

func TestAdminRoutes(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest("GET", "/debug/db-stats", nil)
	req.RemoteAddr = "127.0.0.1:12345" // tsweb debug handlers are loopback-only
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "speed_samples")
}
