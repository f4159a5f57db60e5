// Package db persists the engine's typed event records in SQLite and
// serves read queries for the report tooling and dashboard API.
package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Varn1t/traffic-intelligence/internal/traffic"
)

// DB wraps the SQLite handle. It implements traffic.LogSink.
type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the SQLite database at path. Run
// MigrateUp before first use.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// modernc sqlite serialises writes; a single connection avoids
	// SQLITE_BUSY churn under the event stream.
	db.SetMaxOpenConns(1)
	return &DB{db}, nil
}

// LogEvent appends one typed record. Unknown kinds are ignored rather than
// erroring: the sink is a best-effort observer.
func (db *DB) LogEvent(ev traffic.Event) error {
	switch ev.Kind {
	case traffic.EventSpeedSample:
		return db.insertSpeed("speed_samples", ev)
	case traffic.EventSpeedViolation:
		return db.insertSpeed("speed_violations", ev)
	case traffic.EventIncidentOpen:
		return db.upsertIncident(ev.Incident)
	case traffic.EventIncidentClosed:
		return db.upsertIncident(ev.Incident)
	case traffic.EventPriorityRequest:
		return db.insertPriority(ev)
	default:
		return nil
	}
}

func (db *DB) insertSpeed(table string, ev traffic.Event) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (at_unix_nanos, track_id, lane_id, class, speed_kmh)
		VALUES (?, ?, ?, ?, ?)
	`, table)
	if _, err := db.Exec(query, ev.At.UnixNano(), ev.TrackID, string(ev.LaneID), ev.Class, ev.SpeedKmh); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (db *DB) upsertIncident(inc *traffic.Incident) error {
	var end int64
	if !inc.End.IsZero() {
		end = inc.End.UnixNano()
	}
	query := `
		INSERT INTO incidents (incident_id, track_id, lane_id, start_unix_nanos, end_unix_nanos, peak_dwell_ms, resolution)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(incident_id) DO UPDATE SET
			end_unix_nanos = excluded.end_unix_nanos,
			peak_dwell_ms = excluded.peak_dwell_ms,
			resolution = excluded.resolution
	`
	_, err := db.Exec(query,
		inc.ID,
		inc.TrackID,
		string(inc.LaneID),
		inc.Start.UnixNano(),
		end,
		inc.PeakDwell.Milliseconds(),
		inc.Resolution,
	)
	if err != nil {
		return fmt.Errorf("upsert incident %s: %w", inc.ID, err)
	}
	return nil
}

func (db *DB) insertPriority(ev traffic.Event) error {
	query := `
		INSERT INTO priority_requests (at_unix_nanos, lane_id, track_id, extension_ms)
		VALUES (?, ?, ?, ?)
	`
	if _, err := db.Exec(query, ev.At.UnixNano(), string(ev.Request.LaneID), ev.Request.ReasonTrackID, ev.Request.Extension.Milliseconds()); err != nil {
		return fmt.Errorf("insert priority request: %w", err)
	}
	return nil
}

// SpeedSample is one persisted per-track speed record.
type SpeedSample struct {
	At       time.Time `json:"at"`
	TrackID  int64     `json:"track_id"`
	LaneID   string    `json:"lane_id"`
	Class    string    `json:"class"`
	SpeedKmh float64   `json:"speed_kmh"`
}

// SpeedSamples returns samples in [start, end), newest last, capped at
// limit rows.
func (db *DB) SpeedSamples(start, end time.Time, limit int) ([]SpeedSample, error) {
	return db.speedRows("speed_samples", start, end, limit)
}

// SpeedViolations returns violation events in [start, end).
func (db *DB) SpeedViolations(start, end time.Time, limit int) ([]SpeedSample, error) {
	return db.speedRows("speed_violations", start, end, limit)
}

func (db *DB) speedRows(table string, start, end time.Time, limit int) ([]SpeedSample, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := fmt.Sprintf(`
		SELECT at_unix_nanos, track_id, lane_id, class, speed_kmh
		FROM %s
		WHERE at_unix_nanos >= ? AND at_unix_nanos < ?
		ORDER BY at_unix_nanos ASC
		LIMIT ?
	`, table)
	rows, err := db.Query(query, start.UnixNano(), end.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var out []SpeedSample
	for rows.Next() {
		var s SpeedSample
		var nanos int64
		if err := rows.Scan(&nanos, &s.TrackID, &s.LaneID, &s.Class, &s.SpeedKmh); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		s.At = time.Unix(0, nanos)
		out = append(out, s)
	}
	return out, rows.Err()
}

// IncidentRow is one persisted incident.
type IncidentRow struct {
	IncidentID string        `json:"incident_id"`
	TrackID    int64         `json:"track_id"`
	LaneID     string        `json:"lane_id"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end,omitempty"`
	PeakDwell  time.Duration `json:"peak_dwell"`
	Resolution string        `json:"resolution,omitempty"`
}

// Incidents returns incidents starting in [start, end), oldest first.
func (db *DB) Incidents(start, end time.Time, limit int) ([]IncidentRow, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.Query(`
		SELECT incident_id, track_id, lane_id, start_unix_nanos, end_unix_nanos, peak_dwell_ms, resolution
		FROM incidents
		WHERE start_unix_nanos >= ? AND start_unix_nanos < ?
		ORDER BY start_unix_nanos ASC
		LIMIT ?
	`, start.UnixNano(), end.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []IncidentRow
	for rows.Next() {
		var r IncidentRow
		var startNanos, endNanos, dwellMs int64
		if err := rows.Scan(&r.IncidentID, &r.TrackID, &r.LaneID, &startNanos, &endNanos, &dwellMs, &r.Resolution); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		r.Start = time.Unix(0, startNanos)
		if endNanos != 0 {
			r.End = time.Unix(0, endNanos)
		}
		r.PeakDwell = time.Duration(dwellMs) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// LaneSpeedBucket is one lane's mean speed over one time bucket.
type LaneSpeedBucket struct {
	LaneID  string
	Bucket  time.Time
	MeanKmh float64
	Samples int
}

// LaneMeanSpeeds buckets speed samples by lane and bucketSize over
// [start, end).
func (db *DB) LaneMeanSpeeds(start, end time.Time, bucketSize time.Duration) ([]LaneSpeedBucket, error) {
	if bucketSize <= 0 {
		bucketSize = time.Minute
	}
	rows, err := db.Query(`
		SELECT lane_id, (at_unix_nanos / ?) * ? AS bucket, AVG(speed_kmh), COUNT(*)
		FROM speed_samples
		WHERE at_unix_nanos >= ? AND at_unix_nanos < ?
		GROUP BY lane_id, bucket
		ORDER BY bucket ASC
	`, bucketSize.Nanoseconds(), bucketSize.Nanoseconds(), start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query lane speeds: %w", err)
	}
	defer rows.Close()

	var out []LaneSpeedBucket
	for rows.Next() {
		var b LaneSpeedBucket
		var nanos int64
		if err := rows.Scan(&b.LaneID, &nanos, &b.MeanKmh, &b.Samples); err != nil {
			return nil, fmt.Errorf("scan lane speed bucket: %w", err)
		}
		b.Bucket = time.Unix(0, nanos)
		out = append(out, b)
	}
	return out, rows.Err()
}
