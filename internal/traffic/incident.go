package traffic

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// IncidentPhase is a track's position in the stopped-vehicle state machine.
type IncidentPhase string

const (
	PhaseMoving           IncidentPhase = "moving"
	PhaseCandidateStopped IncidentPhase = "candidate-stopped"
	PhaseStopped          IncidentPhase = "stopped"
	PhaseCleared          IncidentPhase = "cleared"
)

// Incident resolutions. "track-lost" marks incidents force-closed by track
// eviction rather than observed motion — downstream analysis needs the
// distinction.
const (
	ResolutionResolved  = "resolved"
	ResolutionTrackLost = "track-lost"
)

// Incident records one continuous stop of one track in one lane.
// End is zero while the incident is open.
type Incident struct {
	ID         string        `json:"id"`
	TrackID    int64         `json:"track_id"`
	LaneID     LaneID        `json:"lane_id"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end,omitempty"`
	PeakDwell  time.Duration `json:"peak_dwell"`
	Resolution string        `json:"resolution,omitempty"`
}

// IncidentConfig holds the stopped-vehicle detection tunables.
type IncidentConfig struct {
	// MotionTolerancePx is the windowed displacement below which a track is
	// considered effectively stationary. Detector jitter means zero
	// displacement is never required.
	MotionTolerancePx float64

	// DwellThreshold is how long the stationary condition must hold
	// continuously before an incident opens.
	DwellThreshold time.Duration

	// MotionWindow is how far back in the position history displacement is
	// measured.
	MotionWindow time.Duration
}

// advanceIncident runs the state machine for one track after its history
// has been updated. Transitions are edge-triggered: the open alert fires
// exactly once per continuous stop. Returned events go to the sinks.
func advanceIncident(ts *TrackState, cfg IncidentConfig, now time.Time) []Event {
	still := isStationary(ts.History, cfg, now)

	switch ts.Phase {
	case PhaseMoving, PhaseCleared:
		if still {
			ts.Phase = PhaseCandidateStopped
			ts.stillSince = now
		}

	case PhaseCandidateStopped:
		if !still {
			ts.Phase = PhaseMoving
			ts.stillSince = time.Time{}
			break
		}
		if now.Sub(ts.stillSince) >= cfg.DwellThreshold {
			ts.Phase = PhaseStopped
			ts.openIncident = &Incident{
				ID:      uuid.NewString(),
				TrackID: ts.TrackID,
				LaneID:  ts.LaneID,
				Start:   ts.stillSince,
			}
			inc := *ts.openIncident
			return []Event{{
				Kind:     EventIncidentOpen,
				At:       now,
				TrackID:  ts.TrackID,
				LaneID:   ts.LaneID,
				Incident: &inc,
			}}
		}

	case PhaseStopped:
		ts.openIncident.PeakDwell = now.Sub(ts.stillSince)
		if !still {
			ev := closeIncident(ts, now, ResolutionResolved)
			ts.Phase = PhaseCleared
			ts.stillSince = time.Time{}
			return []Event{ev}
		}
	}
	return nil
}

// closeIncident finalises the open incident with the given resolution and
// returns the close event. Callers own the phase transition.
func closeIncident(ts *TrackState, now time.Time, resolution string) Event {
	inc := ts.openIncident
	inc.End = now
	inc.Resolution = resolution
	if d := now.Sub(inc.Start); d > inc.PeakDwell {
		inc.PeakDwell = d
	}
	closed := *inc
	ts.openIncident = nil
	return Event{
		Kind:     EventIncidentClosed,
		At:       now,
		TrackID:  ts.TrackID,
		LaneID:   closed.LaneID,
		Incident: &closed,
	}
}

// isStationary reports whether the track's displacement over the recent
// motion window stays below the tolerance. The newest position is compared
// against every sample still inside the window, so slow drift across many
// frames registers as motion even when per-frame deltas are tiny.
func isStationary(history []PositionSample, cfg IncidentConfig, now time.Time) bool {
	if len(history) < 2 {
		return false
	}
	newest := history[len(history)-1]
	cutoff := now.Add(-cfg.MotionWindow)
	var span time.Duration
	for _, s := range history {
		if s.At.Before(cutoff) {
			continue
		}
		dx := newest.Pos.X - s.Pos.X
		dy := newest.Pos.Y - s.Pos.Y
		if math.Hypot(dx, dy) > cfg.MotionTolerancePx {
			return false
		}
		if d := newest.At.Sub(s.At); d > span {
			span = d
		}
	}
	// A track seen twice in the same instant is not evidence of stillness:
	// the in-window samples must span some elapsed time.
	return span > 0
}
