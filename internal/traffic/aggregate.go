package traffic

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Grade is a level-of-service letter: A (free flow) through F (breakdown).
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeE Grade = "E"
	GradeF Grade = "F"
)

var gradeOrder = []Grade{GradeA, GradeB, GradeC, GradeD, GradeE, GradeF}

// LOSBreaks are the five ascending density breakpoints partitioning the
// occupancy-density domain into six contiguous grades:
//
//	density ≤ breaks[0] → A, ≤ breaks[1] → B, … , > breaks[4] → F
//
// Contiguous and exhaustive by construction: no gaps, no overlaps.
type LOSBreaks [5]float64

// Validate rejects non-ascending breakpoints.
func (b LOSBreaks) Validate() error {
	for i := 1; i < len(b); i++ {
		if b[i] <= b[i-1] {
			return fmt.Errorf("los breaks: breakpoint %d (%g) not above %g", i, b[i], b[i-1])
		}
	}
	if b[0] <= 0 {
		return fmt.Errorf("los breaks: first breakpoint must be positive, got %g", b[0])
	}
	return nil
}

// GradeFor maps an occupancy density to its LOS grade. Pure and monotonic:
// a higher density never yields a better grade.
func (b LOSBreaks) GradeFor(density float64) Grade {
	for i, brk := range b {
		if density <= brk {
			return gradeOrder[i]
		}
	}
	return GradeF
}

// LaneWindowMetrics is the per-lane windowed aggregate recomputed every
// tick. Each tick's value supersedes the previous one; nothing accumulates
// across windows except through the history buffer.
type LaneWindowMetrics struct {
	LaneID LaneID    `json:"lane_id"`
	At     time.Time `json:"at"`

	// Count is the number of distinct tracks currently in the lane.
	Count int `json:"count"`

	// ClassCounts breaks Count down by vehicle class.
	ClassCounts map[string]int `json:"class_counts,omitempty"`

	// Entries is the number of distinct tracks that entered since the
	// previous tick; FlowPerMinute normalises it to vehicles/minute.
	Entries       int     `json:"entries"`
	FlowPerMinute float64 `json:"flow_per_minute"`

	// WindowFlowPerMinute is the distinct-entry count over the sliding
	// flow window (default 60 s), per minute.
	WindowFlowPerMinute float64 `json:"window_flow_per_minute"`

	// QueueLength counts tracks currently in the stopped phase.
	QueueLength int `json:"queue_length"`

	// MeanSpeed averages the known speed estimates; unknown when no track
	// in the lane has a calibrated estimate.
	MeanSpeed Speed `json:"mean_speed"`

	// Density is count ÷ lane capacity; LOS is its grade.
	Density float64 `json:"density"`
	LOS     Grade   `json:"los"`
}

// AggregatorConfig holds the windowing tunables.
type AggregatorConfig struct {
	Breaks     LOSBreaks
	FlowWindow time.Duration
}

// Aggregator folds track snapshots into per-lane windowed metrics on a
// shared canonical window boundary: one Tick covers every lane, so metrics
// never skew between lanes.
type Aggregator struct {
	cfg   AggregatorConfig
	lanes []Lane

	lastTick time.Time

	// tickEntries counts distinct lane entries since the last tick;
	// entryTimes backs the sliding flow window.
	tickEntries map[LaneID]int
	entryTimes  map[LaneID][]time.Time
}

// NewAggregator validates the LOS partition and prepares per-lane counters.
func NewAggregator(cfg AggregatorConfig, lanes []Lane) (*Aggregator, error) {
	if err := cfg.Breaks.Validate(); err != nil {
		return nil, err
	}
	if cfg.FlowWindow <= 0 {
		return nil, fmt.Errorf("aggregator: flow window must be positive, got %v", cfg.FlowWindow)
	}
	a := &Aggregator{
		cfg:         cfg,
		lanes:       lanes,
		tickEntries: make(map[LaneID]int, len(lanes)),
		entryTimes:  make(map[LaneID][]time.Time, len(lanes)),
	}
	return a, nil
}

// RecordEntry notes a distinct track entering a lane. Called from the
// ingest phase; folded into metrics on the next tick.
func (a *Aggregator) RecordEntry(lane LaneID, at time.Time) {
	if lane == LaneUnassigned {
		return
	}
	a.tickEntries[lane]++
	a.entryTimes[lane] = append(a.entryTimes[lane], at)
}

// Tick computes one LaneWindowMetrics per configured lane from a consistent
// snapshot of track states, then resets the per-tick entry counters.
func (a *Aggregator) Tick(now time.Time, snapshot []*TrackState) []LaneWindowMetrics {
	perLane := make(map[LaneID][]*TrackState, len(a.lanes))
	for _, ts := range snapshot {
		perLane[ts.LaneID] = append(perLane[ts.LaneID], ts)
	}

	elapsed := a.cfg.FlowWindow // first tick: assume a full window
	if !a.lastTick.IsZero() {
		elapsed = now.Sub(a.lastTick)
	}

	out := make([]LaneWindowMetrics, 0, len(a.lanes))
	for _, lane := range a.lanes {
		tracks := perLane[lane.ID]

		m := LaneWindowMetrics{
			LaneID:      lane.ID,
			At:          now,
			Count:       len(tracks),
			ClassCounts: make(map[string]int),
			Entries:     a.tickEntries[lane.ID],
		}

		speeds := make([]float64, 0, len(tracks))
		for _, ts := range tracks {
			m.ClassCounts[ts.Class]++
			if ts.Phase == PhaseStopped {
				m.QueueLength++
			}
			if ts.Speed.Known {
				speeds = append(speeds, ts.Speed.Kmh)
			}
		}
		if len(speeds) > 0 {
			m.MeanSpeed = Speed{Kmh: stat.Mean(speeds, nil), Known: true}
		}

		if elapsed > 0 {
			m.FlowPerMinute = float64(m.Entries) / elapsed.Minutes()
		}
		m.WindowFlowPerMinute = a.windowFlow(lane.ID, now)

		m.Density = float64(m.Count) / float64(lane.Capacity)
		m.LOS = a.cfg.Breaks.GradeFor(m.Density)

		out = append(out, m)
	}

	a.lastTick = now
	for id := range a.tickEntries {
		a.tickEntries[id] = 0
	}
	return out
}

// windowFlow prunes entries older than the flow window and returns the
// remainder normalised to vehicles/minute.
func (a *Aggregator) windowFlow(lane LaneID, now time.Time) float64 {
	cutoff := now.Add(-a.cfg.FlowWindow)
	times := a.entryTimes[lane]
	keep := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	a.entryTimes[lane] = keep
	return float64(len(keep)) / a.cfg.FlowWindow.Minutes()
}
