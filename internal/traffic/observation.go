package traffic

import (
	"fmt"
	"time"
)

// Point is a position in frame pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BBox is an axis-aligned bounding box in pixel space.
// X/Y is the top-left corner; W/H the extent.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Anchor returns the bottom-center of the box. This is the lane-assignment
// reference point: it approximates the ground contact point and is the least
// sensitive to object height.
func (b BBox) Anchor() Point {
	return Point{X: b.X + b.W/2, Y: b.Y + b.H}
}

// Observation is a single detector/tracker report for one vehicle in one
// frame. Observations are immutable once created; the engine trusts the
// upstream tracker to keep TrackID stable across frames.
type Observation struct {
	TrackID    int64     `json:"track_id"`
	Class      string    `json:"class"`
	BBox       BBox      `json:"bbox"`
	CapturedAt time.Time `json:"captured_at"`
	FrameIndex int64     `json:"frame_index"`
}

// Validate rejects observations that cannot describe a physical detection.
// A failed observation is dropped individually; it never aborts the batch.
func (o Observation) Validate() error {
	if o.TrackID <= 0 {
		return fmt.Errorf("observation: non-positive track_id %d", o.TrackID)
	}
	if o.BBox.W <= 0 || o.BBox.H <= 0 {
		return fmt.Errorf("observation track %d: non-positive bbox %gx%g", o.TrackID, o.BBox.W, o.BBox.H)
	}
	if o.CapturedAt.IsZero() {
		return fmt.Errorf("observation track %d: zero timestamp", o.TrackID)
	}
	return nil
}

// FrameBatch is the per-frame ingest unit: every observation the tracker
// produced for one processed video frame.
type FrameBatch struct {
	FrameIndex   int64         `json:"frame_index"`
	CapturedAt   time.Time     `json:"captured_at"`
	Observations []Observation `json:"observations"`
}
