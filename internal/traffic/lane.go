package traffic

import (
	"fmt"
	"math"
)

// LaneID identifies one configured lane region.
type LaneID string

// LaneUnassigned is returned when no lane polygon contains an observation's
// anchor point.
const LaneUnassigned LaneID = "unassigned"

// Lane is a user-defined spatial region of the frame representing one
// traffic lane. Lanes are configured at startup and immutable during a run.
type Lane struct {
	ID   LaneID `json:"id"`
	Name string `json:"name"`

	// Polygon is the lane boundary as an ordered vertex list in pixel space.
	Polygon []Point `json:"polygon"`

	// PixelsPerMeter is the calibration scale for speed estimation.
	// Zero means uncalibrated: speed for this lane stays unknown.
	PixelsPerMeter float64 `json:"pixels_per_meter"`

	// Capacity is the vehicle count at which occupancy density reaches 1.0.
	Capacity int `json:"capacity"`
}

// Validate fails fast on degenerate lane geometry so misconfiguration is a
// startup error, never a per-frame surprise.
func (l Lane) Validate() error {
	if l.ID == "" || l.ID == LaneUnassigned {
		return fmt.Errorf("lane %q: reserved or empty id", l.ID)
	}
	if len(l.Polygon) < 3 {
		return fmt.Errorf("lane %s: polygon needs at least 3 vertices, got %d", l.ID, len(l.Polygon))
	}
	if l.Capacity <= 0 {
		return fmt.Errorf("lane %s: capacity must be positive, got %d", l.ID, l.Capacity)
	}
	if math.Abs(polygonArea(l.Polygon)) < 1e-9 {
		return fmt.Errorf("lane %s: polygon has zero area", l.ID)
	}
	if selfIntersects(l.Polygon) {
		return fmt.Errorf("lane %s: polygon is self-intersecting", l.ID)
	}
	return nil
}

// Contains reports whether p lies inside the lane polygon, using the
// even-odd ray casting rule. Points exactly on an edge count as inside on
// one side only; the test is deterministic for a fixed polygon.
func (l Lane) Contains(p Point) bool {
	inside := false
	n := len(l.Polygon)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := l.Polygon[i], l.Polygon[j]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			xCross := (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y) + a.X
			if p.X < xCross {
				inside = !inside
			}
		}
	}
	return inside
}

// polygonArea computes the signed shoelace area.
func polygonArea(poly []Point) float64 {
	var sum float64
	n := len(poly)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += poly[i].X*poly[j].Y - poly[j].X*poly[i].Y
	}
	return sum / 2
}

// selfIntersects checks every non-adjacent edge pair for a proper crossing.
// O(n²) is fine: lane polygons are hand-drawn with a handful of vertices.
func selfIntersects(poly []Point) bool {
	n := len(poly)
	for i := 0; i < n; i++ {
		a1 := poly[i]
		a2 := poly[(i+1)%n]
		for j := i + 1; j < n; j++ {
			// Skip edges sharing a vertex (adjacent, or first/last pair).
			if j == i || (j+1)%n == i || (i+1)%n == j {
				continue
			}
			b1 := poly[j]
			b2 := poly[(j+1)%n]
			if segmentsCross(a1, a2, b1, b2) {
				return true
			}
		}
	}
	return false
}

func segmentsCross(p1, p2, p3, p4 Point) bool {
	d1 := cross(p3, p4, p1)
	d2 := cross(p3, p4, p2)
	d3 := cross(p1, p2, p3)
	d4 := cross(p1, p2, p4)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

func cross(a, b, c Point) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

// Assigner maps observation anchor points to lanes. It is a pure lookup:
// no side effects, O(lanes × vertices) per call.
type Assigner struct {
	lanes []Lane
	byID  map[LaneID]Lane
}

// NewAssigner validates every lane and builds the assigner. Declaration
// order is preserved: when polygons overlap, the earlier lane wins.
func NewAssigner(lanes []Lane) (*Assigner, error) {
	if len(lanes) == 0 {
		return nil, fmt.Errorf("assigner: no lanes configured")
	}
	byID := make(map[LaneID]Lane, len(lanes))
	for _, l := range lanes {
		if err := l.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byID[l.ID]; dup {
			return nil, fmt.Errorf("lane %s: duplicate id", l.ID)
		}
		byID[l.ID] = l
	}
	return &Assigner{lanes: lanes, byID: byID}, nil
}

// Assign returns the id of the first configured lane whose polygon contains
// the observation's anchor point, or LaneUnassigned.
func (a *Assigner) Assign(obs Observation) LaneID {
	p := obs.BBox.Anchor()
	for _, l := range a.lanes {
		if l.Contains(p) {
			return l.ID
		}
	}
	return LaneUnassigned
}

// Lanes returns the configured lanes in declaration order.
func (a *Assigner) Lanes() []Lane {
	out := make([]Lane, len(a.lanes))
	copy(out, a.lanes)
	return out
}

// Lane looks up a lane by id.
func (a *Assigner) Lane(id LaneID) (Lane, bool) {
	l, ok := a.byID[id]
	return l, ok
}
