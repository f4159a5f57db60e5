package traffic

import "time"

// PriorityRequest asks the signal controller to extend a lane's green
// phase for an approaching emergency vehicle. Requests are fire-and-forget:
// the engine never retains one after emission.
type PriorityRequest struct {
	LaneID        LaneID        `json:"lane_id"`
	Extension     time.Duration `json:"extension"`
	ReasonTrackID int64         `json:"reason_track_id"`
	IssuedAt      time.Time     `json:"issued_at"`
}

// PriorityConfig holds the extension and cooldown tunables.
type PriorityConfig struct {
	// Extension is the green-phase extension requested per event.
	Extension time.Duration

	// Cooldown suppresses further requests for a lane after one is issued,
	// so a single vehicle seen across many consecutive ticks produces one
	// request, not a storm.
	Cooldown time.Duration
}

// PriorityController watches track emergency flags per lane and decides
// when to emit a request. Cooldowns expire independently per lane; when
// several lanes qualify in the same tick, each gets its own request.
type PriorityController struct {
	cfg        PriorityConfig
	lastIssued map[LaneID]time.Time
}

// NewPriorityController returns a controller with no cooldowns running.
func NewPriorityController(cfg PriorityConfig) *PriorityController {
	return &PriorityController{
		cfg:        cfg,
		lastIssued: make(map[LaneID]time.Time),
	}
}

// Evaluate scans the snapshot for emergency-flagged tracks and returns at
// most one request per lane outside its cooldown window.
func (c *PriorityController) Evaluate(now time.Time, snapshot []*TrackState) []PriorityRequest {
	var out []PriorityRequest
	requested := make(map[LaneID]bool)

	for _, ts := range snapshot {
		if !ts.Emergency || ts.LaneID == LaneUnassigned {
			continue
		}
		if requested[ts.LaneID] {
			continue
		}
		if last, ok := c.lastIssued[ts.LaneID]; ok && now.Sub(last) < c.cfg.Cooldown {
			continue
		}
		requested[ts.LaneID] = true
		c.lastIssued[ts.LaneID] = now
		out = append(out, PriorityRequest{
			LaneID:        ts.LaneID,
			Extension:     c.cfg.Extension,
			ReasonTrackID: ts.TrackID,
			IssuedAt:      now,
		})
	}
	return out
}
