package traffic

import "time"

// SignalPlan is a read-only green-time suggestion for one lane. Actual
// hardware control lives behind the signal sink; the plan is advisory
// output for the dashboard.
type SignalPlan struct {
	LaneID       LaneID  `json:"lane_id"`
	GreenSeconds float64 `json:"green_seconds"`
	// WaitBonus is the anti-starvation component already folded into
	// GreenSeconds, surfaced for display.
	WaitBonus float64 `json:"wait_bonus"`
}

// PlanConfig tunes the adaptive green-time suggestion.
type PlanConfig struct {
	// SecondsPerVehicle scales current occupancy into green seconds.
	SecondsPerVehicle float64

	// TrendGain scales the regression slope: a rising lane gets extra
	// green ahead of the demand actually arriving.
	TrendGain float64

	MinGreenSeconds float64
	MaxGreenSeconds float64

	// WaitScale converts seconds waited since a lane's last suggestion
	// topped the minimum into bonus green, preventing starvation of quiet
	// lanes.
	WaitScale float64
}

// Planner derives per-lane signal suggestions from the tick metrics and
// trends.
type Planner struct {
	cfg      PlanConfig
	lastBusy map[LaneID]time.Time
}

// NewPlanner returns a planner with no wait history.
func NewPlanner(cfg PlanConfig) *Planner {
	return &Planner{cfg: cfg, lastBusy: make(map[LaneID]time.Time)}
}

// Suggest computes clamp(count·perVehicle + slope·gain + waitBonus,
// min, max) per lane.
func (p *Planner) Suggest(now time.Time, metrics []LaneWindowMetrics, trends map[LaneID]Trend) []SignalPlan {
	out := make([]SignalPlan, 0, len(metrics))
	for _, m := range metrics {
		base := float64(m.Count) * p.cfg.SecondsPerVehicle
		if tr, ok := trends[m.LaneID]; ok && tr.Direction != TrendInsufficientData {
			base += tr.Slope * p.cfg.TrendGain
		}

		// Lanes with demand reset their wait; idle lanes accrue bonus.
		var bonus float64
		if m.Count > 0 {
			p.lastBusy[m.LaneID] = now
		} else if p.cfg.WaitScale > 0 {
			if last, ok := p.lastBusy[m.LaneID]; ok {
				bonus = now.Sub(last).Seconds() / p.cfg.WaitScale
			} else {
				p.lastBusy[m.LaneID] = now
			}
		}

		green := base + bonus
		if green < p.cfg.MinGreenSeconds {
			green = p.cfg.MinGreenSeconds
		}
		if green > p.cfg.MaxGreenSeconds {
			green = p.cfg.MaxGreenSeconds
		}
		out = append(out, SignalPlan{LaneID: m.LaneID, GreenSeconds: green, WaitBonus: bonus})
	}
	return out
}
