package traffic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func planTestConfig() PlanConfig {
	return PlanConfig{
		SecondsPerVehicle: 3,
		TrendGain:         4,
		MinGreenSeconds:   15,
		MaxGreenSeconds:   90,
		WaitScale:         5,
	}
}

func laneMetric(lane LaneID, count int) LaneWindowMetrics {
	return LaneWindowMetrics{LaneID: lane, Count: count}
}

func TestPlannerSuggest(t *testing.T) {
	t.Parallel()
	base := time.Unix(1700000000, 0)

	t.Run("occupancy scales green time", func(t *testing.T) {
		t.Parallel()
		p := NewPlanner(planTestConfig())

		plans := p.Suggest(base, []LaneWindowMetrics{laneMetric("l1", 10)}, nil)
		require.Len(t, plans, 1)
		assert.InDelta(t, 30, plans[0].GreenSeconds, 1e-9)
		assert.Zero(t, plans[0].WaitBonus)
	})

	t.Run("rising trend buys extra green, falling takes it away", func(t *testing.T) {
		t.Parallel()
		p := NewPlanner(planTestConfig())

		trends := map[LaneID]Trend{
			"l1": {LaneID: "l1", Direction: TrendRising, Slope: 2},
			"l2": {LaneID: "l2", Direction: TrendFalling, Slope: -1},
		}
		plans := p.Suggest(base, []LaneWindowMetrics{laneMetric("l1", 10), laneMetric("l2", 10)}, trends)
		require.Len(t, plans, 2)
		assert.InDelta(t, 38, plans[0].GreenSeconds, 1e-9) // 30 + 2·4
		assert.InDelta(t, 26, plans[1].GreenSeconds, 1e-9) // 30 - 1·4
	})

	t.Run("insufficient-data trends are ignored", func(t *testing.T) {
		t.Parallel()
		p := NewPlanner(planTestConfig())

		trends := map[LaneID]Trend{"l1": {LaneID: "l1", Direction: TrendInsufficientData, Slope: 5}}
		plans := p.Suggest(base, []LaneWindowMetrics{laneMetric("l1", 10)}, trends)
		assert.InDelta(t, 30, plans[0].GreenSeconds, 1e-9)
	})

	t.Run("suggestions clamp to the green bounds", func(t *testing.T) {
		t.Parallel()
		p := NewPlanner(planTestConfig())

		plans := p.Suggest(base, []LaneWindowMetrics{
			laneMetric("empty", 0),
			laneMetric("jammed", 50),
		}, nil)
		require.Len(t, plans, 2)
		assert.InDelta(t, 15, plans[0].GreenSeconds, 1e-9)
		assert.InDelta(t, 90, plans[1].GreenSeconds, 1e-9)
	})

	t.Run("idle lanes accrue wait bonus until demand returns", func(t *testing.T) {
		t.Parallel()
		p := NewPlanner(planTestConfig())

		// Lane goes busy, then idles for 100 seconds.
		p.Suggest(base, []LaneWindowMetrics{laneMetric("l1", 2)}, nil)
		plans := p.Suggest(base.Add(100*time.Second), []LaneWindowMetrics{laneMetric("l1", 0)}, nil)
		require.Len(t, plans, 1)
		// 100 s ÷ WaitScale 5 = 20 s of bonus green.
		assert.InDelta(t, 20, plans[0].WaitBonus, 1e-9)
		assert.InDelta(t, 20, plans[0].GreenSeconds, 1e-9)

		// Demand returning resets the wait clock.
		p.Suggest(base.Add(110*time.Second), []LaneWindowMetrics{laneMetric("l1", 1)}, nil)
		plans = p.Suggest(base.Add(120*time.Second), []LaneWindowMetrics{laneMetric("l1", 0)}, nil)
		assert.InDelta(t, 2, plans[0].WaitBonus, 1e-9)
	})

	t.Run("a lane never seen busy starts its wait clock now", func(t *testing.T) {
		t.Parallel()
		p := NewPlanner(planTestConfig())

		plans := p.Suggest(base, []LaneWindowMetrics{laneMetric("l1", 0)}, nil)
		assert.Zero(t, plans[0].WaitBonus)

		plans = p.Suggest(base.Add(50*time.Second), []LaneWindowMetrics{laneMetric("l1", 0)}, nil)
		assert.InDelta(t, 10, plans[0].WaitBonus, 1e-9)
	})
}
