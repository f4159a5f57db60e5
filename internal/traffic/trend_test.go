package traffic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func observeCounts(p *TrendPredictor, lane LaneID, counts ...int) {
	base := time.Unix(1700000000, 0)
	for i, c := range counts {
		p.Observe([]LaneWindowMetrics{{
			LaneID: lane,
			At:     base.Add(time.Duration(i) * time.Second),
			Count:  c,
		}})
	}
}

func TestTrendPredictor(t *testing.T) {
	t.Parallel()
	cfg := TrendConfig{Window: 20, FlatBand: 0.15, MinSamples: 3}

	t.Run("steadily rising counts predict rising", func(t *testing.T) {
		t.Parallel()
		p := NewTrendPredictor(cfg)
		observeCounts(p, "l1", 1, 2, 3, 4, 5)

		tr := p.Predict("l1")
		assert.Equal(t, TrendRising, tr.Direction)
		assert.InDelta(t, 1, tr.Slope, 1e-9)
		// Perfect line continues to the next index.
		assert.InDelta(t, 6, tr.NextCount, 1e-9)
		assert.Equal(t, 5, tr.Samples)
	})

	t.Run("steadily falling counts predict falling", func(t *testing.T) {
		t.Parallel()
		p := NewTrendPredictor(cfg)
		observeCounts(p, "l1", 9, 7, 5, 3)

		tr := p.Predict("l1")
		assert.Equal(t, TrendFalling, tr.Direction)
		assert.InDelta(t, -2, tr.Slope, 1e-9)
		assert.InDelta(t, 1, tr.NextCount, 1e-9)
	})

	t.Run("slope inside the flat band reads flat", func(t *testing.T) {
		t.Parallel()
		p := NewTrendPredictor(cfg)
		observeCounts(p, "l1", 5, 5, 5, 5, 6) // slope 0.2 with band 0.15 rises
		assert.Equal(t, TrendRising, p.Predict("l1").Direction)

		q := NewTrendPredictor(cfg)
		observeCounts(q, "l1", 5, 5, 6, 5, 5) // symmetric bump: slope 0
		tr := q.Predict("l1")
		assert.Equal(t, TrendFlat, tr.Direction)
		assert.InDelta(t, 0, tr.Slope, 1e-9)
	})

	t.Run("prediction never goes negative", func(t *testing.T) {
		t.Parallel()
		p := NewTrendPredictor(cfg)
		observeCounts(p, "l1", 4, 2, 0)

		tr := p.Predict("l1")
		assert.Equal(t, TrendFalling, tr.Direction)
		assert.Zero(t, tr.NextCount)
	})

	t.Run("too few samples is insufficient data", func(t *testing.T) {
		t.Parallel()
		p := NewTrendPredictor(cfg)
		observeCounts(p, "l1", 3, 4)

		tr := p.Predict("l1")
		assert.Equal(t, TrendInsufficientData, tr.Direction)
		assert.Zero(t, tr.Slope)
		assert.Equal(t, 2, tr.Samples)

		// An unobserved lane is also insufficient.
		assert.Equal(t, TrendInsufficientData, p.Predict("ghost").Direction)
	})

	t.Run("window keeps only the most recent samples", func(t *testing.T) {
		t.Parallel()
		p := NewTrendPredictor(TrendConfig{Window: 4, FlatBand: 0.15, MinSamples: 3})
		// Old falling run scrolls out, leaving a rising tail.
		observeCounts(p, "l1", 9, 8, 7, 1, 2, 3, 4)

		tr := p.Predict("l1")
		assert.Equal(t, 4, tr.Samples)
		assert.Equal(t, TrendRising, tr.Direction)
		assert.InDelta(t, 1, tr.Slope, 1e-9)
	})

	t.Run("minimum sample floor is enforced", func(t *testing.T) {
		t.Parallel()
		p := NewTrendPredictor(TrendConfig{Window: 10, FlatBand: 0.15, MinSamples: 1})
		observeCounts(p, "l1", 1, 2)
		assert.Equal(t, TrendInsufficientData, p.Predict("l1").Direction)
	})

	t.Run("predict all covers every observed lane", func(t *testing.T) {
		t.Parallel()
		p := NewTrendPredictor(cfg)
		observeCounts(p, "l1", 1, 2, 3)
		observeCounts(p, "l2", 3, 2, 1)

		all := p.PredictAll()
		require.Len(t, all, 2)
		assert.Equal(t, TrendRising, all["l1"].Direction)
		assert.Equal(t, TrendFalling, all["l2"].Direction)
	})
}
