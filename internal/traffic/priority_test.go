package traffic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emergencyTrack(id int64, lane LaneID) *TrackState {
	return &TrackState{TrackID: id, LaneID: lane, Class: "bus", Emergency: true}
}

func TestPriorityController(t *testing.T) {
	t.Parallel()
	base := time.Unix(1700000000, 0)
	cfg := PriorityConfig{Extension: 20 * time.Second, Cooldown: 25 * time.Second}

	t.Run("emergency track triggers one request with the configured extension", func(t *testing.T) {
		t.Parallel()
		c := NewPriorityController(cfg)

		reqs := c.Evaluate(base, []*TrackState{emergencyTrack(1, "l1")})
		require.Len(t, reqs, 1)
		assert.Equal(t, LaneID("l1"), reqs[0].LaneID)
		assert.Equal(t, 20*time.Second, reqs[0].Extension)
		assert.Equal(t, int64(1), reqs[0].ReasonTrackID)
		assert.Equal(t, base, reqs[0].IssuedAt)
	})

	t.Run("non-emergency and unassigned tracks are ignored", func(t *testing.T) {
		t.Parallel()
		c := NewPriorityController(cfg)

		reqs := c.Evaluate(base, []*TrackState{
			{TrackID: 1, LaneID: "l1", Emergency: false},
			emergencyTrack(2, LaneUnassigned),
		})
		assert.Empty(t, reqs)
	})

	t.Run("at most one request per lane per tick", func(t *testing.T) {
		t.Parallel()
		c := NewPriorityController(cfg)

		reqs := c.Evaluate(base, []*TrackState{
			emergencyTrack(1, "l1"),
			emergencyTrack(2, "l1"),
		})
		require.Len(t, reqs, 1)
	})

	t.Run("distinct lanes each get a request in the same tick", func(t *testing.T) {
		t.Parallel()
		c := NewPriorityController(cfg)

		reqs := c.Evaluate(base, []*TrackState{
			emergencyTrack(1, "l1"),
			emergencyTrack(2, "l2"),
		})
		require.Len(t, reqs, 2)
		lanes := map[LaneID]bool{reqs[0].LaneID: true, reqs[1].LaneID: true}
		assert.True(t, lanes["l1"])
		assert.True(t, lanes["l2"])
	})

	t.Run("cooldown suppresses repeats until it expires", func(t *testing.T) {
		t.Parallel()
		c := NewPriorityController(cfg)
		snapshot := []*TrackState{emergencyTrack(1, "l1")}

		require.Len(t, c.Evaluate(base, snapshot), 1)
		assert.Empty(t, c.Evaluate(base.Add(10*time.Second), snapshot))
		assert.Empty(t, c.Evaluate(base.Add(24*time.Second), snapshot))
		assert.Len(t, c.Evaluate(base.Add(25*time.Second), snapshot), 1)
	})

	t.Run("cooldowns run independently per lane", func(t *testing.T) {
		t.Parallel()
		c := NewPriorityController(cfg)

		require.Len(t, c.Evaluate(base, []*TrackState{emergencyTrack(1, "l1")}), 1)

		// l1 is cooling down, l2 is fresh.
		reqs := c.Evaluate(base.Add(10*time.Second), []*TrackState{
			emergencyTrack(1, "l1"),
			emergencyTrack(2, "l2"),
		})
		require.Len(t, reqs, 1)
		assert.Equal(t, LaneID("l2"), reqs[0].LaneID)
	})
}
