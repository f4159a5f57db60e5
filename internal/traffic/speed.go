package traffic

import (
	"math"
	"time"

	"github.com/Varn1t/traffic-intelligence/internal/units"
)

// Speed is a calibrated speed estimate. Known distinguishes "measured zero"
// (a genuinely stopped vehicle) from "no data yet" — the two must never be
// conflated.
type Speed struct {
	Kmh   float64 `json:"kmh"`
	Known bool    `json:"known"`
}

// SpeedEstimatorConfig holds the tunables for per-track speed estimation.
type SpeedEstimatorConfig struct {
	// SmoothingAlpha weights the newest instantaneous sample in [0,1].
	// Higher is more responsive, lower suppresses detector jitter harder.
	SmoothingAlpha float64

	// MinSampleInterval rejects displacement samples whose elapsed time is
	// too small to divide by (duplicate or reordered frame timestamps).
	MinSampleInterval time.Duration
}

// SpeedEstimator converts pixel displacement into a smoothed real-world
// speed. It is stateless: the previous estimate travels with the track.
type SpeedEstimator struct {
	cfg SpeedEstimatorConfig
}

// NewSpeedEstimator clamps alpha into [0,1] and returns an estimator.
func NewSpeedEstimator(cfg SpeedEstimatorConfig) *SpeedEstimator {
	if cfg.SmoothingAlpha < 0 {
		cfg.SmoothingAlpha = 0
	}
	if cfg.SmoothingAlpha > 1 {
		cfg.SmoothingAlpha = 1
	}
	return &SpeedEstimator{cfg: cfg}
}

// Estimate computes the speed after appending the newest history sample.
//
//   - Fewer than 2 samples → previous estimate unchanged (unknown on a
//     fresh track).
//   - Elapsed time ≤ MinSampleInterval → previous estimate retained.
//   - pixelsPerMeter ≤ 0 (uncalibrated lane) → unknown.
//
// The instantaneous speed from the most recent displacement is blended
// into the previous estimate with exponential smoothing. The result is
// never negative: displacement magnitude is non-negative by construction.
func (e *SpeedEstimator) Estimate(prev Speed, history []PositionSample, pixelsPerMeter float64) Speed {
	if len(history) < 2 {
		return prev
	}
	if pixelsPerMeter <= 0 {
		return Speed{}
	}
	last := history[len(history)-1]
	before := history[len(history)-2]
	dt := last.At.Sub(before.At)
	if dt <= e.cfg.MinSampleInterval {
		return prev
	}

	dx := last.Pos.X - before.Pos.X
	dy := last.Pos.Y - before.Pos.Y
	instKmh := units.KmhFromPixels(math.Hypot(dx, dy), pixelsPerMeter, dt.Seconds())

	if !prev.Known {
		return Speed{Kmh: instKmh, Known: true}
	}
	a := e.cfg.SmoothingAlpha
	return Speed{Kmh: a*instKmh + (1-a)*prev.Kmh, Known: true}
}

// violationBucket quantises a speed into 10 km/h buckets above the limit.
// The logging sink gets one violation event per bucket change rather than
// one per frame — the original speed-camera re-log rule.
func violationBucket(kmh, limitKmh float64) int {
	if kmh <= limitKmh {
		return 0
	}
	return int(kmh/10) + 1
}
