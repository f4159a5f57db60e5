package traffic

import (
	"gonum.org/v1/gonum/stat"
)

// TrendDirection classifies the short-horizon slope of a lane metric.
type TrendDirection string

const (
	TrendRising           TrendDirection = "rising"
	TrendFalling          TrendDirection = "falling"
	TrendFlat             TrendDirection = "flat"
	TrendInsufficientData TrendDirection = "insufficient-data"
)

// Trend is a per-lane short-term prediction fitted over the rolling metric
// window: slope sign with a flat-band tolerance, plus a one-step-ahead
// predicted occupancy count.
type Trend struct {
	LaneID    LaneID         `json:"lane_id"`
	Direction TrendDirection `json:"direction"`
	Slope     float64        `json:"slope"`
	NextCount float64        `json:"next_count"`
	Samples   int            `json:"samples"`
}

// TrendConfig holds the regression window tunables.
type TrendConfig struct {
	// Window is the number of recent metric samples retained per lane.
	Window int

	// FlatBand is the slope magnitude below which the trend reads flat.
	FlatBand float64

	// MinSamples is the minimum window fill before predicting; below it the
	// direction is insufficient-data.
	MinSamples int
}

// TrendPredictor keeps a fixed-length rolling window of occupancy counts
// per lane and fits a least-squares line on each tick. It holds no state
// beyond the windows themselves.
type TrendPredictor struct {
	cfg     TrendConfig
	perLane map[LaneID][]float64
}

// NewTrendPredictor returns an empty predictor.
func NewTrendPredictor(cfg TrendConfig) *TrendPredictor {
	if cfg.MinSamples < 3 {
		cfg.MinSamples = 3
	}
	return &TrendPredictor{
		cfg:     cfg,
		perLane: make(map[LaneID][]float64),
	}
}

// Observe appends one tick's lane metrics to the rolling windows.
func (p *TrendPredictor) Observe(metrics []LaneWindowMetrics) {
	for _, m := range metrics {
		w := append(p.perLane[m.LaneID], float64(m.Count))
		if len(w) > p.cfg.Window {
			w = w[len(w)-p.cfg.Window:]
		}
		p.perLane[m.LaneID] = w
	}
}

// Predict fits y = alpha + beta·x over the lane's window (x is the sample
// index) and classifies the slope. Fewer than MinSamples samples →
// insufficient-data with a zero prediction.
func (p *TrendPredictor) Predict(lane LaneID) Trend {
	w := p.perLane[lane]
	t := Trend{LaneID: lane, Samples: len(w)}
	if len(w) < p.cfg.MinSamples {
		t.Direction = TrendInsufficientData
		return t
	}

	xs := make([]float64, len(w))
	for i := range xs {
		xs[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(xs, w, nil, false)

	t.Slope = beta
	t.NextCount = alpha + beta*float64(len(w))
	if t.NextCount < 0 {
		t.NextCount = 0
	}
	switch {
	case beta > p.cfg.FlatBand:
		t.Direction = TrendRising
	case beta < -p.cfg.FlatBand:
		t.Direction = TrendFalling
	default:
		t.Direction = TrendFlat
	}
	return t
}

// PredictAll returns one trend per lane currently observed, keyed by lane.
func (p *TrendPredictor) PredictAll() map[LaneID]Trend {
	out := make(map[LaneID]Trend, len(p.perLane))
	for lane := range p.perLane {
		out[lane] = p.Predict(lane)
	}
	return out
}
