package traffic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Varn1t/traffic-intelligence/internal/config"
	"github.com/Varn1t/traffic-intelligence/internal/monitoring"
	"github.com/Varn1t/traffic-intelligence/internal/timeutil"
)

// EngineConfig collects every tunable the analytics engine needs.
type EngineConfig struct {
	Lanes         []Lane
	FrameWidthPx  int
	FrameHeightPx int

	TickInterval    time.Duration
	HistoryDuration time.Duration

	Manager    ManagerConfig
	Aggregator AggregatorConfig
	Trend      TrendConfig
	Priority   PriorityConfig
	Heatmap    HeatmapConfig
	Plan       PlanConfig
}

// EngineConfigFromTuning builds an EngineConfig from a loaded TuningConfig.
// Use this in production code where the TuningConfig is already loaded.
func EngineConfigFromTuning(cfg *config.TuningConfig) EngineConfig {
	lanes := make([]Lane, 0, len(cfg.Lanes))
	for _, lc := range cfg.Lanes {
		poly := make([]Point, len(lc.Polygon))
		for i, v := range lc.Polygon {
			poly[i] = Point{X: v[0], Y: v[1]}
		}
		ppm := cfg.GetPixelsPerMeter()
		if lc.PixelsPerMeter != nil {
			ppm = *lc.PixelsPerMeter
		}
		capacity := cfg.GetLaneCapacity()
		if lc.Capacity != nil {
			capacity = *lc.Capacity
		}
		lanes = append(lanes, Lane{
			ID:             LaneID(lc.ID),
			Name:           lc.Name,
			Polygon:        poly,
			PixelsPerMeter: ppm,
			Capacity:       capacity,
		})
	}

	return EngineConfig{
		Lanes:           lanes,
		FrameWidthPx:    cfg.GetFrameWidthPx(),
		FrameHeightPx:   cfg.GetFrameHeightPx(),
		TickInterval:    cfg.GetTickInterval(),
		HistoryDuration: cfg.GetHistoryDuration(),
		Manager: ManagerConfig{
			MaxHistoryLength:  cfg.GetMaxTrackHistory(),
			EvictTimeout:      cfg.GetEvictTimeout(),
			SpeedLimitKmh:     cfg.GetSpeedLimitKmh(),
			EmergencyClasses:  cfg.GetEmergencyClasses(),
			EmergencySpeedKmh: cfg.GetEmergencySpeedKmh(),
			Speed: SpeedEstimatorConfig{
				SmoothingAlpha:    cfg.GetSpeedSmoothingAlpha(),
				MinSampleInterval: cfg.GetMinSampleInterval(),
			},
			Incident: IncidentConfig{
				MotionTolerancePx: cfg.GetStationaryTolerancePx(),
				DwellThreshold:    cfg.GetIncidentDwell(),
				MotionWindow:      cfg.GetMotionWindow(),
			},
		},
		Aggregator: AggregatorConfig{
			Breaks:     LOSBreaks(cfg.GetLOSDensityBreaks()),
			FlowWindow: cfg.GetFlowWindow(),
		},
		Trend: TrendConfig{
			Window:     cfg.GetTrendWindow(),
			FlatBand:   cfg.GetTrendFlatBand(),
			MinSamples: cfg.GetTrendMinSamples(),
		},
		Priority: PriorityConfig{
			Extension: cfg.GetPriorityExtension(),
			Cooldown:  cfg.GetPriorityCooldown(),
		},
		Heatmap: HeatmapConfig{
			FrameWidthPx:  cfg.GetFrameWidthPx(),
			FrameHeightPx: cfg.GetFrameHeightPx(),
			CellPx:        cfg.GetHeatmapCellPx(),
			Weight:        cfg.GetHeatmapWeight(),
			Decay:         cfg.GetHeatmapDecay(),
		},
		Plan: PlanConfig{
			SecondsPerVehicle: cfg.GetPlanSecondsPerVehicle(),
			TrendGain:         cfg.GetPlanTrendGain(),
			MinGreenSeconds:   cfg.GetPlanMinGreenSeconds(),
			MaxGreenSeconds:   cfg.GetPlanMaxGreenSeconds(),
			WaitScale:         cfg.GetPlanWaitScale(),
		},
	}
}

// SessionStats summarises the run since startup.
type SessionStats struct {
	StartedAt        time.Time `json:"started_at"`
	UniqueTracks     int64     `json:"unique_tracks"`
	PeakConcurrent   int       `json:"peak_concurrent"`
	FramesIngested   int64     `json:"frames_ingested"`
	DroppedObs       int64     `json:"dropped_observations"`
	TotalIncidents   int64     `json:"total_incidents"`
	TotalViolations  int64     `json:"total_violations"`
	PriorityRequests int64     `json:"priority_requests"`
}

// TickSnapshot is the per-tick output bundle handed to the dashboard sink
// and retained for pull-style API reads.
type TickSnapshot struct {
	At        time.Time           `json:"at"`
	Lanes     []LaneWindowMetrics `json:"lanes"`
	Trends    map[LaneID]Trend    `json:"trends"`
	Incidents []Incident          `json:"incidents"`
	Plans     []SignalPlan        `json:"plans"`
	Stats     SessionStats        `json:"stats"`
}

// Engine is the stateful analytics core. Processing is organised around a
// fixed-rate tick: ingestion updates per-track state, the tick evicts
// stale tracks, aggregates a consistent snapshot, predicts trends, appends
// history, fades the heatmap and evaluates priority. Ingest and tick
// serialise on the engine mutex — the single-writer-per-tick model — while
// API readers get copies.
type Engine struct {
	cfg   EngineConfig
	clock timeutil.Clock

	mu       sync.RWMutex
	assigner *Assigner
	tracks   *Manager
	agg      *Aggregator
	trend    *TrendPredictor
	history  *HistoryBuffer
	heatmap  *Heatmap
	priority *PriorityController
	planner  *Planner

	stats    SessionStats
	latest   TickSnapshot
	incident map[string]Incident // open incidents by id

	dispatch  *dispatcher
	dashboard DashboardSink
}

// NewEngine validates the lane set and wires the pipeline. Sinks may be
// nil; a nil sink is simply never fed.
func NewEngine(cfg EngineConfig, clock timeutil.Clock, logSink LogSink, signalSink SignalSink, dashboard DashboardSink) (*Engine, error) {
	assigner, err := NewAssigner(cfg.Lanes)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	agg, err := NewAggregator(cfg.Aggregator, cfg.Lanes)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("engine: tick interval must be positive, got %v", cfg.TickInterval)
	}
	buckets := int(cfg.HistoryDuration / cfg.TickInterval)
	if buckets < 1 {
		buckets = 1
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	e := &Engine{
		cfg:      cfg,
		clock:    clock,
		assigner: assigner,
		tracks:   NewManager(cfg.Manager),
		agg:      agg,
		trend:    NewTrendPredictor(cfg.Trend),
		history:  NewHistoryBuffer(buckets),
		heatmap:  NewHeatmap(cfg.Heatmap),
		priority: NewPriorityController(cfg.Priority),
		planner:  NewPlanner(cfg.Plan),
		incident: make(map[string]Incident),
		dispatch: newDispatcher(logSink, signalSink),
	}
	e.stats.StartedAt = clock.Now()
	e.dashboard = dashboard
	return e, nil
}

// IngestFrame processes one frame's observation batch: lane assignment,
// track updates, heatmap deposits. Malformed observations are dropped
// individually and never abort the batch.
func (e *Engine) IngestFrame(batch FrameBatch) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.FramesIngested++
	for _, obs := range batch.Observations {
		if obs.CapturedAt.IsZero() {
			obs.CapturedAt = batch.CapturedAt
		}
		if obs.FrameIndex == 0 {
			obs.FrameIndex = batch.FrameIndex
		}
		if err := obs.Validate(); err != nil {
			e.stats.DroppedObs++
			monitoring.Logf("ingest: dropping observation: %v", err)
			continue
		}

		laneID := e.assigner.Assign(obs)
		ppm := 0.0
		if lane, ok := e.assigner.Lane(laneID); ok {
			ppm = lane.PixelsPerMeter
		}

		events, entered := e.tracks.Update(obs, laneID, ppm)
		if entered {
			e.agg.RecordEntry(laneID, obs.CapturedAt)
		}
		e.heatmap.Add(obs.BBox.Anchor())
		e.handleEvents(events)
	}
}

// handleEvents updates session counters and incident bookkeeping, then
// forwards everything to the sinks. Callers hold the engine lock.
func (e *Engine) handleEvents(events []Event) {
	for _, ev := range events {
		switch ev.Kind {
		case EventSpeedViolation:
			e.stats.TotalViolations++
		case EventIncidentOpen:
			e.stats.TotalIncidents++
			e.incident[ev.Incident.ID] = *ev.Incident
		case EventIncidentClosed:
			delete(e.incident, ev.Incident.ID)
		case EventPriorityRequest:
			e.stats.PriorityRequests++
		}
		e.dispatch.emit(ev)
	}
}

// Tick runs one aggregation pass at now: evict stale tracks first (so a
// just-timed-out track is never counted), then fold a consistent snapshot
// into per-lane metrics, trends, history, heatmap decay, priority and the
// signal plan. The finished snapshot goes to the dashboard sink.
func (e *Engine) Tick(now time.Time) TickSnapshot {
	e.mu.Lock()

	_, closeEvents := e.tracks.EvictStale(now)
	e.handleEvents(closeEvents)

	snapshot := e.tracks.Snapshot()

	metrics := e.agg.Tick(now, snapshot)
	e.trend.Observe(metrics)
	trends := make(map[LaneID]Trend, len(metrics))
	for _, m := range metrics {
		trends[m.LaneID] = e.trend.Predict(m.LaneID)
	}

	bucket := HistoryBucket{At: now, Lanes: make(map[LaneID]LaneWindowMetrics, len(metrics))}
	for _, m := range metrics {
		bucket.Lanes[m.LaneID] = m
	}
	e.history.Append(bucket)

	e.heatmap.Fade()

	for _, req := range e.priority.Evaluate(now, snapshot) {
		req := req
		e.handleEvents([]Event{{
			Kind:    EventPriorityRequest,
			At:      now,
			TrackID: req.ReasonTrackID,
			LaneID:  req.LaneID,
			Request: &req,
		}})
	}

	plans := e.planner.Suggest(now, metrics, trends)

	open := make([]Incident, 0, len(e.incident))
	for _, inc := range e.incident {
		open = append(open, inc)
	}

	snap := TickSnapshot{
		At:        now,
		Lanes:     metrics,
		Trends:    trends,
		Incidents: open,
		Plans:     plans,
		Stats:     e.stats,
	}
	snap.Stats.UniqueTracks, snap.Stats.PeakConcurrent = e.tracks.SessionCounters()
	e.stats.UniqueTracks = snap.Stats.UniqueTracks
	e.stats.PeakConcurrent = snap.Stats.PeakConcurrent
	e.latest = snap

	dashboard := e.dashboard
	e.mu.Unlock()

	// Publish outside the lock: the dashboard sink is an observer and must
	// not be able to stall the next ingest.
	if dashboard != nil {
		dashboard.PublishSnapshot(snap)
	}
	return snap
}

// Run drives Tick at the configured interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := e.clock.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			e.Tick(now)
		}
	}
}

// Close flushes the sink dispatcher. Call after Run has returned.
func (e *Engine) Close() {
	e.dispatch.close()
}

// Latest returns the most recent tick snapshot.
func (e *Engine) Latest() TickSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// History returns the retained history buckets, oldest first.
func (e *Engine) History() []HistoryBucket {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.history.Snapshot()
}

// HeatmapGrid returns a copy of the occupancy grid.
func (e *Engine) HeatmapGrid() (cells []float64, cols, rows int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.heatmap.Grid()
}

// HeatmapPlot returns the heatmap behind the engine lock released; the
// returned value is a point-in-time copy that satisfies the gonum/plot
// GridXYZ contract for rendering.
func (e *Engine) HeatmapPlot() *Heatmap {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cells, cols, rows := e.heatmap.Grid()
	copied := *e.heatmap
	copied.cells = cells
	copied.cols = cols
	copied.rows = rows
	return &copied
}

// ActiveIncidents returns copies of the currently open incidents.
func (e *Engine) ActiveIncidents() []Incident {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Incident, 0, len(e.incident))
	for _, inc := range e.incident {
		out = append(out, inc)
	}
	return out
}

// Stats returns the session counters.
func (e *Engine) Stats() SessionStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.stats
	s.UniqueTracks, s.PeakConcurrent = e.tracks.SessionCounters()
	return s
}

// RuntimeParams are the tunables safe to change while the engine runs.
// Structural settings (lane geometry, tick interval, grid size) need a
// restart.
type RuntimeParams struct {
	SpeedLimitKmh     float64       `json:"speed_limit_kmh"`
	EmergencySpeedKmh float64       `json:"emergency_speed_kmh"`
	PriorityExtension time.Duration `json:"priority_extension"`
	PriorityCooldown  time.Duration `json:"priority_cooldown"`
	TrendFlatBand     float64       `json:"trend_flat_band"`
	Plan              PlanConfig    `json:"plan"`
}

// Validate rejects parameter sets that would wedge the pipeline.
func (p RuntimeParams) Validate() error {
	if p.SpeedLimitKmh <= 0 {
		return fmt.Errorf("speed limit must be positive, got %v", p.SpeedLimitKmh)
	}
	if p.EmergencySpeedKmh < 0 {
		return fmt.Errorf("emergency speed threshold must be non-negative, got %v", p.EmergencySpeedKmh)
	}
	if p.PriorityExtension <= 0 || p.PriorityCooldown < 0 {
		return fmt.Errorf("priority extension must be positive and cooldown non-negative")
	}
	if p.TrendFlatBand < 0 {
		return fmt.Errorf("trend flat band must be non-negative, got %v", p.TrendFlatBand)
	}
	if p.Plan.MinGreenSeconds < 0 || p.Plan.MaxGreenSeconds < p.Plan.MinGreenSeconds {
		return fmt.Errorf("plan green bounds invalid: min %v, max %v", p.Plan.MinGreenSeconds, p.Plan.MaxGreenSeconds)
	}
	return nil
}

func (e *Engine) paramsLocked() RuntimeParams {
	mc := e.tracks.Config()
	return RuntimeParams{
		SpeedLimitKmh:     mc.SpeedLimitKmh,
		EmergencySpeedKmh: mc.EmergencySpeedKmh,
		PriorityExtension: e.priority.cfg.Extension,
		PriorityCooldown:  e.priority.cfg.Cooldown,
		TrendFlatBand:     e.trend.cfg.FlatBand,
		Plan:              e.planner.cfg,
	}
}

// Params returns the current runtime tunables.
func (e *Engine) Params() RuntimeParams {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.paramsLocked()
}

// UpdateParams applies the given function to the runtime tunables under
// the engine lock, validates the result, and writes it through to the
// pipeline components. This is the safe way to mutate tunables from
// outside the tick goroutine (e.g. HTTP tuning handlers).
func (e *Engine) UpdateParams(fn func(*RuntimeParams)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.paramsLocked()
	fn(&p)
	if err := p.Validate(); err != nil {
		return fmt.Errorf("update params: %w", err)
	}

	e.tracks.UpdateConfig(func(mc *ManagerConfig) {
		mc.SpeedLimitKmh = p.SpeedLimitKmh
		mc.EmergencySpeedKmh = p.EmergencySpeedKmh
	})
	e.priority.cfg.Extension = p.PriorityExtension
	e.priority.cfg.Cooldown = p.PriorityCooldown
	e.trend.cfg.FlatBand = p.TrendFlatBand
	e.planner.cfg = p.Plan
	return nil
}

// Lanes returns the configured lanes in declaration order.
func (e *Engine) Lanes() []Lane {
	return e.assigner.Lanes()
}

// Tracks returns deep copies of the live track states.
func (e *Engine) Tracks() []*TrackState {
	return e.tracks.Snapshot()
}
