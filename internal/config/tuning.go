package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// LaneConfig declares one lane region. Declaration order matters: when
// polygons overlap, the earlier lane wins assignment.
type LaneConfig struct {
	ID      string       `json:"id"`
	Name    string       `json:"name,omitempty"`
	Polygon [][2]float64 `json:"polygon"`

	// PixelsPerMeter overrides the global calibration for this lane.
	// Absent falls back to the global scale; an explicit zero marks the
	// lane deliberately uncalibrated (speed stays unknown).
	PixelsPerMeter *float64 `json:"pixels_per_meter,omitempty"`

	// Capacity overrides the global lane capacity used for LOS density.
	Capacity *int `json:"capacity,omitempty"`
}

// TuningConfig represents the root configuration. The schema matches the
// /api/params endpoint so the same JSON serves startup configuration and
// runtime updates. Fields omitted from the JSON keep their defaults, so
// partial configs are safe.
type TuningConfig struct {
	// Geometry and calibration
	Lanes          []LaneConfig `json:"lanes,omitempty"`
	FrameWidthPx   *int         `json:"frame_width_px,omitempty"`
	FrameHeightPx  *int         `json:"frame_height_px,omitempty"`
	PixelsPerMeter *float64     `json:"pixels_per_meter,omitempty"`
	LaneCapacity   *int         `json:"lane_capacity,omitempty"`

	// Speed estimation
	SpeedSmoothingAlpha *float64 `json:"speed_smoothing_alpha,omitempty"`
	MinSampleInterval   *string  `json:"min_sample_interval,omitempty"` // duration string like "40ms"
	SpeedLimitKmh       *float64 `json:"speed_limit_kmh,omitempty"`

	// Incident detection
	StationaryTolerancePx *float64 `json:"stationary_tolerance_px,omitempty"`
	IncidentDwell         *string  `json:"incident_dwell,omitempty"`
	MotionWindow          *string  `json:"motion_window,omitempty"`

	// Emergency priority
	EmergencyClasses  []string `json:"emergency_classes,omitempty"`
	EmergencySpeedKmh *float64 `json:"emergency_speed_kmh,omitempty"`
	PriorityExtension *string  `json:"priority_extension,omitempty"`
	PriorityCooldown  *string  `json:"priority_cooldown,omitempty"`

	// Windowing
	TickInterval    *string `json:"tick_interval,omitempty"`
	HistoryDuration *string `json:"history_duration,omitempty"`
	FlowWindow      *string `json:"flow_window,omitempty"`
	EvictTimeout    *string `json:"evict_timeout,omitempty"`
	MaxTrackHistory *int    `json:"max_track_history,omitempty"`

	// Level of service: five ascending density breakpoints A→E; above the
	// last is F.
	LOSDensityBreaks []float64 `json:"los_density_breaks,omitempty"`

	// Trend prediction
	TrendWindow     *int     `json:"trend_window,omitempty"`
	TrendFlatBand   *float64 `json:"trend_flat_band,omitempty"`
	TrendMinSamples *int     `json:"trend_min_samples,omitempty"`

	// Heatmap
	HeatmapCellPx *int     `json:"heatmap_cell_px,omitempty"`
	HeatmapDecay  *float64 `json:"heatmap_decay,omitempty"`
	HeatmapWeight *float64 `json:"heatmap_weight,omitempty"`

	// Signal plan suggestion
	PlanSecondsPerVehicle *float64 `json:"plan_seconds_per_vehicle,omitempty"`
	PlanTrendGain         *float64 `json:"plan_trend_gain,omitempty"`
	PlanMinGreenSeconds   *float64 `json:"plan_min_green_seconds,omitempty"`
	PlanMaxGreenSeconds   *float64 `json:"plan_max_green_seconds,omitempty"`
	PlanWaitScale         *float64 `json:"plan_wait_scale,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file is
// validated to have a .json extension and to be under the max file size.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath, searching the current directory and common parent
// directories. Panics if the file cannot be loaded — intended for tests
// and binaries that have already validated config availability.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that configured values are usable. Lane polygon geometry
// is validated separately when the assigner is built.
func (c *TuningConfig) Validate() error {
	if c.SpeedSmoothingAlpha != nil {
		if *c.SpeedSmoothingAlpha < 0 || *c.SpeedSmoothingAlpha > 1 {
			return fmt.Errorf("speed_smoothing_alpha must be in [0,1], got %f", *c.SpeedSmoothingAlpha)
		}
	}
	if c.HeatmapDecay != nil {
		if *c.HeatmapDecay <= 0 || *c.HeatmapDecay > 1 {
			return fmt.Errorf("heatmap_decay must be in (0,1], got %f", *c.HeatmapDecay)
		}
	}
	if len(c.LOSDensityBreaks) != 0 && len(c.LOSDensityBreaks) != 5 {
		return fmt.Errorf("los_density_breaks needs exactly 5 breakpoints, got %d", len(c.LOSDensityBreaks))
	}
	for i := 1; i < len(c.LOSDensityBreaks); i++ {
		if c.LOSDensityBreaks[i] <= c.LOSDensityBreaks[i-1] {
			return fmt.Errorf("los_density_breaks must be strictly ascending")
		}
	}
	durations := []struct {
		field string
		value *string
	}{
		{"min_sample_interval", c.MinSampleInterval},
		{"incident_dwell", c.IncidentDwell},
		{"motion_window", c.MotionWindow},
		{"priority_extension", c.PriorityExtension},
		{"priority_cooldown", c.PriorityCooldown},
		{"tick_interval", c.TickInterval},
		{"history_duration", c.HistoryDuration},
		{"flow_window", c.FlowWindow},
		{"evict_timeout", c.EvictTimeout},
	}
	for _, d := range durations {
		if d.value != nil && *d.value != "" {
			if _, err := time.ParseDuration(*d.value); err != nil {
				return fmt.Errorf("invalid %s %q: %w", d.field, *d.value, err)
			}
		}
	}
	for _, lane := range c.Lanes {
		if lane.ID == "" {
			return fmt.Errorf("lane with empty id")
		}
		if len(lane.Polygon) < 3 {
			return fmt.Errorf("lane %s: polygon needs at least 3 vertices", lane.ID)
		}
	}
	return nil
}

func durationOr(s *string, fallback time.Duration) time.Duration {
	if s == nil || *s == "" {
		return fallback
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return fallback
	}
	return d
}

// GetFrameWidthPx returns the frame width or the default.
func (c *TuningConfig) GetFrameWidthPx() int {
	if c.FrameWidthPx == nil {
		return 1280
	}
	return *c.FrameWidthPx
}

// GetFrameHeightPx returns the frame height or the default.
func (c *TuningConfig) GetFrameHeightPx() int {
	if c.FrameHeightPx == nil {
		return 720
	}
	return *c.FrameHeightPx
}

// GetPixelsPerMeter returns the global calibration scale or the default.
func (c *TuningConfig) GetPixelsPerMeter() float64 {
	if c.PixelsPerMeter == nil {
		return 20.0
	}
	return *c.PixelsPerMeter
}

// GetLaneCapacity returns the default per-lane capacity.
func (c *TuningConfig) GetLaneCapacity() int {
	if c.LaneCapacity == nil {
		return 20
	}
	return *c.LaneCapacity
}

// GetSpeedSmoothingAlpha returns the EMA weight for new speed samples.
func (c *TuningConfig) GetSpeedSmoothingAlpha() float64 {
	if c.SpeedSmoothingAlpha == nil {
		return 0.3
	}
	return *c.SpeedSmoothingAlpha
}

// GetMinSampleInterval returns the minimum displacement elapsed time.
func (c *TuningConfig) GetMinSampleInterval() time.Duration {
	return durationOr(c.MinSampleInterval, 10*time.Millisecond)
}

// GetSpeedLimitKmh returns the violation threshold.
func (c *TuningConfig) GetSpeedLimitKmh() float64 {
	if c.SpeedLimitKmh == nil {
		return 50
	}
	return *c.SpeedLimitKmh
}

// GetStationaryTolerancePx returns the minimal-motion displacement bound.
func (c *TuningConfig) GetStationaryTolerancePx() float64 {
	if c.StationaryTolerancePx == nil {
		return 15
	}
	return *c.StationaryTolerancePx
}

// GetIncidentDwell returns how long a track must stay still before an
// incident opens.
func (c *TuningConfig) GetIncidentDwell() time.Duration {
	return durationOr(c.IncidentDwell, 5*time.Second)
}

// GetMotionWindow returns how far back displacement is measured.
func (c *TuningConfig) GetMotionWindow() time.Duration {
	return durationOr(c.MotionWindow, 2*time.Second)
}

// GetEmergencyClasses returns the classes eligible for emergency flagging.
func (c *TuningConfig) GetEmergencyClasses() []string {
	if len(c.EmergencyClasses) == 0 {
		return []string{"bus", "truck"}
	}
	return c.EmergencyClasses
}

// GetEmergencySpeedKmh returns the minimum speed for emergency flagging.
func (c *TuningConfig) GetEmergencySpeedKmh() float64 {
	if c.EmergencySpeedKmh == nil {
		return 40
	}
	return *c.EmergencySpeedKmh
}

// GetPriorityExtension returns the requested green extension.
func (c *TuningConfig) GetPriorityExtension() time.Duration {
	return durationOr(c.PriorityExtension, 15*time.Second)
}

// GetPriorityCooldown returns the per-lane request cooldown.
func (c *TuningConfig) GetPriorityCooldown() time.Duration {
	return durationOr(c.PriorityCooldown, 25*time.Second)
}

// GetTickInterval returns the aggregation tick period.
func (c *TuningConfig) GetTickInterval() time.Duration {
	return durationOr(c.TickInterval, 3*time.Second)
}

// GetHistoryDuration returns the rolling display-history span.
func (c *TuningConfig) GetHistoryDuration() time.Duration {
	return durationOr(c.HistoryDuration, 2*time.Minute)
}

// GetFlowWindow returns the sliding distinct-entry flow window.
func (c *TuningConfig) GetFlowWindow() time.Duration {
	return durationOr(c.FlowWindow, 60*time.Second)
}

// GetEvictTimeout returns the stale-track eviction timeout.
func (c *TuningConfig) GetEvictTimeout() time.Duration {
	return durationOr(c.EvictTimeout, 3*time.Second)
}

// GetMaxTrackHistory returns the per-track position trail bound.
func (c *TuningConfig) GetMaxTrackHistory() int {
	if c.MaxTrackHistory == nil {
		return 64
	}
	return *c.MaxTrackHistory
}

// GetLOSDensityBreaks returns the five LOS density breakpoints. Defaults
// correspond to 3/6/10/15/22 vehicles in a 20-capacity lane.
func (c *TuningConfig) GetLOSDensityBreaks() [5]float64 {
	if len(c.LOSDensityBreaks) != 5 {
		return [5]float64{0.15, 0.30, 0.50, 0.75, 1.10}
	}
	var b [5]float64
	copy(b[:], c.LOSDensityBreaks)
	return b
}

// GetTrendWindow returns the regression window length in samples.
func (c *TuningConfig) GetTrendWindow() int {
	if c.TrendWindow == nil {
		return 20
	}
	return *c.TrendWindow
}

// GetTrendFlatBand returns the slope magnitude treated as flat.
func (c *TuningConfig) GetTrendFlatBand() float64 {
	if c.TrendFlatBand == nil {
		return 0.15
	}
	return *c.TrendFlatBand
}

// GetTrendMinSamples returns the minimum samples before predicting.
func (c *TuningConfig) GetTrendMinSamples() int {
	if c.TrendMinSamples == nil {
		return 3
	}
	return *c.TrendMinSamples
}

// GetHeatmapCellPx returns the heatmap cell edge in pixels.
func (c *TuningConfig) GetHeatmapCellPx() int {
	if c.HeatmapCellPx == nil {
		return 16
	}
	return *c.HeatmapCellPx
}

// GetHeatmapDecay returns the per-tick heatmap fade factor.
func (c *TuningConfig) GetHeatmapDecay() float64 {
	if c.HeatmapDecay == nil {
		return 0.95
	}
	return *c.HeatmapDecay
}

// GetHeatmapWeight returns the per-observation heatmap contribution.
func (c *TuningConfig) GetHeatmapWeight() float64 {
	if c.HeatmapWeight == nil {
		return 1.0
	}
	return *c.HeatmapWeight
}

// GetPlanSecondsPerVehicle returns the green seconds per occupying vehicle.
func (c *TuningConfig) GetPlanSecondsPerVehicle() float64 {
	if c.PlanSecondsPerVehicle == nil {
		return 3.0
	}
	return *c.PlanSecondsPerVehicle
}

// GetPlanTrendGain returns the slope multiplier in the plan suggestion.
func (c *TuningConfig) GetPlanTrendGain() float64 {
	if c.PlanTrendGain == nil {
		return 4.0
	}
	return *c.PlanTrendGain
}

// GetPlanMinGreenSeconds returns the plan lower clamp.
func (c *TuningConfig) GetPlanMinGreenSeconds() float64 {
	if c.PlanMinGreenSeconds == nil {
		return 15
	}
	return *c.PlanMinGreenSeconds
}

// GetPlanMaxGreenSeconds returns the plan upper clamp.
func (c *TuningConfig) GetPlanMaxGreenSeconds() float64 {
	if c.PlanMaxGreenSeconds == nil {
		return 90
	}
	return *c.PlanMaxGreenSeconds
}

// GetPlanWaitScale returns seconds-waited per bonus green second.
func (c *TuningConfig) GetPlanWaitScale() float64 {
	if c.PlanWaitScale == nil {
		return 5.0
	}
	return *c.PlanWaitScale
}
