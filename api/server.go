// Package api serves the dashboard: REST reads over the engine's latest
// tick state and the event store, a WebSocket live stream, runtime tuning,
// and an HTTP ingest fallback for deployments that cannot send UDP.
package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Varn1t/traffic-intelligence/db"
	"github.com/Varn1t/traffic-intelligence/internal/monitoring"
	"github.com/Varn1t/traffic-intelligence/internal/traffic"
)

// ANSI escape codes for the request log line
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	engine *traffic.Engine
	db     *db.DB
	live   *LiveHub
}

// NewServer wires the handlers to the engine and event store. The db may
// be nil when persistence is disabled; db-backed endpoints then return 503.
func NewServer(engine *traffic.Engine, database *db.DB) *Server {
	return NewServerWithHub(engine, database, NewLiveHub())
}

// NewServerWithHub reuses an existing live hub, for daemons that construct
// the hub first so the engine can publish to it.
func NewServerWithHub(engine *traffic.Engine, database *db.DB, live *LiveHub) *Server {
	return &Server{
		engine: engine,
		db:     database,
		live:   live,
	}
}

// Live returns the WebSocket hub so the daemon can register it as the
// engine's dashboard sink.
func (s *Server) Live() *LiveHub { return s.live }

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack is needed so the WebSocket upgrade works through the middleware.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/lanes", s.listLanes)
	mux.HandleFunc("/api/metrics", s.showMetrics)
	mux.HandleFunc("/api/incidents", s.listIncidents)
	mux.HandleFunc("/api/trends", s.showTrends)
	mux.HandleFunc("/api/history", s.showHistory)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/signalplan", s.showSignalPlan)
	mux.HandleFunc("/api/speeds", s.listSpeeds)
	mux.HandleFunc("/api/heatmap.png", s.renderHeatmap)
	mux.HandleFunc("/api/params", s.handleParams)
	mux.HandleFunc("/api/frames", s.ingestFrame)
	mux.HandleFunc("/api/live", s.live.Handle)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("api: failed to write response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

// timeRange parses optional RFC3339 start/end query parameters, defaulting
// to the last hour.
func timeRange(r *http.Request) (start, end time.Time, err error) {
	end = time.Now()
	start = end.Add(-time.Hour)
	if v := r.URL.Query().Get("start"); v != "" {
		if start, err = time.Parse(time.RFC3339, v); err != nil {
			return start, end, fmt.Errorf("invalid 'start': %w", err)
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if end, err = time.Parse(time.RFC3339, v); err != nil {
			return start, end, fmt.Errorf("invalid 'end': %w", err)
		}
	}
	return start, end, nil
}

func limitParam(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func (s *Server) listLanes(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	s.writeJSON(w, s.engine.Lanes())
}

func (s *Server) showMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	s.writeJSON(w, s.engine.Latest())
}

// listIncidents returns the currently open incidents, or the persisted
// incident log when a start/end range is supplied.
func (s *Server) listIncidents(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	if r.URL.Query().Get("start") == "" && r.URL.Query().Get("end") == "" {
		s.writeJSON(w, s.engine.ActiveIncidents())
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "event store disabled")
		return
	}
	start, end, err := timeRange(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.db.Incidents(start, end, limitParam(r))
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to query incidents: %v", err))
		return
	}
	s.writeJSON(w, rows)
}

func (s *Server) showTrends(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	s.writeJSON(w, s.engine.Latest().Trends)
}

func (s *Server) showHistory(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	s.writeJSON(w, s.engine.History())
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	s.writeJSON(w, s.engine.Stats())
}

func (s *Server) showSignalPlan(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	s.writeJSON(w, s.engine.Latest().Plans)
}

// listSpeeds serves the persisted speed log. ?kind=violations switches to
// the violation table.
func (s *Server) listSpeeds(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "event store disabled")
		return
	}
	start, end, err := timeRange(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var rows []db.SpeedSample
	if r.URL.Query().Get("kind") == "violations" {
		rows, err = s.db.SpeedViolations(start, end, limitParam(r))
	} else {
		rows, err = s.db.SpeedSamples(start, end, limitParam(r))
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to query speeds: %v", err))
		return
	}
	s.writeJSON(w, rows)
}

// ingestFrame accepts one FrameBatch as a JSON body. HTTP fallback for
// collaborators that cannot reach the UDP ingest port.
func (s *Server) ingestFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var batch traffic.FrameBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid frame batch: %v", err))
		return
	}
	s.engine.IngestFrame(batch)
	w.WriteHeader(http.StatusAccepted)
}

// paramsPayload is the wire shape for runtime tuning. Durations use Go
// duration strings, matching the config file.
type paramsPayload struct {
	SpeedLimitKmh     float64 `json:"speed_limit_kmh"`
	EmergencySpeedKmh float64 `json:"emergency_speed_kmh"`
	PriorityExtension string  `json:"priority_extension"`
	PriorityCooldown  string  `json:"priority_cooldown"`
	TrendFlatBand     float64 `json:"trend_flat_band"`

	PlanSecondsPerVehicle float64 `json:"plan_seconds_per_vehicle"`
	PlanTrendGain         float64 `json:"plan_trend_gain"`
	PlanMinGreenSeconds   float64 `json:"plan_min_green_seconds"`
	PlanMaxGreenSeconds   float64 `json:"plan_max_green_seconds"`
	PlanWaitScale         float64 `json:"plan_wait_scale"`
}

func payloadFromParams(p traffic.RuntimeParams) paramsPayload {
	return paramsPayload{
		SpeedLimitKmh:         p.SpeedLimitKmh,
		EmergencySpeedKmh:     p.EmergencySpeedKmh,
		PriorityExtension:     p.PriorityExtension.String(),
		PriorityCooldown:      p.PriorityCooldown.String(),
		TrendFlatBand:         p.TrendFlatBand,
		PlanSecondsPerVehicle: p.Plan.SecondsPerVehicle,
		PlanTrendGain:         p.Plan.TrendGain,
		PlanMinGreenSeconds:   p.Plan.MinGreenSeconds,
		PlanMaxGreenSeconds:   p.Plan.MaxGreenSeconds,
		PlanWaitScale:         p.Plan.WaitScale,
	}
}

func (pl paramsPayload) apply(p *traffic.RuntimeParams) error {
	ext, err := time.ParseDuration(pl.PriorityExtension)
	if err != nil {
		return fmt.Errorf("invalid priority_extension: %w", err)
	}
	cool, err := time.ParseDuration(pl.PriorityCooldown)
	if err != nil {
		return fmt.Errorf("invalid priority_cooldown: %w", err)
	}
	p.SpeedLimitKmh = pl.SpeedLimitKmh
	p.EmergencySpeedKmh = pl.EmergencySpeedKmh
	p.PriorityExtension = ext
	p.PriorityCooldown = cool
	p.TrendFlatBand = pl.TrendFlatBand
	p.Plan.SecondsPerVehicle = pl.PlanSecondsPerVehicle
	p.Plan.TrendGain = pl.PlanTrendGain
	p.Plan.MinGreenSeconds = pl.PlanMinGreenSeconds
	p.Plan.MaxGreenSeconds = pl.PlanMaxGreenSeconds
	p.Plan.WaitScale = pl.PlanWaitScale
	return nil
}

// handleParams reads or replaces the engine's runtime tunables.
func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, payloadFromParams(s.engine.Params()))

	case http.MethodPost:
		var pl paramsPayload
		if err := json.NewDecoder(r.Body).Decode(&pl); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid params: %v", err))
			return
		}
		var applyErr error
		err := s.engine.UpdateParams(func(p *traffic.RuntimeParams) {
			applyErr = pl.apply(p)
		})
		if applyErr != nil {
			s.writeJSONError(w, http.StatusBadRequest, applyErr.Error())
			return
		}
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeJSON(w, payloadFromParams(s.engine.Params()))

	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
