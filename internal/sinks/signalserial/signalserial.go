// Package signalserial delivers priority-extension requests to the signal
// controller over a serial line, one JSON object per line.
package signalserial

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"

	"github.com/Varn1t/traffic-intelligence/internal/traffic"
)

// frame is the wire shape written per request. The controller firmware
// parses newline-delimited JSON.
type frame struct {
	Type          string `json:"type"`
	LaneID        string `json:"lane_id"`
	ExtensionMs   int64  `json:"extension_ms"`
	ReasonTrackID int64  `json:"reason_track_id"`
	IssuedAtUnix  int64  `json:"issued_at_unix"`
}

// SignalPorter is the minimal serial surface the sink writes to. Production
// uses a go.bug.st/serial port; tests substitute a buffer.
type SignalPorter interface {
	io.Writer
	io.Closer
}

// Sink writes priority requests to a signal controller port. It implements
// traffic.SignalSink. Writes are serialised; the engine's dispatcher already
// decouples us from the ingest path, so a slow line only delays later
// requests, never frame processing.
type Sink struct {
	mu   sync.Mutex
	port SignalPorter
}

// Open opens the controller port at the conventional line settings and
// returns a ready sink.
func Open(portName string) (*Sink, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open signal port %q: %w", portName, err)
	}
	return NewSink(port), nil
}

// NewSink wraps an already-open port.
func NewSink(port SignalPorter) *Sink {
	return &Sink{port: port}
}

// SendPriority writes one request line.
func (s *Sink) SendPriority(req traffic.PriorityRequest) error {
	payload, err := json.Marshal(frame{
		Type:          "priority_extension",
		LaneID:        string(req.LaneID),
		ExtensionMs:   req.Extension.Milliseconds(),
		ReasonTrackID: req.ReasonTrackID,
		IssuedAtUnix:  req.IssuedAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal priority request: %w", err)
	}
	payload = append(payload, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.port.Write(payload); err != nil {
		return fmt.Errorf("write priority request for lane %s: %w", req.LaneID, err)
	}
	return nil
}

// Close closes the underlying port.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}
