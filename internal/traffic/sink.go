package traffic

import (
	"sync"
	"time"

	"github.com/Varn1t/traffic-intelligence/internal/monitoring"
)

// EventKind discriminates the typed records handed to the logging sink.
type EventKind string

const (
	EventSpeedSample     EventKind = "speed_sample"
	EventSpeedViolation  EventKind = "speed_violation"
	EventIncidentOpen    EventKind = "incident_open"
	EventIncidentClosed  EventKind = "incident_closed"
	EventPriorityRequest EventKind = "priority_request"
)

// Event is one typed record for the logging sink. Exactly one of the
// optional payload fields is set depending on Kind.
type Event struct {
	Kind     EventKind        `json:"kind"`
	At       time.Time        `json:"at"`
	TrackID  int64            `json:"track_id,omitempty"`
	LaneID   LaneID           `json:"lane_id,omitempty"`
	SpeedKmh float64          `json:"speed_kmh,omitempty"`
	Class    string           `json:"class,omitempty"`
	Incident *Incident        `json:"incident,omitempty"`
	Request  *PriorityRequest `json:"request,omitempty"`
}

// LogSink receives typed event records for durable append-only storage.
type LogSink interface {
	LogEvent(ev Event) error
}

// SignalSink receives priority-extension requests destined for the signal
// controller hardware.
type SignalSink interface {
	SendPriority(req PriorityRequest) error
}

// DashboardSink receives the per-tick snapshot for display.
type DashboardSink interface {
	PublishSnapshot(snap TickSnapshot)
}

// dispatcher decouples the engine from sink latency. Emissions are
// fire-and-forget: a slow or failed sink drops events with a local log
// line and never stalls frame ingestion.
type dispatcher struct {
	events    chan Event
	log       LogSink
	signal    SignalSink
	done      chan struct{}
	closeOnce sync.Once
}

const dispatchQueueDepth = 1024

func newDispatcher(log LogSink, signal SignalSink) *dispatcher {
	d := &dispatcher{
		events: make(chan Event, dispatchQueueDepth),
		log:    log,
		signal: signal,
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)
	for ev := range d.events {
		if d.log != nil {
			if err := d.log.LogEvent(ev); err != nil {
				monitoring.Logf("log sink: dropping %s event: %v", ev.Kind, err)
			}
		}
		if ev.Kind == EventPriorityRequest && d.signal != nil && ev.Request != nil {
			if err := d.signal.SendPriority(*ev.Request); err != nil {
				monitoring.Logf("signal sink: priority request for lane %s failed: %v", ev.Request.LaneID, err)
			}
		}
	}
}

// emit enqueues without blocking. A full queue means a sink has stalled;
// the event is dropped rather than backing up ingestion.
func (d *dispatcher) emit(ev Event) {
	select {
	case d.events <- ev:
	default:
		monitoring.Logf("sink queue full: dropping %s event", ev.Kind)
	}
}

// close drains the queue and waits for the dispatch goroutine to finish.
// Safe to call more than once.
func (d *dispatcher) close() {
	d.closeOnce.Do(func() { close(d.events) })
	<-d.done
}
