package traffic

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/Varn1t/traffic-intelligence/internal/monitoring"
)

// UDPListenerConfig configures the observation ingest listener.
type UDPListenerConfig struct {
	// Address is the host:port to bind, e.g. ":9911".
	Address string

	// RcvBuf is the requested socket receive buffer size in bytes.
	RcvBuf int
}

// UDPListener receives FrameBatch JSON datagrams from the detection/
// tracking collaborator and feeds them to the engine. One datagram carries
// one frame's observations.
type UDPListener struct {
	cfg    UDPListenerConfig
	engine *Engine
	buffer []byte

	// Counters for the periodic stats line.
	frames  int64
	badJSON int64
}

// NewUDPListener wires a listener to the engine.
func NewUDPListener(cfg UDPListenerConfig, engine *Engine) *UDPListener {
	if cfg.RcvBuf <= 0 {
		cfg.RcvBuf = 4 << 20
	}
	return &UDPListener{
		cfg:    cfg,
		engine: engine,
		buffer: make([]byte, 64*1024), // max UDP datagram
	}
}

// Start listens until the context is cancelled or an unrecoverable error
// occurs. Malformed datagrams are counted and skipped; ingest never stops
// because one frame was garbage.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("resolve udp address %q: %w", l.cfg.Address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen udp %q: %w", l.cfg.Address, err)
	}
	defer conn.Close()

	if err := conn.SetReadBuffer(l.cfg.RcvBuf); err != nil {
		monitoring.Logf("udp ingest: failed to set receive buffer to %d bytes: %v", l.cfg.RcvBuf, err)
	}
	monitoring.Logf("listening for observation frames on %s", l.cfg.Address)

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("udp ingest shutting down after %d frames (%d bad)", l.frames, l.badJSON)
			return ctx.Err()
		default:
		}

		// Read timeout keeps the loop responsive to cancellation.
		if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		n, _, err := conn.ReadFromUDP(l.buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			monitoring.Logf("udp ingest: read error: %v", err)
			continue
		}

		var batch FrameBatch
		if err := json.Unmarshal(l.buffer[:n], &batch); err != nil {
			l.badJSON++
			monitoring.Logf("udp ingest: bad frame datagram: %v", err)
			continue
		}
		l.frames++
		l.engine.IngestFrame(batch)
	}
}
