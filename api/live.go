package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Varn1t/traffic-intelligence/internal/monitoring"
	"github.com/Varn1t/traffic-intelligence/internal/traffic"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// LiveHub pushes each tick snapshot to every connected WebSocket client.
// It implements traffic.DashboardSink. A client that cannot keep up is
// disconnected rather than allowed to back up the broadcast.
type LiveHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func NewLiveHub() *LiveHub {
	return &LiveHub{clients: make(map[*websocket.Conn]bool)}
}

// Handle upgrades the request and registers the client.
func (h *LiveHub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("live: upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	n := len(h.clients)
	h.mu.Unlock()
	monitoring.Logf("live: client connected, %d total", n)

	go h.drainClient(conn)
}

// drainClient reads (and discards) client messages so pings and close
// frames are processed, and deregisters on error.
func (h *LiveHub) drainClient(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		h.mu.Lock()
		delete(h.clients, conn)
		n := len(h.clients)
		h.mu.Unlock()
		monitoring.Logf("live: client disconnected, %d remaining", n)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				monitoring.Logf("live: read error: %v", err)
			}
			return
		}
	}
}

// PublishSnapshot broadcasts one tick snapshot to all clients.
func (h *LiveHub) PublishSnapshot(snap traffic.TickSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		monitoring.Logf("live: failed to marshal snapshot: %v", err)
		return
	}
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			monitoring.Logf("live: write error, dropping client: %v", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// ClientCount reports the number of connected clients.
func (h *LiveHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
