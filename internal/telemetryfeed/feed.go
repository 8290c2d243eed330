// Package telemetryfeed is an optional, read-only websocket dashboard
// tap: it broadcasts JSON snapshots of agent positions and running
// metrics to any connected browser, one per Broadcast call (the CLI
// sends a single frame when the run completes). It never feeds back into
// the simulation and never blocks it — a slow or absent client simply
// misses frames, grounded on the teacher's own "push updates, drop if
// the client can't keep up" approach to its own websocket view server.
package telemetryfeed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// AgentSnapshot is one agent's position and role at broadcast time.
type AgentSnapshot struct {
	ID   string  `json:"id"`
	Role string  `json:"role"` // "leader" or "follower"
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
}

// Frame is one broadcast tick: simulated time, every agent's position,
// and the running coverage/score snapshot.
type Frame struct {
	Time     float64         `json:"time"`
	Agents   []AgentSnapshot `json:"agents"`
	Unique   int             `json:"unique"`
	Score    float64         `json:"score"`
	Redundant int            `json:"redundant"`
}

const clientSendBuffer = 4

// Hub fans Frame broadcasts out to any number of connected websocket
// clients. A frame is dropped for any client whose send buffer is full
// rather than allowed to stall the broadcaster; the client stays
// registered.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	logger  *slog.Logger
}

type client struct {
	conn *websocket.Conn
	send chan Frame
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[*client]struct{}), logger: logger}
}

// ServeHTTP upgrades the request to a websocket and registers the
// connection to receive broadcasts until a write to it fails.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("telemetryfeed: upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan Frame, clientSendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
}

func (h *Hub) writeLoop(c *client) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		c.conn.Close()
	}()
	for frame := range c.send {
		data, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// Broadcast pushes frame to every connected client, skipping the frame
// for any that are not keeping up. Never blocks the simulation loop.
func (h *Hub) Broadcast(frame Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			h.logger.Debug("telemetryfeed: client send buffer full, dropping frame")
		}
	}
}
