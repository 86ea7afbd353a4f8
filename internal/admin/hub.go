// Package admin exposes the session registry as a small debug surface: a
// JSON snapshot endpoint and a WebSocket feed that broadcasts every
// rate-controller sample as it's observed (SPEC_FULL.md §4.H).
package admin

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/cognusion/go-rangefetch/internal/rangefetch"
)

// Payload wraps a broadcast message, mirroring httptines' {kind, body}
// envelope so future message kinds don't need a new wire shape.
type Payload struct {
	Kind string `json:"kind"`
	Body any    `json:"body"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// SessionView is the JSON-friendly snapshot of one live session, as reported
// on /debug/sessions.
type SessionView struct {
	ID           string  `json:"id"`
	URL          string  `json:"url"`
	Threads      int32   `json:"threads"`
	ExpectBegin  int64   `json:"expect_begin"`
	RateBytesSec float64 `json:"rate_bytes_sec,omitempty"`
	QueueDepth   int     `json:"queue_depth,omitempty"`
}

// Hub tracks connected dashboard clients and the registry of live sessions,
// grounded on httptines' web.go client map / broadcast channel and stat.go's
// read-mostly snapshot style.
type Hub struct {
	DebugOut *log.Logger

	mu       sync.Mutex
	clients  map[*websocket.Conn]bool
	sessions map[string]*SessionView
}

// NewHub builds an empty Hub ready to accept registrations and connections.
func NewHub() *Hub {
	return &Hub{
		clients:  make(map[*websocket.Conn]bool),
		sessions: make(map[string]*SessionView),
	}
}

// Register adds a session to the snapshot registry, returning an unregister
// func the caller defers at the end of the request.
func (h *Hub) Register(id, url string) func() {
	h.mu.Lock()
	h.sessions[id] = &SessionView{ID: id, URL: url}
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.sessions, id)
		h.mu.Unlock()
	}
}

// Observe updates a session's snapshot and broadcasts the sample to every
// connected WebSocket client (SPEC_FULL.md §4.E: the controller publishes
// every rate measurement it takes, whether or not it adjusts the pool).
func (h *Hub) Observe(id string, sample rangefetch.Sample) {
	h.mu.Lock()
	if v, ok := h.sessions[id]; ok {
		v.Threads = sample.Threads
		v.ExpectBegin = sample.ExpectBegin
		v.RateBytesSec = sample.RateBytesSec
		v.QueueDepth = sample.QueueDepth
	}
	h.mu.Unlock()

	h.broadcast(Payload{Kind: "sample", Body: struct {
		ID string `json:"id"`
		rangefetch.Sample
	}{ID: id, Sample: sample}})
}

func (h *Hub) broadcast(p Payload) {
	msg, err := json.Marshal(p)
	if err != nil {
		h.debugf("marshal broadcast payload: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.Close()
			delete(h.clients, c)
		}
	}
}

// ServeWS upgrades the connection and registers it for broadcast.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.debugf("websocket upgrade: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	// Drain and discard inbound frames so the read side notices a closed
	// connection and we can drop it from the broadcast set.
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// ServeSnapshot writes the current session registry as JSON, for clients
// that don't want to hold a socket open.
func (h *Hub) ServeSnapshot(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	out := make([]*SessionView, 0, len(h.sessions))
	for _, v := range h.sessions {
		out = append(out, v)
	}
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		h.debugf("encode snapshot: %v", err)
	}
}

func (h *Hub) debugf(format string, args ...interface{}) {
	if h.DebugOut != nil {
		h.DebugOut.Printf(format, args...)
	}
}
