package infra

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Hub fans out session updates to a learner's open event streams.
// Rooms are typically session-scoped: "session:{learner}:{trail}".
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*Conn // room -> connID -> conn
	logger *slog.Logger
}

// Conn is one open stream.
type Conn struct {
	ID   string
	Send chan []byte
}

// HubMessage is the payload written to a stream.
type HubMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[string]*Conn),
		logger: logger,
	}
}

// Join adds a connection to a room.
func (h *Hub) Join(room string, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Conn)
	}
	h.rooms[room][conn.ID] = conn
}

// Leave removes a connection from a room.
func (h *Hub) Leave(room string, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[room]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Publish sends a message to all connections in a room. Slow readers drop messages.
func (h *Hub) Publish(room string, event string, data interface{}) {
	payload, err := json.Marshal(HubMessage{Event: event, Data: data})
	if err != nil {
		h.logger.Error("hub marshal error", "error", err, "room", room, "event", event)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.rooms[room] {
		select {
		case conn.Send <- payload:
		default:
			h.logger.Warn("hub send buffer full", "connID", conn.ID, "room", room)
		}
	}
}

// SessionRoom names the room for one learner's session on one trail.
func SessionRoom(learnerID, trailID string) string {
	return "session:" + learnerID + ":" + trailID
}

// ConnectionCount returns the total number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, conns := range h.rooms {
		count += len(conns)
	}
	return count
}

// Shutdown closes all connections.
func (h *Hub) Shutdown(_ context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, conns := range h.rooms {
		for _, conn := range conns {
			close(conn.Send)
		}
		delete(h.rooms, room)
	}
}
