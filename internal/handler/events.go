package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/trailpay/platform/internal/infra"
	"github.com/trailpay/platform/internal/service"
)

const sseKeepAlive = 25 * time.Second

// EventsHandler streams session snapshots to the learner as server-sent events.
type EventsHandler struct {
	hub      *infra.Hub
	sessions *service.SessionService
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(hub *infra.Hub, sessions *service.SessionService) *EventsHandler {
	return &EventsHandler{hub: hub, sessions: sessions}
}

// Stream handles GET /trails/{trailID}/session/events.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	learnerID, trailID, err := sessionParams(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		RespondJSON(w, http.StatusInternalServerError, errorBody{
			Code: "INTERNAL_ERROR", Message: "streaming unsupported",
		})
		return
	}

	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	room := service.SessionRoom(learnerID, trailID)
	conn := &infra.Conn{ID: uuid.NewString(), Send: make(chan []byte, 16)}
	h.hub.Join(room, conn)
	defer h.hub.Leave(room, conn.ID)

	if snap, err := h.sessions.Snapshot(r.Context(), learnerID, trailID); err == nil {
		if payload, err := json.Marshal(infra.HubMessage{Event: "snapshot", Data: snap}); err == nil {
			writeEvent(w, payload)
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-conn.Send:
			if !ok {
				return
			}
			writeEvent(w, payload)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, payload []byte) {
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
