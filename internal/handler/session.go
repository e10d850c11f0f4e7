package handler

import (
	"net/http"

	"github.com/trailpay/platform/internal/domain"
	"github.com/trailpay/platform/internal/service"
	"github.com/trailpay/platform/internal/validation"
	"github.com/trailpay/platform/internal/watch"
)

// SessionHandler serves a learner's progression through one trail.
type SessionHandler struct {
	sessions *service.SessionService
	validate *validation.Validator
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions *service.SessionService, validate *validation.Validator) *SessionHandler {
	return &SessionHandler{sessions: sessions, validate: validate}
}

// Open handles POST /trails/{trailID}/session.
func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	learnerID, trailID, err := sessionParams(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	snap, err := h.sessions.Open(r.Context(), learnerID, trailID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, snap)
}

// Get handles GET /trails/{trailID}/session.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	learnerID, trailID, err := sessionParams(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	snap, err := h.sessions.Snapshot(r.Context(), learnerID, trailID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, snap)
}

// Close handles DELETE /trails/{trailID}/session.
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	learnerID, trailID, err := sessionParams(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	if err := h.sessions.Close(r.Context(), learnerID, trailID); err != nil {
		RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type playerEventRequest struct {
	PlayerID        string   `json:"player_id" validate:"omitempty,max=64"`
	StepIndex       int      `json:"step_index" validate:"gte=0"`
	Event           string   `json:"event" validate:"required,player_event"`
	DurationSeconds *float64 `json:"duration_seconds" validate:"omitempty,gte=0"`
}

type playerEventResponse struct {
	Watch   watch.Progress `json:"watch"`
	Session interface{}    `json:"session"`
}

// PlayerEvent handles POST /trails/{trailID}/session/player.
func (h *SessionHandler) PlayerEvent(w http.ResponseWriter, r *http.Request) {
	learnerID, trailID, err := sessionParams(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	var req playerEventRequest
	if err := decodeValid(r, h.validate, &req); err != nil {
		RespondError(w, err)
		return
	}
	ev, err := watch.ParseEvent(req.Event)
	if err != nil {
		RespondError(w, domain.ErrValidation(err.Error()))
		return
	}
	var duration float64
	if req.DurationSeconds != nil {
		duration = *req.DurationSeconds
	}

	progress, snap, err := h.sessions.PlayerEvent(r.Context(), learnerID, trailID, req.PlayerID, req.StepIndex, ev, duration)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, playerEventResponse{Watch: progress, Session: snap})
}

// Advance handles POST /trails/{trailID}/session/advance.
func (h *SessionHandler) Advance(w http.ResponseWriter, r *http.Request) {
	learnerID, trailID, err := sessionParams(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	snap, err := h.sessions.Advance(r.Context(), learnerID, trailID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, snap)
}

type navigateRequest struct {
	TargetIndex *int `json:"target_index" validate:"required,gte=0"`
}

// Navigate handles POST /trails/{trailID}/session/navigate.
func (h *SessionHandler) Navigate(w http.ResponseWriter, r *http.Request) {
	learnerID, trailID, err := sessionParams(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	var req navigateRequest
	if err := decodeValid(r, h.validate, &req); err != nil {
		RespondError(w, err)
		return
	}
	snap, err := h.sessions.Navigate(r.Context(), learnerID, trailID, *req.TargetIndex)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, snap)
}

// Restart handles POST /trails/{trailID}/session/restart.
func (h *SessionHandler) Restart(w http.ResponseWriter, r *http.Request) {
	learnerID, trailID, err := sessionParams(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	snap, err := h.sessions.Restart(r.Context(), learnerID, trailID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, snap)
}
