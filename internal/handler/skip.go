package handler

import (
	"net/http"

	"github.com/trailpay/platform/internal/domain"
	"github.com/trailpay/platform/internal/progression"
	"github.com/trailpay/platform/internal/service"
	"github.com/trailpay/platform/internal/validation"
)

// SkipHandler serves paid skips past the frontier.
type SkipHandler struct {
	sessions *service.SessionService
	payments *service.PaymentService
	validate *validation.Validator
}

// NewSkipHandler creates a new SkipHandler.
func NewSkipHandler(sessions *service.SessionService, payments *service.PaymentService, validate *validation.Validator) *SkipHandler {
	return &SkipHandler{sessions: sessions, payments: payments, validate: validate}
}

type skipRequest struct {
	TargetIndex *int `json:"target_index" validate:"required,gte=0"`
}

type skipQuoteResponse struct {
	Quote    *domain.SkipQuote    `json:"quote"`
	Snapshot progression.Snapshot `json:"snapshot"`
}

// Request handles POST /trails/{trailID}/session/skip.
// A null quote means the target is already reachable.
func (h *SkipHandler) Request(w http.ResponseWriter, r *http.Request) {
	learnerID, trailID, err := sessionParams(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	var req skipRequest
	if err := decodeValid(r, h.validate, &req); err != nil {
		RespondError(w, err)
		return
	}
	quote, snap, err := h.sessions.RequestSkip(r.Context(), learnerID, trailID, *req.TargetIndex)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, skipQuoteResponse{Quote: quote, Snapshot: snap})
}

// Pay handles POST /trails/{trailID}/session/skip/{quoteID}/pay.
func (h *SkipHandler) Pay(w http.ResponseWriter, r *http.Request) {
	learnerID, trailID, err := sessionParams(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	quoteID, err := uuidParam(r, "quoteID")
	if err != nil {
		RespondError(w, err)
		return
	}
	res, err := h.payments.PaySkip(r.Context(), learnerID, trailID, quoteID)
	if err != nil {
		RespondError(w, err)
		return
	}
	status := http.StatusOK
	if !res.Confirmed {
		status = http.StatusAccepted
	}
	RespondJSON(w, status, res)
}

// Cancel handles DELETE /trails/{trailID}/session/skip/{quoteID}.
func (h *SkipHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	learnerID, trailID, err := sessionParams(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	quoteID, err := uuidParam(r, "quoteID")
	if err != nil {
		RespondError(w, err)
		return
	}
	snap, err := h.sessions.CancelSkip(r.Context(), learnerID, trailID, quoteID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, snap)
}
