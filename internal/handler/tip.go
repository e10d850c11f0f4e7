package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/trailpay/platform/internal/domain"
	"github.com/trailpay/platform/internal/service"
	"github.com/trailpay/platform/internal/validation"
)

// TipHandler serves the completion tip decision.
type TipHandler struct {
	sessions *service.SessionService
	payments *service.PaymentService
	validate *validation.Validator
}

// NewTipHandler creates a new TipHandler.
func NewTipHandler(sessions *service.SessionService, payments *service.PaymentService, validate *validation.Validator) *TipHandler {
	return &TipHandler{sessions: sessions, payments: payments, validate: validate}
}

type tipRequest struct {
	Amount json.RawMessage `json:"amount" validate:"required"`
}

// tipAmount accepts a JSON number or a numeric string in minor units.
func tipAmount(raw json.RawMessage) (int64, error) {
	text := string(raw)
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		text = s
	}
	return domain.ParseTipAmount(strings.TrimSpace(text))
}

// Tip handles POST /trails/{trailID}/session/tip.
func (h *TipHandler) Tip(w http.ResponseWriter, r *http.Request) {
	learnerID, trailID, err := sessionParams(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	var req tipRequest
	if err := decodeValid(r, h.validate, &req); err != nil {
		RespondError(w, err)
		return
	}
	amount, err := tipAmount(req.Amount)
	if err != nil {
		RespondError(w, err)
		return
	}
	res, err := h.payments.StartTip(r.Context(), learnerID, trailID, amount)
	if err != nil {
		RespondError(w, err)
		return
	}
	status := http.StatusOK
	if !res.Resolved {
		status = http.StatusAccepted
	}
	RespondJSON(w, status, res)
}

// SkipTip handles POST /trails/{trailID}/session/tip/skip.
func (h *TipHandler) SkipTip(w http.ResponseWriter, r *http.Request) {
	learnerID, trailID, err := sessionParams(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	snap, err := h.sessions.SkipTip(r.Context(), learnerID, trailID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, snap)
}
