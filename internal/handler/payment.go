package handler

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/trailpay/platform/internal/domain"
	"github.com/trailpay/platform/internal/service"
)

// PaymentHandler serves a learner's skip and tip payment history.
type PaymentHandler struct {
	paymentSvc *service.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentSvc *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentSvc: paymentSvc}
}

// GetPaymentHistory handles GET /payments?trail_id=&purpose=skip|tip&limit=.
func (h *PaymentHandler) GetPaymentHistory(w http.ResponseWriter, r *http.Request) {
	learnerID, err := subjectIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	filter, err := paymentFilter(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	payments, err := h.paymentSvc.ListPayments(r.Context(), learnerID, filter)
	if err != nil {
		RespondError(w, err)
		return
	}
	if payments == nil {
		payments = []domain.Payment{}
	}
	RespondJSON(w, http.StatusOK, payments)
}

func paymentFilter(r *http.Request) (domain.PaymentFilter, error) {
	q := r.URL.Query()
	filter := domain.PaymentFilter{Purpose: domain.PaymentPurpose(q.Get("purpose"))}
	if raw := q.Get("trail_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, domain.ErrValidation("invalid trail_id")
		}
		filter.TrailID = &id
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return filter, domain.ErrValidation("limit must be a positive integer")
		}
		filter.Limit = n
	}
	if err := filter.Normalize(); err != nil {
		return filter, err
	}
	return filter, nil
}
