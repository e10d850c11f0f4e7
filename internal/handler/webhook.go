package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/trailpay/platform/internal/domain"
	"github.com/trailpay/platform/internal/service"
)

// WebhookHandler receives Stripe checkout events that settle skip and tip payments.
type WebhookHandler struct {
	paymentSvc *service.PaymentService
	logger     *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(paymentSvc *service.PaymentService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{paymentSvc: paymentSvc, logger: logger}
}

// HandleStripeWebhook handles POST /webhooks/stripe. The raw body is kept intact for
// signature verification. Any 2xx tells Stripe to stop redelivering.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		RespondError(w, domain.ErrValidation("missing Stripe-Signature header"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RespondJSON(w, http.StatusRequestEntityTooLarge, errorBody{Code: "PAYLOAD_TOO_LARGE", Message: "webhook body too large"})
			return
		}
		RespondError(w, domain.ErrValidation("unreadable webhook body"))
		return
	}

	if err := h.paymentSvc.HandleStripeWebhook(r.Context(), body, sigHeader); err != nil {
		h.logger.Error("stripe webhook rejected", "error", err, "request_id", GetRequestID(r.Context()), "bytes", len(body))
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]bool{"received": true})
}
