package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trailpay/platform/internal/domain"
	"github.com/trailpay/platform/internal/guard"
	"github.com/trailpay/platform/internal/progression"
	"github.com/trailpay/platform/internal/provider"
	"github.com/trailpay/platform/internal/repository"
)

// CheckoutGate is the external payment provider.
type CheckoutGate interface {
	Name() string
	CreateCheckoutSession(ctx context.Context, in provider.CheckoutRequest) (*provider.CheckoutSession, error)
	VerifyWebhookSignature(payload []byte, sigHeader string) (*provider.StripeWebhookEvent, error)
}

// PaymentConfig holds the checkout redirect templates. "{trail}" is replaced by the trail id.
type PaymentConfig struct {
	SuccessURL string
	CancelURL  string
}

// PaymentService turns skip quotes and tips into checkouts and feeds the resolved
// outcomes back into the learner's session.
type PaymentService struct {
	db          repository.TxRunner
	gate        CheckoutGate
	payments    repository.PaymentRepository
	sessions    *SessionService
	circuit     *guard.CircuitBreaker
	idempotency *guard.IdempotencyGuard
	cfg         PaymentConfig
	logger      *slog.Logger
}

// NewPaymentService creates a PaymentService.
func NewPaymentService(
	db repository.TxRunner,
	gate CheckoutGate,
	payments repository.PaymentRepository,
	sessions *SessionService,
	idempotency *guard.IdempotencyGuard,
	cfg PaymentConfig,
	logger *slog.Logger,
) *PaymentService {
	if idempotency == nil {
		idempotency = guard.NewIdempotencyGuard()
	}
	return &PaymentService{
		db:          db,
		gate:        gate,
		payments:    payments,
		sessions:    sessions,
		circuit:     guard.NewCircuitBreaker(gate.Name(), 5, 30*time.Second),
		idempotency: idempotency,
		cfg:         cfg,
		logger:      logger,
	}
}

// Checkout is the hosted payment page a learner is sent to.
type Checkout struct {
	PaymentID  string `json:"payment_id"`
	SessionID  string `json:"session_id"`
	SessionURL string `json:"session_url"`
}

// SkipPayment is the result of paying for a skip quote. Quote is nil when the learner
// had already reached the target and nothing was charged.
type SkipPayment struct {
	Quote     *domain.SkipQuote    `json:"quote"`
	Confirmed bool                 `json:"confirmed"`
	Checkout  *Checkout            `json:"checkout,omitempty"`
	Snapshot  progression.Snapshot `json:"snapshot"`
}

// TipPayment is the result of a tip request.
type TipPayment struct {
	Resolved bool                 `json:"resolved"`
	Checkout *Checkout            `json:"checkout,omitempty"`
	Snapshot progression.Snapshot `json:"snapshot"`
}

// PaySkip confirms the learner's choice to pay for a quote. Free quotes are applied
// at once; paid ones open a checkout and stay in flight until the webhook arrives.
func (s *PaymentService) PaySkip(ctx context.Context, learnerID, trailID, quoteID uuid.UUID) (*SkipPayment, error) {
	quote, snap, err := s.sessions.BeginSkipPayment(ctx, learnerID, trailID, quoteID)
	if err != nil {
		return nil, err
	}
	if quote == nil {
		return &SkipPayment{Confirmed: true, Snapshot: snap}, nil
	}

	if quote.Free() {
		snap, err := s.sessions.ConfirmSkip(ctx, learnerID, trailID, quoteID)
		if err != nil {
			return nil, err
		}
		return &SkipPayment{Quote: quote, Confirmed: true, Snapshot: snap}, nil
	}

	from, to := quote.FromIndex, quote.ToIndex
	payment := &domain.Payment{
		ID:        uuid.New(),
		LearnerID: learnerID,
		TrailID:   trailID,
		Purpose:   domain.PaymentPurposeSkip,
		Amount:    quote.Amount,
		Currency:  quote.Currency,
		Status:    domain.PaymentStatusPending,
		QuoteID:   &quote.ID,
		FromIndex: &from,
		ToIndex:   &to,
		Metadata:  json.RawMessage(`{}`),
	}
	checkout, err := s.openCheckout(ctx, payment, fmt.Sprintf("Skip to step %d", to+1))
	if err != nil {
		// Release the quote so the learner can try again.
		_, _ = s.sessions.Apply(ctx, learnerID, trailID, func(c *progression.Controller) error {
			return c.ResolveSkip(quoteID, domain.PaymentOutcomeFailure)
		})
		return nil, err
	}
	return &SkipPayment{Quote: quote, Checkout: checkout, Snapshot: snap}, nil
}

// StartTip resolves the tip decision. Zero tips and replays of a recorded tip are
// applied directly; positive amounts open a checkout. The decision stays in flight
// until the webhook arrives, so a second tip or SkipTip in the meantime is rejected.
func (s *PaymentService) StartTip(ctx context.Context, learnerID, trailID uuid.UUID, amount int64) (*TipPayment, error) {
	if err := domain.ValidateTipAmount(amount); err != nil {
		return nil, err
	}
	status, decision, err := s.sessions.TipDecision(ctx, learnerID, trailID)
	if err != nil {
		return nil, err
	}

	if amount == 0 || status != domain.TrailStatusCompleted {
		snap, err := s.sessions.Tip(ctx, learnerID, trailID, amount)
		if err != nil {
			return nil, err
		}
		return &TipPayment{Resolved: true, Snapshot: snap}, nil
	}

	payment := &domain.Payment{
		ID:        uuid.New(),
		LearnerID: learnerID,
		TrailID:   trailID,
		Purpose:   domain.PaymentPurposeTip,
		Amount:    amount,
		Currency:  decision.Currency,
		Status:    domain.PaymentStatusPending,
		Metadata:  json.RawMessage(`{}`),
	}
	snap, err := s.sessions.BeginTip(ctx, learnerID, trailID, payment.ID, amount)
	if err != nil {
		return nil, err
	}
	checkout, err := s.openCheckout(ctx, payment, "Tip the creator")
	if err != nil {
		// Reopen the decision so the learner can try again.
		_, _ = s.sessions.Apply(ctx, learnerID, trailID, func(c *progression.Controller) error {
			return c.ResolveTip(payment.ID, domain.PaymentOutcomeFailure)
		})
		return nil, err
	}
	return &TipPayment{Checkout: checkout, Snapshot: snap}, nil
}

func (s *PaymentService) openCheckout(ctx context.Context, payment *domain.Payment, product string) (*Checkout, error) {
	if payment.Currency == "" {
		payment.Currency = "USD"
	}
	gateName := s.gate.Name()
	if res := s.circuit.Allow(); !res.Allowed {
		return nil, domain.ErrGateUnavailable(res.Reason, nil)
	}

	if err := s.payments.Create(ctx, s.db.DB(), payment); err != nil {
		s.circuit.Release()
		return nil, domain.ErrInternal("record payment", err)
	}

	trail := payment.TrailID.String()
	session, err := s.gate.CreateCheckoutSession(ctx, provider.CheckoutRequest{
		Amount:            payment.Amount,
		Currency:          payment.Currency,
		ProductName:       product,
		ClientReferenceID: payment.ID.String(),
		Metadata: map[string]string{
			"payment_id": payment.ID.String(),
			"learner_id": payment.LearnerID.String(),
			"trail_id":   trail,
			"purpose":    string(payment.Purpose),
		},
		SuccessURL: strings.ReplaceAll(s.cfg.SuccessURL, "{trail}", trail),
		CancelURL:  strings.ReplaceAll(s.cfg.CancelURL, "{trail}", trail),
	})
	s.circuit.Record(err)
	if err != nil {
		if _, terr := s.payments.Transition(ctx, s.db.DB(), payment.ID, domain.PaymentStatusFailed, nil); terr != nil {
			s.logger.Error("mark payment failed", "error", terr, "payment_id", payment.ID)
		}
		s.recordEvent(ctx, payment.ID, domain.PaymentStatusFailed, "checkout session not created", nil)
		s.logger.Error("create checkout session", "error", err, "payment_id", payment.ID, "purpose", payment.Purpose)
		return nil, domain.ErrGateUnavailable("payment provider unavailable", err)
	}

	if err := s.payments.SetProviderSession(ctx, s.db.DB(), payment.ID, gateName, session.ID); err != nil {
		return nil, domain.ErrInternal("record checkout session", err)
	}
	s.recordEvent(ctx, payment.ID, domain.PaymentStatusPending, "checkout session created", nil)
	s.logger.Info("checkout opened", "payment_id", payment.ID, "purpose", payment.Purpose,
		"amount", payment.Amount, "learner_id", payment.LearnerID, "trail_id", payment.TrailID)

	return &Checkout{PaymentID: payment.ID.String(), SessionID: session.ID, SessionURL: session.URL}, nil
}

// HandleStripeWebhook processes a signed checkout event. Redelivered events are ignored.
func (s *PaymentService) HandleStripeWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := s.gate.VerifyWebhookSignature(payload, sigHeader)
	if err != nil {
		return domain.ErrUnauthorized(fmt.Sprintf("webhook verification failed: %v", err))
	}

	key := "stripe:" + event.ID
	if res := s.idempotency.Check(ctx, key); !res.Allowed {
		s.logger.Info("duplicate stripe event ignored", "event_id", event.ID, "type", event.Type)
		return nil
	}

	if err := s.handleCheckoutEvent(ctx, event, payload); err != nil {
		s.idempotency.Remove(ctx, key)
		return err
	}
	return nil
}

func (s *PaymentService) handleCheckoutEvent(ctx context.Context, event *provider.StripeWebhookEvent, raw []byte) error {
	data, err := provider.ParseCheckoutSessionData(event.Data)
	if err != nil {
		return domain.ErrValidation(err.Error())
	}
	outcome, ok := provider.CheckoutOutcome(event.Type, data)
	if !ok {
		s.logger.Info("unhandled stripe event type", "type", event.Type)
		return nil
	}

	payment, err := s.findPayment(ctx, data)
	if err != nil {
		return err
	}
	if payment == nil {
		s.logger.Warn("payment not found for session", "session_id", data.ID)
		return nil
	}
	if payment.Status.Terminal() {
		return nil
	}

	status := paymentStatusFor(outcome)
	var providerPaymentID *string
	if data.PaymentIntent != "" {
		providerPaymentID = &data.PaymentIntent
	}
	message := "stripe " + event.Type

	var changed bool
	err = s.db.InTx(ctx, func(tx repository.DBTX) error {
		var err error
		changed, err = s.payments.Transition(ctx, tx, payment.ID, status, providerPaymentID)
		if err != nil || !changed {
			return err
		}
		return s.payments.InsertEvent(ctx, tx, &domain.PaymentEvent{
			PaymentID: payment.ID,
			Status:    status,
			Message:   &message,
			RawData:   raw,
		})
	})
	if err != nil {
		return domain.ErrInternal("record payment outcome", err)
	}
	if !changed {
		return nil
	}

	s.logger.Info("payment resolved", "payment_id", payment.ID, "purpose", payment.Purpose,
		"outcome", outcome, "learner_id", payment.LearnerID, "trail_id", payment.TrailID)
	s.applyOutcome(ctx, payment, outcome)
	return nil
}

func (s *PaymentService) findPayment(ctx context.Context, data *provider.CheckoutSessionData) (*domain.Payment, error) {
	payment, err := s.payments.FindByProviderSessionID(ctx, s.db.DB(), data.ID)
	if err != nil {
		return nil, domain.ErrInternal("find payment", err)
	}
	if payment != nil {
		return payment, nil
	}
	// The session id is recorded after the checkout call returns; a fast webhook can
	// beat it. client_reference_id carries the payment id.
	id, err := uuid.Parse(data.ClientReferenceID)
	if err != nil {
		return nil, nil
	}
	payment, err = s.payments.FindByID(ctx, s.db.DB(), id)
	if err != nil {
		return nil, domain.ErrInternal("find payment", err)
	}
	return payment, nil
}

// applyOutcome hands a settled payment to the engine. The payment row is already
// terminal, so engine failures are logged rather than retried by the provider.
func (s *PaymentService) applyOutcome(ctx context.Context, payment *domain.Payment, outcome domain.PaymentOutcome) {
	var err error
	switch payment.Purpose {
	case domain.PaymentPurposeSkip:
		quote, ok := payment.Quote()
		if !ok {
			s.logger.Error("skip payment without quote", "payment_id", payment.ID)
			return
		}
		_, err = s.sessions.Apply(ctx, payment.LearnerID, payment.TrailID, func(c *progression.Controller) error {
			if err := c.AdoptQuote(quote); err != nil {
				return err
			}
			return c.ResolveSkip(quote.ID, outcome)
		})
		if domain.HasCode(err, domain.CodePaymentFailed) || domain.HasCode(err, domain.CodePaymentCancelled) {
			err = nil
		}
	case domain.PaymentPurposeTip:
		var recorded bool
		_, err = s.sessions.Apply(ctx, payment.LearnerID, payment.TrailID, func(c *progression.Controller) error {
			c.AdoptTip(payment.ID, payment.Amount)
			if err := c.ResolveTip(payment.ID, outcome); err != nil {
				return err
			}
			decision, _ := c.TipDecision()
			recorded = decision.Resolution == domain.TipTipped && decision.Amount == payment.Amount
			return nil
		})
		if err == nil && outcome == domain.PaymentOutcomeSuccess && !recorded {
			s.logger.Warn("tip paid without an open decision", "payment_id", payment.ID,
				"learner_id", payment.LearnerID, "trail_id", payment.TrailID, "amount", payment.Amount)
		}
	}
	if err != nil {
		s.logger.Error("apply payment outcome", "error", err, "payment_id", payment.ID, "outcome", outcome)
	}
}

// ListPayments returns a learner's payment history, newest first.
func (s *PaymentService) ListPayments(ctx context.Context, learnerID uuid.UUID, filter domain.PaymentFilter) ([]domain.Payment, error) {
	if err := filter.Normalize(); err != nil {
		return nil, err
	}
	payments, err := s.payments.ListByLearner(ctx, s.db.DB(), learnerID, filter)
	if err != nil {
		return nil, domain.ErrInternal("list payments", err)
	}
	return payments, nil
}

func (s *PaymentService) recordEvent(ctx context.Context, paymentID uuid.UUID, status domain.PaymentStatus, message string, rawData json.RawMessage) {
	event := &domain.PaymentEvent{
		PaymentID: paymentID,
		Status:    status,
		Message:   &message,
		RawData:   rawData,
	}
	if err := s.payments.InsertEvent(ctx, s.db.DB(), event); err != nil {
		s.logger.Error("record payment event", "error", err, "payment_id", paymentID)
	}
}

func paymentStatusFor(outcome domain.PaymentOutcome) domain.PaymentStatus {
	switch outcome {
	case domain.PaymentOutcomeSuccess:
		return domain.PaymentStatusCompleted
	case domain.PaymentOutcomeCancelled:
		return domain.PaymentStatusCancelled
	default:
		return domain.PaymentStatusFailed
	}
}
