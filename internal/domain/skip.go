package domain

import (
	"time"

	"github.com/google/uuid"
)

// SkipPhase is the state of the skip-confirmation sub-machine.
//
//	Idle -> ConfirmPending -> PaymentInFlight -> Resolved -> Idle
type SkipPhase string

const (
	SkipPhaseIdle            SkipPhase = "idle"
	SkipPhaseConfirmPending  SkipPhase = "confirm_pending"
	SkipPhasePaymentInFlight SkipPhase = "payment_in_flight"
	SkipPhaseResolved        SkipPhase = "resolved"
)

// SkipKind labels which call site produced a quote.
type SkipKind string

const (
	// SkipThisStep bypasses the watch gate of the step being viewed.
	SkipThisStep SkipKind = "skip_this_step"
	// SkipToStep jumps the frontier past several unreached steps.
	SkipToStep SkipKind = "skip_to_step"
)

// SkipQuote is the pending-payment descriptor returned by a skip request.
type SkipQuote struct {
	ID        uuid.UUID `json:"id"`
	Kind      SkipKind  `json:"kind"`
	FromIndex int       `json:"from_index"`
	ToIndex   int       `json:"to_index"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

// Free reports whether the skip costs nothing.
func (q SkipQuote) Free() bool { return q.Amount == 0 }

// PaymentOutcome is the resolved result of an external payment attempt.
type PaymentOutcome string

const (
	PaymentOutcomeSuccess   PaymentOutcome = "success"
	PaymentOutcomeFailure   PaymentOutcome = "failure"
	PaymentOutcomeCancelled PaymentOutcome = "cancelled"
)
