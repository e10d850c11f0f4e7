package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PaymentPurpose distinguishes skip purchases from tips.
type PaymentPurpose string

const (
	PaymentPurposeSkip PaymentPurpose = "skip"
	PaymentPurposeTip  PaymentPurpose = "tip"
)

// PaymentStatus tracks the payment lifecycle.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// Terminal reports whether no further transitions are expected.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed || s == PaymentStatusCancelled
}

// Payment represents a payments table row.
type Payment struct {
	ID                uuid.UUID       `json:"id"`
	LearnerID         uuid.UUID       `json:"learner_id"`
	TrailID           uuid.UUID       `json:"trail_id"`
	Purpose           PaymentPurpose  `json:"purpose"`
	Amount            int64           `json:"amount"`
	Currency          string          `json:"currency"`
	Status            PaymentStatus   `json:"status"`
	QuoteID           *uuid.UUID      `json:"quote_id,omitempty"`
	FromIndex         *int            `json:"from_index,omitempty"`
	ToIndex           *int            `json:"to_index,omitempty"`
	Provider          *string         `json:"provider,omitempty"`
	ProviderSessionID *string         `json:"provider_session_id,omitempty"`
	ProviderPaymentID *string         `json:"provider_payment_id,omitempty"`
	Metadata          json.RawMessage `json:"metadata"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Quote rebuilds the skip quote a skip payment was created for.
func (p *Payment) Quote() (SkipQuote, bool) {
	if p.Purpose != PaymentPurposeSkip || p.QuoteID == nil || p.FromIndex == nil || p.ToIndex == nil {
		return SkipQuote{}, false
	}
	return SkipQuote{
		ID:        *p.QuoteID,
		Kind:      SkipToStep,
		FromIndex: *p.FromIndex,
		ToIndex:   *p.ToIndex,
		Amount:    p.Amount,
		Currency:  p.Currency,
		CreatedAt: p.CreatedAt,
	}, true
}

// PaymentEvent tracks status changes for audit trail.
type PaymentEvent struct {
	ID        uuid.UUID       `json:"id"`
	PaymentID uuid.UUID       `json:"payment_id"`
	Status    PaymentStatus   `json:"status"`
	Message   *string         `json:"message,omitempty"`
	RawData   json.RawMessage `json:"raw_data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// PaymentFilter narrows a learner's payment history.
type PaymentFilter struct {
	TrailID *uuid.UUID
	Purpose PaymentPurpose // empty for both
	Limit   int
}

// DefaultPaymentPageSize and MaxPaymentPageSize bound PaymentFilter.Limit.
const (
	DefaultPaymentPageSize = 20
	MaxPaymentPageSize     = 100
)

// Normalize clamps Limit and validates Purpose.
func (f *PaymentFilter) Normalize() error {
	switch f.Purpose {
	case "", PaymentPurposeSkip, PaymentPurposeTip:
	default:
		return ErrValidation(fmt.Sprintf("unknown payment purpose %q", f.Purpose))
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPaymentPageSize
	}
	if f.Limit > MaxPaymentPageSize {
		f.Limit = MaxPaymentPageSize
	}
	return nil
}
