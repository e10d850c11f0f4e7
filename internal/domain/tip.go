package domain

import "github.com/google/uuid"

// TipResolution is the terminal choice made after completing a trail.
type TipResolution string

const (
	TipUndecided TipResolution = ""
	TipTipped    TipResolution = "tipped"
	TipSkipped   TipResolution = "skipped"
)

// TipDecision is presented once a trail reaches TrailStatusCompleted.
type TipDecision struct {
	DefaultAmount int64         `json:"default_amount"`
	Currency      string        `json:"currency"`
	Resolution    TipResolution `json:"resolution,omitempty"`
	Amount        int64         `json:"amount,omitempty"`

	// PendingPaymentID is set while a tip checkout is open. The decision cannot be
	// resolved any other way until that payment settles.
	PendingPaymentID *uuid.UUID `json:"pending_payment_id,omitempty"`
	PendingAmount    int64      `json:"pending_amount,omitempty"`
}

// Resolved reports whether a tip or explicit skip was recorded.
func (d TipDecision) Resolved() bool { return d.Resolution != TipUndecided }

// InFlight reports whether a tip checkout is open.
func (d TipDecision) InFlight() bool { return d.PendingPaymentID != nil }
