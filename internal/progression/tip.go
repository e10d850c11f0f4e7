package progression

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trailpay/platform/internal/domain"
)

// TipDecision returns the decision presented after completion.
func (c *Controller) TipDecision() (domain.TipDecision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == domain.TrailStatusInProgress {
		return domain.TipDecision{}, false
	}
	return c.tip, true
}

// Tip resolves the decision with a donation that needs no checkout. Repeating the same
// tip is a no-op; tipping after the tip was skipped, with a different amount, or while
// a tip checkout is open, is rejected.
func (c *Controller) Tip(amount int64) error {
	if err := domain.ValidateTipAmount(amount); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkTipLocked(domain.TipTipped, amount); err != nil {
		return err
	}
	c.tipLocked(amount)
	return nil
}

// BeginTip records that a checkout for amount was opened as paymentID. Until it settles
// the decision accepts neither another tip nor SkipTip.
func (c *Controller) BeginTip(paymentID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidTipAmount("a paid tip must be positive")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkTipLocked(domain.TipTipped, amount); err != nil {
		return err
	}
	if c.status == domain.TrailStatusFinished {
		return domain.ErrInvalidTransition("tip already recorded")
	}
	id := paymentID
	c.tip.PendingPaymentID = &id
	c.tip.PendingAmount = amount
	return nil
}

// AdoptTip marks an open tip checkout found in storage as in flight. It is a no-op when
// the decision is no longer open or another checkout is already tracked.
func (c *Controller) AdoptTip(paymentID uuid.UUID, amount int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != domain.TrailStatusCompleted || c.tip.InFlight() {
		return
	}
	id := paymentID
	c.tip.PendingPaymentID = &id
	c.tip.PendingAmount = amount
}

// ResolveTip settles the open tip checkout. Success records the donation; failure and
// cancellation reopen the decision. Outcomes for other payments are ignored.
func (c *Controller) ResolveTip(paymentID uuid.UUID, outcome domain.PaymentOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.tip.InFlight() || *c.tip.PendingPaymentID != paymentID {
		return nil
	}
	amount := c.tip.PendingAmount
	c.tip.PendingPaymentID = nil
	c.tip.PendingAmount = 0
	if outcome != domain.PaymentOutcomeSuccess {
		return nil
	}
	if c.status != domain.TrailStatusCompleted {
		return domain.ErrInvalidTransition(fmt.Sprintf("cannot record a tip on a %s trail", c.status))
	}
	c.tipLocked(amount)
	return nil
}

// SkipTip resolves the decision without a donation.
func (c *Controller) SkipTip() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkTipLocked(domain.TipSkipped, 0); err != nil {
		return err
	}
	c.tip.Resolution = domain.TipSkipped
	c.tip.Amount = 0
	c.status = domain.TrailStatusFinished
	return nil
}

func (c *Controller) checkTipLocked(want domain.TipResolution, amount int64) error {
	switch c.status {
	case domain.TrailStatusInProgress:
		return domain.ErrInvalidTransition("trail is not completed")
	case domain.TrailStatusFinished:
		if c.tip.Resolution != want || c.tip.Amount != amount {
			return domain.ErrInvalidTransition(fmt.Sprintf("tip already resolved as %s", c.tip.Resolution))
		}
	default:
		if c.tip.InFlight() {
			return domain.ErrTipAlreadyPending(c.tip.PendingPaymentID.String())
		}
	}
	return nil
}

// tipLocked records a donation. A finished trail is left as is.
func (c *Controller) tipLocked(amount int64) {
	if c.status == domain.TrailStatusFinished {
		return
	}
	c.tip.Resolution = domain.TipTipped
	c.tip.Amount = amount
	c.status = domain.TrailStatusFinished
	c.emit(domain.NewTipDonatedEvent(c.trail.ID, amount, c.now()))
}

func (c *Controller) newTipDecision() domain.TipDecision {
	return domain.TipDecision{DefaultAmount: c.trail.SuggestedTip, Currency: c.trail.Currency}
}

// completeLocked moves the trail to Completed and opens the tip decision.
func (c *Controller) completeLocked(at time.Time) {
	c.status = domain.TrailStatusCompleted
	c.tip = c.newTipDecision()
	if c.skip.quote != nil {
		c.skip.resolved[c.skip.quote.ID] = domain.PaymentOutcomeSuccess
	}
	c.skip.quote = nil
	c.skip.phase = domain.SkipPhaseIdle
	c.emit(domain.NewTrailCompleteEvent(c.trail.ID, at))
}
