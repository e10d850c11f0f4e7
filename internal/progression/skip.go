package progression

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/trailpay/platform/internal/domain"
	"github.com/trailpay/platform/internal/pricing"
)

type skipFlow struct {
	phase    domain.SkipPhase
	quote    *domain.SkipQuote
	resolved map[uuid.UUID]domain.PaymentOutcome
}

func newSkipFlow() skipFlow {
	return skipFlow{phase: domain.SkipPhaseIdle, resolved: make(map[uuid.UUID]domain.PaymentOutcome)}
}

func (s *skipFlow) pending() bool {
	return s.phase == domain.SkipPhaseConfirmPending || s.phase == domain.SkipPhasePaymentInFlight
}

func (s *skipFlow) clear(id uuid.UUID, outcome domain.PaymentOutcome) {
	s.resolved[id] = outcome
	s.quote = nil
	s.phase = domain.SkipPhaseResolved
}

// RequestSkip opens a skip confirmation for target and returns its quote.
//
// A target at or behind the frontier is already reachable: the call succeeds with a nil
// quote and changes nothing. Target len(steps) is accepted only on the final step and
// skips that step's gate. Repeating the request for the same target while it awaits
// confirmation returns the same quote; any other request while a skip is open fails with
// SKIP_ALREADY_PENDING.
func (c *Controller) RequestSkip(target int) (*domain.SkipQuote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != domain.TrailStatusInProgress {
		return nil, domain.ErrInvalidTransition(fmt.Sprintf("cannot skip in a %s trail", c.status))
	}
	if err := c.checkSkipTargetLocked(target); err != nil {
		return nil, err
	}

	switch c.skip.phase {
	case domain.SkipPhaseConfirmPending:
		if c.skip.quote.ToIndex == target {
			q := *c.skip.quote
			return &q, nil
		}
		return nil, domain.ErrSkipAlreadyPending(c.skip.quote.ID.String())
	case domain.SkipPhasePaymentInFlight:
		return nil, domain.ErrSkipAlreadyPending(c.skip.quote.ID.String())
	}

	if target <= c.progress.FrontierIndex {
		return nil, nil
	}

	q := c.newQuoteLocked(target)
	c.skip.quote = &q
	c.skip.phase = domain.SkipPhaseConfirmPending
	out := q
	return &out, nil
}

// PendingSkip returns the open quote and the sub-machine phase.
func (c *Controller) PendingSkip() (domain.SkipQuote, domain.SkipPhase, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.skip.quote == nil {
		return domain.SkipQuote{}, c.skip.phase, false
	}
	return *c.skip.quote, c.skip.phase, true
}

// BeginSkipPayment marks the open quote as handed to the payment provider and returns
// the amount to charge. A quote whose target the learner has since reached honestly
// yields nil: nothing is owed. If the frontier moved toward the target, the quote is
// repriced from the new frontier first. A second call for the same quote fails with
// SKIP_ALREADY_PENDING so a double click cannot start two charges.
func (c *Controller) BeginSkipPayment(quoteID uuid.UUID) (*domain.SkipQuote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reconcileSkipLocked()
	q := c.skip.quote
	if q == nil || q.ID != quoteID {
		if outcome, done := c.skip.resolved[quoteID]; done && outcome == domain.PaymentOutcomeSuccess {
			return nil, nil
		}
		return nil, domain.ErrNotFound("skip quote", quoteID.String())
	}
	if c.skip.phase == domain.SkipPhasePaymentInFlight {
		return nil, domain.ErrSkipAlreadyPending(quoteID.String())
	}
	c.skip.phase = domain.SkipPhasePaymentInFlight
	out := *q
	return &out, nil
}

// AdoptQuote re-opens an in-flight payment for a quote that was issued before the session
// was restored. It is a no-op when the quote is already open or already resolved.
func (c *Controller) AdoptQuote(q domain.SkipQuote) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, done := c.skip.resolved[q.ID]; done {
		return nil
	}
	if c.skip.quote != nil {
		if c.skip.quote.ID == q.ID {
			return nil
		}
		return domain.ErrSkipAlreadyPending(c.skip.quote.ID.String())
	}
	if err := c.checkSkipTargetLocked(q.ToIndex); err != nil {
		return err
	}
	adopted := q
	c.skip.quote = &adopted
	c.skip.phase = domain.SkipPhasePaymentInFlight
	return nil
}

// ConfirmSkip applies a paid (or free) skip. It reports false when the quote was already
// resolved, so a duplicated confirmation never applies twice or emits a second step_skip,
// and when the learner reached the target by other means before the payment settled.
func (c *Controller) ConfirmSkip(quoteID uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reconcileSkipLocked()
	if _, done := c.skip.resolved[quoteID]; done {
		return false, nil
	}
	q := c.skip.quote
	if q == nil || q.ID != quoteID || !c.skip.pending() {
		return false, domain.ErrNotFound("skip quote", quoteID.String())
	}
	from := c.progress.FrontierIndex
	if c.status != domain.TrailStatusInProgress || (q.ToIndex <= from && q.ToIndex < c.trail.StepCount()) {
		// The target was reached without the skip while the payment was open.
		c.skip.clear(quoteID, domain.PaymentOutcomeSuccess)
		return false, nil
	}

	now := c.now()
	c.emit(domain.NewStepSkipEvent(c.trail.ID, from, q.ToIndex, q.Amount, now))

	if q.ToIndex == c.trail.StepCount() {
		// Skipping the gate of the final step completes the trail in place.
		c.progress.Completed.Add(c.trail.LastIndex())
		c.skip.clear(quoteID, domain.PaymentOutcomeSuccess)
		c.tracker.Detach(c.progress.CurrentIndex)
		c.completeLocked(now)
		return true, nil
	}

	// Raise the frontier before filling the completed set so completed never
	// holds an index past the frontier.
	c.progress.FrontierIndex = q.ToIndex
	for i := from; i < q.ToIndex; i++ {
		c.progress.Completed.Add(i)
	}
	c.moveLocked(q.ToIndex)
	c.skip.clear(quoteID, domain.PaymentOutcomeSuccess)
	return true, nil
}

// ResolveSkip settles the open quote with a provider outcome. Success applies the skip.
// Failure and cancellation clear the quote without touching progress and return
// PAYMENT_FAILED or PAYMENT_CANCELLED. Outcomes for already resolved quotes are ignored.
func (c *Controller) ResolveSkip(quoteID uuid.UUID, outcome domain.PaymentOutcome) error {
	if outcome == domain.PaymentOutcomeSuccess {
		_, err := c.ConfirmSkip(quoteID)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, done := c.skip.resolved[quoteID]; done {
		return nil
	}
	q := c.skip.quote
	if q == nil || q.ID != quoteID {
		return domain.ErrNotFound("skip quote", quoteID.String())
	}
	c.skip.clear(quoteID, outcome)
	switch outcome {
	case domain.PaymentOutcomeCancelled:
		return domain.ErrPaymentCancelled()
	case domain.PaymentOutcomeFailure:
		return domain.ErrPaymentFailed(fmt.Sprintf("payment for skip to step %d failed", q.ToIndex))
	default:
		return domain.ErrValidation(fmt.Sprintf("unknown payment outcome %q", outcome))
	}
}

// CancelSkip withdraws a quote the learner has not paid for yet.
func (c *Controller) CancelSkip(quoteID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := c.skip.quote
	if q == nil || q.ID != quoteID {
		return domain.ErrNotFound("skip quote", quoteID.String())
	}
	if c.skip.phase == domain.SkipPhasePaymentInFlight {
		return domain.ErrInvalidTransition("payment already in flight")
	}
	c.skip.clear(quoteID, domain.PaymentOutcomeCancelled)
	return nil
}

func (c *Controller) checkSkipTargetLocked(target int) error {
	n := c.trail.StepCount()
	if target < 0 || target > n {
		return domain.ErrValidation(fmt.Sprintf("skip target %d out of range [0,%d]", target, n))
	}
	if target == n {
		last := c.trail.LastIndex()
		if c.progress.FrontierIndex != last || c.progress.CurrentIndex != last {
			return domain.ErrValidation("only the final step can be skipped to completion")
		}
	}
	return nil
}

// newQuoteLocked prices a skip from the frontier, never from the viewing position.
func (c *Controller) newQuoteLocked(target int) domain.SkipQuote {
	from := c.progress.FrontierIndex
	return domain.SkipQuote{
		ID:        uuid.New(),
		Kind:      c.quoteKindLocked(from, target),
		FromIndex: from,
		ToIndex:   target,
		Amount:    pricing.SkipCost(c.trail.TrailValue, c.trail.StepCount(), from, target),
		Currency:  c.trail.Currency,
		CreatedAt: c.now(),
	}
}

func (c *Controller) quoteKindLocked(from, target int) domain.SkipKind {
	if c.progress.CurrentIndex == from && target == from+1 {
		return domain.SkipThisStep
	}
	return domain.SkipToStep
}

// reconcileSkipLocked keeps an unpaid quote in step with the frontier. A target the
// learner reached honestly settles the quote with nothing owed; a frontier that moved
// part of the way reprices it. Quotes already in payment keep their amount.
func (c *Controller) reconcileSkipLocked() {
	q := c.skip.quote
	if q == nil || c.skip.phase != domain.SkipPhaseConfirmPending {
		return
	}
	from := c.progress.FrontierIndex
	switch {
	case q.ToIndex <= from:
		c.skip.clear(q.ID, domain.PaymentOutcomeSuccess)
	case q.FromIndex != from:
		q.FromIndex = from
		q.Kind = c.quoteKindLocked(from, q.ToIndex)
		q.Amount = pricing.SkipCost(c.trail.TrailValue, c.trail.StepCount(), from, q.ToIndex)
	}
}
