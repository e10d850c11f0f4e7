package progression

import (
	"github.com/trailpay/platform/internal/domain"
)

// StepView is the derived state of one step as shown to the learner.
type StepView struct {
	Index             int              `json:"index"`
	Kind              domain.StepKind  `json:"kind"`
	Title             string           `json:"title"`
	State             domain.StepState `json:"state"`
	WatchedPercentage float64          `json:"watched_percentage"`
	VideoComplete     bool             `json:"video_complete"`
	Current           bool             `json:"current"`
}

// SkipView describes the skip sub-machine.
type SkipView struct {
	Phase domain.SkipPhase  `json:"phase"`
	Quote *domain.SkipQuote `json:"quote,omitempty"`
}

// Snapshot is a consistent read of the whole session.
type Snapshot struct {
	TrailID        string               `json:"trail_id"`
	Status         domain.TrailStatus   `json:"status"`
	Progress       domain.ProgressState `json:"progress"`
	CanProceed     bool                 `json:"can_proceed"`
	WatchThreshold float64              `json:"watch_threshold"`
	Steps          []StepView           `json:"steps"`
	Skip           SkipView             `json:"skip"`
	Tip            *domain.TipDecision  `json:"tip,omitempty"`
}

// Snapshot captures the session state under a single lock.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		TrailID:        c.trail.ID.String(),
		Status:         c.status,
		Progress:       c.progress.Clone(),
		CanProceed:     c.status == domain.TrailStatusInProgress && c.canProceedLocked(c.progress.CurrentIndex),
		WatchThreshold: c.tracker.Threshold(),
		Steps:          make([]StepView, 0, c.trail.StepCount()),
		Skip:           SkipView{Phase: c.skip.phase},
	}
	for i, step := range c.trail.Steps {
		v := StepView{
			Index:   i,
			Kind:    step.Kind,
			Title:   step.Title,
			State:   c.stepStateLocked(i),
			Current: i == c.progress.CurrentIndex,
		}
		if step.IsVideo() {
			p := c.tracker.Progress(i)
			v.WatchedPercentage = p.WatchedPercentage
			v.VideoComplete = p.VideoComplete
		}
		s.Steps = append(s.Steps, v)
	}
	if c.skip.quote != nil {
		q := *c.skip.quote
		s.Skip.Quote = &q
	}
	if c.status != domain.TrailStatusInProgress {
		tip := c.tip
		s.Tip = &tip
	}
	return s
}
