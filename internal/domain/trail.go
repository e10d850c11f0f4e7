package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StepKind distinguishes watchable steps from the terminal reward.
type StepKind string

const (
	StepKindVideo  StepKind = "video"
	StepKindReward StepKind = "reward"
)

// Step is one unit of trail content. Steps are addressed by index.
type Step struct {
	ID           uuid.UUID `json:"id"`
	Kind         StepKind  `json:"kind"`
	Title        string    `json:"title"`
	VideoURL     string    `json:"video_url,omitempty"`
	DurationHint *float64  `json:"duration_hint,omitempty"` // seconds, advisory only
}

// IsVideo reports whether the step is gated by watch time.
func (s Step) IsVideo() bool { return s.Kind == StepKindVideo }

// Trail is the creator-authored document the engine reads. It is never mutated here.
type Trail struct {
	ID           uuid.UUID  `json:"id"`
	CreatorID    uuid.UUID  `json:"creator_id"`
	Title        string     `json:"title"`
	Steps        []Step     `json:"steps"`
	TrailValue   int64      `json:"trail_value"` // minor units of Currency
	Currency     string     `json:"currency"`
	SuggestedTip int64      `json:"suggested_tip"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// StepCount returns the number of steps.
func (t *Trail) StepCount() int { return len(t.Steps) }

// LastIndex returns the index of the final step.
func (t *Trail) LastIndex() int { return len(t.Steps) - 1 }

// Step returns the step at index i.
func (t *Trail) Step(i int) (Step, bool) {
	if i < 0 || i >= len(t.Steps) {
		return Step{}, false
	}
	return t.Steps[i], true
}

// Validate checks the structural invariants the engine relies on.
func (t *Trail) Validate() error {
	if len(t.Steps) == 0 {
		return fmt.Errorf("trail %s has no steps", t.ID)
	}
	for i, s := range t.Steps {
		switch s.Kind {
		case StepKindVideo, StepKindReward:
		default:
			return fmt.Errorf("step %d: unknown kind %q", i, s.Kind)
		}
	}
	if t.TrailValue < 0 {
		return fmt.Errorf("trail value must not be negative, got %d", t.TrailValue)
	}
	if t.SuggestedTip < 0 {
		return fmt.Errorf("suggested tip must not be negative, got %d", t.SuggestedTip)
	}
	if t.Currency != "" {
		if err := ValidateCurrency(t.Currency); err != nil {
			return err
		}
	}
	return nil
}
