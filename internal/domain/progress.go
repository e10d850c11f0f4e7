package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// TrailStatus is the trail-level state of a learner session.
type TrailStatus string

const (
	TrailStatusInProgress TrailStatus = "in_progress"
	TrailStatusCompleted  TrailStatus = "completed"
	// TrailStatusFinished is terminal: the tip decision was made (tipped or skipped).
	TrailStatusFinished TrailStatus = "finished"
)

// StepState is the derived per-step gating state.
type StepState string

const (
	StepLocked             StepState = "locked"
	StepUnlockedIncomplete StepState = "unlocked_incomplete"
	StepUnlockedComplete   StepState = "unlocked_complete"
)

// StepSet is a set of step indexes. It serialises as a sorted JSON array.
type StepSet map[int]struct{}

// Add inserts i into the set.
func (s StepSet) Add(i int) { s[i] = struct{}{} }

// Has reports whether i is in the set.
func (s StepSet) Has(i int) bool {
	_, ok := s[i]
	return ok
}

// Sorted returns the members in ascending order.
func (s StepSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func (s StepSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *StepSet) UnmarshalJSON(data []byte) error {
	var idx []int
	if err := json.Unmarshal(data, &idx); err != nil {
		return err
	}
	*s = NewStepSet(idx...)
	return nil
}

// NewStepSet builds a set from indexes.
func NewStepSet(idx ...int) StepSet {
	s := make(StepSet, len(idx))
	for _, i := range idx {
		s.Add(i)
	}
	return s
}

// ProgressState is the learner's position in a trail. Owned by the progression controller.
type ProgressState struct {
	CurrentIndex  int     `json:"current_index"`
	FrontierIndex int     `json:"frontier_index"`
	Completed     StepSet `json:"completed"`
}

// NewProgressState returns the state of a fresh session.
func NewProgressState() ProgressState {
	return ProgressState{Completed: StepSet{}}
}

// Clone returns a deep copy.
func (p ProgressState) Clone() ProgressState {
	c := ProgressState{
		CurrentIndex:  p.CurrentIndex,
		FrontierIndex: p.FrontierIndex,
		Completed:     make(StepSet, len(p.Completed)),
	}
	for i := range p.Completed {
		c.Completed.Add(i)
	}
	return c
}

// IsLocked reports whether step i lies beyond the frontier.
func (p ProgressState) IsLocked(i int) bool { return i > p.FrontierIndex }

// Validate checks the index invariants against a trail of stepCount steps.
func (p ProgressState) Validate(stepCount int) error {
	if stepCount <= 0 {
		return fmt.Errorf("step count must be positive, got %d", stepCount)
	}
	if p.FrontierIndex < 0 || p.FrontierIndex > stepCount-1 {
		return fmt.Errorf("frontier index %d out of range [0,%d]", p.FrontierIndex, stepCount-1)
	}
	if p.CurrentIndex < 0 || p.CurrentIndex > stepCount-1 {
		return fmt.Errorf("current index %d out of range [0,%d]", p.CurrentIndex, stepCount-1)
	}
	if p.CurrentIndex > p.FrontierIndex {
		return fmt.Errorf("current index %d is past frontier %d", p.CurrentIndex, p.FrontierIndex)
	}
	for i := range p.Completed {
		if i < 0 || i > p.FrontierIndex {
			return fmt.Errorf("completed step %d is outside [0,%d]", i, p.FrontierIndex)
		}
	}
	return nil
}

// SavedProgress is the persisted form of a learner's session on one trail.
type SavedProgress struct {
	LearnerID uuid.UUID     `json:"learner_id"`
	TrailID   uuid.UUID     `json:"trail_id"`
	Progress  ProgressState `json:"progress"`
	Status    TrailStatus   `json:"status"`
	Tip       TipDecision   `json:"tip"`
	UpdatedAt time.Time     `json:"updated_at"`
}
