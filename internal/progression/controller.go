// Package progression owns a learner's position in a trail: the navigation pointer,
// the unlock frontier, the completed set, paid skips and the post-completion tip.
package progression

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trailpay/platform/internal/domain"
	"github.com/trailpay/platform/internal/watch"
)

// Option configures a Controller.
type Option func(*Controller)

// WithEmitter sets the analytics sink.
func WithEmitter(e Emitter) Option {
	return func(c *Controller) {
		if e != nil {
			c.emitter = e
		}
	}
}

// WithNow sets the time source used for event timestamps and quotes.
func WithNow(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// Controller is the progression state machine for one learner on one trail.
// All methods are safe for concurrent use.
type Controller struct {
	mu      sync.Mutex
	trail   *domain.Trail
	tracker *watch.Tracker
	emitter Emitter
	now     func() time.Time

	progress domain.ProgressState
	status   domain.TrailStatus
	skip     skipFlow
	tip      domain.TipDecision
}

// New creates a controller positioned at the first step.
func New(trail *domain.Trail, tracker *watch.Tracker, opts ...Option) (*Controller, error) {
	if trail == nil {
		return nil, fmt.Errorf("trail is required")
	}
	if err := trail.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trail: %w", err)
	}
	if tracker == nil {
		tracker = watch.NewTracker(watch.SystemClock())
	}
	c := &Controller{
		trail:    trail,
		tracker:  tracker,
		emitter:  discard{},
		now:      time.Now,
		progress: domain.NewProgressState(),
		status:   domain.TrailStatusInProgress,
		skip:     newSkipFlow(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Restore replaces the in-memory state with a persisted session.
func (c *Controller) Restore(saved domain.SavedProgress) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := saved.Progress.Clone()
	if err := p.Validate(c.trail.StepCount()); err != nil {
		return fmt.Errorf("restore progress: %w", err)
	}
	switch saved.Status {
	case domain.TrailStatusInProgress, domain.TrailStatusCompleted, domain.TrailStatusFinished:
	case "":
		saved.Status = domain.TrailStatusInProgress
	default:
		return fmt.Errorf("restore progress: unknown status %q", saved.Status)
	}

	c.tracker.StopAll()
	c.progress = p
	c.status = saved.Status
	c.skip = newSkipFlow()
	c.tip = domain.TipDecision{}
	if c.status != domain.TrailStatusInProgress {
		c.tip = c.newTipDecision()
		c.tip.Resolution = saved.Tip.Resolution
		c.tip.Amount = saved.Tip.Amount
	}
	return nil
}

// Trail returns the trail this controller runs.
func (c *Controller) Trail() *domain.Trail { return c.trail }

// Tracker returns the watch tracker feeding the gate.
func (c *Controller) Tracker() *watch.Tracker { return c.tracker }

// Progress returns a copy of the current progress state.
func (c *Controller) Progress() domain.ProgressState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress.Clone()
}

// Status returns the trail-level state.
func (c *Controller) Status() domain.TrailStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Saved returns the persistable form of the session.
func (c *Controller) Saved(learnerID uuid.UUID) domain.SavedProgress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.SavedProgress{
		LearnerID: learnerID,
		TrailID:   c.trail.ID,
		Progress:  c.progress.Clone(),
		Status:    c.status,
		Tip:       c.tip,
		UpdatedAt: c.now(),
	}
}

// View records that the learner opened the trail.
func (c *Controller) View() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emit(domain.NewTrailViewEvent(c.trail.ID, c.now()))
}

// CanProceed reports whether the current step's gate is satisfied.
func (c *Controller) CanProceed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canProceedLocked(c.progress.CurrentIndex)
}

// StepState derives the gating state of step i.
func (c *Controller) StepState(i int) domain.StepState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stepStateLocked(i)
}

// Navigate moves the viewing position to target. Steps beyond the frontier are locked and
// must be reached through RequestSkip; navigating to one fails with STEP_LOCKED and
// leaves the state untouched.
func (c *Controller) Navigate(target int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkIndexLocked(target); err != nil {
		return err
	}
	if c.progress.IsLocked(target) {
		return domain.ErrStepLocked(target, c.progress.FrontierIndex)
	}
	c.moveLocked(target)
	return nil
}

// Advance completes the current step honestly and moves on. The current step's gate must
// hold. Advancing past the final step completes the trail.
func (c *Controller) Advance() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != domain.TrailStatusInProgress {
		return domain.ErrInvalidTransition(fmt.Sprintf("cannot advance a %s trail", c.status))
	}
	cur := c.progress.CurrentIndex
	if !c.canProceedLocked(cur) {
		return domain.ErrGateNotSatisfied(cur)
	}

	c.progress.Completed.Add(cur)
	step, _ := c.trail.Step(cur)
	now := c.now()
	c.emit(domain.NewStepCompleteEvent(c.trail.ID, cur, step.Title, now))

	if cur == c.trail.LastIndex() {
		c.tracker.Detach(cur)
		c.completeLocked(now)
		return nil
	}
	if cur == c.progress.FrontierIndex {
		c.progress.FrontierIndex++
		c.reconcileSkipLocked()
	}
	c.moveLocked(cur + 1)
	return nil
}

// Restart resets the session to the first step and discards all watch state.
func (c *Controller) Restart() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tracker.Reset()
	c.progress = domain.NewProgressState()
	c.status = domain.TrailStatusInProgress
	c.skip = newSkipFlow()
	c.tip = domain.TipDecision{}
}

// HandlePlayerEvent forwards a playback signal for stepIndex to the tracker and emits
// video_watch when playback pauses or ends. Locked and non-video steps are rejected.
func (c *Controller) HandlePlayerEvent(stepIndex int, ev watch.Event, durationSeconds float64) (watch.Progress, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkWatchableLocked(stepIndex); err != nil {
		return watch.Progress{}, err
	}
	p, err := c.tracker.HandleEvent(stepIndex, ev, durationSeconds)
	if ev == watch.EventPause || ev == watch.EventEnded {
		c.emit(domain.NewVideoWatchEvent(c.trail.ID, stepIndex, p.WatchedPercentage, c.now()))
	}
	return p, err
}

// AttachPlayer binds a video player to stepIndex, replacing any previous one. Its
// callbacks get the same treatment as HandlePlayerEvent: signals for a step that is
// locked by then are dropped and pause or end emits video_watch.
func (c *Controller) AttachPlayer(stepIndex int, player watch.VideoPlayer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkWatchableLocked(stepIndex); err != nil {
		return err
	}
	c.tracker.Attach(stepIndex, &boundPlayer{VideoPlayer: player, c: c, step: stepIndex})
	return nil
}

// PlayerAttached reports whether player is the one currently bound to stepIndex.
func (c *Controller) PlayerAttached(stepIndex int, player watch.VideoPlayer) bool {
	bound, ok := c.tracker.Player(stepIndex)
	if !ok {
		return false
	}
	if b, ok := bound.(*boundPlayer); ok {
		return b.VideoPlayer == player
	}
	return bound == player
}

// boundPlayer routes a player's callbacks through the controller lock.
type boundPlayer struct {
	watch.VideoPlayer
	c    *Controller
	step int
}

func (b *boundPlayer) OnPlay(fn func())  { b.VideoPlayer.OnPlay(b.gate(watch.EventPlay, fn)) }
func (b *boundPlayer) OnPause(fn func()) { b.VideoPlayer.OnPause(b.gate(watch.EventPause, fn)) }
func (b *boundPlayer) OnEnded(fn func()) { b.VideoPlayer.OnEnded(b.gate(watch.EventEnded, fn)) }

func (b *boundPlayer) gate(ev watch.Event, fn func()) func() {
	return func() {
		c := b.c
		c.mu.Lock()
		defer c.mu.Unlock()

		if cur, ok := c.tracker.Player(b.step); !ok || cur != watch.VideoPlayer(b) {
			return
		}
		if c.checkWatchableLocked(b.step) != nil {
			return
		}
		fn()
		if ev == watch.EventPause || ev == watch.EventEnded {
			c.emit(domain.NewVideoWatchEvent(c.trail.ID, b.step, c.tracker.Percentage(b.step), c.now()))
		}
	}
}

// Close cancels every running sampler. The controller remains usable.
func (c *Controller) Close() {
	c.tracker.StopAll()
}

func (c *Controller) canProceedLocked(i int) bool {
	step, ok := c.trail.Step(i)
	if !ok {
		return false
	}
	if !step.IsVideo() {
		return true
	}
	return c.progress.Completed.Has(i) || c.tracker.IsVideoComplete(i)
}

func (c *Controller) stepStateLocked(i int) domain.StepState {
	switch {
	case c.progress.IsLocked(i):
		return domain.StepLocked
	case c.progress.Completed.Has(i):
		return domain.StepUnlockedComplete
	default:
		return domain.StepUnlockedIncomplete
	}
}

func (c *Controller) checkIndexLocked(i int) error {
	if i < 0 || i > c.trail.LastIndex() {
		return domain.ErrValidation(fmt.Sprintf("step index %d out of range [0,%d]", i, c.trail.LastIndex()))
	}
	return nil
}

func (c *Controller) checkWatchableLocked(i int) error {
	if err := c.checkIndexLocked(i); err != nil {
		return err
	}
	if c.progress.IsLocked(i) {
		return domain.ErrStepLocked(i, c.progress.FrontierIndex)
	}
	if step, _ := c.trail.Step(i); !step.IsVideo() {
		return domain.ErrValidation(fmt.Sprintf("step %d is not a video", i))
	}
	return nil
}

// moveLocked changes the viewing position, cancelling the sampler of the step left behind.
func (c *Controller) moveLocked(target int) {
	if target != c.progress.CurrentIndex {
		c.tracker.Detach(c.progress.CurrentIndex)
	}
	c.progress.CurrentIndex = target
}

func (c *Controller) emit(evt domain.AnalyticsEvent) {
	c.emitter.Emit(evt)
}
