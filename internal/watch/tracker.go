// Package watch tracks how much of each step's video a learner has actually watched.
package watch

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/trailpay/platform/internal/domain"
)

const (
	DefaultSampleInterval    = time.Second
	DefaultCompletionPercent = 80.0
)

// State is the per-step watch record. It exists once the step has been played.
type State struct {
	AccumulatedSeconds float64   `json:"accumulated_seconds"`
	IsPlaying          bool      `json:"is_playing"`
	LastResumeAt       time.Time `json:"last_resume_at"`
	DurationSeconds    float64   `json:"duration_seconds"` // 0 while unknown
}

// WatchedPercentage is accumulated/duration capped at 100, or 0 when the duration is unknown.
func (s State) WatchedPercentage() float64 {
	if s.DurationSeconds <= 0 {
		return 0
	}
	return math.Min(100, s.AccumulatedSeconds/s.DurationSeconds*100)
}

// Progress is the derived view published for one step.
type Progress struct {
	StepIndex         int     `json:"step_index"`
	WatchedPercentage float64 `json:"watched_percentage"`
	VideoComplete     bool    `json:"video_complete"`
	Playing           bool    `json:"playing"`
	DurationKnown     bool    `json:"duration_known"`
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithSampleInterval overrides the sampler tick period.
func WithSampleInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithCompletionPercent overrides the video-complete threshold.
func WithCompletionPercent(pct float64) Option {
	return func(t *Tracker) {
		if pct > 0 && pct <= 100 {
			t.threshold = pct
		}
	}
}

type sampler struct {
	handle uint64
	stop   func()
}

type binding struct {
	handle uint64
	player VideoPlayer
}

// Tracker owns all WatchState for one learner session.
//
// At most one sampler runs at a time. samplers maps a step index to its active handle;
// a tick whose handle no longer matches is discarded, so a replaced or stopped sampler
// can never credit time.
type Tracker struct {
	mu        sync.Mutex
	clock     Clock
	interval  time.Duration
	threshold float64

	states   map[int]*State
	complete map[int]bool
	samplers map[int]*sampler
	players  map[int]*binding
	handles  uint64
}

// NewTracker creates a tracker using clock for time and sampling.
func NewTracker(clock Clock, opts ...Option) *Tracker {
	if clock == nil {
		clock = SystemClock()
	}
	t := &Tracker{
		clock:     clock,
		interval:  DefaultSampleInterval,
		threshold: DefaultCompletionPercent,
		states:    make(map[int]*State),
		complete:  make(map[int]bool),
		samplers:  make(map[int]*sampler),
		players:   make(map[int]*binding),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Threshold returns the video-complete percentage.
func (t *Tracker) Threshold() float64 { return t.threshold }

// HandleEvent applies a player signal for stepIndex. durationSeconds is the player's
// current duration, or 0 when unknown.
//
// A PLAYER_UNAVAILABLE error is informational: the event is still applied, but the step
// cannot become video-complete until a duration is known.
func (t *Tracker) HandleEvent(stepIndex int, ev Event, durationSeconds float64) (Progress, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handleLocked(stepIndex, ev, durationSeconds)
}

func (t *Tracker) handleLocked(stepIndex int, ev Event, durationSeconds float64) (Progress, error) {
	st, ok := t.states[stepIndex]
	switch ev {
	case EventPlay:
		if !ok {
			st = &State{}
			t.states[stepIndex] = st
		}
	case EventPause, EventEnded:
		if !ok {
			// Pause or end without a prior play: nothing was watched.
			st = &State{}
			t.states[stepIndex] = st
		}
	default:
		return t.progressLocked(stepIndex), fmt.Errorf("unknown player event %q", ev)
	}
	if durationSeconds > 0 && !math.IsInf(durationSeconds, 0) {
		st.DurationSeconds = durationSeconds
	}

	now := t.clock.Now()
	switch ev {
	case EventPlay:
		// Only one step plays at a time; anything else still running is paused first.
		for idx := range t.samplers {
			if idx != stepIndex {
				t.pauseLocked(idx, now)
			}
		}
		t.flushLocked(st, now)
		st.IsPlaying = true
		st.LastResumeAt = now
		t.startSamplerLocked(stepIndex)
	case EventPause:
		t.pauseLocked(stepIndex, now)
	case EventEnded:
		t.pauseLocked(stepIndex, now)
		// End of stream is authoritative over sampled time.
		if st.DurationSeconds > 0 && st.AccumulatedSeconds < st.DurationSeconds {
			st.AccumulatedSeconds = st.DurationSeconds
		}
	}
	t.markCompleteLocked(stepIndex, st)

	var err error
	if st.DurationSeconds <= 0 {
		err = domain.ErrPlayerUnavailable(stepIndex)
	}
	return t.progressLocked(stepIndex), err
}

// Attach binds player to stepIndex. Any previous player and sampler for the step are
// released first; callbacks from a released player are ignored.
func (t *Tracker) Attach(stepIndex int, player VideoPlayer) {
	t.mu.Lock()
	t.releaseLocked(stepIndex, t.clock.Now())
	t.handles++
	b := &binding{handle: t.handles, player: player}
	t.players[stepIndex] = b
	t.mu.Unlock()

	dispatch := func(ev Event) func() {
		return func() {
			d := player.DurationSeconds()
			t.mu.Lock()
			defer t.mu.Unlock()
			if cur, ok := t.players[stepIndex]; !ok || cur.handle != b.handle {
				return
			}
			_, _ = t.handleLocked(stepIndex, ev, d)
		}
	}
	player.OnPlay(dispatch(EventPlay))
	player.OnPause(dispatch(EventPause))
	player.OnEnded(dispatch(EventEnded))
}

// Player returns the player currently bound to stepIndex.
func (t *Tracker) Player(stepIndex int) (VideoPlayer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.players[stepIndex]
	if !ok {
		return nil, false
	}
	return b.player, true
}

// Detach cancels the sampler for stepIndex, marks it paused and unbinds its player.
func (t *Tracker) Detach(stepIndex int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseLocked(stepIndex, t.clock.Now())
}

// StopAll cancels every sampler. Watch state and completion flags are kept.
func (t *Tracker) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	for idx := range t.samplers {
		t.pauseLocked(idx, now)
	}
	for idx := range t.players {
		delete(t.players, idx)
	}
}

// Reset cancels every sampler and discards all watch state and completion flags.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for idx, s := range t.samplers {
		s.stop()
		delete(t.samplers, idx)
	}
	t.states = make(map[int]*State)
	t.complete = make(map[int]bool)
	t.players = make(map[int]*binding)
}

// IsVideoComplete reports the cached completion flag. Once true it stays true until Reset.
func (t *Tracker) IsVideoComplete(stepIndex int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.complete[stepIndex] {
		return true
	}
	if t.progressLocked(stepIndex).WatchedPercentage >= t.threshold {
		t.complete[stepIndex] = true
	}
	return t.complete[stepIndex]
}

// Percentage returns the watched percentage for stepIndex including time since the last tick.
func (t *Tracker) Percentage(stepIndex int) float64 {
	return t.Progress(stepIndex).WatchedPercentage
}

// Progress returns the derived view for stepIndex.
func (t *Tracker) Progress(stepIndex int) Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progressLocked(stepIndex)
}

// State returns a copy of the raw watch state, if any.
func (t *Tracker) State(stepIndex int) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[stepIndex]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// ActiveSamplers returns the number of running samplers.
func (t *Tracker) ActiveSamplers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samplers)
}

func (t *Tracker) progressLocked(stepIndex int) Progress {
	p := Progress{StepIndex: stepIndex, VideoComplete: t.complete[stepIndex]}
	st, ok := t.states[stepIndex]
	if !ok {
		return p
	}
	view := *st
	if view.IsPlaying {
		view.AccumulatedSeconds += t.clock.Now().Sub(view.LastResumeAt).Seconds()
	}
	p.WatchedPercentage = view.WatchedPercentage()
	p.Playing = st.IsPlaying
	p.DurationKnown = st.DurationSeconds > 0
	return p
}

func (t *Tracker) startSamplerLocked(stepIndex int) {
	if s, ok := t.samplers[stepIndex]; ok {
		s.stop()
		delete(t.samplers, stepIndex)
	}
	t.handles++
	h := t.handles
	stop := t.clock.Every(t.interval, func() { t.tick(stepIndex, h) })
	t.samplers[stepIndex] = &sampler{handle: h, stop: stop}
}

func (t *Tracker) tick(stepIndex int, handle uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.samplers[stepIndex]
	if !ok || s.handle != handle {
		return
	}
	st := t.states[stepIndex]
	if st == nil || !st.IsPlaying {
		return
	}
	t.flushLocked(st, t.clock.Now())
	t.markCompleteLocked(stepIndex, st)
}

func (t *Tracker) pauseLocked(stepIndex int, now time.Time) {
	if s, ok := t.samplers[stepIndex]; ok {
		s.stop()
		delete(t.samplers, stepIndex)
	}
	st, ok := t.states[stepIndex]
	if !ok || !st.IsPlaying {
		return
	}
	t.flushLocked(st, now)
	st.IsPlaying = false
	t.markCompleteLocked(stepIndex, st)
}

func (t *Tracker) releaseLocked(stepIndex int, now time.Time) {
	t.pauseLocked(stepIndex, now)
	delete(t.players, stepIndex)
}

// flushLocked credits time elapsed since the last resume or tick.
func (t *Tracker) flushLocked(st *State, now time.Time) {
	if !st.IsPlaying {
		return
	}
	if elapsed := now.Sub(st.LastResumeAt).Seconds(); elapsed > 0 {
		st.AccumulatedSeconds += elapsed
	}
	st.LastResumeAt = now
}

func (t *Tracker) markCompleteLocked(stepIndex int, st *State) {
	if st.WatchedPercentage() >= t.threshold {
		t.complete[stepIndex] = true
	}
}
