// Package simulate replays a scripted learner against a trail on a virtual clock.
package simulate

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/trailpay/platform/internal/domain"
	"github.com/trailpay/platform/internal/progression"
	"github.com/trailpay/platform/internal/watch"
	"github.com/trailpay/platform/internal/watch/watchtest"
)

// Script is a list of learner actions.
//
//	[[action]]
//	do = "play"
//	step = 0
//	duration = 120.0
//
//	[[action]]
//	do = "wait"
//	seconds = 100
type Script struct {
	CompletePercent float64  `toml:"complete-percent"`
	Actions         []Action `toml:"action"`
}

// Action is one scripted step. Which fields apply depends on Do.
type Action struct {
	Do       string  `toml:"do"`
	Step     int     `toml:"step"`
	Duration float64 `toml:"duration"`
	Seconds  float64 `toml:"seconds"`
	Target   int     `toml:"target"`
	Amount   int64   `toml:"amount"`
	Outcome  string  `toml:"outcome"`
}

func (a Action) String() string {
	switch a.Do {
	case "play", "pause", "ended":
		return fmt.Sprintf("%s step=%d", a.Do, a.Step)
	case "wait":
		return fmt.Sprintf("wait %gs", a.Seconds)
	case "navigate", "skip":
		return fmt.Sprintf("%s target=%d", a.Do, a.Target)
	case "tip":
		return fmt.Sprintf("tip amount=%d", a.Amount)
	}
	return a.Do
}

// Outcome is the result of one action.
type Outcome struct {
	Action string             `json:"action"`
	Error  string             `json:"error,omitempty"`
	Quote  *domain.SkipQuote  `json:"quote,omitempty"`
	Status domain.TrailStatus `json:"status"`
}

// Result is the full replay.
type Result struct {
	Outcomes []Outcome               `json:"outcomes"`
	Events   []domain.AnalyticsEvent `json:"events"`
	Final    progression.Snapshot    `json:"final"`
}

// LoadScript reads a script from a TOML file.
func LoadScript(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()
	return DecodeScript(f)
}

// DecodeScript parses a TOML script.
func DecodeScript(r io.Reader) (*Script, error) {
	var s Script
	md, err := toml.NewDecoder(r).Decode(&s)
	if err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown script keys: %v", undecoded)
	}
	return &s, nil
}

// Run replays script against trail. Rejected actions are recorded and the replay
// goes on; only a malformed script or trail stops it.
func Run(trail *domain.Trail, script *Script) (*Result, error) {
	clock := watchtest.NewClock()
	var opts []watch.Option
	if script.CompletePercent > 0 {
		opts = append(opts, watch.WithCompletionPercent(script.CompletePercent))
	}
	rec := progression.NewRecorder()
	ctrl, err := progression.New(trail, watch.NewTracker(clock, opts...),
		progression.WithEmitter(rec), progression.WithNow(clock.Now))
	if err != nil {
		return nil, err
	}
	defer ctrl.Close()

	ctrl.View()
	res := &Result{}
	for i, a := range script.Actions {
		quote, err := apply(ctrl, clock, a)
		if err != nil && !isDomainError(err) {
			return nil, fmt.Errorf("action %d (%s): %w", i, a, err)
		}
		out := Outcome{Action: a.String(), Quote: quote, Status: ctrl.Status()}
		if err != nil {
			out.Error = err.Error()
		}
		res.Outcomes = append(res.Outcomes, out)
	}
	res.Events = rec.Drain()
	res.Final = ctrl.Snapshot()
	return res, nil
}

func apply(ctrl *progression.Controller, clock *watchtest.Clock, a Action) (*domain.SkipQuote, error) {
	switch strings.ToLower(a.Do) {
	case "play", "pause", "ended":
		ev, err := watch.ParseEvent(a.Do)
		if err != nil {
			return nil, err
		}
		_, err = ctrl.HandlePlayerEvent(a.Step, ev, a.Duration)
		return nil, err
	case "wait":
		if a.Seconds < 0 {
			return nil, fmt.Errorf("wait must not be negative")
		}
		clock.AdvanceAndTick(time.Duration(a.Seconds * float64(time.Second)))
		return nil, nil
	case "advance":
		return nil, ctrl.Advance()
	case "navigate":
		return nil, ctrl.Navigate(a.Target)
	case "restart":
		ctrl.Restart()
		return nil, nil
	case "skip":
		return skip(ctrl, a)
	case "tip":
		return nil, ctrl.Tip(a.Amount)
	case "skip-tip":
		return nil, ctrl.SkipTip()
	}
	return nil, fmt.Errorf("unknown action %q", a.Do)
}

// skip runs the whole skip flow, settling paid quotes with the scripted outcome.
func skip(ctrl *progression.Controller, a Action) (*domain.SkipQuote, error) {
	quote, err := ctrl.RequestSkip(a.Target)
	if err != nil || quote == nil {
		return quote, err
	}
	if quote.Free() {
		_, err := ctrl.ConfirmSkip(quote.ID)
		return quote, err
	}
	if _, err := ctrl.BeginSkipPayment(quote.ID); err != nil {
		return quote, err
	}
	outcome := domain.PaymentOutcome(strings.ToLower(a.Outcome))
	if outcome == "" {
		outcome = domain.PaymentOutcomeSuccess
	}
	return quote, ctrl.ResolveSkip(quote.ID, outcome)
}

func isDomainError(err error) bool {
	var appErr *domain.AppError
	return errors.As(err, &appErr)
}
