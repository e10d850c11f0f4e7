package watch

import (
	"fmt"
	"strings"
	"sync"
)

// Event is a playback signal from a video player.
type Event string

const (
	EventPlay  Event = "play"
	EventPause Event = "pause"
	EventEnded Event = "ended"
)

// ParseEvent converts a client-supplied name into an Event.
func ParseEvent(s string) (Event, error) {
	switch Event(strings.ToLower(strings.TrimSpace(s))) {
	case EventPlay:
		return EventPlay, nil
	case EventPause:
		return EventPause, nil
	case EventEnded:
		return EventEnded, nil
	}
	return "", fmt.Errorf("unknown player event %q", s)
}

// VideoPlayer is the capability set the tracker needs from any video provider.
// DurationSeconds returns 0 while the duration is unknown.
type VideoPlayer interface {
	OnPlay(fn func())
	OnPause(fn func())
	OnEnded(fn func())
	DurationSeconds() float64
}

// RemotePlayer is a VideoPlayer whose signals are reported by a client over the network.
type RemotePlayer struct {
	id string

	mu       sync.Mutex
	duration float64
	onPlay   func()
	onPause  func()
	onEnded  func()
}

// NewRemotePlayer creates a player identified by the client-chosen id.
func NewRemotePlayer(id string) *RemotePlayer {
	return &RemotePlayer{id: id}
}

// ID returns the client-chosen player instance id.
func (p *RemotePlayer) ID() string { return p.id }

func (p *RemotePlayer) OnPlay(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPlay = fn
}

func (p *RemotePlayer) OnPause(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPause = fn
}

func (p *RemotePlayer) OnEnded(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEnded = fn
}

func (p *RemotePlayer) DurationSeconds() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

// Dispatch records the reported duration and fires the callback registered for ev.
func (p *RemotePlayer) Dispatch(ev Event, durationSeconds float64) {
	p.mu.Lock()
	if durationSeconds > 0 {
		p.duration = durationSeconds
	}
	var fn func()
	switch ev {
	case EventPlay:
		fn = p.onPlay
	case EventPause:
		fn = p.onPause
	case EventEnded:
		fn = p.onEnded
	}
	p.mu.Unlock()

	if fn != nil {
		fn()
	}
}
