package progression

import (
	"sync"

	"github.com/trailpay/platform/internal/domain"
)

// Emitter receives one analytics record per meaningful transition.
// Emit is called while the controller holds its lock and must not call back into it.
type Emitter interface {
	Emit(evt domain.AnalyticsEvent)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(evt domain.AnalyticsEvent)

func (f EmitterFunc) Emit(evt domain.AnalyticsEvent) { f(evt) }

type discard struct{}

func (discard) Emit(domain.AnalyticsEvent) {}

// Recorder buffers emitted events until they are drained.
type Recorder struct {
	mu     sync.Mutex
	events []domain.AnalyticsEvent
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Emit(evt domain.AnalyticsEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Drain returns and clears the buffered events.
func (r *Recorder) Drain() []domain.AnalyticsEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

// Len returns the number of buffered events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
