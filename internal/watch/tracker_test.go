package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailpay/platform/internal/domain"
	"github.com/trailpay/platform/internal/watch/watchtest"
)

func newTestTracker() (*Tracker, *watchtest.Clock) {
	clock := watchtest.NewClock()
	return NewTracker(clock), clock
}

func TestTracker_AccumulatesWhilePlaying(t *testing.T) {
	tr, clock := newTestTracker()

	_, err := tr.HandleEvent(0, EventPlay, 100)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		clock.AdvanceAndTick(time.Second)
	}

	p := tr.Progress(0)
	assert.InDelta(t, 50.0, p.WatchedPercentage, 1e-9)
	assert.True(t, p.Playing)
	assert.False(t, p.VideoComplete)
	assert.Equal(t, 1, clock.Live())
}

func TestTracker_CompletionAtThreshold(t *testing.T) {
	tr, clock := newTestTracker()

	_, _ = tr.HandleEvent(0, EventPlay, 100)
	clock.AdvanceAndTick(79 * time.Second)
	assert.False(t, tr.IsVideoComplete(0))

	clock.AdvanceAndTick(time.Second)
	assert.True(t, tr.IsVideoComplete(0))
}

func TestTracker_CompletionIsMonotonic(t *testing.T) {
	tr, clock := newTestTracker()

	_, _ = tr.HandleEvent(2, EventPlay, 60)
	clock.AdvanceAndTick(51 * time.Second) // 85%
	_, _ = tr.HandleEvent(2, EventPause, 60)
	require.True(t, tr.IsVideoComplete(2))

	// A replacement player that reports a longer duration shrinks the percentage,
	// but the cached flag holds.
	_, _ = tr.HandleEvent(2, EventPlay, 600)
	_, _ = tr.HandleEvent(2, EventPause, 600)
	assert.Less(t, tr.Percentage(2), 80.0)
	assert.True(t, tr.IsVideoComplete(2))
}

func TestTracker_PauseStopsAccumulation(t *testing.T) {
	tr, clock := newTestTracker()

	_, _ = tr.HandleEvent(0, EventPlay, 100)
	clock.AdvanceAndTick(10 * time.Second)
	clock.Advance(500 * time.Millisecond)
	_, _ = tr.HandleEvent(0, EventPause, 100)

	st, ok := tr.State(0)
	require.True(t, ok)
	assert.InDelta(t, 10.5, st.AccumulatedSeconds, 1e-9)
	assert.False(t, st.IsPlaying)
	assert.Equal(t, 0, clock.Live())

	clock.AdvanceAndTick(30 * time.Second)
	st, _ = tr.State(0)
	assert.InDelta(t, 10.5, st.AccumulatedSeconds, 1e-9)
}

func TestTracker_EndedForcesFullWatch(t *testing.T) {
	tr, clock := newTestTracker()

	_, _ = tr.HandleEvent(0, EventPlay, 100)
	clock.AdvanceAndTick(79 * time.Second)
	p, err := tr.HandleEvent(0, EventEnded, 100)
	require.NoError(t, err)

	assert.Equal(t, 100.0, p.WatchedPercentage)
	assert.True(t, p.VideoComplete)
	assert.False(t, p.Playing)
	assert.Equal(t, 0, clock.Live())
}

func TestTracker_UnknownDuration(t *testing.T) {
	tr, clock := newTestTracker()

	_, err := tr.HandleEvent(0, EventPlay, 0)
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.CodePlayerUnavailable))

	clock.AdvanceAndTick(500 * time.Second)
	p, err := tr.HandleEvent(0, EventEnded, 0)
	assert.True(t, domain.HasCode(err, domain.CodePlayerUnavailable))
	assert.Equal(t, 0.0, p.WatchedPercentage)
	assert.False(t, tr.IsVideoComplete(0))

	// Once the duration arrives the accumulated time counts.
	_, err = tr.HandleEvent(0, EventPause, 400)
	require.NoError(t, err)
	assert.True(t, tr.IsVideoComplete(0))
}

func TestTracker_ReplayCancelsPreviousSampler(t *testing.T) {
	tr, clock := newTestTracker()

	_, _ = tr.HandleEvent(0, EventPlay, 100)
	_, _ = tr.HandleEvent(0, EventPlay, 100)
	assert.Equal(t, 1, clock.Live())
	assert.Equal(t, 1, tr.ActiveSamplers())

	clock.AdvanceAndTick(10 * time.Second)
	st, _ := tr.State(0)
	assert.InDelta(t, 10.0, st.AccumulatedSeconds, 1e-9)
}

func TestTracker_StaleTickIsIgnored(t *testing.T) {
	tr, clock := newTestTracker()

	_, _ = tr.HandleEvent(0, EventPlay, 100)
	clock.AdvanceAndTick(5 * time.Second)
	_, _ = tr.HandleEvent(0, EventPlay, 100) // restarts sampler
	clock.Advance(5 * time.Second)
	clock.TickStopped()

	st, _ := tr.State(0)
	assert.InDelta(t, 5.0, st.AccumulatedSeconds, 1e-9)
}

func TestTracker_PlayingAnotherStepPausesFirst(t *testing.T) {
	tr, clock := newTestTracker()

	_, _ = tr.HandleEvent(0, EventPlay, 100)
	clock.AdvanceAndTick(10 * time.Second)
	_, _ = tr.HandleEvent(1, EventPlay, 100)
	clock.AdvanceAndTick(10 * time.Second)

	s0, _ := tr.State(0)
	s1, _ := tr.State(1)
	assert.False(t, s0.IsPlaying)
	assert.InDelta(t, 10.0, s0.AccumulatedSeconds, 1e-9)
	assert.InDelta(t, 10.0, s1.AccumulatedSeconds, 1e-9)
	assert.Equal(t, 1, clock.Live())
}

func TestTracker_Detach(t *testing.T) {
	tr, clock := newTestTracker()

	_, _ = tr.HandleEvent(3, EventPlay, 100)
	clock.AdvanceAndTick(3 * time.Second)
	tr.Detach(3)

	assert.Equal(t, 0, clock.Live())
	st, _ := tr.State(3)
	assert.False(t, st.IsPlaying)
	clock.AdvanceAndTick(20 * time.Second)
	st, _ = tr.State(3)
	assert.InDelta(t, 3.0, st.AccumulatedSeconds, 1e-9)
}

func TestTracker_ResetClearsEverything(t *testing.T) {
	tr, clock := newTestTracker()

	_, _ = tr.HandleEvent(0, EventPlay, 10)
	_, _ = tr.HandleEvent(0, EventEnded, 10)
	_, _ = tr.HandleEvent(1, EventPlay, 10)
	require.True(t, tr.IsVideoComplete(0))

	tr.Reset()

	assert.False(t, tr.IsVideoComplete(0))
	_, ok := tr.State(0)
	assert.False(t, ok)
	assert.Equal(t, 0, clock.Live())
	assert.Equal(t, 0, tr.ActiveSamplers())
}

func TestTracker_AttachedPlayerDrivesEvents(t *testing.T) {
	tr, clock := newTestTracker()
	player := NewRemotePlayer("p1")
	tr.Attach(0, player)

	player.Dispatch(EventPlay, 40)
	clock.AdvanceAndTick(36 * time.Second)
	player.Dispatch(EventPause, 40)

	assert.InDelta(t, 90.0, tr.Percentage(0), 1e-9)
	assert.True(t, tr.IsVideoComplete(0))
	got, ok := tr.Player(0)
	require.True(t, ok)
	assert.Same(t, player, got)
}

func TestTracker_ReplacedPlayerIsIgnored(t *testing.T) {
	tr, clock := newTestTracker()
	old := NewRemotePlayer("old")
	tr.Attach(0, old)
	old.Dispatch(EventPlay, 100)
	clock.AdvanceAndTick(5 * time.Second)

	fresh := NewRemotePlayer("new")
	tr.Attach(0, fresh)
	assert.Equal(t, 0, clock.Live(), "attaching a new player cancels the old sampler")

	old.Dispatch(EventPlay, 100)
	clock.AdvanceAndTick(50 * time.Second)
	assert.Equal(t, 0, tr.ActiveSamplers())

	st, _ := tr.State(0)
	assert.InDelta(t, 5.0, st.AccumulatedSeconds, 1e-9)
}

func TestTracker_CustomThreshold(t *testing.T) {
	clock := watchtest.NewClock()
	tr := NewTracker(clock, WithCompletionPercent(50), WithSampleInterval(250*time.Millisecond))

	_, _ = tr.HandleEvent(0, EventPlay, 10)
	clock.AdvanceAndTick(5 * time.Second)
	assert.True(t, tr.IsVideoComplete(0))
	assert.Equal(t, 50.0, tr.Threshold())
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent(" Play ")
	require.NoError(t, err)
	assert.Equal(t, EventPlay, ev)

	_, err = ParseEvent("seek")
	assert.Error(t, err)
}
