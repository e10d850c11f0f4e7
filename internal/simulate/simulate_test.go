package simulate

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailpay/platform/internal/domain"
)

func knotsTrail() *domain.Trail {
	return &domain.Trail{
		ID:    uuid.New(),
		Title: "Knots",
		Steps: []domain.Step{
			{ID: uuid.New(), Kind: domain.StepKindVideo, Title: "Bowline"},
			{ID: uuid.New(), Kind: domain.StepKindVideo, Title: "Clove hitch"},
			{ID: uuid.New(), Kind: domain.StepKindReward, Title: "Certificate"},
		},
		TrailValue:   300,
		Currency:     "USD",
		SuggestedTip: 500,
	}
}

const fullScript = `
[[action]]
do = "play"
step = 0
duration = 100.0

[[action]]
do = "wait"
seconds = 90.0

[[action]]
do = "pause"
step = 0
duration = 100.0

[[action]]
do = "advance"

[[action]]
do = "skip"
target = 2

[[action]]
do = "advance"

[[action]]
do = "tip"
amount = 500
`

func eventTypes(events []domain.AnalyticsEvent) []domain.EventType {
	out := make([]domain.EventType, len(events))
	for i, e := range events {
		out[i] = e.EventType
	}
	return out
}

func TestRun_FullTrail(t *testing.T) {
	script, err := DecodeScript(strings.NewReader(fullScript))
	require.NoError(t, err)
	require.Len(t, script.Actions, 7)

	res, err := Run(knotsTrail(), script)
	require.NoError(t, err)

	for _, o := range res.Outcomes {
		assert.Empty(t, o.Error, o.Action)
	}

	skip := res.Outcomes[4]
	require.NotNil(t, skip.Quote)
	assert.Equal(t, 1, skip.Quote.FromIndex)
	assert.Equal(t, 2, skip.Quote.ToIndex)
	assert.Equal(t, int64(100), skip.Quote.Amount)

	types := eventTypes(res.Events)
	assert.Equal(t, domain.EventTrailView, types[0])
	assert.Contains(t, types, domain.EventStepSkip)
	assert.Contains(t, types, domain.EventTrailComplete)
	assert.Equal(t, domain.EventTipDonated, types[len(types)-1])
	assert.Equal(t, domain.TrailStatusFinished, res.Final.Status)
}

func TestRun_RejectedActionsAreRecorded(t *testing.T) {
	script := &Script{Actions: []Action{
		{Do: "advance"},
		{Do: "navigate", Target: 2},
		{Do: "tip", Amount: 100},
	}}

	res, err := Run(knotsTrail(), script)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 3)
	for _, o := range res.Outcomes {
		assert.NotEmpty(t, o.Error, o.Action)
		assert.Equal(t, domain.TrailStatusInProgress, o.Status)
	}
	assert.Equal(t, []domain.EventType{domain.EventTrailView}, eventTypes(res.Events))
	assert.Equal(t, 0, res.Final.Progress.CurrentIndex)
}

func TestRun_FailedPaymentLeavesProgress(t *testing.T) {
	script := &Script{Actions: []Action{
		{Do: "skip", Target: 1, Outcome: "failure"},
	}}

	res, err := Run(knotsTrail(), script)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)
	assert.NotEmpty(t, res.Outcomes[0].Error)
	assert.Equal(t, 0, res.Final.Progress.FrontierIndex)
	assert.NotContains(t, eventTypes(res.Events), domain.EventStepSkip)
}

func TestRun_UnknownActionStops(t *testing.T) {
	_, err := Run(knotsTrail(), &Script{Actions: []Action{{Do: "rewind"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rewind")
}

func TestDecodeScript_UnknownKey(t *testing.T) {
	_, err := DecodeScript(strings.NewReader("[[action]]\ndo = \"advance\"\nspeed = 2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown script keys")
}
