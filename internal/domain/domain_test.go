package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Validator Tests ---

func TestValidateCurrency(t *testing.T) {
	tests := []struct {
		name     string
		currency string
		wantErr  bool
	}{
		{"valid EUR", "EUR", false},
		{"valid USD", "USD", false},
		{"lowercase", "eur", true},
		{"too long", "EURO", true},
		{"empty", "", true},
		{"numbers", "123", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCurrency(tt.currency)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid currency code")
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidatePositiveAmount(t *testing.T) {
	require.NoError(t, ValidatePositiveAmount(1))
	require.Error(t, ValidatePositiveAmount(0))
	require.Error(t, ValidatePositiveAmount(-100))
}

func TestParseTipAmount(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int64
		wantErr bool
	}{
		{"whole", "500", 500, false},
		{"zero", "0", 0, false},
		{"trailing zero fraction", "12.0", 12, false},
		{"above suggested", "100000", 100000, false},
		{"empty", "", 0, true},
		{"negative", "-1", 0, true},
		{"letters", "five", 0, true},
		{"fraction", "1.5", 0, true},
		{"nan", "NaN", 0, true},
		{"infinite", "Inf", 0, true},
		{"huge", "1e300", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTipAmount(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, HasCode(err, CodeInvalidTipAmount))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateTipAmount(t *testing.T) {
	require.NoError(t, ValidateTipAmount(0))
	require.NoError(t, ValidateTipAmount(250))
	assert.True(t, HasCode(ValidateTipAmount(-1), CodeInvalidTipAmount))
}

// --- AppError Tests ---

func TestAppError_Error(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := ErrNotFound("trail", "abc-123")
		assert.Equal(t, "NOT_FOUND: trail abc-123 not found", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := ErrInternal("database error", cause)
		assert.Contains(t, err.Error(), "INTERNAL_ERROR")
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := ErrInternal("wrapped", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestHasCode(t *testing.T) {
	wrapped := fmt.Errorf("advance: %w", ErrGateNotSatisfied(2))
	assert.True(t, HasCode(wrapped, CodeGateNotSatisfied))
	assert.False(t, HasCode(wrapped, CodeStepLocked))
	assert.False(t, HasCode(errors.New("plain"), CodeGateNotSatisfied))
	assert.False(t, HasCode(nil, CodeGateNotSatisfied))
}

func TestErrorFactories(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantCode   string
		wantStatus int
	}{
		{"ErrNotFound", ErrNotFound("trail", "123"), "NOT_FOUND", 404},
		{"ErrConflict", ErrConflict("already exists"), "CONFLICT", 409},
		{"ErrValidation", ErrValidation("bad input"), "VALIDATION_ERROR", 400},
		{"ErrUnauthorized", ErrUnauthorized("no token"), "UNAUTHORIZED", 401},
		{"ErrForbidden", ErrForbidden("not allowed"), "FORBIDDEN", 403},
		{"ErrRateLimited", ErrRateLimited("slow down"), "RATE_LIMITED", 429},
		{"ErrInternal", ErrInternal("oops", nil), "INTERNAL_ERROR", 500},
		{"ErrGateNotSatisfied", ErrGateNotSatisfied(0), CodeGateNotSatisfied, 409},
		{"ErrSkipAlreadyPending", ErrSkipAlreadyPending("q-1"), CodeSkipAlreadyPending, 409},
		{"ErrInvalidTipAmount", ErrInvalidTipAmount("negative"), CodeInvalidTipAmount, 400},
		{"ErrPaymentFailed", ErrPaymentFailed("declined"), CodePaymentFailed, 402},
		{"ErrPaymentCancelled", ErrPaymentCancelled(), CodePaymentCancelled, 409},
		{"ErrPlayerUnavailable", ErrPlayerUnavailable(1), CodePlayerUnavailable, 422},
		{"ErrStepLocked", ErrStepLocked(3, 1), CodeStepLocked, 403},
		{"ErrInvalidTransition", ErrInvalidTransition("nope"), CodeInvalidTransition, 409},
		{"ErrGateUnavailable", ErrGateUnavailable("stripe down", nil), CodeGateUnavailable, 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, tt.err.Code)
			assert.Equal(t, tt.wantStatus, tt.err.Status)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

// --- Trail Tests ---

func TestTrail_Validate(t *testing.T) {
	valid := Trail{
		ID:       uuid.New(),
		Steps:    []Step{{Kind: StepKindVideo}, {Kind: StepKindReward}},
		Currency: "USD",
	}
	require.NoError(t, valid.Validate())

	empty := valid
	empty.Steps = nil
	assert.Error(t, empty.Validate())

	badKind := valid
	badKind.Steps = []Step{{Kind: "quiz"}}
	assert.Error(t, badKind.Validate())

	negative := valid
	negative.TrailValue = -1
	assert.Error(t, negative.Validate())

	badCurrency := valid
	badCurrency.Currency = "usd"
	assert.Error(t, badCurrency.Validate())
}

func TestTrail_Step(t *testing.T) {
	tr := Trail{Steps: []Step{{Kind: StepKindVideo, Title: "a"}, {Kind: StepKindReward}}}
	s, ok := tr.Step(0)
	require.True(t, ok)
	assert.True(t, s.IsVideo())
	_, ok = tr.Step(2)
	assert.False(t, ok)
	_, ok = tr.Step(-1)
	assert.False(t, ok)
	assert.Equal(t, 1, tr.LastIndex())
}

// --- Progress Tests ---

func TestProgressState_Validate(t *testing.T) {
	tests := []struct {
		name    string
		p       ProgressState
		wantErr bool
	}{
		{"fresh", NewProgressState(), false},
		{"viewing behind frontier", ProgressState{CurrentIndex: 0, FrontierIndex: 2, Completed: NewStepSet(0, 1)}, false},
		{"current past frontier", ProgressState{CurrentIndex: 2, FrontierIndex: 1, Completed: StepSet{}}, true},
		{"frontier out of range", ProgressState{FrontierIndex: 3, Completed: StepSet{}}, true},
		{"completed past frontier", ProgressState{FrontierIndex: 1, Completed: NewStepSet(2)}, true},
		{"negative current", ProgressState{CurrentIndex: -1, Completed: StepSet{}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate(3)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProgressState_CloneIsDeep(t *testing.T) {
	p := ProgressState{FrontierIndex: 1, Completed: NewStepSet(0)}
	c := p.Clone()
	c.Completed.Add(1)
	assert.False(t, p.Completed.Has(1))
}

func TestStepSet_JSONIsSortedArray(t *testing.T) {
	data, err := json.Marshal(NewStepSet(3, 0, 2))
	require.NoError(t, err)
	assert.JSONEq(t, `[0,2,3]`, string(data))

	var s StepSet
	require.NoError(t, json.Unmarshal([]byte(`[4,1]`), &s))
	assert.Equal(t, []int{1, 4}, s.Sorted())
}

// --- Skip / Payment Tests ---

func TestPayment_Quote(t *testing.T) {
	quoteID := uuid.New()
	from, to := 1, 3
	p := &Payment{
		Purpose:   PaymentPurposeSkip,
		Amount:    100,
		Currency:  "USD",
		QuoteID:   &quoteID,
		FromIndex: &from,
		ToIndex:   &to,
	}
	q, ok := p.Quote()
	require.True(t, ok)
	assert.Equal(t, quoteID, q.ID)
	assert.Equal(t, 3, q.ToIndex)
	assert.False(t, q.Free())

	tip := &Payment{Purpose: PaymentPurposeTip, Amount: 500}
	_, ok = tip.Quote()
	assert.False(t, ok)
}

func TestPaymentStatus_Terminal(t *testing.T) {
	assert.False(t, PaymentStatusPending.Terminal())
	assert.True(t, PaymentStatusCompleted.Terminal())
	assert.True(t, PaymentStatusFailed.Terminal())
	assert.True(t, PaymentStatusCancelled.Terminal())
}

// --- Event Tests ---

func TestNewStepSkipEvent(t *testing.T) {
	trailID := uuid.New()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	evt := NewStepSkipEvent(trailID, 1, 3, 100, at)

	assert.Equal(t, EventStepSkip, evt.EventType)
	assert.Equal(t, trailID, evt.TrailID)
	assert.Equal(t, 1, evt.Data["stepIndex"])
	assert.Equal(t, int64(100), evt.Data["cost"])
	assert.Equal(t, at, evt.Timestamp)
}

func TestNewAnalyticsOutboxDraft(t *testing.T) {
	learnerID := uuid.New()
	evt := NewVideoWatchEvent(uuid.New(), 2, 81.5, time.Now())

	draft := NewAnalyticsOutboxDraft(learnerID, evt)

	assert.NotEqual(t, uuid.Nil, draft.EventID)
	assert.Equal(t, AggregateTrail, draft.AggregateType)
	assert.Equal(t, evt.TrailID.String(), draft.AggregateID)
	assert.Equal(t, EventVideoWatch, draft.EventType)
	assert.Equal(t, learnerID.String(), draft.PartitionKey)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(draft.Payload, &payload))
	assert.Equal(t, "video_watch", payload["event_type"])
	data := payload["data"].(map[string]interface{})
	assert.Equal(t, 81.5, data["watchedPercentage"])

	var headers map[string]string
	require.NoError(t, json.Unmarshal(draft.Headers, &headers))
	assert.Equal(t, learnerID.String(), headers["learner_id"])
}
