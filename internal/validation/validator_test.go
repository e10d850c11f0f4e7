package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailpay/platform/internal/domain"
)

type playerEventRequest struct {
	Step     *int     `json:"step" validate:"required,gte=0"`
	Event    string   `json:"event" validate:"required,player_event"`
	Duration *float64 `json:"duration,omitempty" validate:"omitempty,gte=0"`
}

type tipRequest struct {
	Amount   int64  `json:"amount" validate:"gte=0"`
	Currency string `json:"currency" validate:"omitempty,currency"`
}

func intPtr(i int) *int { return &i }

func TestValidate_Valid(t *testing.T) {
	v := New()
	require.NoError(t, v.Validate(playerEventRequest{Step: intPtr(0), Event: "play"}))
	require.NoError(t, v.Validate(tipRequest{Amount: 0}))
	require.NoError(t, v.Validate(tipRequest{Amount: 500, Currency: "EUR"}))
}

func TestValidate_FieldDetailsUseJSONNames(t *testing.T) {
	v := New()
	err := v.Validate(playerEventRequest{Event: "seek"})
	require.Error(t, err)

	var appErr *domain.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
	assert.Equal(t, 400, appErr.Status)
	assert.Equal(t, "is required", appErr.Details["step"])
	assert.Equal(t, "must be one of: play pause ended", appErr.Details["event"])
}

func TestValidate_CustomCurrency(t *testing.T) {
	err := New().Validate(tipRequest{Amount: -1, Currency: "usd"})
	require.Error(t, err)

	var appErr *domain.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Details["currency"], "currency code")
	assert.Equal(t, "must be greater than or equal to 0", appErr.Details["amount"])
}

func TestValidate_NonStruct(t *testing.T) {
	err := New().Validate(42)
	assert.True(t, domain.HasCode(err, "VALIDATION_ERROR"))
}
