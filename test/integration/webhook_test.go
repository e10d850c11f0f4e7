//go:build integration

package integration

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailpay/platform/test/integration/testutil"
)

func TestStripeWebhook_RejectedDeliveries(t *testing.T) {
	env := testutil.NewTestEnv(t)
	completed := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_test"}}}`)

	tests := []struct {
		name       string
		body       []byte
		signature  string
		wantStatus int
		wantCode   string
	}{
		{"unsigned", completed, "", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"forged signature", completed, "t=1234567890,v1=deadbeef", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"oversized", []byte(strings.Repeat(" ", 1<<20+1)), "t=1,v1=00", http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{"Content-Type": "application/json"}
			if tt.signature != "" {
				headers["Stripe-Signature"] = tt.signature
			}
			resp := env.RawPOST("/webhooks/stripe", tt.body, headers)
			testutil.AssertStatus(t, resp, tt.wantStatus)
			testutil.AssertErrorCode(t, resp, tt.wantCode)
		})
	}
}

func TestStripeWebhook_AcknowledgesWithoutSideEffects(t *testing.T) {
	env := testutil.NewTestEnv(t)

	for _, evt := range []struct{ id, typ, session string }{
		{"evt_unknown", "checkout.session.completed", "cs_unknown"},
		{"evt_other", "customer.created", "cs_other"},
	} {
		resp := env.SendCheckoutEvent(evt.id, evt.typ, evt.session, "")
		var ack map[string]bool
		testutil.DecodeJSON(t, resp, &ack)
		require.Equal(t, http.StatusOK, resp.StatusCode, evt.typ)
		assert.True(t, ack["received"], evt.typ)
	}

	var payments int
	require.NoError(t, env.Pool.QueryRow(t.Context(), `SELECT count(*) FROM payments`).Scan(&payments))
	assert.Zero(t, payments)
}
