package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailpay/platform/internal/domain"
)

func TestVerifyWebhookSignature_Valid(t *testing.T) {
	secret := "whsec_test_secret"
	p := NewStripeProvider("", secret)

	payload := []byte(`{"id":"evt_123","type":"checkout.session.completed","data":{}}`)
	ts := fmt.Sprintf("%d", time.Now().Unix())
	sigHeader := fmt.Sprintf("t=%s,v1=%s", ts, SignPayload(secret, ts, payload))

	event, err := p.VerifyWebhookSignature(payload, sigHeader)
	require.NoError(t, err)
	assert.Equal(t, "evt_123", event.ID)
	assert.Equal(t, EventCheckoutCompleted, event.Type)
}

func TestVerifyWebhookSignature_SecondSignatureMatches(t *testing.T) {
	secret := "whsec_test_secret"
	p := NewStripeProvider("", secret)

	payload := []byte(`{"id":"evt_9","type":"checkout.session.expired","data":{}}`)
	ts := fmt.Sprintf("%d", time.Now().Unix())
	sigHeader := fmt.Sprintf("t=%s,v1=deadbeef,v1=%s", ts, SignPayload(secret, ts, payload))

	_, err := p.VerifyWebhookSignature(payload, sigHeader)
	require.NoError(t, err)
}

func TestVerifyWebhookSignature_InvalidSignature(t *testing.T) {
	p := NewStripeProvider("", "whsec_test_secret")

	payload := []byte(`{"id":"evt_123","type":"test"}`)
	ts := fmt.Sprintf("%d", time.Now().Unix())
	sigHeader := fmt.Sprintf("t=%s,v1=invalid_signature", ts)

	_, err := p.VerifyWebhookSignature(payload, sigHeader)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid webhook signature")
}

func TestVerifyWebhookSignature_ExpiredTimestamp(t *testing.T) {
	secret := "whsec_test_secret"
	p := NewStripeProvider("", secret)

	payload := []byte(`{"id":"evt_123","type":"test"}`)
	ts := fmt.Sprintf("%d", time.Now().Unix()-600) // 10 minutes ago
	sigHeader := fmt.Sprintf("t=%s,v1=%s", ts, SignPayload(secret, ts, payload))

	_, err := p.VerifyWebhookSignature(payload, sigHeader)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "too old")
}

func TestVerifyWebhookSignature_MissingHeader(t *testing.T) {
	p := NewStripeProvider("", "whsec_test_secret")

	_, err := p.VerifyWebhookSignature([]byte(`{}`), "")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid signature header format")
}

func TestVerifyWebhookSignature_NoSecret(t *testing.T) {
	p := NewStripeProvider("", "")
	_, err := p.VerifyWebhookSignature([]byte(`{}`), "t=1,v1=x")
	assert.Error(t, err)
}

func TestCreateCheckoutSession(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "pay-1", r.Header.Get("Idempotency-Key"))
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		_ = json.NewEncoder(w).Encode(CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/cs_test_1"})
	}))
	defer srv.Close()

	p := NewStripeProvider("sk_test", "", WithStripeBaseURL(srv.URL))
	session, err := p.CreateCheckoutSession(context.Background(), CheckoutRequest{
		Amount:            50,
		Currency:          "USD",
		ProductName:       "Skip to step 3",
		ClientReferenceID: "pay-1",
		Metadata:          map[string]string{"purpose": "skip", "quote_id": "q-1"},
		SuccessURL:        "https://app.example/ok",
		CancelURL:         "https://app.example/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", session.ID)

	assert.Equal(t, "usd", form.Get("line_items[0][price_data][currency]"))
	assert.Equal(t, "50", form.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "pay-1", form.Get("client_reference_id"))
	assert.Equal(t, "skip", form.Get("metadata[purpose]"))
	assert.Equal(t, "https://app.example/ok", form.Get("success_url"))
}

func TestCreateCheckoutSession_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"message":"card declined"}}`))
	}))
	defer srv.Close()

	_, err := NewStripeProvider("", "").CreateCheckoutSession(context.Background(), CheckoutRequest{Amount: 1})
	assert.Error(t, err)

	p := NewStripeProvider("sk_test", "", WithStripeBaseURL(srv.URL))
	_, err = p.CreateCheckoutSession(context.Background(), CheckoutRequest{Amount: 0})
	assert.Error(t, err)

	_, err = p.CreateCheckoutSession(context.Background(), CheckoutRequest{Amount: 10, Currency: "USD"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "402")
}

func TestParseCheckoutSessionData(t *testing.T) {
	raw := json.RawMessage(`{"object":{"id":"cs_1","client_reference_id":"abc","payment_status":"paid","metadata":{"purpose":"tip"}}}`)
	data, err := ParseCheckoutSessionData(raw)
	require.NoError(t, err)
	assert.Equal(t, "cs_1", data.ID)
	assert.Equal(t, "abc", data.ClientReferenceID)
	assert.Equal(t, "tip", data.Metadata["purpose"])
}

func TestCheckoutOutcome(t *testing.T) {
	tests := []struct {
		eventType string
		data      *CheckoutSessionData
		want      domain.PaymentOutcome
		ok        bool
	}{
		{EventCheckoutCompleted, &CheckoutSessionData{PaymentStatus: "paid"}, domain.PaymentOutcomeSuccess, true},
		{EventCheckoutCompleted, &CheckoutSessionData{PaymentStatus: "unpaid"}, "", false},
		{EventCheckoutExpired, nil, domain.PaymentOutcomeCancelled, true},
		{EventCheckoutAsyncPaymentFailed, nil, domain.PaymentOutcomeFailure, true},
		{"customer.created", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			got, ok := CheckoutOutcome(tt.eventType, tt.data)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
