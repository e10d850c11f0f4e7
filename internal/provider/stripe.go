package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/trailpay/platform/internal/domain"
)

// Stripe webhook event types the payment gate reacts to.
const (
	EventCheckoutCompleted          = "checkout.session.completed"
	EventCheckoutExpired            = "checkout.session.expired"
	EventCheckoutAsyncPaymentFailed = "checkout.session.async_payment_failed"
)

const (
	defaultStripeBaseURL = "https://api.stripe.com"
	signatureTolerance   = 300 * time.Second
)

// StripeProvider wraps Stripe API operations.
type StripeProvider struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	client        *http.Client
	now           func() time.Time
}

// StripeOption configures a StripeProvider.
type StripeOption func(*StripeProvider)

// WithStripeBaseURL points the provider at a different API host.
func WithStripeBaseURL(u string) StripeOption {
	return func(s *StripeProvider) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithStripeHTTPClient overrides the HTTP client.
func WithStripeHTTPClient(c *http.Client) StripeOption {
	return func(s *StripeProvider) { s.client = c }
}

// NewStripeProvider creates a Stripe provider.
func NewStripeProvider(secretKey, webhookSecret string, opts ...StripeOption) *StripeProvider {
	s := &StripeProvider{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		baseURL:       defaultStripeBaseURL,
		client:        &http.Client{Timeout: 15 * time.Second},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name identifies the provider in stored payments.
func (s *StripeProvider) Name() string { return "stripe" }

// CheckoutRequest describes a one-off hosted checkout.
type CheckoutRequest struct {
	Amount            int64
	Currency          string
	ProductName       string
	ClientReferenceID string
	Metadata          map[string]string
	SuccessURL        string
	CancelURL         string
}

// CheckoutSession represents a Stripe checkout session response.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// StripeWebhookEvent represents a parsed Stripe webhook event.
type StripeWebhookEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// CheckoutSessionData is the nested data.object from a checkout.session.* event.
type CheckoutSessionData struct {
	ID                string            `json:"id"`
	PaymentIntent     string            `json:"payment_intent"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// CreateCheckoutSession creates a Stripe checkout session for a single payment.
func (s *StripeProvider) CreateCheckoutSession(ctx context.Context, in CheckoutRequest) (*CheckoutSession, error) {
	if s.secretKey == "" {
		return nil, fmt.Errorf("stripe secret key not configured")
	}
	if in.Amount <= 0 {
		return nil, fmt.Errorf("checkout amount must be positive, got %d", in.Amount)
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(in.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(in.Amount, 10))
	form.Set("line_items[0][price_data][product_data][name]", in.ProductName)
	form.Set("line_items[0][quantity]", "1")
	form.Set("client_reference_id", in.ClientReferenceID)
	form.Set("success_url", in.SuccessURL)
	form.Set("cancel_url", in.CancelURL)
	keys := make([]string, 0, len(in.Metadata))
	for k := range in.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		form.Set("metadata["+k+"]", in.Metadata[k])
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if in.ClientReferenceID != "" {
		req.Header.Set("Idempotency-Key", in.ClientReferenceID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stripe api call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("stripe error (status %d): %s", resp.StatusCode, string(body))
	}

	var session CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("decode stripe response: %w", err)
	}
	return &session, nil
}

// VerifyWebhookSignature verifies a Stripe webhook signature.
// Returns the parsed event if valid.
func (s *StripeProvider) VerifyWebhookSignature(payload []byte, sigHeader string) (*StripeWebhookEvent, error) {
	if s.webhookSecret == "" {
		return nil, fmt.Errorf("stripe webhook secret not configured")
	}

	// Stripe-Signature: t=timestamp,v1=signature[,v1=...]
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(sigHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return nil, fmt.Errorf("invalid signature header format")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}
	if s.now().Sub(time.Unix(ts, 0)) > signatureTolerance {
		return nil, fmt.Errorf("webhook timestamp too old")
	}

	expected := SignPayload(s.webhookSecret, timestamp, payload)
	valid := false
	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("invalid webhook signature")
	}

	var event StripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode webhook event: %w", err)
	}
	return &event, nil
}

// SignPayload computes the v1 signature Stripe sends for payload at timestamp.
func SignPayload(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseCheckoutSessionData extracts checkout session data from a webhook event.
func ParseCheckoutSessionData(data json.RawMessage) (*CheckoutSessionData, error) {
	var wrapper struct {
		Object CheckoutSessionData `json:"object"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse checkout session data: %w", err)
	}
	return &wrapper.Object, nil
}

// CheckoutOutcome maps a checkout webhook type to a payment outcome.
// A completed session whose payment is still processing is not resolved yet.
func CheckoutOutcome(eventType string, data *CheckoutSessionData) (domain.PaymentOutcome, bool) {
	switch eventType {
	case EventCheckoutCompleted:
		if data != nil && data.PaymentStatus == "unpaid" {
			return "", false
		}
		return domain.PaymentOutcomeSuccess, true
	case "checkout.session.async_payment_succeeded":
		return domain.PaymentOutcomeSuccess, true
	case EventCheckoutExpired:
		return domain.PaymentOutcomeCancelled, true
	case EventCheckoutAsyncPaymentFailed:
		return domain.PaymentOutcomeFailure, true
	}
	return "", false
}
