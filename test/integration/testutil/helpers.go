//go:build integration

package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/trailpay/platform/internal/auth"
	"github.com/trailpay/platform/internal/domain"
	"github.com/trailpay/platform/internal/provider"
)

// LearnerToken mints a learner JWT and returns it with the learner's ID.
func (env *TestEnv) LearnerToken() (token string, learnerID uuid.UUID) {
	env.t.Helper()
	learnerID = uuid.New()
	token, err := env.JWTMgr.GenerateToken(auth.RealmLearner, learnerID, "learner@test.com")
	if err != nil {
		env.t.Fatalf("LearnerToken: %v", err)
	}
	return token, learnerID
}

// CreatorToken mints a creator JWT for creatorID.
func (env *TestEnv) CreatorToken(creatorID uuid.UUID) string {
	env.t.Helper()
	token, err := env.JWTMgr.GenerateToken(auth.RealmCreator, creatorID, "creator@test.com")
	if err != nil {
		env.t.Fatalf("CreatorToken: %v", err)
	}
	return token
}

// SeedTrail publishes a trail of video steps followed by one reward step.
func (env *TestEnv) SeedTrail(value int64, videos int) *domain.Trail {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	trail := &domain.Trail{
		ID:           uuid.New(),
		CreatorID:    uuid.New(),
		Title:        "Integration trail",
		TrailValue:   value,
		Currency:     "USD",
		SuggestedTip: 500,
	}
	for i := 0; i < videos; i++ {
		trail.Steps = append(trail.Steps, domain.Step{
			ID: uuid.New(), Kind: domain.StepKindVideo, Title: fmt.Sprintf("Video %d", i+1),
		})
	}
	trail.Steps = append(trail.Steps, domain.Step{ID: uuid.New(), Kind: domain.StepKindReward, Title: "Reward"})

	if err := env.Services.Trails.Publish(ctx, trail.CreatorID, trail); err != nil {
		env.t.Fatalf("SeedTrail: %v", err)
	}
	return trail
}

// SessionPath returns the session route of trailID, with an optional suffix.
func SessionPath(trailID uuid.UUID, suffix string) string {
	return "/trails/" + trailID.String() + "/session" + suffix
}

// GET performs an unauthenticated GET request.
func (env *TestEnv) GET(path string) *http.Response {
	env.t.Helper()
	resp, err := http.Get(env.Server.URL + path)
	if err != nil {
		env.t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

// POST performs a POST request with optional auth token.
func (env *TestEnv) POST(path string, body interface{}, token string) *http.Response {
	env.t.Helper()
	return env.do(http.MethodPost, path, body, token)
}

// PUT performs a PUT request with optional auth token.
func (env *TestEnv) PUT(path string, body interface{}, token string) *http.Response {
	env.t.Helper()
	return env.do(http.MethodPut, path, body, token)
}

// AuthGET performs an authenticated GET request.
func (env *TestEnv) AuthGET(path, token string) *http.Response {
	env.t.Helper()
	return env.do(http.MethodGet, path, nil, token)
}

// AuthDELETE performs an authenticated DELETE request.
func (env *TestEnv) AuthDELETE(path, token string) *http.Response {
	env.t.Helper()
	return env.do(http.MethodDelete, path, nil, token)
}

func (env *TestEnv) do(method, path string, body interface{}, token string) *http.Response {
	env.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			env.t.Fatalf("%s %s: encode: %v", method, path, err)
		}
	}
	req, err := http.NewRequest(method, env.Server.URL+path, &buf)
	if err != nil {
		env.t.Fatalf("%s %s: new request: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// RawPOST performs a POST request with raw bytes and custom headers.
func (env *TestEnv) RawPOST(path string, body []byte, headers map[string]string) *http.Response {
	env.t.Helper()
	req, err := http.NewRequest(http.MethodPost, env.Server.URL+path, bytes.NewReader(body))
	if err != nil {
		env.t.Fatalf("RawPOST %s: new request: %v", path, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("RawPOST %s: %v", path, err)
	}
	return resp
}

// SendCheckoutEvent posts a signed checkout.session.* webhook.
func (env *TestEnv) SendCheckoutEvent(eventID, eventType, sessionID, clientRef string) *http.Response {
	env.t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":   eventID,
		"type": eventType,
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":                  sessionID,
				"payment_intent":      "pi_" + eventID,
				"payment_status":      "paid",
				"client_reference_id": clientRef,
			},
		},
	})
	if err != nil {
		env.t.Fatalf("SendCheckoutEvent: encode: %v", err)
	}
	return env.RawPOST("/webhooks/stripe", payload, map[string]string{
		"Content-Type":     "application/json",
		"Stripe-Signature": StripeWebhookSignature(payload),
	})
}

// FakeUUID returns a random UUID string for test placeholders.
func FakeUUID() string {
	return uuid.New().String()
}

// StripeWebhookSignature generates a valid Stripe webhook signature for testing.
func StripeWebhookSignature(payload []byte) string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", ts, provider.SignPayload(TestStripeWebhookSecret, ts, payload))
}
