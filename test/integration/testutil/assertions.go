//go:build integration

package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
)

// DecodeJSON reads and decodes a JSON response body into dst.
func DecodeJSON(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
}

// AssertStatus checks that the response has the expected HTTP status code.
func AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// AssertErrorCode checks that the response body contains the expected error code.
func AssertErrorCode(t *testing.T, resp *http.Response, expectedCode string) {
	t.Helper()
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	DecodeJSON(t, resp, &errResp)
	if errResp.Code != expectedCode {
		t.Errorf("expected error code %q, got %q (message: %s)", expectedCode, errResp.Code, errResp.Message)
	}
}

// AssertProgress queries learner_progress and asserts the saved position.
func AssertProgress(t *testing.T, env *TestEnv, learnerID, trailID uuid.UUID, current, frontier int, status string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var cur, front int
	var st string
	err := env.Pool.QueryRow(ctx,
		"SELECT current_index, frontier_index, status FROM learner_progress WHERE learner_id = $1 AND trail_id = $2",
		learnerID, trailID).Scan(&cur, &front, &st)
	if err != nil {
		t.Fatalf("AssertProgress: query: %v", err)
	}
	if cur != current {
		t.Errorf("current_index: expected %d, got %d", current, cur)
	}
	if front != frontier {
		t.Errorf("frontier_index: expected %d, got %d", frontier, front)
	}
	if st != status {
		t.Errorf("status: expected %q, got %q", status, st)
	}
}

// PaymentStatus returns the status of the learner's single payment.
func PaymentStatus(t *testing.T, env *TestEnv, learnerID uuid.UUID) (status, sessionID, paymentID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := env.Pool.QueryRow(ctx,
		"SELECT status, COALESCE(provider_session_id, ''), id::text FROM payments WHERE learner_id = $1",
		learnerID).Scan(&status, &sessionID, &paymentID)
	if err != nil {
		t.Fatalf("PaymentStatus: %v", err)
	}
	return status, sessionID, paymentID
}

// CountOutboxEvents returns the number of outbox events of eventType for a learner.
func CountOutboxEvents(t *testing.T, env *TestEnv, learnerID uuid.UUID, eventType string) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count int
	err := env.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM event_outbox WHERE "partitionKey" = $1 AND "eventType" = $2`,
		learnerID.String(), eventType).Scan(&count)
	if err != nil {
		t.Fatalf("CountOutboxEvents: %v", err)
	}
	return count
}
