package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailpay/platform/internal/auth"
	"github.com/trailpay/platform/internal/domain"
	"github.com/trailpay/platform/internal/validation"
)

// sessionRequest builds a request routed as /trails/{trailID}/... with an
// authenticated learner.
func sessionRequest(method, trailID, body string, learner uuid.UUID) *http.Request {
	r := httptest.NewRequest(method, "/trails/"+trailID+"/session", strings.NewReader(body))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("trailID", trailID)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	if learner != uuid.Nil {
		claims := &auth.Claims{Realm: auth.RealmLearner}
		claims.Subject = learner.String()
		ctx = auth.WithSubject(ctx, claims)
	}
	return r.WithContext(ctx)
}

type errorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestSessionHandler_RequestValidation(t *testing.T) {
	h := NewSessionHandler(nil, validation.New())
	learner := uuid.New()
	trail := uuid.New().String()

	t.Run("missing learner is unauthorized", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Advance(w, sessionRequest(http.MethodPost, trail, "", uuid.Nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed trail id", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Advance(w, sessionRequest(http.MethodPost, "not-a-uuid", "", learner))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid trailID", decodeError(t, w).Message)
	})

	t.Run("unknown player event", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.PlayerEvent(w, sessionRequest(http.MethodPost, trail, `{"step_index":0,"event":"seek"}`, learner))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, "VALIDATION_ERROR", body.Code)
		assert.Contains(t, body.Details["event"], "play pause ended")
	})

	t.Run("negative duration", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.PlayerEvent(w, sessionRequest(http.MethodPost, trail, `{"step_index":0,"event":"play","duration_seconds":-3}`, learner))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeError(t, w).Details, "duration_seconds")
	})

	t.Run("navigate needs a target", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Navigate(w, sessionRequest(http.MethodPost, trail, `{}`, learner))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "is required", decodeError(t, w).Details["target_index"])
	})

	t.Run("body is not json", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Navigate(w, sessionRequest(http.MethodPost, trail, `target=1`, learner))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid request body", decodeError(t, w).Message)
	})
}

func TestSkipAndTipHandlers_RequestValidation(t *testing.T) {
	v := validation.New()
	skip := NewSkipHandler(nil, nil, v)
	tip := NewTipHandler(nil, nil, v)
	learner := uuid.New()
	trail := uuid.New().String()

	t.Run("negative skip target", func(t *testing.T) {
		w := httptest.NewRecorder()
		skip.Request(w, sessionRequest(http.MethodPost, trail, `{"target_index":-1}`, learner))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeError(t, w).Details, "target_index")
	})

	t.Run("pay with malformed quote id", func(t *testing.T) {
		w := httptest.NewRecorder()
		skip.Pay(w, sessionRequest(http.MethodPost, trail, "", learner))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid quoteID", decodeError(t, w).Message)
	})

	t.Run("tip amount is required", func(t *testing.T) {
		w := httptest.NewRecorder()
		tip.Tip(w, sessionRequest(http.MethodPost, trail, `{}`, learner))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "is required", decodeError(t, w).Details["amount"])
	})

	for name, body := range map[string]string{
		"negative tip":       `{"amount":-5}`,
		"non-numeric tip":    `{"amount":"abc"}`,
		"fractional tip":     `{"amount":1.5}`,
		"null tip":           `{"amount":null}`,
		"negative as string": `{"amount":"-300"}`,
	} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tip.Tip(w, sessionRequest(http.MethodPost, trail, body, learner))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, domain.CodeInvalidTipAmount, decodeError(t, w).Code)
		})
	}
}

func TestTipAmount(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
	}{
		{`0`, 0},
		{`500`, 500},
		{`"750"`, 750},
		{`" 25 "`, 25},
		{`1e3`, 1000},
	}
	for _, tt := range tests {
		got, err := tipAmount(json.RawMessage(tt.raw))
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestDecodeTrail(t *testing.T) {
	t.Run("toml body", func(t *testing.T) {
		body := "title = \"Knots\"\nvalue = 300\n\n[[step]]\ntitle = \"Bowline\"\n\n[[step]]\nkind = \"reward\"\n"
		r := httptest.NewRequest(http.MethodPut, "/creator/trails/x", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/toml; charset=utf-8")

		trail, err := decodeTrail(r)
		require.NoError(t, err)
		assert.Equal(t, "Knots", trail.Title)
		assert.Equal(t, 2, trail.StepCount())
		assert.Equal(t, "USD", trail.Currency)
	})

	t.Run("invalid toml", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPut, "/creator/trails/x", strings.NewReader("title = "))
		r.Header.Set("Content-Type", "application/toml")

		_, err := decodeTrail(r)
		require.Error(t, err)
		w := httptest.NewRecorder()
		RespondError(w, err)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("json body", func(t *testing.T) {
		body := `{"title":"Knots","trail_value":300,"steps":[{"kind":"video","title":"Bowline"}]}`
		r := httptest.NewRequest(http.MethodPut, "/creator/trails/x", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")

		trail, err := decodeTrail(r)
		require.NoError(t, err)
		assert.Equal(t, int64(300), trail.TrailValue)
		require.Len(t, trail.Steps, 1)
	})
}

func TestPaymentFilter(t *testing.T) {
	trail := uuid.New()

	tests := []struct {
		name    string
		query   string
		wantErr string
		check   func(t *testing.T, f domain.PaymentFilter)
	}{
		{name: "defaults", query: "", check: func(t *testing.T, f domain.PaymentFilter) {
			assert.Nil(t, f.TrailID)
			assert.Equal(t, domain.DefaultPaymentPageSize, f.Limit)
		}},
		{name: "trail and purpose", query: "?trail_id=" + trail.String() + "&purpose=tip", check: func(t *testing.T, f domain.PaymentFilter) {
			require.NotNil(t, f.TrailID)
			assert.Equal(t, trail, *f.TrailID)
			assert.Equal(t, domain.PaymentPurposeTip, f.Purpose)
		}},
		{name: "limit is capped", query: "?limit=5000", check: func(t *testing.T, f domain.PaymentFilter) {
			assert.Equal(t, domain.MaxPaymentPageSize, f.Limit)
		}},
		{name: "bad trail", query: "?trail_id=nope", wantErr: "invalid trail_id"},
		{name: "bad limit", query: "?limit=-1", wantErr: "positive integer"},
		{name: "bad purpose", query: "?purpose=refund", wantErr: "unknown payment purpose"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := paymentFilter(httptest.NewRequest(http.MethodGet, "/payments"+tt.query, nil))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, f)
		})
	}
}

func TestWebhookHandler_RejectsBeforeVerification(t *testing.T) {
	h := NewWebhookHandler(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	t.Run("missing signature", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.HandleStripeWebhook(w, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeError(t, w).Message, "Stripe-Signature")
	})

	t.Run("oversized body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(strings.Repeat("x", maxBodyBytes+1)))
		r.Header.Set("Stripe-Signature", "t=1,v1=00")
		w := httptest.NewRecorder()
		h.HandleStripeWebhook(w, r)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, "PAYLOAD_TOO_LARGE", decodeError(t, w).Code)
	})
}
