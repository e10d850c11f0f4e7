package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/trailpay/platform/internal/domain"
	"github.com/trailpay/platform/internal/provider"
	"github.com/trailpay/platform/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type fakeTx struct{}

func (fakeTx) DB() repository.DBTX { return nil }

func (fakeTx) InTx(_ context.Context, fn func(tx repository.DBTX) error) error {
	return fn(nil)
}

type fakeTrails struct {
	mu     sync.Mutex
	trails map[uuid.UUID]domain.Trail
	finds  int
}

func newFakeTrails(trails ...domain.Trail) *fakeTrails {
	f := &fakeTrails{trails: make(map[uuid.UUID]domain.Trail)}
	for _, t := range trails {
		f.trails[t.ID] = t
	}
	return f
}

func (f *fakeTrails) FindByID(_ context.Context, _ repository.DBTX, id uuid.UUID) (*domain.Trail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	t, ok := f.trails[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeTrails) Upsert(_ context.Context, _ repository.DBTX, trail *domain.Trail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trails[trail.ID] = *trail
	return nil
}

type progressKey struct{ learner, trail uuid.UUID }

type fakeProgress struct {
	mu    sync.Mutex
	saved map[progressKey]domain.SavedProgress
	saves int
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{saved: make(map[progressKey]domain.SavedProgress)}
}

func (f *fakeProgress) Load(_ context.Context, _ repository.DBTX, learnerID, trailID uuid.UUID) (*domain.SavedProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.saved[progressKey{learnerID, trailID}]
	if !ok {
		return nil, nil
	}
	s.Progress = s.Progress.Clone()
	return &s, nil
}

func (f *fakeProgress) Save(_ context.Context, _ repository.DBTX, saved domain.SavedProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	saved.Progress = saved.Progress.Clone()
	f.saved[progressKey{saved.LearnerID, saved.TrailID}] = saved
	return nil
}

func (f *fakeProgress) Delete(_ context.Context, _ repository.DBTX, learnerID, trailID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, progressKey{learnerID, trailID})
	return nil
}

func (f *fakeProgress) get(learnerID, trailID uuid.UUID) (domain.SavedProgress, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.saved[progressKey{learnerID, trailID}]
	return s, ok
}

type fakePayments struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*domain.Payment
	events   []domain.PaymentEvent
}

func newFakePayments() *fakePayments {
	return &fakePayments{payments: make(map[uuid.UUID]*domain.Payment)}
}

func (f *fakePayments) Create(_ context.Context, _ repository.DBTX, p *domain.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.payments[p.ID] = &cp
	return nil
}

func (f *fakePayments) FindByID(_ context.Context, _ repository.DBTX, id uuid.UUID) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.payments[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (f *fakePayments) FindByProviderSessionID(_ context.Context, _ repository.DBTX, sessionID string) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.ProviderSessionID != nil && *p.ProviderSessionID == sessionID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakePayments) FindByQuoteID(_ context.Context, _ repository.DBTX, quoteID uuid.UUID) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.QuoteID != nil && *p.QuoteID == quoteID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakePayments) FindPending(_ context.Context, _ repository.DBTX, learnerID, trailID uuid.UUID, purpose domain.PaymentPurpose) ([]domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Payment
	for _, p := range f.payments {
		if p.LearnerID == learnerID && p.TrailID == trailID && p.Purpose == purpose && p.Status == domain.PaymentStatusPending {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePayments) SetProviderSession(_ context.Context, _ repository.DBTX, id uuid.UUID, providerName, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return fmt.Errorf("payment %s not found", id)
	}
	p.Provider = &providerName
	p.ProviderSessionID = &sessionID
	return nil
}

func (f *fakePayments) Transition(_ context.Context, _ repository.DBTX, id uuid.UUID, status domain.PaymentStatus, providerPaymentID *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok || p.Status != domain.PaymentStatusPending {
		return false, nil
	}
	p.Status = status
	p.ProviderPaymentID = providerPaymentID
	return true, nil
}

func (f *fakePayments) ListByLearner(_ context.Context, _ repository.DBTX, learnerID uuid.UUID, filter domain.PaymentFilter) ([]domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Payment
	for _, p := range f.payments {
		switch {
		case p.LearnerID != learnerID,
			filter.TrailID != nil && p.TrailID != *filter.TrailID,
			filter.Purpose != "" && p.Purpose != filter.Purpose:
			continue
		}
		if len(out) < filter.Limit {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePayments) InsertEvent(_ context.Context, _ repository.DBTX, e *domain.PaymentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *e)
	return nil
}

func (f *fakePayments) only(t interface{ Fatalf(string, ...any) }) domain.Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payments) != 1 {
		t.Fatalf("expected one payment, got %d", len(f.payments))
	}
	for _, p := range f.payments {
		return *p
	}
	return domain.Payment{}
}

type fakeOutbox struct {
	mu     sync.Mutex
	drafts []domain.OutboxDraft
	err    error
}

func (f *fakeOutbox) InsertAll(_ context.Context, _ repository.DBTX, drafts []domain.OutboxDraft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.drafts = append(f.drafts, drafts...)
	return nil
}

func (f *fakeOutbox) types() []domain.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.EventType, 0, len(f.drafts))
	for _, d := range f.drafts {
		out = append(out, d.EventType)
	}
	return out
}

func (f *fakeOutbox) count(t domain.EventType) int {
	n := 0
	for _, got := range f.types() {
		if got == t {
			n++
		}
	}
	return n
}

type fakeGate struct {
	mu       sync.Mutex
	requests []provider.CheckoutRequest
	err      error
}

func (g *fakeGate) Name() string { return "stripe" }

func (g *fakeGate) CreateCheckoutSession(_ context.Context, in provider.CheckoutRequest) (*provider.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.requests = append(g.requests, in)
	id := fmt.Sprintf("cs_test_%d", len(g.requests))
	return &provider.CheckoutSession{ID: id, URL: "https://checkout.test/" + id}, nil
}

// VerifyWebhookSignature accepts the signature "valid" and decodes the payload as-is.
func (g *fakeGate) VerifyWebhookSignature(payload []byte, sigHeader string) (*provider.StripeWebhookEvent, error) {
	if sigHeader != "valid" {
		return nil, errors.New("signature mismatch")
	}
	var evt provider.StripeWebhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	rooms  []string
	events []string
}

func (b *recordingBroadcaster) Publish(room, event string, _ interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rooms = append(b.rooms, room)
	b.events = append(b.events, event)
}

func webhookPayload(eventID, eventType, sessionID, clientRef string) []byte {
	body, _ := json.Marshal(map[string]any{
		"id":   eventID,
		"type": eventType,
		"data": map[string]any{
			"object": map[string]any{
				"id":                  sessionID,
				"payment_intent":      "pi_" + eventID,
				"payment_status":      "paid",
				"client_reference_id": clientRef,
			},
		},
	})
	return body
}
