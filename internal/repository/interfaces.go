package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/trailpay/platform/internal/domain"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// TrailRepository provides access to trails and trail_steps.
type TrailRepository interface {
	// FindByID returns a trail with its steps in order, or nil if it does not exist.
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Trail, error)

	// Upsert writes the trail row and replaces its steps. Call inside a transaction.
	Upsert(ctx context.Context, db DBTX, trail *domain.Trail) error
}

// ProgressRepository provides access to learner_progress.
type ProgressRepository interface {
	// Load returns the saved progress, or nil if the learner never opened the trail.
	Load(ctx context.Context, db DBTX, learnerID, trailID uuid.UUID) (*domain.SavedProgress, error)

	// Save upserts the learner's progress. Call in the same transaction as the outbox rows
	// the transition produced.
	Save(ctx context.Context, db DBTX, saved domain.SavedProgress) error

	// Delete removes saved progress.
	Delete(ctx context.Context, db DBTX, learnerID, trailID uuid.UUID) error
}

// PaymentRepository provides access to payments and payment_events.
type PaymentRepository interface {
	Create(ctx context.Context, db DBTX, payment *domain.Payment) error
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Payment, error)
	FindByProviderSessionID(ctx context.Context, db DBTX, sessionID string) (*domain.Payment, error)

	// FindByQuoteID returns the payment opened for a skip quote.
	FindByQuoteID(ctx context.Context, db DBTX, quoteID uuid.UUID) (*domain.Payment, error)

	// FindPending returns pending payments of a purpose for a learner on a trail, newest first.
	FindPending(ctx context.Context, db DBTX, learnerID, trailID uuid.UUID, purpose domain.PaymentPurpose) ([]domain.Payment, error)

	// SetProviderSession records the checkout session created for a payment.
	SetProviderSession(ctx context.Context, db DBTX, id uuid.UUID, provider, sessionID string) error

	// Transition moves a pending payment to a terminal status. It reports false when the
	// payment was no longer pending, which is how duplicate webhooks are detected.
	Transition(ctx context.Context, db DBTX, id uuid.UUID, status domain.PaymentStatus, providerPaymentID *string) (bool, error)

	ListByLearner(ctx context.Context, db DBTX, learnerID uuid.UUID, filter domain.PaymentFilter) ([]domain.Payment, error)
	InsertEvent(ctx context.Context, db DBTX, event *domain.PaymentEvent) error
}

// OutboxRepository provides access to the event_outbox table.
type OutboxRepository interface {
	// InsertAll writes events in order, inside the transaction that saves the progress
	// they describe.
	InsertAll(ctx context.Context, db DBTX, drafts []domain.OutboxDraft) error
}
