package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/trailpay/platform/internal/domain"
	"github.com/trailpay/platform/internal/infra"
)

const paymentColumns = `id, learner_id, trail_id, purpose, amount, currency, status,
		       quote_id, from_index, to_index, provider, provider_session_id, provider_payment_id,
		       metadata, created_at, updated_at`

type paymentRepo struct{}

// NewPaymentRepository returns a pgx-backed PaymentRepository.
func NewPaymentRepository() PaymentRepository {
	return &paymentRepo{}
}

func (r *paymentRepo) Create(ctx context.Context, db DBTX, p *domain.Payment) error {
	meta := p.Metadata
	if meta == nil {
		meta = json.RawMessage(`{}`)
	}
	_, err := db.Exec(ctx, `
		INSERT INTO payments (id, learner_id, trail_id, purpose, amount, currency, status,
			quote_id, from_index, to_index, provider, provider_session_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.LearnerID, p.TrailID, string(p.Purpose),
		infra.MinorUnitsNumeric(p.Amount), p.Currency, string(p.Status),
		p.QuoteID, p.FromIndex, p.ToIndex,
		p.Provider, p.ProviderSessionID, meta,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Payment, error) {
	row := db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (r *paymentRepo) FindByProviderSessionID(ctx context.Context, db DBTX, sessionID string) (*domain.Payment, error) {
	row := db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE provider_session_id = $1`, sessionID)
	return scanPayment(row)
}

func (r *paymentRepo) FindByQuoteID(ctx context.Context, db DBTX, quoteID uuid.UUID) (*domain.Payment, error) {
	row := db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE quote_id = $1`, quoteID)
	return scanPayment(row)
}

func (r *paymentRepo) FindPending(ctx context.Context, db DBTX, learnerID, trailID uuid.UUID, purpose domain.PaymentPurpose) ([]domain.Payment, error) {
	rows, err := db.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE learner_id = $1 AND trail_id = $2 AND purpose = $3 AND status = 'pending'
		ORDER BY created_at DESC`, learnerID, trailID, string(purpose))
	if err != nil {
		return nil, fmt.Errorf("query pending payments: %w", err)
	}
	return collectPayments(rows)
}

func (r *paymentRepo) SetProviderSession(ctx context.Context, db DBTX, id uuid.UUID, provider, sessionID string) error {
	_, err := db.Exec(ctx, `
		UPDATE payments SET provider = $2, provider_session_id = $3, updated_at = now()
		WHERE id = $1`, id, provider, sessionID)
	if err != nil {
		return fmt.Errorf("set provider session: %w", err)
	}
	return nil
}

func (r *paymentRepo) Transition(ctx context.Context, db DBTX, id uuid.UUID, status domain.PaymentStatus, providerPaymentID *string) (bool, error) {
	tag, err := db.Exec(ctx, `
		UPDATE payments SET status = $2, provider_payment_id = COALESCE($3, provider_payment_id), updated_at = now()
		WHERE id = $1 AND status = 'pending'`,
		id, string(status), providerPaymentID)
	if err != nil {
		return false, fmt.Errorf("transition payment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByLearner returns newest first. A nil trail or empty purpose matches everything.
func (r *paymentRepo) ListByLearner(ctx context.Context, db DBTX, learnerID uuid.UUID, filter domain.PaymentFilter) ([]domain.Payment, error) {
	rows, err := db.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE learner_id = $1
		  AND ($2::uuid IS NULL OR trail_id = $2)
		  AND ($3 = '' OR purpose = $3)
		ORDER BY created_at DESC LIMIT $4`,
		learnerID, filter.TrailID, string(filter.Purpose), filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	return collectPayments(rows)
}

func (r *paymentRepo) InsertEvent(ctx context.Context, db DBTX, event *domain.PaymentEvent) error {
	raw := event.RawData
	if raw == nil {
		raw = json.RawMessage(`{}`)
	}
	_, err := db.Exec(ctx, `
		INSERT INTO payment_events (payment_id, status, message, raw_data)
		VALUES ($1, $2, $3, $4)`,
		event.PaymentID, string(event.Status), event.Message, raw)
	if err != nil {
		return fmt.Errorf("insert payment event: %w", err)
	}
	return nil
}

func collectPayments(rows pgx.Rows) ([]domain.Payment, error) {
	defer rows.Close()
	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPaymentFrom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	p, err := scanPaymentFrom(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return p, nil
}

func scanPaymentFrom(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var amountNum pgtype.Numeric
	var fromIdx, toIdx *int32
	err := row.Scan(
		&p.ID, &p.LearnerID, &p.TrailID, &p.Purpose, &amountNum, &p.Currency, &p.Status,
		&p.QuoteID, &fromIdx, &toIdx, &p.Provider, &p.ProviderSessionID, &p.ProviderPaymentID,
		&p.Metadata, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if fromIdx != nil {
		v := int(*fromIdx)
		p.FromIndex = &v
	}
	if toIdx != nil {
		v := int(*toIdx)
		p.ToIndex = &v
	}
	var convErr error
	p.Amount, convErr = infra.MinorUnits(amountNum)
	if convErr != nil {
		return nil, fmt.Errorf("convert payment amount: %w", convErr)
	}
	return &p, nil
}
