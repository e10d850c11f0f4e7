package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/trailpay/platform/internal/domain"
	"github.com/trailpay/platform/internal/infra"
)

type trailRepo struct{}

// NewTrailRepository returns a pgx-backed TrailRepository.
func NewTrailRepository() TrailRepository {
	return &trailRepo{}
}

func (r *trailRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Trail, error) {
	var t domain.Trail
	var value, tip pgtype.Numeric
	err := db.QueryRow(ctx, `
		SELECT id, creator_id, title, trail_value, currency, suggested_tip, published_at, updated_at
		FROM trails WHERE id = $1`, id).
		Scan(&t.ID, &t.CreatorID, &t.Title, &value, &t.Currency, &tip, &t.PublishedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan trail: %w", err)
	}
	if t.TrailValue, err = infra.MinorUnits(value); err != nil {
		return nil, fmt.Errorf("convert trail value: %w", err)
	}
	if t.SuggestedTip, err = infra.MinorUnits(tip); err != nil {
		return nil, fmt.Errorf("convert suggested tip: %w", err)
	}

	rows, err := db.Query(ctx, `
		SELECT id, kind, title, video_url, duration_hint
		FROM trail_steps WHERE trail_id = $1
		ORDER BY position ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query trail steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s domain.Step
		if err := rows.Scan(&s.ID, &s.Kind, &s.Title, &s.VideoURL, &s.DurationHint); err != nil {
			return nil, fmt.Errorf("scan trail step: %w", err)
		}
		t.Steps = append(t.Steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *trailRepo) Upsert(ctx context.Context, db DBTX, t *domain.Trail) error {
	_, err := db.Exec(ctx, `
		INSERT INTO trails (id, creator_id, title, trail_value, currency, suggested_tip, published_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			trail_value = EXCLUDED.trail_value,
			currency = EXCLUDED.currency,
			suggested_tip = EXCLUDED.suggested_tip,
			published_at = EXCLUDED.published_at,
			updated_at = now()`,
		t.ID, t.CreatorID, t.Title,
		infra.MinorUnitsNumeric(t.TrailValue), t.Currency, infra.MinorUnitsNumeric(t.SuggestedTip),
		t.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert trail: %w", err)
	}

	if _, err := db.Exec(ctx, `DELETE FROM trail_steps WHERE trail_id = $1`, t.ID); err != nil {
		return fmt.Errorf("clear trail steps: %w", err)
	}
	for i, s := range t.Steps {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
			t.Steps[i].ID = s.ID
		}
		_, err := db.Exec(ctx, `
			INSERT INTO trail_steps (trail_id, position, id, kind, title, video_url, duration_hint)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			t.ID, i, s.ID, string(s.Kind), s.Title, s.VideoURL, s.DurationHint)
		if err != nil {
			return fmt.Errorf("insert trail step %d: %w", i, err)
		}
	}
	return nil
}
