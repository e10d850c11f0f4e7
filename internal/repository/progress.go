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

type progressRepo struct{}

// NewProgressRepository returns a pgx-backed ProgressRepository.
func NewProgressRepository() ProgressRepository {
	return &progressRepo{}
}

func (r *progressRepo) Load(ctx context.Context, db DBTX, learnerID, trailID uuid.UUID) (*domain.SavedProgress, error) {
	var (
		s         domain.SavedProgress
		completed []int32
		tipRes    string
		tipAmount pgtype.Numeric
		tipDef    pgtype.Numeric
	)
	err := db.QueryRow(ctx, `
		SELECT learner_id, trail_id, current_index, frontier_index, completed, status,
		       tip_resolution, tip_amount, tip_default, tip_currency, updated_at
		FROM learner_progress
		WHERE learner_id = $1 AND trail_id = $2`, learnerID, trailID).
		Scan(&s.LearnerID, &s.TrailID, &s.Progress.CurrentIndex, &s.Progress.FrontierIndex,
			&completed, &s.Status, &tipRes, &tipAmount, &tipDef, &s.Tip.Currency, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan progress: %w", err)
	}

	s.Progress.Completed = make(domain.StepSet, len(completed))
	for _, i := range completed {
		s.Progress.Completed.Add(int(i))
	}
	s.Tip.Resolution = domain.TipResolution(tipRes)
	if s.Tip.Amount, err = infra.MinorUnits(tipAmount); err != nil {
		return nil, fmt.Errorf("convert tip amount: %w", err)
	}
	if s.Tip.DefaultAmount, err = infra.MinorUnits(tipDef); err != nil {
		return nil, fmt.Errorf("convert tip default: %w", err)
	}
	return &s, nil
}

func (r *progressRepo) Save(ctx context.Context, db DBTX, s domain.SavedProgress) error {
	sorted := s.Progress.Completed.Sorted()
	completed := make([]int32, len(sorted))
	for i, idx := range sorted {
		completed[i] = int32(idx)
	}
	_, err := db.Exec(ctx, `
		INSERT INTO learner_progress
			(learner_id, trail_id, current_index, frontier_index, completed, status,
			 tip_resolution, tip_amount, tip_default, tip_currency, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (learner_id, trail_id) DO UPDATE SET
			current_index = EXCLUDED.current_index,
			frontier_index = EXCLUDED.frontier_index,
			completed = EXCLUDED.completed,
			status = EXCLUDED.status,
			tip_resolution = EXCLUDED.tip_resolution,
			tip_amount = EXCLUDED.tip_amount,
			tip_default = EXCLUDED.tip_default,
			tip_currency = EXCLUDED.tip_currency,
			updated_at = now()`,
		s.LearnerID, s.TrailID, s.Progress.CurrentIndex, s.Progress.FrontierIndex, completed,
		string(s.Status), string(s.Tip.Resolution),
		infra.MinorUnitsNumeric(s.Tip.Amount), infra.MinorUnitsNumeric(s.Tip.DefaultAmount), s.Tip.Currency,
	)
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

func (r *progressRepo) Delete(ctx context.Context, db DBTX, learnerID, trailID uuid.UUID) error {
	_, err := db.Exec(ctx, `DELETE FROM learner_progress WHERE learner_id = $1 AND trail_id = $2`, learnerID, trailID)
	if err != nil {
		return fmt.Errorf("delete progress: %w", err)
	}
	return nil
}
