package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/trailpay/platform/internal/domain"
	"github.com/trailpay/platform/internal/repository"
)

// TrailService publishes creator-authored trails.
type TrailService struct {
	db       repository.TxRunner
	trails   repository.TrailRepository
	sessions *SessionService
	now      func() time.Time
	logger   *slog.Logger
}

// NewTrailService creates a TrailService. sessions may be nil outside the API.
func NewTrailService(db repository.TxRunner, trails repository.TrailRepository, sessions *SessionService, logger *slog.Logger) *TrailService {
	return &TrailService{db: db, trails: trails, sessions: sessions, now: time.Now, logger: logger}
}

// Publish validates and stores a trail, replacing its steps, and drops cached copies.
// A non-nil creatorID must match the stored owner.
func (s *TrailService) Publish(ctx context.Context, creatorID uuid.UUID, trail *domain.Trail) error {
	if trail.ID == uuid.Nil {
		return domain.ErrValidation("trail id is required")
	}
	if trail.Currency == "" {
		trail.Currency = "USD"
	}
	if err := trail.Validate(); err != nil {
		return domain.ErrValidation(err.Error())
	}
	for i := range trail.Steps {
		if trail.Steps[i].ID == uuid.Nil {
			trail.Steps[i].ID = uuid.New()
		}
	}

	err := s.db.InTx(ctx, func(tx repository.DBTX) error {
		existing, err := s.trails.FindByID(ctx, tx, trail.ID)
		if err != nil {
			return fmt.Errorf("find trail: %w", err)
		}
		if creatorID != uuid.Nil {
			if existing != nil && existing.CreatorID != creatorID {
				return domain.ErrForbidden("trail belongs to another creator")
			}
			trail.CreatorID = creatorID
		}
		now := s.now().UTC()
		if trail.PublishedAt == nil {
			if existing != nil && existing.PublishedAt != nil {
				trail.PublishedAt = existing.PublishedAt
			} else {
				trail.PublishedAt = &now
			}
		}
		trail.UpdatedAt = now
		return s.trails.Upsert(ctx, tx, trail)
	})
	if err != nil {
		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			return appErr
		}
		return domain.ErrInternal("publish trail", err)
	}

	if s.sessions != nil {
		s.sessions.InvalidateTrail(ctx, trail.ID)
	}
	s.logger.Info("trail published", "trail_id", trail.ID, "steps", trail.StepCount(), "value", trail.TrailValue)
	return nil
}
