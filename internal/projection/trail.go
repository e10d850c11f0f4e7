package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trailpay/platform/internal/domain"
)

// TrailProjection is a cached, read-only copy of a published trail.
type TrailProjection struct {
	Trail    domain.Trail `json:"trail"`
	CachedAt time.Time    `json:"cached_at"`
}

// ProgressProjection mirrors the latest saved progress of one learner on one trail.
type ProgressProjection struct {
	Saved    domain.SavedProgress `json:"saved"`
	CachedAt time.Time            `json:"cached_at"`
}

const progressTTL = 10 * time.Minute

func trailKey(trailID uuid.UUID) string {
	return fmt.Sprintf("projection:trail:%s", trailID)
}

func progressKey(learnerID, trailID uuid.UUID) string {
	return fmt.Sprintf("projection:progress:%s:%s", learnerID, trailID)
}

// PutTrail caches a trail for ttl.
func PutTrail(ctx context.Context, store Store, trail *domain.Trail, ttl time.Duration) error {
	return SetJSON(ctx, store, trailKey(trail.ID), TrailProjection{Trail: *trail, CachedAt: time.Now().UTC()}, ttl)
}

// GetTrail retrieves a cached trail projection.
func GetTrail(ctx context.Context, store Store, trailID uuid.UUID) (*TrailProjection, error) {
	var p TrailProjection
	if err := GetJSON(ctx, store, trailKey(trailID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// InvalidateTrail removes a cached trail.
func InvalidateTrail(ctx context.Context, store Store, trailID uuid.UUID) error {
	return store.Delete(ctx, trailKey(trailID))
}

// PutProgress caches a learner's saved progress.
func PutProgress(ctx context.Context, store Store, saved domain.SavedProgress) error {
	p := ProgressProjection{Saved: saved, CachedAt: time.Now().UTC()}
	return SetJSON(ctx, store, progressKey(saved.LearnerID, saved.TrailID), p, progressTTL)
}

// GetProgress retrieves a cached progress projection.
func GetProgress(ctx context.Context, store Store, learnerID, trailID uuid.UUID) (*ProgressProjection, error) {
	var p ProgressProjection
	if err := GetJSON(ctx, store, progressKey(learnerID, trailID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// InvalidateProgress removes a learner's cached progress.
func InvalidateProgress(ctx context.Context, store Store, learnerID, trailID uuid.UUID) error {
	return store.Delete(ctx, progressKey(learnerID, trailID))
}
