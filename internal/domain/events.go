package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NewTrailViewEvent records a learner opening a trail.
func NewTrailViewEvent(trailID uuid.UUID, at time.Time) AnalyticsEvent {
	return AnalyticsEvent{TrailID: trailID, EventType: EventTrailView, Data: map[string]any{}, Timestamp: at}
}

// NewStepCompleteEvent records an honest completion of a step.
func NewStepCompleteEvent(trailID uuid.UUID, stepIndex int, title string, at time.Time) AnalyticsEvent {
	return AnalyticsEvent{
		TrailID:   trailID,
		EventType: EventStepComplete,
		Data:      map[string]any{"stepIndex": stepIndex, "title": title},
		Timestamp: at,
	}
}

// NewVideoWatchEvent records the watched percentage reported at a pause or end.
func NewVideoWatchEvent(trailID uuid.UUID, stepIndex int, watchedPercentage float64, at time.Time) AnalyticsEvent {
	return AnalyticsEvent{
		TrailID:   trailID,
		EventType: EventVideoWatch,
		Data:      map[string]any{"stepIndex": stepIndex, "watchedPercentage": watchedPercentage},
		Timestamp: at,
	}
}

// NewStepSkipEvent records a paid skip. stepIndex is the first step bypassed.
func NewStepSkipEvent(trailID uuid.UUID, stepIndex, toIndex int, cost int64, at time.Time) AnalyticsEvent {
	return AnalyticsEvent{
		TrailID:   trailID,
		EventType: EventStepSkip,
		Data:      map[string]any{"stepIndex": stepIndex, "toIndex": toIndex, "cost": cost},
		Timestamp: at,
	}
}

// NewTipDonatedEvent records a completed tip.
func NewTipDonatedEvent(trailID uuid.UUID, amount int64, at time.Time) AnalyticsEvent {
	return AnalyticsEvent{
		TrailID:   trailID,
		EventType: EventTipDonated,
		Data:      map[string]any{"amount": amount},
		Timestamp: at,
	}
}

// NewTrailCompleteEvent records the trail reaching its completed state.
func NewTrailCompleteEvent(trailID uuid.UUID, at time.Time) AnalyticsEvent {
	return AnalyticsEvent{TrailID: trailID, EventType: EventTrailComplete, Data: map[string]any{}, Timestamp: at}
}

// NewAnalyticsOutboxDraft wraps an analytics event for the transactional outbox.
// Events are partitioned by learner so one learner's events stay ordered.
func NewAnalyticsOutboxDraft(learnerID uuid.UUID, evt AnalyticsEvent) OutboxDraft {
	payload, _ := json.Marshal(evt)
	headers, _ := json.Marshal(map[string]string{"learner_id": learnerID.String()})
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: AggregateTrail,
		AggregateID:   evt.TrailID.String(),
		EventType:     evt.EventType,
		PartitionKey:  learnerID.String(),
		Headers:       headers,
		Payload:       payload,
		OccurredAt:    evt.Timestamp,
	}
}
