package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the analytics events produced by the engine.
type EventType string

const (
	EventTrailView     EventType = "trail_view"
	EventStepComplete  EventType = "step_complete"
	EventVideoWatch    EventType = "video_watch"
	EventStepSkip      EventType = "step_skip"
	EventTipDonated    EventType = "tip_donated"
	EventTrailComplete EventType = "trail_complete"
)

// AnalyticsEvent is one record handed to the analytics collaborator.
type AnalyticsEvent struct {
	TrailID   uuid.UUID      `json:"trail_id"`
	EventType EventType      `json:"event_type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// AggregateType enumerates the aggregate root types for outbox events.
type AggregateType string

const (
	AggregateTrail AggregateType = "trail"
)

// OutboxDraft is the payload written to the event_outbox table.
type OutboxDraft struct {
	EventID       uuid.UUID       `json:"eventId"`
	AggregateType AggregateType   `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     EventType       `json:"eventType"`
	PartitionKey  string          `json:"partitionKey"`
	Headers       json.RawMessage `json:"headers"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}
