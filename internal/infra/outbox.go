package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Publisher sends one message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// OutboxPoller relays analytics rows from event_outbox to Kafka in insertion order.
type OutboxPoller struct {
	pool        *pgxpool.Pool
	producer    Publisher
	logger      *slog.Logger
	topicPrefix string
	interval    time.Duration
	batchSize   int
}

// NewOutboxPoller creates a new outbox poller.
func NewOutboxPoller(pool *pgxpool.Pool, producer Publisher, cfg *Config, logger *slog.Logger) *OutboxPoller {
	p := &OutboxPoller{
		pool:        pool,
		producer:    producer,
		logger:      logger,
		topicPrefix: cfg.KafkaTopicPrefix,
		interval:    cfg.OutboxInterval,
		batchSize:   cfg.OutboxBatchSize,
	}
	if p.interval <= 0 {
		p.interval = 500 * time.Millisecond
	}
	if p.batchSize <= 0 {
		p.batchSize = 100
	}
	return p
}

// Run relays batches every interval until ctx ends. A full batch is followed by an
// immediate poll so a backlog drains without waiting for the ticker.
func (p *OutboxPoller) Run(ctx context.Context) {
	p.logger.Info("outbox relay started", "interval", p.interval, "batch_size", p.batchSize)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
		}
		for {
			n, err := p.poll(ctx)
			if err != nil {
				p.logger.Error("outbox poll error", "error", err)
				break
			}
			if n < p.batchSize || ctx.Err() != nil {
				break
			}
		}
	}
}

// Backlog counts rows not yet relayed.
func (p *OutboxPoller) Backlog(ctx context.Context) (int64, error) {
	var n int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM event_outbox WHERE "publishedAt" IS NULL`).Scan(&n)
	return n, err
}

// OutboxEvent is an unpublished outbox row as relayed to Kafka.
type OutboxEvent struct {
	EventID       uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	PartitionKey  string
	Payload       json.RawMessage
	OccurredAt    time.Time
}

// Topic names the Kafka topic for an event, e.g. trailpay.trail.step_skip.
func (e OutboxEvent) Topic(prefix string) string {
	return prefix + "." + e.AggregateType + "." + e.EventType
}

// Message builds the envelope published for the event.
func (e OutboxEvent) Message() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"event_id":       e.EventID,
		"aggregate_type": e.AggregateType,
		"aggregate_id":   e.AggregateID,
		"event_type":     e.EventType,
		"payload":        e.Payload,
		"occurred_at":    e.OccurredAt,
	})
}

// Key is the partition key. Events share a partition per learner so their order holds.
func (e OutboxEvent) Key() []byte {
	if e.PartitionKey != "" {
		return []byte(e.PartitionKey)
	}
	return []byte(e.AggregateID)
}

// poll relays one batch and returns how many rows were published.
func (p *OutboxPoller) poll(ctx context.Context) (int, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT "eventId", "aggregateType", "aggregateId", "eventType", "partitionKey", "payload", "occurredAt"
		FROM event_outbox
		WHERE "publishedAt" IS NULL
		ORDER BY "id" ASC
		LIMIT $1`, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("select outbox batch: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (OutboxEvent, error) {
		var e OutboxEvent
		err := row.Scan(&e.EventID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.PartitionKey, &e.Payload, &e.OccurredAt)
		return e, err
	})
	if err != nil {
		return 0, fmt.Errorf("scan outbox batch: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	published := p.publish(ctx, events)
	if len(published) > 0 {
		if _, err := p.pool.Exec(ctx,
			`UPDATE event_outbox SET "publishedAt" = now() WHERE "eventId" = ANY($1)`, published); err != nil {
			return 0, fmt.Errorf("mark %d published: %w", len(published), err)
		}
	}
	p.logger.Debug("outbox batch relayed", "published", len(published), "fetched", len(events))
	return len(published), nil
}

// publish relays events in order and stops at the first failure so that a learner's
// events are never published out of order. It returns the ids that were sent.
func (p *OutboxPoller) publish(ctx context.Context, events []OutboxEvent) []uuid.UUID {
	sent := make([]uuid.UUID, 0, len(events))
	for _, e := range events {
		msg, err := e.Message()
		if err != nil {
			p.logger.Error("outbox marshal failed", "event_id", e.EventID, "error", err)
			break
		}
		if err := p.producer.Publish(ctx, e.Topic(p.topicPrefix), e.Key(), msg); err != nil {
			p.logger.Error("kafka publish failed", "event_id", e.EventID, "error", err)
			break
		}
		sent = append(sent, e.EventID)
	}
	return sent
}
