package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// ErrKafkaDisabled is returned by consumers when KAFKA_ENABLED is false.
var ErrKafkaDisabled = errors.New("kafka is disabled; set KAFKA_ENABLED=true")

// KafkaProducer publishes relayed outbox events.
type KafkaProducer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaProducer creates a producer. When Kafka is disabled Publish is a no-op and
// Enabled reports false.
func NewKafkaProducer(cfg *Config, logger *slog.Logger) *KafkaProducer {
	if !cfg.KafkaEnabled || cfg.KafkaBrokers == "" {
		logger.Info("kafka producer disabled")
		return &KafkaProducer{logger: logger}
	}

	w := &kafka.Writer{
		Addr: kafka.TCP(strings.Split(cfg.KafkaBrokers, ",")...),
		// Hash on the learner key so one learner's events land on one partition in order.
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	logger.Info("kafka producer initialized", "brokers", cfg.KafkaBrokers, "topic_prefix", cfg.KafkaTopicPrefix)
	return &KafkaProducer{writer: w, logger: logger}
}

// Enabled reports whether messages actually leave the process.
func (p *KafkaProducer) Enabled() bool { return p.writer != nil }

// Publish sends one message.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if p.writer == nil {
		return nil
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: key, Value: value})
}

// Close flushes and closes the writer.
func (p *KafkaProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// AnalyticsRecord is the envelope the outbox relay publishes.
type AnalyticsRecord struct {
	EventID       string          `json:"event_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
	LearnerID     string          `json:"learner_id,omitempty"` // message key
	Partition     int             `json:"partition"`
	Offset        int64           `json:"offset"`
}

// KafkaConsumer reads relayed analytics records from one topic.
type KafkaConsumer struct {
	reader *kafka.Reader
	logger *slog.Logger
}

// NewKafkaConsumer joins groupID on topic.
func NewKafkaConsumer(cfg *Config, topic, groupID string, logger *slog.Logger) (*KafkaConsumer, error) {
	if !cfg.KafkaEnabled || cfg.KafkaBrokers == "" {
		return nil, ErrKafkaDisabled
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.KafkaBrokers, ","),
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  time.Second,
	})
	return &KafkaConsumer{reader: r, logger: logger}, nil
}

// Tail hands each record to fn until ctx ends or fn fails. Offsets are committed
// after fn returns, so a failed record is read again by the group.
func (c *KafkaConsumer) Tail(ctx context.Context, fn func(AnalyticsRecord) error) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		var rec AnalyticsRecord
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			c.logger.Warn("skipping undecodable analytics record", "offset", msg.Offset, "error", err)
		} else {
			rec.LearnerID = string(msg.Key)
			rec.Partition = msg.Partition
			rec.Offset = msg.Offset
			if err := fn(rec); err != nil {
				return err
			}
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

// Close leaves the group.
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
