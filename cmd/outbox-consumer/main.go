// Command outbox-consumer relays analytics events from event_outbox to Kafka.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/trailpay/platform/internal/infra"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("outbox relay failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// A disabled producer accepts every message, which would mark rows published
	// without sending them.
	if !cfg.KafkaEnabled {
		return errors.New("KAFKA_ENABLED must be true for the relay")
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	producer := infra.NewKafkaProducer(cfg, logger)
	defer producer.Close()

	poller := infra.NewOutboxPoller(pool, producer, cfg, logger)
	if n, err := poller.Backlog(ctx); err == nil {
		logger.Info("outbox backlog", "unpublished", n, "topic_prefix", cfg.KafkaTopicPrefix)
	}

	poller.Run(ctx)
	return nil
}
