package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trailpay/platform/internal/infra"
)

var (
	eventsTopic string
	eventsGroup string
)

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail analytics events relayed to Kafka",
		Args:  cobra.NoArgs,
		RunE:  runEventsCmd,
	}
	cmd.Flags().StringVar(&eventsTopic, "topic", "", "topic, e.g. trailpay.trail.step_skip")
	cmd.Flags().StringVar(&eventsGroup, "group", "trailctl", "consumer group id")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func runEventsCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	consumer, err := infra.NewKafkaConsumer(cfg, eventsTopic, eventsGroup, newLogger())
	if err != nil {
		return err
	}
	defer consumer.Close()

	return consumer.Tail(cmd.Context(), func(rec infra.AnalyticsRecord) error {
		return printJSON(cmd, rec)
	})
}
