package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/source"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/resilience"
	"github.com/spf13/cobra"
)

func newConsumeCommand(a *app) *cobra.Command {
	var flags matchFlags
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Match transactions streamed from Kafka until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags.apply(cmd, a)
			if err := a.validate(); err != nil {
				return err
			}
			cfg := a.cfg
			if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topics.Transactions == "" {
				return errors.New("kafka.brokers and kafka.topics.transactions are required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.Transactions)
			defer consumer.Close()
			src := source.NewKafka(consumer, cfg.Server.MaxItems)
			slog.Info("consuming transactions", "topic", cfg.Kafka.Topics.Transactions, "group", cfg.Kafka.ConsumerGroup)

			summary, err := runBatch(ctx, a, src)
			// A canceled run may have dropped the last transaction's task,
			// so its offset stays uncommitted and is redelivered.
			if !summary.Canceled {
				if cerr := resilience.WithTimeout(context.Background(), "final offset commit", 10*time.Second, src.Close); cerr != nil {
					slog.Warn("final offset commit failed", "error", cerr)
				}
			}
			if err != nil {
				return err
			}
			return printSummary(cmd, summary)
		},
	}
	flags.register(cmd)
	return cmd
}
