package source

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/resilience"
)

// Fetcher is the consumer surface the Kafka source needs; *kafka.Consumer
// implements it.
type Fetcher interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// Kafka yields transactions from a topic until its context is canceled. A
// message's offset is committed on the following Next call, once the
// scheduler has taken the transaction, so a crash replays at most the
// transaction in hand.
type Kafka struct {
	fetcher  Fetcher
	retry    resilience.RetryConfig
	maxItems int
	pending  *kafka.Message
	logger   *slog.Logger
}

func NewKafka(fetcher Fetcher, maxItems int) *Kafka {
	return &Kafka{
		fetcher:  fetcher,
		retry:    resilience.RetryConfig{MaxAttempts: 5},
		maxItems: maxItems,
		logger:   slog.Default().With("component", "kafka-source"),
	}
}

func (k *Kafka) Next(ctx context.Context) (Transaction, error) {
	if err := k.commitPending(ctx); err != nil {
		return Transaction{}, err
	}
	var msg kafka.Message
	err := resilience.Retry(ctx, "kafka-fetch", k.retry, func(ctx context.Context) error {
		var err error
		msg, err = k.fetcher.Fetch(ctx)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	k.pending = &msg

	tx, err := kafka.DecodeJSON[Transaction](msg.Value)
	if err != nil {
		return Transaction{}, apperrors.Skippable("partition %d offset %d: %v", msg.Partition, msg.Offset, err)
	}
	if tx.ID == "" {
		if len(msg.Key) > 0 {
			tx.ID = string(msg.Key)
		} else {
			tx.ID = strconv.Itoa(msg.Partition) + "-" + strconv.FormatInt(msg.Offset, 10)
		}
	}
	if err := validator.Validate(tx.ID, tx.Items, k.maxItems); err != nil {
		return Transaction{}, fmt.Errorf("partition %d offset %d: %w", msg.Partition, msg.Offset, err)
	}
	return tx, nil
}

// Close commits the offset of the last message handed out.
func (k *Kafka) Close(ctx context.Context) error {
	return k.commitPending(ctx)
}

func (k *Kafka) commitPending(ctx context.Context) error {
	if k.pending == nil {
		return nil
	}
	if err := k.fetcher.Commit(ctx, *k.pending); err != nil {
		k.logger.Error("commit failed", "partition", k.pending.Partition, "offset", k.pending.Offset, "error", err)
		return err
	}
	k.pending = nil
	return nil
}
