package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/config"
	"github.com/segmentio/kafka-go"
)

// Event is one record to publish. Key picks the partition; Value is encoded
// as JSON.
type Event struct {
	Key   string
	Value any
}

// Producer publishes batches handed over by the Kafka result sink. The sink
// owns batching, buffering and retries, so every PublishBatch call becomes one
// synchronous produce request that either lands whole or fails whole.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return &Producer{
		writer: newWriter(cfg, topic),
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

func newWriter(cfg config.KafkaConfig, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:  kafka.TCP(cfg.Brokers...),
		Topic: topic,
		// Records of one transaction share a key and so a partition.
		Balancer: &kafka.Hash{},
		// The sink flushes exactly BatchSize records at a time; the writer
		// should not linger waiting for more.
		BatchSize:    max(cfg.BatchSize, 1),
		BatchTimeout: time.Millisecond,
		// A failed batch stays in the sink buffer and is retried from there.
		MaxAttempts:  1,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Lz4,
	}
}

// encodeEvents turns events into messages, failing on the first value that
// cannot be encoded.
func encodeEvents(events []Event) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, len(events))
	for i, e := range events {
		value, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("encoding event %d (key %q): %w", i, e.Key, err)
		}
		msgs[i] = kafka.Message{Key: []byte(e.Key), Value: value}
	}
	return msgs, nil
}

func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs, err := encodeEvents(events)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publishing %d records: %w", len(msgs), err)
	}
	p.logger.Debug("batch published", "records", len(msgs), "took_ms", time.Since(start).Milliseconds())
	return nil
}

// Close flushes nothing: PublishBatch is synchronous. It releases the
// writer's connections.
func (p *Producer) Close() error {
	stats := p.writer.Stats()
	p.logger.Info("producer closed", "writes", stats.Writes, "messages", stats.Messages, "errors", stats.Errors)
	return p.writer.Close()
}
