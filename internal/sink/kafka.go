package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/resilience"
)

// Publisher writes a batch of events; *kafka.Producer implements it.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// ErrBufferFull is returned by Kafka.Append when publishing has been failing
// long enough that the buffer cannot take the batch.
var ErrBufferFull = errors.New("kafka sink buffer full")

// Kafka buffers records and publishes them in batches keyed by transaction
// id. Row ids are assigned when a batch is accepted into the buffer. A failed
// flush keeps the buffer; once it cannot take another batch, Append rejects
// the batch without assigning ids, so no accepted record is ever dropped.
type Kafka struct {
	mu          sync.Mutex
	seq         sequence
	publisher   Publisher
	breaker     *resilience.CircuitBreaker
	buffer      []kafka.Event
	batchSize   int
	maxBuffered int
	logger      *slog.Logger
}

func NewKafka(publisher Publisher, breaker *resilience.CircuitBreaker, batchSize int) *Kafka {
	if batchSize <= 0 {
		batchSize = 100
	}
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("kafka-sink", resilience.CircuitBreakerConfig{})
	}
	return &Kafka{
		publisher:   publisher,
		breaker:     breaker,
		buffer:      make([]kafka.Event, 0, batchSize),
		batchSize:   batchSize,
		maxBuffered: batchSize * 3,
		logger:      slog.Default().With("component", "kafka-sink"),
	}
}

func (k *Kafka) Append(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.buffer) > 0 && len(k.buffer)+len(records) > k.maxBuffered {
		if err := k.flush(ctx); err != nil {
			return fmt.Errorf("%w: %d records pending: %w", ErrBufferFull, len(k.buffer), err)
		}
	}
	k.seq.assign(records)
	for _, r := range records {
		k.buffer = append(k.buffer, kafka.Event{Key: r.TransactionID, Value: r})
	}
	k.seq.commit(len(records))
	if len(k.buffer) >= k.batchSize {
		if err := k.flush(ctx); err != nil {
			k.logger.Warn("batch flush failed, records kept", "buffered", len(k.buffer), "error", err)
		}
	}
	return nil
}

// flush publishes the buffer. Callers hold k.mu.
func (k *Kafka) flush(ctx context.Context) error {
	if len(k.buffer) == 0 {
		return nil
	}
	batch := k.buffer
	err := k.breaker.Execute(func() error {
		return k.publisher.PublishBatch(ctx, batch)
	})
	if err != nil {
		return err
	}
	k.logger.Debug("batch flushed", "records", len(batch))
	k.buffer = make([]kafka.Event, 0, k.batchSize)
	return nil
}

// Close publishes whatever is still buffered.
func (k *Kafka) Close(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.flush(ctx); err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			k.breaker.Reset()
			err = k.flush(ctx)
		}
		if err != nil {
			return fmt.Errorf("final flush of %d records: %w", len(k.buffer), err)
		}
	}
	return nil
}

// Buffered returns the number of records waiting to be published.
func (k *Kafka) Buffered() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buffer)
}
