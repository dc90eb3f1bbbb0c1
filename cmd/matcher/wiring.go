package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/tracing"
	"github.com/prometheus/client_golang/prometheus"
)

// loadForest loads the corpus at path and builds the forest under a
// "build-index" child span.
func loadForest(ctx context.Context, cfg *config.Config, path string, m *metrics.Metrics) (*matcher.Forest[string], error) {
	if path == "" {
		return nil, errors.New("a corpus path is required (--corpus or input.corpus)")
	}
	_, span := tracing.StartChildSpan(ctx, "build-index")
	defer span.End()

	c, err := corpus.Load(ctx, path, cfg.Server.MaxItems)
	if err != nil {
		return nil, err
	}
	forest, err := c.Build()
	if err != nil {
		return nil, err
	}
	stats := forest.Stats()
	span.SetAttr("sets", stats.Sets)
	span.SetAttr("nodes", stats.Nodes)
	span.SetAttr("skipped", c.Skipped)
	if m != nil {
		m.ForestSets.Set(float64(stats.Sets))
		m.ForestNodes.Set(float64(stats.Nodes))
	}
	slog.Info("forest built",
		"corpus", path,
		"sets", stats.Sets,
		"roots", stats.Roots,
		"nodes", stats.Nodes,
		"depth", stats.Depth,
		"skipped", c.Skipped,
	)
	return forest, nil
}

// newMetrics registers collectors on the default registry and starts the
// scrape server when metrics are enabled.
func newMetrics(cfg *config.Config) (*metrics.Metrics, func(context.Context) error, error) {
	if !cfg.Metrics.Enabled {
		return nil, func(context.Context) error { return nil }, nil
	}
	m := metrics.New(prometheus.DefaultRegisterer)
	srv, err := m.Listen(fmt.Sprintf(":%d", cfg.Metrics.Port))
	if err != nil {
		return nil, nil, err
	}
	return m, srv.Shutdown, nil
}

// openSink builds the configured sink. The returned close function closes
// the sink and then any client it depends on.
func openSink(ctx context.Context, cfg *config.Config, runID string, m *metrics.Metrics) (sink.Sink, func(context.Context) error, error) {
	kind, err := sink.ParseKind(cfg.Output.Sink)
	if err != nil {
		return nil, nil, err
	}
	switch kind {
	case sink.KindMemory:
		s := sink.NewMemory()
		return s, func(ctx context.Context) error {
			slog.Info("memory sink discarded", "records", s.Len())
			return s.Close(ctx)
		}, nil

	case sink.KindJSONL:
		var s *sink.JSONL
		if cfg.Output.Path == "" || cfg.Output.Path == "-" {
			s = sink.NewJSONL(os.Stdout)
		} else if s, err = sink.CreateJSONL(cfg.Output.Path); err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case sink.KindPostgres:
		client, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		if err := sink.EnsureSchema(ctx, client, cfg.Output.Table); err != nil {
			client.Close()
			return nil, nil, err
		}
		s, err := sink.NewPostgres(client.DB, cfg.Output.Table, runID)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return s, func(ctx context.Context) error {
			return errors.Join(s.Close(ctx), client.Close())
		}, nil

	case sink.KindKafka:
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Matches)
		breaker := resilience.NewCircuitBreaker("kafka-sink", resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, to resilience.State) {
				if m != nil {
					m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
				}
			},
		})
		s := sink.NewKafka(producer, breaker, cfg.Kafka.BatchSize)
		return s, func(ctx context.Context) error {
			return errors.Join(s.Close(ctx), producer.Close())
		}, nil
	}
	return nil, nil, fmt.Errorf("unsupported sink %q", kind)
}
