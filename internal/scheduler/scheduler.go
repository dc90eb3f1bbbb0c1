// Package scheduler fans transactions out over a bounded worker pool, matches
// each against a frozen forest and funnels the results into a sink.
//
// Every transaction is an independent task. A task collects all of its
// matches first and appends them to the sink in one call, so a task that
// panics, fails or is interrupted by cancellation contributes no rows at all.
// Task failures are counted and never cancel sibling tasks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/sink"
	apperrors "github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Source yields transactions until it returns io.EOF. An error that
// apperrors.IsSkippable reports is counted and skipped; any other error ends
// the run.
type Source interface {
	Next(ctx context.Context) (matcher.Transaction[string], error)
}

// Sized is implemented by sources that know their length up front. It feeds
// the "of <m>" part of the progress status.
type Sized interface {
	Len() int
}

type Options struct {
	AllowedMismatches int
	// Workers bounds concurrent tasks. Zero means runtime.GOMAXPROCS(0).
	Workers    int
	EmitSource bool
	Progress   *Progress
	Metrics    *metrics.Metrics
}

// Summary counts what happened to every transaction the source produced.
type Summary struct {
	Total     int64 `json:"total"`
	Processed int64 `json:"processed"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`
	Matches   int64 `json:"matches"`
	Canceled  bool  `json:"canceled"`
}

type Scheduler struct {
	forest *matcher.Forest[string]
	sink   sink.Sink
	opts   Options
	logger *slog.Logger
}

func New(forest *matcher.Forest[string], out sink.Sink, opts Options) (*Scheduler, error) {
	if forest == nil {
		return nil, apperrors.Config("scheduler requires a built forest")
	}
	if opts.AllowedMismatches < 0 {
		return nil, apperrors.Config("allowed mismatches must be >= 0, got %d", opts.AllowedMismatches)
	}
	if opts.Workers < 0 {
		return nil, apperrors.Config("workers must be >= 0, got %d", opts.Workers)
	}
	if opts.Workers == 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Progress == nil {
		opts.Progress = NewProgress()
	}
	return &Scheduler{
		forest: forest,
		sink:   out,
		opts:   opts,
		logger: slog.Default().With("component", "scheduler"),
	}, nil
}

// WithAllowed returns a scheduler sharing s's forest and sink but with a
// different mismatch allowance.
func (s *Scheduler) WithAllowed(allowed int) (*Scheduler, error) {
	if allowed < 0 {
		return nil, apperrors.Config("allowed mismatches must be >= 0, got %d", allowed)
	}
	c := *s
	c.opts.AllowedMismatches = allowed
	return &c, nil
}

func (s *Scheduler) Progress() *Progress {
	return s.opts.Progress
}

type counters struct {
	processed atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
	matches   atomic.Int64
	canceled  atomic.Bool
}

// Run drains src, matching every transaction on the worker pool. It always
// waits for every submitted task before returning. Cancellation of ctx is not
// an error: Run returns the partial summary with Canceled set.
func (s *Scheduler) Run(ctx context.Context, src Source) (Summary, error) {
	if s.sink == nil {
		return Summary{}, apperrors.Config("scheduler has no sink")
	}
	log := logger.FromContext(ctx).With("component", "scheduler")
	if sized, ok := src.(Sized); ok {
		s.opts.Progress.setTotal(sized.Len())
	}

	var (
		c      counters
		total  int64
		srcErr error
	)
	g := new(errgroup.Group)
	g.SetLimit(s.opts.Workers)

	for {
		if ctx.Err() != nil {
			c.canceled.Store(true)
			break
		}
		tx, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				c.canceled.Store(true)
				break
			}
			if apperrors.IsSkippable(err) {
				total++
				c.skipped.Add(1)
				s.observe(metrics.OutcomeSkipped)
				s.opts.Progress.finished(strconv.FormatInt(total, 10))
				log.Warn("skipping transaction", "position", total, "error", err)
				continue
			}
			srcErr = fmt.Errorf("reading transaction %d: %w", total+1, err)
			break
		}
		total++
		if tx.ID == "" {
			tx.ID = strconv.FormatInt(total, 10)
		}
		if len(tx.Items) == 0 {
			c.skipped.Add(1)
			s.observe(metrics.OutcomeSkipped)
			s.opts.Progress.finished(tx.ID)
			log.Debug("skipping empty transaction", "transaction_id", tx.ID)
			continue
		}
		g.Go(func() error {
			s.process(ctx, log, tx, &c)
			return nil
		})
	}
	g.Wait()

	summary := Summary{
		Total:     total,
		Processed: c.processed.Load(),
		Skipped:   c.skipped.Load(),
		Failed:    c.failed.Load(),
		Matches:   c.matches.Load(),
		Canceled:  c.canceled.Load(),
	}
	if summary.Skipped > 0 {
		log.Warn("transactions skipped", "skipped", summary.Skipped)
	}
	log.Info("run complete",
		"total", summary.Total,
		"processed", summary.Processed,
		"failed", summary.Failed,
		"matches", summary.Matches,
		"canceled", summary.Canceled,
	)
	return summary, srcErr
}

// process runs one task. It never returns an error: every outcome is
// recorded in c.
func (s *Scheduler) process(ctx context.Context, log *slog.Logger, tx matcher.Transaction[string], c *counters) {
	start := time.Now()
	defer s.opts.Progress.finished(tx.ID)
	defer func() {
		if r := recover(); r != nil {
			c.failed.Add(1)
			s.observe(metrics.OutcomeFailed)
			log.Error("match task panicked",
				"transaction_id", tx.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	records, complete := s.collect(ctx, tx)
	if !complete {
		c.canceled.Store(true)
		s.observe(metrics.OutcomeCanceled)
		return
	}
	if len(records) > 0 {
		err := s.sink.Append(context.WithoutCancel(ctx), records)
		if s.opts.Metrics != nil {
			status := "ok"
			if err != nil {
				status = "error"
			}
			s.opts.Metrics.SinkAppendsTotal.WithLabelValues(status).Inc()
		}
		if err != nil {
			c.failed.Add(1)
			s.observe(metrics.OutcomeFailed)
			log.Error("appending matches failed",
				"transaction_id", tx.ID,
				"matches", len(records),
				"error", fmt.Errorf("%w: %w", apperrors.ErrTaskFailure, err),
			)
			return
		}
	}
	c.processed.Add(1)
	c.matches.Add(int64(len(records)))
	s.observe(metrics.OutcomeProcessed)
	if m := s.opts.Metrics; m != nil {
		m.MatchesTotal.Add(float64(len(records)))
		m.MatchesPerTx.Observe(float64(len(records)))
		m.MatchLatency.Observe(time.Since(start).Seconds())
	}
}

// collect gathers every match for tx. It reports false when cancellation
// stopped the traversal, in which case the records are incomplete.
func (s *Scheduler) collect(ctx context.Context, tx matcher.Transaction[string]) ([]sink.Record, bool) {
	var (
		records []sink.Record
		source  []string
	)
	if s.opts.EmitSource {
		source = slices.Clone(tx.Items)
	}
	complete := s.forest.Match(tx.Items, matcher.NewBudget(s.opts.AllowedMismatches), func(m matcher.Match[string]) bool {
		if ctx.Err() != nil {
			return false
		}
		records = append(records, sink.Record{
			TransactionID: tx.ID,
			Source:        source,
			Items:         m.Items,
			Mismatches:    m.Mismatches,
		})
		return true
	})
	return records, complete && ctx.Err() == nil
}

// MatchOne matches a single transaction synchronously without touching the
// sink. Records are returned with zero row ids.
func (s *Scheduler) MatchOne(ctx context.Context, tx matcher.Transaction[string]) ([]sink.Record, error) {
	if len(tx.Items) == 0 {
		return nil, apperrors.Skippable("transaction %q has no items", tx.ID)
	}
	records, complete := s.collect(ctx, tx)
	if !complete {
		return nil, ctx.Err()
	}
	return records, nil
}

func (s *Scheduler) observe(outcome string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.TransactionsTotal.WithLabelValues(outcome).Inc()
	}
}
