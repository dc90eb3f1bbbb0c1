package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/scheduler"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/source"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/tracing"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// matchFlags are the overrides shared by run and consume.
type matchFlags struct {
	corpus     string
	sink       string
	output     string
	allowed    int
	workers    int
	emitSource bool
}

func (f *matchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.corpus, "corpus", "", "corpus file (JSON Lines, or a "+".smcs snapshot)")
	cmd.Flags().StringVar(&f.sink, "sink", "", "result sink: jsonl, postgres, kafka or memory")
	cmd.Flags().StringVar(&f.output, "output", "", "output path for the jsonl sink (default stdout)")
	cmd.Flags().IntVar(&f.allowed, "allowed-mismatches", 0, "items of an indexed set that may be missing from a transaction")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "concurrent match tasks (default GOMAXPROCS)")
	cmd.Flags().BoolVar(&f.emitSource, "emit-source", false, "echo each transaction's items alongside its matches")
}

func (f *matchFlags) apply(cmd *cobra.Command, a *app) {
	cfg := a.cfg
	if f.corpus != "" {
		cfg.Input.Corpus = f.corpus
	}
	if f.sink != "" {
		cfg.Output.Sink = f.sink
	}
	if f.output != "" {
		cfg.Output.Path = f.output
	}
	if cmd.Flags().Changed("allowed-mismatches") {
		cfg.Matcher.AllowedMismatches = f.allowed
	}
	if cmd.Flags().Changed("workers") {
		cfg.Matcher.Workers = f.workers
	}
	if cmd.Flags().Changed("emit-source") {
		cfg.Matcher.EmitSource = f.emitSource
	}
}

func newRunCommand(a *app) *cobra.Command {
	var (
		flags        matchFlags
		transactions string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Match a file of transactions against a corpus and write every match to the sink",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags.apply(cmd, a)
			if transactions != "" {
				a.cfg.Input.Transactions = transactions
			}
			if err := a.validate(); err != nil {
				return err
			}
			if a.cfg.Input.Transactions == "" {
				return fmt.Errorf("a transactions path is required (--transactions or input.transactions)")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			src, err := source.OpenJSONL(a.cfg.Input.Transactions, a.cfg.Server.MaxItems)
			if err != nil {
				return err
			}
			defer src.Close()

			summary, err := runBatch(ctx, a, src)
			if err != nil {
				return err
			}
			return printSummary(cmd, summary)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&transactions, "transactions", "", `transactions file (JSON Lines, "-" for stdin)`)
	return cmd
}

// runBatch builds the forest, opens the sink and drains src through the
// scheduler. The sink is closed only after the scheduler has returned.
func runBatch(ctx context.Context, a *app, src scheduler.Source) (summary scheduler.Summary, err error) {
	cfg := a.cfg
	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	log := logger.FromContext(ctx)

	ctx, span := tracing.StartSpan(ctx, "matcher.run", runID)
	defer func() {
		span.End()
		if cfg.Tracing.Enabled {
			span.Log(log)
		}
	}()

	m, stopMetrics, err := newMetrics(cfg)
	if err != nil {
		return summary, err
	}
	defer stopMetrics(context.Background())

	forest, err := loadForest(ctx, cfg, cfg.Input.Corpus, m)
	if err != nil {
		return summary, err
	}

	out, closeSink, err := openSink(ctx, cfg, runID, m)
	if err != nil {
		return summary, err
	}
	defer func() {
		// Results already handed to the sink are flushed even after an interrupt.
		cerr := resilience.WithTimeout(context.Background(), "closing sink", 30*time.Second, closeSink)
		if cerr != nil && err == nil {
			err = fmt.Errorf("closing sink: %w", cerr)
		}
	}()

	progress := scheduler.NewProgress()
	s, err := scheduler.New(forest, out, scheduler.Options{
		AllowedMismatches: cfg.Matcher.AllowedMismatches,
		Workers:           cfg.Matcher.Workers,
		EmitSource:        cfg.Matcher.EmitSource,
		Progress:          progress,
		Metrics:           m,
	})
	if err != nil {
		return summary, err
	}

	matchCtx, matchSpan := tracing.StartChildSpan(ctx, "match-all")
	stopProgress := reportProgress(log, progress, 5*time.Second)
	log.Info("run started",
		"allowed_mismatches", cfg.Matcher.AllowedMismatches,
		"workers", cfg.Matcher.Workers,
		"sink", cfg.Output.Sink,
	)
	summary, err = s.Run(matchCtx, src)
	stopProgress()
	matchSpan.SetAttr("transactions", summary.Total)
	matchSpan.SetAttr("matches", summary.Matches)
	matchSpan.End()
	return summary, err
}

// reportProgress logs the scheduler's status every interval until the
// returned stop function is called.
func reportProgress(log *slog.Logger, p *scheduler.Progress, interval time.Duration) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if status := p.Status(); status != "" {
					log.Info(status, "completed", p.Completed())
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func printSummary(cmd *cobra.Command, summary scheduler.Summary) error {
	enc := json.NewEncoder(cmd.ErrOrStderr())
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

