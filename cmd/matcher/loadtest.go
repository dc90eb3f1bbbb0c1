package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"math/rand/v2"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/service"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/source"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type loadStats struct {
	total     atomic.Int64
	success   atomic.Int64
	errors    atomic.Int64
	cacheHits atomic.Int64
	matches   atomic.Int64

	mu          sync.Mutex
	latencies   []time.Duration
	statusCodes map[int]int64
}

func newLoadStats() *loadStats {
	return &loadStats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]int64),
	}
}

func (s *loadStats) record(d time.Duration, status int, resp *service.MatchResponse, err error) {
	s.total.Add(1)
	if err != nil {
		s.errors.Add(1)
		return
	}
	if status >= 200 && status < 300 {
		s.success.Add(1)
	} else {
		s.errors.Add(1)
	}
	if resp != nil {
		if resp.CacheHit {
			s.cacheHits.Add(1)
		}
		s.matches.Add(int64(len(resp.Matches)))
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.statusCodes[status]++
	s.mu.Unlock()
}

func newLoadTestCommand() *cobra.Command {
	var (
		baseURL      string
		concurrency  int
		duration     time.Duration
		transactions string
		allowed      int
	)
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive a running match service with transactions and report latency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			txs, err := loadTransactions(cmd.Context(), transactions)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "=== Match Service Load Test ===")
			fmt.Fprintf(out, "Target:       %s\n", baseURL)
			fmt.Fprintf(out, "Concurrency:  %d\n", concurrency)
			fmt.Fprintf(out, "Duration:     %s\n", duration)
			fmt.Fprintf(out, "Transactions: %d\n\n", len(txs))

			var allowedPtr *int
			if cmd.Flags().Changed("allowed-mismatches") {
				allowedPtr = &allowed
			}
			stats := runLoadTest(cmd.Context(), baseURL, concurrency, duration, txs, allowedPtr)
			printLoadReport(out, stats, duration)
			if stats.total.Load() == 0 {
				return errors.New("no requests completed; is the service running?")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "base URL of the match service")
	cmd.Flags().IntVar(&concurrency, "concurrency", 10, "number of concurrent workers")
	cmd.Flags().DurationVar(&duration, "duration", 30*time.Second, "test duration")
	cmd.Flags().StringVar(&transactions, "transactions", "", "JSON Lines transactions to replay (default: random transactions)")
	cmd.Flags().IntVar(&allowed, "allowed-mismatches", 0, "per-request mismatch allowance (default: the service's)")
	return cmd
}

// loadTransactions reads path, or generates random transactions over a small
// alphabet when path is empty.
func loadTransactions(ctx context.Context, path string) ([]source.Transaction, error) {
	if path == "" {
		r := rand.New(rand.NewPCG(1, 2))
		txs := make([]source.Transaction, 256)
		for i := range txs {
			items := make([]string, 1+r.IntN(8))
			for j := range items {
				items[j] = fmt.Sprintf("item-%02d", r.IntN(32))
			}
			txs[i] = source.Transaction{ID: fmt.Sprintf("load-%d", i), Items: items}
		}
		return txs, nil
	}
	src, err := source.OpenJSONL(path, 0)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	var txs []source.Transaction
	for {
		tx, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}
		txs = append(txs, tx)
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("no usable transactions in %s", path)
	}
	return txs, nil
}

func runLoadTest(ctx context.Context, baseURL string, concurrency int, duration time.Duration, txs []source.Transaction, allowed *int) *loadStats {
	stats := newLoadStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        concurrency * 2,
			MaxIdleConnsPerHost: concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var g errgroup.Group
	for w := range concurrency {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				tx := txs[i%len(txs)]
				body, _ := json.Marshal(service.MatchRequest{ID: tx.ID, Items: tx.Items, AllowedMismatches: allowed})
				req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/match", bytes.NewReader(body))
				if err != nil {
					return err
				}
				req.Header.Set("Content-Type", "application/json")

				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)
				if err != nil {
					if ctx.Err() == nil {
						stats.record(elapsed, 0, nil, err)
					}
					continue
				}
				var mr service.MatchResponse
				decodeErr := json.NewDecoder(resp.Body).Decode(&mr)
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				if decodeErr != nil {
					stats.record(elapsed, resp.StatusCode, nil, nil)
					continue
				}
				stats.record(elapsed, resp.StatusCode, &mr, nil)
			}
			return nil
		})
	}
	g.Wait()
	return stats
}

func printLoadReport(out io.Writer, stats *loadStats, duration time.Duration) {
	total := stats.total.Load()
	fmt.Fprintln(out, "=== Results ===")
	fmt.Fprintf(out, "Total Requests:  %d\n", total)
	fmt.Fprintf(out, "Successful:      %d\n", stats.success.Load())
	fmt.Fprintf(out, "Errors:          %d\n", stats.errors.Load())
	fmt.Fprintf(out, "Cache Hits:      %d\n", stats.cacheHits.Load())
	fmt.Fprintf(out, "Matches:         %d\n", stats.matches.Load())
	if total > 0 {
		fmt.Fprintf(out, "Error Rate:      %.2f%%\n", float64(stats.errors.Load())/float64(total)*100)
		fmt.Fprintf(out, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	stats.mu.Lock()
	latencies := slices.Clone(stats.latencies)
	codes := maps.Clone(stats.statusCodes)
	stats.mu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Fprintln(out)
		fmt.Fprintln(out, "=== Latency ===")
		fmt.Fprintf(out, "Min:    %s\n", latencies[0])
		fmt.Fprintf(out, "Avg:    %s\n", avg)
		fmt.Fprintf(out, "P50:    %s\n", percentile(latencies, 50))
		fmt.Fprintf(out, "P90:    %s\n", percentile(latencies, 90))
		fmt.Fprintf(out, "P99:    %s\n", percentile(latencies, 99))
		fmt.Fprintf(out, "Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "=== Status Codes ===")
	for _, code := range slices.Sorted(maps.Keys(codes)) {
		fmt.Fprintf(out, "  %d: %d\n", code, codes[code])
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
