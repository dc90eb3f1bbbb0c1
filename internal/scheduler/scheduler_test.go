package scheduler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/source"
	apperrors "github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func forest(t testing.TB, sets ...[]string) *matcher.Forest[string] {
	t.Helper()
	f, _, err := matcher.BuildForest(matcher.Ordered[string](), sets)
	require.NoError(t, err)
	return f
}

func tx(id string, items ...string) source.Transaction {
	return source.Transaction{ID: id, Items: items}
}

func TestEmptyTransactionIsSkipped(t *testing.T) {
	out := sink.NewMemory()
	s, err := New(forest(t, []string{"A", "B"}), out, Options{})
	require.NoError(t, err)

	summary, err := s.Run(context.Background(), source.NewSlice([]source.Transaction{
		tx("t1", "A", "B"),
		tx("t2"),
	}))
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 2, Processed: 1, Skipped: 1, Matches: 1}, summary)

	records := out.Records()
	require.Len(t, records, 1)
	assert.Equal(t, sink.Record{RowID: 1, TransactionID: "t1", Items: []string{"A", "B"}}, records[0])
}

func TestMissingIDFallsBackToPosition(t *testing.T) {
	out := sink.NewMemory()
	s, err := New(forest(t, []string{"A"}), out, Options{EmitSource: true})
	require.NoError(t, err)

	_, err = s.Run(context.Background(), source.NewSlice([]source.Transaction{
		tx("first", "B"),
		tx("", "B", "A"),
	}))
	require.NoError(t, err)
	records := out.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "2", records[0].TransactionID)
	assert.Equal(t, []string{"B", "A"}, records[0].Source)
}

func TestNegativeBudgetIsConfigError(t *testing.T) {
	_, err := New(forest(t, []string{"A"}), sink.NewMemory(), Options{AllowedMismatches: -1})
	require.ErrorIs(t, err, apperrors.ErrInvalidConfig)

	_, err = New(nil, sink.NewMemory(), Options{})
	require.ErrorIs(t, err, apperrors.ErrInvalidConfig)
}

type recordKey struct {
	tx         string
	items      string
	mismatches int
}

func keys(records []sink.Record) []recordKey {
	out := make([]recordKey, len(records))
	for i, r := range records {
		out[i] = recordKey{r.TransactionID, strings.Join(r.Items, ","), r.Mismatches}
	}
	slices.SortFunc(out, func(a, b recordKey) int {
		return cmp.Or(cmp.Compare(a.tx, b.tx), cmp.Compare(a.items, b.items), cmp.Compare(a.mismatches, b.mismatches))
	})
	return out
}

func randomWorkload(seed uint64) ([][]string, []source.Transaction) {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	item := func() string { return fmt.Sprintf("i%02d", r.IntN(20)) }
	sets := make([][]string, 300)
	for i := range sets {
		n := 1 + r.IntN(5)
		for range n {
			sets[i] = append(sets[i], item())
		}
	}
	txs := make([]source.Transaction, 200)
	for i := range txs {
		n := r.IntN(12)
		items := make([]string, 0, n)
		for range n {
			items = append(items, item())
		}
		txs[i] = source.Transaction{ID: fmt.Sprintf("t%03d", i), Items: items}
	}
	return sets, txs
}

func TestResultsIndependentOfWorkerCount(t *testing.T) {
	sets, txs := randomWorkload(7)
	f := forest(t, sets...)

	var baseline []recordKey
	var baseSummary Summary
	for _, workers := range []int{1, 3, 16} {
		out := sink.NewMemory()
		s, err := New(f, out, Options{AllowedMismatches: 1, Workers: workers})
		require.NoError(t, err)
		summary, err := s.Run(context.Background(), source.NewSlice(txs))
		require.NoError(t, err)

		records := out.Records()
		for i, r := range records {
			require.Equal(t, int64(i+1), r.RowID, "row ids must be gap-free")
		}
		assert.Equal(t, int64(len(records)), summary.Matches)
		got := keys(records)
		if baseline == nil {
			baseline, baseSummary = got, summary
			require.NotEmpty(t, baseline)
			continue
		}
		assert.Equal(t, baseline, got, "workers=%d", workers)
		assert.Equal(t, baseSummary, summary, "workers=%d", workers)
	}
}

func TestSchedulerAgreesWithMatchAll(t *testing.T) {
	sets, txs := randomWorkload(11)
	f := forest(t, sets...)
	out := sink.NewMemory()
	s, err := New(f, out, Options{AllowedMismatches: 2, Workers: 4})
	require.NoError(t, err)
	_, err = s.Run(context.Background(), source.NewSlice(txs))
	require.NoError(t, err)

	var want []sink.Record
	for _, tr := range txs {
		if len(tr.Items) == 0 {
			continue
		}
		for _, m := range f.MatchAll(tr.Items, 2) {
			want = append(want, sink.Record{TransactionID: tr.ID, Items: m.Items, Mismatches: m.Mismatches})
		}
	}
	assert.Equal(t, keys(want), keys(out.Records()))
}

type flakySink struct {
	*sink.Memory
	failFor  string
	panicFor string
}

func (f *flakySink) Append(ctx context.Context, records []sink.Record) error {
	switch records[0].TransactionID {
	case f.failFor:
		return errors.New("disk full")
	case f.panicFor:
		panic("sink exploded")
	}
	return f.Memory.Append(ctx, records)
}

func TestTaskFailuresAreIsolated(t *testing.T) {
	out := &flakySink{Memory: sink.NewMemory(), failFor: "bad", panicFor: "boom"}
	m := metrics.New(nil)
	s, err := New(forest(t, []string{"A"}), out, Options{Workers: 2, Metrics: m})
	require.NoError(t, err)

	summary, err := s.Run(context.Background(), source.NewSlice([]source.Transaction{
		tx("ok1", "A"),
		tx("bad", "A"),
		tx("boom", "A"),
		tx("ok2", "A"),
	}))
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 4, Processed: 2, Failed: 2, Matches: 2}, summary)
	assert.Equal(t, 2, out.Len())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TransactionsTotal.WithLabelValues(metrics.OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkAppendsTotal.WithLabelValues("error")))
	assert.Equal(t, int64(4), s.Progress().Completed())
	assert.Regexp(t, `^processing \S+ \(4 of 4\)$`, s.Progress().Status())
}

type downBroker struct{}

func (downBroker) PublishBatch(context.Context, []kafka.Event) error {
	return errors.New("broker down")
}

func TestUnpublishableMatchesCountAsFailed(t *testing.T) {
	out := sink.NewKafka(downBroker{}, nil, 1)
	s, err := New(forest(t, []string{"A"}), out, Options{Workers: 1})
	require.NoError(t, err)

	txs := make([]source.Transaction, 10)
	for i := range txs {
		txs[i] = tx(fmt.Sprintf("t%d", i), "A")
	}
	summary, err := s.Run(context.Background(), source.NewSlice(txs))
	require.NoError(t, err)
	assert.Equal(t, int64(10), summary.Total)
	assert.Equal(t, int64(3), summary.Processed)
	assert.Equal(t, int64(7), summary.Failed)
	assert.Equal(t, summary.Processed, summary.Matches)
	assert.Equal(t, 3, out.Buffered())
	require.Error(t, out.Close(context.Background()))
}

func TestProgressCountsSkippedTransactions(t *testing.T) {
	s, err := New(forest(t, []string{"A"}), sink.NewMemory(), Options{Workers: 1})
	require.NoError(t, err)

	_, err = s.Run(context.Background(), source.NewSlice([]source.Transaction{
		tx("t1", "A"),
		tx("t2"),
		tx("t3", "A"),
	}))
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.Progress().Completed())
	assert.Regexp(t, `\(3 of 3\)$`, s.Progress().Status())
}

func TestCanceledBeforeRun(t *testing.T) {
	out := sink.NewMemory()
	s, err := New(forest(t, []string{"A"}), out, Options{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := s.Run(ctx, source.NewSlice([]source.Transaction{tx("t1", "A")}))
	require.NoError(t, err)
	assert.True(t, summary.Canceled)
	assert.Zero(t, summary.Total)
	assert.Zero(t, out.Len())
}

// cancelingSource cancels the run after handing out limit transactions.
type cancelingSource struct {
	inner  *source.Slice
	limit  int
	served int
	cancel context.CancelFunc
}

func (c *cancelingSource) Next(ctx context.Context) (source.Transaction, error) {
	if c.served == c.limit {
		c.cancel()
	}
	c.served++
	return c.inner.Next(ctx)
}

func TestCancellationMidRunKeepsConsistentResults(t *testing.T) {
	sets, txs := randomWorkload(3)
	out := sink.NewMemory()
	s, err := New(forest(t, sets...), out, Options{AllowedMismatches: 1, Workers: 4})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	summary, err := s.Run(ctx, &cancelingSource{inner: source.NewSlice(txs), limit: 20, cancel: cancel})
	require.NoError(t, err)
	assert.True(t, summary.Canceled)
	assert.LessOrEqual(t, summary.Total, int64(20))
	assert.LessOrEqual(t, summary.Processed+summary.Skipped+summary.Failed, summary.Total)

	records := out.Records()
	assert.Equal(t, int64(len(records)), summary.Matches)
	for i, r := range records {
		assert.Equal(t, int64(i+1), r.RowID)
	}
}

type brokenSource struct{ calls int }

func (b *brokenSource) Next(context.Context) (source.Transaction, error) {
	b.calls++
	switch b.calls {
	case 1:
		return tx("t1", "A"), nil
	case 2:
		return source.Transaction{}, apperrors.Skippable("garbled")
	case 3:
		return source.Transaction{}, io.ErrUnexpectedEOF
	}
	return source.Transaction{}, io.EOF
}

func TestSourceErrors(t *testing.T) {
	out := sink.NewMemory()
	s, err := New(forest(t, []string{"A"}), out, Options{})
	require.NoError(t, err)

	summary, err := s.Run(context.Background(), &brokenSource{})
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, Summary{Total: 2, Processed: 1, Skipped: 1, Matches: 1}, summary)
	assert.Equal(t, 1, out.Len())
}

func TestMatchOne(t *testing.T) {
	s, err := New(forest(t, []string{"A", "B", "C"}, []string{"A"}), nil, Options{})
	require.NoError(t, err)

	records, err := s.MatchOne(context.Background(), tx("q", "A", "B"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"A"}, records[0].Items)

	loose, err := s.WithAllowed(1)
	require.NoError(t, err)
	records, err = loose.MatchOne(context.Background(), tx("q", "A", "B"))
	require.NoError(t, err)
	assert.Len(t, records, 2)

	_, err = s.MatchOne(context.Background(), tx("empty"))
	assert.True(t, apperrors.IsSkippable(err))

	_, err = s.WithAllowed(-2)
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
}
