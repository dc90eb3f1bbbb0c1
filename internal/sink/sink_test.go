package sink

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func batch(txID string, n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{TransactionID: txID, Items: []string{fmt.Sprintf("i%d", i)}}
	}
	return out
}

func TestMemoryRowIDsAreGapFreeUnderConcurrency(t *testing.T) {
	m := NewMemory()
	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, m.Append(context.Background(), batch(fmt.Sprintf("t%d-%d", w, i), 1+i%3)))
			}
		}(w)
	}
	wg.Wait()

	records := m.Records()
	ids := make([]int64, len(records))
	for i, r := range records {
		ids[i] = r.RowID
	}
	for i, id := range ids {
		assert.Equal(t, int64(i+1), id)
	}
	assert.True(t, slices.IsSorted(ids))
}

func TestMemoryBatchIsContiguous(t *testing.T) {
	m := NewMemory()
	recs := batch("a", 3)
	require.NoError(t, m.Append(context.Background(), recs))
	assert.Equal(t, []int64{1, 2, 3}, []int64{recs[0].RowID, recs[1].RowID, recs[2].RowID})
	assert.Equal(t, 3, m.Len())
}

func TestJSONLWritesOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONL(&buf)
	require.NoError(t, s.Append(context.Background(), []Record{
		{TransactionID: "t1", Items: []string{"A", "B"}, Mismatches: 1},
		{TransactionID: "t1", Source: []string{"A", "C"}, Items: []string{"A"}},
	}))
	require.NoError(t, s.Close(context.Background()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, Record{RowID: 1, TransactionID: "t1", Items: []string{"A", "B"}, Mismatches: 1}, first)
	assert.NotContains(t, lines[0], "source")
	assert.Contains(t, lines[1], `"source":["A","C"]`)
}

type fakeExecer struct {
	mu      sync.Mutex
	fail    int
	queries []string
	args    [][]any
}

func (f *fakeExecer) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return nil, errors.New("connection reset")
	}
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	return nil, nil
}

func TestPostgresInsertsBatchAsOneStatement(t *testing.T) {
	db := &fakeExecer{}
	s, err := NewPostgres(db, "match_results", "run-1")
	require.NoError(t, err)

	recs := []Record{
		{TransactionID: "t1", Items: []string{"A", "B"}},
		{TransactionID: "t1", Source: []string{"A", "B", "C"}, Items: []string{"C"}, Mismatches: 1},
	}
	require.NoError(t, s.Append(context.Background(), recs))
	require.Len(t, db.queries, 1)
	assert.True(t, strings.HasPrefix(db.queries[0], "INSERT INTO match_results (run_id, row_id, transaction_id, source, items, mismatches) VALUES ($1, $2, $3, $4, $5, $6), ($7, $8, $9, $10, $11, $12)"))

	args := db.args[0]
	require.Len(t, args, 12)
	assert.Equal(t, "run-1", args[0])
	assert.Equal(t, int64(1), args[1])
	assert.Nil(t, args[3])
	assert.JSONEq(t, `["A","B"]`, string(args[4].([]byte)))
	assert.Equal(t, int64(2), args[7])
	assert.JSONEq(t, `["A","B","C"]`, string(args[9].([]byte)))
	assert.Equal(t, 1, args[11])
}

func TestPostgresRetriesTransientFailures(t *testing.T) {
	db := &fakeExecer{fail: 1}
	s, err := NewPostgres(db, "match_results", "run-1")
	require.NoError(t, err)
	s.retry = resilience.RetryConfig{MaxAttempts: 2, InitialDelay: 1}

	recs := batch("t", 1)
	require.NoError(t, s.Append(context.Background(), recs))
	assert.Equal(t, int64(1), recs[0].RowID)
}

func TestPostgresFailedAppendDoesNotConsumeRowIDs(t *testing.T) {
	db := &fakeExecer{fail: 1}
	s, err := NewPostgres(db, "match_results", "run-1")
	require.NoError(t, err)
	s.retry = resilience.RetryConfig{MaxAttempts: 1}

	require.Error(t, s.Append(context.Background(), batch("t", 2)))
	recs := batch("u", 1)
	require.NoError(t, s.Append(context.Background(), recs))
	assert.Equal(t, int64(1), recs[0].RowID)
}

func TestPostgresRejectsUnsafeTableName(t *testing.T) {
	_, err := NewPostgres(&fakeExecer{}, "results; DROP TABLE x", "run")
	require.Error(t, err)
}

type fakeMigrator struct{ statements []string }

func (f *fakeMigrator) Migrate(_ context.Context, statements ...string) error {
	f.statements = append(f.statements, statements...)
	return nil
}

func TestEnsureSchema(t *testing.T) {
	m := &fakeMigrator{}
	require.NoError(t, EnsureSchema(context.Background(), m, "match_results"))
	require.Len(t, m.statements, 2)
	assert.Contains(t, m.statements[0], "CREATE TABLE IF NOT EXISTS match_results")
}

type fakePublisher struct {
	mu      sync.Mutex
	fail    bool
	batches [][]kafka.Event
}

func (f *fakePublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker unavailable")
	}
	f.batches = append(f.batches, slices.Clone(events))
	return nil
}

func TestKafkaFlushesOnBatchSizeAndClose(t *testing.T) {
	pub := &fakePublisher{}
	s := NewKafka(pub, nil, 3)

	require.NoError(t, s.Append(context.Background(), batch("t1", 2)))
	assert.Empty(t, pub.batches)
	require.NoError(t, s.Append(context.Background(), batch("t2", 2)))
	require.Len(t, pub.batches, 1)
	assert.Len(t, pub.batches[0], 4)
	assert.Equal(t, "t1", pub.batches[0][0].Key)

	require.NoError(t, s.Append(context.Background(), batch("t3", 1)))
	require.NoError(t, s.Close(context.Background()))
	require.Len(t, pub.batches, 2)
	last := pub.batches[1][0].Value.(Record)
	assert.Equal(t, int64(5), last.RowID)
}

func TestKafkaKeepsBatchAfterFailedFlush(t *testing.T) {
	pub := &fakePublisher{fail: true}
	s := NewKafka(pub, nil, 2)

	require.NoError(t, s.Append(context.Background(), batch("t1", 2)))
	assert.Equal(t, 2, s.Buffered())

	pub.fail = false
	require.NoError(t, s.Close(context.Background()))
	require.Len(t, pub.batches, 1)
	assert.Len(t, pub.batches[0], 2)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Postgres ")
	require.NoError(t, err)
	assert.Equal(t, KindPostgres, k)

	k, err = ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindJSONL, k)

	_, err = ParseKind("s3")
	require.Error(t, err)
}

func TestKafkaRejectsAppendsWhilePublishingFails(t *testing.T) {
	pub := &fakePublisher{fail: true}
	s := NewKafka(pub, nil, 1)

	for i := range 3 {
		recs := batch(fmt.Sprintf("t%d", i), 1)
		require.NoError(t, s.Append(context.Background(), recs))
		assert.Equal(t, int64(i+1), recs[0].RowID)
	}
	assert.Equal(t, 3, s.Buffered())

	rejected := batch("t3", 1)
	err := s.Append(context.Background(), rejected)
	require.ErrorIs(t, err, ErrBufferFull)
	assert.Zero(t, rejected[0].RowID)
	assert.Equal(t, 3, s.Buffered())

	pub.fail = false
	require.NoError(t, s.Close(context.Background()))
	require.Len(t, pub.batches, 1)
	ids := make([]int64, 0, 3)
	for _, e := range pub.batches[0] {
		ids = append(ids, e.Value.(Record).RowID)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)

	next := batch("t4", 1)
	require.NoError(t, s.Append(context.Background(), next))
	assert.Equal(t, int64(4), next[0].RowID)
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestJSONLFailedWriteConsumesNoRowIDs(t *testing.T) {
	s := NewJSONL(brokenWriter{})
	// Larger than the write buffer, so the failure surfaces inside Append.
	big := make([]Record, 2000)
	for i := range big {
		big[i] = Record{TransactionID: "t", Items: []string{strings.Repeat("x", 64)}}
	}
	require.Error(t, s.Append(context.Background(), big))
	assert.Zero(t, s.seq.last)
}

func TestJSONLBatchIsWrittenWhole(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONL(&buf)
	require.NoError(t, s.Append(context.Background(), batch("a", 2)))
	require.NoError(t, s.Append(context.Background(), batch("b", 3)))
	require.NoError(t, s.Close(context.Background()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	for i, line := range lines {
		var r Record
		require.NoError(t, json.Unmarshal([]byte(line), &r))
		assert.Equal(t, int64(i+1), r.RowID)
	}
}
